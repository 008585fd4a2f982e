// Command pricetest tails live prices in the terminal.
//
// Without flags it opens its own Binance stream. With -redis it follows the
// price mirror of a running exchange instead.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"shadow_exchange/internal/domain"
	"shadow_exchange/internal/engine"
	"shadow_exchange/internal/infra"
	"shadow_exchange/internal/infra/binance"
	"shadow_exchange/internal/infra/pricebus"
	"shadow_exchange/pkg/format"
)

func main() {
	symbols := flag.String("symbols", "BTC,ETH,SOL", "comma separated tickers")
	redisAddr := flag.String("redis", "", "follow the price mirror at this address instead of Binance")
	level := flag.String("log", "warn", "log level")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: infra.ParseLevel(*level)})))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	list := binance.FilterSymbols(strings.Split(*symbols, ","))
	if len(list) == 0 {
		fmt.Println("no streamable symbols")
		os.Exit(1)
	}

	fmt.Println("=== Shadow Exchange Live Prices ===")
	fmt.Println()

	var err error
	if *redisAddr != "" {
		err = followMirror(ctx, *redisAddr, list)
	} else {
		err = followStream(ctx, list)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "❌", err)
		os.Exit(1)
	}
}

// followStream opens a Binance stream and redraws the cells every tick.
func followStream(ctx context.Context, symbols []string) error {
	cache, writer := engine.NewPriceCache()
	stream := binance.NewStreamManager(writer, binance.Options{})
	stream.OnStateChange(func(s infra.ConnState) {
		fmt.Printf("  [stream %s]\n", s)
	})
	stream.Start(ctx)
	if err := stream.Subscribe(symbols); err != nil {
		return err
	}
	defer stream.Close()

	cells := make([]*engine.FlashCell, len(symbols))
	for i, sym := range symbols {
		cells[i] = engine.NewFlashCell(cache, sym, 0, 0)
		defer cells[i].Stop()
	}

	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			for _, c := range cells {
				printCell(c.View())
			}
			fmt.Println()
		}
	}
}

// followMirror prints every sample published by a running exchange.
func followMirror(ctx context.Context, addr string, symbols []string) error {
	mirror, err := pricebus.Dial(ctx, addr, os.Getenv("SHADOW_REDIS_PASSWORD"), 0, pricebus.DefaultTTL)
	if err != nil {
		return err
	}
	defer mirror.Close()

	latest, err := mirror.Snapshot(ctx, symbols)
	if err != nil {
		return err
	}
	for _, sym := range symbols {
		if s, ok := latest[sym]; ok {
			printSample(s)
		}
	}

	samples, unsubscribe, err := mirror.Follow(ctx, symbols...)
	if err != nil {
		return err
	}
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return nil
		case s, ok := <-samples:
			if !ok {
				return nil
			}
			printSample(s)
		}
	}
}

func printCell(v engine.CellView) {
	if !v.Live && v.Price == 0 {
		fmt.Printf("  %-6s %16s\n", v.Symbol, "waiting...")
		return
	}
	fmt.Printf("  %-6s %16s %9s %s\n", v.Symbol, format.Price(v.Price), format.Percentage(v.Change24h), arrow(v.Flash))
}

func printSample(s domain.PriceSample) {
	fmt.Printf("  %-6s %16s %9s %s  %s\n", s.Symbol, format.Price(s.Price),
		format.Percentage(s.PriceChange24h), arrow(s.Direction), format.TimeAgo(s.LastUpdate, time.Now()))
}

func arrow(d domain.Direction) string {
	switch d {
	case domain.DirectionUp:
		return infra.ColorGreen + "▲" + infra.ColorReset
	case domain.DirectionDown:
		return infra.ColorRed + "▼" + infra.ColorReset
	default:
		return " "
	}
}
