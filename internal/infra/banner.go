package infra

import (
	"fmt"
	"io"
	"strings"
)

// ANSI Color Codes
const (
	ColorReset  = "\033[0m"
	ColorRed    = "\033[31m"
	ColorGreen  = "\033[32m"
	ColorYellow = "\033[33m"
	ColorCyan   = "\033[36m"
)

// PrintBanner displays the startup banner.
func PrintBanner(w io.Writer, cfg *Config) {
	mode := strings.ToUpper(cfg.App.Mode)

	color := ColorCyan
	modeDesc := "SIMULATED BALANCES"
	if mode == "DEMO" {
		color = ColorYellow
		modeDesc = "DEMO (SEEDED WALLETS)"
	}

	mirror := "off"
	if cfg.Redis.Addr != "" {
		mirror = cfg.Redis.Addr
	}

	line := func(label, value string) {
		fmt.Fprintf(w, "%s#   %-8s %-38s #%s\n", color, label, truncate(value, 38), ColorReset)
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "%s###########################################################%s\n", color, ColorReset)
	fmt.Fprintf(w, "%s#                                                         #%s\n", color, ColorReset)
	fmt.Fprintf(w, "%s#                 🌑 Shadow Exchange                      #%s\n", color, ColorReset)
	fmt.Fprintf(w, "%s#                                                         #%s\n", color, ColorReset)
	line("MODE:", mode)
	line("TYPE:", modeDesc)
	line("VERSION:", cfg.App.Version)
	line("DB:", cfg.Database.Driver)
	line("MIRROR:", mirror)
	line("HTTP:", cfg.HTTP.Addr)
	fmt.Fprintf(w, "%s#                                                         #%s\n", color, ColorReset)
	fmt.Fprintf(w, "%s###########################################################%s\n", color, ColorReset)
	fmt.Fprintln(w)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}
