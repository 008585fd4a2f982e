package api

import (
	"context"
	"log/slog"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/gin-gonic/gin"

	"shadow_exchange/internal/domain"
)

const wsWriteTimeout = 5 * time.Second

// PriceMessage is one frame of the price websocket.
// The first frames of a connection carry the cached samples as "snapshot".
type PriceMessage struct {
	Type   string             `json:"type"` // "snapshot" or "price"
	Sample domain.PriceSample `json:"sample"`
}

// streamPrices pushes live samples to the client, optionally filtered by
// ?symbols=BTC,ETH. The client only needs to read.
func (s *Server) streamPrices(c *gin.Context) {
	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		OriginPatterns: s.deps.AllowedOrigins,
	})
	if err != nil {
		s.logger.Debug("WS accept failed", slog.Any("error", err))
		return
	}
	defer conn.CloseNow()

	filter := parseSymbols(c.Query("symbols"))

	// Subscribe before the snapshot so nothing between them is lost.
	samples, unwatch := s.deps.Cache.Watch(256)
	defer unwatch()

	// CloseRead discards client frames and cancels ctx when the peer leaves.
	ctx := conn.CloseRead(c.Request.Context())

	for _, smp := range s.deps.Cache.Samples() {
		if !filter.match(smp.Symbol) {
			continue
		}
		if err := writeFrame(ctx, conn, PriceMessage{Type: "snapshot", Sample: smp}); err != nil {
			return
		}
	}

	s.logger.Debug("WS client attached", slog.Int("symbols", len(filter)))
	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case smp, ok := <-samples:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "shutting down")
				return
			}
			if !filter.match(smp.Symbol) {
				continue
			}
			if err := writeFrame(ctx, conn, PriceMessage{Type: "price", Sample: smp}); err != nil {
				s.logger.Debug("WS client detached", slog.Any("error", err))
				return
			}
		}
	}
}

func writeFrame(ctx context.Context, conn *websocket.Conn, msg PriceMessage) error {
	ctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, msg)
}
