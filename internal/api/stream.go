package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// StatsStream pushes a stats snapshot over a WebSocket at a fixed interval.
type StatsStream struct {
	stats    StatsSource
	interval time.Duration
	origins  []string
	log      *slog.Logger
}

// NewStatsStream creates a stream handler.
func NewStatsStream(stats StatsSource, interval time.Duration, origins []string, log *slog.Logger) *StatsStream {
	if log == nil {
		log = slog.Default()
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return &StatsStream{stats: stats, interval: interval, origins: origins, log: log}
}

// ServeHTTP implements http.Handler for the WebSocket upgrade.
func (s *StatsStream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.origins,
	})
	if err != nil {
		s.log.Error("Failed to accept WebSocket", "error", err, "ip", r.RemoteAddr)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "stream ended"); closeErr != nil {
			s.log.Debug("Failed to close websocket", "error", closeErr)
		}
	}()
	s.log.Info("Stats stream opened", "ip", r.RemoteAddr)

	// Client messages are ignored; CloseRead cancels ctx when the peer goes away.
	ctx := ws.CloseRead(r.Context())

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		if err := s.push(ctx, ws); err != nil {
			if !errors.Is(err, context.Canceled) && websocket.CloseStatus(err) == -1 {
				s.log.Warn("Stats stream write failed", "error", err)
			}
			return
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			s.log.Info("Stats stream closed", "ip", r.RemoteAddr)
			return
		}
	}
}

func (s *StatsStream) push(ctx context.Context, ws *websocket.Conn) error {
	writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return wsjson.Write(writeCtx, ws, s.stats.Snapshot())
}
