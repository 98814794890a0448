package bridge

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

const writeTimeout = 5 * time.Second

// handleProgressStream pushes every published marker over a websocket.
// The current marker is sent first so a client that connects mid-run
// starts from the right stage.
func (s *Server) handleProgressStream(w http.ResponseWriter, r *http.Request) {
	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.originHosts})
	if err != nil {
		slog.Warn("websocket accept failed", slog.Any("error", err))
		return
	}
	defer c.CloseNow()

	ctx := c.CloseRead(r.Context())
	markers, unsubscribe := s.deps.Broker.Subscribe()
	defer unsubscribe()

	m, fresh, err := s.deps.Progress.Progress(ctx)
	if err != nil {
		slog.Warn("reading progress", slog.Any("error", err))
	}
	if err := send(ctx, c, progressResponse(m, fresh)); err != nil {
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-markers:
			if !ok {
				return
			}
			if err := send(ctx, c, progressResponse(m, true)); err != nil {
				slog.Debug("progress stream closed", slog.Any("error", err))
				return
			}
		}
	}
}

func send(ctx context.Context, c *websocket.Conn, v any) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, c, v)
}
