package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/cesmii/i3x/types"
)

const wsWriteWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The routing layer in front of the gateway owns origin policy.
	CheckOrigin: func(*http.Request) bool { return true },
}

func (s *Server) streamLimiter() *rate.Limiter {
	if s.config.StreamEventsPerSecond <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	burst := s.config.StreamBurst
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(s.config.StreamEventsPerSecond), burst)
}

// handleStreamSSE attaches a stream to the subscription and forwards events
// as server-sent events until the client disconnects. Disconnecting leaves
// the subscription alive; events keep accumulating in its queue.
func (s *Server) handleStreamSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	ctx := r.Context()
	events, detach, err := s.facade.AttachStream(ctx, r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	defer detach()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	limiter := s.streamLimiter()
	for {
		select {
		case <-ctx.Done():
			return
		case event, open := <-events:
			if !open {
				return
			}
			if err := limiter.Wait(ctx); err != nil {
				return
			}
			data, err := json.Marshal(event)
			if err != nil {
				s.logger.Error("failed to encode stream event", "error", err)
				continue
			}
			if _, err := fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n",
				event.Seq, event.Type, data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// handleStreamWebsocket upgrades the connection and forwards events as JSON
// text messages. Like SSE, a closed connection detaches the stream but does
// not delete the subscription.
func (s *Server) handleStreamWebsocket(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	events, detach, err := s.facade.AttachStream(ctx, r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		detach()
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()
	defer detach()

	// Drain client frames so close handshakes and pings are processed.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	limiter := s.streamLimiter()
	for {
		select {
		case <-ctx.Done():
			return
		case event, open := <-events:
			if !open {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(wsWriteWait))
				return
			}
			if err := limiter.Wait(ctx); err != nil {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := s.writeEventFrame(conn, event); err != nil {
				return
			}
		}
	}
}

func (s *Server) writeEventFrame(conn *websocket.Conn, event types.ChangeEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		s.logger.Error("failed to encode stream event", "error", err)
		return nil
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}
