package recycle

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	wsReadLimit    = 20 * 1024 * 1024
	wsWriteTimeout = 10 * time.Second
)

// wsMessage is every message the server sends on /ws
type wsMessage struct {
	Type   string           `json:"type"`
	Result *captureResponse `json:"result,omitempty"`
	Error  string           `json:"error,omitempty"`
	Status int              `json:"status,omitempty"`
}

// wsConn serializes writes from concurrent cycles
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *wsConn) send(msg wsMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return c.conn.WriteJSON(msg)
}

// handleWebSocket accepts frames over a socket. Binary messages are raw image
// bytes; text messages are a detect request body. A frame that arrives while
// the session is busy is dropped.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ctrl := s.session(w, r)

	// the session cookie, if new, goes out with the handshake response
	conn, err := s.upgrader.Upgrade(w, r, w.Header())
	if err != nil {
		// Upgrade has already written an error response
		slog.Warn("WebSocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()
	conn.SetReadLimit(wsReadLimit)

	out := &wsConn{conn: conn}
	var inflight sync.WaitGroup
	defer inflight.Wait()

	for {
		mt, msg, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Debug("WebSocket closed", "error", err)
			}
			return
		}

		var frame Frame
		switch mt {
		case websocket.BinaryMessage:
			frame = Frame{Data: msg}
		case websocket.TextMessage:
			var req detectRequest
			if err := json.Unmarshal(msg, &req); err != nil || s.validate.Struct(req) != nil {
				out.send(wsMessage{Type: "error", Error: "Invalid request. Expected {image: base64string}", Status: http.StatusBadRequest})
				continue
			}
			frame = Frame{Base64: req.Image, DisplayWidth: req.DisplayWidth, DisplayHeight: req.DisplayHeight}
		default:
			continue
		}

		inflight.Add(1)
		go func(frame Frame) {
			defer inflight.Done()

			capture, err := s.service.Analyze(r.Context(), ctrl, frame)
			if errors.Is(err, ErrBusy) {
				slog.Debug("Dropping frame while a capture is in progress")
				return
			}

			var msg wsMessage
			if err != nil {
				code, message := detectStatus(err)
				msg = wsMessage{Type: "error", Error: message, Status: code}
			} else {
				resp := newCaptureResponse(capture)
				msg = wsMessage{Type: "result", Result: &resp}
			}
			if err := out.send(msg); err != nil {
				slog.Debug("Error writing to WebSocket", "error", err)
			}
		}(frame)
	}
}
