package api

import (
	"bytes"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/yuin/goldmark"

	"github.com/nugget/neoc/internal/events"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
	wsMaxMessage = 64 * 1024
	wsBufferSize = 64
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     sameOrigin,
}

// sameOrigin accepts requests with no Origin header (non-browser
// clients) or whose Origin host matches the Host the request was sent
// to. Browser pages served elsewhere cannot drive the loop.
func sameOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Host, r.Host)
}

// wsEvent is the wire form of an output event. Responses also carry
// their content rendered from markdown to HTML.
type wsEvent struct {
	events.Event
	HTML string `json:"html,omitempty"`
}

// renderHTML converts markdown to an HTML fragment. On failure the
// fragment is empty and clients fall back to the plain content.
func renderHTML(md string) string {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(md), &buf); err != nil {
		return ""
	}
	return buf.String()
}

func toWire(e events.Event) wsEvent {
	w := wsEvent{Event: e}
	if e.Type == events.TypeResponse {
		w.HTML = renderHTML(e.Content)
	}
	return w
}

// handleWebSocket upgrades the connection, forwards every text frame
// to the loop's input queue, and streams bus events back as JSON.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	logger := s.logger.With("remote", r.RemoteAddr)
	logger.Info("websocket client connected")

	sub := s.deps.Bus.Subscribe(wsBufferSize)
	done := make(chan struct{})

	go s.wsWriter(conn, sub, done)

	conn.SetReadLimit(wsMaxMessage)
	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Warn("websocket read error", "error", err)
			}
			break
		}
		if msgType != websocket.TextMessage {
			continue
		}
		s.deps.Input.Push(string(data))
	}

	s.deps.Bus.Unsubscribe(sub)
	<-done
	conn.Close()
	logger.Info("websocket client disconnected")
}

// wsWriter owns all writes to conn. It exits when sub is closed or a
// write fails.
func (s *Server) wsWriter(conn *websocket.Conn, sub <-chan events.Event, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case e, ok := <-sub:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := conn.WriteJSON(toWire(e)); err != nil {
				s.logger.Debug("websocket write failed", "error", err)
				conn.Close()
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				conn.Close()
				return
			}
		}
	}
}
