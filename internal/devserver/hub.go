package devserver

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jmcleod/ironkeep/realtime"
)

const writeTimeout = 5 * time.Second

// hub fans notifications out to each account's WebSocket connections.
type hub struct {
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns map[string]map[*hubConn]struct{}
}

type hubConn struct {
	mu sync.Mutex
	ws *websocket.Conn
}

func (c *hubConn) write(msg []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.ws.WriteMessage(websocket.TextMessage, msg)
}

func newHub(logger *slog.Logger) *hub {
	return &hub{logger: logger, conns: make(map[string]map[*hubConn]struct{})}
}

func (h *hub) serve(w http.ResponseWriter, r *http.Request) {
	uid := userIDFromContext(r.Context())
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", slog.Any("error", err))
		return
	}
	c := &hubConn{ws: ws}
	h.add(uid, c)
	defer func() {
		h.remove(uid, c)
		ws.Close()
	}()

	// Clients never send anything; reading detects the close.
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *hub) add(uid string, c *hubConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.conns[uid] == nil {
		h.conns[uid] = make(map[*hubConn]struct{})
	}
	h.conns[uid][c] = struct{}{}
}

func (h *hub) remove(uid string, c *hubConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.conns[uid], c)
	if len(h.conns[uid]) == 0 {
		delete(h.conns, uid)
	}
}

func (h *hub) connections(uid string) []*hubConn {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*hubConn, 0, len(h.conns[uid]))
	for c := range h.conns[uid] {
		out = append(out, c)
	}
	return out
}

func (h *hub) broadcast(uid string, n realtime.Notification) {
	msg, err := json.Marshal(n)
	if err != nil {
		h.logger.Warn("encoding notification", slog.Any("error", err))
		return
	}
	for _, c := range h.connections(uid) {
		if err := c.write(msg); err != nil {
			h.logger.Debug("push write failed", slog.String("user_id", uid), slog.Any("error", err))
			c.ws.Close()
		}
	}
}

// Connections reports how many push channels the account has open.
func (s *Server) Connections(userID string) int {
	return len(s.hub.connections(userID))
}
