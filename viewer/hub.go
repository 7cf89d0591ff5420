package viewer

import (
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	// The viewer binds to localhost and pushes only reload beacons;
	// cross-origin reads of those are harmless.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// hub tracks connected viewer sockets and fans notifications out to them.
type hub struct {
	logger *slog.Logger

	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
}

func newHub(logger *slog.Logger) *hub {
	return &hub{logger: logger, clients: make(map[*websocket.Conn]struct{})}
}

func (h *hub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// handle upgrades the connection and parks it until the client goes away.
// Inbound frames are drained and ignored; the socket is push-only.
func (h *hub) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("viewer: websocket upgrade failed", "error", err)
		return
	}

	h.mu.Lock()
	h.clients[conn] = struct{}{}
	h.mu.Unlock()
	h.logger.Debug("viewer: client connected", "clients", h.count())

	defer func() {
		h.mu.Lock()
		delete(h.clients, conn)
		h.mu.Unlock()
		conn.Close()
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("viewer: client read error", "error", err)
			}
			return
		}
	}
}

// broadcast pushes one typed message to every client. Write failures drop
// the client; its read loop cleans up.
func (h *hub) broadcast(msgType string) {
	payload := []byte(`{"type":"` + msgType + `"}`)

	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			h.logger.Debug("viewer: push failed", "error", err)
			conn.Close()
			delete(h.clients, conn)
		}
	}
}
