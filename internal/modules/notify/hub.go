package notify

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/aquilalabs/watchdeck/internal/domain"
)

const writeWait = 10 * time.Second

// Hub pushes notifications to connected websocket clients. A user may hold
// several connections (multiple tabs); Send fans out to all of them. Users
// without a connection simply miss the push and read the notification from
// the API later.
type Hub struct {
	mu    sync.RWMutex
	conns map[string]map[*websocket.Conn]struct{}
	log   zerolog.Logger
}

// NewHub creates an empty hub.
func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		conns: make(map[string]map[*websocket.Conn]struct{}),
		log:   log.With().Str("component", "notification_hub").Logger(),
	}
}

// HandleSubscribe upgrades the request to a websocket and keeps it
// registered until the client disconnects.
// GET /api/notifications/stream?userId=...
func (h *Hub) HandleSubscribe(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		http.Error(w, "userId is required", http.StatusBadRequest)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // CORS is enforced by the router middleware
	})
	if err != nil {
		h.log.Warn().Err(err).Msg("Websocket upgrade failed")
		return
	}

	h.register(userID, conn)
	defer h.unregister(userID, conn)

	h.log.Info().Str("user_id", userID).Msg("Notification stream connected")

	// Block reading until the client goes away. Clients do not send
	// messages; the read loop only detects disconnects.
	ctx := r.Context()
	for {
		if _, _, err := conn.Read(ctx); err != nil {
			break
		}
	}

	conn.Close(websocket.StatusNormalClosure, "")
	h.log.Info().Str("user_id", userID).Msg("Notification stream disconnected")
}

// Send implements Transport. It delivers to every live connection of the
// notification's user.
func (h *Hub) Send(ctx context.Context, n *domain.Notification) error {
	h.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.conns[n.UserID]))
	for conn := range h.conns[n.UserID] {
		conns = append(conns, conn)
	}
	h.mu.RUnlock()

	for _, conn := range conns {
		writeCtx, cancel := context.WithTimeout(ctx, writeWait)
		err := wsjson.Write(writeCtx, conn, n)
		cancel()
		if err != nil {
			h.log.Warn().Err(err).
				Str("user_id", n.UserID).
				Msg("Websocket write failed, dropping connection")
			h.unregister(n.UserID, conn)
			conn.Close(websocket.StatusInternalError, "write failed")
		}
	}

	return nil
}

// ConnectionCount returns the total number of live connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	total := 0
	for _, conns := range h.conns {
		total += len(conns)
	}
	return total
}

func (h *Hub) register(userID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.conns[userID] == nil {
		h.conns[userID] = make(map[*websocket.Conn]struct{})
	}
	h.conns[userID][conn] = struct{}{}
}

func (h *Hub) unregister(userID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.conns[userID], conn)
	if len(h.conns[userID]) == 0 {
		delete(h.conns, userID)
	}
}
