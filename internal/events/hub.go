package events

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/gkstrmtm/Home2smart-backend-sub002/internal/models"
)

var ErrHubClosed = errors.New("events: hub closed")

const writeWait = 5 * time.Second

type wsConn struct {
	conn  *websocket.Conn
	mu    sync.Mutex
	admin bool
}

func (c *wsConn) send(e Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(e)
}

// Hub keeps the live WebSocket connections. Technicians receive events
// about themselves; administrators receive everything.
type Hub struct {
	upgrader websocket.Upgrader
	logger   *slog.Logger

	mu     sync.RWMutex
	conns  map[string]map[*wsConn]struct{}
	closed bool
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		logger: logger,
		conns:  make(map[string]map[*wsConn]struct{}),
	}
}

// Serve upgrades the request and holds the connection until the client
// goes away. Incoming messages are discarded.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, id models.Identity) error {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	c := &wsConn{conn: conn, admin: id.IsAdmin()}
	if err := h.add(id.SubjectID, c); err != nil {
		_ = conn.Close()
		return err
	}
	defer h.remove(id.SubjectID, c)

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return nil
		}
	}
}

func (h *Hub) add(subject string, c *wsConn) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrHubClosed
	}
	set, ok := h.conns[subject]
	if !ok {
		set = make(map[*wsConn]struct{})
		h.conns[subject] = set
	}
	set[c] = struct{}{}
	return nil
}

func (h *Hub) remove(subject string, c *wsConn) {
	h.mu.Lock()
	if set, ok := h.conns[subject]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.conns, subject)
		}
	}
	h.mu.Unlock()
	_ = c.conn.Close()
}

// Publish delivers e to the technician it concerns and to every admin.
// Connections that fail a write are dropped.
func (h *Hub) Publish(_ context.Context, e Event) error {
	type target struct {
		subject string
		c       *wsConn
	}
	var targets []target
	h.mu.RLock()
	for subject, set := range h.conns {
		for c := range set {
			if c.admin || (e.TechnicianID != "" && subject == e.TechnicianID) {
				targets = append(targets, target{subject, c})
			}
		}
	}
	h.mu.RUnlock()

	for _, t := range targets {
		if err := t.c.send(e); err != nil {
			h.logger.Warn("ws send failed", "subject_id", t.subject, "error", err)
			h.remove(t.subject, t.c)
		}
	}
	return nil
}

// Connections reports how many sockets subject holds open.
func (h *Hub) Connections(subject string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns[subject])
}

// Close disconnects every client and refuses new ones.
func (h *Hub) Close() error {
	h.mu.Lock()
	h.closed = true
	var all []*wsConn
	for _, set := range h.conns {
		for c := range set {
			all = append(all, c)
		}
	}
	h.mu.Unlock()
	for _, c := range all {
		_ = c.conn.Close()
	}
	return nil
}
