package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const writeWait = 5 * time.Second

// WSSession represents a connected admin dashboard.
type WSSession struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *WSSession) Send(n Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteJSON(n)
}

// WSRegistry holds admin dashboard sessions and broadcasts assignment events
// to all of them.
type WSRegistry struct {
	mu       sync.RWMutex
	sessions map[string]*WSSession
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

func NewWSRegistry(logger *slog.Logger) *WSRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	return &WSRegistry{sessions: make(map[string]*WSSession), logger: logger}
}

func (r *WSRegistry) Add(conn *websocket.Conn) string {
	id := uuid.NewString()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[id] = &WSSession{conn: conn}
	return id
}

func (r *WSRegistry) Remove(id string) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()
	if ok {
		_ = s.conn.Close()
	}
}

func (r *WSRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Notify broadcasts n. Sessions that fail to receive are dropped.
func (r *WSRegistry) Notify(_ context.Context, n Notification) error {
	r.mu.RLock()
	targets := make(map[string]*WSSession, len(r.sessions))
	for id, s := range r.sessions {
		targets[id] = s
	}
	r.mu.RUnlock()

	var errs []error
	for id, s := range targets {
		if err := s.Send(n); err != nil {
			r.logger.Warn("ws send error", "session", id, "error", err)
			r.Remove(id)
			errs = append(errs, err)
		}
	}
	err := errors.Join(errs...)
	Record("ws", n, err)
	return err
}

// ServeHTTP upgrades the request and keeps the session until the client
// goes away. Inbound frames are ignored.
func (r *WSRegistry) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		return
	}
	id := r.Add(conn)
	r.logger.Info("admin dashboard connected", "session", id)
	defer r.Remove(id)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
