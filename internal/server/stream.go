package server

import (
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mailflow/mailflow/internal/relay"
	"github.com/mailflow/mailflow/internal/storage"
)

const (
	// Time allowed to read the next pong message from the peer.
	pongWait = 90 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// StreamHandler pushes live campaign logs to WebSocket clients. It is a
// supplement to polling: the relay works without it, connected clients just
// see lines without the poll delay.
type StreamHandler struct {
	store *relay.Store
	log   *slog.Logger

	// campaign id -> set of connections
	mu          sync.RWMutex
	subscribers map[string]map[*websocket.Conn]bool
}

// NewStreamHandler creates a stream handler over the shared session store.
func NewStreamHandler(store *relay.Store, log *slog.Logger) *StreamHandler {
	if log == nil {
		log = slog.Default()
	}
	return &StreamHandler{
		store:       store,
		log:         log,
		subscribers: make(map[string]map[*websocket.Conn]bool),
	}
}

// ServeHTTP handles WebSocket requests on /ws/logs/{campaign_id}.
func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/ws/logs/")
	campaignID := strings.TrimSuffix(path, "/")

	if !storage.ValidID(campaignID) {
		http.Error(w, "invalid campaign id", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error("websocket upgrade failed", "error", err)
		return
	}

	h.log.Debug("log stream client connected", "campaign_id", campaignID)

	// Send whatever the session already holds.
	if snap, ok := h.store.Get(campaignID); ok {
		for _, line := range snap.Lines {
			if err := conn.WriteJSON(logMessage{Type: "log", Line: line}); err != nil {
				conn.Close()
				return
			}
		}
		if snap.Complete {
			h.sendComplete(conn, campaignID, snap.Message)
			conn.Close()
			return
		}
	}

	h.subscribe(campaignID, conn)

	// Read pump, just for close detection.
	go h.readPump(conn, campaignID)
}

func (h *StreamHandler) sendComplete(conn *websocket.Conn, campaignID, message string) {
	if err := conn.WriteJSON(completeMessage{Type: "complete", Message: message}); err != nil {
		h.log.Warn("failed to send completion", "campaign_id", campaignID, "error", err)
	}
}

func (h *StreamHandler) subscribe(campaignID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.subscribers[campaignID] == nil {
		h.subscribers[campaignID] = make(map[*websocket.Conn]bool)
	}
	h.subscribers[campaignID][conn] = true
}

func (h *StreamHandler) unsubscribe(campaignID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if subs, ok := h.subscribers[campaignID]; ok {
		delete(subs, conn)
		if len(subs) == 0 {
			delete(h.subscribers, campaignID)
		}
	}
}

func (h *StreamHandler) readPump(conn *websocket.Conn, campaignID string) {
	defer func() {
		h.unsubscribe(campaignID, conn)
		conn.Close()
		h.log.Debug("log stream client disconnected", "campaign_id", campaignID)
	}()

	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, _, err := conn.ReadMessage()
		if err != nil {
			return
		}
	}
}

// BroadcastLines sends newly ingested lines to all subscribers for a
// campaign. Called by the relay handler after each batch is applied.
func (h *StreamHandler) BroadcastLines(campaignID string, lines []string) {
	if len(lines) == 0 {
		return
	}

	h.mu.RLock()
	subs := h.subscribers[campaignID]
	h.mu.RUnlock()

	if len(subs) == 0 {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for conn := range subs {
		for _, line := range lines {
			if err := conn.WriteJSON(logMessage{Type: "log", Line: line}); err != nil {
				h.log.Warn("failed to broadcast log", "campaign_id", campaignID, "error", err)
				break
			}
		}
	}
}

// BroadcastComplete sends the completion signal to all subscribers and
// closes their connections. The session is finished from their view.
func (h *StreamHandler) BroadcastComplete(campaignID, message string) {
	h.mu.RLock()
	subs := h.subscribers[campaignID]
	if len(subs) == 0 {
		h.mu.RUnlock()
		return
	}
	// Copy the connections to avoid holding the lock during I/O.
	conns := make([]*websocket.Conn, 0, len(subs))
	for conn := range subs {
		conns = append(conns, conn)
	}
	h.mu.RUnlock()

	for _, conn := range conns {
		h.sendComplete(conn, campaignID, message)
		conn.Close()
	}

	h.mu.Lock()
	delete(h.subscribers, campaignID)
	h.mu.Unlock()
}

// Message types for the log stream.

type logMessage struct {
	Type string `json:"type"`
	Line string `json:"line"`
}

type completeMessage struct {
	Type    string `json:"type"`
	Message string `json:"message,omitempty"`
}
