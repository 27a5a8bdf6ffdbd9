package api

import (
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"stockalert/internal/models"
)

// TriggerEvent is pushed to stream subscribers when an alert fires.
type TriggerEvent struct {
	Alert       models.Alert `json:"alert"`
	Name        string       `json:"name,omitempty"`
	Value       float64      `json:"value"`
	TriggeredAt time.Time    `json:"triggered_at"`
}

// Hub fans trigger events out to stream subscribers. A subscriber that
// falls behind loses events rather than blocking the monitor.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[string]chan TriggerEvent
	closed      bool

	published atomic.Uint64
	dropped   atomic.Uint64
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subscribers: make(map[string]chan TriggerEvent)}
}

// Subscribe registers a subscriber with the given buffer. The returned
// function unsubscribes; it is safe to call more than once.
func (h *Hub) Subscribe(buffer int) (<-chan TriggerEvent, func()) {
	ch := make(chan TriggerEvent, buffer)
	id := uuid.NewString()

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	h.subscribers[id] = ch
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if c, ok := h.subscribers[id]; ok {
				delete(h.subscribers, id)
				close(c)
			}
		})
	}
}

// Publish delivers ev to every subscriber without blocking.
func (h *Hub) Publish(ev TriggerEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	h.published.Add(1)
	for _, ch := range h.subscribers {
		select {
		case ch <- ev:
		default:
			h.dropped.Add(1)
		}
	}
}

// Len returns the number of subscribers.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// Close ends every subscription. Later subscribers get a closed channel.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, ch := range h.subscribers {
		delete(h.subscribers, id)
		close(ch)
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The control API binds to loopback by default.
	CheckOrigin: func(r *http.Request) bool { return true },
}

const streamWriteTimeout = 10 * time.Second

// PublishTrigger pushes a fired alert to stream subscribers. Its signature
// matches monitor.SetOnTrigger.
func (s *Server) PublishTrigger(alert models.Alert, obs models.Observation) {
	s.hub.Publish(TriggerEvent{
		Alert:       alert,
		Name:        obs.Name,
		Value:       obs.Value,
		TriggeredAt: time.Now(),
	})
}

func (s *Server) stream(c *gin.Context) {
	// Subscribe before the handshake completes so no event published after
	// the client connects is missed.
	events, unsubscribe := s.hub.Subscribe(64)
	defer unsubscribe()

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Stream upgrade failed")
		return
	}
	defer conn.Close()

	// The read loop only notices the client going away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-gone:
			return
		case ev, ok := <-events:
			if !ok {
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
					time.Now().Add(time.Second))
				return
			}
			conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
			if err := conn.WriteJSON(ev); err != nil {
				s.logger.Debug().Err(err).Msg("Stream write failed")
				return
			}
		}
	}
}
