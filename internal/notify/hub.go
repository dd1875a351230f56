package notify

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/R3E-Network/confidential_tasks/internal/app/domain/task"
	"github.com/R3E-Network/confidential_tasks/internal/logging"
)

const (
	subscriberBuffer = 32
	writeWait        = 10 * time.Second
)

// AllTasks subscribes to events of every task.
const AllTasks = ""

// Hub fans progress events out to in-process subscribers and websocket clients.
// Slow subscribers drop events rather than stall the pipeline.
type Hub struct {
	mu       sync.RWMutex
	subs     map[string]map[chan task.Progress]struct{}
	upgrader websocket.Upgrader
	log      *logging.Logger
}

// NewHub creates an empty hub.
func NewHub(log *logging.Logger) *Hub {
	if log == nil {
		log = logging.NewDiscard()
	}
	return &Hub{
		subs: make(map[string]map[chan task.Progress]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		log: log,
	}
}

// Subscribe registers for events of taskID, or of every task with AllTasks.
// The returned func unsubscribes and closes the channel.
func (h *Hub) Subscribe(taskID string) (<-chan task.Progress, func()) {
	ch := make(chan task.Progress, subscriberBuffer)

	h.mu.Lock()
	if h.subs[taskID] == nil {
		h.subs[taskID] = make(map[chan task.Progress]struct{})
	}
	h.subs[taskID][ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs[taskID], ch)
			if len(h.subs[taskID]) == 0 {
				delete(h.subs, taskID)
			}
			h.mu.Unlock()
			close(ch)
		})
	}
}

// Subscribers returns the number of subscribers of taskID.
func (h *Hub) Subscribers(taskID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[taskID])
}

// Notify delivers ev to subscribers of its task and to AllTasks subscribers.
func (h *Hub) Notify(ctx context.Context, ev task.Progress) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, key := range []string{ev.TaskID, AllTasks} {
		for ch := range h.subs[key] {
			select {
			case ch <- ev:
			default:
				h.log.WithTask(ctx, ev.TaskID).Debug("dropping progress event for slow subscriber")
			}
		}
		if ev.TaskID == AllTasks {
			break
		}
	}
}

// ServeWS upgrades the request and streams events of taskID as JSON text
// frames until the client goes away.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, taskID string) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithContext(r.Context()).WithError(err).Warn("websocket upgrade failed")
		return
	}
	defer conn.Close()

	events, unsubscribe := h.Subscribe(taskID)
	defer unsubscribe()

	// The read side only watches for the client closing the socket.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-gone:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(ev); err != nil {
				h.log.WithTask(r.Context(), taskID).WithError(err).Debug("websocket write failed")
				return
			}
		}
	}
}
