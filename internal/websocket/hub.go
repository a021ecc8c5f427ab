package websocket

import (
	"sync"

	"github.com/iiifstudio/backend/internal/jobs"
)

// Hub maintains the set of active clients and broadcasts job updates
// to them.
type Hub struct {
	// Registered clients
	clients map[*Client]bool

	// Register requests from clients
	register chan *Client

	// Unregister requests from clients
	unregister chan *Client

	// Broadcast channel for job updates
	broadcast chan *JobMessage

	mu sync.RWMutex
}

// JobMessage is one job update pushed to clients
type JobMessage struct {
	Type    string  `json:"type"`
	JobID   string  `json:"job_id"`
	Status  string  `json:"status"`
	Current int     `json:"current"`
	Total   int     `json:"total"`
	Percent float64 `json:"percent"`
	Error   string  `json:"error,omitempty"`
	DocID   string  `json:"doc_id,omitempty"`
	Library string  `json:"library,omitempty"`
}

// NewHub creates a new Hub instance
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *JobMessage, 64),
	}
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()

		case message := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					// Client's buffer is full, close the connection
					close(client.send)
					delete(h.clients, client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// TotalClients returns the number of connected clients
func (h *Hub) TotalClients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// JobUpdated implements jobs.Notifier: every state or progress change
// of any job is pushed to all connected clients. Delivery is
// best-effort; pollers remain the source of truth.
func (h *Hub) JobUpdated(job jobs.Job) {
	msg := &JobMessage{
		Type:    "job_update",
		JobID:   job.ID,
		Status:  job.Status,
		Current: job.Current,
		Total:   job.Total,
		Percent: job.Percent(),
		Error:   job.Error,
		DocID:   job.DocID,
		Library: job.Library,
	}
	select {
	case h.broadcast <- msg:
	default:
		// Broadcast buffer full: drop rather than stall the job manager
	}
}
