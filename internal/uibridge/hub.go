package uibridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/breeze-rmm/deskbridge/internal/remote/desktop"
)

var (
	// ErrNoSubscribers is returned when no UI client is connected.
	ErrNoSubscribers = errors.New("no ui clients connected")
	// ErrClientsBusy is returned when every connected client's frame queue
	// is full.
	ErrClientsBusy = errors.New("all ui clients busy")
	// ErrTooManyClients is returned when the client limit is reached.
	ErrTooManyClients = errors.New("too many ui clients")

	errHubClosed = errors.New("hub closed")
)

// Hub fans capture output out to every connected UI client. It implements
// desktop.Sink and never blocks: a client whose queue is full misses the
// frame.
type Hub struct {
	mu      sync.RWMutex
	clients map[*client]struct{}
	closed  bool
}

var _ desktop.Sink = (*Hub)(nil)

func NewHub() *Hub {
	return &Hub{clients: make(map[*client]struct{})}
}

// add registers c unless closeAll has run or limit clients are already
// connected. A limit below 1 means no limit.
func (h *Hub) add(c *client, limit int) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return errHubClosed
	}
	if limit > 0 && len(h.clients) >= limit {
		return ErrTooManyClients
	}
	h.clients[c] = struct{}{}
	return nil
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
}

// Count returns the number of connected clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// DeliverFrame pushes a frame event. It fails only when no client took it.
func (h *Hub) DeliverFrame(_ context.Context, f *desktop.EncodedFrame) error {
	data, err := marshalEvent(desktop.EventFrame, f)
	if err != nil {
		return err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.clients) == 0 {
		return ErrNoSubscribers
	}
	accepted := 0
	for c := range h.clients {
		if c.offerFrame(data) {
			accepted++
		}
	}
	if accepted == 0 {
		return fmt.Errorf("%w: %d clients", ErrClientsBusy, len(h.clients))
	}
	return nil
}

// Notify pushes a non-frame event on the clients' control queues.
func (h *Hub) Notify(_ context.Context, n desktop.Notification) error {
	data, err := marshalEvent(n.Event, n.Payload)
	if err != nil {
		return err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.clients) == 0 {
		return ErrNoSubscribers
	}
	for c := range h.clients {
		c.sendControl(data)
	}
	return nil
}

// closeAll disconnects every client and refuses new ones.
func (h *Hub) closeAll() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
}

func marshalEvent(event string, payload any) ([]byte, error) {
	data, err := json.Marshal(EventMessage{Type: msgTypeEvent, Event: event, Payload: payload})
	if err != nil {
		return nil, fmt.Errorf("marshal %s event: %w", event, err)
	}
	return data, nil
}
