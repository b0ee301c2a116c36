package chat

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/omochice/direct-chat/internal/client"
)

// Registry tracks the subscriptions of the current connection.
type Registry struct {
	handler client.Handler
	log     *zap.Logger

	mu   sync.Mutex
	conn *client.Connection
	subs []*client.Subscription
}

// NewRegistry creates a registry delivering every subscribed frame to h.
func NewRegistry(h client.Handler, log *zap.Logger) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{handler: h, log: log}
}

// Subscribe subscribes room's topics for each suffix on conn. Entries this
// registry already holds on conn are unsubscribed first; entries on an
// earlier connection died with it and are forgotten.
func (r *Registry) Subscribe(conn *client.Connection, room RoomID, suffixes ...string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.conn == conn {
		r.unsubscribeLocked()
	}
	r.conn = conn
	r.subs = nil

	for _, suffix := range suffixes {
		dest := Topic(room, suffix)
		sub, err := conn.Subscribe(dest, r.handler)
		if err != nil {
			return fmt.Errorf("failed to subscribe room %s: %w", room, err)
		}
		r.subs = append(r.subs, sub)
	}
	r.log.Debug("room subscribed", zap.String("room", string(room)), zap.Strings("destinations", r.destinationsLocked()))
	return nil
}

// UnsubscribeAll unsubscribes every held entry.
func (r *Registry) UnsubscribeAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unsubscribeLocked()
	r.conn = nil
}

// Destinations returns the subscribed destinations in subscribe order.
func (r *Registry) Destinations() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.destinationsLocked()
}

func (r *Registry) unsubscribeLocked() {
	for _, sub := range r.subs {
		if err := sub.Unsubscribe(); err != nil {
			r.log.Warn("unsubscribe failed", zap.String("destination", sub.Destination), zap.Error(err))
		}
	}
	r.subs = nil
}

func (r *Registry) destinationsLocked() []string {
	out := make([]string, 0, len(r.subs))
	for _, sub := range r.subs {
		out = append(out, sub.Destination)
	}
	return out
}
