package app

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/tmadeja/lectern/internal/core"
	"github.com/tmadeja/lectern/internal/domain"
)

type connEntry struct {
	RoomName domain.RoomName
	Conn     core.SignalConnection
	Cancel   context.CancelFunc
}

// Registry tracks live connections of this coordinator instance: the
// transport handle, the room the connection is subscribed to, and the
// cancel func that tears the connection's pumps down. This is the only
// per-instance state; entity truth lives in storage.
type Registry struct {
	mu    sync.RWMutex
	conns map[core.ConnID]*connEntry
}

func NewRegistry() *Registry {
	return &Registry{conns: make(map[core.ConnID]*connEntry)}
}

func (r *Registry) Bind(id core.ConnID, conn core.SignalConnection, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[id] = &connEntry{Conn: conn, Cancel: cancel}
	log.Info().Str("module", "app.registry").Str("sid", string(id)).Msg("bound connection")
}

func (r *Registry) Unbind(id core.ConnID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.conns, id)
	log.Info().Str("module", "app.registry").Str("sid", string(id)).Msg("unbound connection")
}

func (r *Registry) Conn(id core.ConnID) (core.SignalConnection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.conns[id]; ok {
		return e.Conn, true
	}
	return nil, false
}

func (r *Registry) RoomOf(id core.ConnID) (domain.RoomName, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.conns[id]
	if !ok || e.RoomName == "" {
		return "", false
	}
	return e.RoomName, true
}

func (r *Registry) SetRoom(id core.ConnID, name domain.RoomName) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.conns[id]
	if !ok {
		return false
	}
	e.RoomName = name
	log.Info().Str("module", "app.registry").Str("sid", string(id)).Str("room", string(name)).Msg("set room")
	return true
}

func (r *Registry) ClearRoom(id core.ConnID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.conns[id]; ok {
		e.RoomName = ""
	}
}

// Cancel tears down the connection's pumps. Used when the backpressure
// policy decides a subscriber is too slow to keep.
func (r *Registry) Cancel(id core.ConnID) bool {
	r.mu.RLock()
	e, ok := r.conns[id]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	if e.Cancel != nil {
		e.Cancel()
	}
	log.Info().Str("module", "app.registry").Str("sid", string(id)).Msg("canceled connection")
	return true
}
