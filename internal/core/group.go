package core

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/tmadeja/lectern/internal/domain"
)

// Group is the per-room set of subscribed connections, the fan-out target
// for snapshot and delta broadcasts. It owns the subscription set but never
// closes adapter-owned transports.
type Group interface {
	Name() domain.RoomName
	Count() int

	Subscribe(id ConnID, conn SignalConnection)
	Unsubscribe(id ConnID)
	Broadcast(data Frame) PublishResult
}

// GroupManager hands out broadcast groups by room name.
type GroupManager interface {
	GetOrCreate(name domain.RoomName) Group
	Get(name domain.RoomName) (Group, bool)
	List() []GroupInfo
	Stop(name domain.RoomName)
}

type GroupInfo struct {
	Name  domain.RoomName `json:"name"`
	Count int             `json:"client_count"`
}

// groupImpl is a threadsafe in-memory group.
type groupImpl struct {
	name  domain.RoomName
	mu    sync.RWMutex
	conns map[ConnID]SignalConnection
}

func NewGroup(name domain.RoomName) Group {
	return &groupImpl{
		name:  name,
		conns: make(map[ConnID]SignalConnection),
	}
}

func (g *groupImpl) Name() domain.RoomName { return g.name }

func (g *groupImpl) Count() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.conns)
}

func (g *groupImpl) Subscribe(id ConnID, conn SignalConnection) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.conns[id] = conn
	log.Info().Str("module", "core.group").Str("room", string(g.name)).Str("sid", string(id)).Msg("subscribed")
}

func (g *groupImpl) Unsubscribe(id ConnID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.conns, id)
	log.Info().Str("module", "core.group").Str("room", string(g.name)).Str("sid", string(id)).Msg("unsubscribed")
}

// Broadcast fans the frame out to every subscriber. A slow or dead
// subscriber is reported as dropped, never waited on.
func (g *groupImpl) Broadcast(data Frame) PublishResult {
	g.mu.RLock()
	defer g.mu.RUnlock()
	res := PublishResult{}
	for id, conn := range g.conns {
		if err := conn.TrySend(data); err != nil {
			res.Dropped = append(res.Dropped, id)
			continue
		}
		res.SentTo++
	}
	log.Debug().Str("module", "core.group").Str("room", string(g.name)).Int("sent_to", res.SentTo).Int("dropped", len(res.Dropped)).Msg("broadcast result")
	return res
}
