package app

import (
	"sync"

	"github.com/tmadeja/lectern/internal/core"
	"github.com/tmadeja/lectern/internal/domain"
)

type GroupManagerImpl struct {
	mu     sync.RWMutex
	groups map[domain.RoomName]core.Group
}

func NewGroupManager() core.GroupManager {
	return &GroupManagerImpl{groups: make(map[domain.RoomName]core.Group)}
}

func (m *GroupManagerImpl) GetOrCreate(name domain.RoomName) core.Group {
	m.mu.RLock()
	group, ok := m.groups[name]
	m.mu.RUnlock()
	if ok {
		return group
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if group, ok = m.groups[name]; ok {
		return group
	}
	group = core.NewGroup(name)
	m.groups[name] = group
	return group
}

func (m *GroupManagerImpl) Get(name domain.RoomName) (core.Group, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	group, ok := m.groups[name]
	return group, ok
}

func (m *GroupManagerImpl) List() []core.GroupInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]core.GroupInfo, 0, len(m.groups))
	for name, g := range m.groups {
		out = append(out, core.GroupInfo{Name: name, Count: g.Count()})
	}
	return out
}

func (m *GroupManagerImpl) Stop(name domain.RoomName) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.groups, name)
}
