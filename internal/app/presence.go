package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tmadeja/lectern/internal/domain"
	"github.com/tmadeja/lectern/internal/storage"
)

// Presence maps live connection ids to durable user records: join with
// reconnection-by-identity, graceful disconnect that keeps state for the
// retention window, and the reap that finally deletes it.
type Presence struct {
	store storage.Store

	mu    sync.Mutex
	joins map[string]*sync.Mutex
}

func NewPresence(store storage.Store) *Presence {
	return &Presence{
		store: store,
		joins: make(map[string]*sync.Mutex),
	}
}

// joinLock serializes create-or-reconnect per (room, username) so two
// connections racing the same identity cannot both create a user.
func (p *Presence) joinLock(roomName domain.RoomName, username string) *sync.Mutex {
	key := string(roomName) + "\x00" + username
	p.mu.Lock()
	defer p.mu.Unlock()
	mu, ok := p.joins[key]
	if !ok {
		mu = &sync.Mutex{}
		p.joins[key] = mu
	}
	return mu
}

// Join binds the connection to a user in the named room, creating the room
// lazily. An existing user with the same (username, room) — active or still
// within the retention window — is rebound to the new connection id with all
// view state and highlights preserved.
func (p *Presence) Join(ctx context.Context, sid, username string, roomName domain.RoomName) (*domain.User, error) {
	if username == "" || roomName == "" {
		return nil, fmt.Errorf("%w: username and room are required", ErrValidation)
	}

	mu := p.joinLock(roomName, username)
	mu.Lock()
	defer mu.Unlock()

	room, err := p.getOrCreateRoom(ctx, roomName)
	if err != nil {
		return nil, err
	}

	user, err := p.store.FindUserByUsernameRoom(ctx, username, room.ID, false)
	switch {
	case err == nil:
		// Reconnection path: rebind, state carries over.
		if err := p.store.RebindUser(ctx, user.ID, sid); err != nil {
			return nil, fmt.Errorf("rebind user: %w", err)
		}
		user.SID = sid
		user.Disconnected = false
		user.DisconnectedAt = nil
		log.Info().Str("module", "app.presence").Str("sid", sid).Str("username", username).Str("room", string(roomName)).Msg("user reconnected")
		return user, nil
	case errors.Is(err, storage.ErrNotFound):
	default:
		return nil, fmt.Errorf("find user: %w", err)
	}

	// Defensive cleanup against connection-id reuse.
	if err := p.store.DeleteUsersBySID(ctx, sid); err != nil {
		return nil, fmt.Errorf("clean stale users: %w", err)
	}

	user, err = domain.NewUser(sid, username, room.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrValidation, err)
	}
	err = p.store.CreateUser(ctx, user)
	if errors.Is(err, storage.ErrDuplicate) {
		// Another coordinator instance won the create race; resolve as a
		// reconnect onto the surviving row.
		existing, ferr := p.store.FindUserByUsernameRoom(ctx, username, room.ID, false)
		if ferr != nil {
			return nil, fmt.Errorf("resolve join race: %w", ferr)
		}
		if rerr := p.store.RebindUser(ctx, existing.ID, sid); rerr != nil {
			return nil, fmt.Errorf("rebind after race: %w", rerr)
		}
		existing.SID = sid
		existing.Disconnected = false
		existing.DisconnectedAt = nil
		return existing, nil
	}
	if err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	log.Info().Str("module", "app.presence").Str("sid", sid).Str("username", username).Str("room", string(roomName)).Msg("user joined")
	return user, nil
}

func (p *Presence) getOrCreateRoom(ctx context.Context, name domain.RoomName) (*domain.Room, error) {
	room, err := p.store.FindRoomByName(ctx, name)
	if err == nil {
		return room, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("find room: %w", err)
	}

	room, err = domain.NewRoom(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrValidation, err)
	}
	err = p.store.CreateRoom(ctx, room)
	if errors.Is(err, storage.ErrDuplicate) {
		return p.store.FindRoomByName(ctx, name)
	}
	if err != nil {
		return nil, fmt.Errorf("create room: %w", err)
	}
	log.Info().Str("module", "app.presence").Str("room", string(name)).Msg("room created")
	return room, nil
}

// Disconnect marks the user bound to sid as disconnected, keeping its state
// for reconnection. Returns the room name for re-broadcast, or ok=false when
// no user was bound.
func (p *Presence) Disconnect(ctx context.Context, sid string, now time.Time) (domain.RoomName, bool, error) {
	user, err := p.store.FindUserBySID(ctx, sid)
	if errors.Is(err, storage.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("find user by sid: %w", err)
	}

	if err := p.store.MarkUserDisconnected(ctx, sid, now); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return "", false, fmt.Errorf("mark disconnected: %w", err)
	}

	room, err := p.store.FindRoomByID(ctx, user.RoomID)
	if errors.Is(err, storage.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("find room: %w", err)
	}
	log.Info().Str("module", "app.presence").Str("sid", sid).Str("username", user.Username).Str("room", string(room.Name)).Msg("user disconnected")
	return room.Name, true, nil
}

// Reap permanently deletes users disconnected longer than retention.
func (p *Presence) Reap(ctx context.Context, retention time.Duration, now time.Time) (int, error) {
	n, err := p.store.ReapUsers(ctx, now.Add(-retention))
	if err != nil {
		return 0, fmt.Errorf("reap users: %w", err)
	}
	if n > 0 {
		log.Info().Str("module", "app.presence").Int("count", n).Msg("reaped stale users")
	}
	return n, nil
}
