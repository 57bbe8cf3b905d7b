package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tmadeja/lectern/internal/core"
	"github.com/tmadeja/lectern/internal/domain"
	"github.com/tmadeja/lectern/internal/ingest"
	"github.com/tmadeja/lectern/internal/storage"
)

// Coordinator is the hub: it validates client events, applies them through
// the presence tracker and document registry, and fans the resulting room
// snapshot out to every subscribed connection. All entity truth lives in
// storage; the coordinator only holds the per-instance broadcast plumbing.
type Coordinator struct {
	store     storage.Store
	files     ingest.Collaborator
	presence  *Presence
	docs      *DocumentRegistry
	projector *Projector
	groups    core.GroupManager
	registry  *Registry
	policy    Policy
}

func NewCoordinator(store storage.Store, files ingest.Collaborator) *Coordinator {
	return &Coordinator{
		store:     store,
		files:     files,
		presence:  NewPresence(store),
		docs:      NewDocumentRegistry(store),
		projector: NewProjector(store),
		groups:    NewGroupManager(),
		registry:  NewRegistry(),
		policy:    SimplePolicy{},
	}
}

func (c *Coordinator) Presence() *Presence     { return c.presence }
func (c *Coordinator) Rooms() []core.GroupInfo { return c.groups.List() }

// Bind registers a freshly upgraded connection with the coordinator. The
// connection carries no user until its first join event.
func (c *Coordinator) Bind(id core.ConnID, conn core.SignalConnection, cancel context.CancelFunc) {
	c.registry.Bind(id, conn, cancel)
}

// Join looks up or creates the user for this connection, subscribes the
// connection to the room's broadcast group, and broadcasts the snapshot.
func (c *Coordinator) Join(ctx context.Context, id core.ConnID, username, roomName string) error {
	user, err := c.presence.Join(ctx, string(id), username, domain.RoomName(roomName))
	if err != nil {
		return err
	}

	conn, ok := c.registry.Conn(id)
	if !ok {
		return fmt.Errorf("%w: connection not registered", ErrNotBound)
	}
	if prev, ok := c.registry.RoomOf(id); ok && prev != domain.RoomName(roomName) {
		if group, ok := c.groups.Get(prev); ok {
			group.Unsubscribe(id)
		}
	}
	c.groups.GetOrCreate(domain.RoomName(roomName)).Subscribe(id, conn)
	c.registry.SetRoom(id, domain.RoomName(roomName))

	log.Info().Str("module", "app.coordinator").Str("sid", string(id)).Str("username", user.Username).Str("room", roomName).Msg("join")
	c.broadcastSnapshot(ctx, domain.RoomName(roomName))
	return nil
}

// Disconnect handles a closed transport: the user is marked disconnected
// (state kept for reconnection), the connection leaves its group, and the
// room sees a fresh snapshot.
func (c *Coordinator) Disconnect(ctx context.Context, id core.ConnID) {
	roomName, found, err := c.presence.Disconnect(ctx, string(id), time.Now().UTC())
	if err != nil {
		log.Error().Err(err).Str("module", "app.coordinator").Str("sid", string(id)).Msg("disconnect")
	}

	if name, ok := c.registry.RoomOf(id); ok {
		if group, ok := c.groups.Get(name); ok {
			group.Unsubscribe(id)
		}
	}
	c.registry.Unbind(id)

	if found {
		c.broadcastSnapshot(ctx, roomName)
	}
}

// Upload persists the file through the ingest collaborator, registers the
// document, and broadcasts the snapshot. Returns the new document id.
func (c *Coordinator) Upload(ctx context.Context, id core.ConnID, name string, data []byte) (string, error) {
	if name == "" || len(data) == 0 {
		return "", fmt.Errorf("%w: file name and data are required", ErrValidation)
	}
	user, err := c.boundUser(ctx, id)
	if err != nil {
		return "", err
	}

	safe, err := c.files.SanitizeName(name)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrValidation, err)
	}
	path, err := c.files.Persist(safe, data)
	if err != nil {
		return "", fmt.Errorf("persist upload: %w", err)
	}
	pages, err := c.files.CountPages(path)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrValidation, err)
	}

	doc, err := c.docs.Register(ctx, user.RoomID, safe, pages, user.ID)
	if err != nil {
		return "", err
	}

	if roomName, err := c.roomNameOf(ctx, user); err == nil {
		c.broadcastSnapshot(ctx, roomName)
	}
	return string(doc.ID), nil
}

// SetView updates the user's cursor: document (when provided; empty id
// clears it) and page (when provided).
func (c *Coordinator) SetView(ctx context.Context, id core.ConnID, docID *string, page *int) error {
	user, err := c.boundUser(ctx, id)
	if err != nil {
		return err
	}
	if page != nil && *page < 0 {
		return fmt.Errorf("%w: page must be non-negative", ErrValidation)
	}

	var ref *domain.DocumentID
	if docID != nil {
		d := domain.DocumentID(*docID)
		if d != "" {
			doc, err := c.store.FindDocumentByID(ctx, d)
			if errors.Is(err, storage.ErrNotFound) {
				return fmt.Errorf("%w: document not found", ErrValidation)
			}
			if err != nil {
				return fmt.Errorf("resolve document: %w", err)
			}
			if doc.RoomID != user.RoomID {
				return fmt.Errorf("%w: document belongs to another room", ErrValidation)
			}
		}
		ref = &d
	}

	if err := c.store.UpdateUserView(ctx, string(id), ref, page); err != nil {
		return fmt.Errorf("update view: %w", err)
	}
	if roomName, err := c.roomNameOf(ctx, user); err == nil {
		c.broadcastSnapshot(ctx, roomName)
	}
	return nil
}

type highlightAdded struct {
	Type string `json:"type"`
	domain.Highlight
}

type highlightRemoved struct {
	Type        string `json:"type"`
	HighlightID string `json:"highlightId"`
	DocumentID  string `json:"documentId"`
}

// AddHighlight appends the highlight to the user's list and broadcasts the
// delta only, not a full snapshot.
func (c *Coordinator) AddHighlight(ctx context.Context, id core.ConnID, h domain.Highlight) error {
	if h.ID == "" || h.DocumentID == "" {
		return fmt.Errorf("%w: highlight id and documentId are required", ErrValidation)
	}
	user, err := c.boundUser(ctx, id)
	if err != nil {
		return err
	}
	if err := c.store.AddHighlight(ctx, string(id), h); err != nil {
		return fmt.Errorf("add highlight: %w", err)
	}
	if roomName, err := c.roomNameOf(ctx, user); err == nil {
		c.broadcast(roomName, highlightAdded{Type: "highlight_added", Highlight: h})
	}
	return nil
}

// RemoveHighlight drops the matching entry if present. The removal delta is
// broadcast regardless of whether a match existed.
func (c *Coordinator) RemoveHighlight(ctx context.Context, id core.ConnID, highlightID, documentID string) error {
	if highlightID == "" {
		return fmt.Errorf("%w: highlightId is required", ErrValidation)
	}
	user, err := c.boundUser(ctx, id)
	if err != nil {
		return err
	}
	if err := c.store.RemoveHighlight(ctx, string(id), highlightID); err != nil {
		return fmt.Errorf("remove highlight: %w", err)
	}
	if roomName, err := c.roomNameOf(ctx, user); err == nil {
		c.broadcast(roomName, highlightRemoved{
			Type:        "highlight_removed",
			HighlightID: highlightID,
			DocumentID:  documentID,
		})
	}
	return nil
}

// ReplaceHighlights overwrites the user's entire highlight list and
// broadcasts a full snapshot.
func (c *Coordinator) ReplaceHighlights(ctx context.Context, id core.ConnID, hs []domain.Highlight) error {
	user, err := c.boundUser(ctx, id)
	if err != nil {
		return err
	}
	if hs == nil {
		hs = []domain.Highlight{}
	}
	if err := c.store.ReplaceHighlights(ctx, string(id), hs); err != nil {
		return fmt.Errorf("replace highlights: %w", err)
	}
	if roomName, err := c.roomNameOf(ctx, user); err == nil {
		c.broadcastSnapshot(ctx, roomName)
	}
	return nil
}

// Document resolves a document id for the HTTP download route.
func (c *Coordinator) Document(ctx context.Context, id string) (*domain.Document, error) {
	return c.store.FindDocumentByID(ctx, domain.DocumentID(id))
}

// Snapshot exposes the projector for read-only surfaces.
func (c *Coordinator) Snapshot(ctx context.Context, roomName string) (*RoomSnapshot, error) {
	return c.projector.Snapshot(ctx, domain.RoomName(roomName))
}

func (c *Coordinator) boundUser(ctx context.Context, id core.ConnID) (*domain.User, error) {
	user, err := c.store.FindUserBySID(ctx, string(id))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrNotBound
	}
	if err != nil {
		return nil, fmt.Errorf("find bound user: %w", err)
	}
	return user, nil
}

func (c *Coordinator) roomNameOf(ctx context.Context, user *domain.User) (domain.RoomName, error) {
	room, err := c.store.FindRoomByID(ctx, user.RoomID)
	if err != nil {
		log.Error().Err(err).Str("module", "app.coordinator").Str("user", string(user.ID)).Msg("resolve room")
		return "", err
	}
	return room.Name, nil
}

type roomUpdate struct {
	Type string `json:"type"`
	RoomSnapshot
}

func (c *Coordinator) broadcastSnapshot(ctx context.Context, roomName domain.RoomName) {
	snap, err := c.projector.Snapshot(ctx, roomName)
	if err != nil {
		log.Error().Err(err).Str("module", "app.coordinator").Str("room", string(roomName)).Msg("project snapshot")
		return
	}
	c.broadcast(roomName, roomUpdate{Type: "room_update", RoomSnapshot: *snap})
}

func (c *Coordinator) broadcast(roomName domain.RoomName, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "app.coordinator").Msg("marshal broadcast")
		return
	}
	group, ok := c.groups.Get(roomName)
	if !ok {
		return
	}
	res := group.Broadcast(b)
	for _, id := range res.Dropped {
		if c.policy.OnBackpressure(group, id) == KickConn {
			c.registry.Cancel(id)
		}
	}
}
