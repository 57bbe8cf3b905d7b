package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/tmadeja/lectern/internal/domain"
	"github.com/tmadeja/lectern/internal/storage"
)

// UserView is the outward-facing shape of an active room member.
type UserView struct {
	ID           string             `json:"id"`
	SID          string             `json:"sid"`
	Username     string             `json:"username"`
	CurrentDocID *string            `json:"current_doc_id"`
	CurrentPage  int                `json:"current_page"`
	Highlights   []domain.Highlight `json:"highlights"`
}

// DocumentView is the outward-facing shape of a registered document.
// UploaderID is null when the uploading user has been reaped.
type DocumentView struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	Pages      int     `json:"pages"`
	RoomID     string  `json:"room_id"`
	UploaderID *string `json:"uploader_id"`
}

// RoomSnapshot is the authoritative room state broadcast after mutations.
type RoomSnapshot struct {
	Name      string         `json:"name"`
	Users     []UserView     `json:"users"`
	Documents []DocumentView `json:"documents"`
}

// Projector assembles room snapshots from storage.
type Projector struct {
	store storage.Store
}

func NewProjector(store storage.Store) *Projector {
	return &Projector{store: store}
}

// Snapshot reads the room's active members and documents. A missing room is
// a valid transient state and yields an empty snapshot, never an error.
func (p *Projector) Snapshot(ctx context.Context, roomName domain.RoomName) (*RoomSnapshot, error) {
	snap := &RoomSnapshot{
		Name:      string(roomName),
		Users:     []UserView{},
		Documents: []DocumentView{},
	}

	room, err := p.store.FindRoomByName(ctx, roomName)
	if errors.Is(err, storage.ErrNotFound) {
		return snap, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find room: %w", err)
	}

	users, err := p.store.ListUsersInRoom(ctx, room.ID)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	for _, u := range users {
		view := UserView{
			ID:          string(u.ID),
			SID:         u.SID,
			Username:    u.Username,
			CurrentPage: u.CurrentPage,
			Highlights:  u.Highlights,
		}
		if view.Highlights == nil {
			view.Highlights = []domain.Highlight{}
		}
		if u.CurrentDocID != nil {
			id := string(*u.CurrentDocID)
			view.CurrentDocID = &id
		}
		snap.Users = append(snap.Users, view)
	}

	docs, err := p.store.ListDocumentsInRoom(ctx, room.ID)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	for _, d := range docs {
		view := DocumentView{
			ID:     string(d.ID),
			Name:   d.Name,
			Pages:  d.Pages,
			RoomID: string(d.RoomID),
		}
		if d.UploaderID != nil {
			id := string(*d.UploaderID)
			view.UploaderID = &id
		}
		snap.Documents = append(snap.Documents, view)
	}
	return snap, nil
}
