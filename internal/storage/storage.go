// Package storage defines the persistence boundary of the coordinator.
// Room, User and Document truth lives entirely behind this interface; the
// coordinator keeps no cross-event state of its own.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/tmadeja/lectern/internal/domain"
)

var (
	// ErrNotFound indicates a requested record is missing.
	ErrNotFound = errors.New("storage: record not found")
	// ErrDuplicate indicates a write violated a uniqueness invariant.
	ErrDuplicate = errors.New("storage: duplicate entry")
)

// Store persists rooms, users and documents with atomic per-call mutations.
// Implementations must enforce the uniqueness invariants themselves (unique
// room name, one active user per (room, username), unique document name per
// room) so that racing writers resolve exactly as a sequential execution.
type Store interface {
	// CreateRoom persists a new room. Returns ErrDuplicate when a room with
	// the same name already exists.
	CreateRoom(ctx context.Context, room *domain.Room) error
	FindRoomByName(ctx context.Context, name domain.RoomName) (*domain.Room, error)
	FindRoomByID(ctx context.Context, id domain.RoomID) (*domain.Room, error)
	// DeleteRoom removes a room and cascades to its users and documents.
	DeleteRoom(ctx context.Context, id domain.RoomID) error

	// CreateUser persists a new user. Returns ErrDuplicate when an active
	// user with the same (room, username) already exists.
	CreateUser(ctx context.Context, user *domain.User) error
	FindUserBySID(ctx context.Context, sid string) (*domain.User, error)
	// FindUserByUsernameRoom prefers an active user; with activeOnly=false it
	// falls back to the most recently disconnected one.
	FindUserByUsernameRoom(ctx context.Context, username string, roomID domain.RoomID, activeOnly bool) (*domain.User, error)
	// RebindUser points an existing user at a new connection id and clears
	// its disconnected state.
	RebindUser(ctx context.Context, id domain.UserID, sid string) error
	// MarkUserDisconnected flags the user bound to sid instead of deleting
	// it, so reconnection can restore state.
	MarkUserDisconnected(ctx context.Context, sid string, at time.Time) error
	DeleteUser(ctx context.Context, id domain.UserID) error
	// DeleteUsersBySID removes stale rows bound to a reused connection id.
	DeleteUsersBySID(ctx context.Context, sid string) error
	// ReapUsers permanently deletes users disconnected before the cutoff.
	// Returns the number of rows deleted.
	ReapUsers(ctx context.Context, cutoff time.Time) (int, error)

	// UpdateUserView updates whichever of the two cursor fields is non-nil.
	// A non-nil docID pointing at an empty id clears the document reference.
	UpdateUserView(ctx context.Context, sid string, docID *domain.DocumentID, page *int) error
	AddHighlight(ctx context.Context, sid string, h domain.Highlight) error
	// RemoveHighlight drops the matching-id entry if present; absence is not
	// an error.
	RemoveHighlight(ctx context.Context, sid string, highlightID string) error
	ReplaceHighlights(ctx context.Context, sid string, hs []domain.Highlight) error

	// CreateDocument persists a new document. Returns ErrDuplicate when the
	// room already has a document with the same name.
	CreateDocument(ctx context.Context, doc *domain.Document) error
	FindDocumentByID(ctx context.Context, id domain.DocumentID) (*domain.Document, error)
	FindDocumentByNameRoom(ctx context.Context, name string, roomID domain.RoomID) (*domain.Document, error)

	// ListUsersInRoom returns active (non-disconnected) users in insertion order.
	ListUsersInRoom(ctx context.Context, roomID domain.RoomID) ([]domain.User, error)
	ListDocumentsInRoom(ctx context.Context, roomID domain.RoomID) ([]domain.Document, error)
}
