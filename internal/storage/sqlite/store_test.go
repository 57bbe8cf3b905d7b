package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tmadeja/lectern/internal/domain"
	"github.com/tmadeja/lectern/internal/storage"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "lectern.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func mustRoom(t *testing.T, store *Store, name string) *domain.Room {
	t.Helper()
	room, err := domain.NewRoom(domain.RoomName(name))
	require.NoError(t, err)
	require.NoError(t, store.CreateRoom(context.Background(), room))
	return room
}

func mustUser(t *testing.T, store *Store, sid, username string, roomID domain.RoomID) *domain.User {
	t.Helper()
	user, err := domain.NewUser(sid, username, roomID)
	require.NoError(t, err)
	require.NoError(t, store.CreateUser(context.Background(), user))
	return user
}

func TestRoomNameUnique(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	mustRoom(t, store, "court1")

	dup, err := domain.NewRoom("court1")
	require.NoError(t, err)
	err = store.CreateRoom(ctx, dup)
	assert.ErrorIs(t, err, storage.ErrDuplicate)

	found, err := store.FindRoomByName(ctx, "court1")
	require.NoError(t, err)
	assert.Equal(t, domain.RoomName("court1"), found.Name)

	_, err = store.FindRoomByName(ctx, "nope")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestActiveUserUniquePerRoom(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	room := mustRoom(t, store, "court1")

	mustUser(t, store, "sid-1", "alice", room.ID)

	dup, err := domain.NewUser("sid-2", "alice", room.ID)
	require.NoError(t, err)
	err = store.CreateUser(ctx, dup)
	assert.ErrorIs(t, err, storage.ErrDuplicate)

	// A disconnected row does not block a new active one.
	require.NoError(t, store.MarkUserDisconnected(ctx, "sid-1", time.Now()))
	require.NoError(t, store.CreateUser(ctx, dup))
}

func TestFindUserByUsernameRoom(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	room := mustRoom(t, store, "court1")
	user := mustUser(t, store, "sid-1", "alice", room.ID)

	found, err := store.FindUserByUsernameRoom(ctx, "alice", room.ID, true)
	require.NoError(t, err)
	assert.Equal(t, user.ID, found.ID)

	require.NoError(t, store.MarkUserDisconnected(ctx, "sid-1", time.Now()))

	_, err = store.FindUserByUsernameRoom(ctx, "alice", room.ID, true)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	// activeOnly=false falls back to the disconnected row.
	found, err = store.FindUserByUsernameRoom(ctx, "alice", room.ID, false)
	require.NoError(t, err)
	assert.Equal(t, user.ID, found.ID)
	assert.True(t, found.Disconnected)
	require.NotNil(t, found.DisconnectedAt)
}

func TestRebindUserClearsDisconnect(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	room := mustRoom(t, store, "court1")
	user := mustUser(t, store, "sid-1", "alice", room.ID)

	require.NoError(t, store.MarkUserDisconnected(ctx, "sid-1", time.Now()))
	require.NoError(t, store.RebindUser(ctx, user.ID, "sid-2"))

	found, err := store.FindUserBySID(ctx, "sid-2")
	require.NoError(t, err)
	assert.Equal(t, user.ID, found.ID)
	assert.False(t, found.Disconnected)
	assert.Nil(t, found.DisconnectedAt)
}

func TestHighlightMutations(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	room := mustRoom(t, store, "court1")
	mustUser(t, store, "sid-1", "alice", room.ID)

	h1 := domain.Highlight{ID: "h1", DocumentID: "d1", Text: "first", PageNumber: 2}
	h2 := domain.Highlight{ID: "h2", DocumentID: "d1", Text: "second"}
	require.NoError(t, store.AddHighlight(ctx, "sid-1", h1))
	require.NoError(t, store.AddHighlight(ctx, "sid-1", h2))

	user, err := store.FindUserBySID(ctx, "sid-1")
	require.NoError(t, err)
	require.Len(t, user.Highlights, 2)
	assert.Equal(t, "h1", user.Highlights[0].ID)
	assert.Equal(t, 2, user.Highlights[0].PageNumber)

	// Removing an unknown id is a no-op, not an error.
	require.NoError(t, store.RemoveHighlight(ctx, "sid-1", "missing"))
	user, err = store.FindUserBySID(ctx, "sid-1")
	require.NoError(t, err)
	assert.Len(t, user.Highlights, 2)

	require.NoError(t, store.RemoveHighlight(ctx, "sid-1", "h1"))
	user, err = store.FindUserBySID(ctx, "sid-1")
	require.NoError(t, err)
	require.Len(t, user.Highlights, 1)
	assert.Equal(t, "h2", user.Highlights[0].ID)

	replacement := []domain.Highlight{{ID: "h3", DocumentID: "d2", Text: "only"}}
	require.NoError(t, store.ReplaceHighlights(ctx, "sid-1", replacement))
	user, err = store.FindUserBySID(ctx, "sid-1")
	require.NoError(t, err)
	require.Len(t, user.Highlights, 1)
	assert.Equal(t, "h3", user.Highlights[0].ID)
}

func TestUpdateUserView(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	room := mustRoom(t, store, "court1")
	mustUser(t, store, "sid-1", "alice", room.ID)

	docID := domain.DocumentID("doc-1")
	page := 4
	require.NoError(t, store.UpdateUserView(ctx, "sid-1", &docID, &page))

	user, err := store.FindUserBySID(ctx, "sid-1")
	require.NoError(t, err)
	require.NotNil(t, user.CurrentDocID)
	assert.Equal(t, docID, *user.CurrentDocID)
	assert.Equal(t, 4, user.CurrentPage)

	// Partial update keeps the untouched field.
	page = 7
	require.NoError(t, store.UpdateUserView(ctx, "sid-1", nil, &page))
	user, err = store.FindUserBySID(ctx, "sid-1")
	require.NoError(t, err)
	require.NotNil(t, user.CurrentDocID)
	assert.Equal(t, 7, user.CurrentPage)

	// Empty doc id clears the reference.
	empty := domain.DocumentID("")
	require.NoError(t, store.UpdateUserView(ctx, "sid-1", &empty, nil))
	user, err = store.FindUserBySID(ctx, "sid-1")
	require.NoError(t, err)
	assert.Nil(t, user.CurrentDocID)
	assert.Equal(t, 7, user.CurrentPage)
}

func TestDocumentUniquePerRoom(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	room1 := mustRoom(t, store, "court1")
	room2 := mustRoom(t, store, "court2")
	user := mustUser(t, store, "sid-1", "alice", room1.ID)

	doc, err := domain.NewDocument("brief.pdf", 10, room1.ID, user.ID)
	require.NoError(t, err)
	require.NoError(t, store.CreateDocument(ctx, doc))

	dup, err := domain.NewDocument("brief.pdf", 12, room1.ID, user.ID)
	require.NoError(t, err)
	assert.ErrorIs(t, store.CreateDocument(ctx, dup), storage.ErrDuplicate)

	// Same name in a different room is fine.
	other, err := domain.NewDocument("brief.pdf", 12, room2.ID, user.ID)
	require.NoError(t, err)
	require.NoError(t, store.CreateDocument(ctx, other))
}

func TestUploaderNulledWhenUserDeleted(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	room := mustRoom(t, store, "court1")
	user := mustUser(t, store, "sid-1", "alice", room.ID)

	doc, err := domain.NewDocument("brief.pdf", 10, room.ID, user.ID)
	require.NoError(t, err)
	require.NoError(t, store.CreateDocument(ctx, doc))

	require.NoError(t, store.DeleteUser(ctx, user.ID))

	found, err := store.FindDocumentByID(ctx, doc.ID)
	require.NoError(t, err)
	assert.Nil(t, found.UploaderID)
}

func TestDeleteRoomCascades(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	room := mustRoom(t, store, "court1")
	user := mustUser(t, store, "sid-1", "alice", room.ID)

	doc, err := domain.NewDocument("brief.pdf", 10, room.ID, user.ID)
	require.NoError(t, err)
	require.NoError(t, store.CreateDocument(ctx, doc))

	require.NoError(t, store.DeleteRoom(ctx, room.ID))

	_, err = store.FindUserBySID(ctx, "sid-1")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = store.FindDocumentByID(ctx, doc.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestReapUsers(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	room := mustRoom(t, store, "court1")
	mustUser(t, store, "sid-old", "alice", room.ID)
	mustUser(t, store, "sid-new", "bob", room.ID)
	mustUser(t, store, "sid-live", "carol", room.ID)

	now := time.Now().UTC()
	require.NoError(t, store.MarkUserDisconnected(ctx, "sid-old", now.Add(-2*time.Hour)))
	require.NoError(t, store.MarkUserDisconnected(ctx, "sid-new", now.Add(-10*time.Minute)))

	n, err := store.ReapUsers(ctx, now.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// Recently disconnected and still-connected users survive.
	_, err = store.FindUserByUsernameRoom(ctx, "bob", room.ID, false)
	require.NoError(t, err)
	_, err = store.FindUserBySID(ctx, "sid-live")
	require.NoError(t, err)

	// Second sweep on the same state deletes nothing.
	n, err = store.ReapUsers(ctx, now.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestListOrdering(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	room := mustRoom(t, store, "court1")

	alice := mustUser(t, store, "sid-1", "alice", room.ID)
	bob, err := domain.NewUser("sid-2", "bob", room.ID)
	require.NoError(t, err)
	bob.CreatedAt = alice.CreatedAt.Add(time.Second)
	bob.UpdatedAt = bob.CreatedAt
	require.NoError(t, store.CreateUser(ctx, bob))

	users, err := store.ListUsersInRoom(ctx, room.ID)
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, "alice", users[0].Username)
	assert.Equal(t, "bob", users[1].Username)
}
