package app_test

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tmadeja/lectern/internal/app"
	"github.com/tmadeja/lectern/internal/core"
	"github.com/tmadeja/lectern/internal/domain"
	"github.com/tmadeja/lectern/internal/storage/sqlite"
)

// testConn captures broadcast frames instead of writing to a socket.
type testConn struct {
	mu     sync.Mutex
	frames []core.Frame
	closed bool
}

func (c *testConn) TrySend(f core.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, f)
	return nil
}

func (c *testConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

func (c *testConn) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = nil
}

// lastOfType decodes captured frames and returns the latest with the given
// type tag.
func (c *testConn) lastOfType(t *testing.T, typ string) map[string]any {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	var found map[string]any
	for _, f := range c.frames {
		var msg map[string]any
		require.NoError(t, json.Unmarshal(f, &msg))
		if msg["type"] == typ {
			found = msg
		}
	}
	return found
}

type fakeIngest struct {
	pages int
}

func (f fakeIngest) SanitizeName(raw string) (string, error) { return raw, nil }

func (f fakeIngest) Persist(name string, _ []byte) (string, error) { return name, nil }

func (f fakeIngest) CountPages(string) (int, error) { return f.pages, nil }

func newTestCoordinator(t *testing.T) *app.Coordinator {
	t.Helper()
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "lectern.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return app.NewCoordinator(store, fakeIngest{pages: 10})
}

func bind(coord *app.Coordinator, id core.ConnID) *testConn {
	conn := &testConn{}
	coord.Bind(id, conn, func() {})
	return conn
}

func snapshotUsers(t *testing.T, msg map[string]any) []any {
	t.Helper()
	require.NotNil(t, msg)
	users, ok := msg["users"].([]any)
	require.True(t, ok)
	return users
}

func TestJoinBroadcastsSnapshot(t *testing.T) {
	coord := newTestCoordinator(t)
	ctx := context.Background()

	alice := bind(coord, "conn-a")
	require.NoError(t, coord.Join(ctx, "conn-a", "alice", "court1"))

	update := alice.lastOfType(t, "room_update")
	require.NotNil(t, update)
	assert.Equal(t, "court1", update["name"])
	assert.Len(t, snapshotUsers(t, update), 1)

	bob := bind(coord, "conn-b")
	require.NoError(t, coord.Join(ctx, "conn-b", "bob", "court1"))

	// Both members see the two-user snapshot.
	assert.Len(t, snapshotUsers(t, alice.lastOfType(t, "room_update")), 2)
	assert.Len(t, snapshotUsers(t, bob.lastOfType(t, "room_update")), 2)
}

func TestJoinValidation(t *testing.T) {
	coord := newTestCoordinator(t)
	ctx := context.Background()

	bind(coord, "conn-a")
	assert.ErrorIs(t, coord.Join(ctx, "conn-a", "", "court1"), app.ErrValidation)
	assert.ErrorIs(t, coord.Join(ctx, "conn-a", "alice", ""), app.ErrValidation)

	// Rejected joins leave no state behind.
	snap, err := coord.Snapshot(ctx, "court1")
	require.NoError(t, err)
	assert.Empty(t, snap.Users)
}

func TestUploadRegistersDocument(t *testing.T) {
	coord := newTestCoordinator(t)
	ctx := context.Background()

	alice := bind(coord, "conn-a")
	require.NoError(t, coord.Join(ctx, "conn-a", "alice", "court1"))
	alice.reset()

	docID, err := coord.Upload(ctx, "conn-a", "brief.pdf", []byte("%PDF-1.4 data"))
	require.NoError(t, err)
	require.NotEmpty(t, docID)

	update := alice.lastOfType(t, "room_update")
	require.NotNil(t, update)
	docs, ok := update["documents"].([]any)
	require.True(t, ok)
	require.Len(t, docs, 1)
	doc := docs[0].(map[string]any)
	assert.Equal(t, "brief.pdf", doc["name"])
	assert.Equal(t, float64(10), doc["pages"])
	require.NotNil(t, doc["uploader_id"])

	// Same name in the same room is rejected and the count is unchanged.
	_, err = coord.Upload(ctx, "conn-a", "brief.pdf", []byte("%PDF-1.4 other"))
	assert.ErrorIs(t, err, app.ErrDuplicateDocument)
	snap, err := coord.Snapshot(ctx, "court1")
	require.NoError(t, err)
	assert.Len(t, snap.Documents, 1)

	// Same name in a different room succeeds.
	bind(coord, "conn-b")
	require.NoError(t, coord.Join(ctx, "conn-b", "bob", "court2"))
	_, err = coord.Upload(ctx, "conn-b", "brief.pdf", []byte("%PDF-1.4 data"))
	require.NoError(t, err)
}

func TestUploadFromUnboundConnection(t *testing.T) {
	coord := newTestCoordinator(t)
	bind(coord, "conn-x")

	_, err := coord.Upload(context.Background(), "conn-x", "brief.pdf", []byte("%PDF"))
	assert.ErrorIs(t, err, app.ErrNotBound)
}

func TestSetView(t *testing.T) {
	coord := newTestCoordinator(t)
	ctx := context.Background()

	bind(coord, "conn-a")
	require.NoError(t, coord.Join(ctx, "conn-a", "alice", "court1"))
	docID, err := coord.Upload(ctx, "conn-a", "brief.pdf", []byte("%PDF-1.4"))
	require.NoError(t, err)

	page := 3
	require.NoError(t, coord.SetView(ctx, "conn-a", &docID, &page))

	snap, err := coord.Snapshot(ctx, "court1")
	require.NoError(t, err)
	require.Len(t, snap.Users, 1)
	require.NotNil(t, snap.Users[0].CurrentDocID)
	assert.Equal(t, docID, *snap.Users[0].CurrentDocID)
	assert.Equal(t, 3, snap.Users[0].CurrentPage)

	// Page-only update keeps the document.
	page = 5
	require.NoError(t, coord.SetView(ctx, "conn-a", nil, &page))
	snap, err = coord.Snapshot(ctx, "court1")
	require.NoError(t, err)
	require.NotNil(t, snap.Users[0].CurrentDocID)
	assert.Equal(t, 5, snap.Users[0].CurrentPage)

	neg := -1
	assert.ErrorIs(t, coord.SetView(ctx, "conn-a", nil, &neg), app.ErrValidation)

	// A document from another room is rejected.
	bind(coord, "conn-b")
	require.NoError(t, coord.Join(ctx, "conn-b", "bob", "court2"))
	otherID, err := coord.Upload(ctx, "conn-b", "other.pdf", []byte("%PDF-1.4"))
	require.NoError(t, err)
	assert.ErrorIs(t, coord.SetView(ctx, "conn-a", &otherID, nil), app.ErrValidation)
}

func TestHighlightDeltaBroadcasts(t *testing.T) {
	coord := newTestCoordinator(t)
	ctx := context.Background()

	alice := bind(coord, "conn-a")
	bob := bind(coord, "conn-b")
	require.NoError(t, coord.Join(ctx, "conn-a", "alice", "court1"))
	require.NoError(t, coord.Join(ctx, "conn-b", "bob", "court1"))
	docID, err := coord.Upload(ctx, "conn-a", "brief.pdf", []byte("%PDF-1.4"))
	require.NoError(t, err)
	alice.reset()
	bob.reset()

	h := domain.Highlight{ID: "h1", DocumentID: domain.DocumentID(docID), Text: "key passage", PageNumber: 2}
	require.NoError(t, coord.AddHighlight(ctx, "conn-a", h))

	// Adds broadcast a delta, not a snapshot.
	added := bob.lastOfType(t, "highlight_added")
	require.NotNil(t, added)
	assert.Equal(t, "h1", added["id"])
	assert.Nil(t, bob.lastOfType(t, "room_update"))

	// Removing an unknown id is a state no-op but the delta still goes out.
	bob.reset()
	require.NoError(t, coord.RemoveHighlight(ctx, "conn-a", "ghost", docID))
	removed := bob.lastOfType(t, "highlight_removed")
	require.NotNil(t, removed)
	assert.Equal(t, "ghost", removed["highlightId"])

	snap, err := coord.Snapshot(ctx, "court1")
	require.NoError(t, err)
	for _, u := range snap.Users {
		if u.Username == "alice" {
			assert.Len(t, u.Highlights, 1)
		}
	}

	// Replace overwrites the list and broadcasts a full snapshot.
	bob.reset()
	replacement := []domain.Highlight{
		{ID: "h2", DocumentID: domain.DocumentID(docID), Text: "new one"},
		{ID: "h3", DocumentID: domain.DocumentID(docID), Text: "another"},
	}
	require.NoError(t, coord.ReplaceHighlights(ctx, "conn-a", replacement))
	require.NotNil(t, bob.lastOfType(t, "room_update"))

	snap, err = coord.Snapshot(ctx, "court1")
	require.NoError(t, err)
	for _, u := range snap.Users {
		if u.Username == "alice" {
			require.Len(t, u.Highlights, 2)
			assert.Equal(t, "h2", u.Highlights[0].ID)
		}
	}
}

func TestDisconnectAndReconnectRestoresState(t *testing.T) {
	coord := newTestCoordinator(t)
	ctx := context.Background()

	bind(coord, "conn-a")
	observer := bind(coord, "conn-o")
	require.NoError(t, coord.Join(ctx, "conn-a", "alice", "court1"))
	require.NoError(t, coord.Join(ctx, "conn-o", "observer", "court1"))

	docID, err := coord.Upload(ctx, "conn-a", "brief.pdf", []byte("%PDF-1.4"))
	require.NoError(t, err)
	page := 6
	require.NoError(t, coord.SetView(ctx, "conn-a", &docID, &page))
	h := domain.Highlight{ID: "h1", DocumentID: domain.DocumentID(docID), Text: "kept"}
	require.NoError(t, coord.AddHighlight(ctx, "conn-a", h))

	observer.reset()
	coord.Disconnect(ctx, "conn-a")

	// Alice vanishes from presence but the document stays.
	update := observer.lastOfType(t, "room_update")
	require.NotNil(t, update)
	users := snapshotUsers(t, update)
	require.Len(t, users, 1)
	docs := update["documents"].([]any)
	assert.Len(t, docs, 1)

	// Rejoin within the window restores view state and highlights.
	bind(coord, "conn-a2")
	require.NoError(t, coord.Join(ctx, "conn-a2", "alice", "court1"))

	snap, err := coord.Snapshot(ctx, "court1")
	require.NoError(t, err)
	require.Len(t, snap.Users, 2)
	var alice *app.UserView
	for i := range snap.Users {
		if snap.Users[i].Username == "alice" {
			alice = &snap.Users[i]
		}
	}
	require.NotNil(t, alice)
	assert.Equal(t, "conn-a2", alice.SID)
	require.NotNil(t, alice.CurrentDocID)
	assert.Equal(t, docID, *alice.CurrentDocID)
	assert.Equal(t, 6, alice.CurrentPage)
	require.Len(t, alice.Highlights, 1)
	assert.Equal(t, "h1", alice.Highlights[0].ID)
}

func TestReapDropsStateAfterRetention(t *testing.T) {
	coord := newTestCoordinator(t)
	ctx := context.Background()

	bind(coord, "conn-a")
	require.NoError(t, coord.Join(ctx, "conn-a", "alice", "court1"))
	h := domain.Highlight{ID: "h1", DocumentID: "d1", Text: "gone soon"}
	require.NoError(t, coord.AddHighlight(ctx, "conn-a", h))
	coord.Disconnect(ctx, "conn-a")

	// Past the retention window the record is deleted for good.
	n, err := coord.Presence().Reap(ctx, 0, time.Now().UTC().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// Rejoining now starts fresh.
	bind(coord, "conn-a2")
	require.NoError(t, coord.Join(ctx, "conn-a2", "alice", "court1"))
	snap, err := coord.Snapshot(ctx, "court1")
	require.NoError(t, err)
	require.Len(t, snap.Users, 1)
	assert.Empty(t, snap.Users[0].Highlights)
	assert.Equal(t, 0, snap.Users[0].CurrentPage)
}

func TestSnapshotOfMissingRoom(t *testing.T) {
	coord := newTestCoordinator(t)

	snap, err := coord.Snapshot(context.Background(), "nowhere")
	require.NoError(t, err)
	assert.Equal(t, "nowhere", snap.Name)
	assert.NotNil(t, snap.Users)
	assert.Empty(t, snap.Users)
	assert.NotNil(t, snap.Documents)
	assert.Empty(t, snap.Documents)
}

func TestConcurrentJoinsYieldOneUser(t *testing.T) {
	coord := newTestCoordinator(t)
	ctx := context.Background()

	const n = 8
	ids := make([]domain.UserID, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		sid := fmt.Sprintf("conn-%d", i)
		bind(coord, core.ConnID(sid))
		wg.Add(1)
		go func(i int, sid string) {
			defer wg.Done()
			user, err := coord.Presence().Join(ctx, sid, "alice", "court1")
			if err != nil {
				errs[i] = err
				return
			}
			ids[i] = user.ID
		}(i, sid)
	}
	wg.Wait()

	// Every join succeeded and resolved to the same durable identity.
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
	}
	for i := 1; i < n; i++ {
		assert.Equal(t, ids[0], ids[i])
	}
	snap, err := coord.Snapshot(ctx, "court1")
	require.NoError(t, err)
	assert.Len(t, snap.Users, 1)
}
