// Package sqlite implements the storage contract over a single SQLite file.
//
// Uniqueness invariants live in the schema: a unique room name, a partial
// unique index keeping one active user per (room, username), and a unique
// (room, name) pair per document. Racing writers hit the constraint and are
// mapped to storage.ErrDuplicate, which callers resolve as a reconnect or a
// duplicate-upload rejection.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/tmadeja/lectern/internal/domain"
	"github.com/tmadeja/lectern/internal/storage"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

const schema = `
CREATE TABLE IF NOT EXISTS rooms (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL UNIQUE,
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS users (
	id              TEXT PRIMARY KEY,
	room_id         TEXT NOT NULL REFERENCES rooms(id) ON DELETE CASCADE,
	username        TEXT NOT NULL,
	sid             TEXT NOT NULL,
	current_doc_id  TEXT,
	current_page    INTEGER NOT NULL DEFAULT 0,
	highlights      TEXT NOT NULL DEFAULT '[]',
	disconnected    INTEGER NOT NULL DEFAULT 0,
	disconnected_at INTEGER,
	created_at      INTEGER NOT NULL,
	updated_at      INTEGER NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_users_active_identity
	ON users(room_id, username) WHERE disconnected = 0;
CREATE INDEX IF NOT EXISTS idx_users_sid ON users(sid);

CREATE TABLE IF NOT EXISTS documents (
	id          TEXT PRIMARY KEY,
	room_id     TEXT NOT NULL REFERENCES rooms(id) ON DELETE CASCADE,
	name        TEXT NOT NULL,
	pages       INTEGER NOT NULL,
	uploader_id TEXT REFERENCES users(id) ON DELETE SET NULL,
	created_at  INTEGER NOT NULL,
	UNIQUE (room_id, name)
);
`

// Store implements storage.Store over SQLite.
type Store struct {
	db *sql.DB
}

var _ storage.Store = (*Store)(nil)

// Open opens the store at path and applies the schema.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	dsn := filepath.Clean(path) + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// A single pooled connection keeps the foreign_keys pragma in effect for
	// every statement and sidesteps SQLITE_BUSY between writers.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// toMillis normalizes timestamps into millisecond precision for storage.
func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

// fromMillis restores millisecond precision and keeps UTC normalization.
func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}

func (s *Store) CreateRoom(ctx context.Context, room *domain.Room) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO rooms (id, name, created_at) VALUES (?, ?, ?)`,
		string(room.ID), string(room.Name), toMillis(room.CreatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrDuplicate
		}
		return fmt.Errorf("create room %q: %w", room.Name, err)
	}
	return nil
}

func (s *Store) FindRoomByName(ctx context.Context, name domain.RoomName) (*domain.Room, error) {
	var (
		room      domain.Room
		createdAt int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, created_at FROM rooms WHERE name = ?`, string(name)).
		Scan(&room.ID, &room.Name, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find room %q: %w", name, err)
	}
	room.CreatedAt = fromMillis(createdAt)
	return &room, nil
}

func (s *Store) FindRoomByID(ctx context.Context, id domain.RoomID) (*domain.Room, error) {
	var (
		room      domain.Room
		createdAt int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, created_at FROM rooms WHERE id = ?`, string(id)).
		Scan(&room.ID, &room.Name, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find room %s: %w", id, err)
	}
	room.CreatedAt = fromMillis(createdAt)
	return &room, nil
}

func (s *Store) DeleteRoom(ctx context.Context, id domain.RoomID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM rooms WHERE id = ?`, string(id))
	if err != nil {
		return fmt.Errorf("delete room %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) CreateUser(ctx context.Context, user *domain.User) error {
	highlights, err := marshalHighlights(user.Highlights)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO users
			(id, room_id, username, sid, current_doc_id, current_page, highlights,
			 disconnected, disconnected_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(user.ID), string(user.RoomID), user.Username, user.SID,
		docIDPtr(user.CurrentDocID), user.CurrentPage, highlights,
		boolToInt(user.Disconnected), timePtr(user.DisconnectedAt),
		toMillis(user.CreatedAt), toMillis(user.UpdatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrDuplicate
		}
		return fmt.Errorf("create user %q: %w", user.Username, err)
	}
	return nil
}

const userColumns = `id, room_id, username, sid, current_doc_id, current_page,
	highlights, disconnected, disconnected_at, created_at, updated_at`

func (s *Store) FindUserBySID(ctx context.Context, sid string) (*domain.User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE sid = ? AND disconnected = 0`, sid)
	user, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find user by sid: %w", err)
	}
	return user, nil
}

func (s *Store) FindUserByUsernameRoom(ctx context.Context, username string, roomID domain.RoomID, activeOnly bool) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE username = ? AND room_id = ?`
	if activeOnly {
		query += ` AND disconnected = 0`
	}
	// Active rows sort first, then the most recently disconnected one.
	query += ` ORDER BY disconnected ASC, disconnected_at DESC LIMIT 1`

	row := s.db.QueryRowContext(ctx, query, username, string(roomID))
	user, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find user %q in room: %w", username, err)
	}
	return user, nil
}

func (s *Store) RebindUser(ctx context.Context, id domain.UserID, sid string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users
		 SET sid = ?, disconnected = 0, disconnected_at = NULL, updated_at = ?
		 WHERE id = ?`,
		sid, toMillis(time.Now()), string(id))
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrDuplicate
		}
		return fmt.Errorf("rebind user %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) MarkUserDisconnected(ctx context.Context, sid string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users
		 SET disconnected = 1, disconnected_at = ?, updated_at = ?
		 WHERE sid = ? AND disconnected = 0`,
		toMillis(at), toMillis(at), sid)
	if err != nil {
		return fmt.Errorf("mark user disconnected: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteUser(ctx context.Context, id domain.UserID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, string(id))
	if err != nil {
		return fmt.Errorf("delete user %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteUsersBySID(ctx context.Context, sid string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE sid = ?`, sid); err != nil {
		return fmt.Errorf("delete users by sid: %w", err)
	}
	return nil
}

func (s *Store) ReapUsers(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM users WHERE disconnected = 1 AND disconnected_at < ?`,
		toMillis(cutoff))
	if err != nil {
		return 0, fmt.Errorf("reap users: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reap users rows affected: %w", err)
	}
	return int(n), nil
}

func (s *Store) UpdateUserView(ctx context.Context, sid string, docID *domain.DocumentID, page *int) error {
	sets := []string{"updated_at = ?"}
	args := []any{toMillis(time.Now())}
	if docID != nil {
		sets = append(sets, "current_doc_id = ?")
		if *docID == "" {
			args = append(args, nil)
		} else {
			args = append(args, string(*docID))
		}
	}
	if page != nil {
		sets = append(sets, "current_page = ?")
		args = append(args, *page)
	}
	args = append(args, sid)

	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET `+strings.Join(sets, ", ")+` WHERE sid = ? AND disconnected = 0`,
		args...)
	if err != nil {
		return fmt.Errorf("update user view: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) AddHighlight(ctx context.Context, sid string, h domain.Highlight) error {
	return s.mutateHighlights(ctx, sid, func(hs []domain.Highlight) []domain.Highlight {
		return append(hs, h)
	})
}

func (s *Store) RemoveHighlight(ctx context.Context, sid string, highlightID string) error {
	return s.mutateHighlights(ctx, sid, func(hs []domain.Highlight) []domain.Highlight {
		out := hs[:0]
		for _, h := range hs {
			if h.ID != highlightID {
				out = append(out, h)
			}
		}
		return out
	})
}

func (s *Store) ReplaceHighlights(ctx context.Context, sid string, hs []domain.Highlight) error {
	return s.mutateHighlights(ctx, sid, func([]domain.Highlight) []domain.Highlight {
		return hs
	})
}

// mutateHighlights applies fn to the user's highlight list inside a single
// transaction so the read-modify-write is atomic under concurrent writers.
func (s *Store) mutateHighlights(ctx context.Context, sid string, fn func([]domain.Highlight) []domain.Highlight) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin highlights tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var raw string
	err = tx.QueryRowContext(ctx,
		`SELECT highlights FROM users WHERE sid = ? AND disconnected = 0`, sid).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("read highlights: %w", err)
	}

	hs, err := unmarshalHighlights(raw)
	if err != nil {
		return err
	}
	updated, err := marshalHighlights(fn(hs))
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE users SET highlights = ?, updated_at = ? WHERE sid = ? AND disconnected = 0`,
		updated, toMillis(time.Now()), sid); err != nil {
		return fmt.Errorf("write highlights: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit highlights tx: %w", err)
	}
	return nil
}

func (s *Store) CreateDocument(ctx context.Context, doc *domain.Document) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (id, room_id, name, pages, uploader_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		string(doc.ID), string(doc.RoomID), doc.Name, doc.Pages,
		userIDPtr(doc.UploaderID), toMillis(doc.CreatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrDuplicate
		}
		return fmt.Errorf("create document %q: %w", doc.Name, err)
	}
	return nil
}

const documentColumns = `id, room_id, name, pages, uploader_id, created_at`

func (s *Store) FindDocumentByID(ctx context.Context, id domain.DocumentID) (*domain.Document, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE id = ?`, string(id))
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find document %s: %w", id, err)
	}
	return doc, nil
}

func (s *Store) FindDocumentByNameRoom(ctx context.Context, name string, roomID domain.RoomID) (*domain.Document, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE name = ? AND room_id = ?`,
		name, string(roomID))
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find document %q in room: %w", name, err)
	}
	return doc, nil
}

func (s *Store) ListUsersInRoom(ctx context.Context, roomID domain.RoomID) ([]domain.User, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users
		 WHERE room_id = ? AND disconnected = 0
		 ORDER BY created_at ASC, id ASC`, string(roomID))
	if err != nil {
		return nil, fmt.Errorf("list users in room: %w", err)
	}
	defer rows.Close()

	users := []domain.User{}
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, *user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	return users, nil
}

func (s *Store) ListDocumentsInRoom(ctx context.Context, roomID domain.RoomID) ([]domain.Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+documentColumns+` FROM documents
		 WHERE room_id = ?
		 ORDER BY created_at ASC, id ASC`, string(roomID))
	if err != nil {
		return nil, fmt.Errorf("list documents in room: %w", err)
	}
	defer rows.Close()

	docs := []domain.Document{}
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		docs = append(docs, *doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return docs, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*domain.User, error) {
	var (
		user           domain.User
		docID          sql.NullString
		highlights     string
		disconnected   int
		disconnectedAt sql.NullInt64
		createdAt      int64
		updatedAt      int64
	)
	err := row.Scan(&user.ID, &user.RoomID, &user.Username, &user.SID,
		&docID, &user.CurrentPage, &highlights,
		&disconnected, &disconnectedAt, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	if docID.Valid {
		id := domain.DocumentID(docID.String)
		user.CurrentDocID = &id
	}
	user.Highlights, err = unmarshalHighlights(highlights)
	if err != nil {
		return nil, err
	}
	user.Disconnected = disconnected != 0
	if disconnectedAt.Valid {
		at := fromMillis(disconnectedAt.Int64)
		user.DisconnectedAt = &at
	}
	user.CreatedAt = fromMillis(createdAt)
	user.UpdatedAt = fromMillis(updatedAt)
	return &user, nil
}

func scanDocument(row rowScanner) (*domain.Document, error) {
	var (
		doc        domain.Document
		uploaderID sql.NullString
		createdAt  int64
	)
	err := row.Scan(&doc.ID, &doc.RoomID, &doc.Name, &doc.Pages, &uploaderID, &createdAt)
	if err != nil {
		return nil, err
	}
	if uploaderID.Valid {
		id := domain.UserID(uploaderID.String)
		doc.UploaderID = &id
	}
	doc.CreatedAt = fromMillis(createdAt)
	return &doc, nil
}

func marshalHighlights(hs []domain.Highlight) (string, error) {
	if hs == nil {
		hs = []domain.Highlight{}
	}
	b, err := json.Marshal(hs)
	if err != nil {
		return "", fmt.Errorf("marshal highlights: %w", err)
	}
	return string(b), nil
}

func unmarshalHighlights(raw string) ([]domain.Highlight, error) {
	hs := []domain.Highlight{}
	if raw == "" {
		return hs, nil
	}
	if err := json.Unmarshal([]byte(raw), &hs); err != nil {
		return nil, fmt.Errorf("unmarshal highlights: %w", err)
	}
	return hs, nil
}

func docIDPtr(id *domain.DocumentID) any {
	if id == nil {
		return nil
	}
	return string(*id)
}

func userIDPtr(id *domain.UserID) any {
	if id == nil {
		return nil
	}
	return string(*id)
}

func timePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return toMillis(*t)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
