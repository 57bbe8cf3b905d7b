package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/tmadeja/lectern/internal/domain"
	"github.com/tmadeja/lectern/internal/storage"
)

// DocumentRegistry enforces per-room document-name uniqueness and records
// upload provenance. Page counts arrive from the ingest collaborator; the
// registry never opens file contents.
type DocumentRegistry struct {
	store storage.Store
}

func NewDocumentRegistry(store storage.Store) *DocumentRegistry {
	return &DocumentRegistry{store: store}
}

// Register creates the document or fails with ErrDuplicateDocument when the
// room already holds one with the same name. Uploads are rejected, never
// overwritten.
func (r *DocumentRegistry) Register(ctx context.Context, roomID domain.RoomID, name string, pages int, uploader domain.UserID) (*domain.Document, error) {
	doc, err := domain.NewDocument(name, pages, roomID, uploader)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrValidation, err)
	}
	err = r.store.CreateDocument(ctx, doc)
	if errors.Is(err, storage.ErrDuplicate) {
		return nil, ErrDuplicateDocument
	}
	if err != nil {
		return nil, fmt.Errorf("create document: %w", err)
	}
	log.Info().Str("module", "app.documents").Str("name", name).Str("doc_id", string(doc.ID)).Msg("document registered")
	return doc, nil
}

func (r *DocumentRegistry) Lookup(ctx context.Context, roomID domain.RoomID, name string) (*domain.Document, error) {
	return r.store.FindDocumentByNameRoom(ctx, name, roomID)
}
