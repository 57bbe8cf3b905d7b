package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrDocumentNameEmpty = errors.New("document name empty")
	ErrDocumentNoPages   = errors.New("document page count must be positive")
)

type DocumentID string

// Document is an uploaded paginated file registered in a room. Identity is
// (Name, RoomID). UploaderID is nil once the uploading user has been reaped.
type Document struct {
	ID         DocumentID `json:"id"`
	RoomID     RoomID     `json:"room_id"`
	Name       string     `json:"name"`
	Pages      int        `json:"pages"`
	UploaderID *UserID    `json:"uploader_id"`
	CreatedAt  time.Time  `json:"-"`
}

func NewDocument(name string, pages int, roomID RoomID, uploaderID UserID) (*Document, error) {
	if len(name) == 0 {
		return nil, ErrDocumentNameEmpty
	}
	if pages <= 0 {
		return nil, ErrDocumentNoPages
	}
	uid := uploaderID
	return &Document{
		ID:         DocumentID(uuid.NewString()),
		RoomID:     roomID,
		Name:       name,
		Pages:      pages,
		UploaderID: &uid,
		CreatedAt:  time.Now().UTC(),
	}, nil
}
