// Package domain contains entities without logic, just meta-data.
package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

const MaxUsernameLen = 36

var (
	ErrUsernameEmpty   = errors.New("username empty")
	ErrUsernameTooLong = errors.New("username too long")
)

type UserID string

// Highlight is a client-assigned text marking on one page of a document.
// The id is opaque to the server and unique within the owning user's list.
type Highlight struct {
	ID           string     `json:"id"`
	DocumentID   DocumentID `json:"documentId"`
	Text         string     `json:"text"`
	SelectedText string     `json:"selectedText,omitempty"`
	PageNumber   int        `json:"pageNumber"`
	BoundingBox  *Box       `json:"boundingBox,omitempty"`
	UserID       UserID     `json:"userId,omitempty"`
	Username     string     `json:"username,omitempty"`
	Timestamp    int64      `json:"timestamp,omitempty"`
}

type Box struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// User is one participant of a room. Identity is (Username, RoomID); the
// connection id SID is transient and rebound on reconnect.
type User struct {
	ID             UserID      `json:"id"`
	RoomID         RoomID      `json:"room_id"`
	Username       string      `json:"username"`
	SID            string      `json:"sid"`
	CurrentDocID   *DocumentID `json:"current_doc_id"`
	CurrentPage    int         `json:"current_page"`
	Highlights     []Highlight `json:"highlights"`
	Disconnected   bool        `json:"-"`
	DisconnectedAt *time.Time  `json:"-"`
	CreatedAt      time.Time   `json:"-"`
	UpdatedAt      time.Time   `json:"-"`
}

// NewUser is a tiny helper to avoid ad-hoc struct literals in adapters.
func NewUser(sid, username string, roomID RoomID) (*User, error) {
	if len(username) == 0 {
		return nil, ErrUsernameEmpty
	}
	if len(username) > MaxUsernameLen {
		return nil, ErrUsernameTooLong
	}
	now := time.Now().UTC()
	return &User{
		ID:         UserID(uuid.NewString()),
		RoomID:     roomID,
		Username:   username,
		SID:        sid,
		Highlights: []Highlight{},
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}
