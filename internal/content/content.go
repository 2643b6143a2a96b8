// Package content stores the library of writings and the music playlist in
// Postgres, along with login sessions.
package content

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("content: not found")

// Category classifies a writing.
type Category string

const (
	CategoryStory   Category = "story"
	CategoryJournal Category = "journal"
)

// Writing is one entry in the library of sagas and scrolls.
type Writing struct {
	ID       uuid.UUID `json:"id"`
	Title    string    `json:"title"`
	Category Category  `json:"category"`
	// PostedLabel is a display label, not a timestamp. Entries keep their
	// in-world dating ("2 moons ago").
	PostedLabel string `json:"posted"`
	Excerpt     string `json:"excerpt"`
	Body        string `json:"body,omitempty"`
}

// Track is one entry in the music playlist, ordered by Position.
type Track struct {
	ID       uuid.UUID `json:"id"`
	Title    string    `json:"title"`
	Artist   string    `json:"artist"`
	AudioURL string    `json:"audioUrl"`
	CoverURL string    `json:"coverUrl"`
	Position int       `json:"position"`
}

// Session is a logged-in visitor. Sessions are referenced by the session
// cookie and expire server-side.
type Session struct {
	ID        uuid.UUID
	UserID    string
	Email     string
	Name      string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Expired reports whether the session is past its expiry.
func (s *Session) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}
