package storage

import (
	"encoding/json"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when an insert violates a uniqueness constraint.
	ErrConflict = errors.New("conflict")
)

// Profile is a human user. Provisioned outside the generation pipeline.
type Profile struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Handle    string    `json:"handle"`
	CreatedAt time.Time `json:"created_at"`
}

// Bot is a persona author generating posts on behalf of an owning profile.
// Handle is globally unique.
type Bot struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	Handle          string    `json:"handle"`
	PersonaType     string    `json:"persona_type"`
	CreatedByUserID string    `json:"created_by_user_id"`
	Active          bool      `json:"active"`
	CreatedAt       time.Time `json:"created_at"`
}

// Post is a published question/answer pair. Exactly one of AuthorID and
// BotID is set, matching IsBot.
type Post struct {
	ID        string          `json:"id"`
	Title     string          `json:"title"`
	Content   string          `json:"content"`
	Topics    []string        `json:"topics"`
	IsBot     bool            `json:"is_bot"`
	AuthorID  string          `json:"author_id,omitempty"`
	BotID     string          `json:"bot_id,omitempty"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}
