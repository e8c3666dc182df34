package domain

import (
	"strings"
	"time"
)

// AnonymousName is shown for posters whose token carries neither name nor email.
const AnonymousName = "Anonymous"

// Principal is the verified caller of a request. It is never persisted.
type Principal struct {
	UID   string `json:"uid"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
}

// DisplayName prefers the name claim, then email, then AnonymousName.
func (p Principal) DisplayName() string {
	if name := strings.TrimSpace(p.Name); name != "" {
		return name
	}
	if email := strings.TrimSpace(p.Email); email != "" {
		return email
	}
	return AnonymousName
}

// DocumentMetadata describes one uploaded study artifact.
type DocumentMetadata struct {
	Title       string    `json:"title"`
	Subject     string    `json:"subject"`
	Topic       string    `json:"topic"`
	StoragePath string    `json:"storage_path"`
	UserID      string    `json:"user_id"`
	CreatedAt   time.Time `json:"created_at"`
}

// DiscussionMessage is one post in a document's discussion thread.
type DiscussionMessage struct {
	DocumentID string    `json:"document_id"`
	UserID     string    `json:"user_id"`
	UserName   string    `json:"user_name"`
	Message    string    `json:"message"`
	Timestamp  time.Time `json:"timestamp"`
}
