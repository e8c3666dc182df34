// Package store persists document metadata and discussion messages.
package store

import (
	"context"

	"studymate/pkg/domain"
)

// Store is the metadata store used by the request pipeline. Records are
// append-only. Implementations must not leak internal identifiers.
type Store interface {
	InsertDocument(ctx context.Context, doc domain.DocumentMetadata) error
	ListDocuments(ctx context.Context, ownerID string) ([]domain.DocumentMetadata, error)
	InsertDiscussionMessage(ctx context.Context, msg domain.DiscussionMessage) error
	// ListDiscussionMessages returns every message for documentID, oldest first.
	ListDiscussionMessages(ctx context.Context, documentID string) ([]domain.DiscussionMessage, error)
	Close(ctx context.Context) error
}
