package store

import (
	"context"
	"sort"
	"sync"

	"studymate/pkg/domain"
)

// MemoryStore keeps metadata in-process. Data is lost on restart.
type MemoryStore struct {
	mu          sync.RWMutex
	documents   []domain.DocumentMetadata
	discussions map[string][]domain.DiscussionMessage
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{discussions: make(map[string][]domain.DiscussionMessage)}
}

// InsertDocument appends a metadata record.
func (m *MemoryStore) InsertDocument(_ context.Context, doc domain.DocumentMetadata) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.documents = append(m.documents, doc)
	return nil
}

// ListDocuments returns the owner's records ordered by created_at.
func (m *MemoryStore) ListDocuments(_ context.Context, ownerID string) ([]domain.DocumentMetadata, error) {
	m.mu.RLock()
	res := make([]domain.DocumentMetadata, 0)
	for _, d := range m.documents {
		if d.UserID == ownerID {
			res = append(res, d)
		}
	}
	m.mu.RUnlock()
	sort.SliceStable(res, func(i, j int) bool {
		return res[i].CreatedAt.Before(res[j].CreatedAt)
	})
	return res, nil
}

// InsertDiscussionMessage appends a message to its document thread.
func (m *MemoryStore) InsertDiscussionMessage(_ context.Context, msg domain.DiscussionMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.discussions[msg.DocumentID] = append(m.discussions[msg.DocumentID], msg)
	return nil
}

// ListDiscussionMessages returns a copy of the thread sorted by timestamp.
// Messages with equal timestamps keep insertion order.
func (m *MemoryStore) ListDiscussionMessages(_ context.Context, documentID string) ([]domain.DiscussionMessage, error) {
	m.mu.RLock()
	res := append(make([]domain.DiscussionMessage, 0, len(m.discussions[documentID])), m.discussions[documentID]...)
	m.mu.RUnlock()
	sort.SliceStable(res, func(i, j int) bool {
		return res[i].Timestamp.Before(res[j].Timestamp)
	})
	return res, nil
}

// Close is a no-op.
func (m *MemoryStore) Close(context.Context) error {
	return nil
}
