package store

import (
	"time"

	"studymate/pkg/domain"
)

// DocumentModel is the SQL row for a DocumentMetadata record.
type DocumentModel struct {
	ID          string    `gorm:"primaryKey;size:36"`
	UserID      string    `gorm:"not null;index"`
	Title       string    `gorm:"not null"`
	Subject     string    `gorm:"not null"`
	Topic       string    `gorm:"not null"`
	StoragePath string    `gorm:"not null;index"`
	CreatedAt   time.Time `gorm:"not null"`
}

// TableName pins the table name.
func (DocumentModel) TableName() string { return "documents" }

// DiscussionModel is the SQL row for a DiscussionMessage.
type DiscussionModel struct {
	ID         string    `gorm:"primaryKey;size:36"`
	DocumentID string    `gorm:"not null;index:idx_discussions_document_ts,priority:1"`
	UserID     string    `gorm:"not null"`
	UserName   string    `gorm:"not null"`
	Message    string    `gorm:"not null"`
	Timestamp  time.Time `gorm:"not null;index:idx_discussions_document_ts,priority:2"`
}

// TableName pins the table name.
func (DiscussionModel) TableName() string { return "discussions" }

func documentToModel(id string, d domain.DocumentMetadata) DocumentModel {
	return DocumentModel{
		ID:          id,
		UserID:      d.UserID,
		Title:       d.Title,
		Subject:     d.Subject,
		Topic:       d.Topic,
		StoragePath: d.StoragePath,
		CreatedAt:   d.CreatedAt.UTC(),
	}
}

func documentFromModel(m DocumentModel) domain.DocumentMetadata {
	return domain.DocumentMetadata{
		Title:       m.Title,
		Subject:     m.Subject,
		Topic:       m.Topic,
		StoragePath: m.StoragePath,
		UserID:      m.UserID,
		CreatedAt:   m.CreatedAt.UTC(),
	}
}

func discussionToModel(id string, msg domain.DiscussionMessage) DiscussionModel {
	return DiscussionModel{
		ID:         id,
		DocumentID: msg.DocumentID,
		UserID:     msg.UserID,
		UserName:   msg.UserName,
		Message:    msg.Message,
		Timestamp:  msg.Timestamp.UTC(),
	}
}

func discussionFromModel(m DiscussionModel) domain.DiscussionMessage {
	return domain.DiscussionMessage{
		DocumentID: m.DocumentID,
		UserID:     m.UserID,
		UserName:   m.UserName,
		Message:    m.Message,
		Timestamp:  m.Timestamp.UTC(),
	}
}
