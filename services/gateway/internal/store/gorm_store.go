package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"studymate/pkg/domain"
)

// GormStore implements Store using GORM. Postgres in production.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens a Postgres database and runs auto-migrations.
func NewGormStore(dsn string) (*GormStore, error) {
	return OpenGormStore(postgres.Open(dsn))
}

// OpenGormStore runs auto-migrations on any GORM dialector.
func OpenGormStore(dialector gorm.Dialector) (*GormStore, error) {
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.AutoMigrate(&DocumentModel{}, &DiscussionModel{}); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}
	return &GormStore{db: db}, nil
}

// InsertDocument appends a metadata row.
func (s *GormStore) InsertDocument(ctx context.Context, doc domain.DocumentMetadata) error {
	model := documentToModel(uuid.NewString(), doc)
	if err := s.db.WithContext(ctx).Create(&model).Error; err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

// ListDocuments returns the owner's rows ordered by created_at.
func (s *GormStore) ListDocuments(ctx context.Context, ownerID string) ([]domain.DocumentMetadata, error) {
	var models []DocumentModel
	if err := s.db.WithContext(ctx).Where("user_id = ?", ownerID).Order("created_at ASC").Find(&models).Error; err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	res := make([]domain.DocumentMetadata, 0, len(models))
	for _, m := range models {
		res = append(res, documentFromModel(m))
	}
	return res, nil
}

// InsertDiscussionMessage appends a message row.
func (s *GormStore) InsertDiscussionMessage(ctx context.Context, msg domain.DiscussionMessage) error {
	model := discussionToModel(uuid.NewString(), msg)
	if err := s.db.WithContext(ctx).Create(&model).Error; err != nil {
		return fmt.Errorf("insert discussion message: %w", err)
	}
	return nil
}

// ListDiscussionMessages returns the thread ordered by timestamp.
func (s *GormStore) ListDiscussionMessages(ctx context.Context, documentID string) ([]domain.DiscussionMessage, error) {
	var models []DiscussionModel
	if err := s.db.WithContext(ctx).Where("document_id = ?", documentID).Order(clause.OrderByColumn{Column: clause.Column{Name: "timestamp"}}).Find(&models).Error; err != nil {
		return nil, fmt.Errorf("list discussion messages: %w", err)
	}
	res := make([]domain.DiscussionMessage, 0, len(models))
	for _, m := range models {
		res = append(res, discussionFromModel(m))
	}
	return res, nil
}

// Close closes the underlying connection pool.
func (s *GormStore) Close(context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
