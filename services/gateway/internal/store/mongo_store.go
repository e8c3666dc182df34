package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"studymate/pkg/domain"
)

const (
	documentsCollection   = "documents"
	discussionsCollection = "discussions"
)

// MongoStore implements Store on MongoDB. The _id field is never returned.
type MongoStore struct {
	client      *mongo.Client
	documents   *mongo.Collection
	discussions *mongo.Collection
}

type documentRecord struct {
	Title       string    `bson:"title"`
	Subject     string    `bson:"subject"`
	Topic       string    `bson:"topic"`
	StoragePath string    `bson:"storage_path"`
	UserID      string    `bson:"user_id"`
	CreatedAt   mongoTime `bson:"created_at"`
}

type discussionRecord struct {
	DocumentID string    `bson:"document_id"`
	UserID     string    `bson:"user_id"`
	UserName   string    `bson:"user_name"`
	Message    string    `bson:"message"`
	Timestamp  mongoTime `bson:"timestamp"`
}

// mongoTime is written as a BSON datetime. Reads also accept the ISO 8601
// strings found in older collections; a naive string is taken as UTC.
type mongoTime time.Time

var isoLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05",
}

func (t mongoTime) MarshalBSONValue() (bsontype.Type, []byte, error) {
	return bson.MarshalValue(time.Time(t).UTC())
}

func (t *mongoTime) UnmarshalBSONValue(typ bsontype.Type, data []byte) error {
	raw := bson.RawValue{Type: typ, Value: data}
	switch typ {
	case bsontype.DateTime:
		*t = mongoTime(raw.Time().UTC())
		return nil
	case bsontype.String:
		parsed, err := parseISOTime(raw.StringValue())
		if err != nil {
			return err
		}
		*t = mongoTime(parsed)
		return nil
	case bsontype.Null, bsontype.Undefined:
		*t = mongoTime(time.Time{})
		return nil
	default:
		return fmt.Errorf("decode time: unsupported bson type %s", typ)
	}
}

func parseISOTime(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	for _, layout := range isoLayouts {
		if parsed, err := time.Parse(layout, value); err == nil {
			return parsed.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("decode time: unrecognised timestamp %q", value)
}

// NewMongoStore connects, pings and ensures indexes.
func NewMongoStore(ctx context.Context, uri, database string) (*MongoStore, error) {
	if strings.TrimSpace(uri) == "" {
		return nil, fmt.Errorf("mongo uri required")
	}
	if strings.TrimSpace(database) == "" {
		return nil, fmt.Errorf("mongo database name required")
	}
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	db := client.Database(database)
	s := &MongoStore{
		client:      client,
		documents:   db.Collection(documentsCollection),
		discussions: db.Collection(discussionsCollection),
	}
	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	return s, nil
}

func (s *MongoStore) ensureIndexes(ctx context.Context) error {
	if _, err := s.documents.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: 1}},
	}); err != nil {
		return fmt.Errorf("create documents index: %w", err)
	}
	if _, err := s.discussions.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "document_id", Value: 1}, {Key: "timestamp", Value: 1}},
	}); err != nil {
		return fmt.Errorf("create discussions index: %w", err)
	}
	return nil
}

// InsertDocument appends a metadata document.
func (s *MongoStore) InsertDocument(ctx context.Context, doc domain.DocumentMetadata) error {
	if _, err := s.documents.InsertOne(ctx, documentToRecord(doc)); err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

// ListDocuments returns the owner's documents ordered by created_at.
func (s *MongoStore) ListDocuments(ctx context.Context, ownerID string) ([]domain.DocumentMetadata, error) {
	opts := options.Find().
		SetProjection(bson.M{"_id": 0}).
		SetSort(bson.D{{Key: "created_at", Value: 1}})
	cur, err := s.documents.Find(ctx, bson.M{"user_id": ownerID}, opts)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	var records []documentRecord
	if err := cur.All(ctx, &records); err != nil {
		return nil, fmt.Errorf("decode documents: %w", err)
	}
	res := make([]domain.DocumentMetadata, 0, len(records))
	for _, r := range records {
		res = append(res, documentFromRecord(r))
	}
	return res, nil
}

// InsertDiscussionMessage appends a message document.
func (s *MongoStore) InsertDiscussionMessage(ctx context.Context, msg domain.DiscussionMessage) error {
	if _, err := s.discussions.InsertOne(ctx, discussionToRecord(msg)); err != nil {
		return fmt.Errorf("insert discussion message: %w", err)
	}
	return nil
}

// ListDiscussionMessages returns the thread sorted by timestamp ascending.
func (s *MongoStore) ListDiscussionMessages(ctx context.Context, documentID string) ([]domain.DiscussionMessage, error) {
	opts := options.Find().
		SetProjection(bson.M{"_id": 0}).
		SetSort(bson.D{{Key: "timestamp", Value: 1}, {Key: "_id", Value: 1}})
	cur, err := s.discussions.Find(ctx, bson.M{"document_id": documentID}, opts)
	if err != nil {
		return nil, fmt.Errorf("list discussion messages: %w", err)
	}
	var records []discussionRecord
	if err := cur.All(ctx, &records); err != nil {
		return nil, fmt.Errorf("decode discussion messages: %w", err)
	}
	res := make([]domain.DiscussionMessage, 0, len(records))
	for _, r := range records {
		res = append(res, discussionFromRecord(r))
	}
	return res, nil
}

// Close disconnects the client.
func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func documentToRecord(d domain.DocumentMetadata) documentRecord {
	return documentRecord{
		Title:       d.Title,
		Subject:     d.Subject,
		Topic:       d.Topic,
		StoragePath: d.StoragePath,
		UserID:      d.UserID,
		CreatedAt:   mongoTime(d.CreatedAt),
	}
}

func documentFromRecord(r documentRecord) domain.DocumentMetadata {
	return domain.DocumentMetadata{
		Title:       r.Title,
		Subject:     r.Subject,
		Topic:       r.Topic,
		StoragePath: r.StoragePath,
		UserID:      r.UserID,
		CreatedAt:   time.Time(r.CreatedAt).UTC(),
	}
}

func discussionToRecord(m domain.DiscussionMessage) discussionRecord {
	return discussionRecord{
		DocumentID: m.DocumentID,
		UserID:     m.UserID,
		UserName:   m.UserName,
		Message:    m.Message,
		Timestamp:  mongoTime(m.Timestamp),
	}
}

func discussionFromRecord(r discussionRecord) domain.DiscussionMessage {
	return domain.DiscussionMessage{
		DocumentID: r.DocumentID,
		UserID:     r.UserID,
		UserName:   r.UserName,
		Message:    r.Message,
		Timestamp:  time.Time(r.Timestamp).UTC(),
	}
}
