package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"studymate/pkg/domain"
)

func newSQLiteStore(t *testing.T) *GormStore {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "studymate.db") + "?_pragma=busy_timeout(5000)"
	s, err := OpenGormStore(sqlite.Open(dsn))
	if err != nil {
		t.Fatalf("open sqlite store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s
}

func storeImplementations(t *testing.T) map[string]Store {
	impls := map[string]Store{
		"memory": NewMemoryStore(),
		"gorm":   newSQLiteStore(t),
	}
	if uri := os.Getenv("STUDYMATE_TEST_MONGO_URI"); uri != "" {
		s, err := NewMongoStore(context.Background(), uri, "studymate_test_"+time.Now().Format("20060102150405"))
		if err != nil {
			t.Fatalf("open mongo store: %v", err)
		}
		t.Cleanup(func() {
			_ = s.documents.Database().Drop(context.Background())
			_ = s.Close(context.Background())
		})
		impls["mongo"] = s
	}
	return impls
}

func TestDocumentsAreScopedToOwner(t *testing.T) {
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	for name, s := range storeImplementations(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			docs := []domain.DocumentMetadata{
				{Title: "Cells", Subject: "Biology", Topic: "Mitosis", StoragePath: "u1/cells.pdf", UserID: "u1", CreatedAt: base},
				{Title: "Atoms", Subject: "Chemistry", Topic: "Bonds", StoragePath: "u2/atoms.pdf", UserID: "u2", CreatedAt: base.Add(time.Minute)},
				{Title: "Cells v2", Subject: "Biology", Topic: "Mitosis", StoragePath: "u1/cells.pdf", UserID: "u1", CreatedAt: base.Add(2 * time.Minute)},
			}
			for _, d := range docs {
				if err := s.InsertDocument(ctx, d); err != nil {
					t.Fatalf("insert document: %v", err)
				}
			}

			got, err := s.ListDocuments(ctx, "u1")
			if err != nil {
				t.Fatalf("list documents: %v", err)
			}
			if len(got) != 2 {
				t.Fatalf("expected duplicate storage paths kept as two records, got %d", len(got))
			}
			if got[0].Title != "Cells" || got[1].Title != "Cells v2" {
				t.Fatalf("unexpected order %+v", got)
			}
			if !got[0].CreatedAt.Equal(base) || got[0].StoragePath != "u1/cells.pdf" {
				t.Fatalf("unexpected record %+v", got[0])
			}

			none, err := s.ListDocuments(ctx, "u3")
			if err != nil || len(none) != 0 {
				t.Fatalf("expected no documents for u3, got %v err=%v", none, err)
			}
		})
	}
}

func TestDiscussionMessagesOrderedByTimestamp(t *testing.T) {
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	for name, s := range storeImplementations(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			msgs := []domain.DiscussionMessage{
				{DocumentID: "d1", UserID: "u2", UserName: "Bo", Message: "second", Timestamp: base.Add(time.Second)},
				{DocumentID: "d1", UserID: "u1", UserName: "Ada", Message: "first", Timestamp: base},
				{DocumentID: "d2", UserID: "u1", UserName: "Ada", Message: "elsewhere", Timestamp: base},
				{DocumentID: "d1", UserID: "u3", UserName: domain.AnonymousName, Message: "third", Timestamp: base.Add(2 * time.Second)},
			}
			for _, m := range msgs {
				if err := s.InsertDiscussionMessage(ctx, m); err != nil {
					t.Fatalf("insert message: %v", err)
				}
			}
			got, err := s.ListDiscussionMessages(ctx, "d1")
			if err != nil {
				t.Fatalf("list messages: %v", err)
			}
			want := []string{"first", "second", "third"}
			if len(got) != len(want) {
				t.Fatalf("expected %d messages, got %d", len(want), len(got))
			}
			for i, w := range want {
				if got[i].Message != w || got[i].DocumentID != "d1" {
					t.Fatalf("message %d = %+v, want %q", i, got[i], w)
				}
			}
			if got[2].UserName != domain.AnonymousName {
				t.Fatalf("expected user name preserved, got %q", got[2].UserName)
			}
		})
	}
}

func TestConcurrentPostsListInTimestampOrder(t *testing.T) {
	const posts = 24
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	for name, s := range storeImplementations(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			start := make(chan struct{})
			errs := make(chan error, posts)
			var wg sync.WaitGroup
			// Later timestamps are launched first so completion order fights the
			// expected order.
			for i := posts - 1; i >= 0; i-- {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					<-start
					errs <- s.InsertDiscussionMessage(ctx, domain.DiscussionMessage{
						DocumentID: "race",
						UserID:     fmt.Sprintf("u%d", i%3),
						UserName:   "Ada",
						Message:    fmt.Sprintf("m%02d", i),
						Timestamp:  base.Add(time.Duration(i) * time.Millisecond),
					})
				}(i)
			}
			close(start)
			wg.Wait()
			close(errs)
			for err := range errs {
				if err != nil {
					t.Fatalf("concurrent insert: %v", err)
				}
			}

			got, err := s.ListDiscussionMessages(ctx, "race")
			if err != nil {
				t.Fatalf("list messages: %v", err)
			}
			if len(got) != posts {
				t.Fatalf("expected %d messages, got %d", posts, len(got))
			}
			for i, m := range got {
				if want := fmt.Sprintf("m%02d", i); m.Message != want {
					t.Fatalf("message %d = %q, want %q", i, m.Message, want)
				}
				if i > 0 && got[i].Timestamp.Before(got[i-1].Timestamp) {
					t.Fatalf("timestamps decrease at %d", i)
				}
			}
		})
	}
}

func TestConcurrentUploadsListInCreationOrder(t *testing.T) {
	const uploads = 12
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	for name, s := range storeImplementations(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			var wg sync.WaitGroup
			errs := make(chan error, uploads)
			for i := uploads - 1; i >= 0; i-- {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					errs <- s.InsertDocument(ctx, domain.DocumentMetadata{
						Title:       fmt.Sprintf("d%02d", i),
						StoragePath: fmt.Sprintf("u1/d%02d.pdf", i),
						UserID:      "u1",
						CreatedAt:   base.Add(time.Duration(i) * time.Second),
					})
				}(i)
			}
			wg.Wait()
			close(errs)
			for err := range errs {
				if err != nil {
					t.Fatalf("concurrent insert: %v", err)
				}
			}
			got, err := s.ListDocuments(ctx, "u1")
			if err != nil || len(got) != uploads {
				t.Fatalf("list documents: %d %v", len(got), err)
			}
			for i, d := range got {
				if want := fmt.Sprintf("d%02d", i); d.Title != want {
					t.Fatalf("document %d = %q, want %q", i, d.Title, want)
				}
			}
		})
	}
}

func TestMongoRecordsUseSnakeCaseFields(t *testing.T) {
	raw, err := bson.Marshal(documentToRecord(domain.DocumentMetadata{
		Title: "t", StoragePath: "u1/t.pdf", UserID: "u1", CreatedAt: time.Now(),
	}))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var fields bson.M
	if err := bson.Unmarshal(raw, &fields); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, key := range []string{"title", "subject", "topic", "storage_path", "user_id", "created_at"} {
		if _, ok := fields[key]; !ok {
			t.Fatalf("expected field %q in %v", key, fields)
		}
	}
	if _, ok := fields["_id"]; ok {
		t.Fatalf("record must not carry its own _id")
	}
	if _, ok := fields["created_at"].(primitive.DateTime); !ok {
		t.Fatalf("created_at must be written as a BSON datetime, got %T", fields["created_at"])
	}
}

func TestMongoRecordsDecodeIsoformatStrings(t *testing.T) {
	tests := []struct {
		stored any
		want   time.Time
	}{
		{stored: "2024-05-01T08:30:00.123456", want: time.Date(2024, 5, 1, 8, 30, 0, 123456000, time.UTC)},
		{stored: "2024-05-01T08:30:00", want: time.Date(2024, 5, 1, 8, 30, 0, 0, time.UTC)},
		{stored: "2024-05-01T10:30:00+02:00", want: time.Date(2024, 5, 1, 8, 30, 0, 0, time.UTC)},
		{stored: "2024-05-01 08:30:00.5", want: time.Date(2024, 5, 1, 8, 30, 0, 500000000, time.UTC)},
		{stored: time.Date(2024, 5, 1, 8, 30, 0, 0, time.UTC), want: time.Date(2024, 5, 1, 8, 30, 0, 0, time.UTC)},
	}
	for _, tc := range tests {
		raw, err := bson.Marshal(bson.D{
			{Key: "document_id", Value: "d1"},
			{Key: "user_id", Value: "u1"},
			{Key: "user_name", Value: "Ada"},
			{Key: "message", Value: "hi"},
			{Key: "timestamp", Value: tc.stored},
		})
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		var rec discussionRecord
		if err := bson.Unmarshal(raw, &rec); err != nil {
			t.Fatalf("decode %v: %v", tc.stored, err)
		}
		got := discussionFromRecord(rec)
		if !got.Timestamp.Equal(tc.want) || got.Timestamp.Location() != time.UTC {
			t.Fatalf("decode %v = %v, want %v", tc.stored, got.Timestamp, tc.want)
		}
	}

	raw, err := bson.Marshal(bson.D{{Key: "created_at", Value: "yesterday"}})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var rec documentRecord
	if err := bson.Unmarshal(raw, &rec); err == nil {
		t.Fatalf("expected unparseable timestamp to fail")
	}
}
