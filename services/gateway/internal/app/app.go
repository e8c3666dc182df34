package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"studymate/internal/util"
	"studymate/pkg/domain"
	"studymate/pkg/pdftext"
	"studymate/services/gateway/internal/storage"
	"studymate/services/gateway/internal/store"
)

const (
	defaultUpstreamTimeout = 60 * time.Second
	defaultPresignExpiry   = 15 * time.Minute

	// maxSequentialCalls is the longest chain of upstream calls one request
	// makes: a failed upload runs verify, store, insert, list and remove.
	maxSequentialCalls = 5
)

// Authenticator verifies bearer tokens.
type Authenticator interface {
	Verify(ctx context.Context, token string) (domain.Principal, error)
}

// Blobs is the blob gateway used by the pipeline.
type Blobs interface {
	Store(ctx context.Context, owner, filename string, r io.Reader, size int64, contentType string) (string, error)
	Fetch(ctx context.Context, storagePath string) ([]byte, error)
	Remove(ctx context.Context, storagePath string) error
	DownloadURL(ctx context.Context, storagePath string, expiry time.Duration) (string, error)
}

// Assistant runs AI operations over extracted text.
type Assistant interface {
	Summarize(ctx context.Context, text string) (string, error)
	Explain(ctx context.Context, text string) (string, error)
	GenerateQuiz(ctx context.Context, text string, n int) ([]string, error)
	Answer(ctx context.Context, text, question string) (string, error)
	SynthesizeSpeech(ctx context.Context, text string) ([]byte, error)
}

// UpstreamObserver records dependency calls. Optional.
type UpstreamObserver interface {
	ObserveUpstream(dependency, operation string, err error, duration time.Duration)
}

// Config wires the pipeline's collaborators.
type Config struct {
	Auth            Authenticator
	Blobs           Blobs
	Store           store.Store
	Extractor       pdftext.Extractor
	Assistant       Assistant
	Observer        UpstreamObserver
	UpstreamTimeout time.Duration
	PresignExpiry   time.Duration
	Now             func() time.Time
}

// App implements the StudyMate request pipelines.
type App struct {
	auth            Authenticator
	blobs           Blobs
	store           store.Store
	extractor       pdftext.Extractor
	assistant       Assistant
	observer        UpstreamObserver
	upstreamTimeout time.Duration
	presignExpiry   time.Duration
	now             func() time.Time
}

// UploadInput is one document upload.
type UploadInput struct {
	Filename    string
	ContentType string
	Size        int64
	Body        io.Reader
	Title       string
	Subject     string
	Topic       string
}

// New validates cfg and constructs the application.
func New(cfg Config) (*App, error) {
	switch {
	case cfg.Auth == nil:
		return nil, errors.New("authenticator required")
	case cfg.Blobs == nil:
		return nil, errors.New("blob gateway required")
	case cfg.Store == nil:
		return nil, errors.New("metadata store required")
	case cfg.Extractor == nil:
		return nil, errors.New("text extractor required")
	case cfg.Assistant == nil:
		return nil, errors.New("ai assistant required")
	}
	a := &App{
		auth:            cfg.Auth,
		blobs:           cfg.Blobs,
		store:           cfg.Store,
		extractor:       cfg.Extractor,
		assistant:       cfg.Assistant,
		observer:        cfg.Observer,
		upstreamTimeout: cfg.UpstreamTimeout,
		presignExpiry:   cfg.PresignExpiry,
		now:             cfg.Now,
	}
	if a.upstreamTimeout <= 0 {
		a.upstreamTimeout = defaultUpstreamTimeout
	}
	if a.presignExpiry <= 0 {
		a.presignExpiry = defaultPresignExpiry
	}
	if a.now == nil {
		a.now = time.Now
	}
	return a, nil
}

// RequestBudget is the worst-case time one request spends in upstream calls.
func (a *App) RequestBudget() time.Duration {
	return maxSequentialCalls * a.upstreamTimeout
}

// Authenticate verifies a bearer token.
func (a *App) Authenticate(ctx context.Context, token string) (domain.Principal, error) {
	if strings.TrimSpace(token) == "" {
		return domain.Principal{}, opError("Authentication", ErrUnauthenticated, errors.New("missing bearer token"))
	}
	var p domain.Principal
	err := a.call(ctx, "identity", "verify", func(ctx context.Context) error {
		var err error
		p, err = a.auth.Verify(ctx, token)
		return err
	})
	if err != nil {
		return domain.Principal{}, opError("Authentication", ErrUnauthenticated, err)
	}
	return p, nil
}

// UploadDocument stores the payload and records its metadata. When the
// metadata insert fails the stored blob is removed again, unless an earlier
// committed document of the caller still references the same path.
func (a *App) UploadDocument(ctx context.Context, p domain.Principal, in UploadInput) (domain.DocumentMetadata, error) {
	const op = "Document upload"
	if _, ok := storage.NormalizeContentType(in.ContentType); !ok {
		return domain.DocumentMetadata{}, opError(op, ErrUnsupportedMediaType,
			fmt.Errorf("content type %q is not allowed; use application/pdf, image/jpeg or image/png", in.ContentType))
	}
	if in.Body == nil {
		return domain.DocumentMetadata{}, opError(op, ErrInvalidRequest, errors.New("file is required"))
	}

	var storagePath string
	err := a.call(ctx, "blob", "store", func(ctx context.Context) error {
		var err error
		storagePath, err = a.blobs.Store(ctx, p.UID, in.Filename, in.Body, in.Size, in.ContentType)
		return err
	})
	switch {
	case errors.Is(err, storage.ErrInvalidFilename):
		return domain.DocumentMetadata{}, opError(op, ErrInvalidRequest, err)
	case errors.Is(err, storage.ErrUnsupportedContentType):
		return domain.DocumentMetadata{}, opError(op, ErrUnsupportedMediaType, err)
	case err != nil:
		return domain.DocumentMetadata{}, opError(op, ErrStorageUnavailable, err)
	}

	doc := domain.DocumentMetadata{
		Title:       in.Title,
		Subject:     in.Subject,
		Topic:       in.Topic,
		StoragePath: storagePath,
		UserID:      p.UID,
		CreatedAt:   a.now().UTC(),
	}
	err = a.call(ctx, "store", "insert_document", func(ctx context.Context) error {
		return a.store.InsertDocument(ctx, doc)
	})
	if err != nil {
		a.compensateUpload(ctx, p.UID, storagePath, err)
		return domain.DocumentMetadata{}, opError(op, ErrPersistence, err)
	}
	return doc, nil
}

func (a *App) compensateUpload(ctx context.Context, owner, storagePath string, cause error) {
	logger := util.LoggerFromContext(ctx)
	// The request context may already be done; cleanup gets its own deadline.
	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.upstreamTimeout)
	defer cancel()

	referenced, err := a.blobReferenced(cleanupCtx, owner, storagePath)
	if err != nil {
		logger.Error("orphaned_blob",
			"storage_path", storagePath,
			"insert_error", cause.Error(),
			"reference_check_error", err.Error(),
		)
		return
	}
	if referenced {
		// Same-name re-upload: the earlier row now resolves to the new bytes.
		logger.Warn("upload_blob_retained", "storage_path", storagePath, "insert_error", cause.Error())
		return
	}

	err = a.call(cleanupCtx, "blob", "remove", func(ctx context.Context) error {
		return a.blobs.Remove(ctx, storagePath)
	})
	if err != nil {
		logger.Error("orphaned_blob",
			"storage_path", storagePath,
			"insert_error", cause.Error(),
			"remove_error", err.Error(),
		)
		return
	}
	logger.Warn("upload_rolled_back", "storage_path", storagePath, "insert_error", cause.Error())
}

// blobReferenced reports whether a committed document of owner points at
// storagePath.
func (a *App) blobReferenced(ctx context.Context, owner, storagePath string) (bool, error) {
	var docs []domain.DocumentMetadata
	err := a.call(ctx, "store", "list_documents", func(ctx context.Context) error {
		var err error
		docs, err = a.store.ListDocuments(ctx, owner)
		return err
	})
	if err != nil {
		return false, err
	}
	for _, doc := range docs {
		if doc.StoragePath == storagePath {
			return true, nil
		}
	}
	return false, nil
}

// ListDocuments returns the caller's documents.
func (a *App) ListDocuments(ctx context.Context, p domain.Principal) ([]domain.DocumentMetadata, error) {
	var docs []domain.DocumentMetadata
	err := a.call(ctx, "store", "list_documents", func(ctx context.Context) error {
		var err error
		docs, err = a.store.ListDocuments(ctx, p.UID)
		return err
	})
	if err != nil {
		return nil, opError("Document listing", ErrPersistence, err)
	}
	return docs, nil
}

// DocumentContent returns the extracted text of one of the caller's documents.
func (a *App) DocumentContent(ctx context.Context, p domain.Principal, storagePath string) (string, error) {
	return a.documentText(ctx, "Document read", p, storagePath)
}

// DownloadURL returns a pre-signed URL for one of the caller's documents.
func (a *App) DownloadURL(ctx context.Context, p domain.Principal, storagePath string) (string, error) {
	const op = "Document download"
	if err := checkOwnership(op, p, storagePath); err != nil {
		return "", err
	}
	var url string
	err := a.call(ctx, "blob", "presign", func(ctx context.Context) error {
		var err error
		url, err = a.blobs.DownloadURL(ctx, storagePath, a.presignExpiry)
		return err
	})
	if err != nil {
		return "", opError(op, ErrStorageUnavailable, err)
	}
	return url, nil
}

// Summarize summarizes one of the caller's documents.
func (a *App) Summarize(ctx context.Context, p domain.Principal, storagePath string) (string, error) {
	return a.textOperation(ctx, "AI summarization", "summarize", p, storagePath, a.assistant.Summarize)
}

// Explain explains one of the caller's documents in simple terms.
func (a *App) Explain(ctx context.Context, p domain.Principal, storagePath string) (string, error) {
	return a.textOperation(ctx, "AI explanation", "explain", p, storagePath, a.assistant.Explain)
}

// AskDocument answers a question about one of the caller's documents.
func (a *App) AskDocument(ctx context.Context, p domain.Principal, storagePath, question string) (string, error) {
	const op = "AI question answering"
	if strings.TrimSpace(question) == "" {
		return "", opError(op, ErrInvalidRequest, errors.New("question is required"))
	}
	return a.textOperation(ctx, op, "answer", p, storagePath, func(ctx context.Context, text string) (string, error) {
		return a.assistant.Answer(ctx, text, question)
	})
}

// GenerateQuiz builds n multiple-choice question blocks from one of the caller's documents.
func (a *App) GenerateQuiz(ctx context.Context, p domain.Principal, storagePath string, n int) ([]string, error) {
	const op = "Quiz generation"
	text, err := a.documentText(ctx, op, p, storagePath)
	if err != nil {
		return nil, err
	}
	var quiz []string
	err = a.call(ctx, "ai", "quiz", func(ctx context.Context) error {
		var err error
		quiz, err = a.assistant.GenerateQuiz(ctx, text, n)
		return err
	})
	if err != nil {
		return nil, opError(op, ErrAIService, err)
	}
	return quiz, nil
}

// TextToSpeech synthesizes MP3 audio. Empty text is passed through.
func (a *App) TextToSpeech(ctx context.Context, _ domain.Principal, text string) ([]byte, error) {
	var audio []byte
	err := a.call(ctx, "ai", "text_to_speech", func(ctx context.Context) error {
		var err error
		audio, err = a.assistant.SynthesizeSpeech(ctx, text)
		return err
	})
	if err != nil {
		return nil, opError("Text-to-speech", ErrAIService, err)
	}
	return audio, nil
}

// PostDiscussion appends a message to a document's thread.
func (a *App) PostDiscussion(ctx context.Context, p domain.Principal, documentID, message string) (domain.DiscussionMessage, error) {
	const op = "Discussion post"
	if strings.TrimSpace(documentID) == "" {
		return domain.DiscussionMessage{}, opError(op, ErrInvalidRequest, errors.New("document id is required"))
	}
	msg := domain.DiscussionMessage{
		DocumentID: documentID,
		UserID:     p.UID,
		UserName:   p.DisplayName(),
		Message:    message,
		Timestamp:  a.now().UTC(),
	}
	err := a.call(ctx, "store", "insert_discussion_message", func(ctx context.Context) error {
		return a.store.InsertDiscussionMessage(ctx, msg)
	})
	if err != nil {
		return domain.DiscussionMessage{}, opError(op, ErrPersistence, err)
	}
	return msg, nil
}

// ListDiscussion returns a document's thread, oldest first.
func (a *App) ListDiscussion(ctx context.Context, _ domain.Principal, documentID string) ([]domain.DiscussionMessage, error) {
	var msgs []domain.DiscussionMessage
	err := a.call(ctx, "store", "list_discussion_messages", func(ctx context.Context) error {
		var err error
		msgs, err = a.store.ListDiscussionMessages(ctx, documentID)
		return err
	})
	if err != nil {
		return nil, opError("Discussion listing", ErrPersistence, err)
	}
	return msgs, nil
}

func (a *App) textOperation(
	ctx context.Context,
	op, metricOp string,
	p domain.Principal,
	storagePath string,
	run func(context.Context, string) (string, error),
) (string, error) {
	text, err := a.documentText(ctx, op, p, storagePath)
	if err != nil {
		return "", err
	}
	var out string
	err = a.call(ctx, "ai", metricOp, func(ctx context.Context) error {
		var err error
		out, err = run(ctx, text)
		return err
	})
	if err != nil {
		return "", opError(op, ErrAIService, err)
	}
	return out, nil
}

// documentText runs ownership check, fetch and extraction.
func (a *App) documentText(ctx context.Context, op string, p domain.Principal, storagePath string) (string, error) {
	if err := checkOwnership(op, p, storagePath); err != nil {
		return "", err
	}
	var data []byte
	err := a.call(ctx, "blob", "fetch", func(ctx context.Context) error {
		var err error
		data, err = a.blobs.Fetch(ctx, storagePath)
		return err
	})
	switch {
	case errors.Is(err, storage.ErrBlobNotFound):
		return "", opError(op, ErrNotFound, err)
	case err != nil:
		return "", opError(op, ErrStorageUnavailable, err)
	}
	text, err := a.extractor.Extract(data)
	if err != nil {
		return "", opError(op, ErrExtraction, err)
	}
	return text, nil
}

func checkOwnership(op string, p domain.Principal, storagePath string) error {
	if strings.TrimSpace(storagePath) == "" {
		return opError(op, ErrInvalidRequest, errors.New("storage_path is required"))
	}
	if !storage.OwnedBy(storagePath, p.UID) {
		return opError(op, ErrForbidden, errors.New("document belongs to another user"))
	}
	return nil
}

// call bounds fn by the upstream timeout and reports it to the observer.
func (a *App) call(ctx context.Context, dependency, operation string, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, a.upstreamTimeout)
	defer cancel()
	start := time.Now()
	err := fn(ctx)
	if a.observer != nil {
		a.observer.ObserveUpstream(dependency, operation, err, time.Since(start))
	}
	return err
}
