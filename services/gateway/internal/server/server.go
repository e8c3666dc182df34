package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"studymate/internal/metrics"
	"studymate/internal/ratelimit"
	"studymate/internal/util"
	"studymate/pkg/ai"
	"studymate/pkg/domain"
	"studymate/services/gateway/internal/app"
)

const (
	defaultMaxUploadBytes = 20 * 1024 * 1024
	maxJSONBodyBytes      = 1 << 20
	multipartMemoryBytes  = 8 << 20
)

// RateLimiter limits AI calls per user.
type RateLimiter interface {
	Allow(ctx context.Context, key string) (ratelimit.Decision, error)
}

// Config configures the gateway HTTP server.
type Config struct {
	App                *app.App
	Limiter            RateLimiter
	Metrics            *metrics.Collector
	MaxUploadBytes     int64
	CORSAllowedOrigins []string
	TrustedProxies     *util.TrustedProxies
}

// Server exposes the StudyMate HTTP API.
type Server struct {
	app            *app.App
	limiter        RateLimiter
	metrics        *metrics.Collector
	maxUploadBytes int64
	corsOrigins    []string
	trustedProxies *util.TrustedProxies
	validate       *validator.Validate
	mux            *http.ServeMux
}

// New constructs the HTTP server.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, errors.New("app required")
	}
	s := &Server{
		app:            cfg.App,
		limiter:        cfg.Limiter,
		metrics:        cfg.Metrics,
		maxUploadBytes: normalizeMaxBytes(cfg.MaxUploadBytes),
		corsOrigins:    cfg.CORSAllowedOrigins,
		trustedProxies: cfg.TrustedProxies,
		validate:       validator.New(validator.WithRequiredStructEnabled()),
		mux:            http.NewServeMux(),
	}
	s.routes()
	return s, nil
}

// Router returns the root handler. The metrics middleware wraps the mux
// directly so it sees the matched route pattern.
func (s *Server) Router() http.Handler {
	var h http.Handler = s.metrics.Middleware(s.mux)
	h = util.WithRequestLog("gateway", h)
	h = util.WithRequestID(h)
	h = util.WithCORS(s.corsOrigins, h)
	return util.WithSecurityHeaders(h, s.trustedProxies)
}

type route struct {
	pattern string
	public  func(*Server, http.ResponseWriter, *http.Request)
	authed  func(*Server, http.ResponseWriter, *http.Request, domain.Principal)
	// limited routes share the per-user AI budget.
	limited bool
}

var routeTable = []route{
	{pattern: "GET /{$}", public: (*Server).handleRoot},
	{pattern: "GET /healthz", public: (*Server).handleHealth},
	{pattern: "GET /metrics", public: (*Server).handleMetrics},

	{pattern: "POST /documents/upload", authed: (*Server).handleUpload},
	{pattern: "GET /documents/list", authed: (*Server).handleListDocuments},
	{pattern: "GET /documents/content", authed: (*Server).handleDocumentContent},
	{pattern: "GET /documents/download", authed: (*Server).handleDownload},

	{pattern: "POST /ai/summarize", authed: (*Server).handleSummarize, limited: true},
	{pattern: "POST /ai/explain", authed: (*Server).handleExplain, limited: true},
	{pattern: "POST /ai/quiz", authed: (*Server).handleQuiz, limited: true},
	{pattern: "POST /ai/ask-document", authed: (*Server).handleAskDocument, limited: true},
	{pattern: "POST /ai/text-to-speech", authed: (*Server).handleTextToSpeech, limited: true},

	{pattern: "POST /discussions/{document_id}", authed: (*Server).handlePostDiscussion},
	{pattern: "GET /discussions/{document_id}", authed: (*Server).handleListDiscussion},
}

// Routes lists the "METHOD /path" patterns served by the gateway.
func Routes() []string {
	out := make([]string, 0, len(routeTable))
	for _, rt := range routeTable {
		out = append(out, rt.pattern)
	}
	return out
}

// RequiresAuth reports whether pattern is served behind bearer authentication.
func RequiresAuth(pattern string) bool {
	for _, rt := range routeTable {
		if rt.pattern == pattern {
			return rt.authed != nil
		}
	}
	return false
}

func (s *Server) routes() {
	for _, rt := range routeTable {
		if rt.public != nil {
			s.mux.HandleFunc(rt.pattern, func(w http.ResponseWriter, r *http.Request) {
				rt.public(s, w, r)
			})
			continue
		}
		next := func(w http.ResponseWriter, r *http.Request, p domain.Principal) {
			rt.authed(s, w, r, p)
		}
		if rt.limited {
			next = s.rateLimited(next)
		}
		s.mux.Handle(rt.pattern, s.authenticated(next))
	}
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "StudyMate Backend is running!"})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	s.metrics.Handler().ServeHTTP(w, r)
}

type authHandler func(http.ResponseWriter, *http.Request, domain.Principal)

// authenticated verifies the bearer token before next runs. Nothing past
// this point executes for an unauthenticated request.
func (s *Server) authenticated(next authHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			s.audit(r, "gateway.authorize", "fail", "reason", "missing_bearer")
			writeError(w, r, http.StatusUnauthorized, "unauthenticated", "Authentication failed: missing bearer token")
			return
		}
		p, err := s.app.Authenticate(r.Context(), token)
		if err != nil {
			s.audit(r, "gateway.token.verify", "fail", "reason", err.Error())
			s.writeAppError(w, r, err)
			return
		}
		s.audit(r, "gateway.token.verify", "success", "user_id", p.UID)
		next(w, r, p)
	})
}

// rateLimited applies the per-user AI limiter when one is configured.
func (s *Server) rateLimited(next authHandler) authHandler {
	if s.limiter == nil {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request, p domain.Principal) {
		decision, err := s.limiter.Allow(r.Context(), "ai|"+p.UID)
		if err != nil {
			util.LoggerFromContext(r.Context()).Error("rate limiter unavailable", "err", err)
			writeError(w, r, http.StatusServiceUnavailable, "rate_limiter_unavailable", "rate limiter unavailable")
			return
		}
		if !decision.Allowed {
			s.audit(r, "gateway.ai", "rate_limited", "user_id", p.UID)
			w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(decision)))
			writeError(w, r, http.StatusTooManyRequests, "rate_limited", "too many AI requests")
			return
		}
		next(w, r, p)
	}
}

// documents

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request, p domain.Principal) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	if err := r.ParseMultipartForm(multipartMemoryBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, r, http.StatusRequestEntityTooLarge, "payload_too_large",
				fmt.Sprintf("Document upload failed: file exceeds %d bytes", s.maxUploadBytes))
			return
		}
		writeError(w, r, http.StatusBadRequest, "invalid_request", "Document upload failed: multipart form expected")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "Document upload failed: file is required")
		return
	}
	defer file.Close()

	doc, err := s.app.UploadDocument(r.Context(), p, app.UploadInput{
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Size:        header.Size,
		Body:        file,
		Title:       r.FormValue("title"),
		Subject:     r.FormValue("subject"),
		Topic:       r.FormValue("topic"),
	})
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"message":   "Document uploaded successfully",
		"file_name": doc.StoragePath,
	})
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request, p domain.Principal) {
	docs, err := s.app.ListDocuments(r.Context(), p)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	if docs == nil {
		docs = []domain.DocumentMetadata{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": docs})
}

type documentRequest struct {
	StoragePath string `json:"storage_path" validate:"required"`
}

func (s *Server) handleDocumentContent(w http.ResponseWriter, r *http.Request, p domain.Principal) {
	req, ok := s.decodeDocumentRequest(w, r)
	if !ok {
		return
	}
	text, err := s.app.DocumentContent(r.Context(), p, req.StoragePath)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"content": text})
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request, p domain.Principal) {
	req, ok := s.decodeDocumentRequest(w, r)
	if !ok {
		return
	}
	url, err := s.app.DownloadURL(r.Context(), p, req.StoragePath)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}

// ai

func (s *Server) handleSummarize(w http.ResponseWriter, r *http.Request, p domain.Principal) {
	req, ok := s.decodeDocumentRequest(w, r)
	if !ok {
		return
	}
	summary, err := s.app.Summarize(r.Context(), p, req.StoragePath)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"summary": summary})
}

func (s *Server) handleExplain(w http.ResponseWriter, r *http.Request, p domain.Principal) {
	req, ok := s.decodeDocumentRequest(w, r)
	if !ok {
		return
	}
	explanation, err := s.app.Explain(r.Context(), p, req.StoragePath)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"explanation": explanation})
}

type quizRequest struct {
	StoragePath  string `json:"storage_path" validate:"required"`
	NumQuestions *int   `json:"num_questions" validate:"omitempty,min=1,max=50"`
}

func (s *Server) handleQuiz(w http.ResponseWriter, r *http.Request, p domain.Principal) {
	var req quizRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	queryOverride(r, "storage_path", &req.StoragePath)
	if raw := strings.TrimSpace(r.URL.Query().Get("num_questions")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "invalid_request", "num_questions must be an integer")
			return
		}
		req.NumQuestions = &n
	}
	if !s.validateRequest(w, r, req) {
		return
	}
	n := ai.DefaultQuizQuestions
	if req.NumQuestions != nil {
		n = *req.NumQuestions
	}
	quiz, err := s.app.GenerateQuiz(r.Context(), p, req.StoragePath, n)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	if quiz == nil {
		quiz = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"quiz": quiz})
}

type askRequest struct {
	StoragePath string `json:"storage_path" validate:"required"`
	Question    string `json:"question" validate:"required"`
}

func (s *Server) handleAskDocument(w http.ResponseWriter, r *http.Request, p domain.Principal) {
	var req askRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	queryOverride(r, "storage_path", &req.StoragePath)
	queryOverride(r, "question", &req.Question)
	if !s.validateRequest(w, r, req) {
		return
	}
	answer, err := s.app.AskDocument(r.Context(), p, req.StoragePath, req.Question)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"answer": answer})
}

type speechRequest struct {
	Text string `json:"text"`
}

// handleTextToSpeech accepts empty text and leaves the outcome to the
// synthesizer.
func (s *Server) handleTextToSpeech(w http.ResponseWriter, r *http.Request, p domain.Principal) {
	var req speechRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	queryOverride(r, "text", &req.Text)
	audio, err := s.app.TextToSpeech(r.Context(), p, req.Text)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "audio/mpeg")
	w.Header().Set("Content-Length", strconv.Itoa(len(audio)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(audio)
}

// discussions

type discussionRequest struct {
	Message string `json:"message" validate:"required"`
}

func (s *Server) handlePostDiscussion(w http.ResponseWriter, r *http.Request, p domain.Principal) {
	var req discussionRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	queryOverride(r, "message", &req.Message)
	if !s.validateRequest(w, r, req) {
		return
	}
	if _, err := s.app.PostDiscussion(r.Context(), p, r.PathValue("document_id"), req.Message); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Discussion posted"})
}

func (s *Server) handleListDiscussion(w http.ResponseWriter, r *http.Request, p domain.Principal) {
	msgs, err := s.app.ListDiscussion(r.Context(), p, r.PathValue("document_id"))
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	if msgs == nil {
		msgs = []domain.DiscussionMessage{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": msgs})
}

// request decoding

func (s *Server) decodeDocumentRequest(w http.ResponseWriter, r *http.Request) (documentRequest, bool) {
	var req documentRequest
	if !s.decodeBody(w, r, &req) {
		return req, false
	}
	queryOverride(r, "storage_path", &req.StoragePath)
	if !s.validateRequest(w, r, req) {
		return req, false
	}
	return req, true
}

// decodeBody reads an optional JSON body into dst. An empty body is not an
// error; inputs may arrive entirely in the query string.
func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if r.Body == nil || r.Body == http.NoBody {
		return true
	}
	dec := json.NewDecoder(io.LimitReader(r.Body, maxJSONBodyBytes))
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return false
	}
	return true
}

// queryOverride prefers a non-empty query parameter over the body value.
func queryOverride(r *http.Request, name string, dst *string) {
	if v := r.URL.Query().Get(name); v != "" {
		*dst = v
	}
}

func (s *Server) validateRequest(w http.ResponseWriter, r *http.Request, req any) bool {
	err := s.validate.Struct(req)
	if err == nil {
		return true
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		writeError(w, r, http.StatusBadRequest, "invalid_request", validationMessage(verrs[0]))
		return false
	}
	writeError(w, r, http.StatusBadRequest, "invalid_request", "invalid request")
	return false
}

func validationMessage(fe validator.FieldError) string {
	field := jsonFieldName(fe.StructField())
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	default:
		return field + " is invalid"
	}
}

func jsonFieldName(structField string) string {
	switch structField {
	case "StoragePath":
		return "storage_path"
	case "NumQuestions":
		return "num_questions"
	default:
		return strings.ToLower(structField)
	}
}

// responses

type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"requestId,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, msg string) {
	writeJSON(w, status, errorResponse{
		Error:     msg,
		Code:      code,
		RequestID: util.RequestIDFromRequest(r),
	})
}

// writeAppError maps the app error kinds onto HTTP statuses.
func (s *Server) writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)
	msg := err.Error()
	var appErr *app.Error
	if !errors.As(err, &appErr) {
		msg = "internal error"
	}
	if status >= http.StatusInternalServerError {
		util.LoggerFromContext(r.Context()).Error("request failed", "code", code, "err", err)
	}
	writeError(w, r, status, code, msg)
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, app.ErrUnauthenticated):
		return http.StatusUnauthorized, "unauthenticated"
	case errors.Is(err, app.ErrUnsupportedMediaType):
		return http.StatusBadRequest, "unsupported_media_type"
	case errors.Is(err, app.ErrInvalidRequest):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, app.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, app.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, app.ErrStorageUnavailable):
		return http.StatusInternalServerError, "storage_unavailable"
	case errors.Is(err, app.ErrPersistence):
		return http.StatusInternalServerError, "persistence_error"
	case errors.Is(err, app.ErrExtraction):
		return http.StatusInternalServerError, "extraction_error"
	case errors.Is(err, app.ErrAIService):
		return http.StatusInternalServerError, "ai_service_error"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// helpers

func bearerToken(r *http.Request) (string, bool) {
	authz := strings.TrimSpace(r.Header.Get("Authorization"))
	if authz == "" {
		return "", false
	}
	scheme, token, ok := strings.Cut(authz, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func normalizeMaxBytes(value int64) int64 {
	if value <= 0 {
		return defaultMaxUploadBytes
	}
	return value
}

func retryAfterSeconds(d ratelimit.Decision) int {
	secs := int(math.Ceil(d.RetryAfter.Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}

func (s *Server) audit(r *http.Request, event, outcome string, attrs ...any) {
	logAttrs := []any{
		"event", event,
		"outcome", outcome,
		"path", r.URL.Path,
		"method", r.Method,
		"ip", util.ClientIP(r, s.trustedProxies),
	}
	logAttrs = append(logAttrs, attrs...)
	logger := util.LoggerFromContext(r.Context())
	if outcome == "success" {
		logger.Info("security_event", logAttrs...)
		return
	}
	logger.Warn("security_event", logAttrs...)
}
