package util

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestWithRequestLogIncludesRequestID(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })

	h := WithRequestID(WithRequestLog("gateway", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte("abc"))
	})))
	req := httptest.NewRequest(http.MethodPost, "/documents/upload", nil)
	req.Header.Set("X-Request-Id", "req-42")
	h.ServeHTTP(httptest.NewRecorder(), req)

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode log line %q: %v", buf.String(), err)
	}
	if line["msg"] != "http_request" || line["request_id"] != "req-42" {
		t.Fatalf("unexpected log line %v", line)
	}
	if line["status"] != float64(http.StatusCreated) || line["bytes"] != float64(3) {
		t.Fatalf("unexpected status/bytes in %v", line)
	}
}
