package server

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"studymate/internal/usertoken"
	"studymate/pkg/ai"
	"studymate/pkg/domain"
	objectstore "studymate/pkg/storage"
	"studymate/services/gateway/internal/app"
	"studymate/services/gateway/internal/storage"
	"studymate/services/gateway/internal/store"
)

const testProject = "studymate-test"

func TestAuthenticatedRouteRequiresValidIDToken(t *testing.T) {
	verifier, signer := newJWKSVerifier(t)
	validToken := mustSignIDToken(t, signer, "user-1", "Ada", time.Now().Add(time.Minute))
	expiredToken := mustSignIDToken(t, signer, "user-1", "Ada", time.Now().Add(-time.Hour))
	otherKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate invalid key: %v", err)
	}
	invalidToken := mustSignIDToken(t, otherKey, "user-1", "Ada", time.Now().Add(time.Minute))

	var speechCalls int32
	gwSrv := newVerifiedGateway(t, verifier, &speechCalls)

	post := func(token string) int {
		t.Helper()
		req, _ := http.NewRequest(http.MethodPost, gwSrv.URL+"/ai/text-to-speech?text=hi", nil)
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("request: %v", err)
		}
		resp.Body.Close()
		return resp.StatusCode
	}

	// 1) Missing token.
	if got := post(""); got != http.StatusUnauthorized {
		t.Fatalf("missing token expected 401, got %d", got)
	}
	// 2) Signature from an unknown key.
	if got := post(invalidToken); got != http.StatusUnauthorized {
		t.Fatalf("invalid signature expected 401, got %d", got)
	}
	// 3) Expired token.
	if got := post(expiredToken); got != http.StatusUnauthorized {
		t.Fatalf("expired token expected 401, got %d", got)
	}
	if got := atomic.LoadInt32(&speechCalls); got != 0 {
		t.Fatalf("speech should not be called for rejected tokens, got %d calls", got)
	}

	// 4) Valid token passes through to the handler.
	if got := post(validToken); got != http.StatusOK {
		t.Fatalf("valid token expected 200, got %d", got)
	}
	if got := atomic.LoadInt32(&speechCalls); got != 1 {
		t.Fatalf("expected one speech call, got %d", got)
	}
}

func TestDiscussionUsesVerifiedNameClaim(t *testing.T) {
	verifier, signer := newJWKSVerifier(t)
	token := mustSignIDToken(t, signer, "user-1", "Ada", time.Now().Add(time.Minute))
	gwSrv := newVerifiedGateway(t, verifier, new(int32))

	req, _ := http.NewRequest(http.MethodPost, gwSrv.URL+"/discussions/doc-9?message=hello", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("post discussion: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("post discussion expected 200, got %d", resp.StatusCode)
	}

	req, _ = http.NewRequest(http.MethodGet, gwSrv.URL+"/discussions/doc-9", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("list discussion: %v", err)
	}
	defer resp.Body.Close()
	var body struct {
		Messages []domain.DiscussionMessage `json:"messages"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Messages) != 1 || body.Messages[0].UserName != "Ada" || body.Messages[0].UserID != "user-1" {
		t.Fatalf("unexpected thread %+v", body.Messages)
	}
}

type countingSpeech struct{ calls *int32 }

func (c countingSpeech) Synthesize(context.Context, string) ([]byte, error) {
	atomic.AddInt32(c.calls, 1)
	return []byte("mp3"), nil
}

func newVerifiedGateway(t *testing.T, verifier *usertoken.Verifier, speechCalls *int32) *httptest.Server {
	t.Helper()
	fs, err := objectstore.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("new file store: %v", err)
	}
	a, err := app.New(app.Config{
		Auth:      verifier,
		Blobs:     storage.NewBlobGateway(fs),
		Store:     store.NewMemoryStore(),
		Extractor: plainExtractor{},
		Assistant: ai.NewStudyAssistant(&scriptedGenerator{}, countingSpeech{calls: speechCalls}),
	})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	gw, err := New(Config{App: a})
	if err != nil {
		t.Fatalf("new gateway server: %v", err)
	}
	srv := httptest.NewServer(gw.Router())
	t.Cleanup(srv.Close)
	return srv
}

func newJWKSVerifier(t *testing.T) (*usertoken.Verifier, *rsa.PrivateKey) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	jwksServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"keys": []map[string]string{
				{
					"kty": "RSA",
					"kid": "kid-1",
					"n":   base64.RawURLEncoding.EncodeToString(key.PublicKey.N.Bytes()),
					"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.PublicKey.E)).Bytes()),
				},
			},
		})
	}))
	t.Cleanup(jwksServer.Close)

	verifier, err := usertoken.NewVerifier(context.Background(), usertoken.Config{
		JWKSURL:   jwksServer.URL,
		ProjectID: testProject,
		Leeway:    30 * time.Second,
	})
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}
	return verifier, key
}

func mustSignIDToken(t *testing.T, key *rsa.PrivateKey, subject, name string, expires time.Time) string {
	t.Helper()
	issued := expires.Add(-2 * time.Minute)
	if issued.After(time.Now()) {
		issued = time.Now()
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
		"sub":  subject,
		"name": name,
		"iss":  "https://securetoken.google.com/" + testProject,
		"aud":  testProject,
		"exp":  expires.Unix(),
		"iat":  issued.Unix(),
	})
	token.Header["kid"] = "kid-1"
	signed, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}
