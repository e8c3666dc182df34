package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const baseConfig = `
port: "8000"
logLevel: "info"
firebaseProjectId: "studymate-dev"
storageDriver: "fs"
dataDir: "/tmp/studymate"
databaseDriver: "memory"
geminiAPIKey: "test-key"
corsAllowedOrigins:
  - "http://localhost:3000"
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(cfgPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return cfgPath
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, baseConfig))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.MaxUploadBytes != defaultMaxUploadBytes {
		t.Fatalf("maxUploadBytes = %d, want default", cfg.MaxUploadBytes)
	}
	if cfg.GenerationProvider != "gemini" {
		t.Fatalf("generationProvider = %q, want gemini", cfg.GenerationProvider)
	}
	if len(cfg.CORSAllowedOrigins) != 1 || cfg.CORSAllowedOrigins[0] != "http://localhost:3000" {
		t.Fatalf("unexpected cors origins %v", cfg.CORSAllowedOrigins)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("STUDYMATE_DATABASE_DRIVER", "mongo")
	t.Setenv("MONGO_URI", "mongodb://localhost:27017")
	t.Setenv("MONGO_DB_NAME", "studymate")
	t.Setenv("STUDYMATE_CORS_ALLOWED_ORIGINS", "https://a.example.com, https://b.example.com")
	t.Setenv("STUDYMATE_AI_RATE_LIMIT_PER_MINUTE", "30")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("STUDYMATE_UPSTREAM_TIMEOUT", "45s")

	cfg, err := Load(writeConfig(t, baseConfig))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Port != "9090" || cfg.DatabaseDriver != DatabaseDriverMongo || cfg.MongoDBName != "studymate" {
		t.Fatalf("env overrides not applied: %+v", cfg)
	}
	if len(cfg.CORSAllowedOrigins) != 2 || cfg.CORSAllowedOrigins[1] != "https://b.example.com" {
		t.Fatalf("unexpected cors origins %v", cfg.CORSAllowedOrigins)
	}
	if cfg.AIRateLimitPerMinute != 30 || cfg.RedisAddr != "localhost:6379" {
		t.Fatalf("rate limit overrides not applied: %+v", cfg)
	}
	if d, _ := ParseDuration("upstreamTimeout", cfg.UpstreamTimeout); d != 45*time.Second {
		t.Fatalf("upstreamTimeout = %s, want 45s", d)
	}
}

func TestLoadValidation(t *testing.T) {
	cases := map[string]struct {
		extra string
		env   map[string]string
		want  string
	}{
		"mongo without uri": {
			env:  map[string]string{"STUDYMATE_DATABASE_DRIVER": "mongo"},
			want: "mongoURI",
		},
		"unknown storage driver": {
			env:  map[string]string{"STUDYMATE_STORAGE_DRIVER": "gcs"},
			want: "unknown storageDriver",
		},
		"rate limit without redis": {
			env:  map[string]string{"STUDYMATE_AI_RATE_LIMIT_PER_MINUTE": "10"},
			want: "redisAddr",
		},
		"bad duration": {
			extra: "upstreamTimeout: \"soon\"\n",
			want:  "upstreamTimeout",
		},
		"minio without endpoint": {
			env:  map[string]string{"STUDYMATE_STORAGE_DRIVER": "minio"},
			want: "minioEndpoint",
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			_, err := Load(writeConfig(t, baseConfig+tc.extra))
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}

func TestLoadRequiresIdentityProject(t *testing.T) {
	content := strings.Replace(baseConfig, `firebaseProjectId: "studymate-dev"`, "", 1)
	if _, err := Load(writeConfig(t, content)); err == nil {
		t.Fatalf("expected missing project id to fail")
	}
}

func TestParseDuration(t *testing.T) {
	if d, err := ParseDuration("x", ""); err != nil || d != 0 {
		t.Fatalf("empty duration: %s %v", d, err)
	}
	if _, err := ParseDuration("x", "-1s"); err == nil {
		t.Fatalf("expected negative duration to fail")
	}
}
