package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ConfigPath is the default config file, overridable with STUDYMATE_CONFIG.
var ConfigPath = envOr("STUDYMATE_CONFIG", "config.yaml")

const (
	StorageDriverMinio = "minio"
	StorageDriverFS    = "fs"

	DatabaseDriverMongo    = "mongo"
	DatabaseDriverPostgres = "postgres"
	DatabaseDriverMemory   = "memory"

	defaultMaxUploadBytes = 20 << 20
)

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port               string   `yaml:"port"`
	LogLevel           string   `yaml:"logLevel"`
	CORSAllowedOrigins []string `yaml:"corsAllowedOrigins"`
	TrustedProxyCIDRs  []string `yaml:"trustedProxyCidrs"`
	MaxUploadBytes     int64    `yaml:"maxUploadBytes"`
	UpstreamTimeout    string   `yaml:"upstreamTimeout"`

	FirebaseProjectID string `yaml:"firebaseProjectId"`
	AuthJWKSURL       string `yaml:"authJwksURL"`
	JWTIssuer         string `yaml:"jwtIssuer"`
	JWTAudience       string `yaml:"jwtAudience"`
	JWTLeeway         string `yaml:"jwtLeeway"`

	StorageDriver  string `yaml:"storageDriver"`
	MinioEndpoint  string `yaml:"minioEndpoint"`
	MinioAccessKey string `yaml:"minioAccessKey"`
	MinioSecretKey string `yaml:"minioSecretKey"`
	MinioBucket    string `yaml:"minioBucket"`
	MinioUseSSL    bool   `yaml:"minioUseSSL"`
	MinioRegion    string `yaml:"minioRegion"`
	DataDir        string `yaml:"dataDir"`
	PresignExpiry  string `yaml:"presignExpiry"`

	DatabaseDriver string `yaml:"databaseDriver"`
	MongoURI       string `yaml:"mongoURI"`
	MongoDBName    string `yaml:"mongoDBName"`
	DatabaseURL    string `yaml:"databaseURL"`

	GenerationProvider string `yaml:"generationProvider"`
	GenerationModel    string `yaml:"generationModel"`
	GenerationBaseURL  string `yaml:"generationBaseURL"`
	GenerationAPIKey   string `yaml:"generationAPIKey"`
	GeminiAPIKey       string `yaml:"geminiAPIKey"`
	TTSAPIKey          string `yaml:"ttsAPIKey"`
	TTSLanguageCode    string `yaml:"ttsLanguageCode"`
	TTSVoiceName       string `yaml:"ttsVoiceName"`

	RedisAddr            string `yaml:"redisAddr"`
	RedisPassword        string `yaml:"redisPassword"`
	AIRateLimitPerMinute int    `yaml:"aiRateLimitPerMinute"`
}

// Load reads config from path (defaults to ConfigPath), applies environment
// overrides (a .env file in the working directory is honoured) and validates.
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = ConfigPath
	}
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	applyEnv(&cfg)
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *FileConfig) {
	setString(&cfg.Port, "PORT")
	setString(&cfg.LogLevel, "LOG_LEVEL")
	setList(&cfg.CORSAllowedOrigins, "STUDYMATE_CORS_ALLOWED_ORIGINS")
	setList(&cfg.TrustedProxyCIDRs, "STUDYMATE_TRUSTED_PROXY_CIDRS")
	if v := os.Getenv("STUDYMATE_MAX_UPLOAD_BYTES"); v != "" {
		if n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
			cfg.MaxUploadBytes = n
		}
	}
	setString(&cfg.UpstreamTimeout, "STUDYMATE_UPSTREAM_TIMEOUT")

	setString(&cfg.FirebaseProjectID, "FIREBASE_PROJECT_ID")
	setString(&cfg.AuthJWKSURL, "STUDYMATE_AUTH_JWKS_URL")
	setString(&cfg.JWTIssuer, "JWT_ISSUER")
	setString(&cfg.JWTAudience, "JWT_AUDIENCE")
	setString(&cfg.JWTLeeway, "JWT_LEEWAY")

	setString(&cfg.StorageDriver, "STUDYMATE_STORAGE_DRIVER")
	setString(&cfg.MinioEndpoint, "MINIO_ENDPOINT")
	setString(&cfg.MinioAccessKey, "MINIO_ACCESS_KEY")
	setString(&cfg.MinioSecretKey, "MINIO_SECRET_KEY")
	setString(&cfg.MinioBucket, "STORAGE_BUCKET_NAME")
	if v := os.Getenv("MINIO_USE_SSL"); v != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			cfg.MinioUseSSL = b
		}
	}
	setString(&cfg.DataDir, "STUDYMATE_DATA_DIR")

	setString(&cfg.DatabaseDriver, "STUDYMATE_DATABASE_DRIVER")
	setString(&cfg.MongoURI, "MONGO_URI")
	setString(&cfg.MongoDBName, "MONGO_DB_NAME")
	setString(&cfg.DatabaseURL, "DATABASE_URL")

	setString(&cfg.GenerationProvider, "STUDYMATE_GENERATION_PROVIDER")
	setString(&cfg.GenerationModel, "STUDYMATE_GENERATION_MODEL")
	setString(&cfg.GenerationBaseURL, "STUDYMATE_GENERATION_BASE_URL")
	setString(&cfg.GenerationAPIKey, "STUDYMATE_GENERATION_API_KEY")
	setString(&cfg.GeminiAPIKey, "GEMINI_API_KEY")
	setString(&cfg.TTSAPIKey, "GOOGLE_TTS_API_KEY")

	setString(&cfg.RedisAddr, "REDIS_ADDR")
	setString(&cfg.RedisPassword, "REDIS_PASSWORD")
	if v := os.Getenv("STUDYMATE_AI_RATE_LIMIT_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			cfg.AIRateLimitPerMinute = n
		}
	}
}

func applyDefaults(cfg *FileConfig) {
	cfg.StorageDriver = strings.ToLower(strings.TrimSpace(cfg.StorageDriver))
	if cfg.StorageDriver == "" {
		cfg.StorageDriver = StorageDriverMinio
	}
	cfg.DatabaseDriver = strings.ToLower(strings.TrimSpace(cfg.DatabaseDriver))
	if cfg.DatabaseDriver == "" {
		cfg.DatabaseDriver = DatabaseDriverMongo
	}
	if cfg.MaxUploadBytes == 0 {
		cfg.MaxUploadBytes = defaultMaxUploadBytes
	}
	if strings.TrimSpace(cfg.GenerationProvider) == "" {
		cfg.GenerationProvider = "gemini"
	}
}

func validateConfig(cfg FileConfig) error {
	if strings.TrimSpace(cfg.Port) == "" {
		return errors.New("config: port is required (set in config.yaml or PORT)")
	}
	if strings.TrimSpace(cfg.FirebaseProjectID) == "" &&
		(strings.TrimSpace(cfg.JWTIssuer) == "" || strings.TrimSpace(cfg.JWTAudience) == "") {
		return errors.New("config: firebaseProjectId (or jwtIssuer and jwtAudience) is required")
	}
	switch cfg.StorageDriver {
	case StorageDriverMinio:
		if strings.TrimSpace(cfg.MinioEndpoint) == "" || strings.TrimSpace(cfg.MinioBucket) == "" {
			return errors.New("config: minioEndpoint and minioBucket are required for the minio storage driver")
		}
	case StorageDriverFS:
		if strings.TrimSpace(cfg.DataDir) == "" {
			return errors.New("config: dataDir is required for the fs storage driver")
		}
	default:
		return fmt.Errorf("config: unknown storageDriver %q", cfg.StorageDriver)
	}
	switch cfg.DatabaseDriver {
	case DatabaseDriverMongo:
		if strings.TrimSpace(cfg.MongoURI) == "" || strings.TrimSpace(cfg.MongoDBName) == "" {
			return errors.New("config: mongoURI and mongoDBName are required for the mongo database driver")
		}
	case DatabaseDriverPostgres:
		if strings.TrimSpace(cfg.DatabaseURL) == "" {
			return errors.New("config: databaseURL is required for the postgres database driver")
		}
	case DatabaseDriverMemory:
	default:
		return fmt.Errorf("config: unknown databaseDriver %q", cfg.DatabaseDriver)
	}
	if strings.EqualFold(strings.TrimSpace(cfg.GenerationProvider), "gemini") && strings.TrimSpace(cfg.GeminiAPIKey) == "" {
		return errors.New("config: geminiAPIKey is required for the gemini generation provider")
	}
	if cfg.MaxUploadBytes < 0 {
		return errors.New("config: maxUploadBytes must be >= 0")
	}
	if cfg.AIRateLimitPerMinute < 0 {
		return errors.New("config: aiRateLimitPerMinute must be >= 0")
	}
	if cfg.AIRateLimitPerMinute > 0 && strings.TrimSpace(cfg.RedisAddr) == "" {
		return errors.New("config: redisAddr is required when aiRateLimitPerMinute is set")
	}
	for name, value := range map[string]string{
		"jwtLeeway":       cfg.JWTLeeway,
		"upstreamTimeout": cfg.UpstreamTimeout,
		"presignExpiry":   cfg.PresignExpiry,
	} {
		if _, err := ParseDuration(name, value); err != nil {
			return err
		}
	}
	return nil
}

// ParseDuration parses an optional duration setting; empty means zero.
func ParseDuration(name, value string) (time.Duration, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, nil
	}
	dur, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("config: invalid %s duration: %w", name, err)
	}
	if dur < 0 {
		return 0, fmt.Errorf("config: %s must not be negative", name)
	}
	return dur, nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = strings.TrimSpace(v)
	}
}

func setList(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = splitCSV(v)
	}
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}
