package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"studymate/internal/metrics"
	"studymate/internal/ratelimit"
	"studymate/internal/usertoken"
	"studymate/internal/util"
	"studymate/pkg/ai"
	"studymate/pkg/pdftext"
	objectstore "studymate/pkg/storage"
	"studymate/services/gateway/internal/app"
	"studymate/services/gateway/internal/config"
	"studymate/services/gateway/internal/server"
	"studymate/services/gateway/internal/storage"
	"studymate/services/gateway/internal/store"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger := util.InitLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		logger.Error("server exited", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.FileConfig) error {
	upstreamTimeout, err := config.ParseDuration("upstreamTimeout", cfg.UpstreamTimeout)
	if err != nil {
		return err
	}
	presignExpiry, err := config.ParseDuration("presignExpiry", cfg.PresignExpiry)
	if err != nil {
		return err
	}
	jwtLeeway, err := config.ParseDuration("jwtLeeway", cfg.JWTLeeway)
	if err != nil {
		return err
	}

	objects, err := newObjectStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("init object storage: %w", err)
	}
	metaStore, err := newMetadataStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("init metadata store: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := metaStore.Close(closeCtx); err != nil {
			slog.Warn("metadata store close failed", "err", err)
		}
	}()

	verifier, err := usertoken.NewVerifier(ctx, usertoken.Config{
		ProjectID: cfg.FirebaseProjectID,
		JWKSURL:   cfg.AuthJWKSURL,
		Issuer:    cfg.JWTIssuer,
		Audience:  cfg.JWTAudience,
		Leeway:    jwtLeeway,
	})
	if err != nil {
		return fmt.Errorf("init token verifier: %w", err)
	}

	assistant, err := newAssistant(cfg)
	if err != nil {
		return fmt.Errorf("init ai assistant: %w", err)
	}

	collector := metrics.NewCollector()
	appCore, err := app.New(app.Config{
		Auth:            verifier,
		Blobs:           storage.NewBlobGateway(objects),
		Store:           metaStore,
		Extractor:       pdftext.PDFExtractor{},
		Assistant:       assistant,
		Observer:        collector,
		UpstreamTimeout: upstreamTimeout,
		PresignExpiry:   presignExpiry,
	})
	if err != nil {
		return fmt.Errorf("init app: %w", err)
	}

	trusted, err := util.NewTrustedProxies(cfg.TrustedProxyCIDRs)
	if err != nil {
		return fmt.Errorf("parse trusted proxies: %w", err)
	}
	serverCfg := server.Config{
		App:                appCore,
		Metrics:            collector,
		MaxUploadBytes:     cfg.MaxUploadBytes,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		TrustedProxies:     trusted,
	}
	if cfg.AIRateLimitPerMinute > 0 {
		limiter, err := ratelimit.NewRedisFixedWindowLimiter(ratelimit.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			Prefix:   "studymate:ratelimit:ai",
			Limit:    cfg.AIRateLimitPerMinute,
			Window:   time.Minute,
		})
		if err != nil {
			return fmt.Errorf("init ai rate limiter: %w", err)
		}
		defer limiter.Close()
		serverCfg.Limiter = limiter
	}
	httpServer, err := server.New(serverCfg)
	if err != nil {
		return fmt.Errorf("init http server: %w", err)
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           httpServer.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		// Every upstream call in a request's chain may use its full timeout.
		WriteTimeout: appCore.RequestBudget() + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("server listening", "addr", addr,
			"storage_driver", cfg.StorageDriver,
			"database_driver", cfg.DatabaseDriver,
			"generation_provider", cfg.GenerationProvider,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		slog.Info("server shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func newObjectStore(ctx context.Context, cfg config.FileConfig) (objectstore.ObjectStore, error) {
	switch cfg.StorageDriver {
	case config.StorageDriverFS:
		return objectstore.NewFileStore(cfg.DataDir)
	default:
		return objectstore.NewMinioStore(ctx, objectstore.MinioConfig{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
			Region:    cfg.MinioRegion,
		})
	}
}

func newMetadataStore(ctx context.Context, cfg config.FileConfig) (store.Store, error) {
	switch cfg.DatabaseDriver {
	case config.DatabaseDriverPostgres:
		return store.NewGormStore(cfg.DatabaseURL)
	case config.DatabaseDriverMemory:
		slog.Warn("using in-memory metadata store; data is lost on restart")
		return store.NewMemoryStore(), nil
	default:
		return store.NewMongoStore(ctx, cfg.MongoURI, cfg.MongoDBName)
	}
}

func newAssistant(cfg config.FileConfig) (*ai.StudyAssistant, error) {
	apiKey := cfg.GenerationAPIKey
	if apiKey == "" && cfg.GenerationProvider == ai.ProviderGemini {
		apiKey = cfg.GeminiAPIKey
	}
	generator, err := ai.NewTextGenerator(ai.GeneratorConfig{
		Provider: cfg.GenerationProvider,
		Model:    cfg.GenerationModel,
		BaseURL:  cfg.GenerationBaseURL,
		APIKey:   apiKey,
	})
	if err != nil {
		return nil, err
	}

	var speech ai.SpeechSynthesizer
	if cfg.TTSAPIKey != "" {
		client, err := ai.NewGoogleSpeechClient(ai.SpeechConfig{
			APIKey:       cfg.TTSAPIKey,
			LanguageCode: cfg.TTSLanguageCode,
			VoiceName:    cfg.TTSVoiceName,
		})
		if err != nil {
			return nil, err
		}
		speech = client
	} else {
		slog.Warn("text-to-speech disabled: ttsAPIKey not set")
	}
	return ai.NewStudyAssistant(generator, speech), nil
}
