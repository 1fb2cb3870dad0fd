// Command jitaccess runs the just-in-time access service: a stateless HTTP
// server that lets eligible users activate temporary IAM role bindings on
// their projects, directly or through multi-party approval.
package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"cloud.google.com/go/storage"
	"github.com/redis/go-redis/v9"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/Mindburn-Labs/jitaccess/pkg/activation"
	"github.com/Mindburn-Labs/jitaccess/pkg/api"
	"github.com/Mindburn-Labs/jitaccess/pkg/audit"
	"github.com/Mindburn-Labs/jitaccess/pkg/auth"
	"github.com/Mindburn-Labs/jitaccess/pkg/catalog"
	"github.com/Mindburn-Labs/jitaccess/pkg/condition"
	"github.com/Mindburn-Labs/jitaccess/pkg/config"
	"github.com/Mindburn-Labs/jitaccess/pkg/gcpclients"
	"github.com/Mindburn-Labs/jitaccess/pkg/notify"
	"github.com/Mindburn-Labs/jitaccess/pkg/observability"
	"github.com/Mindburn-Labs/jitaccess/pkg/provision"
	"github.com/Mindburn-Labs/jitaccess/pkg/token"
)

var version = "dev"

func main() {
	if err := run(); err != nil {
		slog.Error("service failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	setupLogging(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	obs, err := observability.New(ctx, &observability.Config{
		ServiceName:    "jitaccess",
		ServiceVersion: version,
		Environment:    "production",
		OTLPEndpoint:   cfg.OTelEndpoint,
		SampleRate:     1.0,
		BatchTimeout:   5 * time.Second,
	})
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = obs.Shutdown(shutdownCtx)
	}()

	httpClient, err := gcpclients.NewHTTPClient(ctx)
	if err != nil {
		return err
	}
	resourceManager := gcpclients.NewResourceManagerClient(httpClient)
	assetInventory := gcpclients.NewAssetInventoryClient(httpClient)

	health := api.NewHealthHandler()

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		health.Register("redis", func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		})
	}

	var repo catalog.RoleRepository
	switch cfg.ResourceCatalog {
	case config.CatalogAssetInventory:
		var directory catalog.DirectoryClient = gcpclients.NewCloudIdentityClient(httpClient)
		if redisClient != nil {
			directory = catalog.NewCachedDirectory(directory, redisClient, cfg.RedisGroupTTL)
		}
		repo = catalog.NewAssetInventoryRepository(assetInventory, directory, cfg.ResourceScope)
	default:
		repo = catalog.NewPolicyAnalyzerRepository(assetInventory, cfg.ResourceScope)
	}

	var search catalog.ProjectSearchClient
	if cfg.AvailableProjectsQuery != "" {
		search = resourceManager
	}
	cat := catalog.New(repo, search, catalog.Options{
		MaxActivationDuration:  cfg.ActivationTimeout,
		MaxRolesPerRequest:     cfg.MaxRolesPerRequest,
		MinReviewers:           cfg.MinReviewers,
		MaxReviewers:           cfg.MaxReviewers,
		AvailableProjectsQuery: cfg.AvailableProjectsQuery,
	})

	validator, err := condition.NewValidator()
	if err != nil {
		return err
	}
	engine := provision.NewEngine(resourceManager, validator)

	keys, err := buildKeySet(ctx, cfg, httpClient)
	if err != nil {
		return err
	}
	tokens := token.NewService(keys, cfg.ActivationRequestTimeout)

	policy, err := activation.NewJustificationPolicy(cfg.JustificationPattern, cfg.JustificationHint)
	if err != nil {
		return err
	}

	templates, err := buildTemplates(cfg)
	if err != nil {
		return err
	}
	var mail notify.Sink = notify.NewSlogSink()
	if cfg.SMTPHost != "" {
		mail = notify.NewSMTPSink(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPassword, cfg.SMTPSender)
	}
	var publisher notify.Publisher
	if cfg.NotificationTopic != "" {
		publisher = gcpclients.NewPubSubPublisher(httpClient, cfg.NotificationTopic)
	}
	events := notify.NewEventSink(publisher)

	auditor, cleanup, err := buildAuditor(ctx, cfg, health)
	if err != nil {
		return err
	}
	defer cleanup()

	activator := activation.NewActivator(cat, engine, policy, tokens, templates, mail, events, auditor, cfg.BaseURL)

	handlers := api.NewHandlers(cat, activator, policy.Hint(), version,
		int(cfg.ActivationRequestTimeout.Minutes()), int(cfg.ActivationTimeout.Minutes()))

	var verifier auth.AssertionVerifier
	assertionHeader := ""
	if cfg.IAPAudience != "" {
		verifier, err = auth.NewIAPVerifier(ctx, cfg.IAPAudience)
		if err != nil {
			return err
		}
	} else {
		slog.Warn("IAP_AUDIENCE is not set, trusting the authenticated-user header")
		verifier = auth.HeaderPrincipal{}
		assertionHeader = "x-goog-authenticated-user-email"
	}
	limiter := auth.NewRateLimiter(cfg.RateLimitPerMinute, cfg.RateLimitBurst)

	router := api.NewRouter(handlers, health, verifier, assertionHeader, limiter)

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           obs.Middleware(router),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("listening", "port", cfg.Port, "catalog", cfg.ResourceCatalog, "scope", cfg.ResourceScope)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func setupLogging(level string) {
	var lvl slog.Level
	switch strings.ToUpper(level) {
	case "DEBUG":
		lvl = slog.LevelDebug
	case "WARN":
		lvl = slog.LevelWarn
	case "ERROR":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})))
}

// buildKeySet selects the signing identity: the cloud service account when
// configured, a locally generated key otherwise.
func buildKeySet(ctx context.Context, cfg *config.Config, httpClient *http.Client) (token.KeySet, error) {
	if cfg.ServiceAccount != "" {
		signer := gcpclients.NewIAMCredentialsClient(httpClient, cfg.ServiceAccount)
		return token.NewServiceAccountKeySet(ctx, signer)
	}
	slog.Warn("SERVICE_ACCOUNT is not set, approval tokens are signed with an ephemeral local key")
	return token.NewLocalKeySet("jitaccess@local")
}

func buildTemplates(cfg *config.Config) (*notify.Templates, error) {
	if cfg.NotificationTemplates != "" {
		return notify.LoadTemplates(cfg.NotificationTemplates)
	}
	return notify.DefaultTemplates()
}

// buildAuditor assembles the audit pipeline: the log-stream logger always,
// plus the relational store and the evidence-pack exporter when configured.
func buildAuditor(ctx context.Context, cfg *config.Config, health *api.HealthHandler) (audit.Logger, func(), error) {
	stream := audit.NewLogger()
	cleanup := func() {}
	if cfg.AuditStoreDSN == "" {
		return stream, cleanup, nil
	}

	driver := "sqlite"
	if strings.HasPrefix(cfg.AuditStoreDSN, "postgres://") {
		driver = "postgres"
	}
	db, err := sql.Open(driver, cfg.AuditStoreDSN)
	if err != nil {
		return nil, nil, err
	}
	store := audit.NewStoreLogger(db)
	if err := store.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	health.Register("audit-store", func(ctx context.Context) error {
		return db.PingContext(ctx)
	})
	cleanup = func() { _ = db.Close() }

	if cfg.AuditBucket != "" {
		client, err := storage.NewClient(ctx)
		if err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		exporter := audit.NewExporter(store, client.Bucket(cfg.AuditBucket))
		go runExportLoop(ctx, exporter)
	}

	return audit.Tee{stream, store}, cleanup, nil
}

// runExportLoop uploads a daily evidence pack covering the previous day.
func runExportLoop(ctx context.Context, exporter *audit.Exporter) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			end := now.UTC().Truncate(24 * time.Hour)
			start := end.Add(-24 * time.Hour)
			pack, checksum, err := exporter.GeneratePack(ctx, audit.ExportRequest{StartTime: start, EndTime: end})
			if err != nil {
				slog.Error("generating the audit evidence pack failed", "error", err)
				continue
			}
			name := "evidence/" + start.Format("2006-01-02") + ".zip"
			if _, err := exporter.Upload(ctx, name, pack); err != nil {
				slog.Error("uploading the audit evidence pack failed", "error", err)
				continue
			}
			slog.Info("audit evidence pack uploaded", "object", name, "sha256", checksum)
		}
	}
}
