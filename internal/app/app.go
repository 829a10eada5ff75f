package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/markdave123-py/Extracta/internal/config"
	"github.com/markdave123-py/Extracta/internal/core"
	db "github.com/markdave123-py/Extracta/internal/core/database"
	"github.com/markdave123-py/Extracta/internal/core/fetch"
	"github.com/markdave123-py/Extracta/internal/core/ingestion_engine"
	"github.com/markdave123-py/Extracta/internal/core/llm"
	objectclient "github.com/markdave123-py/Extracta/internal/core/object-client"
	"github.com/markdave123-py/Extracta/internal/core/recovery"
	"github.com/markdave123-py/Extracta/internal/core/registry"
	"github.com/markdave123-py/Extracta/internal/core/retry"
	"github.com/markdave123-py/Extracta/internal/core/source"
	"github.com/markdave123-py/Extracta/internal/services"
)

// Core is everything both the server and the CLI need.
type Core struct {
	Config     *config.Config
	Logger     *slog.Logger
	Fetcher    *fetch.Fetcher
	Objects    core.ObjectClient
	Engines    *registry.Registry
	Reporter   *recovery.Reporter
	Recovery   *recovery.Manager
	Extraction *services.ExtractionService
	Runs       db.RunStore

	mu      sync.Mutex
	closers []io.Closer
}

// NewCore wires the extraction stack. Object storage is only built when
// credentials are configured; runs go to Postgres when DATABASE_URL is set
// and to memory otherwise. fallback overrides cfg.FallbackEngines when set.
func NewCore(ctx context.Context, cfg *config.Config, logger *slog.Logger, fallback []string) (*Core, error) {
	c := &Core{Config: cfg, Logger: logger}

	c.Fetcher = fetch.New(fetch.Config{
		MaxBytes: cfg.MaxDownloadBytes(),
		Timeout:  cfg.RequestTimeout,
	}, logger)

	if cfg.HasObjectStorage() {
		s3c, err := objectclient.NewS3Client(ctx, objectclient.S3Config{
			AccessKey: cfg.AwsAccessKey,
			SecretKey: cfg.AwsSecretKey,
			Region:    cfg.AwsRegion,
			Endpoint:  cfg.AwsEndpoint,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("object storage: %w", err)
		}
		c.Objects = s3c
	}

	deps := &ingestion_engine.EngineDeps{
		Fetcher:  c.Fetcher,
		NewModel: c.newModel,
		Logger:   logger,
	}
	c.Engines = registry.New(ingestion_engine.DefaultFactories(deps), logger)

	if len(fallback) == 0 {
		fallback = cfg.FallbackEngines
	}
	c.Reporter = recovery.NewReporter()
	c.Recovery = recovery.NewManager(c.Reporter, logger,
		&recovery.RetryWithDelay{MaxRetries: cfg.RetryMax, BaseDelay: cfg.RetryBaseDelay},
		&recovery.FallbackEngine{Engines: c.Engines, Keys: fallback, Logger: logger},
	)

	if cfg.DatabaseURL != "" {
		store, err := db.NewDatabaseClient(ctx, db.PostgresConfig{URL: cfg.DatabaseURL, SslCertPath: cfg.SslCertPath})
		if err != nil {
			return nil, err
		}
		logger.Info("run store ready", "backend", "postgres")
		c.Runs = store
	} else {
		c.Runs = db.NewMemoryStore()
	}

	policy := retry.DefaultPolicy()
	policy.MaxRetries = cfg.RetryMax
	policy.BaseDelay = cfg.RetryBaseDelay
	resolver := source.NewResolver(c.Fetcher, c.Objects, logger, source.Options{Retry: policy})
	c.Extraction = services.NewExtractionService(c.Engines, resolver, c.Recovery, c.Runs, logger)
	return c, nil
}

// newModel builds the hosted document model for the gemini engine. The
// registry calls it at most once per successful construction.
func (c *Core) newModel() (core.DocumentModel, error) {
	m, err := llm.NewGeminiDocumentModel(context.Background(), llm.GeminiConfig{
		APIKey:   c.Config.GeminiAPIKey,
		Endpoint: c.Config.GeminiEndpoint,
		Model:    c.Config.GeminiModel,
	})
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.closers = append(c.closers, m)
	c.mu.Unlock()
	return m, nil
}

// DumpDiagnostics writes the error report when errors were recorded and a
// dump dir is configured.
func (c *Core) DumpDiagnostics(ctx context.Context, dir string) {
	if dir == "" || c.Reporter.Len() == 0 {
		return
	}
	where, err := c.Reporter.WriteDump(ctx, dir, c.Objects)
	if err != nil {
		c.Logger.Error("could not write error report", "dir", dir, "error", err)
		return
	}
	s := c.Reporter.Summary(5)
	c.Logger.Info("error report written", "path", where, "total", s.Total, "recoverable", s.Recoverable)
}

func (c *Core) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, cl := range c.closers {
		_ = cl.Close()
	}
	c.closers = nil
	if c.Runs != nil {
		_ = c.Runs.Close()
	}
}

// App is the HTTP service.
type App struct {
	*Core
	Jobs   *services.JobService
	Server *Server
}

func NewApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	setupCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	c, err := NewCore(setupCtx, cfg, logger, nil)
	if err != nil {
		return nil, err
	}
	jobs := services.NewJobService(c.Extraction, c.Objects, cfg.ResultsDir, cfg.Workers, logger)
	archive := services.NewArchiveService(c.Objects, cfg.BucketName)

	return &App{
		Core:   c,
		Jobs:   jobs,
		Server: NewServer(cfg, c.Extraction, archive, jobs, logger),
	}, nil
}

// Run serves until ctx is cancelled, then drains the server and the job
// workers and writes the diagnostics report.
func (a *App) Run(ctx context.Context) error {
	jobCtx, stopJobs := context.WithCancel(ctx)
	defer stopJobs()
	a.Jobs.Start(jobCtx)

	serveErr := make(chan error, 1)
	go func() { serveErr <- a.Server.Start() }()

	var err error
	select {
	case err = <-serveErr:
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if serr := a.Server.Shutdown(shutdownCtx); serr != nil && !errors.Is(serr, http.ErrServerClosed) {
		a.Logger.Error("server shutdown", "error", serr)
	}
	stopJobs()
	_ = a.Jobs.Wait()
	a.DumpDiagnostics(shutdownCtx, a.Config.DiagnosticDumpDir)
	return err
}
