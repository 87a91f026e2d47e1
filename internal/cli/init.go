// Package cli provides common CLI initialization utilities shared by
// cmd/comprobantes and cmd/inbox-worker.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"comprobantes/internal/amqp"
	"comprobantes/internal/archive"
	"comprobantes/internal/backend"
	"comprobantes/internal/cache"
	"comprobantes/internal/classifier"
	"comprobantes/internal/config"
	"comprobantes/internal/dedup"
	"comprobantes/internal/ledger"
	applog "comprobantes/internal/log"
	"comprobantes/internal/metrics"
	"comprobantes/internal/notify"
	"comprobantes/internal/ocr"
	"comprobantes/internal/services"
	"comprobantes/internal/storage"
)

const (
	seenCacheSize = 4096
	seenCacheTTL  = 24 * time.Hour
)

// SetupLogger initializes structured logging on w at the named level and
// sets it as the default logger. Unknown levels fall back to info.
func SetupLogger(w io.Writer, level string) *applog.Logger {
	lvl, err := applog.ParseLevel(level)
	cfg := applog.DefaultConfig()
	cfg.Level = lvl
	cfg.Writer = w
	logger := applog.New(cfg)
	applog.SetDefault(logger)
	if err != nil {
		logger.Warn("Unknown log level, using info", applog.FieldError, err)
	}
	return logger
}

// LoadEnvFile loads the .env file for local development.
// Errors are ignored silently as this is optional in production.
func LoadEnvFile() {
	_ = godotenv.Load()
}

// LoadAndValidateConfig loads configuration and validates it.
func LoadAndValidateConfig(logger *applog.Logger) (*config.Config, error) {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", applog.FieldError, err)
		return nil, err
	}
	return cfg, nil
}

// App is a fully wired pipeline and the resources behind it.
type App struct {
	Pipeline  *services.Pipeline
	Ledger    *ledger.Ledger
	Store     storage.Store
	SeenCache *cache.LRUCache[time.Time]

	cleanups []func() error
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() error {
	var errs []error
	for i := len(a.cleanups) - 1; i >= 0; i-- {
		if err := a.cleanups[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.cleanups = nil
	return errors.Join(errs...)
}

func (a *App) onClose(fn func() error) {
	if fn != nil {
		a.cleanups = append(a.cleanups, fn)
	}
}

// BuildPipeline wires storage, OCR, classification, the ledger and the
// notification sinks from cfg. m may be nil. On error every resource
// acquired so far is released.
func BuildPipeline(ctx context.Context, cfg *config.Config, logger *applog.Logger, m *metrics.Metrics) (*App, error) {
	app := &App{}
	built, err := app.build(ctx, cfg, logger, m)
	if err != nil {
		_ = app.Close()
		return nil, err
	}
	return built, nil
}

func (app *App) build(ctx context.Context, cfg *config.Config, logger *applog.Logger, m *metrics.Metrics) (*App, error) {

	loc, err := cfg.Location()
	if err != nil {
		return nil, fmt.Errorf("load timezone: %w", err)
	}

	rules := classifier.DefaultRules()
	if cfg.RulesFile != "" {
		if rules, err = classifier.LoadRules(cfg.RulesFile); err != nil {
			return nil, err
		}
		logger.Info("Loaded classifier rules", applog.FieldFile, cfg.RulesFile)
	}

	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		return nil, err
	}
	res, err := backend.NewFactory(logger.WithComponent(applog.ComponentBackend).Slog()).CreateBackend(ctx, backendCfg)
	if err != nil {
		return nil, err
	}
	app.onClose(res.Cleanup)
	app.Store = res.Store

	recognizer, err := BuildRecognizer(ctx, cfg)
	if err != nil {
		return nil, err
	}

	sink, closeSink, err := BuildSink(cfg, logger)
	if err != nil {
		return nil, err
	}
	app.onClose(closeSink)

	app.SeenCache = cache.NewLRUCache[time.Time](seenCacheSize, seenCacheTTL)
	gate := dedup.NewGate(res.Store,
		dedup.WithCache(app.SeenCache),
		dedup.WithLogger(logger.WithComponent(applog.ComponentDedup).Slog()))
	app.Ledger = ledger.New(res.Store, res.Store, loc, logger.WithComponent(applog.ComponentLedger).Slog())

	app.Pipeline, err = services.NewPipeline(services.PipelineDeps{
		Gate:       gate,
		Recognizer: recognizer,
		Classifier: classifier.New(rules),
		Ledger:     app.Ledger,
		Sink:       sink,
		Recipient:  cfg.NotifyRecipient,
		Metrics:    m,
		Logger:     logger.Slog(),
	})
	if err != nil {
		return nil, err
	}
	return app, nil
}

// BuildRecognizer selects the OCR engine. "none" yields empty text, so every
// image is recorded as unclassified.
func BuildRecognizer(ctx context.Context, cfg *config.Config) (ocr.Recognizer, error) {
	switch cfg.OCREngine {
	case "tesseract":
		return ocr.NewTesseract(cfg.TesseractPath, cfg.OCRLanguages), nil
	case "gemini":
		g, err := ocr.NewGemini(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			return nil, fmt.Errorf("init gemini OCR: %w", err)
		}
		return g, nil
	case "none":
		return ocr.Static{}, nil
	}
	return nil, fmt.Errorf("unsupported OCR engine: %s", cfg.OCREngine)
}

// BuildSink returns the outbox sink, fanned out to AMQP when configured. An
// unreachable broker is logged and skipped.
func BuildSink(cfg *config.Config, logger *applog.Logger) (notify.Sink, func() error, error) {
	outbox, err := notify.NewOutboxSink(cfg.OutboxDir)
	if err != nil {
		return nil, nil, err
	}
	if cfg.AMQPURL == "" {
		return outbox, nil, nil
	}

	amqpLogger := logger.WithComponent(applog.ComponentAMQP)
	client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, amqpLogger.Slog())
	if err != nil {
		amqpLogger.Warn("Failed to initialize AMQP client, continuing with outbox only", applog.FieldError, err)
		return outbox, nil, nil
	}
	amqpLogger.Info("Initialized AMQP client", "exchange", cfg.AMQPExchange, "queue", cfg.AMQPQueue)
	return notify.MultiSink{outbox, notify.AMQPSink{Publisher: client}}, client.Close, nil
}

// BuildArchiver returns the archiver for processed inbox media.
func BuildArchiver(ctx context.Context, cfg *config.Config) (archive.Archiver, func() error, error) {
	switch cfg.ArchiveBackend {
	case "local":
		return archive.LocalArchiver{Root: cfg.InboxDir}, nil, nil
	case "gcs":
		a, err := archive.NewGCSArchiver(ctx, cfg.GCSBucket, cfg.GCSPrefix)
		if err != nil {
			return nil, nil, err
		}
		return a, a.Close, nil
	}
	return nil, nil, fmt.Errorf("unsupported archive backend: %s", cfg.ArchiveBackend)
}

// GracefulShutdown sets up signal handling for graceful shutdown.
// Returns a context that will be cancelled on shutdown signals,
// and a channel that signals when shutdown is complete. cleanup runs
// before the context is cancelled, so work in flight can finish.
func GracefulShutdown(logger *applog.Logger, timeout time.Duration, cleanup func()) (context.Context, <-chan struct{}) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	return shutdownOn(sigChan, func() { signal.Stop(sigChan) }, logger, timeout, cleanup)
}

func shutdownOn(sigs <-chan os.Signal, release func(), logger *applog.Logger, timeout time.Duration, cleanup func()) (context.Context, <-chan struct{}) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		defer close(done)

		sig := <-sigs
		if release != nil {
			release()
		}
		logger.Info("Shutdown signal received", "signal", sig.String())

		finished := make(chan struct{})
		go func() {
			if cleanup != nil {
				cleanup()
			}
			close(finished)
		}()

		select {
		case <-finished:
			logger.Info("Shutdown complete")
		case <-time.After(timeout):
			logger.Warn("Shutdown timeout reached")
		}
		cancel()
	}()

	return ctx, done
}

// WaitForShutdown blocks until the context is cancelled.
func WaitForShutdown(ctx context.Context, done <-chan struct{}) {
	<-ctx.Done()
	<-done
}
