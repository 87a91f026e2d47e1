// Command inbox-worker polls a directory for media dropped by hand, runs
// each file through the classification pipeline and archives it by outcome.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"comprobantes/internal/cache"
	"comprobantes/internal/cli"
	"comprobantes/internal/config"
	apphttp "comprobantes/internal/http"
	applog "comprobantes/internal/log"
	"comprobantes/internal/metrics"
	"comprobantes/internal/services"
)

const (
	shutdownTimeout = 30 * time.Second
	serverTimeout   = 5 * time.Second
	cacheSweep      = time.Hour

	// staleBatches is how many poll intervals may pass without a finished
	// batch before /healthz reports stale.
	staleBatches = 3
)

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd(stdout io.Writer) *cobra.Command {
	var once bool
	cmd := &cobra.Command{
		Use:   "inbox-worker",
		Short: "Process media files dropped into the inbox directory",
		Long: `Scans INBOX_DIR every POLL_INTERVAL, classifies each file with the same
pipeline as the comprobantes command (source "inbox", sender "manual")
and moves it to processed/ or failed/ inside the archive.

With --once a single pass is run and a summary is printed.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cli.LoadEnvFile()
			logger := cli.SetupLogger(os.Stdout, os.Getenv("LOG_LEVEL"))

			cfg, err := cli.LoadAndValidateConfig(logger)
			if err != nil {
				return err
			}
			if once {
				return runOnce(cmd.Context(), cfg, logger, stdout)
			}
			return runDaemon(cfg, logger)
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "Run a single pass over the inbox and exit")
	return cmd
}

type worker struct {
	app       *cli.App
	processor *services.InboxProcessor
	closers   []func() error
}

func (w *worker) Close() {
	for i := len(w.closers) - 1; i >= 0; i-- {
		_ = w.closers[i]()
	}
	if w.app != nil {
		_ = w.app.Close()
	}
}

func newWorker(ctx context.Context, cfg *config.Config, logger *applog.Logger, m *metrics.Metrics) (*worker, error) {
	if err := os.MkdirAll(cfg.InboxDir, 0o755); err != nil {
		return nil, fmt.Errorf("create inbox directory: %w", err)
	}

	app, err := cli.BuildPipeline(ctx, cfg, logger, m)
	if err != nil {
		return nil, err
	}
	w := &worker{app: app}

	archiver, closeArchiver, err := cli.BuildArchiver(ctx, cfg)
	if err != nil {
		w.Close()
		return nil, err
	}
	if closeArchiver != nil {
		w.closers = append(w.closers, closeArchiver)
	}

	w.processor = services.NewInboxProcessor(app.Pipeline, archiver, m,
		logger.WithComponent(applog.ComponentInbox).Slog(),
		services.InboxConfig{Dir: cfg.InboxDir, PollInterval: cfg.PollInterval})
	return w, nil
}

func runOnce(ctx context.Context, cfg *config.Config, logger *applog.Logger, stdout io.Writer) error {
	w, err := newWorker(ctx, cfg, logger, nil)
	if err != nil {
		return err
	}
	defer w.Close()

	report, err := w.processor.RunOnce(ctx)
	if err != nil {
		return err
	}
	printSummary(stdout, report)
	return nil
}

func printSummary(out io.Writer, report services.BatchReport) {
	for _, item := range report.Items {
		switch {
		case item.Err != nil:
			fmt.Fprintf(out, "FAILED     %s: %v\n", item.File, item.Err)
		default:
			fmt.Fprintf(out, "%-10s %s\n", item.Result.Kind, item.File)
		}
	}
	fmt.Fprintf(out, "processed=%d duplicates=%d failed=%d\n",
		report.Processed, report.Duplicates, report.Failed)
}

func runDaemon(cfg *config.Config, logger *applog.Logger) error {
	logger.Info("Starting inbox-worker",
		"inbox_dir", cfg.InboxDir,
		"poll_interval", cfg.PollInterval,
		"archive_backend", cfg.ArchiveBackend)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	w, err := newWorker(context.Background(), cfg, logger, m)
	if err != nil {
		return err
	}
	defer w.Close()

	tracker := trackBatches(w.processor)

	caches := cache.NewManager(logger.WithComponent(applog.ComponentCache).Slog())
	caches.Register(w.app.SeenCache)
	caches.StartCleanup(cacheSweep)

	ctx, done := cli.GracefulShutdown(logger, shutdownTimeout, func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := w.processor.Stop(stopCtx); err != nil {
			logger.Warn("Inbox processor stop failed", applog.FieldError, err)
		}
		caches.Stop()
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := w.processor.Start(gctx); err != nil {
			return err
		}
		<-w.processor.Done()
		return nil
	})
	if cfg.MetricsAddr != "" {
		srv := newHealthServer(cfg, reg, tracker, logger)
		logger.Info("Serving health and metrics", "addr", cfg.MetricsAddr)
		g.Go(func() error {
			return srv.Run(gctx, serverTimeout)
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Inbox worker failed", applog.FieldError, err)
		return err
	}
	cli.WaitForShutdown(ctx, done)
	return nil
}

// trackBatches records every finished pass of proc for /healthz.
func trackBatches(proc *services.InboxProcessor) *apphttp.Tracker {
	tracker := &apphttp.Tracker{}
	proc.OnBatch(func(r services.BatchReport) {
		tracker.Set(apphttp.BatchStatus{
			FinishedAt: r.FinishedAt,
			Processed:  r.Processed,
			Duplicates: r.Duplicates,
			Failed:     r.Failed,
		})
	})
	return tracker
}

func newHealthServer(cfg *config.Config, gatherer prometheus.Gatherer, tracker *apphttp.Tracker, logger *applog.Logger) *apphttp.Server {
	return apphttp.NewServer(cfg.MetricsAddr, gatherer, tracker, staleBatches*cfg.PollInterval,
		logger.WithComponent(applog.ComponentHTTP))
}
