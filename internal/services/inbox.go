package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"comprobantes/internal/archive"
	"comprobantes/internal/core"
	applog "comprobantes/internal/log"
	"comprobantes/internal/metrics"
)

// Metadata applied to every inbox item.
const (
	InboxSource = "inbox"
	InboxSender = "manual"
)

// Processor is satisfied by *Pipeline.
type Processor interface {
	Process(ctx context.Context, path string, meta Metadata) (Result, error)
}

// InboxConfig holds configuration for the inbox processor
type InboxConfig struct {
	// Dir is scanned for media files; subdirectories are ignored.
	Dir string

	// PollInterval is how often Start rescans Dir (default: 30s)
	PollInterval time.Duration
}

func DefaultInboxConfig() InboxConfig {
	return InboxConfig{
		Dir:          "./inbox",
		PollInterval: 30 * time.Second,
	}
}

// ItemReport is the outcome of one inbox file.
type ItemReport struct {
	File       string
	Result     Result
	Err        error
	ArchivedTo string
}

// BatchReport summarises one RunOnce pass.
type BatchReport struct {
	StartedAt  time.Time
	FinishedAt time.Time
	Items      []ItemReport
	Processed  int
	Duplicates int
	Failed     int
}

// InboxProcessor runs the pipeline over every file in a directory, one file
// at a time, and archives each file by outcome.
type InboxProcessor struct {
	pipeline Processor
	archiver archive.Archiver
	config   InboxConfig
	metrics  *metrics.Metrics
	logger   *slog.Logger
	now      func() time.Time
	onBatch  func(BatchReport)

	// Lifecycle management
	mu       sync.Mutex
	running  bool
	stopCh   chan struct{}
	doneCh   chan struct{}
	stopping atomic.Bool
}

// NewInboxProcessor creates a new inbox processor. A nil archiver leaves
// files in place, so they are reported as duplicates on the next pass.
func NewInboxProcessor(pipeline Processor, archiver archive.Archiver, m *metrics.Metrics, logger *slog.Logger, config InboxConfig) *InboxProcessor {
	if logger == nil {
		logger = slog.Default()
	}
	return &InboxProcessor{
		pipeline: pipeline,
		archiver: archiver,
		config:   config,
		metrics:  m,
		logger:   logger.With(applog.FieldComponent, applog.ComponentInbox),
		now:      time.Now,
	}
}

// OnBatch registers fn to be called after every completed pass.
func (p *InboxProcessor) OnBatch(fn func(BatchReport)) {
	p.onBatch = fn
}

// RunOnce processes the files currently in the inbox, in name order. An
// item's failure is recorded in the report and never stops the batch; only
// an unreadable inbox or a cancelled context is returned as an error. Stop
// ends the pass after the current item.
func (p *InboxProcessor) RunOnce(ctx context.Context) (BatchReport, error) {
	report := BatchReport{StartedAt: p.now()}

	entries, err := os.ReadDir(p.config.Dir)
	if err != nil {
		return report, fmt.Errorf("read inbox %s: %w", p.config.Dir, err)
	}

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			report.FinishedAt = p.now()
			return report, err
		}
		if p.stopping.Load() {
			break
		}
		if !entry.Type().IsRegular() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		item := p.processFile(ctx, filepath.Join(p.config.Dir, entry.Name()))
		report.Items = append(report.Items, item)
		switch {
		case item.Err != nil:
			report.Failed++
		case item.Result.Dedup:
			report.Duplicates++
		default:
			report.Processed++
		}
	}

	report.FinishedAt = p.now()
	p.metrics.BatchCompleted(float64(report.FinishedAt.Unix()))
	if len(report.Items) > 0 {
		p.logger.InfoContext(ctx, "Inbox batch completed",
			applog.FieldOperation, applog.OpBatch,
			"processed", report.Processed,
			"duplicates", report.Duplicates,
			"failed", report.Failed,
			applog.FieldDuration, report.FinishedAt.Sub(report.StartedAt).Milliseconds())
	}
	if p.onBatch != nil {
		p.onBatch(report)
	}
	return report, nil
}

func (p *InboxProcessor) processFile(ctx context.Context, path string) ItemReport {
	item := ItemReport{File: filepath.Base(path)}
	item.Result, item.Err = p.pipeline.Process(ctx, path, Metadata{
		Source:     InboxSource,
		Sender:     InboxSender,
		ReceivedAt: p.now(),
	})

	outcome := archive.Processed
	if item.Err != nil {
		outcome = archive.Failed
		level := slog.LevelError
		if errors.Is(item.Err, core.ErrOCR) {
			level = slog.LevelWarn
		}
		p.logger.Log(ctx, level, "Inbox item failed", applog.FieldFile, item.File, applog.FieldError, item.Err)
	}

	if p.archiver == nil {
		return item
	}
	dest, err := p.archiver.Archive(ctx, path, outcome)
	if err != nil {
		p.metrics.ObserveFailure(metrics.ReasonArchive)
		p.logger.ErrorContext(ctx, "Failed to archive inbox item",
			applog.FieldFile, item.File, applog.FieldError, err)
		return item
	}
	item.ArchivedTo = dest
	p.logger.DebugContext(ctx, "Inbox item archived", applog.FieldFile, item.File, applog.FieldDestination, dest)
	return item
}

// Start begins the polling loop. Returns an error if already running.
func (p *InboxProcessor) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return fmt.Errorf("inbox processor is already running")
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})
	go p.runLoop(ctx, p.stopCh, p.doneCh)
	p.mu.Unlock()

	p.logger.InfoContext(ctx, "Inbox processor started",
		"dir", p.config.Dir,
		"poll_interval", p.config.PollInterval)
	return nil
}

// Stop gracefully stops the processor and waits for the current pass.
func (p *InboxProcessor) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	stopCh, doneCh := p.stopCh, p.doneCh
	p.running = false
	p.stopping.Store(true)
	p.mu.Unlock()

	close(stopCh)

	select {
	case <-doneCh:
		p.logger.InfoContext(ctx, "Inbox processor stopped gracefully")
		return nil
	case <-ctx.Done():
		p.logger.WarnContext(ctx, "Inbox processor stop timed out")
		return ctx.Err()
	}
}

// IsRunning returns whether the processor is currently running
func (p *InboxProcessor) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Done is closed when the loop started by Start exits.
func (p *InboxProcessor) Done() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.doneCh
}

func (p *InboxProcessor) runLoop(ctx context.Context, stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)
	defer p.stopping.Store(false)

	interval := p.config.PollInterval
	if interval <= 0 {
		interval = DefaultInboxConfig().PollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	p.pass(ctx)
	for {
		select {
		case <-stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.pass(ctx)
		}
	}
}

func (p *InboxProcessor) pass(ctx context.Context) {
	if _, err := p.RunOnce(ctx); err != nil && ctx.Err() == nil {
		p.logger.ErrorContext(ctx, "Inbox pass failed", applog.FieldError, err)
	}
}
