// Package services orchestrates document processing: the classification
// pipeline for a single media file and the inbox batch runner built on it.
package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"comprobantes/internal/classifier"
	"comprobantes/internal/core"
	"comprobantes/internal/dedup"
	"comprobantes/internal/ledger"
	applog "comprobantes/internal/log"
	"comprobantes/internal/metrics"
	"comprobantes/internal/notify"
	"comprobantes/internal/ocr"
)

// Notes written on unclassified records.
const (
	NoteUnclassified     = "no_valor_o_clasificacion"
	noteUnsupportedMedia = "unsupported_media_type:"
	noteHint             = "hint="
)

// DefaultParty fills in missing source and sender metadata.
const DefaultParty = "unknown"

// Metadata describes where a media file came from.
type Metadata struct {
	Source     string
	Sender     string
	ReceivedAt time.Time
	MessageID  string
}

// Result is the outcome of processing one media file. DayKey and Totals are
// nil for duplicates; FirstSeenAt is set only for duplicates.
type Result struct {
	Dedup       bool            `json:"dedup"`
	Kind        core.Category   `json:"kind"`
	ValueCOP    core.Money      `json:"valueCop"`
	DayKey      *core.DayKey    `json:"dayKey"`
	Totals      *core.DayTotals `json:"totals"`
	NotifyText  string          `json:"notifyText"`
	MediaRef    core.MediaRef   `json:"mediaRef"`
	Notes       string          `json:"notes,omitempty"`
	FirstSeenAt *time.Time      `json:"firstSeenAt,omitempty"`
}

// PipelineDeps are the collaborators of a Pipeline. Gate, Recognizer and
// Ledger are required.
type PipelineDeps struct {
	Gate       *dedup.Gate
	Recognizer ocr.Recognizer
	Classifier *classifier.Classifier
	Ledger     *ledger.Ledger
	Sink       notify.Sink
	Recipient  string
	Metrics    *metrics.Metrics
	Clock      func() time.Time
	Logger     *slog.Logger
}

// Pipeline processes media files one at a time. It holds no per-item state;
// concurrent calls share the underlying stores without locking.
type Pipeline struct {
	gate       *dedup.Gate
	recognizer ocr.Recognizer
	classifier *classifier.Classifier
	ledger     *ledger.Ledger
	sink       notify.Sink
	recipient  string
	metrics    *metrics.Metrics
	now        func() time.Time
	logger     *slog.Logger
}

func NewPipeline(deps PipelineDeps) (*Pipeline, error) {
	if deps.Gate == nil || deps.Recognizer == nil || deps.Ledger == nil {
		return nil, errors.New("pipeline requires a dedup gate, a recognizer and a ledger")
	}
	p := &Pipeline{
		gate:       deps.Gate,
		recognizer: deps.Recognizer,
		classifier: deps.Classifier,
		ledger:     deps.Ledger,
		sink:       deps.Sink,
		recipient:  deps.Recipient,
		metrics:    deps.Metrics,
		now:        deps.Clock,
		logger:     deps.Logger,
	}
	if p.classifier == nil {
		p.classifier = classifier.New(nil)
	}
	if p.recipient == "" {
		p.recipient = notify.DefaultRecipient
	}
	if p.now == nil {
		p.now = time.Now
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	p.logger = p.logger.With(applog.FieldComponent, applog.ComponentPipeline)
	return p, nil
}

// Process classifies the media at path and records the outcome.
//
// Only input errors (core.ErrInput), recognition failures (core.ErrOCR) and
// storage failures are returned. The media is registered with the dedup gate
// before recognition, so a failed item is reported as a duplicate if it is
// submitted again.
func (p *Pipeline) Process(ctx context.Context, path string, meta Metadata) (Result, error) {
	meta = p.withDefaults(meta)

	content, err := readMedia(path)
	if err != nil {
		p.metrics.ObserveFailure(metrics.ReasonInput)
		return Result{}, err
	}
	ref := core.NewMediaRef(content, path)
	logger := p.logger.With(applog.FieldMediaRef, string(ref), applog.FieldSender, meta.Sender)
	if meta.MessageID != "" {
		logger = logger.With(applog.FieldMessageID, meta.MessageID)
	}

	obs, err := p.gate.Observe(ctx, ref)
	if err != nil {
		p.metrics.ObserveFailure(metrics.ReasonStorage)
		return Result{}, fmt.Errorf("dedup %s: %w", ref, err)
	}
	if obs.Duplicate {
		return p.duplicate(ctx, logger, ref, obs.FirstSeenAt, meta), nil
	}

	text, notes, err := p.recognize(ctx, path)
	if err != nil {
		p.metrics.ObserveFailure(metrics.ReasonOCR)
		logger.ErrorContext(ctx, "Text recognition failed", applog.FieldError, err)
		return Result{}, fmt.Errorf("process %s: %w", ref, err)
	}

	cls := p.classifier.Classify(text)
	outcome := cls.Outcome()
	rec := core.ClassificationRecord{
		ReceivedAt: meta.ReceivedAt,
		Source:     meta.Source,
		Sender:     meta.Sender,
		Category:   outcome,
		Currency:   core.Currency,
		Notes:      notes,
		MediaRef:   ref,
	}

	var (
		day    core.DayKey
		totals core.DayTotals
	)
	if outcome.Tracked() {
		rec.Amount = cls.Amount
		day, totals, err = p.ledger.RecordEvent(ctx, rec)
	} else {
		rec.Notes = unclassifiedNotes(notes, cls.Hint())
		if err = p.ledger.RecordUnclassified(ctx, rec); err == nil {
			day = p.ledger.DayKey(rec.ReceivedAt)
			totals, err = p.ledger.DayTotals(ctx, day)
		}
	}
	if err != nil {
		p.metrics.ObserveFailure(metrics.ReasonStorage)
		return Result{}, fmt.Errorf("record %s: %w", ref, err)
	}

	res := Result{
		Kind:       outcome,
		ValueCOP:   rec.Amount,
		DayKey:     &day,
		Totals:     &totals,
		NotifyText: NotificationText(outcome, rec.Amount, day, totals, meta.Sender, ref),
		MediaRef:   ref,
		Notes:      rec.Notes,
	}
	p.enqueue(ctx, logger, res)
	p.metrics.ObserveDocument(outcome, rec.Amount)

	logger.InfoContext(ctx, "Document processed",
		applog.NewFields().
			WithDocument(string(ref), outcome.String(), rec.Amount.String()).
			WithOperation(applog.OpProcess).
			ToSlice()...)
	if cls.Pattern != "" {
		logger.DebugContext(ctx, "Amount extracted", applog.FieldPattern, cls.Pattern,
			"invoice_score", cls.InvoiceScore, "transaction_score", cls.TransactionScore)
	}
	return res, nil
}

func (p *Pipeline) withDefaults(meta Metadata) Metadata {
	if strings.TrimSpace(meta.Source) == "" {
		meta.Source = DefaultParty
	}
	if strings.TrimSpace(meta.Sender) == "" {
		meta.Sender = DefaultParty
	}
	if meta.ReceivedAt.IsZero() {
		meta.ReceivedAt = p.now()
	}
	return meta
}

func (p *Pipeline) duplicate(ctx context.Context, logger *slog.Logger, ref core.MediaRef, firstSeen time.Time, meta Metadata) Result {
	res := Result{
		Dedup:       true,
		Kind:        core.Duplicate,
		NotifyText:  DuplicateText(ref, firstSeen, meta.Sender, p.ledger.Location()),
		MediaRef:    ref,
		FirstSeenAt: &firstSeen,
	}
	p.enqueue(ctx, logger, res)
	p.metrics.ObserveDocument(core.Duplicate, core.Money{})
	logger.InfoContext(ctx, "Duplicate media skipped", "first_seen_at", firstSeen)
	return res
}

// recognize returns the document text, or an explanatory note when the media
// type is not one the recognizer accepts.
func (p *Pipeline) recognize(ctx context.Context, path string) (string, string, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if !p.classifier.Rules().Supports(ext) {
		if ext == "" {
			ext = "none"
		}
		return "", noteUnsupportedMedia + ext, nil
	}
	text, err := p.recognizer.Recognize(ctx, path)
	if err != nil {
		if !errors.Is(err, core.ErrOCR) {
			err = fmt.Errorf("%w: %w", core.ErrOCR, err)
		}
		return "", "", err
	}
	return text, "", nil
}

// enqueue never fails the item; the record is already persisted.
func (p *Pipeline) enqueue(ctx context.Context, logger *slog.Logger, res Result) {
	if p.sink == nil {
		return
	}
	n := notify.New(p.recipient, res.NotifyText, p.now())
	n.Category = res.Kind
	n.MediaRef = res.MediaRef
	if err := p.sink.Enqueue(ctx, n); err != nil {
		p.metrics.ObserveFailure(metrics.ReasonNotify)
		logger.WarnContext(ctx, "Failed to enqueue notification", applog.FieldError, err)
	}
}

func readMedia(path string) ([]byte, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("%w: empty media path", core.ErrInput)
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrInput, err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%w: %s is not a regular file", core.ErrInput, path)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrInput, err)
	}
	return content, nil
}

func unclassifiedNotes(notes string, hint core.Category) string {
	if notes == "" {
		notes = NoteUnclassified
	}
	if hint != "" {
		notes += ";" + noteHint + hint.String()
	}
	return notes
}
