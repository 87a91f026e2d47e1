// Package ledger appends classification records to per-category logs and
// keeps additive day totals.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"comprobantes/internal/core"
	"comprobantes/internal/storage"
)

type Ledger struct {
	log    storage.RecordLog
	totals storage.TotalsStore
	loc    *time.Location
	logger *slog.Logger
}

// New builds a ledger whose day keys are computed in loc.
func New(log storage.RecordLog, totals storage.TotalsStore, loc *time.Location, logger *slog.Logger) *Ledger {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{log: log, totals: totals, loc: loc, logger: logger}
}

// DayKey returns the calendar date of t in the ledger's timezone.
func (l *Ledger) DayKey(t time.Time) core.DayKey {
	return core.DayKeyIn(t, l.loc)
}

func (l *Ledger) Location() *time.Location {
	return l.loc
}

// RecordEvent appends rec to its category log and then adds its amount to
// the day totals. The log is written first: a failure between the two steps
// leaves totals undercounting, never overcounting.
func (l *Ledger) RecordEvent(ctx context.Context, rec core.ClassificationRecord) (core.DayKey, core.DayTotals, error) {
	if !rec.Category.Tracked() {
		return "", core.DayTotals{}, fmt.Errorf("record event %s: %w", rec.Category, core.ErrInvalidCategory)
	}
	if err := rec.Validate(); err != nil {
		return "", core.DayTotals{}, fmt.Errorf("record event: %w", err)
	}

	if err := l.log.AppendRecord(ctx, storage.LogKindFor(rec.Category), rec); err != nil {
		return "", core.DayTotals{}, fmt.Errorf("append %s record: %w", rec.Category, err)
	}

	day := l.DayKey(rec.ReceivedAt)
	doc, err := l.loadTotals(ctx)
	if err != nil {
		return day, core.DayTotals{}, err
	}

	updated, err := doc.Days[day].Add(rec.Category, rec.Amount)
	if err != nil {
		return day, core.DayTotals{}, err
	}
	doc.Days[day] = updated

	if err := l.totals.SaveTotals(ctx, doc); err != nil {
		return day, core.DayTotals{}, fmt.Errorf("save day totals: %w", err)
	}

	l.logger.InfoContext(ctx, "Ledger event recorded",
		"component", "ledger",
		"day", string(day),
		"category", rec.Category.String(),
		"amount_cop", rec.Amount.Pesos,
		"media_ref", string(rec.MediaRef))
	return day, updated, nil
}

// RecordUnclassified appends rec to the unclassified log for review. Day
// totals are not touched.
func (l *Ledger) RecordUnclassified(ctx context.Context, rec core.ClassificationRecord) error {
	rec.Category = core.Unknown
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("record unclassified: %w", err)
	}
	if err := l.log.AppendRecord(ctx, storage.LogUnclassified, rec); err != nil {
		return fmt.Errorf("append unclassified record: %w", err)
	}

	l.logger.InfoContext(ctx, "Unclassified record logged",
		"component", "ledger",
		"media_ref", string(rec.MediaRef),
		"notes", rec.Notes)
	return nil
}

// DayTotals returns the totals for day, zero when nothing was recorded.
func (l *Ledger) DayTotals(ctx context.Context, day core.DayKey) (core.DayTotals, error) {
	doc, err := l.loadTotals(ctx)
	if err != nil {
		return core.DayTotals{}, err
	}
	return doc.Days[day], nil
}

func (l *Ledger) loadTotals(ctx context.Context) (storage.TotalsDocument, error) {
	doc, err := l.totals.LoadTotals(ctx)
	if err != nil {
		if !errors.Is(err, core.ErrCorruptState) {
			return storage.TotalsDocument{}, fmt.Errorf("load day totals: %w", err)
		}
		// Accumulated totals are lost; the record logs still hold every event.
		l.logger.WarnContext(ctx, "Day totals corrupt, starting empty",
			"component", "ledger", "error", err)
	}
	if doc.Days == nil {
		doc = storage.NewTotalsDocument(l.loc.String())
	}
	return doc, nil
}
