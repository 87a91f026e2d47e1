// Package storage defines the persistence ports of the ledger and dedup gate
// and their SQLite implementation.
//
// Documents (seen registry, day totals) follow a whole-document
// read-modify-write contract: callers load, mutate a copy and save it back.
// Nothing serialises concurrent writers across processes; two processes
// racing on the same document can lose updates.
package storage

import (
	"context"
	"log/slog"
	"maps"
	"time"

	"comprobantes/internal/core"
)

// SeenDocument maps each observed MediaRef to its first-seen time.
type SeenDocument struct {
	Seen map[core.MediaRef]time.Time `json:"seen"`
}

// TotalsDocument holds the day-bucketed totals and the timezone day keys are
// computed in.
type TotalsDocument struct {
	Timezone string                         `json:"timezone"`
	Days     map[core.DayKey]core.DayTotals `json:"days"`
}

func NewSeenDocument() SeenDocument {
	return SeenDocument{Seen: make(map[core.MediaRef]time.Time)}
}

func NewTotalsDocument(timezone string) TotalsDocument {
	return TotalsDocument{Timezone: timezone, Days: make(map[core.DayKey]core.DayTotals)}
}

// Clone returns a copy that shares no map with d.
func (d SeenDocument) Clone() SeenDocument {
	out := NewSeenDocument()
	maps.Copy(out.Seen, d.Seen)
	return out
}

func (d TotalsDocument) Clone() TotalsDocument {
	out := NewTotalsDocument(d.Timezone)
	maps.Copy(out.Days, d.Days)
	return out
}

// SeenStore persists the dedup registry.
//
// LoadSeen returns an empty document and an error wrapping
// core.ErrCorruptState when the stored registry cannot be decoded.
type SeenStore interface {
	LoadSeen(ctx context.Context) (SeenDocument, error)
	SaveSeen(ctx context.Context, doc SeenDocument) error
}

// TotalsStore persists the day totals. Corruption is reported like SeenStore.
type TotalsStore interface {
	LoadTotals(ctx context.Context) (TotalsDocument, error)
	SaveTotals(ctx context.Context, doc TotalsDocument) error
}

// LogKind names one of the append-only record logs.
type LogKind string

const (
	LogFacturas      LogKind = "facturas"
	LogTransacciones LogKind = "transacciones"
	LogUnclassified  LogKind = "no_clasificadas"
)

// LogKinds lists every log in a stable order.
func LogKinds() []LogKind {
	return []LogKind{LogFacturas, LogTransacciones, LogUnclassified}
}

// LogKindFor returns the log a record of category c belongs to.
func LogKindFor(c core.Category) LogKind {
	switch c {
	case core.Factura:
		return LogFacturas
	case core.Transaccion:
		return LogTransacciones
	default:
		return LogUnclassified
	}
}

// RecordLog appends classification records. Records are never rewritten.
type RecordLog interface {
	AppendRecord(ctx context.Context, kind LogKind, rec core.ClassificationRecord) error
}

// Store bundles the ports a backend provides.
type Store interface {
	SeenStore
	TotalsStore
	RecordLog
}

// TeeLog writes to Primary and then, best effort, to Mirror. A Mirror
// failure is logged and never returned.
type TeeLog struct {
	Primary RecordLog
	Mirror  RecordLog
	Logger  *slog.Logger
}

func (t TeeLog) AppendRecord(ctx context.Context, kind LogKind, rec core.ClassificationRecord) error {
	if err := t.Primary.AppendRecord(ctx, kind, rec); err != nil {
		return err
	}
	if t.Mirror == nil {
		return nil
	}
	if err := t.Mirror.AppendRecord(ctx, kind, rec); err != nil {
		logger := t.Logger
		if logger == nil {
			logger = slog.Default()
		}
		logger.WarnContext(ctx, "Record mirror append failed",
			"component", "storage",
			"log", string(kind),
			"media_ref", string(rec.MediaRef),
			"error", err)
	}
	return nil
}
