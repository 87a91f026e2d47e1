package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"comprobantes/internal/core"

	_ "modernc.org/sqlite"
)

// SQLiteRepository stores the seen registry, day totals and record logs in
// one SQLite database.
type SQLiteRepository struct {
	db       *sql.DB
	timezone string
	logger   *slog.Logger
}

func NewSQLiteRepository(dbPath, timezone string, logger *slog.Logger) (*SQLiteRepository, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// One writer; modernc serialises anyway and this avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	logger.Info("SQLite repository ready", "component", "storage", "db_path", dbPath)
	return &SQLiteRepository{db: db, timezone: timezone, logger: logger}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

func (r *SQLiteRepository) LoadSeen(ctx context.Context) (SeenDocument, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT media_ref, first_seen_at FROM seen_media`)
	if err != nil {
		return SeenDocument{}, fmt.Errorf("query seen media: %w", err)
	}
	defer rows.Close()

	doc := NewSeenDocument()
	for rows.Next() {
		var ref, ts string
		if err := rows.Scan(&ref, &ts); err != nil {
			return SeenDocument{}, fmt.Errorf("scan seen media: %w", err)
		}
		at, err := ParseTimestamp(ts)
		if err != nil {
			return NewSeenDocument(), fmt.Errorf("seen media %s has timestamp %q: %w", ref, ts, core.ErrCorruptState)
		}
		doc.Seen[core.MediaRef(ref)] = at
	}
	if err := rows.Err(); err != nil {
		return SeenDocument{}, fmt.Errorf("iterate seen media: %w", err)
	}
	return doc, nil
}

// SaveSeen inserts entries missing from the table. Existing entries are
// immutable and left untouched.
func (r *SQLiteRepository) SaveSeen(ctx context.Context, doc SeenDocument) error {
	return r.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO seen_media (media_ref, first_seen_at) VALUES (?, ?) ON CONFLICT(media_ref) DO NOTHING`)
		if err != nil {
			return fmt.Errorf("prepare seen insert: %w", err)
		}
		defer stmt.Close()

		for ref, at := range doc.Seen {
			if _, err := stmt.ExecContext(ctx, string(ref), FormatTimestamp(at)); err != nil {
				return fmt.Errorf("insert seen media %s: %w", ref, err)
			}
		}
		return nil
	})
}

func (r *SQLiteRepository) LoadTotals(ctx context.Context) (TotalsDocument, error) {
	doc := NewTotalsDocument(r.timezone)

	var tz string
	err := r.db.QueryRowContext(ctx, `SELECT value FROM ledger_meta WHERE key = 'timezone'`).Scan(&tz)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return TotalsDocument{}, fmt.Errorf("query ledger timezone: %w", err)
	default:
		doc.Timezone = tz
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT day_key, facturas_total, transacciones_total, unknown_total,
		       facturas_count, transacciones_count, unknown_count
		FROM day_totals`)
	if err != nil {
		return TotalsDocument{}, fmt.Errorf("query day totals: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var day string
		var t core.DayTotals
		if err := rows.Scan(&day, &t.FacturasTotal, &t.TransaccionesTotal, &t.UnknownTotal,
			&t.Counts.Facturas, &t.Counts.Transacciones, &t.Counts.Unknown); err != nil {
			return TotalsDocument{}, fmt.Errorf("scan day totals: %w", err)
		}
		if _, err := time.Parse(time.DateOnly, day); err != nil {
			return NewTotalsDocument(r.timezone), fmt.Errorf("day totals key %q: %w", day, core.ErrCorruptState)
		}
		doc.Days[core.DayKey(day)] = t
	}
	if err := rows.Err(); err != nil {
		return TotalsDocument{}, fmt.Errorf("iterate day totals: %w", err)
	}
	return doc, nil
}

func (r *SQLiteRepository) SaveTotals(ctx context.Context, doc TotalsDocument) error {
	return r.withTx(ctx, func(tx *sql.Tx) error {
		if doc.Timezone != "" {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO ledger_meta (key, value) VALUES ('timezone', ?)
				 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, doc.Timezone); err != nil {
				return fmt.Errorf("save ledger timezone: %w", err)
			}
		}

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO day_totals (day_key, facturas_total, transacciones_total, unknown_total,
			                        facturas_count, transacciones_count, unknown_count)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(day_key) DO UPDATE SET
				facturas_total = excluded.facturas_total,
				transacciones_total = excluded.transacciones_total,
				unknown_total = excluded.unknown_total,
				facturas_count = excluded.facturas_count,
				transacciones_count = excluded.transacciones_count,
				unknown_count = excluded.unknown_count`)
		if err != nil {
			return fmt.Errorf("prepare day totals upsert: %w", err)
		}
		defer stmt.Close()

		for day, t := range doc.Days {
			if _, err := stmt.ExecContext(ctx, string(day), t.FacturasTotal, t.TransaccionesTotal, t.UnknownTotal,
				t.Counts.Facturas, t.Counts.Transacciones, t.Counts.Unknown); err != nil {
				return fmt.Errorf("upsert day totals %s: %w", day, err)
			}
		}
		return nil
	})
}

func (r *SQLiteRepository) AppendRecord(ctx context.Context, kind LogKind, rec core.ClassificationRecord) error {
	var amount sql.NullInt64
	if rec.Amount.Known() {
		amount = sql.NullInt64{Int64: rec.Amount.Pesos, Valid: true}
	}
	currency := rec.Currency
	if currency == "" {
		currency = core.Currency
	}

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO classification_records
			(log_kind, received_at, source, sender, category, amount_cop, currency, notes, media_ref)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(kind), FormatTimestamp(rec.ReceivedAt), rec.Source, rec.Sender,
		rec.Category.String(), amount, currency, rec.Notes, string(rec.MediaRef))
	if err != nil {
		return fmt.Errorf("insert classification record: %w", err)
	}

	id, _ := res.LastInsertId()
	r.logger.DebugContext(ctx, "Classification record stored",
		"component", "storage",
		"id", id,
		"log", string(kind),
		"media_ref", string(rec.MediaRef))
	return nil
}

// ListRecords returns the records of one log in append order.
func (r *SQLiteRepository) ListRecords(ctx context.Context, kind LogKind) ([]core.ClassificationRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT received_at, source, sender, category, amount_cop, currency, notes, media_ref
		FROM classification_records WHERE log_kind = ? ORDER BY id`, string(kind))
	if err != nil {
		return nil, fmt.Errorf("query classification records: %w", err)
	}
	defer rows.Close()

	var out []core.ClassificationRecord
	for rows.Next() {
		var (
			rec     core.ClassificationRecord
			ts, cat string
			ref     string
			amount  sql.NullInt64
		)
		if err := rows.Scan(&ts, &rec.Source, &rec.Sender, &cat, &amount, &rec.Currency, &rec.Notes, &ref); err != nil {
			return nil, fmt.Errorf("scan classification record: %w", err)
		}
		if rec.ReceivedAt, err = ParseTimestamp(ts); err != nil {
			return nil, fmt.Errorf("record timestamp %q: %w", ts, core.ErrCorruptState)
		}
		rec.Category = core.Category(cat)
		rec.MediaRef = core.MediaRef(ref)
		if amount.Valid {
			rec.Amount = core.Money{Pesos: amount.Int64}
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
