// Package file stores ledger state as JSON documents and CSV logs in a
// directory, the layout operators inspect and back up by hand.
package file

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"comprobantes/internal/core"
	"comprobantes/internal/storage"
)

const (
	seenFile   = "seen.json"
	totalsFile = "daily-totals.json"
)

// Store is the file backend. Each document is rewritten whole on save and
// each log is opened in append mode per record.
type Store struct {
	dir      string
	timezone string
	logger   *slog.Logger
}

var _ storage.Store = (*Store)(nil)

func New(dir, timezone string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	return &Store{dir: dir, timezone: timezone, logger: logger}, nil
}

// Dir returns the data directory.
func (s *Store) Dir() string { return s.dir }

// LogPath returns the CSV file backing kind.
func (s *Store) LogPath(kind storage.LogKind) string {
	return filepath.Join(s.dir, string(kind)+".csv")
}

func (s *Store) LoadSeen(ctx context.Context) (storage.SeenDocument, error) {
	doc := storage.NewSeenDocument()
	found, err := s.readJSON(seenFile, &doc)
	if err != nil {
		return storage.NewSeenDocument(), err
	}
	if !found || doc.Seen == nil {
		doc.Seen = make(map[core.MediaRef]time.Time)
	}
	return doc, nil
}

func (s *Store) SaveSeen(ctx context.Context, doc storage.SeenDocument) error {
	return s.writeJSON(seenFile, doc)
}

func (s *Store) LoadTotals(ctx context.Context) (storage.TotalsDocument, error) {
	doc := storage.NewTotalsDocument(s.timezone)
	if _, err := s.readJSON(totalsFile, &doc); err != nil {
		return storage.NewTotalsDocument(s.timezone), err
	}
	if doc.Timezone == "" {
		doc.Timezone = s.timezone
	}
	if doc.Days == nil {
		doc.Days = make(map[core.DayKey]core.DayTotals)
	}
	return doc, nil
}

func (s *Store) SaveTotals(ctx context.Context, doc storage.TotalsDocument) error {
	return s.writeJSON(totalsFile, doc)
}

// AppendRecord writes one CSV row, creating the file with its header first.
func (s *Store) AppendRecord(ctx context.Context, kind storage.LogKind, rec core.ClassificationRecord) error {
	path := s.LogPath(kind)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open %s log: %w", kind, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat %s log: %w", kind, err)
	}

	w := csv.NewWriter(f)
	if info.Size() == 0 {
		if err := w.Write(storage.RecordHeader); err != nil {
			return fmt.Errorf("write %s log header: %w", kind, err)
		}
	}
	if err := w.Write(storage.RecordRow(rec)); err != nil {
		return fmt.Errorf("write %s log row: %w", kind, err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flush %s log: %w", kind, err)
	}
	return f.Close()
}

// ReadRecords parses a log back into records, skipping the header.
func (s *Store) ReadRecords(kind storage.LogKind) ([]core.ClassificationRecord, error) {
	f, err := os.Open(s.LogPath(kind))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open %s log: %w", kind, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = len(storage.RecordHeader)

	var out []core.ClassificationRecord
	for line := 0; ; line++ {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read %s log: %w", kind, err)
		}
		if line == 0 && row[0] == storage.RecordHeader[0] {
			continue
		}
		rec, err := parseRow(row)
		if err != nil {
			return nil, fmt.Errorf("%s log line %d: %w", kind, line+1, err)
		}
		out = append(out, rec)
	}
	return out, nil
}

func parseRow(row []string) (core.ClassificationRecord, error) {
	at, err := storage.ParseTimestamp(row[0])
	if err != nil {
		return core.ClassificationRecord{}, fmt.Errorf("timestamp %q: %w", row[0], core.ErrCorruptState)
	}
	rec := core.ClassificationRecord{
		ReceivedAt: at,
		Source:     row[1],
		Sender:     row[2],
		Category:   core.Category(row[3]),
		Currency:   row[5],
		Notes:      row[6],
		MediaRef:   core.MediaRef(row[7]),
	}
	if row[4] != "" {
		pesos, err := strconv.ParseInt(row[4], 10, 64)
		if err != nil {
			return core.ClassificationRecord{}, fmt.Errorf("amount %q: %w", row[4], core.ErrCorruptState)
		}
		rec.Amount = core.Money{Pesos: pesos}
	}
	return rec, nil
}

// readJSON decodes name into v. A missing file is not an error; a file that
// does not decode yields core.ErrCorruptState.
func (s *Store) readJSON(name string, v any) (bool, error) {
	b, err := os.ReadFile(filepath.Join(s.dir, name))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read %s: %w", name, err)
	}
	if err := json.Unmarshal(b, v); err != nil {
		return false, fmt.Errorf("decode %s: %v: %w", name, err, core.ErrCorruptState)
	}
	return true, nil
}

func (s *Store) writeJSON(name string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}
	if err := os.WriteFile(filepath.Join(s.dir, name), append(b, '\n'), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}
