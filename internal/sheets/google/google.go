// Package google mirrors classification records into a Google Sheets
// spreadsheet, one tab per log and year ("2025 Facturas").
package google

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	"comprobantes/internal/core"
	"comprobantes/internal/storage"
)

var defaultSheetNames = map[storage.LogKind]string{
	storage.LogFacturas:      "Facturas",
	storage.LogTransacciones: "Transacciones",
	storage.LogUnclassified:  "No clasificadas",
}

// RecordMirror appends records as rows in storage.RecordHeader column order.
// It is meant to sit behind storage.TeeLog: the local log stays
// authoritative.
type RecordMirror struct {
	svc           *gsheet.Service
	spreadsheetID string
	loc           *time.Location
	logger        *slog.Logger
}

var _ storage.RecordLog = (*RecordMirror)(nil)

// NewRecordMirror authenticates with a service account file, or with
// GOOGLE_SERVICE_ACCOUNT_JSON / Application Default Credentials when
// credentialsFile is empty.
func NewRecordMirror(ctx context.Context, spreadsheetID, credentialsFile string, loc *time.Location, logger *slog.Logger) (*RecordMirror, error) {
	spreadsheetID = strings.TrimSpace(spreadsheetID)
	if spreadsheetID == "" {
		return nil, errors.New("missing spreadsheet ID")
	}
	svc, err := newSheetsService(ctx, credentialsFile, logger)
	if err != nil {
		return nil, fmt.Errorf("sheets service: %w", err)
	}
	return newRecordMirror(svc, spreadsheetID, loc, logger), nil
}

func newRecordMirror(svc *gsheet.Service, spreadsheetID string, loc *time.Location, logger *slog.Logger) *RecordMirror {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RecordMirror{svc: svc, spreadsheetID: spreadsheetID, loc: loc, logger: logger}
}

func newSheetsService(ctx context.Context, credentialsFile string, logger *slog.Logger) (*gsheet.Service, error) {
	if logger == nil {
		logger = slog.Default()
	}
	opts := []goption.ClientOption{goption.WithScopes(gsheet.SpreadsheetsScope)}

	inline := strings.TrimSpace(os.Getenv("GOOGLE_SERVICE_ACCOUNT_JSON"))
	switch {
	case strings.TrimSpace(credentialsFile) != "":
		b, err := os.ReadFile(credentialsFile)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
		logger.InfoContext(ctx, "Using service account file", "component", "sheets", "path", credentialsFile)
		opts = append(opts, goption.WithCredentialsJSON(b))
	case inline != "":
		logger.InfoContext(ctx, "Using inline service account JSON", "component", "sheets")
		opts = append(opts, goption.WithCredentialsJSON([]byte(inline)))
	default:
		logger.InfoContext(ctx, "Using Application Default Credentials", "component", "sheets")
	}

	svc, err := gsheet.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return svc, nil
}

// SheetName returns the tab a record received at t is mirrored to.
func (m *RecordMirror) SheetName(kind storage.LogKind, t time.Time) string {
	base, ok := defaultSheetNames[kind]
	if !ok {
		base = string(kind)
	}
	return yearPrefixedName(base, t.In(m.loc).Year())
}

func (m *RecordMirror) AppendRecord(ctx context.Context, kind storage.LogKind, rec core.ClassificationRecord) error {
	if m.svc == nil {
		return errors.New("sheets service not initialized")
	}

	cells := storage.RecordRow(rec)
	row := make([]any, len(cells))
	for i, c := range cells {
		row[i] = c
	}

	sheet := m.SheetName(kind, rec.ReceivedAt)
	rng := fmt.Sprintf("%s!A:H", sheet)
	// RAW keeps "45000" and timestamps from being reformatted by the sheet locale.
	resp, err := m.svc.Spreadsheets.Values.Append(m.spreadsheetID, rng, &gsheet.ValueRange{Values: [][]any{row}}).
		ValueInputOption("RAW").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("append to %s: %w", sheet, err)
	}

	updated := ""
	if resp.Updates != nil {
		updated = resp.Updates.UpdatedRange
	}
	m.logger.DebugContext(ctx, "Record mirrored to sheet",
		"component", "sheets",
		"sheet", sheet,
		"range", updated,
		"media_ref", string(rec.MediaRef))
	return nil
}

// yearPrefixedName returns "<year> <base>" unless base already starts with a 4-digit year.
func yearPrefixedName(base string, year int) string {
	base = strings.TrimSpace(base)
	if base == "" {
		return base
	}
	if len(base) >= 5 {
		if y, err := strconv.Atoi(base[0:4]); err == nil && base[4] == ' ' && y > 1900 && y < 3000 {
			return base
		}
	}
	return fmt.Sprintf("%d %s", year, base)
}
