package backend

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	gsheet "comprobantes/internal/sheets/google"
	"comprobantes/internal/storage"
	"comprobantes/internal/storage/file"
	"comprobantes/internal/storage/memory"
)

// MirrorFunc builds the record mirror for a spreadsheet.
type MirrorFunc func(ctx context.Context, spreadsheetID, credentialsFile string, loc *time.Location, logger *slog.Logger) (storage.RecordLog, error)

// DefaultFactory implements the Factory interface
type DefaultFactory struct {
	logger    *slog.Logger
	newMirror MirrorFunc
}

// NewFactory creates a new backend factory
func NewFactory(logger *slog.Logger) *DefaultFactory {
	if logger == nil {
		logger = slog.Default()
	}
	return &DefaultFactory{
		logger:    logger,
		newMirror: sheetsMirror,
	}
}

func sheetsMirror(ctx context.Context, id, creds string, loc *time.Location, logger *slog.Logger) (storage.RecordLog, error) {
	return gsheet.NewRecordMirror(ctx, id, creds, loc, logger)
}

// CreateBackend implements Factory.CreateBackend
func (f *DefaultFactory) CreateBackend(ctx context.Context, config Config) (*BackendResult, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	loc, err := time.LoadLocation(config.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone: %w", err)
	}

	var res *BackendResult
	switch config.Type {
	case FileBackend:
		res, err = f.createFileBackend(config)
	case SQLiteBackend:
		res, err = f.createSQLiteBackend(config)
	case MemoryBackend:
		res = f.createMemoryBackend(config)
	default:
		return nil, fmt.Errorf("unsupported backend type: %s", config.Type)
	}
	if err != nil {
		return nil, err
	}

	if config.GoogleSpreadsheetID != "" {
		f.attachMirror(ctx, res, config, loc)
	}
	return res, nil
}

func (f *DefaultFactory) createFileBackend(config Config) (*BackendResult, error) {
	store, err := file.New(config.DataDir, config.Timezone, f.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize file store: %w", err)
	}
	f.logger.Info("Initialized file backend", "data_directory", config.DataDir)
	return &BackendResult{Store: store}, nil
}

func (f *DefaultFactory) createSQLiteBackend(config Config) (*BackendResult, error) {
	repo, err := storage.NewSQLiteRepository(config.SQLiteDBPath, config.Timezone, f.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize SQLite repository: %w", err)
	}
	f.logger.Info("Initialized SQLite backend", "db_path", config.SQLiteDBPath)
	return &BackendResult{Store: repo, Cleanup: repo.Close}, nil
}

func (f *DefaultFactory) createMemoryBackend(config Config) *BackendResult {
	f.logger.Info("Initialized memory backend")
	return &BackendResult{Store: memory.New(config.Timezone)}
}

// attachMirror is best effort: a mirror that cannot be built leaves the
// primary store untouched.
func (f *DefaultFactory) attachMirror(ctx context.Context, res *BackendResult, config Config, loc *time.Location) {
	mirror, err := f.newMirror(ctx, config.GoogleSpreadsheetID, config.GoogleServiceAccountFile, loc, f.logger)
	if err != nil {
		f.logger.Warn("Failed to initialize Google Sheets mirror, continuing without it", "error", err)
		return
	}
	res.Store = mirroredStore{
		SeenStore:   res.Store,
		TotalsStore: res.Store,
		TeeLog:      storage.TeeLog{Primary: res.Store, Mirror: mirror, Logger: f.logger},
	}
	res.Mirrored = true
	f.logger.Info("Initialized Google Sheets mirror", "spreadsheet_id", config.GoogleSpreadsheetID)
}

type mirroredStore struct {
	storage.SeenStore
	storage.TotalsStore
	storage.TeeLog
}
