package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"comprobantes/internal/core"
)

type Config struct {
	// Storage
	DataBackend  string
	DataDir      string
	SQLiteDBPath string

	// Ledger
	Timezone string
	Currency string

	// Classifier
	RulesFile string

	// OCR
	OCREngine     string
	TesseractPath string
	OCRLanguages  string
	GeminiAPIKey  string
	GeminiModel   string

	// Notifications
	OutboxDir       string
	NotifyRecipient string
	AMQPURL         string
	AMQPExchange    string
	AMQPQueue       string

	// Inbox worker
	InboxDir       string
	ArchiveBackend string
	GCSBucket      string
	GCSPrefix      string
	PollInterval   time.Duration
	MetricsAddr    string

	// Google Sheets mirror
	GoogleSpreadsheetID      string
	GoogleServiceAccountFile string

	LogLevel string
}

var (
	validBackends        = []string{"file", "sqlite", "memory"}
	validOCREngines      = []string{"tesseract", "gemini", "none"}
	validArchiveBackends = []string{"local", "gcs"}
	validLogLevels       = []string{"debug", "info", "warn", "error"}
)

func Load() *Config {
	return &Config{
		DataBackend:  getEnv("DATA_BACKEND", "file"),
		DataDir:      getEnv("DATA_DIR", "./data"),
		SQLiteDBPath: getEnv("SQLITE_DB_PATH", "./data/comprobantes.db"),

		Timezone: getEnv("TIMEZONE", core.DefaultTimezone),
		Currency: getEnv("CURRENCY", core.Currency),

		RulesFile: getEnv("RULES_FILE", ""),

		OCREngine:     getEnv("OCR_ENGINE", "tesseract"),
		TesseractPath: getEnv("TESSERACT_PATH", "tesseract"),
		OCRLanguages:  getEnv("OCR_LANGUAGES", "spa+eng"),
		GeminiAPIKey:  getEnv("GEMINI_API_KEY", ""),
		GeminiModel:   getEnv("GEMINI_MODEL", "gemini-2.5-flash"),

		OutboxDir:       getEnv("OUTBOX_DIR", "./outbox"),
		NotifyRecipient: getEnv("NOTIFY_RECIPIENT", ""),
		AMQPURL:         getEnv("AMQP_URL", ""),
		AMQPExchange:    getEnv("AMQP_EXCHANGE", "comprobantes"),
		AMQPQueue:       getEnv("AMQP_QUEUE", "notifications"),

		InboxDir:       getEnv("INBOX_DIR", "./inbox"),
		ArchiveBackend: getEnv("ARCHIVE_BACKEND", "local"),
		GCSBucket:      getEnv("GCS_BUCKET", ""),
		GCSPrefix:      getEnv("GCS_PREFIX", "media/"),
		PollInterval:   getEnvDuration("POLL_INTERVAL", 30*time.Second),
		MetricsAddr:    getEnv("METRICS_ADDR", ""),

		GoogleSpreadsheetID:      getEnv("GOOGLE_SPREADSHEET_ID", ""),
		GoogleServiceAccountFile: getEnv("GOOGLE_SERVICE_ACCOUNT_FILE", ""),

		LogLevel: getEnv("LOG_LEVEL", "info"),
	}
}

// Location loads the operational timezone. Validate has already checked it.
func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Timezone)
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errors []string

	if !slices.Contains(validBackends, c.DataBackend) {
		errors = append(errors, fmt.Sprintf("invalid data backend '%s': must be one of %v", c.DataBackend, validBackends))
	}

	switch c.DataBackend {
	case "file":
		if c.DataDir == "" {
			errors = append(errors, "data directory cannot be empty when using file backend")
		}
	case "sqlite":
		if c.SQLiteDBPath == "" {
			errors = append(errors, "SQLite database path cannot be empty when using sqlite backend")
		} else if err := ensureDir(filepath.Dir(c.SQLiteDBPath)); err != nil {
			errors = append(errors, fmt.Sprintf("cannot create SQLite database directory '%s': %v", filepath.Dir(c.SQLiteDBPath), err))
		}
	}

	if _, err := time.LoadLocation(c.Timezone); err != nil || c.Timezone == "" {
		errors = append(errors, fmt.Sprintf("invalid timezone '%s'", c.Timezone))
	}

	if len(c.Currency) != 3 || strings.ToUpper(c.Currency) != c.Currency {
		errors = append(errors, fmt.Sprintf("invalid currency '%s': must be a 3-letter upper-case code", c.Currency))
	}

	if c.RulesFile != "" {
		if _, err := os.Stat(c.RulesFile); err != nil {
			errors = append(errors, fmt.Sprintf("rules file does not exist: %s", c.RulesFile))
		}
	}

	if !slices.Contains(validOCREngines, c.OCREngine) {
		errors = append(errors, fmt.Sprintf("invalid OCR engine '%s': must be one of %v", c.OCREngine, validOCREngines))
	}
	if c.OCREngine == "gemini" && c.GeminiAPIKey == "" {
		errors = append(errors, "GEMINI_API_KEY is required when using gemini OCR engine")
	}
	if c.OCREngine == "tesseract" && c.TesseractPath == "" {
		errors = append(errors, "tesseract path cannot be empty when using tesseract OCR engine")
	}

	if c.OutboxDir == "" {
		errors = append(errors, "outbox directory cannot be empty")
	}

	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPQueue == "" {
			errors = append(errors, "AMQP queue name cannot be empty when AMQP URL is provided")
		}
	}

	if !slices.Contains(validArchiveBackends, c.ArchiveBackend) {
		errors = append(errors, fmt.Sprintf("invalid archive backend '%s': must be one of %v", c.ArchiveBackend, validArchiveBackends))
	}
	if c.ArchiveBackend == "gcs" && c.GCSBucket == "" {
		errors = append(errors, "GCS bucket is required when using gcs archive backend")
	}

	if c.PollInterval < time.Second {
		errors = append(errors, fmt.Sprintf("invalid poll interval %v: must be at least 1 second", c.PollInterval))
	} else if c.PollInterval > 24*time.Hour {
		errors = append(errors, fmt.Sprintf("invalid poll interval %v: must be at most 24 hours", c.PollInterval))
	}

	if c.MetricsAddr != "" {
		if _, port, err := net.SplitHostPort(c.MetricsAddr); err != nil {
			errors = append(errors, fmt.Sprintf("invalid metrics address '%s': %v", c.MetricsAddr, err))
		} else if n, err := strconv.Atoi(port); err != nil || n < 0 || n > 65535 {
			errors = append(errors, fmt.Sprintf("invalid metrics port '%s': must be between 0 and 65535", port))
		}
	}

	if c.GoogleServiceAccountFile != "" {
		if c.GoogleSpreadsheetID == "" {
			errors = append(errors, "Google Spreadsheet ID is required when a service account file is provided")
		}
		if _, err := os.Stat(c.GoogleServiceAccountFile); os.IsNotExist(err) {
			errors = append(errors, fmt.Sprintf("Google service account file does not exist: %s", c.GoogleServiceAccountFile))
		}
	}

	if !slices.Contains(validLogLevels, strings.ToLower(c.LogLevel)) {
		errors = append(errors, fmt.Sprintf("invalid log level '%s': must be one of %v", c.LogLevel, validLogLevels))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}
	return nil
}

func ensureDir(dir string) error {
	if dir == "." || dir == "" {
		return nil
	}
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return os.MkdirAll(dir, 0755)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
