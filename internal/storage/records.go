package storage

import (
	"time"

	"comprobantes/internal/core"
)

// RecordHeader is the column layout shared by every record log.
var RecordHeader = []string{"date_iso", "source", "sender", "category", "value_cop", "currency", "notes", "media_ref"}

// isoMillis matches the timestamps written by earlier deployments.
const isoMillis = "2006-01-02T15:04:05.000Z07:00"

// RecordRow flattens rec into RecordHeader order. An unknown amount is "".
func RecordRow(rec core.ClassificationRecord) []string {
	currency := rec.Currency
	if currency == "" {
		currency = core.Currency
	}
	return []string{
		FormatTimestamp(rec.ReceivedAt),
		rec.Source,
		rec.Sender,
		rec.Category.String(),
		rec.Amount.String(),
		currency,
		rec.Notes,
		string(rec.MediaRef),
	}
}

// FormatTimestamp renders t in UTC with millisecond precision.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(isoMillis)
}

// ParseTimestamp accepts FormatTimestamp output and any RFC 3339 time.
func ParseTimestamp(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}
