package core

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	Factura     Category = "FACTURA"
	Transaccion Category = "TRANSACCION"
	Unknown     Category = "UNKNOWN"
	Duplicate   Category = "DUPLICATE"
)

// Currency is the fixed currency every amount is expressed in.
const Currency = "COP"

type (
	// Category is the outcome of classifying a document. Duplicate is a
	// pipeline outcome only and is never persisted.
	Category string

	// Money is a positive amount of whole pesos. The zero value means the
	// amount could not be identified.
	Money struct {
		Pesos int64
	}

	// MediaRef identifies inbound media by content fingerprint and file name.
	MediaRef string

	// DayKey is a YYYY-MM-DD calendar date in the operational timezone.
	DayKey string

	ClassificationRecord struct {
		ReceivedAt time.Time
		Source     string
		Sender     string
		Category   Category
		Amount     Money
		Currency   string
		Notes      string
		MediaRef   MediaRef
	}

	DayCounts struct {
		Facturas      int64 `json:"facturas"`
		Transacciones int64 `json:"transacciones"`
		Unknown       int64 `json:"unknown"`
	}

	// DayTotals accumulates amounts and event counts for one DayKey.
	DayTotals struct {
		FacturasTotal      int64     `json:"facturasTotal"`
		TransaccionesTotal int64     `json:"transaccionesTotal"`
		UnknownTotal       int64     `json:"unknownTotal"`
		Counts             DayCounts `json:"counts"`
	}
)

var (
	ErrInput            = errors.New("media input error")
	ErrUnsupportedMedia = errors.New("unsupported media type")
	ErrAmountNotFound   = errors.New("amount not found")
	ErrCorruptState     = errors.New("persisted state is corrupt")
	ErrOCR              = errors.New("text recognition failed")
	ErrInvalidCategory  = errors.New("invalid category")
)

// Tracked reports whether the category accumulates into DayTotals.
func (c Category) Tracked() bool {
	return c == Factura || c == Transaccion
}

func (c Category) String() string {
	return string(c)
}

// Known reports whether an amount was identified.
func (m Money) Known() bool {
	return m.Pesos > 0
}

// String renders the amount as plain digits, or "" when unknown.
func (m Money) String() string {
	if !m.Known() {
		return ""
	}
	return strconv.FormatInt(m.Pesos, 10)
}

// MarshalJSON encodes an unknown amount as null.
func (m Money) MarshalJSON() ([]byte, error) {
	if !m.Known() {
		return []byte("null"), nil
	}
	return json.Marshal(m.Pesos)
}

func (m *Money) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		m.Pesos = 0
		return nil
	}
	var v int64
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	if v < 0 {
		v = -v
	}
	m.Pesos = v
	return nil
}

// NewMediaRef builds the reference "<first 12 hex of sha1(content)>:<base name>".
func NewMediaRef(content []byte, filename string) MediaRef {
	sum := sha1.Sum(content)
	return MediaRef(hex.EncodeToString(sum[:])[:12] + ":" + filepath.Base(filename))
}

// Fingerprint returns the hash part of the reference.
func (r MediaRef) Fingerprint() string {
	fp, _, _ := strings.Cut(string(r), ":")
	return fp
}

// Filename returns the original file name part of the reference.
func (r MediaRef) Filename() string {
	_, name, _ := strings.Cut(string(r), ":")
	return name
}

// Add accumulates one event. Only tracked categories and unknowns are counted;
// amounts are taken as absolute values.
func (t DayTotals) Add(c Category, m Money) (DayTotals, error) {
	v := m.Pesos
	if v < 0 {
		v = -v
	}
	switch c {
	case Factura:
		t.FacturasTotal += v
		t.Counts.Facturas++
	case Transaccion:
		t.TransaccionesTotal += v
		t.Counts.Transacciones++
	case Unknown:
		t.UnknownTotal += v
		t.Counts.Unknown++
	default:
		return t, ErrInvalidCategory
	}
	return t, nil
}

// Total returns the accumulated amount and count for a category.
func (t DayTotals) Total(c Category) (int64, int64) {
	switch c {
	case Factura:
		return t.FacturasTotal, t.Counts.Facturas
	case Transaccion:
		return t.TransaccionesTotal, t.Counts.Transacciones
	case Unknown:
		return t.UnknownTotal, t.Counts.Unknown
	}
	return 0, 0
}

func (r ClassificationRecord) Validate() error {
	if r.ReceivedAt.IsZero() {
		return errors.New("received time cannot be zero")
	}
	if r.MediaRef == "" {
		return errors.New("empty media reference")
	}
	switch r.Category {
	case Factura, Transaccion:
		if !r.Amount.Known() {
			return ErrAmountNotFound
		}
	case Unknown:
	default:
		return ErrInvalidCategory
	}
	return nil
}
