package services

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"comprobantes/internal/classifier"
	"comprobantes/internal/core"
	"comprobantes/internal/dedup"
	"comprobantes/internal/ledger"
	"comprobantes/internal/notify"
	"comprobantes/internal/ocr"
	"comprobantes/internal/storage"
	"comprobantes/internal/storage/memory"
)

var testNow = time.Date(2025, 3, 1, 15, 0, 0, 0, time.UTC)

type recordingSink struct {
	mu   sync.Mutex
	sent []notify.Notification
	err  error
}

func (s *recordingSink) Enqueue(_ context.Context, n notify.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, n)
	return nil
}

// countingRecognizer returns texts[base name] and counts calls.
type countingRecognizer struct {
	mu    sync.Mutex
	texts map[string]string
	fail  map[string]bool
	calls int
}

func (r *countingRecognizer) Recognize(_ context.Context, path string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	name := filepath.Base(path)
	if r.fail[name] {
		return "", errors.New("unreadable image")
	}
	return r.texts[name], nil
}

type harness struct {
	store      *memory.Store
	sink       *recordingSink
	recognizer *countingRecognizer
	pipeline   *Pipeline
	dir        string
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	loc, err := time.LoadLocation(core.DefaultTimezone)
	if err != nil {
		t.Fatal(err)
	}
	clock := func() time.Time { return testNow }
	h := &harness{
		store:      memory.New(core.DefaultTimezone),
		sink:       &recordingSink{},
		recognizer: &countingRecognizer{texts: map[string]string{}, fail: map[string]bool{}},
		dir:        t.TempDir(),
	}
	h.pipeline, err = NewPipeline(PipelineDeps{
		Gate:       dedup.NewGate(h.store, dedup.WithClock(clock), dedup.WithLogger(quietLogger())),
		Recognizer: h.recognizer,
		Classifier: classifier.New(nil),
		Ledger:     ledger.New(h.store, h.store, loc, quietLogger()),
		Sink:       h.sink,
		Clock:      clock,
		Logger:     quietLogger(),
	})
	if err != nil {
		t.Fatal(err)
	}
	return h
}

// media writes a file whose OCR text is text.
func (h *harness) media(t *testing.T, name, text string) string {
	t.Helper()
	path := filepath.Join(h.dir, name)
	if err := os.WriteFile(path, []byte("image bytes of "+name), 0o644); err != nil {
		t.Fatal(err)
	}
	h.recognizer.texts[name] = text
	return path
}

func TestNewPipelineRequiresCollaborators(t *testing.T) {
	if _, err := NewPipeline(PipelineDeps{}); err == nil {
		t.Error("expected error without collaborators")
	}
}

func TestProcess(t *testing.T) {
	tests := []struct {
		name      string
		file      string
		text      string
		wantKind  core.Category
		wantValue int64
		wantNotes string
		wantLog   storage.LogKind
		wantOCR   int
	}{
		{
			name:      "invoice total to pay",
			file:      "factura.jpg",
			text:      "FACTURA ELECTRONICA DE VENTA\nNIT 900.123.456-7\nTOTAL A PAGAR: $45.000",
			wantKind:  core.Factura,
			wantValue: 45000,
			wantLog:   storage.LogFacturas,
			wantOCR:   1,
		},
		{
			name:      "wallet transfer",
			file:      "nequi.png",
			text:      "NEQUI Comprobante de transacción, Valor: 120.500",
			wantKind:  core.Transaccion,
			wantValue: 120500,
			wantLog:   storage.LogTransacciones,
			wantOCR:   1,
		},
		{
			name:      "unsupported extension",
			file:      "notas.txt",
			text:      "TOTAL A PAGAR: $45.000",
			wantKind:  core.Unknown,
			wantNotes: "unsupported_media_type:.txt",
			wantLog:   storage.LogUnclassified,
		},
		{
			name:      "no extension",
			file:      "README",
			wantKind:  core.Unknown,
			wantNotes: "unsupported_media_type:none",
			wantLog:   storage.LogUnclassified,
		},
		{
			name:      "invoice without amount keeps hint",
			file:      "sin_valor.jpeg",
			text:      "FACTURA ELECTRONICA\nNIT 900123",
			wantKind:  core.Unknown,
			wantNotes: "no_valor_o_clasificacion;hint=FACTURA",
			wantLog:   storage.LogUnclassified,
			wantOCR:   1,
		},
		{
			name:      "no keywords",
			file:      "selfie.webp",
			text:      "hola que mas",
			wantKind:  core.Unknown,
			wantNotes: "no_valor_o_clasificacion",
			wantLog:   storage.LogUnclassified,
			wantOCR:   1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			path := h.media(t, tt.file, tt.text)

			res, err := h.pipeline.Process(context.Background(), path, Metadata{Source: "dm", Sender: "+573001112233"})
			if err != nil {
				t.Fatalf("Process() error = %v", err)
			}
			if res.Dedup {
				t.Error("first sight reported as duplicate")
			}
			if res.Kind != tt.wantKind {
				t.Errorf("Kind = %v, want %v", res.Kind, tt.wantKind)
			}
			if res.ValueCOP.Pesos != tt.wantValue {
				t.Errorf("ValueCOP = %d, want %d", res.ValueCOP.Pesos, tt.wantValue)
			}
			if res.Notes != tt.wantNotes {
				t.Errorf("Notes = %q, want %q", res.Notes, tt.wantNotes)
			}
			if h.recognizer.calls != tt.wantOCR {
				t.Errorf("OCR calls = %d, want %d", h.recognizer.calls, tt.wantOCR)
			}
			if res.DayKey == nil || *res.DayKey != "2025-03-01" {
				t.Errorf("DayKey = %v", res.DayKey)
			}
			if res.FirstSeenAt != nil {
				t.Error("FirstSeenAt set on first sight")
			}

			for _, kind := range storage.LogKinds() {
				want := 0
				if kind == tt.wantLog {
					want = 1
				}
				if got := len(h.store.Records(kind)); got != want {
					t.Errorf("%s records = %d, want %d", kind, got, want)
				}
			}
			rec := h.store.Records(tt.wantLog)[0]
			if rec.Source != "dm" || rec.Sender != "+573001112233" || rec.Currency != "COP" || rec.MediaRef != res.MediaRef {
				t.Errorf("record = %+v", rec)
			}

			total, count := res.Totals.Total(tt.wantKind)
			if tt.wantKind.Tracked() && (total != tt.wantValue || count != 1) {
				t.Errorf("totals = %d/%d", total, count)
			}
			if !tt.wantKind.Tracked() && (res.Totals.FacturasTotal != 0 || res.Totals.TransaccionesTotal != 0) {
				t.Errorf("unclassified item changed totals: %+v", res.Totals)
			}

			if len(h.sink.sent) != 1 {
				t.Fatalf("notifications = %d, want 1", len(h.sink.sent))
			}
			n := h.sink.sent[0]
			if n.Text != res.NotifyText || n.Recipient != notify.DefaultRecipient || n.MediaRef != res.MediaRef {
				t.Errorf("notification = %+v", n)
			}
		})
	}
}

func TestProcessDuplicate(t *testing.T) {
	h := newHarness(t)
	path := h.media(t, "factura.jpg", "FACTURA\nTOTAL A PAGAR: $45.000")
	ctx := context.Background()

	first, err := h.pipeline.Process(ctx, path, Metadata{Sender: "ana"})
	if err != nil {
		t.Fatal(err)
	}
	totalsAfterFirst, err := h.store.LoadTotals(ctx)
	if err != nil {
		t.Fatal(err)
	}

	second, err := h.pipeline.Process(ctx, path, Metadata{Sender: "ana"})
	if err != nil {
		t.Fatal(err)
	}
	if !second.Dedup || second.Kind != core.Duplicate {
		t.Fatalf("second = %+v, want duplicate", second)
	}
	if second.MediaRef != first.MediaRef {
		t.Errorf("MediaRef = %q, want %q", second.MediaRef, first.MediaRef)
	}
	if second.FirstSeenAt == nil || !second.FirstSeenAt.Equal(testNow) {
		t.Errorf("FirstSeenAt = %v, want %v", second.FirstSeenAt, testNow)
	}
	if second.DayKey != nil || second.Totals != nil || second.ValueCOP.Known() {
		t.Errorf("duplicate carries ledger data: %+v", second)
	}
	if h.recognizer.calls != 1 {
		t.Errorf("OCR calls = %d, want 1", h.recognizer.calls)
	}
	if got := len(h.store.Records(storage.LogFacturas)); got != 1 {
		t.Errorf("facturas records = %d, want 1", got)
	}
	totalsAfterSecond, err := h.store.LoadTotals(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if totalsAfterSecond.Days["2025-03-01"] != totalsAfterFirst.Days["2025-03-01"] {
		t.Errorf("totals changed: %+v -> %+v", totalsAfterFirst.Days, totalsAfterSecond.Days)
	}
	if len(h.sink.sent) != 2 || !strings.HasPrefix(h.sink.sent[1].Text, "DUPLICADA detectada") {
		t.Errorf("duplicate notification missing: %+v", h.sink.sent)
	}
}

func TestProcessAccumulatesDay(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	a := h.media(t, "a.jpg", "FACTURA NIT\nTOTAL A PAGAR: 50.000")
	b := h.media(t, "b.jpg", "FACTURA NIT\nTOTAL A PAGAR: 30.000")
	if _, err := h.pipeline.Process(ctx, a, Metadata{}); err != nil {
		t.Fatal(err)
	}
	res, err := h.pipeline.Process(ctx, b, Metadata{})
	if err != nil {
		t.Fatal(err)
	}
	if res.Totals.FacturasTotal != 80000 || res.Totals.Counts.Facturas != 2 {
		t.Errorf("totals = %+v", res.Totals)
	}
	if !strings.Contains(res.NotifyText, "FACTURAS 80.000 COP") {
		t.Errorf("NotifyText = %q", res.NotifyText)
	}
}

func TestProcessInputErrors(t *testing.T) {
	h := newHarness(t)
	tests := []struct {
		name string
		path string
	}{
		{"empty path", ""},
		{"missing file", filepath.Join(h.dir, "nope.jpg")},
		{"directory", h.dir},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.pipeline.Process(context.Background(), tt.path, Metadata{})
			if !errors.Is(err, core.ErrInput) {
				t.Fatalf("error = %v, want ErrInput", err)
			}
		})
	}

	seen, err := h.store.LoadSeen(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(seen.Seen) != 0 {
		t.Errorf("input errors registered media: %v", seen.Seen)
	}
	if len(h.sink.sent) != 0 {
		t.Errorf("input errors sent notifications: %d", len(h.sink.sent))
	}
}

func TestProcessOCRFailure(t *testing.T) {
	h := newHarness(t)
	path := h.media(t, "roto.jpg", "")
	h.recognizer.fail["roto.jpg"] = true
	ctx := context.Background()

	_, err := h.pipeline.Process(ctx, path, Metadata{})
	if !errors.Is(err, core.ErrOCR) {
		t.Fatalf("error = %v, want ErrOCR", err)
	}
	for _, kind := range storage.LogKinds() {
		if got := len(h.store.Records(kind)); got != 0 {
			t.Errorf("%s records = %d, want 0", kind, got)
		}
	}

	// Registration happens before recognition.
	res, err := h.pipeline.Process(ctx, path, Metadata{})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Dedup {
		t.Error("failed item should be a duplicate on resubmission")
	}
}

func TestProcessStaticRecognizerError(t *testing.T) {
	h := newHarness(t)
	path := h.media(t, "x.png", "")
	h.pipeline.recognizer = ocr.Static{Err: errors.New("boom")}

	if _, err := h.pipeline.Process(context.Background(), path, Metadata{}); !errors.Is(err, core.ErrOCR) {
		t.Fatalf("error = %v, want ErrOCR", err)
	}
}

func TestProcessNotificationFailure(t *testing.T) {
	h := newHarness(t)
	h.sink.err = errors.New("outbox full")
	path := h.media(t, "nequi.png", "NEQUI Comprobante de transacción, Valor: 120.500")

	res, err := h.pipeline.Process(context.Background(), path, Metadata{})
	if err != nil {
		t.Fatalf("notification failure must not fail the item: %v", err)
	}
	if res.Kind != core.Transaccion {
		t.Errorf("Kind = %v", res.Kind)
	}
}

func TestProcessDefaults(t *testing.T) {
	h := newHarness(t)
	path := h.media(t, "selfie.jpg", "")

	if _, err := h.pipeline.Process(context.Background(), path, Metadata{Source: "  "}); err != nil {
		t.Fatal(err)
	}
	rec := h.store.Records(storage.LogUnclassified)[0]
	if rec.Source != DefaultParty || rec.Sender != DefaultParty {
		t.Errorf("source/sender = %q/%q", rec.Source, rec.Sender)
	}
	if !rec.ReceivedAt.Equal(testNow) {
		t.Errorf("ReceivedAt = %v, want %v", rec.ReceivedAt, testNow)
	}
}
