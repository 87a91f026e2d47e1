package services

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"comprobantes/internal/archive"
	"comprobantes/internal/core"
	"comprobantes/internal/storage"
)

func TestDefaultInboxConfig(t *testing.T) {
	config := DefaultInboxConfig()
	if config.PollInterval != 30*time.Second {
		t.Errorf("expected PollInterval 30s, got %v", config.PollInterval)
	}
	if config.Dir != "./inbox" {
		t.Errorf("expected Dir ./inbox, got %q", config.Dir)
	}
}

func TestInboxRunOnce(t *testing.T) {
	h := newHarness(t)
	inbox := h.dir

	h.media(t, "b_nequi.png", "NEQUI Comprobante de transacción, Valor: 120.500")
	h.media(t, "a_factura.jpg", "FACTURA NIT\nTOTAL A PAGAR: $45.000")
	h.media(t, "c_roto.jpg", "")
	h.recognizer.fail["c_roto.jpg"] = true
	h.media(t, "d_notas.txt", "")
	if err := os.WriteFile(filepath.Join(inbox, ".DS_Store"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(filepath.Join(inbox, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}

	var observed []BatchReport
	p := NewInboxProcessor(h.pipeline, archive.LocalArchiver{Root: inbox}, nil, quietLogger(), InboxConfig{Dir: inbox})
	p.OnBatch(func(r BatchReport) { observed = append(observed, r) })

	report, err := p.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}

	wantOrder := []string{"a_factura.jpg", "b_nequi.png", "c_roto.jpg", "d_notas.txt"}
	if len(report.Items) != len(wantOrder) {
		t.Fatalf("items = %d, want %d: %+v", len(report.Items), len(wantOrder), report.Items)
	}
	for i, name := range wantOrder {
		if report.Items[i].File != name {
			t.Errorf("item %d = %s, want %s", i, report.Items[i].File, name)
		}
	}
	if report.Processed != 3 || report.Failed != 1 || report.Duplicates != 0 {
		t.Errorf("report = processed %d, failed %d, duplicates %d", report.Processed, report.Failed, report.Duplicates)
	}
	if !errors.Is(report.Items[2].Err, core.ErrOCR) {
		t.Errorf("c_roto error = %v, want ErrOCR", report.Items[2].Err)
	}
	if report.Items[0].Result.Kind != core.Factura || report.Items[1].Result.Kind != core.Transaccion {
		t.Errorf("kinds = %v, %v", report.Items[0].Result.Kind, report.Items[1].Result.Kind)
	}

	for _, name := range []string{"a_factura.jpg", "b_nequi.png", "d_notas.txt"} {
		if _, err := os.Stat(filepath.Join(inbox, "processed", name)); err != nil {
			t.Errorf("%s not archived to processed: %v", name, err)
		}
	}
	if _, err := os.Stat(filepath.Join(inbox, "failed", "c_roto.jpg")); err != nil {
		t.Errorf("c_roto.jpg not archived to failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(inbox, ".DS_Store")); err != nil {
		t.Errorf("hidden file should be left alone: %v", err)
	}

	if got := len(h.store.Records(storage.LogFacturas)); got != 1 {
		t.Errorf("facturas = %d", got)
	}
	if rec := h.store.Records(storage.LogFacturas)[0]; rec.Source != InboxSource || rec.Sender != InboxSender {
		t.Errorf("metadata = %q/%q", rec.Source, rec.Sender)
	}
	if len(observed) != 1 {
		t.Errorf("OnBatch calls = %d, want 1", len(observed))
	}

	// Second pass sees an empty inbox.
	report, err = p.RunOnce(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Items) != 0 {
		t.Errorf("second pass items = %d", len(report.Items))
	}
}

func TestInboxRunOnceWithoutArchiverReportsDuplicates(t *testing.T) {
	h := newHarness(t)
	h.media(t, "a.jpg", "FACTURA NIT\nTOTAL A PAGAR: $45.000")
	p := NewInboxProcessor(h.pipeline, nil, nil, quietLogger(), InboxConfig{Dir: h.dir})

	if _, err := p.RunOnce(context.Background()); err != nil {
		t.Fatal(err)
	}
	report, err := p.RunOnce(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if report.Duplicates != 1 || report.Processed != 0 {
		t.Errorf("report = %+v", report)
	}
}

func TestInboxRunOnceMissingDir(t *testing.T) {
	h := newHarness(t)
	p := NewInboxProcessor(h.pipeline, nil, nil, quietLogger(), InboxConfig{Dir: filepath.Join(h.dir, "missing")})
	if _, err := p.RunOnce(context.Background()); err == nil {
		t.Error("expected error for missing inbox")
	}
}

func TestInboxRunOnceCancelled(t *testing.T) {
	h := newHarness(t)
	h.media(t, "a.jpg", "FACTURA NIT\nTOTAL A PAGAR: $45.000")
	p := NewInboxProcessor(h.pipeline, nil, nil, quietLogger(), InboxConfig{Dir: h.dir})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	report, err := p.RunOnce(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
	if len(report.Items) != 0 {
		t.Errorf("items = %d, want 0", len(report.Items))
	}
	if h.recognizer.calls != 0 {
		t.Errorf("OCR calls = %d", h.recognizer.calls)
	}
}

func TestInboxProcessor_IsRunning(t *testing.T) {
	p := NewInboxProcessor(nil, nil, nil, quietLogger(), DefaultInboxConfig())
	if p.IsRunning() {
		t.Error("processor should not be running initially")
	}
}

func TestInboxProcessor_StopNotRunning(t *testing.T) {
	p := NewInboxProcessor(nil, nil, nil, quietLogger(), DefaultInboxConfig())
	if err := p.Stop(context.Background()); err != nil {
		t.Errorf("Stop should not error when not running: %v", err)
	}
}

func TestInboxProcessor_StartStop(t *testing.T) {
	h := newHarness(t)
	h.media(t, "a.jpg", "FACTURA NIT\nTOTAL A PAGAR: $45.000")

	batches := make(chan BatchReport, 4)
	p := NewInboxProcessor(h.pipeline, archive.LocalArchiver{Root: h.dir}, nil, quietLogger(),
		InboxConfig{Dir: h.dir, PollInterval: time.Hour})
	p.OnBatch(func(r BatchReport) { batches <- r })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := p.Start(ctx); err != nil {
		t.Fatal(err)
	}
	if err := p.Start(ctx); err == nil {
		t.Error("expected error when starting already running processor")
	}

	select {
	case r := <-batches:
		if r.Processed != 1 {
			t.Errorf("first pass processed = %d, want 1", r.Processed)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("first pass did not run")
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	if err := p.Stop(stopCtx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if p.IsRunning() {
		t.Error("processor should not be running after Stop")
	}
	select {
	case <-p.Done():
	default:
		t.Error("Done not closed after Stop")
	}
}
