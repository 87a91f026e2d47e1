package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func setupEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("DATA_BACKEND", "file")
	t.Setenv("DATA_DIR", filepath.Join(dir, "data"))
	t.Setenv("OUTBOX_DIR", filepath.Join(dir, "outbox"))
	t.Setenv("OCR_ENGINE", "none")
	t.Setenv("AMQP_URL", "")
	t.Setenv("RULES_FILE", "")
	t.Setenv("GOOGLE_SPREADSHEET_ID", "")
	t.Setenv("GOOGLE_SERVICE_ACCOUNT_FILE", "")
	t.Setenv("LOG_LEVEL", "error")
	return dir
}

func TestRunMissingPath(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if code := run(context.Background(), nil, &stdout, &stderr); code != exitUsage {
		t.Errorf("exit code = %d, want %d", code, exitUsage)
	}
	if stdout.Len() != 0 {
		t.Errorf("stdout = %q, want empty", stdout.String())
	}
	if !strings.Contains(stderr.String(), "Missing <mediaPath>") {
		t.Errorf("stderr = %q", stderr.String())
	}
}

func TestRunMissingFile(t *testing.T) {
	dir := setupEnv(t)
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{filepath.Join(dir, "nope.jpg")}, &stdout, &stderr)
	if code != exitFailure {
		t.Errorf("exit code = %d, want %d", code, exitFailure)
	}
	if stdout.Len() != 0 {
		t.Errorf("stdout = %q, want empty", stdout.String())
	}
}

func TestRunProcessesAndDeduplicates(t *testing.T) {
	dir := setupEnv(t)
	media := filepath.Join(dir, "notas.txt")
	if err := os.WriteFile(media, []byte("hola"), 0o644); err != nil {
		t.Fatal(err)
	}

	var stdout, stderr bytes.Buffer
	args := []string{media, "--source", "dm", "--sender", "+573001112233", "--received-at", "2025-03-02T04:30:00Z"}
	if code := run(context.Background(), args, &stdout, &stderr); code != exitOK {
		t.Fatalf("exit code = %d, stderr = %s", code, stderr.String())
	}

	var first map[string]any
	if err := json.Unmarshal(stdout.Bytes(), &first); err != nil {
		t.Fatalf("stdout is not JSON: %v: %q", err, stdout.String())
	}
	if first["dedup"] != false || first["kind"] != "UNKNOWN" || first["valueCop"] != nil {
		t.Errorf("first = %v", first)
	}
	// 04:30 UTC is still the previous day in Bogota.
	if first["dayKey"] != "2025-03-01" {
		t.Errorf("dayKey = %v", first["dayKey"])
	}
	if _, ok := first["firstSeenAt"]; ok {
		t.Error("firstSeenAt present on first sight")
	}
	if !strings.HasPrefix(first["notifyText"].(string), "NO CLASIFICADA detectada") {
		t.Errorf("notifyText = %v", first["notifyText"])
	}

	stdout.Reset()
	if code := run(context.Background(), []string{media}, &stdout, &stderr); code != exitOK {
		t.Fatalf("exit code = %d, stderr = %s", code, stderr.String())
	}
	var second map[string]any
	if err := json.Unmarshal(stdout.Bytes(), &second); err != nil {
		t.Fatal(err)
	}
	if second["dedup"] != true || second["kind"] != "DUPLICATE" || second["mediaRef"] != first["mediaRef"] {
		t.Errorf("second = %v", second)
	}
	if second["dayKey"] != nil || second["totals"] != nil || second["firstSeenAt"] == nil {
		t.Errorf("second = %v", second)
	}
}

func TestRunInvalidReceivedAt(t *testing.T) {
	dir := setupEnv(t)
	media := filepath.Join(dir, "a.txt")
	if err := os.WriteFile(media, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	var stdout, stderr bytes.Buffer
	if code := run(context.Background(), []string{media, "--received-at", "ayer"}, &stdout, &stderr); code != exitFailure {
		t.Errorf("exit code = %d, want %d", code, exitFailure)
	}
}
