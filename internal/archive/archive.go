// Package archive moves inbox media out of the way once the batch runner is
// done with it.
package archive

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Outcome selects the archive area for a processed item.
type Outcome string

const (
	Processed Outcome = "processed"
	Failed    Outcome = "failed"
)

// Archiver removes path from the inbox and returns where it went.
type Archiver interface {
	Archive(ctx context.Context, path string, outcome Outcome) (string, error)
}

// LocalArchiver renames files into <Root>/<outcome>/. Existing names get a
// numeric suffix instead of being overwritten.
type LocalArchiver struct {
	Root string
}

func (a LocalArchiver) Archive(ctx context.Context, path string, outcome Outcome) (string, error) {
	dir := filepath.Join(a.Root, string(outcome))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create archive dir: %w", err)
	}

	dest, err := freeName(dir, filepath.Base(path))
	if err != nil {
		return "", err
	}
	if err := os.Rename(path, dest); err != nil {
		return "", fmt.Errorf("archive %s: %w", filepath.Base(path), err)
	}
	return dest, nil
}

func freeName(dir, base string) (string, error) {
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	candidate := filepath.Join(dir, base)
	for i := 1; i < 10000; i++ {
		if _, err := os.Stat(candidate); errors.Is(err, fs.ErrNotExist) {
			return candidate, nil
		} else if err != nil {
			return "", fmt.Errorf("stat %s: %w", candidate, err)
		}
		candidate = filepath.Join(dir, stem+"-"+strconv.Itoa(i)+ext)
	}
	return "", fmt.Errorf("no free archive name for %s", base)
}
