package ocr

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"comprobantes/internal/core"
)

// Tesseract runs the tesseract command line engine.
type Tesseract struct {
	Path      string
	Languages string
}

func NewTesseract(path, languages string) *Tesseract {
	if path == "" {
		path = "tesseract"
	}
	if languages == "" {
		languages = "spa+eng"
	}
	return &Tesseract{Path: path, Languages: languages}
}

func (t *Tesseract) Recognize(ctx context.Context, imagePath string) (string, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, t.Path, imagePath, "stdout", "-l", t.Languages)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return "", fmt.Errorf("tesseract %s: %s: %w", imagePath, msg, core.ErrOCR)
	}
	return stdout.String(), nil
}
