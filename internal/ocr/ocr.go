// Package ocr turns document images into raw text. Recognition quality is
// the engine's concern; callers only rely on text or an error wrapping
// core.ErrOCR.
package ocr

import (
	"context"
	"fmt"

	"comprobantes/internal/core"
)

type Recognizer interface {
	Recognize(ctx context.Context, imagePath string) (string, error)
}

// RecognizerFunc adapts a function to Recognizer.
type RecognizerFunc func(ctx context.Context, imagePath string) (string, error)

func (f RecognizerFunc) Recognize(ctx context.Context, imagePath string) (string, error) {
	return f(ctx, imagePath)
}

// Static returns the same text for every image. Used when OCR is disabled
// and in tests.
type Static struct {
	Text string
	Err  error
}

func (s Static) Recognize(ctx context.Context, imagePath string) (string, error) {
	if s.Err != nil {
		return "", fmt.Errorf("%s: %w: %w", imagePath, core.ErrOCR, s.Err)
	}
	return s.Text, nil
}
