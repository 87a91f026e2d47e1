package archive

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"time"

	gcs "cloud.google.com/go/storage"
)

const uploadTimeout = 2 * time.Minute

// GCSArchiver uploads media to gs://<bucket>/<prefix><outcome>/<name> and
// removes the local copy once the upload is finalised.
type GCSArchiver struct {
	bucket    string
	prefix    string
	newWriter func(ctx context.Context, object string) io.WriteCloser
	closer    io.Closer
}

// NewGCSArchiver uses Application Default Credentials.
func NewGCSArchiver(ctx context.Context, bucket, prefix string) (*GCSArchiver, error) {
	client, err := gcs.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	bkt := client.Bucket(bucket)
	return &GCSArchiver{
		bucket: bucket,
		prefix: prefix,
		newWriter: func(ctx context.Context, object string) io.WriteCloser {
			return bkt.Object(object).NewWriter(ctx)
		},
		closer: client,
	}, nil
}

// ObjectName returns the object key used for a file.
func (a *GCSArchiver) ObjectName(localPath string, outcome Outcome) string {
	return path.Join(a.prefix, string(outcome), filepath.Base(localPath))
}

func (a *GCSArchiver) Archive(ctx context.Context, localPath string, outcome Outcome) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("open %q: %w", localPath, err)
	}
	defer f.Close()

	ctx, cancel := context.WithTimeout(ctx, uploadTimeout)
	defer cancel()

	object := a.ObjectName(localPath, outcome)
	w := a.newWriter(ctx, object)
	if _, err := io.Copy(w, f); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("copy file to GCS writer: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("finalize upload: %w", err)
	}

	f.Close()
	if err := os.Remove(localPath); err != nil {
		return "", fmt.Errorf("remove archived file: %w", err)
	}
	return "gs://" + a.bucket + "/" + object, nil
}

func (a *GCSArchiver) Close() error {
	if a.closer != nil {
		return a.closer.Close()
	}
	return nil
}
