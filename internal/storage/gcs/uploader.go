// Package gcs delivers containers to a Google Cloud Storage bucket.
package gcs

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"cloud.google.com/go/storage"

	"github.com/JakeFAU/fotopedia-grab/internal/delivery"
	"github.com/JakeFAU/fotopedia-grab/internal/item"
)

// ContentType is set on every uploaded container.
const ContentType = "application/gzip"

// Config captures the bucket and object prefix containers are written to.
type Config struct {
	Bucket string
	Prefix string
}

// Uploader writes finalized containers to the configured bucket.
type Uploader struct {
	client *storage.Client
	bucket string
	prefix string
}

// New creates a GCS-backed uploader.
func New(client *storage.Client, cfg Config) (*Uploader, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	return &Uploader{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
	}, nil
}

// ObjectName is the object key for a container file name.
func (u *Uploader) ObjectName(file string) string {
	if u.prefix == "" {
		return file
	}
	return path.Join(u.prefix, file)
}

// Upload streams the shared container to the bucket and returns a gs:// location.
func (u *Uploader) Upload(ctx context.Context, it *item.Item) (delivery.Receipt, error) {
	if it.SharedPath == "" {
		return delivery.Receipt{}, fmt.Errorf("item %s has no finalized container", it.Identifier)
	}
	f, err := os.Open(it.SharedPath) // #nosec G304 -- path produced by the finalizer
	if err != nil {
		return delivery.Receipt{}, fmt.Errorf("open container: %w", err)
	}
	defer f.Close() //nolint:errcheck // read-only handle

	name := u.ObjectName(filepath.Base(it.SharedPath))
	writer := u.client.Bucket(u.bucket).Object(name).NewWriter(ctx)
	writer.ContentType = ContentType
	writer.Metadata = map[string]string{"item": it.Identifier}
	n, err := io.Copy(writer, f)
	if err != nil {
		if closeErr := writer.Close(); closeErr != nil {
			return delivery.Receipt{}, fmt.Errorf("copy object: %w (close writer: %v)", err, closeErr)
		}
		return delivery.Receipt{}, fmt.Errorf("copy object: %w", err)
	}
	if err := writer.Close(); err != nil {
		return delivery.Receipt{}, fmt.Errorf("close writer: %w", err)
	}
	return delivery.Receipt{Location: fmt.Sprintf("gs://%s/%s", u.bucket, name), Bytes: n}, nil
}
