// Package local delivers containers into a directory on the local filesystem or a mounted volume.
package local

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/JakeFAU/fotopedia-grab/internal/delivery"
	"github.com/JakeFAU/fotopedia-grab/internal/item"
)

// Config captures the parameters for the local filesystem uploader.
type Config struct {
	// BaseDir is the root directory containers are copied into.
	BaseDir string `mapstructure:"base_dir" yaml:"base_dir"`
}

// Uploader copies finalized containers under BaseDir.
type Uploader struct {
	baseDir string
}

// New creates a local uploader, creating BaseDir and checking that it is writable.
func New(cfg Config) (*Uploader, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, fmt.Errorf("base directory is required")
	}

	info, err := os.Stat(cfg.BaseDir)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to stat base directory: %w", err)
		}
		if mkErr := os.MkdirAll(cfg.BaseDir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("failed to create base directory: %w", mkErr)
		}
	} else if !info.IsDir() {
		return nil, fmt.Errorf("base directory path is not a directory")
	}

	probe := filepath.Join(cfg.BaseDir, ".writable_test")
	if err := os.WriteFile(probe, []byte("test"), 0o600); err != nil {
		return nil, fmt.Errorf("base directory is not writable: %w", err)
	}
	if err := os.Remove(probe); err != nil {
		return nil, fmt.Errorf("failed to clean up test file: %w", err)
	}
	return &Uploader{baseDir: cfg.BaseDir}, nil
}

// Upload copies the shared container into BaseDir and returns a file:// location.
// The copy lands under a temporary name and is renamed once complete.
func (u *Uploader) Upload(ctx context.Context, it *item.Item) (delivery.Receipt, error) {
	if it.SharedPath == "" {
		return delivery.Receipt{}, fmt.Errorf("item %s has no finalized container", it.Identifier)
	}
	name := filepath.Base(it.SharedPath)
	fullPath := filepath.Join(u.baseDir, name)
	if !strings.HasPrefix(filepath.Clean(fullPath), filepath.Clean(u.baseDir)+string(filepath.Separator)) {
		return delivery.Receipt{}, fmt.Errorf("path traversal detected")
	}

	src, err := os.Open(it.SharedPath) // #nosec G304 -- path produced by the finalizer
	if err != nil {
		return delivery.Receipt{}, fmt.Errorf("open container: %w", err)
	}
	defer src.Close() //nolint:errcheck // read-only handle

	tmp, err := os.CreateTemp(u.baseDir, ".partial-"+name+"-*")
	if err != nil {
		return delivery.Receipt{}, fmt.Errorf("create partial file: %w", err)
	}
	n, copyErr := io.Copy(tmp, readerWithContext{ctx: ctx, r: src})
	closeErr := tmp.Close()
	if copyErr != nil || closeErr != nil {
		_ = os.Remove(tmp.Name())
		if copyErr != nil {
			return delivery.Receipt{}, fmt.Errorf("copy container: %w", copyErr)
		}
		return delivery.Receipt{}, fmt.Errorf("close partial file: %w", closeErr)
	}
	if err := os.Rename(tmp.Name(), fullPath); err != nil {
		_ = os.Remove(tmp.Name())
		return delivery.Receipt{}, fmt.Errorf("publish container: %w", err)
	}
	return delivery.Receipt{Location: "file://" + fullPath, Bytes: n}, nil
}

type readerWithContext struct {
	ctx context.Context
	r   io.Reader
}

func (r readerWithContext) Read(p []byte) (int, error) {
	if err := r.ctx.Err(); err != nil {
		return 0, err
	}
	return r.r.Read(p)
}
