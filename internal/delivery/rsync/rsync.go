// Package rsync delivers containers to the tracker-assigned rsync target.
package rsync

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/fotopedia-grab/internal/delivery"
	"github.com/JakeFAU/fotopedia-grab/internal/item"
)

// DefaultExtraArgs resume interrupted transfers.
var DefaultExtraArgs = []string{"--recursive", "--partial", "--partial-dir", ".rsync-tmp"}

// TargetSource hands out upload targets. The tracker client implements it.
type TargetSource interface {
	UploadTarget(ctx context.Context) (string, error)
}

// Runner executes rsync with stdin attached and returns combined output.
type Runner interface {
	Run(ctx context.Context, binary string, args []string, stdin io.Reader) ([]byte, error)
}

// Config controls the rsync invocation.
type Config struct {
	Binary string
	// SourceDir is the shared storage root; file lists are relative to it.
	SourceDir string
	ExtraArgs []string
	// BandwidthLimit is passed as --bwlimit in KiB/s when positive.
	BandwidthLimit int
}

// Uploader implements delivery.Uploader on top of rsync.
type Uploader struct {
	cfg     Config
	targets TargetSource
	runner  Runner
	logger  *zap.Logger
}

// Option configures an Uploader.
type Option func(*Uploader)

// WithRunner swaps the process runner.
func WithRunner(r Runner) Option {
	return func(u *Uploader) {
		if r != nil {
			u.runner = r
		}
	}
}

// New validates cfg and returns an Uploader.
func New(cfg Config, targets TargetSource, logger *zap.Logger, opts ...Option) (*Uploader, error) {
	if strings.TrimSpace(cfg.SourceDir) == "" {
		return nil, fmt.Errorf("rsync source directory is required")
	}
	if targets == nil {
		return nil, fmt.Errorf("upload target source is required")
	}
	if cfg.Binary == "" {
		cfg.Binary = "rsync"
	}
	if cfg.ExtraArgs == nil {
		cfg.ExtraArgs = DefaultExtraArgs
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	u := &Uploader{cfg: cfg, targets: targets, runner: execRunner{}, logger: logger}
	for _, opt := range opts {
		opt(u)
	}
	return u, nil
}

// Args builds the rsync argument list for a transfer to target.
func (u *Uploader) Args(target string) []string {
	args := []string{"-rltv", "--timeout=300", "--contimeout=300", "--progress"}
	if u.cfg.BandwidthLimit > 0 {
		args = append(args, "--bwlimit", strconv.Itoa(u.cfg.BandwidthLimit))
	}
	args = append(args, u.cfg.ExtraArgs...)
	src := strings.TrimSuffix(u.cfg.SourceDir, string(filepath.Separator)) + string(filepath.Separator)
	return append(args, "--files-from=-", src, target)
}

// Upload asks for a target and pushes the item's shared container to it.
func (u *Uploader) Upload(ctx context.Context, it *item.Item) (delivery.Receipt, error) {
	if it.SharedPath == "" {
		return delivery.Receipt{}, fmt.Errorf("item %s has no finalized container", it.Identifier)
	}
	rel, err := filepath.Rel(u.cfg.SourceDir, it.SharedPath)
	if err != nil || strings.HasPrefix(rel, "..") {
		return delivery.Receipt{}, fmt.Errorf("container %s is outside %s", it.SharedPath, u.cfg.SourceDir)
	}
	target, err := u.targets.UploadTarget(ctx)
	if err != nil {
		return delivery.Receipt{}, fmt.Errorf("get upload target: %w", err)
	}
	u.logger.Info("uploading container",
		zap.String("item", it.Identifier), zap.String("target", target), zap.String("file", rel))

	out, err := u.runner.Run(ctx, u.cfg.Binary, u.Args(target), strings.NewReader(rel+"\n"))
	if err != nil {
		u.logger.Warn("rsync failed", zap.String("item", it.Identifier), zap.ByteString("output", tail(out)))
		return delivery.Receipt{}, fmt.Errorf("rsync to %s: %w", target, err)
	}
	return delivery.Receipt{Location: target + rel, Bytes: it.ContainerBytes}, nil
}

func tail(out []byte) []byte {
	const keep = 2048
	if len(out) > keep {
		return out[len(out)-keep:]
	}
	return out
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, binary string, args []string, stdin io.Reader) ([]byte, error) {
	cmd := exec.CommandContext(ctx, binary, args...) // #nosec G204 -- operator-configured binary
	cmd.Stdin = stdin
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf
	err := cmd.Run()
	return buf.Bytes(), err
}
