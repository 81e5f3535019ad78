// Package workspace owns the per-item working directory and the archive container's
// life cycle, from the empty placeholder to its relocation into shared storage.
package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/fotopedia-grab/internal/item"
)

// ErrInvariantViolation marks a container state that only a misconfigured fetch tool produces.
var ErrInvariantViolation = errors.New("workspace invariant violation")

const (
	// ContainerExt is the canonical, compressed container extension.
	ContainerExt = ".warc.gz"
	rawExt       = ".warc"
	stampLayout  = "20060102-150405"
)

// Hasher names workspaces after identifiers.
type Hasher interface {
	HashString(s string) string
}

// Clock stamps container names.
type Clock interface {
	Now() time.Time
}

// Config locates the workspace roots.
type Config struct {
	// DataDir holds one subdirectory per in-flight item.
	DataDir string
	// SharedDir receives finished containers; defaults to DataDir.
	SharedDir string
	// Prefix starts every container name.
	Prefix string
}

// Manager prepares and finalizes workspaces.
type Manager struct {
	cfg    Config
	hasher Hasher
	clock  Clock
	logger *zap.Logger
}

// New validates cfg and returns a Manager.
func New(cfg Config, hasher Hasher, clock Clock, logger *zap.Logger) (*Manager, error) {
	if strings.TrimSpace(cfg.DataDir) == "" {
		return nil, fmt.Errorf("data directory is required")
	}
	if strings.TrimSpace(cfg.Prefix) == "" {
		return nil, fmt.Errorf("container prefix is required")
	}
	if cfg.SharedDir == "" {
		cfg.SharedDir = cfg.DataDir
	}
	if hasher == nil || clock == nil {
		return nil, fmt.Errorf("hasher and clock are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{cfg: cfg, hasher: hasher, clock: clock, logger: logger}, nil
}

// Dir returns the workspace directory for identifier. It depends on nothing else.
func (m *Manager) Dir(identifier string) string {
	return filepath.Join(m.cfg.DataDir, m.hasher.HashString(identifier))
}

// SharedDir is the root containers are moved into.
func (m *Manager) SharedDir() string {
	return m.cfg.SharedDir
}

// ContainerBase names the container for identifier as of at, without extension.
func (m *Manager) ContainerBase(identifier string, at time.Time) string {
	return fmt.Sprintf("%s-%s-%s", m.cfg.Prefix, m.hasher.HashString(identifier), at.Format(stampLayout))
}

// ContainerPath is the in-workspace container for it.
func ContainerPath(it *item.Item) string {
	return filepath.Join(it.WorkspaceDir, it.ContainerBase+ContainerExt)
}

// Prepare recreates the item's workspace from scratch and creates the empty container.
func (m *Manager) Prepare(it *item.Item) error {
	dir := m.Dir(it.Identifier)
	if _, err := os.Stat(dir); err == nil {
		m.logger.Info("removing stale workspace", zap.String("item", it.Identifier), zap.String("dir", dir))
		if err := os.RemoveAll(dir); err != nil {
			return fmt.Errorf("remove stale workspace: %w", err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("stat workspace: %w", err)
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create workspace: %w", err)
	}

	it.WorkspaceDir = dir
	it.ContainerBase = m.ContainerBase(it.Identifier, m.clock.Now())

	f, err := os.OpenFile(ContainerPath(it), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o640) // #nosec G304
	if err != nil {
		return fmt.Errorf("create container: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close container: %w", err)
	}
	return nil
}

// Finalize checks the container, moves it into shared storage and removes the workspace.
// SharedPath is only set once the move has succeeded.
func (m *Manager) Finalize(it *item.Item) error {
	if it.WorkspaceDir == "" || it.ContainerBase == "" {
		return fmt.Errorf("item %s has no prepared workspace", it.Identifier)
	}
	raw := filepath.Join(it.WorkspaceDir, it.ContainerBase+rawExt)
	if _, err := os.Stat(raw); err == nil {
		return fmt.Errorf("%w: uncompressed container %s present, fetch tool lacks zlib support",
			ErrInvariantViolation, filepath.Base(raw))
	}

	src := ContainerPath(it)
	info, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("stat container: %w", err)
	}
	if err := os.MkdirAll(m.cfg.SharedDir, 0o750); err != nil {
		return fmt.Errorf("create shared directory: %w", err)
	}
	dst := filepath.Join(m.cfg.SharedDir, it.ContainerBase+ContainerExt)
	if err := os.Rename(src, dst); err != nil {
		return fmt.Errorf("move container to shared storage: %w", err)
	}
	it.SharedPath = dst
	it.ContainerBytes = info.Size()

	if err := os.RemoveAll(it.WorkspaceDir); err != nil {
		return fmt.Errorf("remove workspace: %w", err)
	}
	m.logger.Debug("container finalized",
		zap.String("item", it.Identifier),
		zap.String("path", dst),
		zap.Int64("bytes", info.Size()),
	)
	return nil
}

// Release deletes the shared copy once the tracker has acknowledged the item.
func (m *Manager) Release(it *item.Item) error {
	if it.SharedPath == "" {
		return nil
	}
	if err := os.Remove(it.SharedPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove delivered container: %w", err)
	}
	m.logger.Debug("shared copy released", zap.String("item", it.Identifier))
	return nil
}
