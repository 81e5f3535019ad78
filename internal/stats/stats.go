// Package stats attaches the accountability payload the tracker uses to spot stale workers.
package stats

import (
	"fmt"
	"maps"
	"os"
	"runtime"
	"strings"

	"github.com/JakeFAU/fotopedia-grab/internal/item"
)

// FileHasher digests files on disk.
type FileHasher interface {
	HashFile(path string) (string, error)
}

// Config identifies this worker and the code it runs.
type Config struct {
	Downloader string
	Version    string
	// PipelineFile is hashed as the pipeline identity; the running executable when empty.
	PipelineFile string
	LuaScript    string
}

// Annotator stamps items with stats computed once at construction.
type Annotator struct {
	downloader string
	version    string
	id         item.StatsID
}

// New hashes the pipeline and fetch script and returns an Annotator.
func New(cfg Config, hasher FileHasher) (*Annotator, error) {
	if strings.TrimSpace(cfg.Downloader) == "" {
		return nil, fmt.Errorf("downloader name is required")
	}
	if hasher == nil {
		return nil, fmt.Errorf("hasher is required")
	}
	pipeline := cfg.PipelineFile
	if pipeline == "" {
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("locate executable: %w", err)
		}
		pipeline = exe
	}
	pipelineHash, err := hasher.HashFile(pipeline)
	if err != nil {
		return nil, fmt.Errorf("hash pipeline: %w", err)
	}
	var luaHash string
	if cfg.LuaScript != "" {
		if luaHash, err = hasher.HashFile(cfg.LuaScript); err != nil {
			return nil, fmt.Errorf("hash fetch script: %w", err)
		}
	}
	return &Annotator{
		downloader: cfg.Downloader,
		version:    cfg.Version,
		id: item.StatsID{
			PipelineHash: pipelineHash,
			LuaHash:      luaHash,
			GoVersion:    runtime.Version(),
		},
	}, nil
}

// ID returns the hashes stamped on every item.
func (a *Annotator) ID() item.StatsID {
	return a.id
}

// Annotate replaces it.Stats with this worker's payload for the item.
func (a *Annotator) Annotate(it *item.Item) {
	it.Stats = item.Stats{
		Downloader: a.downloader,
		Version:    a.version,
		Items:      []string{it.Identifier},
		Bytes:      map[string]int64{"data": it.ContainerBytes},
		ID:         a.id,
	}
}

// MergeDelivery adds delivery confirmation fields to the item's stats.
func MergeDelivery(it *item.Item, fields map[string]string) {
	if len(fields) == 0 {
		return
	}
	if it.Stats.Delivery == nil {
		it.Stats.Delivery = make(map[string]string, len(fields))
	}
	maps.Copy(it.Stats.Delivery, fields)
}
