package ignore

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"

	"github.com/spf13/afero"
	"golang.org/x/sync/singleflight"

	"github.com/conneroisu/wpbuilder/internal/logging"
)

// ManifestFile is the per-package dependency manifest name.
const ManifestFile = "composer.lock"

type composerLock struct {
	Packages []struct {
		Name string `json:"name"`
	} `json:"packages"`
}

// Dependencies is the parsed runtime dependency list of one package.
// Readable is false when the manifest is missing or malformed.
type Dependencies struct {
	Names    []string
	Readable bool
}

// Manifests memoises dependency manifests per package. Concurrent misses
// for the same package share one read.
type Manifests struct {
	fs     afero.Fs
	root   string
	logger logging.Logger

	mu    sync.RWMutex
	cache map[string]Dependencies
	group singleflight.Group
}

// NewManifests reads manifests from <root>/<package>/composer.lock on fs.
func NewManifests(fs afero.Fs, root string, logger logging.Logger) *Manifests {
	return &Manifests{
		fs:     fs,
		root:   root,
		logger: logger.WithComponent("manifests"),
		cache:  make(map[string]Dependencies),
	}
}

// Get returns the dependencies of pkg, reading the manifest on first use.
func (m *Manifests) Get(ctx context.Context, pkg string) Dependencies {
	m.mu.RLock()
	deps, ok := m.cache[pkg]
	m.mu.RUnlock()
	if ok {
		return deps
	}

	v, _, _ := m.group.Do(pkg, func() (interface{}, error) {
		deps := m.read(ctx, pkg)
		m.mu.Lock()
		m.cache[pkg] = deps
		m.mu.Unlock()
		return deps, nil
	})
	return v.(Dependencies)
}

// Forget drops the cached manifest of pkg so the next Get reads it again.
func (m *Manifests) Forget(pkg string) {
	m.mu.Lock()
	delete(m.cache, pkg)
	m.mu.Unlock()
}

func (m *Manifests) read(ctx context.Context, pkg string) Dependencies {
	file := filepath.Join(m.root, pkg, ManifestFile)
	data, err := afero.ReadFile(m.fs, file)
	if err != nil {
		m.logger.Debug(ctx, "no dependency manifest, shipping vendor as is", "package", pkg)
		return Dependencies{}
	}

	var lock composerLock
	if err := json.Unmarshal(data, &lock); err != nil {
		m.logger.Warn(ctx, err, "unreadable dependency manifest, shipping vendor as is", "package", pkg, "file", file)
		return Dependencies{}
	}

	names := make([]string, 0, len(lock.Packages))
	for _, p := range lock.Packages {
		if p.Name != "" {
			names = append(names, p.Name)
		}
	}
	return Dependencies{Names: names, Readable: true}
}
