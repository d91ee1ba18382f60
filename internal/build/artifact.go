// Package build produces the release artifacts of packages: a zip archive
// per plugin and a Code Snippets import file per snippet.
package build

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"github.com/conneroisu/wpbuilder/internal/errors"
	"github.com/conneroisu/wpbuilder/internal/logging"
	"github.com/conneroisu/wpbuilder/internal/packages"
)

// Artifact describes one built release file.
type Artifact struct {
	Kind    packages.Kind
	Slug    string
	Title   string
	Version string
	// Path is the artifact location inside the output filesystem.
	Path string
}

// Publisher is notified of every built version.
type Publisher interface {
	Publish(ctx context.Context, title, version string)
}

// Target builds the artifact of one package.
type Target interface {
	Build(ctx context.Context, slug string) (*Artifact, error)
}

// Lister enumerates the packages of a repository.
type Lister interface {
	List(ctx context.Context) ([]packages.Package, error)
}

// DefaultConcurrency bounds the packages built at once.
const DefaultConcurrency = 4

// All builds every package of repo with target and returns the artifacts
// sorted by slug. A failing package does not stop the others; each failure
// is added to collector on its own.
func All(ctx context.Context, repo Lister, target Target, concurrency int, collector *errors.ErrorCollector, logger logging.Logger) []*Artifact {
	pkgs, err := repo.List(ctx)
	if err != nil {
		collector.Add(err)
		return nil
	}
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}

	artifacts := make([]*Artifact, len(pkgs))

	var g errgroup.Group
	g.SetLimit(concurrency)
	for i, pkg := range pkgs {
		i, pkg := i, pkg
		g.Go(func() error {
			artifact, err := target.Build(ctx, pkg.Slug)
			if err != nil {
				logger.Error(ctx, err, "build failed", "package", pkg.Slug)
				collector.Add(err)
				return nil
			}
			artifacts[i] = artifact
			return nil
		})
	}
	_ = g.Wait()

	built := make([]*Artifact, 0, len(artifacts))
	for _, a := range artifacts {
		if a != nil {
			built = append(built, a)
		}
	}
	sort.Slice(built, func(i, j int) bool { return built[i].Slug < built[j].Slug })
	return built
}

// artifactPath returns <dir>/<kind>s/<slug>/<slug>_<version><suffix>.
func artifactPath(dir string, kind packages.Kind, slug, version, suffix string) string {
	return filepath.Join(dir, string(kind)+"s", slug, fmt.Sprintf("%s_%s%s", slug, version, suffix))
}

func writeArtifact(out afero.Fs, slug, path string, data []byte) error {
	if err := out.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.NewIOError("ARTIFACT_DIR", "create artifact directory", err).WithPackage(slug)
	}
	if err := afero.WriteFile(out, path, data, 0o644); err != nil {
		return errors.NewIOError("ARTIFACT_WRITE", "write artifact "+path, err).WithPackage(slug)
	}
	return nil
}
