// Package ignore decides which entries of a package tree belong to the
// synced and shipped file set, and how each event is routed.
package ignore

import (
	"context"
	"io/fs"
	"path"
	"strings"

	"github.com/conneroisu/wpbuilder/internal/vfile"
)

// VendorDir is the vendored dependency directory at a package root.
const VendorDir = "vendor"

// Route is the destination decision for one event.
type Route int

const (
	RouteVerbatim Route = iota
	RouteTransformed
	RouteIgnore
	RouteDelete
)

// String returns the log representation of the route.
func (r Route) String() string {
	switch r {
	case RouteVerbatim:
		return "verbatim"
	case RouteTransformed:
		return "transformed"
	case RouteIgnore:
		return "ignore"
	case RouteDelete:
		return "delete"
	default:
		return "unknown"
	}
}

var excludedRoots = map[string]bool{
	"node_modules": true,
	"coverage":     true,
	"tests":        true,
	"test":         true,
}

// Filter applies the package ignore rules to paths of the form
// <package>/<path inside package>.
type Filter struct {
	manifests *Manifests

	// reverseDir and reverseExts name the server compiled artifacts that
	// only ever flow back into the project tree.
	reverseDir  string
	reverseExts map[string]bool
}

// Option configures a Filter.
type Option func(*Filter)

// WithReverseArtifacts excludes <package>/<dir>/*<ext> from the forward flow.
func WithReverseArtifacts(dir string, exts []string) Option {
	return func(f *Filter) {
		f.reverseDir = dir
		f.reverseExts = make(map[string]bool, len(exts))
		for _, ext := range exts {
			f.reverseExts[strings.ToLower(ext)] = true
		}
	}
}

// NewFilter creates a filter backed by the given manifest cache.
func NewFilter(manifests *Manifests, opts ...Option) *Filter {
	f := &Filter{manifests: manifests}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// ShouldIgnore reports whether rel is excluded. A nil stat only rejects
// what the name alone decides.
func (f *Filter) ShouldIgnore(ctx context.Context, rel string, stat fs.FileInfo) bool {
	pkg, inner, found := strings.Cut(rel, "/")
	if !found || pkg == "" || inner == "" {
		return false
	}

	first, _, _ := strings.Cut(inner, "/")
	if excludedRoots[first] {
		return true
	}

	if first == VendorDir {
		return f.ignoreVendor(ctx, pkg, inner, stat)
	}
	return false
}

// IsReverseArtifact reports whether rel is a server compiled localisation file.
func (f *Filter) IsReverseArtifact(rel string) bool {
	if f.reverseDir == "" {
		return false
	}
	_, inner, found := strings.Cut(rel, "/")
	if !found {
		return false
	}
	dir, _, found := strings.Cut(inner, "/")
	if !found || dir != f.reverseDir {
		return false
	}
	return f.reverseExts[strings.ToLower(path.Ext(rel))]
}

func (f *Filter) ignoreVendor(ctx context.Context, pkg, inner string, stat fs.FileInfo) bool {
	deps := f.manifests.Get(ctx, pkg)
	if !deps.Readable {
		return false
	}

	sub := strings.TrimPrefix(strings.TrimPrefix(inner, VendorDir), "/")
	if sub == "" || !strings.Contains(sub, "/") {
		return false
	}
	// Autoloader runtime.
	if sub == "composer" || strings.HasPrefix(sub, "composer/") {
		return false
	}
	if stat == nil {
		return false
	}

	if stat.IsDir() {
		for _, dep := range deps.Names {
			if sub == dep || strings.HasPrefix(sub, dep+"/") || strings.HasPrefix(dep, sub+"/") {
				return false
			}
		}
		return true
	}

	dir := path.Dir(sub)
	for _, dep := range deps.Names {
		if dir == dep || strings.HasPrefix(dir, dep+"/") {
			return false
		}
	}
	return true
}

// Route classifies an event. Main files and markdown docs are transformed.
func (f *Filter) Route(ctx context.Context, file *vfile.File) Route {
	if file.Event.IsRemoval() {
		return RouteDelete
	}
	if f.ShouldIgnore(ctx, file.RelativePath, file.Stat) || f.IsReverseArtifact(file.RelativePath) {
		return RouteIgnore
	}
	if file.IsDir() {
		return RouteVerbatim
	}
	if IsMainFile(file.RelativePath) || file.Ext() == ".md" {
		return RouteTransformed
	}
	return RouteVerbatim
}

// IsMainFile reports whether rel is <slug>/<slug>.php.
func IsMainFile(rel string) bool {
	pkg, inner, found := strings.Cut(rel, "/")
	return found && pkg != "" && inner == pkg+".php"
}

// Invalidate drops the cached manifest of pkg after it changed on disk.
func (f *Filter) Invalidate(pkg string) {
	f.manifests.Forget(pkg)
}

// IsReverseDir reports whether rel is the <package>/<dir> directory holding
// reverse flow artifacts.
func (f *Filter) IsReverseDir(rel string) bool {
	if f.reverseDir == "" {
		return false
	}
	_, inner, found := strings.Cut(rel, "/")
	return found && inner == f.reverseDir
}
