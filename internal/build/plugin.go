package build

import (
	"archive/zip"
	"bytes"
	"context"
	stderrors "errors"
	"io/fs"
	"path/filepath"
	"time"

	"github.com/spf13/afero"

	"github.com/conneroisu/wpbuilder/internal/errors"
	"github.com/conneroisu/wpbuilder/internal/ignore"
	"github.com/conneroisu/wpbuilder/internal/logging"
	"github.com/conneroisu/wpbuilder/internal/packages"
	"github.com/conneroisu/wpbuilder/internal/vfile"
)

// PluginBuilder zips plugins into build/plugins/<slug>/<slug>_<version>.zip.
type PluginBuilder struct {
	repo      *packages.Repository
	filter    *ignore.Filter
	out       afero.Fs
	dir       string
	publisher Publisher
	logger    logging.Logger
}

// NewPluginBuilder creates a PluginBuilder writing below dir on out.
// publisher may be nil.
func NewPluginBuilder(repo *packages.Repository, filter *ignore.Filter, out afero.Fs, dir string, publisher Publisher, logger logging.Logger) *PluginBuilder {
	return &PluginBuilder{
		repo:      repo,
		filter:    filter,
		out:       out,
		dir:       dir,
		publisher: publisher,
		logger:    logger.WithComponent("build-plugin"),
	}
}

// Build archives the shipped files of slug. Entries are rooted at <slug>/,
// the main file is compiled and markdown documents become html pages.
func (b *PluginBuilder) Build(ctx context.Context, slug string) (*Artifact, error) {
	op := logging.StartOperation(b.logger, "build "+slug)

	version, err := b.repo.Version(slug)
	if err != nil {
		op.EndWithError(ctx, err)
		return nil, err
	}
	title := b.repo.Title(slug)

	archive, err := b.archive(ctx, slug)
	if err != nil {
		op.EndWithError(ctx, err)
		return nil, err
	}

	path := artifactPath(b.dir, packages.KindPlugin, slug, version, ".zip")
	if err := writeArtifact(b.out, slug, path, archive); err != nil {
		op.EndWithError(ctx, err)
		return nil, err
	}
	op.End(ctx)
	b.logger.Info(ctx, "plugin built", "package", slug, "version", version, "artifact", path)

	if b.publisher != nil {
		b.publisher.Publish(ctx, title, version)
	}
	return &Artifact{Kind: packages.KindPlugin, Slug: slug, Title: title, Version: version, Path: path}, nil
}

func (b *PluginBuilder) archive(ctx context.Context, slug string) ([]byte, error) {
	root := b.repo.Root()
	src := b.repo.Fs()
	transform := b.repo.Transform()

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	walkErr := afero.Walk(src, filepath.Join(root, slug), func(path string, info fs.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		f, err := vfile.New(root, path, vfile.EventInitial)
		if err != nil {
			return err
		}
		if f.RelativePath == slug {
			return nil
		}
		if b.filter.ShouldIgnore(ctx, f.RelativePath, info) {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		f.Stat = info
		if info.IsDir() {
			_, err := zw.CreateHeader(&zip.FileHeader{Name: f.RelativePath + "/", Modified: info.ModTime()})
			return err
		}
		if f.Contents, err = afero.ReadFile(src, path); err != nil {
			return err
		}

		shipped, err := transform.Process(ctx, f)
		if err != nil {
			return err
		}
		for _, out := range shipped {
			if err := addEntry(zw, out, info.Mode(), info.ModTime()); err != nil {
				return err
			}
		}
		return nil
	})
	if walkErr != nil {
		var typed *errors.Error
		if stderrors.As(walkErr, &typed) {
			return nil, walkErr
		}
		return nil, errors.NewIOError("ARCHIVE", "archive plugin files", walkErr).WithPackage(slug)
	}

	if err := zw.Close(); err != nil {
		return nil, errors.NewIOError("ARCHIVE", "finish plugin archive", err).WithPackage(slug)
	}
	return buf.Bytes(), nil
}

func addEntry(zw *zip.Writer, f *vfile.File, mode fs.FileMode, modified time.Time) error {
	header := &zip.FileHeader{
		Name:     f.RelativePath,
		Method:   zip.Deflate,
		Modified: modified,
	}
	header.SetMode(mode)
	w, err := zw.CreateHeader(header)
	if err != nil {
		return err
	}
	_, err = w.Write(f.Contents)
	return err
}
