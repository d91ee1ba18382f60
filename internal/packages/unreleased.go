package packages

import (
	"bytes"
	"context"
	"io/fs"
	"regexp"

	"github.com/spf13/afero"

	"github.com/conneroisu/wpbuilder/internal/errors"
)

var unreleasedRE = regexp.MustCompile(`\B@unreleased\b`)

// SinceUnreleased replaces every @unreleased tag of the files of slug with
// "@since <version>" and returns the rewritten files.
func (r *Repository) SinceUnreleased(ctx context.Context, slug string) ([]string, error) {
	version, err := r.Version(slug)
	if err != nil {
		return nil, err
	}
	replacement := []byte("@since " + version)

	var changed []string
	dir := r.pkg(slug).Dir
	err = afero.Walk(r.fs, dir, func(p string, info fs.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if info.IsDir() {
			if info.Name() == "node_modules" || info.Name() == "vendor" {
				return fs.SkipDir
			}
			return nil
		}

		data, err := afero.ReadFile(r.fs, p)
		if err != nil {
			return err
		}
		if !bytes.Contains(data, []byte("@unreleased")) {
			return nil
		}
		rewritten := unreleasedRE.ReplaceAll(data, replacement)
		if bytes.Equal(rewritten, data) {
			return nil
		}
		if err := afero.WriteFile(r.fs, p, rewritten, info.Mode().Perm()); err != nil {
			return err
		}
		changed = append(changed, p)
		return nil
	})
	if err != nil {
		return changed, errors.NewIOError("SINCE_UNRELEASED", "rewrite @unreleased tags", err).WithPackage(slug)
	}
	r.logger.Info(ctx, "tagged unreleased changes", "package", slug, "version", version, "files", len(changed))
	return changed, nil
}
