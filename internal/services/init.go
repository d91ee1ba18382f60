package services

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/conneroisu/wpbuilder/internal/config"
	"github.com/conneroisu/wpbuilder/internal/errors"
	"github.com/conneroisu/wpbuilder/internal/logging"
)

// InitService prepares a project directory.
type InitService struct {
	fs     afero.Fs
	logger logging.Logger
}

// NewInitService creates an InitService working on fsys.
func NewInitService(fsys afero.Fs, logger logging.Logger) *InitService {
	return &InitService{fs: fsys, logger: logger.WithComponent("init")}
}

// InitOptions contains options for project initialization
type InitOptions struct {
	ProjectDir string
	ServerRoot string
	Publish    bool
	PublishURL string
	// PublishAuth is the secret path segment of the publish endpoint.
	PublishAuth string
}

// InitResult lists what Init changed.
type InitResult struct {
	ConfigPath    string
	ConfigCreated bool
	Directories   []string
	Ignored       []string
}

type gitignoreEntry struct {
	title string
	line  string
}

// Init creates the source directories, a configuration file when none
// exists yet and the .gitignore entries of the generated files. Running it
// twice changes nothing.
func (s *InitService) Init(ctx context.Context, opts InitOptions) (*InitResult, error) {
	dir := opts.ProjectDir
	if dir == "" {
		dir = "."
	}

	cfg := config.Default()
	cfg.Server.Root = opts.ServerRoot
	cfg.Publish.Use = opts.Publish
	cfg.Publish.URL = opts.PublishURL
	cfg.Publish.Auth = opts.PublishAuth
	if result := config.Validate(cfg); result.HasErrors() {
		return nil, errors.NewConfigError("INIT_OPTIONS", result.String())
	}

	result := &InitResult{ConfigPath: filepath.Join(dir, config.FileName)}
	for _, d := range []string{cfg.PluginsSource(), cfg.SnippetsSource()} {
		p := filepath.Join(dir, d)
		if err := s.fs.MkdirAll(p, 0o755); err != nil {
			return nil, errors.NewIOError("INIT_DIR", "create "+p, err)
		}
		result.Directories = append(result.Directories, p)
	}

	created, err := s.writeConfig(result.ConfigPath, cfg)
	if err != nil {
		return nil, err
	}
	result.ConfigCreated = created
	if created {
		s.logger.Info(ctx, "configuration written", "file", result.ConfigPath)
	} else {
		s.logger.Info(ctx, "configuration already exists", "file", result.ConfigPath)
	}

	entries := []gitignoreEntry{
		{"# local files", "/" + config.FileName},
		{"# tmp files", "/debug.log"},
		{"# generated files", "/" + strings.Trim(filepath.ToSlash(cfg.Build.Dir), "/")},
	}
	for _, e := range entries {
		added, err := s.addGitignore(filepath.Join(dir, ".gitignore"), e)
		if err != nil {
			return nil, err
		}
		if added {
			result.Ignored = append(result.Ignored, e.line)
		}
	}
	return result, nil
}

func (s *InitService) writeConfig(path string, cfg *config.Config) (bool, error) {
	exists, err := afero.Exists(s.fs, path)
	if err != nil {
		return false, errors.NewIOError("INIT_CONFIG", "stat "+path, err)
	}
	if exists {
		return false, nil
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return false, errors.NewInternalError("INIT_CONFIG", "encode configuration", err)
	}
	if err := enc.Close(); err != nil {
		return false, errors.NewInternalError("INIT_CONFIG", "encode configuration", err)
	}
	if err := afero.WriteFile(s.fs, path, buf.Bytes(), 0o644); err != nil {
		return false, errors.NewIOError("INIT_CONFIG", "write "+path, err)
	}
	return true, nil
}

// addGitignore adds e.line below its title, appending the title when the
// file does not have it yet.
func (s *InitService) addGitignore(path string, e gitignoreEntry) (bool, error) {
	data, err := afero.ReadFile(s.fs, path)
	if err != nil {
		exists, statErr := afero.Exists(s.fs, path)
		if statErr != nil || exists {
			return false, errors.NewIOError("GITIGNORE", "read "+path, err)
		}
		data = nil
	}

	content := strings.ReplaceAll(string(data), "\r\n", "\n")
	lines := strings.Split(content, "\n")
	if content == "" {
		lines = nil
	}
	for _, l := range lines {
		if strings.TrimSpace(l) == e.line {
			return false, nil
		}
	}

	title := -1
	for i, l := range lines {
		if strings.TrimSpace(l) == e.title {
			title = i
			break
		}
	}

	if title >= 0 {
		// Insert after the last line of the title block.
		at := title + 1
		for at < len(lines) && strings.TrimSpace(lines[at]) != "" {
			at++
		}
		lines = append(lines[:at], append([]string{e.line}, lines[at:]...)...)
	} else {
		if n := len(lines); n > 0 && lines[n-1] == "" {
			lines = lines[:n-1]
		}
		if len(lines) > 0 {
			lines = append(lines, "")
		}
		lines = append(lines, e.title, e.line, "")
	}

	out := strings.Join(lines, "\n")
	if !strings.HasSuffix(out, "\n") {
		out += "\n"
	}
	if err := afero.WriteFile(s.fs, path, []byte(out), 0o644); err != nil {
		return false, errors.NewIOError("GITIGNORE", "write "+path, err)
	}
	return true, nil
}
