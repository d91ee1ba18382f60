package transform

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/conneroisu/wpbuilder/internal/errors"
	"github.com/conneroisu/wpbuilder/internal/logging"
)

// maxExpansions bounds the macros expanded in one root file.
const maxExpansions = 10000

// Macro token syntaxes, tried in order. The first regexp that matches
// anywhere in the content wins.
var macroREs = []*regexp.Regexp{
	regexp.MustCompile(`/\*<<<([a-z_]+)(?: ([^>]*))?>>>\*/`),
	regexp.MustCompile(`<!--<<<([a-z_]+)(?: ([^>]*))?>>>-->`),
	regexp.MustCompile(`'<<<(php_string) ([^>]*)>>>'`),
	regexp.MustCompile(`"<<<(php_string) ([^>]*)>>>"`),
	regexp.MustCompile(`<<<([a-z_]+)(?: ([^>]*))?>>>`),
}

var phpOpenTagRE = regexp.MustCompile(`^<\?php\s*`)

// DependencyTracker is told about every file a root file includes.
type DependencyTracker interface {
	Track(ctx context.Context, dependency, parent string)
}

// FileReader reads an include target.
type FileReader func(path string) ([]byte, error)

// Preprocessor expands <<<command args>>> macros.
type Preprocessor struct {
	logger   logging.Logger
	readFile FileReader
	tracker  DependencyTracker
}

// PreprocessorOption configures a Preprocessor.
type PreprocessorOption func(*Preprocessor)

// WithDependencyTracker registers every successful include with t.
func WithDependencyTracker(t DependencyTracker) PreprocessorOption {
	return func(p *Preprocessor) { p.tracker = t }
}

// WithFileReader replaces os.ReadFile.
func WithFileReader(read FileReader) PreprocessorOption {
	return func(p *Preprocessor) { p.readFile = read }
}

// NewPreprocessor creates a Preprocessor.
func NewPreprocessor(logger logging.Logger, opts ...PreprocessorOption) *Preprocessor {
	p := &Preprocessor{
		logger:   logger.WithComponent("preprocessor"),
		readFile: os.ReadFile,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// expansion is the state of one root file: include_once targets already
// expanded and the root that dependency tracking should rebuild.
type expansion struct {
	root     string
	included map[string]bool
	count    int
}

type macro struct {
	start, end int
	command    string
	argument   string
}

func findMacro(content []byte) (macro, bool) {
	for _, re := range macroREs {
		loc := re.FindSubmatchIndex(content)
		if loc == nil {
			continue
		}
		m := macro{start: loc[0], end: loc[1], command: string(content[loc[2]:loc[3]])}
		if loc[4] >= 0 {
			m.argument = strings.TrimSpace(string(content[loc[4]:loc[5]]))
		}
		return m, true
	}
	return macro{}, false
}

// Process expands every macro of content, read from path. Each call is an
// independent include_once context.
func (p *Preprocessor) Process(ctx context.Context, path string, content []byte) ([]byte, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", path, err)
	}
	exp := &expansion{root: abs, included: make(map[string]bool)}
	return p.expand(ctx, exp, abs, content)
}

func (p *Preprocessor) expand(ctx context.Context, exp *expansion, path string, content []byte) ([]byte, error) {
	for {
		m, ok := findMacro(content)
		if !ok {
			return content, nil
		}

		exp.count++
		if exp.count > maxExpansions {
			return nil, errors.NewContentError("MACRO_LIMIT", "too many macro expansions, recursive include?", nil).
				WithFile(exp.root, "")
		}

		replacement, err := p.run(ctx, exp, path, m)
		if err != nil {
			return nil, err
		}

		next := make([]byte, 0, len(content)-(m.end-m.start)+len(replacement))
		next = append(next, content[:m.start]...)
		next = append(next, replacement...)
		next = append(next, content[m.end:]...)
		if bytes.Equal(next, content) {
			return nil, errors.NewContentError("MACRO_LOOP", fmt.Sprintf("macro %s %s expands to itself", m.command, m.argument), nil).
				WithFile(path, "")
		}
		content = next
	}
}

func (p *Preprocessor) run(ctx context.Context, exp *expansion, path string, m macro) ([]byte, error) {
	target := filepath.Join(filepath.Dir(path), filepath.FromSlash(m.argument))

	switch m.command {
	case "include_raw":
		return p.include(ctx, exp, path, target)

	case "php_string":
		data, err := p.include(ctx, exp, path, target)
		if err != nil {
			return nil, err
		}
		return []byte(PHPString(string(data))), nil

	case "include_once":
		if exp.included[target] {
			return nil, nil
		}
		exp.included[target] = true
		data, err := p.nested(ctx, exp, target)
		if err != nil {
			if errors.IsContentError(err) {
				return nil, err
			}
			p.logger.Error(ctx, err, "unable to include_once", "file", path, "target", target)
			return nil, nil
		}
		return data, nil

	case "eval":
		data, err := p.nested(ctx, exp, target)
		if err != nil {
			p.logger.Error(ctx, err, "unable to eval", "file", path, "target", target)
			return []byte(fmt.Sprintf("/* eval error: %s */", strings.ReplaceAll(err.Error(), "*/", "* /"))), nil
		}
		return []byte("eval(" + PHPString(string(data)) + ");"), nil

	default:
		return nil, errors.NewContentError("UNKNOWN_MACRO", fmt.Sprintf("unknown preprocessor command %s", m.command), nil).
			WithFile(path, "")
	}
}

func (p *Preprocessor) include(ctx context.Context, exp *expansion, path, target string) ([]byte, error) {
	data, err := p.readFile(target)
	if err != nil {
		return nil, errors.NewContentError("INCLUDE_MISSING", fmt.Sprintf("cannot include %s", target), err).
			WithFile(path, "")
	}
	p.track(ctx, exp, target)
	return data, nil
}

// nested reads target, drops its opening php tag and expands it in the
// same context.
func (p *Preprocessor) nested(ctx context.Context, exp *expansion, target string) ([]byte, error) {
	data, err := p.readFile(target)
	if err != nil {
		return nil, err
	}
	p.track(ctx, exp, target)
	return p.expand(ctx, exp, target, StripOpenTag(data))
}

func (p *Preprocessor) track(ctx context.Context, exp *expansion, target string) {
	if p.tracker != nil {
		p.tracker.Track(ctx, target, exp.root)
	}
}

// PHPString quotes s as a single quoted PHP string literal.
func PHPString(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `'`, `\'`)
	return "'" + s + "'"
}

// StripOpenTag removes the leading <?php tag and the whitespace after it.
func StripOpenTag(code []byte) []byte {
	return phpOpenTagRE.ReplaceAll(code, nil)
}
