package transform

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/conneroisu/wpbuilder/internal/errors"
)

var (
	versionRE     = regexp.MustCompile(`(?m)^ \* Version:[ \t]*(\S*)[ \t\r]*$`)
	titleRE       = regexp.MustCompile(`(?m)^ \* (?:Snippet|Plugin) Name: (.*?)\r?$`)
	scopeRE       = regexp.MustCompile(`(?m)^ \* Scope:[ \t]*([a-z-]*)[ \t\r]*$`)
	markdownH1RE  = regexp.MustCompile(`(?m)^# (.*)\r?\n`)
	headerFieldRE = regexp.MustCompile(`(?m)^ \* ([A-Za-z][A-Za-z ]*?):[ \t]*(.*?)[ \t\r]*$`)
)

// Source is where a piece of package metadata is read from.
type Source interface {
	rank() int
}

// ByName reads the main file of the package with this slug.
type ByName string

// ByCode parses the given main file text.
type ByCode string

// ByHTML reads the first <h1> of a rendered document.
type ByHTML string

// ByMarkdown reads the first "# " heading of a markdown document.
type ByMarkdown string

// Explicit is returned as is.
type Explicit string

func (Explicit) rank() int   { return 0 }
func (ByCode) rank() int     { return 1 }
func (ByName) rank() int     { return 1 }
func (ByHTML) rank() int     { return 2 }
func (ByMarkdown) rank() int { return 3 }

// Scope is the execution scope of a snippet.
type Scope string

const (
	ScopeGlobal    Scope = "global"
	ScopeContent   Scope = "content"
	ScopeFrontEnd  Scope = "front-end"
	ScopeAdmin     Scope = "admin"
	ScopeSingleUse Scope = "single-use"
)

// Scopes lists every valid scope.
var Scopes = []Scope{ScopeGlobal, ScopeContent, ScopeFrontEnd, ScopeAdmin, ScopeSingleUse}

// ParseScope validates s.
func ParseScope(s string) (Scope, error) {
	for _, scope := range Scopes {
		if string(scope) == s {
			return scope, nil
		}
	}
	return "", errors.NewContentError("UNKNOWN_SCOPE", fmt.Sprintf("unknown scope type %q", s), nil)
}

// MainFileReader loads the main file text of a package by slug.
type MainFileReader func(slug string) (string, error)

// Resolver extracts version, title and scope from metadata sources.
type Resolver struct {
	ReadMainFile MainFileReader
}

func (r Resolver) code(src Source) (string, bool, error) {
	switch s := src.(type) {
	case ByCode:
		return string(s), true, nil
	case ByName:
		if r.ReadMainFile == nil {
			return "", false, fmt.Errorf("no main file reader for %s", string(s))
		}
		code, err := r.ReadMainFile(string(s))
		if err != nil {
			return "", false, err
		}
		return code, true, nil
	default:
		return "", false, nil
	}
}

// Version returns the header version of a code source, or an explicit value.
func (r Resolver) Version(src Source) (string, error) {
	if v, ok := src.(Explicit); ok {
		return string(v), nil
	}
	code, ok, err := r.code(src)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", errors.NewInternalError("VERSION_SOURCE", fmt.Sprintf("cannot read a version from %T", src), nil)
	}
	if m := versionRE.FindStringSubmatch(code); m != nil {
		return m[1], nil
	}
	return "", errors.NewContentError("NO_VERSION", "unable to find a version header", nil)
}

// Title returns the first title found, trying sources from the most to the
// least authoritative: explicit, code header, html <h1>, markdown heading.
// It returns "" when no source yields a title.
func (r Resolver) Title(sources ...Source) (string, error) {
	ordered := make([]Source, 0, len(sources))
	for rank := 0; rank <= 3; rank++ {
		for _, src := range sources {
			if src != nil && src.rank() == rank {
				ordered = append(ordered, src)
			}
		}
	}

	var firstErr error
	for _, src := range ordered {
		var title string
		switch s := src.(type) {
		case Explicit:
			title = string(s)
		case ByHTML:
			title = HTMLTitle(string(s))
		case ByMarkdown:
			if m := markdownH1RE.FindStringSubmatch(string(s)); m != nil {
				title = strings.TrimSpace(m[1])
			}
		default:
			code, _, err := r.code(src)
			if err != nil {
				if firstErr == nil {
					firstErr = err
				}
				continue
			}
			if m := titleRE.FindStringSubmatch(code); m != nil {
				title = strings.TrimSpace(m[1])
			}
		}
		if title != "" {
			return title, nil
		}
	}
	return "", firstErr
}

// Scope returns the snippet scope. A code source without a Scope header
// is global; an unknown value is an error.
func (r Resolver) Scope(src Source) (Scope, error) {
	if v, ok := src.(Explicit); ok {
		return ParseScope(string(v))
	}
	code, ok, err := r.code(src)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", errors.NewInternalError("SCOPE_SOURCE", fmt.Sprintf("cannot read a scope from %T", src), nil)
	}
	m := scopeRE.FindStringSubmatch(code)
	if m == nil {
		if strings.Contains(code, " * Scope:") {
			return "", errors.NewContentError("UNKNOWN_SCOPE", "unparsable Scope header", nil)
		}
		return ScopeGlobal, nil
	}
	return ParseScope(m[1])
}

// Header is the comment header of a package main file.
type Header struct {
	Name        string
	Description string
	Version     string
	Author      string
	TextDomain  string
	Scope       string
	Fields      map[string]string
}

// ParseHeader reads every " * Key: value" line of code.
func ParseHeader(code string) Header {
	h := Header{Fields: make(map[string]string)}
	for _, m := range headerFieldRE.FindAllStringSubmatch(code, -1) {
		key, value := m[1], m[2]
		if _, seen := h.Fields[key]; seen {
			continue
		}
		h.Fields[key] = value
		switch key {
		case "Plugin Name", "Snippet Name":
			h.Name = value
		case "Description":
			h.Description = value
		case "Version":
			h.Version = value
		case "Author":
			h.Author = value
		case "Text Domain":
			h.TextDomain = value
		case "Scope":
			h.Scope = value
		}
	}
	return h
}
