// Package transform holds the content transforms applied to package files
// on their way to a destination: documentation rendering, the macro
// preprocessor and header metadata extraction.
package transform

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	gmhtml "github.com/yuin/goldmark/renderer/html"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

const bannerFormat = `<div><p style="display: inline-block; margin: 0">Version %s</p>` +
	`<details style="display: inline-block; margin-left:1em;"><summary><h1>Documentation</h1></summary>%s</details></div>`

var pageTemplate = template.Must(template.New("page").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>{{.Title}}</title>
<style>
.markdown-body { box-sizing: border-box; min-width: 200px; max-width: 980px; margin: 0 auto; padding: 45px; }
@media (max-width: 767px) { .markdown-body { padding: 15px; } }
</style>
</head>
<body>
<article class="markdown-body">
{{.Body}}
</article>
</body>
</html>
`))

// DocRenderer turns package markdown into HTML.
type DocRenderer struct {
	md goldmark.Markdown
}

// NewDocRenderer creates a GitHub flavoured markdown renderer. Raw HTML in
// the markdown is kept.
func NewDocRenderer() *DocRenderer {
	return &DocRenderer{
		md: goldmark.New(
			goldmark.WithExtensions(extension.GFM),
			goldmark.WithRendererOptions(gmhtml.WithUnsafe()),
		),
	}
}

// Fragment renders markdown to an HTML fragment.
func (r *DocRenderer) Fragment(markdown []byte) ([]byte, error) {
	var buf bytes.Buffer
	if err := r.md.Convert(markdown, &buf); err != nil {
		return nil, fmt.Errorf("render markdown: %w", err)
	}
	return buf.Bytes(), nil
}

// Banner wraps a rendered fragment with the version line and the
// collapsible documentation section.
func Banner(version string, fragment []byte) []byte {
	return []byte(fmt.Sprintf(bannerFormat, version, fragment))
}

// Doc renders markdown and wraps it in the version banner. It also returns
// the title found in the rendered fragment.
func (r *DocRenderer) Doc(version string, markdown []byte) (doc []byte, title string, err error) {
	fragment, err := r.Fragment(markdown)
	if err != nil {
		return nil, "", err
	}
	return Banner(version, fragment), HTMLTitle(string(fragment)), nil
}

// Page renders a standalone HTML document titled title around body.
func (r *DocRenderer) Page(title string, body []byte) ([]byte, error) {
	var buf bytes.Buffer
	err := pageTemplate.Execute(&buf, struct {
		Title string
		Body  template.HTML
	}{Title: title, Body: template.HTML(body)})
	if err != nil {
		return nil, fmt.Errorf("render page %s: %w", title, err)
	}
	return buf.Bytes(), nil
}

// HTMLTitle returns the text of the first <h1> of an HTML document or
// fragment, or "" when there is none.
func HTMLTitle(document string) string {
	root, err := html.Parse(strings.NewReader(document))
	if err != nil {
		return ""
	}
	h1 := findFirst(root, atom.H1)
	if h1 == nil {
		return ""
	}
	var sb strings.Builder
	collectText(h1, &sb)
	return strings.TrimSpace(sb.String())
}

func findFirst(n *html.Node, a atom.Atom) *html.Node {
	if n.Type == html.ElementNode && n.DataAtom == a {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findFirst(c, a); found != nil {
			return found
		}
	}
	return nil
}

func collectText(n *html.Node, sb *strings.Builder) {
	if n.Type == html.TextNode {
		sb.WriteString(n.Data)
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectText(c, sb)
	}
}
