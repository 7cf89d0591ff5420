// Package render interprets compiled render programs into sanitized HTML.
//
// This is the runtime that executes untrusted compiled content, so it is
// built deny-by-default: only whitelisted node kinds and element tags are
// interpreted, everything it emits passes through a bluemonday policy, and
// interpretation depth is bounded. A hostile program can draw markup and
// nothing else.
package render

import (
	"fmt"
	"html"
	"sort"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	"github.com/hazyhaar/vorschau/wire"
)

// ComponentFunc renders one component instance from its attributes and
// already-rendered child HTML.
type ComponentFunc func(attrs map[string]string, children string) string

// Config configures a Renderer.
type Config struct {
	// Components maps component names to renderers. With a nil map every
	// component renders generically as a tagged container; with a
	// non-nil map an unknown component is a runtime error.
	Components map[string]ComponentFunc

	// LineHeight is the height contribution of one block, in pixels.
	// Default 24.
	LineHeight int

	// Padding is added to the computed content height. Default 32.
	Padding int

	// Viewport is the visible height used to resolve scroll ratios.
	// Default 600.
	Viewport int

	// MaxDepth bounds node nesting during interpretation. Default 64.
	MaxDepth int
}

func (c *Config) defaults() {
	if c.LineHeight <= 0 {
		c.LineHeight = 24
	}
	if c.Padding <= 0 {
		c.Padding = 32
	}
	if c.Viewport <= 0 {
		c.Viewport = 600
	}
	if c.MaxDepth <= 0 {
		c.MaxDepth = 64
	}
}

// RuntimeError is a failure raised while interpreting a program. It
// carries the component path at the failure point and never tears the
// surface down.
type RuntimeError struct {
	Message        string
	ComponentStack string
}

func (e *RuntimeError) Error() string { return e.Message }

// Doc is one rendered document.
type Doc struct {
	HTML   string
	Height int
}

// elementTags is the whitelist of interpretable element tags. Anything
// else in an element node is skipped, children included.
var elementTags = map[string]bool{
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"p": true, "br": true, "hr": true, "em": true, "strong": true,
	"del": true, "code": true, "pre": true, "blockquote": true,
	"ul": true, "ol": true, "li": true,
	"table": true, "thead": true, "tbody": true, "tr": true, "th": true, "td": true,
	"a": true, "img": true, "span": true, "div": true, "input": true,
}

var voidTags = map[string]bool{"br": true, "hr": true, "img": true, "input": true}

// blockTags contribute to the content height model.
var blockTags = map[string]bool{
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"p": true, "hr": true, "pre": true, "blockquote": true, "li": true, "tr": true,
}

// Renderer interprets programs. Safe for concurrent use.
type Renderer struct {
	cfg    Config
	policy *bluemonday.Policy
}

// New creates a Renderer with its sanitization policy.
func New(cfg Config) *Renderer {
	cfg.defaults()
	p := bluemonday.NewPolicy()
	for tag := range elementTags {
		p.AllowElements(tag)
	}
	p.AllowAttrs("href", "title").OnElements("a")
	p.AllowAttrs("src", "alt", "title").OnElements("img")
	p.AllowAttrs("class").OnElements("code", "div", "span")
	p.AllowAttrs("start").OnElements("ol")
	p.AllowAttrs("align").OnElements("th", "td")
	p.AllowAttrs("type", "checked", "disabled").OnElements("input")
	p.AllowDataAttributes()
	p.AllowURLSchemes("http", "https", "mailto", "data")
	p.RequireNoFollowOnLinks(true)
	return &Renderer{cfg: cfg, policy: p}
}

// Render interprets a program into a sanitized, themed document. The
// returned error is always a *RuntimeError.
func (r *Renderer) Render(p wire.Program, theme string, frontmatter map[string]any) (Doc, error) {
	in := &interp{r: r}
	body, err := in.nodes(p, 0, nil)
	if err != nil {
		return Doc{}, err
	}

	var b strings.Builder
	fmt.Fprintf(&b, `<div class="preview preview-%s">`, html.EscapeString(themeClass(theme)))
	if title, ok := frontmatter["title"].(string); ok && title != "" {
		fmt.Fprintf(&b, `<h1 class="doc-title">%s</h1>`, html.EscapeString(title))
		in.blocks++
	}
	b.WriteString(body)
	b.WriteString(`</div>`)

	return Doc{
		HTML:   r.policy.Sanitize(b.String()),
		Height: in.blocks*r.cfg.LineHeight + r.cfg.Padding,
	}, nil
}

// ScrollOffset resolves a normalized scroll ratio into a pixel offset for
// the rendered document. Ratios are clamped to [0,1].
func (r *Renderer) ScrollOffset(doc Doc, ratio float64) int {
	if ratio < 0 {
		ratio = 0
	}
	if ratio > 1 {
		ratio = 1
	}
	span := doc.Height - r.cfg.Viewport
	if span <= 0 {
		return 0
	}
	return int(ratio * float64(span))
}

func themeClass(theme string) string {
	if theme == wire.ThemeDark {
		return wire.ThemeDark
	}
	return wire.ThemeLight
}

type interp struct {
	r      *Renderer
	blocks int
}

func (in *interp) nodes(nodes []wire.Node, depth int, stack []string) (string, error) {
	var b strings.Builder
	for _, n := range nodes {
		s, err := in.node(n, depth, stack)
		if err != nil {
			return "", err
		}
		b.WriteString(s)
	}
	return b.String(), nil
}

func (in *interp) node(n wire.Node, depth int, stack []string) (string, error) {
	if depth > in.r.cfg.MaxDepth {
		return "", &RuntimeError{
			Message:        fmt.Sprintf("maximum render depth %d exceeded", in.r.cfg.MaxDepth),
			ComponentStack: strings.Join(stack, " > "),
		}
	}

	switch n.Kind {
	case wire.NodeText:
		return html.EscapeString(n.Text), nil

	case wire.NodeElement:
		if !elementTags[n.Tag] {
			return "", nil
		}
		if blockTags[n.Tag] {
			in.blocks++
		}
		var b strings.Builder
		b.WriteString("<")
		b.WriteString(n.Tag)
		writeAttrs(&b, n.Attrs)
		if voidTags[n.Tag] {
			b.WriteString("/>")
			return b.String(), nil
		}
		b.WriteString(">")
		children, err := in.nodes(n.Children, depth+1, stack)
		if err != nil {
			return "", err
		}
		b.WriteString(children)
		b.WriteString("</")
		b.WriteString(n.Tag)
		b.WriteString(">")
		return b.String(), nil

	case wire.NodeComponent:
		stack = append(stack, n.Tag)
		in.blocks++
		children, err := in.nodes(n.Children, depth+1, stack)
		if err != nil {
			return "", err
		}
		if in.r.cfg.Components != nil {
			fn, ok := in.r.cfg.Components[n.Tag]
			if !ok {
				return "", &RuntimeError{
					Message:        fmt.Sprintf("unknown component <%s>", n.Tag),
					ComponentStack: strings.Join(stack, " > "),
				}
			}
			return fn(n.Attrs, children), nil
		}
		var b strings.Builder
		fmt.Fprintf(&b, `<div class="component" data-component="%s"`, html.EscapeString(n.Tag))
		writeDataAttrs(&b, n.Attrs)
		b.WriteString(">")
		b.WriteString(children)
		b.WriteString("</div>")
		return b.String(), nil

	default:
		// Unrecognized node kinds are skipped, never an error.
		return "", nil
	}
}

func writeAttrs(b *strings.Builder, attrs map[string]string) {
	for _, k := range sortedKeys(attrs) {
		if !attrNameOK(k) {
			continue
		}
		fmt.Fprintf(b, ` %s="%s"`, k, html.EscapeString(attrs[k]))
	}
}

func writeDataAttrs(b *strings.Builder, attrs map[string]string) {
	for _, k := range sortedKeys(attrs) {
		if !attrNameOK(k) {
			continue
		}
		fmt.Fprintf(b, ` data-prop-%s="%s"`, strings.ToLower(k), html.EscapeString(attrs[k]))
	}
}

// attrNameOK rejects attribute names that could not have come from the
// compiler. Programs arrive over a wire and are untrusted; a hostile name
// must not reach the markup even though the sanitizer runs afterwards.
func attrNameOK(name string) bool {
	if name == "" {
		return false
	}
	for i, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case i > 0 && (r == '-' || (r >= '0' && r <= '9')):
		default:
			return false
		}
	}
	return true
}

// sortedKeys keeps attribute order stable so rendering is deterministic.
func sortedKeys(m map[string]string) []string {
	if len(m) == 0 {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
