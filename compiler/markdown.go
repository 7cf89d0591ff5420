package compiler

import (
	"bytes"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	east "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"
	"golang.org/x/net/html"

	"github.com/hazyhaar/vorschau/wire"
)

// mdParser parses the extended-markdown dialect: GFM tables, strikethrough,
// and task-list items on top of CommonMark. Parsers are safe for concurrent
// use, so one instance serves every compile.
var mdParser = goldmark.New(goldmark.WithExtensions(extension.GFM)).Parser()

// lowerMarkdown parses the document body and lowers the AST into a render
// program. Markdown itself cannot fail to parse; every diagnostic comes
// from the embedded component markup layer. baseLine is the 1-based line in
// the original source where the body starts, so positions account for a
// stripped frontmatter block.
func lowerMarkdown(body []byte, baseLine int) (wire.Program, []wire.Diagnostic) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, nil
	}
	doc := mdParser.Parse(text.NewReader(body))
	lw := &lowerer{src: body, lines: lineIndex(body), baseLine: baseLine}
	prog := lw.blockChildren(doc)
	if len(lw.diags) > 0 {
		return nil, lw.diags
	}
	return prog, nil
}

type lowerer struct {
	src      []byte
	lines    []int
	baseLine int
	diags    []wire.Diagnostic
}

func el(tag string, attrs map[string]string, children []wire.Node) wire.Node {
	return wire.Node{Kind: wire.NodeElement, Tag: tag, Attrs: attrs, Children: children}
}

func textNode(s string) wire.Node {
	return wire.Node{Kind: wire.NodeText, Text: s}
}

func (lw *lowerer) blockChildren(n ast.Node) []wire.Node {
	var out []wire.Node
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		out = append(out, lw.block(c)...)
	}
	return out
}

func (lw *lowerer) block(n ast.Node) []wire.Node {
	switch t := n.(type) {
	case *ast.Heading:
		return []wire.Node{el("h"+strconv.Itoa(t.Level), nil, lw.inlineChildren(t))}
	case *ast.Paragraph:
		return []wire.Node{el("p", nil, lw.inlineChildren(t))}
	case *ast.TextBlock:
		// Tight list items wrap their content in a text block, which has
		// no element of its own.
		return lw.inlineChildren(t)
	case *ast.Blockquote:
		return []wire.Node{el("blockquote", nil, lw.blockChildren(t))}
	case *ast.FencedCodeBlock:
		var attrs map[string]string
		if lang := t.Language(lw.src); len(lang) > 0 {
			attrs = map[string]string{"class": "language-" + string(lang)}
		}
		code := wire.Node{Kind: wire.NodeElement, Tag: "code", Attrs: attrs,
			Children: []wire.Node{textNode(lw.segText(t.Lines()))}}
		return []wire.Node{el("pre", nil, []wire.Node{code})}
	case *ast.CodeBlock:
		code := el("code", nil, []wire.Node{textNode(lw.segText(t.Lines()))})
		return []wire.Node{el("pre", nil, []wire.Node{code})}
	case *ast.List:
		tag := "ul"
		var attrs map[string]string
		if t.IsOrdered() {
			tag = "ol"
			if t.Start > 1 {
				attrs = map[string]string{"start": strconv.Itoa(t.Start)}
			}
		}
		return []wire.Node{el(tag, attrs, lw.blockChildren(t))}
	case *ast.ListItem:
		return []wire.Node{el("li", nil, lw.blockChildren(t))}
	case *ast.ThematicBreak:
		return []wire.Node{el("hr", nil, nil)}
	case *ast.HTMLBlock:
		return lw.rawHTML(lw.htmlBlockText(t), t.Lines().At(0).Start)
	case *east.Table:
		return []wire.Node{lw.table(t)}
	default:
		// Unrecognized block kinds contribute their children in place.
		return lw.blockChildren(n)
	}
}

func (lw *lowerer) table(t *east.Table) wire.Node {
	var head, body []wire.Node
	for r := t.FirstChild(); r != nil; r = r.NextSibling() {
		switch row := r.(type) {
		case *east.TableHeader:
			head = append(head, el("tr", nil, lw.tableCells(row, "th")))
		case *east.TableRow:
			body = append(body, el("tr", nil, lw.tableCells(row, "td")))
		}
	}
	children := []wire.Node{el("thead", nil, head)}
	if len(body) > 0 {
		children = append(children, el("tbody", nil, body))
	}
	return el("table", nil, children)
}

func (lw *lowerer) tableCells(row ast.Node, tag string) []wire.Node {
	var out []wire.Node
	for c := row.FirstChild(); c != nil; c = c.NextSibling() {
		var attrs map[string]string
		if cell, ok := c.(*east.TableCell); ok {
			switch cell.Alignment {
			case east.AlignLeft:
				attrs = map[string]string{"align": "left"}
			case east.AlignCenter:
				attrs = map[string]string{"align": "center"}
			case east.AlignRight:
				attrs = map[string]string{"align": "right"}
			}
		}
		out = append(out, el(tag, attrs, lw.inlineChildren(c)))
	}
	return out
}

// inlineChildren lowers an inline container. Component markup arrives as
// separate raw-HTML runs for the opening tag, the enclosed inlines, and the
// closing tag, so open components are tracked on a stack scoped to the
// container: inlines between an open and its close become its children.
// Components never span block boundaries.
func (lw *lowerer) inlineChildren(n ast.Node) []wire.Node {
	var out []wire.Node
	var open []openTag

	attach := func(nodes ...wire.Node) {
		if len(open) > 0 {
			top := &open[len(open)-1]
			top.node.Children = append(top.node.Children, nodes...)
			return
		}
		out = append(out, nodes...)
	}

	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		r, ok := c.(*ast.RawHTML)
		if !ok {
			attach(lw.inline(c)...)
			continue
		}

		raw := lw.segText(r.Segments)
		offset := r.Segments.At(0).Start
		trimmed := strings.TrimSpace(raw)

		switch {
		case strings.HasPrefix(trimmed, "</"):
			name := tagNameFromRaw(trimmed)
			if len(open) > 0 && open[len(open)-1].node.Tag == name {
				node := open[len(open)-1].node
				open = open[:len(open)-1]
				attach(node)
			} else if nodeKindFor(name) == wire.NodeComponent {
				lw.componentDiag(offset, fmt.Sprintf("unexpected closing tag </%s>", name))
			}
			// Stray plain-HTML close tags are dropped with the rest of
			// the raw HTML.
		case componentOpen(trimmed):
			roots, stillOpen, ok := lw.componentRun(raw, offset)
			if !ok {
				continue
			}
			attach(roots...)
			open = append(open, stillOpen...)
		case len(open) > 0:
			// Plain HTML nested inside a component run keeps the
			// element form so structure inside components survives.
			roots, stillOpen, ok := lw.componentRun(raw, offset)
			if ok {
				attach(roots...)
				open = append(open, stillOpen...)
			}
		}
	}

	for len(open) > 0 {
		last := open[len(open)-1]
		lw.componentDiag(last.offset, fmt.Sprintf("unclosed tag <%s>", last.node.Tag))
		open = open[:len(open)-1]
	}
	return out
}

func (lw *lowerer) inline(n ast.Node) []wire.Node {
	switch t := n.(type) {
	case *ast.Text:
		out := []wire.Node{textNode(string(t.Segment.Value(lw.src)))}
		if t.HardLineBreak() {
			out = append(out, el("br", nil, nil))
		} else if t.SoftLineBreak() {
			out = append(out, textNode("\n"))
		}
		return out
	case *ast.String:
		return []wire.Node{textNode(string(t.Value))}
	case *ast.CodeSpan:
		return []wire.Node{el("code", nil, []wire.Node{textNode(lw.inlineText(t))})}
	case *ast.Emphasis:
		tag := "em"
		if t.Level >= 2 {
			tag = "strong"
		}
		return []wire.Node{el(tag, nil, lw.inlineChildren(t))}
	case *ast.Link:
		attrs := map[string]string{"href": string(t.Destination)}
		if len(t.Title) > 0 {
			attrs["title"] = string(t.Title)
		}
		return []wire.Node{el("a", attrs, lw.inlineChildren(t))}
	case *ast.AutoLink:
		url := string(t.URL(lw.src))
		return []wire.Node{el("a", map[string]string{"href": url},
			[]wire.Node{textNode(string(t.Label(lw.src)))})}
	case *ast.Image:
		attrs := map[string]string{"src": string(t.Destination), "alt": lw.inlineText(t)}
		if len(t.Title) > 0 {
			attrs["title"] = string(t.Title)
		}
		return []wire.Node{el("img", attrs, nil)}
	case *east.Strikethrough:
		return []wire.Node{el("del", nil, lw.inlineChildren(t))}
	case *east.TaskCheckBox:
		attrs := map[string]string{"type": "checkbox", "disabled": ""}
		if t.IsChecked {
			attrs["checked"] = ""
		}
		return []wire.Node{el("input", attrs, nil)}
	case *ast.RawHTML:
		return lw.rawHTML(lw.segText(t.Segments), t.Segments.At(0).Start)
	default:
		return lw.inlineChildren(n)
	}
}

// inlineText collects the plain text under a node, for alt text and code
// span content.
func (lw *lowerer) inlineText(n ast.Node) string {
	var b strings.Builder
	var walk func(ast.Node)
	walk = func(n ast.Node) {
		switch t := n.(type) {
		case *ast.Text:
			b.Write(t.Segment.Value(lw.src))
		case *ast.String:
			b.Write(t.Value)
		default:
			for c := n.FirstChild(); c != nil; c = c.NextSibling() {
				walk(c)
			}
		}
	}
	walk(n)
	return b.String()
}

func (lw *lowerer) segText(segs *text.Segments) string {
	var b strings.Builder
	for i := 0; i < segs.Len(); i++ {
		seg := segs.At(i)
		b.Write(seg.Value(lw.src))
	}
	return b.String()
}

func (lw *lowerer) htmlBlockText(t *ast.HTMLBlock) string {
	raw := lw.segText(t.Lines())
	if t.HasClosure() {
		raw += string(t.ClosureLine.Value(lw.src))
	}
	return raw
}

// rawHTML handles embedded markup. A tag name starting with an uppercase
// letter is component markup and is tokenized into component nodes; any
// other raw HTML is dropped — the render runtime interprets only nodes the
// compiler produced, never author-supplied markup.
func (lw *lowerer) rawHTML(raw string, offset int) []wire.Node {
	trimmed := strings.TrimSpace(raw)
	if !componentOpen(trimmed) {
		return nil
	}
	roots, open, ok := lw.componentRun(raw, offset)
	if !ok {
		return nil
	}
	if len(open) > 0 {
		last := open[len(open)-1]
		lw.componentDiag(last.offset, fmt.Sprintf("unclosed tag <%s>", last.node.Tag))
		return nil
	}
	return roots
}

func componentOpen(s string) bool {
	if !strings.HasPrefix(s, "<") {
		return false
	}
	r, _ := utf8.DecodeRuneInString(s[1:])
	return unicode.IsUpper(r)
}

var attrNameRe = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9-]*$`)

// openTag is a component or element whose closing tag has not arrived yet,
// remembered with the source offset of its opening tag for diagnostics.
type openTag struct {
	node   wire.Node
	offset int
}

// componentRun tokenizes one run of component markup. The tokenizer
// provides structure; tag names are recovered from the raw bytes because
// the tokenizer folds them to lowercase. Tags left open at the end of the
// run are returned to the caller, which either treats them as an error
// (block runs must balance) or keeps collecting children (inline runs).
// Violations inside the run produce a positioned diagnostic and ok=false.
func (lw *lowerer) componentRun(raw string, offset int) (roots []wire.Node, open []openTag, ok bool) {
	z := html.NewTokenizer(strings.NewReader(raw))
	pos := 0

	attach := func(n wire.Node) {
		if len(open) > 0 {
			top := &open[len(open)-1]
			top.node.Children = append(top.node.Children, n)
			return
		}
		roots = append(roots, n)
	}

	for {
		tokStart := pos
		tt := z.Next()
		if tt == html.ErrorToken {
			if err := z.Err(); err != io.EOF {
				lw.componentDiag(offset+tokStart, fmt.Sprintf("malformed component markup: %v", err))
				return nil, nil, false
			}
			break
		}
		rawTok := string(z.Raw())
		pos += len(rawTok)

		switch tt {
		case html.StartTagToken, html.SelfClosingTagToken:
			name := tagNameFromRaw(rawTok)
			attrs, bad := attrMap(z.Token().Attr)
			if bad != "" {
				lw.componentDiag(offset+tokStart, fmt.Sprintf("component <%s>: invalid attribute name %q", name, bad))
				return nil, nil, false
			}
			node := wire.Node{Kind: nodeKindFor(name), Tag: name, Attrs: attrs}
			if tt == html.SelfClosingTagToken {
				attach(node)
			} else {
				open = append(open, openTag{node: node, offset: offset + tokStart})
			}
		case html.EndTagToken:
			name := tagNameFromRaw(rawTok)
			if len(open) == 0 || open[len(open)-1].node.Tag != name {
				lw.componentDiag(offset+tokStart, fmt.Sprintf("unexpected closing tag </%s>", name))
				return nil, nil, false
			}
			node := open[len(open)-1].node
			open = open[:len(open)-1]
			attach(node)
		case html.TextToken:
			if txt := string(z.Text()); strings.TrimSpace(txt) != "" {
				attach(textNode(txt))
			}
		}
	}
	return roots, open, true
}

func nodeKindFor(name string) string {
	r, _ := utf8.DecodeRuneInString(name)
	if unicode.IsUpper(r) {
		return wire.NodeComponent
	}
	return wire.NodeElement
}

// tagNameFromRaw reads the case-preserved tag name out of a raw token like
// <Name attr="v"> or </Name>.
func tagNameFromRaw(raw string) string {
	s := strings.TrimPrefix(raw, "</")
	s = strings.TrimPrefix(s, "<")
	end := len(s)
	for i, r := range s {
		if r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '/' || r == '>' {
			end = i
			break
		}
	}
	return s[:end]
}

func attrMap(attrs []html.Attribute) (map[string]string, string) {
	if len(attrs) == 0 {
		return nil, ""
	}
	m := make(map[string]string, len(attrs))
	for _, a := range attrs {
		if !attrNameRe.MatchString(a.Key) {
			return nil, a.Key
		}
		m[a.Key] = a.Val
	}
	return m, ""
}

func (lw *lowerer) componentDiag(offset int, msg string) {
	line, col := lw.lineCol(offset)
	lw.diags = append(lw.diags, wire.Diagnostic{
		Message: msg, Line: line, Column: col, Source: wire.SourceComponent,
	})
}

// lineIndex returns the byte offset of each line start in body.
func lineIndex(body []byte) []int {
	starts := []int{0}
	for i, b := range body {
		if b == '\n' {
			starts = append(starts, i+1)
		}
	}
	return starts
}

// lineCol converts a byte offset in the body into a 1-based line and
// column in the original source, columns counted in runes.
func (lw *lowerer) lineCol(offset int) (line, col int) {
	if offset > len(lw.src) {
		offset = len(lw.src)
	}
	i := sort.Search(len(lw.lines), func(i int) bool { return lw.lines[i] > offset }) - 1
	return i + lw.baseLine, utf8.RuneCount(lw.src[lw.lines[i]:offset]) + 1
}
