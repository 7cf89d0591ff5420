package compiler

import (
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/vorschau/wire"
)

// fmSplit is the result of separating a leading YAML block from the body.
// Line numbers are 1-based positions in the original source, so diagnostics
// from either half can point at the line the author actually wrote.
type fmSplit struct {
	block     string
	exists    bool
	body      string
	blockLine int
	bodyLine  int
}

// splitFrontmatter separates a leading frontmatter block: the lines between
// a first line consisting solely of --- and the next such line. An opening
// delimiter with no closing one is not a block; the whole source is body.
func splitFrontmatter(source string) fmSplit {
	lines := strings.Split(source, "\n")
	if strings.TrimRight(lines[0], "\r") != "---" {
		return fmSplit{body: source, bodyLine: 1}
	}
	for i := 1; i < len(lines); i++ {
		if strings.TrimRight(lines[i], "\r") != "---" {
			continue
		}
		return fmSplit{
			block:     strings.Join(lines[1:i], "\n"),
			exists:    true,
			body:      strings.Join(lines[i+1:], "\n"),
			blockLine: 2,
			bodyLine:  i + 2,
		}
	}
	return fmSplit{body: source, bodyLine: 1}
}

// parseFrontmatter parses the block into a mapping. Absent or empty blocks
// are an empty mapping, never an error.
func parseFrontmatter(fm fmSplit) (map[string]any, *wire.Diagnostic) {
	if !fm.exists || strings.TrimSpace(fm.block) == "" {
		return map[string]any{}, nil
	}
	var meta map[string]any
	if err := yaml.Unmarshal([]byte(fm.block), &meta); err != nil {
		d := &wire.Diagnostic{
			Message: "frontmatter: " + yamlErrorText(err),
			Source:  wire.SourceFrontmatter,
		}
		if line, ok := yamlErrorLine(err); ok {
			d.Line = line + fm.blockLine - 1
		}
		return nil, d
	}
	if meta == nil {
		meta = map[string]any{}
	}
	return meta, nil
}

var yamlLineRe = regexp.MustCompile(`line (\d+):`)

// yamlErrorLine extracts the 1-based line number yaml.v3 embeds in its
// error text. yaml.v3 exposes no structured position, so the message prefix
// is the only source.
func yamlErrorLine(err error) (int, bool) {
	m := yamlLineRe.FindStringSubmatch(err.Error())
	if m == nil {
		return 0, false
	}
	n := 0
	for _, c := range m[1] {
		n = n*10 + int(c-'0')
	}
	if n <= 0 {
		return 0, false
	}
	return n, true
}

// yamlErrorText strips the "yaml: " prefix so the diagnostic reads as a
// frontmatter problem, not a library identifier.
func yamlErrorText(err error) string {
	return strings.TrimPrefix(err.Error(), "yaml: ")
}
