package wire

import (
	"encoding/json"
	"fmt"
)

// Node kinds understood by the render runtime. Anything else is skipped
// during interpretation.
const (
	NodeElement   = "element"
	NodeText      = "text"
	NodeComponent = "component"
)

// Program is the compiled form of a document: an ordered node tree the
// render runtime interprets against its element constructors. It is fully
// serializable and carries no references back into the compiler.
type Program []Node

// Node is one entry in a render program. Element nodes carry Tag and
// optionally Attrs and Children; text nodes carry Text; component nodes
// carry Tag (the component name), Attrs and Children.
type Node struct {
	Kind     string            `json:"kind"`
	Tag      string            `json:"tag,omitempty"`
	Text     string            `json:"text,omitempty"`
	Attrs    map[string]string `json:"attrs,omitempty"`
	Children []Node            `json:"children,omitempty"`
}

// EncodeProgram serializes a program into the string form carried by
// Outcome.Code and render commands. An empty program encodes to "".
func EncodeProgram(p Program) (string, error) {
	if len(p) == 0 {
		return "", nil
	}
	data, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("wire: encode program: %w", err)
	}
	return string(data), nil
}

// ParseProgram decodes a program from its string form. "" is the empty
// program, matching the empty-source compile fast path.
func ParseProgram(code string) (Program, error) {
	if code == "" {
		return nil, nil
	}
	var p Program
	if err := json.Unmarshal([]byte(code), &p); err != nil {
		return nil, fmt.Errorf("wire: parse program: %w", err)
	}
	return p, nil
}
