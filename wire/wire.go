// Package wire defines every payload that crosses an isolation boundary in
// vorschau: compile requests and outcomes exchanged with compilation units,
// and the command/signal protocol exchanged with render surfaces. All types
// are plain data, structurally validated on decode, and carry no behavior
// beyond construction and validation.
package wire

import (
	"errors"
	"time"
)

// Contract constants. These bound every component on both sides of the
// boundary and are part of the protocol, not tunables.
const (
	// MaxSourceSize is the largest source accepted for compilation,
	// counted in characters. The boundary is inclusive.
	MaxSourceSize = 500000

	// CompileTimeout is the per-request deadline enforced by the
	// scheduler.
	CompileTimeout = 30 * time.Second

	// HandshakeTimeout bounds the wait for a surface's Ready signal
	// after its transport comes up.
	HandshakeTimeout = 5 * time.Second

	// DefaultDebounce is the edit-stream debounce window callers are
	// expected to apply upstream of Submit.
	DefaultDebounce = 300 * time.Millisecond

	// FrameInterval is the scroll coalescing quantum: at most one scroll
	// command is delivered to a surface per interval.
	FrameInterval = 16 * time.Millisecond
)

var (
	// ErrUnknownTag reports a frame whose type tag is not part of the
	// protocol. Receivers drop such frames without surfacing them.
	ErrUnknownTag = errors.New("wire: unknown type tag")

	// ErrBadPayload reports a frame whose tag is known but whose fields
	// fail structural validation.
	ErrBadPayload = errors.New("wire: invalid payload")
)

// Diagnostic origin tags.
const (
	SourceFrontmatter = "frontmatter"
	SourceMarkdown    = "markdown"
	SourceComponent   = "component"
	SourceWorker      = "worker"
)

// CompileRequest asks a compilation unit to compile one source revision.
type CompileRequest struct {
	ID     string `json:"id"`
	Source string `json:"source"`
}

// Diagnostic is one compile error. Line and Column are 1-based and zero
// when unknown. Source names the pipeline stage that produced it.
type Diagnostic struct {
	Message string `json:"message"`
	Line    int    `json:"line,omitempty"`
	Column  int    `json:"column,omitempty"`
	Source  string `json:"source,omitempty"`
}

// Outcome is the result of one compile attempt, tagged by request id.
// Success carries the compiled program (Code) and the sanitized
// frontmatter mapping; failure carries an ordered diagnostic list.
type Outcome struct {
	ID          string         `json:"id"`
	OK          bool           `json:"ok"`
	Code        string         `json:"code"`
	Frontmatter map[string]any `json:"frontmatter,omitempty"`
	Errors      []Diagnostic   `json:"errors,omitempty"`
}

// Success builds a success outcome. A nil frontmatter is normalized to an
// empty mapping so consumers never see null metadata on a good compile.
func Success(id, code string, frontmatter map[string]any) Outcome {
	if frontmatter == nil {
		frontmatter = map[string]any{}
	}
	return Outcome{ID: id, OK: true, Code: code, Frontmatter: frontmatter}
}

// Failure builds a failure outcome from one or more diagnostics.
func Failure(id string, errs ...Diagnostic) Outcome {
	return Outcome{ID: id, OK: false, Errors: errs}
}

// Normalize repairs shape loss from a JSON round trip: a success outcome
// decoded from the wire regains its non-nil frontmatter mapping.
func (o *Outcome) Normalize() {
	if o.OK && o.Frontmatter == nil {
		o.Frontmatter = map[string]any{}
	}
}
