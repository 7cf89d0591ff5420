// Package compiler turns one source revision into a render program. The
// pipeline is pure: same input, same outcome, no external state, and no
// panic ever escapes Compile. Failures of every kind are reported as
// diagnostics on the outcome, never as errors to the caller.
package compiler

import (
	"fmt"
	"log/slog"
	"unicode/utf8"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/hazyhaar/vorschau/wire"
)

// Config configures a Compiler.
type Config struct {
	// Logger receives sanitization warnings. Compilation itself never
	// logs.
	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Compiler compiles document source into render programs.
type Compiler struct {
	cfg Config
}

// New creates a Compiler.
func New(cfg Config) *Compiler {
	cfg.defaults()
	return &Compiler{cfg: cfg}
}

// counts formats character counts with locale thousands separators.
var counts = message.NewPrinter(language.English)

// Abort carries a positioned failure raised inside a pipeline stage. A
// stage that cannot continue panics with one; Compile converts it into a
// diagnostic on the outcome.
type Abort struct {
	Message string
	Line    int
	Column  int
	Source  string
}

func (a *Abort) Error() string { return a.Message }

// Compile compiles one revision. It never returns an error and never
// panics: anything thrown inside the pipeline is normalized into a
// failure outcome for this id.
func (c *Compiler) Compile(id, source string) (out wire.Outcome) {
	defer func() {
		if v := recover(); v != nil {
			out = wire.Failure(id, normalizePanic(v))
		}
	}()

	// Cleared-document fast path: no parsing at all.
	if source == "" {
		return wire.Success(id, "", nil)
	}

	if n := utf8.RuneCountInString(source); n > wire.MaxSourceSize {
		return wire.Failure(id, wire.Diagnostic{
			Message: counts.Sprintf("Source is %d characters, exceeding the %d character limit", n, wire.MaxSourceSize),
		})
	}

	fm := splitFrontmatter(source)

	meta, diag := parseFrontmatter(fm)
	if diag != nil {
		return wire.Failure(id, *diag)
	}

	prog, diags := lowerMarkdown([]byte(fm.body), fm.bodyLine)
	if len(diags) > 0 {
		return wire.Failure(id, diags...)
	}

	code, err := wire.EncodeProgram(prog)
	if err != nil {
		return wire.Failure(id, wire.Diagnostic{Message: err.Error(), Source: wire.SourceMarkdown})
	}

	return wire.Success(id, code, c.Sanitize(meta))
}

// Compile runs a default-configured Compiler. Hosts that want their own
// logger construct one with New.
func Compile(id, source string) wire.Outcome {
	return New(Config{}).Compile(id, source)
}

// normalizePanic maps a recovered value onto a diagnostic. Positioned
// aborts keep their fields, errors and strings contribute their message
// verbatim, anything else is stringified.
func normalizePanic(v any) wire.Diagnostic {
	switch t := v.(type) {
	case *Abort:
		return wire.Diagnostic{Message: t.Message, Line: t.Line, Column: t.Column, Source: t.Source}
	case error:
		return wire.Diagnostic{Message: t.Error()}
	case string:
		return wire.Diagnostic{Message: t}
	default:
		return wire.Diagnostic{Message: fmt.Sprint(t)}
	}
}
