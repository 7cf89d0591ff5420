// Package preview glues the compile pipeline to a render surface: a small
// display state machine, a bridge that translates state and prop changes
// into surface command traffic, and an engine that owns the whole session.
package preview

import (
	"sync"

	"github.com/hazyhaar/vorschau/wire"
)

// Phase is the display phase of a preview session.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseCompiling
	PhaseSuccess
	PhaseError
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseCompiling:
		return "compiling"
	case PhaseSuccess:
		return "success"
	case PhaseError:
		return "error"
	default:
		return "unknown"
	}
}

// Render is one successful compile result held for display.
type Render struct {
	Code        string
	Frontmatter map[string]any
}

// State is the preview display state machine. Every transition is legal
// from every phase; illegal inputs (nil result, empty diagnostics) are
// no-ops, never panics. The last successful render is cached out of band:
// a broken edit flips the phase to error but never blanks the preview.
type State struct {
	mu       sync.Mutex
	phase    Phase
	result   *Render
	diags    []wire.Diagnostic
	lastGood *Render
}

// NewState creates a State in the idle phase.
func NewState() *State {
	return &State{}
}

// Begin marks a compile in flight.
func (s *State) Begin() {
	s.mu.Lock()
	s.phase = PhaseCompiling
	s.mu.Unlock()
}

// Succeed installs a new result and unconditionally refreshes the
// last-good cache. A nil result is a no-op.
func (s *State) Succeed(r *Render) {
	if r == nil {
		return
	}
	s.mu.Lock()
	s.phase = PhaseSuccess
	s.result = r
	s.diags = nil
	s.lastGood = r
	s.mu.Unlock()
}

// Fail records diagnostics for the current revision. The last-good cache
// is left untouched. An empty list is a no-op.
func (s *State) Fail(diags []wire.Diagnostic) {
	if len(diags) == 0 {
		return
	}
	s.mu.Lock()
	s.phase = PhaseError
	s.diags = diags
	s.mu.Unlock()
}

// Reset returns to idle and clears everything, including the last-good
// cache.
func (s *State) Reset() {
	s.mu.Lock()
	s.phase = PhaseIdle
	s.result = nil
	s.diags = nil
	s.lastGood = nil
	s.mu.Unlock()
}

// Phase returns the current phase.
func (s *State) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// Result returns the current success result, nil outside the success
// phase.
func (s *State) Result() *Render {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase != PhaseSuccess {
		return nil
	}
	return s.result
}

// Diagnostics returns the current error list, nil outside the error phase.
func (s *State) Diagnostics() []wire.Diagnostic {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase != PhaseError {
		return nil
	}
	return s.diags
}

// LastGood returns the most recent successful render regardless of the
// current phase, nil if none has happened since the last Reset.
func (s *State) LastGood() *Render {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastGood
}
