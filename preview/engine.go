package preview

import (
	"log/slog"
	"sync"

	"github.com/hazyhaar/vorschau/idgen"
	"github.com/hazyhaar/vorschau/scheduler"
	"github.com/hazyhaar/vorschau/wire"
)

// EventRecorder persists session events. audit.Log satisfies it; a nil
// recorder disables persistence.
type EventRecorder interface {
	Record(kind, requestID string, detail map[string]any)
}

// EngineConfig configures an Engine.
type EngineConfig struct {
	// Scheduler runs the compile pipeline. Required.
	Scheduler *scheduler.Scheduler

	// Bridge drives the render surface. Optional; without one the engine
	// only maintains display state.
	Bridge *Bridge

	// Recorder receives session events. Optional.
	Recorder EventRecorder

	// OnUpdate fires after every applied outcome, theme change, and
	// forwarded runtime error. Optional; used by hosts to push refreshes.
	OnUpdate func()

	// NewID mints request ids. Default canonical random UUIDs.
	NewID idgen.Generator

	Logger *slog.Logger
}

func (c *EngineConfig) defaults() {
	if c.NewID == nil {
		c.NewID = idgen.Default
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Engine owns one preview session: each source revision supersedes the
// previous one (cancelled, its result discarded), outcomes move the
// display state machine, and successful renders flow to the surface
// through the bridge. The last good render survives broken edits.
type Engine struct {
	cfg   EngineConfig
	state *State

	mu        sync.Mutex
	currentID string
	theme     string
	closed    bool
}

// NewEngine creates an Engine around an already-running scheduler.
func NewEngine(cfg EngineConfig) *Engine {
	cfg.defaults()
	return &Engine{cfg: cfg, state: NewState(), theme: wire.ThemeLight}
}

// SetSource submits a new source revision and returns its request id. Any
// in-flight revision is cancelled first; its outcome, even if already
// computed, never reaches the display.
func (e *Engine) SetSource(source string) string {
	id := e.cfg.NewID()

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ""
	}
	if prev := e.currentID; prev != "" {
		e.cfg.Scheduler.Cancel(prev)
	}
	e.currentID = id
	e.mu.Unlock()

	e.state.Begin()
	e.record("compile_start", id, map[string]any{"bytes": len(source)})
	e.cfg.Scheduler.Submit(source, e.outcome, scheduler.WithRequestID(id))
	return id
}

// outcome applies one scheduler result. Results for superseded ids are
// dropped here as a second line of defense behind Cancel.
func (e *Engine) outcome(out wire.Outcome) {
	e.mu.Lock()
	if e.closed || out.ID != e.currentID {
		e.mu.Unlock()
		return
	}
	e.currentID = ""
	e.mu.Unlock()

	if out.OK {
		e.state.Succeed(&Render{Code: out.Code, Frontmatter: out.Frontmatter})
		if e.cfg.Bridge != nil {
			e.cfg.Bridge.SetRender(out.Code, out.Frontmatter)
		}
		e.record("compile_success", out.ID, map[string]any{"code_bytes": len(out.Code)})
	} else {
		e.state.Fail(out.Errors)
		e.record("compile_error", out.ID, map[string]any{"errors": len(out.Errors)})
		if len(out.Errors) > 0 {
			e.cfg.Logger.Info("preview: compile failed", "id", out.ID, "first", out.Errors[0].Message)
		}
	}
	e.notify()
}

// SetTheme switches the display theme.
func (e *Engine) SetTheme(theme string) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.theme = theme
	e.mu.Unlock()

	if e.cfg.Bridge != nil {
		e.cfg.Bridge.SetTheme(theme)
	}
	e.record("theme", "", map[string]any{"value": theme})
	e.notify()
}

// SetScrollRatio forwards a viewport move to the surface.
func (e *Engine) SetScrollRatio(ratio float64) {
	if e.cfg.Bridge != nil {
		e.cfg.Bridge.SetScrollRatio(ratio)
	}
}

// HandleRuntimeError is wired as the bridge's runtime-error collaborator:
// the failure is recorded and announced but the session keeps running.
func (e *Engine) HandleRuntimeError(message, componentStack string) {
	e.cfg.Logger.Warn("preview: surface runtime error", "message", message, "components", componentStack)
	e.record("runtime_error", "", map[string]any{"message": message, "components": componentStack})
	e.notify()
}

// Snapshot is a point-in-time view of the session for status surfaces.
type Snapshot struct {
	Phase       string            `json:"phase"`
	Theme       string            `json:"theme"`
	Diagnostics []wire.Diagnostic `json:"diagnostics,omitempty"`
	LastGood    *Render           `json:"-"`
	Height      int               `json:"height,omitempty"`
	Pending     bool              `json:"pending"`
}

// Snapshot returns the current session view.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	theme := e.theme
	pending := e.currentID != ""
	e.mu.Unlock()

	snap := Snapshot{
		Phase:       e.state.Phase().String(),
		Theme:       theme,
		Diagnostics: e.state.Diagnostics(),
		LastGood:    e.state.LastGood(),
		Pending:     pending,
	}
	if e.cfg.Bridge != nil {
		snap.Height = e.cfg.Bridge.Height()
	}
	return snap
}

// State exposes the display state machine.
func (e *Engine) State() *State {
	return e.state
}

// Close tears the session down: the scheduler stops delivering, the
// surface is released, and further inputs are ignored.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.currentID = ""
	e.mu.Unlock()

	e.cfg.Scheduler.Teardown()
	e.record("session_end", "", nil)
	if e.cfg.Bridge != nil {
		return e.cfg.Bridge.Close()
	}
	return nil
}

func (e *Engine) record(kind, requestID string, detail map[string]any) {
	if e.cfg.Recorder != nil {
		e.cfg.Recorder.Record(kind, requestID, detail)
	}
}

func (e *Engine) notify() {
	if e.cfg.OnUpdate != nil {
		e.cfg.OnUpdate()
	}
}
