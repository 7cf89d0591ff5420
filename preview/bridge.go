package preview

import (
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/vorschau/wire"
)

// CommandSink is the surface handle a Bridge drives. surface.Surface
// satisfies it; tests substitute recorders.
type CommandSink interface {
	Send(wire.Command) error
	Close() error
}

// BridgeConfig configures a Bridge.
type BridgeConfig struct {
	// OnSize observes content height reports from the surface.
	OnSize func(height int)

	// OnRuntimeError receives surface failures for display. The bridge
	// never tears the surface down over one.
	OnRuntimeError func(message, componentStack string)

	// FrameInterval is the scroll coalescing quantum. Default
	// wire.FrameInterval.
	FrameInterval time.Duration

	Logger *slog.Logger
}

func (c *BridgeConfig) defaults() {
	if c.FrameInterval <= 0 {
		c.FrameInterval = wire.FrameInterval
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Bridge translates preview state and prop changes into surface command
// traffic. Render and theme fully replace the previous command of their
// kind; scroll is coalesced to at most one delivery per frame interval
// with the newest ratio superseding any undelivered one. No command flows
// before the surface's Ready, and the command reflecting the current state
// — not the state captured at spawn — is sent the moment Ready arrives.
type Bridge struct {
	cfg  BridgeConfig
	sink CommandSink

	mu        sync.Mutex
	live      bool
	hasRender bool
	code      string
	meta      map[string]any
	theme     string
	height    int

	frameOpen     bool
	pendingScroll bool
	scrollRatio   float64
	frameTimer    *time.Timer
	closed        bool
}

// NewBridge creates a Bridge over a surface handle.
func NewBridge(sink CommandSink, cfg BridgeConfig) *Bridge {
	cfg.defaults()
	return &Bridge{cfg: cfg, sink: sink, theme: wire.ThemeLight}
}

// SetRender installs the current compiled document, replacing any earlier
// render command.
func (b *Bridge) SetRender(code string, frontmatter map[string]any) {
	b.mu.Lock()
	b.hasRender = true
	b.code = code
	b.meta = frontmatter
	live := b.live
	b.mu.Unlock()
	if live {
		b.send(wire.RenderCommand(code, frontmatter))
	}
}

// SetTheme installs the current theme, replacing any earlier theme
// command.
func (b *Bridge) SetTheme(value string) {
	b.mu.Lock()
	b.theme = value
	live := b.live
	b.mu.Unlock()
	if live {
		b.send(wire.ThemeCommand(value))
	}
}

// SetScrollRatio requests a viewport move. Deliveries are coalesced to one
// per frame interval; the newest ratio always wins.
func (b *Bridge) SetScrollRatio(ratio float64) {
	if ratio < 0 {
		ratio = 0
	}
	if ratio > 1 {
		ratio = 1
	}

	b.mu.Lock()
	b.scrollRatio = ratio
	if !b.live || b.closed {
		b.mu.Unlock()
		return
	}
	if b.frameOpen {
		b.pendingScroll = true
		b.mu.Unlock()
		return
	}
	b.frameOpen = true
	b.frameTimer = time.AfterFunc(b.cfg.FrameInterval, b.frameElapsed)
	b.mu.Unlock()

	b.send(wire.ScrollCommand(ratio))
}

func (b *Bridge) frameElapsed() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	if !b.pendingScroll {
		b.frameOpen = false
		b.mu.Unlock()
		return
	}
	b.pendingScroll = false
	ratio := b.scrollRatio
	b.frameTimer = time.AfterFunc(b.cfg.FrameInterval, b.frameElapsed)
	b.mu.Unlock()

	b.send(wire.ScrollCommand(ratio))
}

// HandleReady completes the handshake: the surface goes live and
// immediately receives the commands reflecting the current document and
// theme. Duplicate calls are no-ops.
func (b *Bridge) HandleReady() {
	b.mu.Lock()
	if b.live || b.closed {
		b.mu.Unlock()
		return
	}
	b.live = true
	hasRender, code, meta, theme := b.hasRender, b.code, b.meta, b.theme
	b.mu.Unlock()

	if hasRender {
		b.send(wire.RenderCommand(code, meta))
	}
	b.send(wire.ThemeCommand(theme))
}

// HandleSize records the surface's reported content height.
func (b *Bridge) HandleSize(height int) {
	b.mu.Lock()
	b.height = height
	b.mu.Unlock()
	if b.cfg.OnSize != nil {
		b.cfg.OnSize(height)
	}
}

// HandleRuntimeError forwards a surface failure without touching the
// surface.
func (b *Bridge) HandleRuntimeError(message, componentStack string) {
	if b.cfg.OnRuntimeError != nil {
		b.cfg.OnRuntimeError(message, componentStack)
	}
}

// Height returns the last reported content height.
func (b *Bridge) Height() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.height
}

// Live reports whether the surface handshake has completed.
func (b *Bridge) Live() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.live
}

// Close stops the bridge and releases the surface.
func (b *Bridge) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.live = false
	if b.frameTimer != nil {
		b.frameTimer.Stop()
	}
	b.mu.Unlock()
	return b.sink.Close()
}

func (b *Bridge) send(cmd wire.Command) {
	if err := b.sink.Send(cmd); err != nil {
		b.cfg.Logger.Warn("preview: command delivery failed", "type", cmd.Type, "error", err)
	}
}
