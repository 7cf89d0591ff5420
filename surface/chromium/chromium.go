// Package chromium is an optional render-surface backend that draws inside
// a real headless-Chrome page instead of the default subprocess renderer,
// for hosts that want a true browser sandbox. Documents reach the page as
// data: URLs carrying the deny-all content policy; nothing is served and
// the page never navigates anywhere else.
//
// Never the default; selected by host configuration.
package chromium

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"github.com/hazyhaar/vorschau/render"
	"github.com/hazyhaar/vorschau/wire"
)

// Config configures the chromium backend.
type Config struct {
	// RemoteURL is the WebSocket URL of an external Chrome instance.
	// Empty launches a local headless one.
	RemoteURL string

	// Renderer interprets programs before they reach the page. Nil takes
	// the default.
	Renderer *render.Renderer

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.Renderer == nil {
		c.Renderer = render.New(render.Config{})
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Surface drives one headless-Chrome page as a rendering surface.
type Surface struct {
	cfg     Config
	browser *rod.Browser
	lnch    *launcher.Launcher
	page    *rod.Page

	mu          sync.Mutex
	program     wire.Program
	frontmatter map[string]any
	theme       string
}

// Start connects to Chrome and opens a blank page.
func Start(cfg Config) (*Surface, error) {
	cfg.defaults()

	s := &Surface{cfg: cfg, theme: wire.ThemeLight}

	wsURL := cfg.RemoteURL
	if wsURL == "" {
		l := launcher.New().Headless(true)
		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("chromium: launch: %w", err)
		}
		s.lnch = l
		wsURL = u
	}

	b := rod.New().ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		s.cleanup()
		return nil, fmt.Errorf("chromium: connect: %w", err)
	}
	s.browser = b

	page, err := b.Page(proto.TargetCreateTarget{URL: ""})
	if err != nil {
		s.cleanup()
		return nil, fmt.Errorf("chromium: open page: %w", err)
	}
	s.page = page

	cfg.Logger.Info("chromium: surface started", "remote", cfg.RemoteURL != "")
	return s, nil
}

// Render interprets the program, loads it into the page, and returns the
// measured content height. Interpretation failures come back as
// *render.RuntimeError; the page keeps its previous document.
func (s *Surface) Render(ctx context.Context, p wire.Program, frontmatter map[string]any) (int, error) {
	s.mu.Lock()
	s.program = p
	s.frontmatter = frontmatter
	theme := s.theme
	s.mu.Unlock()
	return s.load(ctx, p, theme, frontmatter)
}

// SetTheme re-renders the current document under a new theme.
func (s *Surface) SetTheme(ctx context.Context, theme string) (int, error) {
	s.mu.Lock()
	s.theme = theme
	p, fm := s.program, s.frontmatter
	s.mu.Unlock()
	return s.load(ctx, p, theme, fm)
}

// Scroll moves the page viewport to a normalized ratio in [0,1].
func (s *Surface) Scroll(ctx context.Context, ratio float64) error {
	if ratio < 0 {
		ratio = 0
	}
	if ratio > 1 {
		ratio = 1
	}
	_, err := s.page.Context(ctx).Eval(
		`r => window.scrollTo(0, r * Math.max(0, document.documentElement.scrollHeight - window.innerHeight))`,
		ratio,
	)
	if err != nil {
		return fmt.Errorf("chromium: scroll: %w", err)
	}
	return nil
}

func (s *Surface) load(ctx context.Context, p wire.Program, theme string, frontmatter map[string]any) (int, error) {
	doc, err := s.cfg.Renderer.Render(p, theme, frontmatter)
	if err != nil {
		return 0, err
	}

	url := "data:text/html;base64," +
		base64.StdEncoding.EncodeToString([]byte(render.Shell(doc, theme)))
	page := s.page.Context(ctx)
	if err := page.Navigate(url); err != nil {
		return 0, fmt.Errorf("chromium: navigate: %w", err)
	}
	if err := page.WaitLoad(); err != nil {
		s.cfg.Logger.Warn("chromium: wait load", "error", err)
	}

	res, err := page.Eval(`() => document.documentElement.scrollHeight`)
	if err != nil {
		return 0, fmt.Errorf("chromium: measure height: %w", err)
	}
	return res.Value.Int(), nil
}

// Close shuts the page, the browser connection, and any locally launched
// Chrome.
func (s *Surface) Close() error {
	var firstErr error
	if s.page != nil {
		if err := s.page.Close(); err != nil {
			firstErr = err
		}
	}
	s.cleanup()
	return firstErr
}

func (s *Surface) cleanup() {
	if s.browser != nil {
		if err := s.browser.Close(); err != nil {
			s.cfg.Logger.Warn("chromium: browser close", "error", err)
		}
	}
	if s.lnch != nil {
		s.lnch.Cleanup()
	}
}

// Sink adapts the Surface to the bridge's command-sink contract: render,
// theme, and scroll commands become page operations, with heights and
// interpretation failures flowing back through the callbacks. A chromium
// surface needs no handshake; callers mark the bridge ready as soon as
// Start returns.
type Sink struct {
	s      *Surface
	onSize func(height int)
	onErr  func(message, componentStack string)
}

// Sink wraps the surface for a bridge. Either callback may be nil.
func (s *Surface) Sink(onSize func(int), onRuntimeError func(message, componentStack string)) *Sink {
	return &Sink{s: s, onSize: onSize, onErr: onRuntimeError}
}

// Send applies one command to the page.
func (k *Sink) Send(cmd wire.Command) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	switch cmd.Type {
	case wire.CmdRender:
		p, err := wire.ParseProgram(cmd.Code)
		if err != nil {
			k.runtimeError("invalid render program: "+err.Error(), "")
			return nil
		}
		k.report(k.s.Render(ctx, p, cmd.Frontmatter))
	case wire.CmdTheme:
		k.report(k.s.SetTheme(ctx, cmd.Value))
	case wire.CmdScroll:
		if err := k.s.Scroll(ctx, cmd.Ratio); err != nil {
			return err
		}
	}
	return nil
}

func (k *Sink) report(height int, err error) {
	if err != nil {
		var rerr *render.RuntimeError
		if errors.As(err, &rerr) {
			k.runtimeError(rerr.Message, rerr.ComponentStack)
			return
		}
		k.runtimeError(err.Error(), "")
		return
	}
	if k.onSize != nil {
		k.onSize(height)
	}
}

func (k *Sink) runtimeError(message, stack string) {
	if k.onErr != nil {
		k.onErr(message, stack)
	}
}

// Close releases the page and browser.
func (k *Sink) Close() error { return k.s.Close() }
