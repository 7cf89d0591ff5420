// Package surface owns the render surface boundary: an isolated child
// context that interprets compiled programs with no ambient authority over
// the host. The host side spawns the child, runs the one-time readiness
// handshake, delivers commands, and validates every inbound signal before
// trusting it; the child side is Serve.
package surface

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/vorschau/idgen"
	"github.com/hazyhaar/vorschau/ipc"
	"github.com/hazyhaar/vorschau/wire"
)

// HandshakeErrorMessage is the synthetic runtime error reported when the
// surface never signals readiness.
const HandshakeErrorMessage = "Preview iframe failed to initialize within 5 seconds"

// ErrNotLive reports a command sent before the handshake completed or
// after the surface died.
var ErrNotLive = errors.New("surface: not live")

// Transport moves frames to and from the isolated context. ipc.Proc is the
// production transport; tests substitute in-memory pipes.
type Transport interface {
	Send(v any) error
	Next() ([]byte, error)
	Done() <-chan struct{}
	Kill() error
}

// Config configures a host-side surface handle.
type Config struct {
	// Transport connects to the child. Nil spawns a subprocess running
	// the host binary in surface mode.
	Transport Transport

	// Binary and Args configure the spawned subprocess when Transport is
	// nil. An empty Binary re-executes the host binary.
	Binary string
	Args   []string

	// Session is the provenance token stamped on every legitimate
	// signal; inbound frames bearing any other token are discarded.
	// Minted when empty.
	Session string

	// HandshakeTimeout bounds the wait for Ready. Default
	// wire.HandshakeTimeout.
	HandshakeTimeout time.Duration

	// OnReady fires once, when the handshake completes.
	OnReady func()

	// OnSize receives content height updates.
	OnSize func(height int)

	// OnRuntimeError receives surface-side failures, including the
	// synthetic handshake timeout. The surface stays up.
	OnRuntimeError func(message, componentStack string)

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.Session == "" {
		c.Session = idgen.Token(16)()
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = wire.HandshakeTimeout
	}
	if len(c.Args) == 0 {
		c.Args = []string{"-surface-mode"}
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Surface is the host's handle on one isolated rendering context.
type Surface struct {
	cfg Config
	tr  Transport

	mu        sync.Mutex
	live      bool
	handshake *time.Timer
	closed    bool
}

// Start connects to (or spawns) the surface child and begins the
// readiness handshake. Command traffic is refused until Ready arrives.
func Start(cfg Config) (*Surface, error) {
	cfg.defaults()

	tr := cfg.Transport
	if tr == nil {
		args := append(append([]string{}, cfg.Args...), "-session", cfg.Session)
		proc, err := ipc.StartProc(ipc.ProcConfig{
			Path:   cfg.Binary,
			Args:   args,
			Name:   "surface",
			Logger: cfg.Logger,
		})
		if err != nil {
			return nil, fmt.Errorf("surface: spawn: %w", err)
		}
		tr = proc
	}

	s := &Surface{cfg: cfg, tr: tr}
	s.handshake = time.AfterFunc(cfg.HandshakeTimeout, s.handshakeExpired)
	go s.readLoop()
	return s, nil
}

// Session returns the provenance token issued to this surface.
func (s *Surface) Session() string { return s.cfg.Session }

// Live reports whether the handshake has completed.
func (s *Surface) Live() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.live
}

// Send delivers one command to the surface. Commands are refused until
// the surface is live.
func (s *Surface) Send(cmd wire.Command) error {
	if err := cmd.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	live := s.live
	s.mu.Unlock()
	if !live {
		return ErrNotLive
	}
	return s.tr.Send(cmd)
}

// Done is closed when the child context is gone.
func (s *Surface) Done() <-chan struct{} { return s.tr.Done() }

// Close tears the surface down and releases its context.
func (s *Surface) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.live = false
	s.handshake.Stop()
	s.mu.Unlock()
	return s.tr.Kill()
}

// handshakeExpired reports the one-shot synthetic failure. The handshake
// is never auto-retried.
func (s *Surface) handshakeExpired() {
	s.mu.Lock()
	if s.live || s.closed {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	s.cfg.Logger.Warn("surface: handshake timed out", "timeout", s.cfg.HandshakeTimeout)
	if s.cfg.OnRuntimeError != nil {
		s.cfg.OnRuntimeError(HandshakeErrorMessage, "")
	}
}

// readLoop validates and dispatches inbound signals. Anything that fails
// decoding, fails structural validation, or carries the wrong session
// token is discarded silently.
func (s *Surface) readLoop() {
	for {
		frame, err := s.tr.Next()
		if err != nil {
			if err != io.EOF {
				s.cfg.Logger.Debug("surface: signal stream closed", "error", err)
			}
			return
		}
		sig, err := wire.ParseSignal(frame)
		if err != nil {
			s.cfg.Logger.Debug("surface: dropping invalid signal", "error", err)
			continue
		}
		if sig.Session != s.cfg.Session {
			s.cfg.Logger.Debug("surface: dropping signal with unknown session token")
			continue
		}
		s.dispatch(sig)
	}
}

func (s *Surface) dispatch(sig wire.Signal) {
	switch sig.Type {
	case wire.SigReady:
		s.mu.Lock()
		if s.live || s.closed {
			// A duplicate Ready must not re-run handshake completion.
			s.mu.Unlock()
			return
		}
		s.live = true
		s.handshake.Stop()
		s.mu.Unlock()
		if s.cfg.OnReady != nil {
			s.cfg.OnReady()
		}
	case wire.SigSize:
		if s.cfg.OnSize != nil {
			s.cfg.OnSize(sig.Height)
		}
	case wire.SigRuntimeError:
		if s.cfg.OnRuntimeError != nil {
			s.cfg.OnRuntimeError(sig.Message, sig.ComponentStack)
		}
	}
}
