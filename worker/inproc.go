package worker

import (
	"log/slog"
	"sync"

	"github.com/hazyhaar/vorschau/compiler"
	"github.com/hazyhaar/vorschau/wire"
)

// InprocConfig configures an in-process unit.
type InprocConfig struct {
	// Compile handles one request. Defaults to the real compiler; tests
	// inject scripted functions to control timing and results.
	Compile func(id, source string) wire.Outcome

	// Buffer is the outcome channel capacity. Default 16.
	Buffer int

	Logger *slog.Logger
}

func (c *InprocConfig) defaults() {
	if c.Compile == nil {
		c.Compile = compiler.Compile
	}
	if c.Buffer <= 0 {
		c.Buffer = 16
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Inproc is a goroutine-backed compilation unit. Each request compiles on
// its own goroutine, so a slow request never delays an independent one —
// the same concurrency shape a subprocess unit provides, without the
// process boundary.
type Inproc struct {
	cfg  InprocConfig
	out  chan wire.Outcome
	done chan struct{}

	mu     sync.Mutex
	closed bool
	cause  error
}

// NewInproc creates a running in-process unit.
func NewInproc(cfg InprocConfig) *Inproc {
	cfg.defaults()
	return &Inproc{
		cfg:  cfg,
		out:  make(chan wire.Outcome, cfg.Buffer),
		done: make(chan struct{}),
	}
}

// Submit compiles the request on a new goroutine.
func (u *Inproc) Submit(req wire.CompileRequest) error {
	u.mu.Lock()
	if u.closed {
		u.mu.Unlock()
		return ErrUnitClosed
	}
	u.mu.Unlock()

	go func() {
		out := u.cfg.Compile(req.ID, req.Source)
		select {
		case u.out <- out:
		case <-u.done:
		}
	}()
	return nil
}

// Outcomes delivers compile results.
func (u *Inproc) Outcomes() <-chan wire.Outcome { return u.out }

// Done is closed when the unit terminates.
func (u *Inproc) Done() <-chan struct{} { return u.done }

// Err returns the termination cause.
func (u *Inproc) Err() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.cause
}

// Close terminates the unit cleanly.
func (u *Inproc) Close() error {
	u.terminate(nil)
	return nil
}

// Fail terminates the unit abnormally, the way a real execution context
// dies on a crash. Supervisors observe it through Done and Err.
func (u *Inproc) Fail(cause error) {
	u.terminate(cause)
}

func (u *Inproc) terminate(cause error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.closed {
		return
	}
	u.closed = true
	u.cause = cause
	close(u.done)
}
