package worker

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/hazyhaar/vorschau/ipc"
	"github.com/hazyhaar/vorschau/wire"
)

// ProcConfig configures a subprocess unit.
type ProcConfig struct {
	// Binary is the executable to run. Empty re-executes the host's own
	// binary, which is expected to enter Serve when it sees Args.
	Binary string

	// Args select the child's worker mode. Default: ["-worker-mode"].
	Args []string

	// Buffer is the outcome channel capacity. Default 16.
	Buffer int

	Logger *slog.Logger
}

func (c *ProcConfig) defaults() {
	if len(c.Args) == 0 {
		c.Args = []string{"-worker-mode"}
	}
	if c.Buffer <= 0 {
		c.Buffer = 16
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Proc is a compilation unit running in a separate process, connected by
// frame pipes. The child gets a cleared environment and applies its own
// resource limits before reading any input.
type Proc struct {
	proc *ipc.Proc
	out  chan wire.Outcome
	log  *slog.Logger
}

// StartProc launches a subprocess unit.
func StartProc(cfg ProcConfig) (*Proc, error) {
	cfg.defaults()
	child, err := ipc.StartProc(ipc.ProcConfig{
		Path:   cfg.Binary,
		Args:   cfg.Args,
		Name:   "worker",
		Logger: cfg.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("worker: start: %w", err)
	}
	p := &Proc{proc: child, out: make(chan wire.Outcome, cfg.Buffer), log: cfg.Logger}
	go p.readLoop()
	return p, nil
}

// Submit writes one request frame to the child.
func (p *Proc) Submit(req wire.CompileRequest) error {
	if err := p.proc.Send(req); err != nil {
		return fmt.Errorf("%w: %v", ErrUnitClosed, err)
	}
	return nil
}

// Outcomes delivers the child's compile results.
func (p *Proc) Outcomes() <-chan wire.Outcome { return p.out }

// Done is closed when the child process exits.
func (p *Proc) Done() <-chan struct{} { return p.proc.Done() }

// Err returns the child's exit cause once Done is closed.
func (p *Proc) Err() error { return p.proc.Err() }

// Close kills the child and reaps it.
func (p *Proc) Close() error { return p.proc.Kill() }

func (p *Proc) readLoop() {
	for {
		frame, err := p.proc.Next()
		if err != nil {
			if err != io.EOF {
				p.log.Warn("worker: outcome stream failed", "error", err)
			}
			return
		}
		var out wire.Outcome
		if err := json.Unmarshal(frame, &out); err != nil {
			p.log.Warn("worker: dropping malformed outcome frame", "error", err)
			continue
		}
		if out.ID == "" {
			p.log.Warn("worker: dropping outcome without id")
			continue
		}
		out.Normalize()
		select {
		case p.out <- out:
		case <-p.proc.Done():
			return
		}
	}
}
