package ipc

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
)

// ProcConfig configures one supervised child process.
type ProcConfig struct {
	// Path is the binary to execute. Empty means the host's own binary,
	// re-executed with Args selecting a child mode.
	Path string

	// Args are passed verbatim to the child.
	Args []string

	// Env is the child's entire environment. Children get nothing from
	// the host environment unless listed here.
	Env []string

	// Name labels the child in logs ("worker", "surface").
	Name string

	Logger *slog.Logger
}

func (c *ProcConfig) defaults() error {
	if c.Path == "" {
		exe, err := os.Executable()
		if err != nil {
			return fmt.Errorf("ipc: resolve executable: %w", err)
		}
		c.Path = exe
	}
	if c.Name == "" {
		c.Name = "child"
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return nil
}

// Proc is a running child connected by a frame pipe pair: host writes
// frames to the child's stdin, reads frames from its stdout. Stderr is
// drained into the host log. Proc reports exit exactly once via Done.
type Proc struct {
	cfg ProcConfig
	cmd *exec.Cmd
	enc *Encoder
	dec *Decoder

	stdin io.Closer
	done  chan struct{}

	mu      sync.Mutex
	exitErr error
	killed  bool
}

// StartProc launches the child and begins supervising it.
func StartProc(cfg ProcConfig) (*Proc, error) {
	if err := cfg.defaults(); err != nil {
		return nil, err
	}

	cmd := exec.Command(cfg.Path, cfg.Args...)
	cmd.Env = append([]string{}, cfg.Env...)
	setProcAttrs(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("ipc: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("ipc: stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("ipc: stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("ipc: start %s: %w", cfg.Name, err)
	}

	p := &Proc{
		cfg:   cfg,
		cmd:   cmd,
		enc:   NewEncoder(stdin),
		dec:   NewDecoder(stdout),
		stdin: stdin,
		done:  make(chan struct{}),
	}

	go p.drainStderr(stderr)
	go p.wait()

	cfg.Logger.Debug("ipc: child started", "name", cfg.Name, "pid", cmd.Process.Pid)
	return p, nil
}

// Send writes one frame to the child.
func (p *Proc) Send(v any) error {
	select {
	case <-p.done:
		return fmt.Errorf("ipc: %s has exited", p.cfg.Name)
	default:
	}
	return p.enc.Encode(v)
}

// Next returns the child's next frame. io.EOF means the child closed its
// output, which for a supervised child means it is gone.
func (p *Proc) Next() ([]byte, error) {
	return p.dec.Next()
}

// Done is closed when the child exits for any reason.
func (p *Proc) Done() <-chan struct{} {
	return p.done
}

// Err returns the exit cause once Done is closed: nil for a clean exit,
// the wait error otherwise. Before exit it returns nil.
func (p *Proc) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitErr
}

// Pid returns the child's process id.
func (p *Proc) Pid() int {
	return p.cmd.Process.Pid
}

// Kill terminates the child's process group and waits for the exit to be
// reaped. Idempotent.
func (p *Proc) Kill() error {
	p.mu.Lock()
	if p.killed {
		p.mu.Unlock()
		<-p.done
		return nil
	}
	p.killed = true
	p.mu.Unlock()

	// Closing stdin first lets a well-behaved child exit on EOF.
	p.stdin.Close()
	killGroup(p.cmd)
	<-p.done
	return nil
}

func (p *Proc) wait() {
	err := p.cmd.Wait()
	p.mu.Lock()
	p.exitErr = err
	killed := p.killed
	p.mu.Unlock()
	close(p.done)

	if err != nil && !killed {
		p.cfg.Logger.Warn("ipc: child exited", "name", p.cfg.Name, "error", err)
	} else {
		p.cfg.Logger.Debug("ipc: child exited", "name", p.cfg.Name)
	}
}

func (p *Proc) drainStderr(r io.Reader) {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 4096), 64*1024)
	for s.Scan() {
		p.cfg.Logger.Debug("ipc: child stderr", "name", p.cfg.Name, "line", s.Text())
	}
}

// ExitDetail renders a human-readable exit cause for error messages shown
// to callers.
func ExitDetail(err error) string {
	if err == nil {
		return "process exited"
	}
	var exit *exec.ExitError
	if errors.As(err, &exit) {
		return exit.String()
	}
	return err.Error()
}
