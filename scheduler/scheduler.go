// Package scheduler owns the lifecycle of compile requests: it dispatches
// them to a supervised compilation unit, enforces per-request deadlines,
// suppresses stale results, retries transient failures against a fresh
// unit, and guarantees that a cancelled or torn-down request never fires a
// callback.
//
// Supervision state lives on the Scheduler instance; independent schedulers
// coexist freely, each owning its own unit.
package scheduler

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hazyhaar/vorschau/idgen"
	"github.com/hazyhaar/vorschau/ipc"
	"github.com/hazyhaar/vorschau/wire"
	"github.com/hazyhaar/vorschau/worker"
)

// Callback receives the outcome of one submitted request. Exactly one of
// zero or one invocations happens per id: cancelled, superseded, and
// torn-down requests get none.
type Callback func(wire.Outcome)

// Config configures a Scheduler.
type Config struct {
	// Start launches a fresh compilation unit. Called once at
	// construction and again after every crash. Required.
	Start func() (worker.Unit, error)

	// Timeout is the per-request deadline. Default wire.CompileTimeout.
	Timeout time.Duration

	// MaxRetries caps retries of transient failures (timeout, crash).
	// 0 takes the default of 1; negative disables retries entirely.
	MaxRetries int

	// Backoff is the base retry delay, doubled on each attempt.
	// Default 250 ms.
	Backoff time.Duration

	// NewID mints request ids. Default canonical random UUIDs.
	NewID idgen.Generator

	Logger *slog.Logger
}

func (c *Config) defaults() error {
	if c.Start == nil {
		return fmt.Errorf("scheduler: Config.Start is required")
	}
	if c.Timeout <= 0 {
		c.Timeout = wire.CompileTimeout
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 1
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.Backoff <= 0 {
		c.Backoff = 250 * time.Millisecond
	}
	if c.NewID == nil {
		c.NewID = idgen.Default
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return nil
}

// request is the bookkeeping for one live id.
type request struct {
	id      string
	source  string
	cb      Callback
	attempt int
	timer   *time.Timer // per-request deadline
	retry   *time.Timer // pending redispatch
}

func (r *request) stopTimers() {
	if r.timer != nil {
		r.timer.Stop()
	}
	if r.retry != nil {
		r.retry.Stop()
	}
}

// Scheduler supervises one compilation unit and the requests in flight
// against it.
type Scheduler struct {
	cfg Config

	mu   sync.Mutex
	live map[string]*request
	unit worker.Unit
	gen  int
	down bool

	// torn gates callback delivery: Teardown takes the write lock after
	// its own callbacks so nothing fires once it returns.
	cbMu sync.RWMutex
	torn atomic.Bool
}

// New creates a Scheduler and starts its first compilation unit.
func New(cfg Config) (*Scheduler, error) {
	if err := cfg.defaults(); err != nil {
		return nil, err
	}
	s := &Scheduler{cfg: cfg, live: make(map[string]*request)}
	s.mu.Lock()
	err := s.startLocked()
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return s, nil
}

// SubmitOption adjusts one submission.
type SubmitOption func(*request)

// WithRequestID makes Submit use a caller-supplied id instead of minting
// one. Ids that are not canonical random UUIDs are ignored.
func WithRequestID(id string) SubmitOption {
	return func(r *request) {
		if idgen.ValidRequestID(id) {
			r.id = id
		}
	}
}

// Submit registers one source revision for compilation and returns its
// request id. The callback fires at most once, never on the calling
// stack. Callers superseding an earlier submission must Cancel it.
func (s *Scheduler) Submit(source string, cb Callback, opts ...SubmitOption) string {
	req := &request{source: source, cb: cb}
	for _, o := range opts {
		o(req)
	}
	if req.id == "" {
		req.id = s.cfg.NewID()
	}

	s.mu.Lock()
	if s.down {
		s.mu.Unlock()
		// Submissions after teardown fail asynchronously; the delivery
		// gate only covers ids that were live at teardown.
		if cb != nil {
			go cb(wire.Failure(req.id, wire.Diagnostic{Message: "Worker terminated", Source: wire.SourceWorker}))
		}
		return req.id
	}
	s.live[req.id] = req
	s.mu.Unlock()

	if source == "" {
		// Cleared-document fast path: resolved through the same stale
		// discipline as every other id, asynchronously.
		go s.finish(wire.Success(req.id, "", nil))
		return req.id
	}

	s.dispatch(req.id)
	return req.id
}

// Cancel drops the request's bookkeeping and deadline. Idempotent; a no-op
// for unknown or already finalized ids. Any later result for the id is
// discarded silently.
func (s *Scheduler) Cancel(id string) {
	s.mu.Lock()
	if req, ok := s.live[id]; ok {
		delete(s.live, id)
		req.stopTimers()
	}
	s.mu.Unlock()
}

// Pending reports the number of live requests.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.live)
}

// Teardown fails every live id with "Worker terminated", then permanently
// discards the unit. It is synchronous: once it returns, no callback fires,
// and the unit's execution context has been released.
func (s *Scheduler) Teardown() {
	s.mu.Lock()
	if s.down {
		s.mu.Unlock()
		return
	}
	s.down = true
	reqs := make([]*request, 0, len(s.live))
	for _, r := range s.live {
		r.stopTimers()
		reqs = append(reqs, r)
	}
	s.live = make(map[string]*request)
	unit := s.unit
	s.unit = nil
	s.mu.Unlock()

	for _, r := range reqs {
		if r.cb != nil {
			r.cb(wire.Failure(r.id, wire.Diagnostic{Message: "Worker terminated", Source: wire.SourceWorker}))
		}
	}

	// Wait out in-flight deliveries, then close the gate.
	s.cbMu.Lock()
	s.torn.Store(true)
	s.cbMu.Unlock()

	if unit != nil {
		if err := unit.Close(); err != nil {
			s.cfg.Logger.Warn("scheduler: unit close failed", "error", err)
		}
	}
}

// startLocked launches a fresh unit and its pump. Caller holds mu.
func (s *Scheduler) startLocked() error {
	u, err := s.cfg.Start()
	if err != nil {
		return fmt.Errorf("scheduler: start unit: %w", err)
	}
	s.gen++
	s.unit = u
	go s.pump(u, s.gen)
	return nil
}

// pump forwards one unit's outcomes until it dies.
func (s *Scheduler) pump(u worker.Unit, gen int) {
	for {
		select {
		case out := <-u.Outcomes():
			s.finish(out)
		case <-u.Done():
			s.unitDied(u, gen)
			return
		}
	}
}

// unitDied handles a crash: the instance is discarded wholesale and every
// live id either retries against a replacement or fails.
func (s *Scheduler) unitDied(u worker.Unit, gen int) {
	s.mu.Lock()
	if s.down || gen != s.gen {
		s.mu.Unlock()
		return
	}
	s.unit = nil
	ids := make([]string, 0, len(s.live))
	for id := range s.live {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	detail := ipc.ExitDetail(u.Err())
	s.cfg.Logger.Warn("scheduler: worker crashed", "detail", detail, "live", len(ids))
	for _, id := range ids {
		s.transient(id, "Worker crashed: "+detail)
	}
}

// dispatch sends a live request to the current unit, starting a
// replacement unit first if the previous one is gone, and arms its
// deadline.
func (s *Scheduler) dispatch(id string) {
	s.mu.Lock()
	req, ok := s.live[id]
	if !ok || s.down {
		s.mu.Unlock()
		return
	}
	if s.unit == nil {
		if err := s.startLocked(); err != nil {
			s.mu.Unlock()
			s.cfg.Logger.Error("scheduler: unit replacement failed", "error", err)
			s.transient(id, "Worker crashed: "+err.Error())
			return
		}
	}
	unit := s.unit
	if req.timer != nil {
		req.timer.Stop()
	}
	req.timer = time.AfterFunc(s.cfg.Timeout, func() { s.expire(id) })
	frame := wire.CompileRequest{ID: id, Source: req.source}
	s.mu.Unlock()

	if err := unit.Submit(frame); err != nil {
		s.transient(id, "Worker crashed: "+err.Error())
	}
}

// expire synthesizes a timeout failure for an id that produced no outcome
// within the deadline.
func (s *Scheduler) expire(id string) {
	msg := fmt.Sprintf("Compilation timed out after %d seconds", int(s.cfg.Timeout/time.Second))
	s.transient(id, msg)
}

// transient applies the retry policy to a timeout or crash for one id:
// redispatch with exponential backoff while attempts remain, otherwise
// finalize with the cause-identifying message. Cancellation and compile
// diagnostics never come through here.
func (s *Scheduler) transient(id, msg string) {
	s.mu.Lock()
	req, ok := s.live[id]
	if !ok || s.down {
		s.mu.Unlock()
		return
	}
	if req.attempt < s.cfg.MaxRetries {
		req.attempt++
		attempt := req.attempt
		if req.timer != nil {
			req.timer.Stop()
		}
		delay := s.cfg.Backoff << (attempt - 1)
		req.retry = time.AfterFunc(delay, func() { s.dispatch(id) })
		s.mu.Unlock()
		s.cfg.Logger.Info("scheduler: retrying request", "id", id, "attempt", attempt, "delay", delay, "cause", msg)
		return
	}
	delete(s.live, id)
	req.stopTimers()
	s.mu.Unlock()

	s.deliver(req.cb, wire.Failure(id, wire.Diagnostic{Message: msg, Source: wire.SourceWorker}))
}

// finish resolves an inbound outcome against the live table. Outcomes for
// ids no longer live — cancelled, expired, crashed, torn down — are
// dropped silently.
func (s *Scheduler) finish(out wire.Outcome) {
	s.mu.Lock()
	req, ok := s.live[out.ID]
	if !ok {
		s.mu.Unlock()
		return
	}
	delete(s.live, out.ID)
	req.stopTimers()
	s.mu.Unlock()

	s.deliver(req.cb, out)
}

func (s *Scheduler) deliver(cb Callback, out wire.Outcome) {
	if cb == nil {
		return
	}
	s.cbMu.RLock()
	defer s.cbMu.RUnlock()
	if s.torn.Load() {
		return
	}
	cb(out)
}
