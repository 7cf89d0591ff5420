// Package watch provides a "poll a file, detect change, debounce, deliver"
// loop: the upstream edit source for a live preview session. Edit bursts
// collapse into one delivery per quiet window so every consumer gets
// consistent debounce behavior and observability for free.
//
// Typical usage:
//
//	w := watch.New("doc.md", watch.Options{})
//	go w.Run(ctx, func(content []byte) { engine.SetSource(string(content)) })
package watch

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"github.com/hazyhaar/vorschau/wire"
)

// fingerprint identifies one observed file state. Stat fields gate the
// cheap path; the hash decides whether content actually changed.
type fingerprint struct {
	modTime time.Time
	size    int64
	sum     [sha256.Size]byte
}

// Options tunes the watcher behaviour.
type Options struct {
	// Interval is the polling frequency. Default: 100ms.
	Interval time.Duration

	// Debounce is the quiet period after a detected change before the
	// content is delivered. More changes inside the window reset the
	// timer. Default: wire.DefaultDebounce (300 ms).
	Debounce time.Duration

	// Logger overrides the default slog logger.
	Logger *slog.Logger
}

func (o *Options) defaults() {
	if o.Interval <= 0 {
		o.Interval = 100 * time.Millisecond
	}
	if o.Debounce <= 0 {
		o.Debounce = wire.DefaultDebounce
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Watcher polls one file and delivers its content after debounced changes.
// It is safe for concurrent use.
type Watcher struct {
	path string
	opts Options

	// Counters for observability (exported via Stats).
	checks     atomic.Int64
	changes    atomic.Int64
	errors     atomic.Int64
	deliveries atomic.Int64
}

// Stats are point-in-time counters.
type Stats struct {
	Checks          int64 `json:"checks"`
	ChangesDetected int64 `json:"changes_detected"`
	Errors          int64 `json:"errors"`
	Deliveries      int64 `json:"deliveries"`
}

// New creates a Watcher for path. Run starts it.
func New(path string, opts Options) *Watcher {
	opts.defaults()
	return &Watcher{path: path, opts: opts}
}

// Stats returns current counters.
func (w *Watcher) Stats() Stats {
	return Stats{
		Checks:          w.checks.Load(),
		ChangesDetected: w.changes.Load(),
		Errors:          w.errors.Load(),
		Deliveries:      w.deliveries.Load(),
	}
}

// Deliveries reports how many times content has been delivered.
func (w *Watcher) Deliveries() int64 { return w.deliveries.Load() }

// Run polls until ctx is cancelled, invoking deliver with the file's
// content: once immediately with the initial content, then once per
// debounced change. A file that is briefly missing or unreadable ticks the
// error counter and the loop keeps polling; only a failed initial read or
// ctx cancellation end Run.
func (w *Watcher) Run(ctx context.Context, deliver func(content []byte)) error {
	if deliver == nil {
		return fmt.Errorf("watch: deliver callback is required")
	}

	content, last, err := w.read()
	if err != nil {
		return fmt.Errorf("watch: initial read: %w", err)
	}
	deliver(content)
	w.deliveries.Add(1)
	w.opts.Logger.Info("watch: watching", "path", w.path, "bytes", len(content))

	ticker := time.NewTicker(w.opts.Interval)
	defer ticker.Stop()

	var (
		dirty bool
		quiet time.Time // earliest delivery moment for the pending change
	)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		w.checks.Add(1)
		fp, changed, err := w.observe(last)
		if err != nil {
			w.errors.Add(1)
			w.opts.Logger.Warn("watch: poll failed", "path", w.path, "error", err)
			continue
		}
		last = fp
		if changed {
			dirty = true
			quiet = time.Now().Add(w.opts.Debounce)
			w.changes.Add(1)
			continue
		}
		if dirty && time.Now().After(quiet) {
			data, fp2, err := w.read()
			if err != nil {
				w.errors.Add(1)
				continue
			}
			last = fp2
			dirty = false
			deliver(data)
			w.deliveries.Add(1)
			w.opts.Logger.Debug("watch: delivered", "path", w.path, "bytes", len(data))
		}
	}
}

// observe stats first and only reads when the stat fields moved, so an
// idle file costs one syscall per poll. Content change is decided by the
// hash: a touch that rewrites identical bytes is not a change.
func (w *Watcher) observe(last fingerprint) (fingerprint, bool, error) {
	info, err := os.Stat(w.path)
	if err != nil {
		return last, false, err
	}
	if info.ModTime().Equal(last.modTime) && info.Size() == last.size {
		return last, false, nil
	}
	_, fp, err := w.read()
	if err != nil {
		return last, false, err
	}
	return fp, fp.sum != last.sum, nil
}

func (w *Watcher) read() ([]byte, fingerprint, error) {
	info, err := os.Stat(w.path)
	if err != nil {
		return nil, fingerprint{}, err
	}
	data, err := os.ReadFile(w.path)
	if err != nil {
		return nil, fingerprint{}, err
	}
	return data, fingerprint{
		modTime: info.ModTime(),
		size:    info.Size(),
		sum:     sha256.Sum256(data),
	}, nil
}
