// Package worker runs compilation units in isolated execution contexts.
//
// A Unit accepts compile requests and emits outcomes on a channel; it
// reports its own death through Done so a supervisor can replace it
// wholesale. Two implementations exist: Proc, a subprocess connected by
// frame pipes (the production context), and Inproc, a goroutine-backed
// unit for tests and embedded hosts. Serve is the loop a child process
// runs on the far side of a Proc.
package worker

import (
	"errors"

	"github.com/hazyhaar/vorschau/wire"
)

// ErrUnitClosed reports a submit to a unit that has already terminated.
var ErrUnitClosed = errors.New("worker: unit is closed")

// Unit is one compilation execution context. Units are never repaired in
// place: when Done closes, the supervisor discards the instance and starts
// a fresh one.
type Unit interface {
	// Submit dispatches one compile request. It fails once the unit is
	// dead; it never blocks on compilation itself.
	Submit(req wire.CompileRequest) error

	// Outcomes delivers compile results in completion order. Outcomes
	// for distinct requests may arrive in any order.
	Outcomes() <-chan wire.Outcome

	// Done is closed when the unit terminates for any reason.
	Done() <-chan struct{}

	// Err returns the termination cause once Done is closed; nil means a
	// clean shutdown.
	Err() error

	// Close terminates the unit and releases its execution context.
	// Idempotent.
	Close() error
}
