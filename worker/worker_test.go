package worker_test

import (
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/hazyhaar/vorschau/ipc"
	"github.com/hazyhaar/vorschau/wire"
	"github.com/hazyhaar/vorschau/worker"
)

func TestInprocCompiles(t *testing.T) {
	u := NewTestUnit(t, nil)

	if err := u.Submit(wire.CompileRequest{ID: "r1", Source: "# hi"}); err != nil {
		t.Fatal(err)
	}

	select {
	case out := <-u.Outcomes():
		if out.ID != "r1" || !out.OK {
			t.Fatalf("got %+v", out)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no outcome")
	}
}

func TestInprocSubmitAfterClose(t *testing.T) {
	u := worker.NewInproc(worker.InprocConfig{})
	u.Close()

	if err := u.Submit(wire.CompileRequest{ID: "r1"}); !errors.Is(err, worker.ErrUnitClosed) {
		t.Fatalf("got %v, want ErrUnitClosed", err)
	}
	select {
	case <-u.Done():
	default:
		t.Fatal("Done not closed after Close")
	}
}

func TestInprocFailReportsCause(t *testing.T) {
	u := worker.NewInproc(worker.InprocConfig{})
	cause := errors.New("segfault")
	u.Fail(cause)

	<-u.Done()
	if !errors.Is(u.Err(), cause) {
		t.Fatalf("got %v", u.Err())
	}
}

func TestInprocConcurrentRequestsResolveIndependently(t *testing.T) {
	release := make(chan struct{})
	u := worker.NewInproc(worker.InprocConfig{
		Compile: func(id, source string) wire.Outcome {
			if id == "slow" {
				<-release
			}
			return wire.Success(id, "", nil)
		},
	})
	defer u.Close()

	u.Submit(wire.CompileRequest{ID: "slow"})
	u.Submit(wire.CompileRequest{ID: "fast"})

	select {
	case out := <-u.Outcomes():
		if out.ID != "fast" {
			t.Fatalf("got %q first", out.ID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("fast request blocked behind slow one")
	}

	close(release)
	if out := <-u.Outcomes(); out.ID != "slow" {
		t.Fatalf("got %q", out.ID)
	}
}

// NewTestUnit builds a default in-process unit wired to the real compiler.
func NewTestUnit(t *testing.T, compile func(id, source string) wire.Outcome) *worker.Inproc {
	t.Helper()
	u := worker.NewInproc(worker.InprocConfig{Compile: compile})
	t.Cleanup(func() { u.Close() })
	return u
}

func TestServeRoundTrip(t *testing.T) {
	reqR, reqW := io.Pipe()
	outR, outW := io.Pipe()

	served := make(chan error, 1)
	go func() { served <- worker.Serve(reqR, outW, nil, nil) }()

	enc := ipc.NewEncoder(reqW)
	dec := ipc.NewDecoder(outR)

	if err := enc.Encode(wire.CompileRequest{ID: "a", Source: "# title"}); err != nil {
		t.Fatal(err)
	}
	frame, err := dec.Next()
	if err != nil {
		t.Fatal(err)
	}
	var out wire.Outcome
	if err := json.Unmarshal(frame, &out); err != nil {
		t.Fatal(err)
	}
	if out.ID != "a" || !out.OK {
		t.Fatalf("got %+v", out)
	}

	reqW.Close()
	if err := <-served; err != nil {
		t.Fatalf("serve: %v", err)
	}
}

func TestServeSkipsMalformedFrames(t *testing.T) {
	reqR, reqW := io.Pipe()
	outR, outW := io.Pipe()

	go worker.Serve(reqR, outW, nil, nil)
	defer reqW.Close()

	reqW.Write([]byte("this is not json\n"))
	reqW.Write([]byte(`{"source":"missing id"}` + "\n"))

	enc := ipc.NewEncoder(reqW)
	if err := enc.Encode(wire.CompileRequest{ID: "good", Source: ""}); err != nil {
		t.Fatal(err)
	}

	frame, err := ipc.NewDecoder(outR).Next()
	if err != nil {
		t.Fatal(err)
	}
	var out wire.Outcome
	if err := json.Unmarshal(frame, &out); err != nil {
		t.Fatal(err)
	}
	if out.ID != "good" {
		t.Fatalf("first outcome should be for the valid frame, got %+v", out)
	}
}
