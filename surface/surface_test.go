package surface_test

import (
	"encoding/json"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hazyhaar/vorschau/ipc"
	"github.com/hazyhaar/vorschau/render"
	"github.com/hazyhaar/vorschau/surface"
	"github.com/hazyhaar/vorschau/wire"
)

// testTransport is an in-memory Transport; tests feed inbound frames and
// observe outbound commands.
type testTransport struct {
	sent chan wire.Command
	in   chan []byte

	once sync.Once
	done chan struct{}
}

func newTestTransport() *testTransport {
	return &testTransport{
		sent: make(chan wire.Command, 16),
		in:   make(chan []byte, 16),
		done: make(chan struct{}),
	}
}

func (t *testTransport) Send(v any) error {
	t.sent <- v.(wire.Command)
	return nil
}

func (t *testTransport) Next() ([]byte, error) {
	select {
	case f := <-t.in:
		return f, nil
	case <-t.done:
		return nil, io.EOF
	}
}

func (t *testTransport) Done() <-chan struct{} { return t.done }

func (t *testTransport) Kill() error {
	t.once.Do(func() { close(t.done) })
	return nil
}

func (t *testTransport) signal(s wire.Signal) {
	data, _ := json.Marshal(s)
	t.in <- data
}

func startSurface(t *testing.T, tr *testTransport, mut func(*surface.Config)) (*surface.Surface, string) {
	t.Helper()
	cfg := surface.Config{Transport: tr, Session: ""}
	if mut != nil {
		mut(&cfg)
	}
	s, err := surface.Start(cfg)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s, s.Session()
}

func TestHandshakeReady(t *testing.T) {
	tr := newTestTransport()
	var readies atomic.Int32
	s, session := startSurface(t, tr, func(c *surface.Config) {
		c.OnReady = func() { readies.Add(1) }
	})

	if s.Live() {
		t.Fatal("live before Ready")
	}
	if err := s.Send(wire.ThemeCommand("dark")); err != surface.ErrNotLive {
		t.Fatalf("got %v, want ErrNotLive", err)
	}

	tr.signal(wire.ReadySignal(session))
	waitFor(t, "handshake", s.Live)

	// A duplicate Ready never re-runs handshake completion.
	tr.signal(wire.ReadySignal(session))
	time.Sleep(20 * time.Millisecond)
	if n := readies.Load(); n != 1 {
		t.Fatalf("OnReady fired %d times", n)
	}

	if err := s.Send(wire.ThemeCommand("dark")); err != nil {
		t.Fatalf("send after ready: %v", err)
	}
}

func TestHandshakeTimeout(t *testing.T) {
	tr := newTestTransport()
	errs := make(chan string, 1)
	_, _ = startSurface(t, tr, func(c *surface.Config) {
		c.HandshakeTimeout = 20 * time.Millisecond
		c.OnRuntimeError = func(msg, stack string) { errs <- msg }
	})

	select {
	case msg := <-errs:
		if msg != surface.HandshakeErrorMessage {
			t.Fatalf("got %q", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout never reported")
	}

	// One report, no auto-retry.
	select {
	case msg := <-errs:
		t.Fatalf("second report: %q", msg)
	case <-time.After(60 * time.Millisecond):
	}
}

func TestSignalsFromUnknownSessionAreDropped(t *testing.T) {
	tr := newTestTransport()
	sizes := make(chan int, 4)
	_, session := startSurface(t, tr, func(c *surface.Config) {
		c.OnSize = func(h int) { sizes <- h }
	})

	tr.signal(wire.ReadySignal(session))
	tr.signal(wire.SizeSignal("forged-token", 666))
	tr.signal(wire.SizeSignal(session, 420))

	select {
	case h := <-sizes:
		if h != 420 {
			t.Fatalf("forged signal delivered: %d", h)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("legitimate size lost")
	}
}

func TestMalformedSignalsAreDroppedSilently(t *testing.T) {
	tr := newTestTransport()
	sizes := make(chan int, 4)
	_, session := startSurface(t, tr, func(c *surface.Config) {
		c.OnSize = func(h int) { sizes <- h }
	})

	tr.in <- []byte(`not json`)
	tr.in <- []byte(`{"type":"navigate","url":"https://evil"}`)
	tr.in <- []byte(`{"type":"size","height":-1,"session":"` + session + `"}`)
	tr.signal(wire.SizeSignal(session, 7))

	select {
	case h := <-sizes:
		if h != 7 {
			t.Fatalf("got %d", h)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("stream wedged on hostile frames")
	}
}

func TestRuntimeErrorDoesNotTearDown(t *testing.T) {
	tr := newTestTransport()
	errs := make(chan string, 1)
	s, session := startSurface(t, tr, func(c *surface.Config) {
		c.OnRuntimeError = func(msg, stack string) { errs <- msg + "|" + stack }
	})

	tr.signal(wire.ReadySignal(session))
	tr.signal(wire.RuntimeErrorSignal(session, "boom", "Card > Nope"))

	select {
	case got := <-errs:
		if got != "boom|Card > Nope" {
			t.Fatalf("got %q", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("runtime error lost")
	}

	select {
	case <-s.Done():
		t.Fatal("runtime error tore the surface down")
	default:
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// --- child loop ---

type child struct {
	enc   *ipc.Encoder
	dec   *ipc.Decoder
	close func()
}

func serveChild(t *testing.T, session string, rr *render.Renderer) *child {
	t.Helper()
	cmdR, cmdW := io.Pipe()
	sigR, sigW := io.Pipe()
	go surface.Serve(cmdR, sigW, session, rr, nil)
	c := &child{
		enc:   ipc.NewEncoder(cmdW),
		dec:   ipc.NewDecoder(sigR),
		close: func() { cmdW.Close() },
	}
	t.Cleanup(c.close)
	return c
}

func (c *child) next(t *testing.T) wire.Signal {
	t.Helper()
	frame, err := c.dec.Next()
	if err != nil {
		t.Fatal(err)
	}
	sig, err := wire.ParseSignal(frame)
	if err != nil {
		t.Fatal(err)
	}
	return sig
}

func TestServeHandshakeAndRender(t *testing.T) {
	c := serveChild(t, "tok1", nil)

	if sig := c.next(t); sig.Type != wire.SigReady || sig.Session != "tok1" {
		t.Fatalf("first signal %+v", sig)
	}

	code, err := wire.EncodeProgram(wire.Program{
		{Kind: wire.NodeElement, Tag: "p", Children: []wire.Node{{Kind: wire.NodeText, Text: "hi"}}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := c.enc.Encode(wire.RenderCommand(code, nil)); err != nil {
		t.Fatal(err)
	}

	sig := c.next(t)
	if sig.Type != wire.SigSize || sig.Height <= 0 {
		t.Fatalf("got %+v", sig)
	}

	// Theme change re-renders and reports height again.
	if err := c.enc.Encode(wire.ThemeCommand(wire.ThemeDark)); err != nil {
		t.Fatal(err)
	}
	if sig := c.next(t); sig.Type != wire.SigSize {
		t.Fatalf("got %+v", sig)
	}
}

func TestServeReportsRuntimeErrors(t *testing.T) {
	rr := render.New(render.Config{Components: map[string]render.ComponentFunc{}})
	c := serveChild(t, "tok2", rr)
	c.next(t) // ready

	code, err := wire.EncodeProgram(wire.Program{{Kind: wire.NodeComponent, Tag: "Ghost"}})
	if err != nil {
		t.Fatal(err)
	}
	if err := c.enc.Encode(wire.RenderCommand(code, nil)); err != nil {
		t.Fatal(err)
	}

	sig := c.next(t)
	if sig.Type != wire.SigRuntimeError {
		t.Fatalf("got %+v", sig)
	}
	if !strings.Contains(sig.Message, "Ghost") {
		t.Fatalf("message %q", sig.Message)
	}
}

func TestServeDropsUnknownCommands(t *testing.T) {
	c := serveChild(t, "tok3", nil)
	c.next(t) // ready

	// Hostile/unknown command tags must be dropped without any signal.
	if err := c.enc.Encode(map[string]any{"type": "exfiltrate", "to": "https://evil"}); err != nil {
		t.Fatal(err)
	}
	if err := c.enc.Encode(wire.ThemeCommand(wire.ThemeLight)); err != nil {
		t.Fatal(err)
	}

	if sig := c.next(t); sig.Type != wire.SigSize {
		t.Fatalf("unknown command produced %+v", sig)
	}
}
