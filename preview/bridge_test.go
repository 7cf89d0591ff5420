package preview_test

import (
	"sync"
	"testing"
	"time"

	"github.com/hazyhaar/vorschau/preview"
	"github.com/hazyhaar/vorschau/wire"
)

// fakeSink records every command the bridge sends.
type fakeSink struct {
	mu     sync.Mutex
	cmds   []wire.Command
	closed bool
}

func (f *fakeSink) Send(cmd wire.Command) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cmds = append(f.cmds, cmd)
	return nil
}

func (f *fakeSink) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeSink) all() []wire.Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]wire.Command, len(f.cmds))
	copy(out, f.cmds)
	return out
}

func (f *fakeSink) ofType(typ string) []wire.Command {
	var out []wire.Command
	for _, c := range f.all() {
		if c.Type == typ {
			out = append(out, c)
		}
	}
	return out
}

func TestBridgeHoldsCommandsUntilReady(t *testing.T) {
	sink := &fakeSink{}
	b := preview.NewBridge(sink, preview.BridgeConfig{})
	defer b.Close()

	b.SetRender("[]", nil)
	b.SetTheme(wire.ThemeDark)
	b.SetScrollRatio(0.5)

	if got := sink.all(); len(got) != 0 {
		t.Fatalf("commands before ready: %+v", got)
	}

	b.HandleReady()

	cmds := sink.all()
	if len(cmds) != 2 {
		t.Fatalf("got %d commands, want render+theme: %+v", len(cmds), cmds)
	}
	if cmds[0].Type != wire.CmdRender || cmds[0].Code != "[]" {
		t.Fatalf("first command %+v", cmds[0])
	}
	if cmds[1].Type != wire.CmdTheme || cmds[1].Value != wire.ThemeDark {
		t.Fatalf("second command %+v", cmds[1])
	}
}

func TestBridgeReadySendsCurrentStateNotSpawnState(t *testing.T) {
	sink := &fakeSink{}
	b := preview.NewBridge(sink, preview.BridgeConfig{})
	defer b.Close()

	b.SetRender("old", nil)
	b.SetRender("new", map[string]any{"title": "n"})
	b.SetTheme(wire.ThemeDark)
	b.HandleReady()

	renders := sink.ofType(wire.CmdRender)
	if len(renders) != 1 || renders[0].Code != "new" {
		t.Fatalf("renders %+v", renders)
	}
	themes := sink.ofType(wire.CmdTheme)
	if len(themes) != 1 || themes[0].Value != wire.ThemeDark {
		t.Fatalf("themes %+v", themes)
	}
}

func TestBridgeDuplicateReadyIsIdempotent(t *testing.T) {
	sink := &fakeSink{}
	b := preview.NewBridge(sink, preview.BridgeConfig{})
	defer b.Close()

	b.SetRender("[]", nil)
	b.HandleReady()
	b.HandleReady()

	if renders := sink.ofType(wire.CmdRender); len(renders) != 1 {
		t.Fatalf("duplicate ready re-sent render: %+v", renders)
	}
}

func TestBridgeNoRenderBeforeFirstDocument(t *testing.T) {
	sink := &fakeSink{}
	b := preview.NewBridge(sink, preview.BridgeConfig{})
	defer b.Close()

	b.HandleReady()

	if renders := sink.ofType(wire.CmdRender); len(renders) != 0 {
		t.Fatalf("render with no document: %+v", renders)
	}
	// The theme still goes out so the surface draws the right background.
	if themes := sink.ofType(wire.CmdTheme); len(themes) != 1 {
		t.Fatalf("themes %+v", themes)
	}
}

func TestBridgeLiveTrafficReplaces(t *testing.T) {
	sink := &fakeSink{}
	b := preview.NewBridge(sink, preview.BridgeConfig{})
	defer b.Close()

	b.HandleReady()
	b.SetRender("a", nil)
	b.SetRender("b", nil)
	b.SetTheme(wire.ThemeDark)

	renders := sink.ofType(wire.CmdRender)
	if len(renders) != 2 || renders[1].Code != "b" {
		t.Fatalf("renders %+v", renders)
	}
	themes := sink.ofType(wire.CmdTheme)
	if themes[len(themes)-1].Value != wire.ThemeDark {
		t.Fatalf("themes %+v", themes)
	}
}

func TestBridgeScrollCoalescing(t *testing.T) {
	sink := &fakeSink{}
	b := preview.NewBridge(sink, preview.BridgeConfig{FrameInterval: 40 * time.Millisecond})
	defer b.Close()
	b.HandleReady()

	// First scroll goes out immediately; the burst inside the frame window
	// collapses to a single trailing delivery carrying the newest ratio.
	b.SetScrollRatio(0.1)
	b.SetScrollRatio(0.2)
	b.SetScrollRatio(0.3)
	b.SetScrollRatio(0.9)

	if scrolls := sink.ofType(wire.CmdScroll); len(scrolls) != 1 || scrolls[0].Ratio != 0.1 {
		t.Fatalf("immediate delivery %+v", scrolls)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		scrolls := sink.ofType(wire.CmdScroll)
		if len(scrolls) == 2 {
			if scrolls[1].Ratio != 0.9 {
				t.Fatalf("coalesced delivery %+v", scrolls)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("trailing delivery never arrived: %+v", scrolls)
		}
		time.Sleep(2 * time.Millisecond)
	}

	// The window closes after a quiet frame; no further deliveries.
	time.Sleep(100 * time.Millisecond)
	if scrolls := sink.ofType(wire.CmdScroll); len(scrolls) != 2 {
		t.Fatalf("spurious deliveries %+v", scrolls)
	}
}

func TestBridgeScrollClampsRatio(t *testing.T) {
	sink := &fakeSink{}
	b := preview.NewBridge(sink, preview.BridgeConfig{FrameInterval: time.Hour})
	defer b.Close()
	b.HandleReady()

	b.SetScrollRatio(-3)
	scrolls := sink.ofType(wire.CmdScroll)
	if len(scrolls) != 1 || scrolls[0].Ratio != 0 {
		t.Fatalf("scrolls %+v", scrolls)
	}
}

func TestBridgeForwardsSizeAndRuntimeErrors(t *testing.T) {
	sink := &fakeSink{}
	sizes := make(chan int, 1)
	errs := make(chan string, 1)
	b := preview.NewBridge(sink, preview.BridgeConfig{
		OnSize:         func(h int) { sizes <- h },
		OnRuntimeError: func(msg, stack string) { errs <- msg + "|" + stack },
	})
	defer b.Close()

	b.HandleSize(840)
	if got := <-sizes; got != 840 {
		t.Fatalf("size %d", got)
	}
	if got := b.Height(); got != 840 {
		t.Fatalf("Height %d", got)
	}

	b.HandleRuntimeError("boom", "Card > Nope")
	if got := <-errs; got != "boom|Card > Nope" {
		t.Fatalf("error %q", got)
	}
}

func TestBridgeCloseReleasesSink(t *testing.T) {
	sink := &fakeSink{}
	b := preview.NewBridge(sink, preview.BridgeConfig{})
	b.HandleReady()

	if err := b.Close(); err != nil {
		t.Fatal(err)
	}
	if !sink.closed {
		t.Fatal("sink not closed")
	}
	if b.Live() {
		t.Fatal("live after close")
	}

	// Idempotent, and no traffic after close.
	if err := b.Close(); err != nil {
		t.Fatal(err)
	}
	before := len(sink.all())
	b.SetScrollRatio(0.4)
	if after := len(sink.all()); after != before {
		t.Fatal("traffic after close")
	}
}
