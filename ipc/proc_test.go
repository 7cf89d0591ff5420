package ipc_test

import (
	"runtime"
	"testing"
	"time"

	"github.com/hazyhaar/vorschau/ipc"
)

func startCat(t *testing.T) *ipc.Proc {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("needs a POSIX cat")
	}
	p, err := ipc.StartProc(ipc.ProcConfig{Path: "/bin/cat", Name: "echoer"})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { p.Kill() })
	return p
}

func TestProcRoundTrip(t *testing.T) {
	p := startCat(t)

	if err := p.Send(payload{Kind: "ping", N: 7}); err != nil {
		t.Fatal(err)
	}
	frame, err := p.Next()
	if err != nil {
		t.Fatal(err)
	}
	if string(frame) != `{"kind":"ping","n":7}` {
		t.Fatalf("got %s", frame)
	}
}

func TestProcKillClosesDone(t *testing.T) {
	p := startCat(t)

	if err := p.Kill(); err != nil {
		t.Fatal(err)
	}
	select {
	case <-p.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("Done not closed after Kill")
	}
	if err := p.Send(payload{Kind: "late"}); err == nil {
		t.Fatal("Send after exit should fail")
	}
}

func TestProcDetectsChildExit(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("needs a POSIX shell")
	}
	p, err := ipc.StartProc(ipc.ProcConfig{Path: "/bin/sh", Args: []string{"-c", "exit 3"}, Name: "crasher"})
	if err != nil {
		t.Fatal(err)
	}
	select {
	case <-p.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("Done not closed after child exit")
	}
	if p.Err() == nil {
		t.Fatal("expected a non-nil exit cause for status 3")
	}
	if detail := ipc.ExitDetail(p.Err()); detail == "" {
		t.Fatal("exit detail should not be empty")
	}
}
