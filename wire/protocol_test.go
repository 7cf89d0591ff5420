package wire_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/hazyhaar/vorschau/wire"
)

func TestParseSignalKnownTags(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		typ  string
	}{
		{"ready", `{"type":"ready","session":"s1"}`, wire.SigReady},
		{"size", `{"type":"size","session":"s1","height":420}`, wire.SigSize},
		{"runtime-error", `{"type":"runtime-error","session":"s1","message":"boom"}`, wire.SigRuntimeError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s, err := wire.ParseSignal([]byte(tc.raw))
			if err != nil {
				t.Fatal(err)
			}
			if s.Type != tc.typ {
				t.Fatalf("got type %q, want %q", s.Type, tc.typ)
			}
			if s.Session != "s1" {
				t.Fatalf("got session %q, want s1", s.Session)
			}
		})
	}
}

func TestParseSignalDeniesUnknownTag(t *testing.T) {
	_, err := wire.ParseSignal([]byte(`{"type":"navigate","url":"https://evil"}`))
	if !errors.Is(err, wire.ErrUnknownTag) {
		t.Fatalf("got %v, want ErrUnknownTag", err)
	}
}

func TestParseSignalRejectsBadShapes(t *testing.T) {
	cases := []string{
		`{"type":"size","height":-3}`,
		`{"type":"size","height":"tall"}`,
		`{"type":"runtime-error"}`,
		`not json at all`,
		`{"type":12}`,
	}
	for _, raw := range cases {
		if _, err := wire.ParseSignal([]byte(raw)); err == nil {
			t.Fatalf("accepted %s", raw)
		}
	}
}

func TestParseCommandValidatesPerTag(t *testing.T) {
	if _, err := wire.ParseCommand([]byte(`{"type":"theme","value":"dark"}`)); err != nil {
		t.Fatal(err)
	}
	if _, err := wire.ParseCommand([]byte(`{"type":"theme","value":"sepia"}`)); !errors.Is(err, wire.ErrBadPayload) {
		t.Fatalf("got %v, want ErrBadPayload", err)
	}
	if _, err := wire.ParseCommand([]byte(`{"type":"scroll","ratio":1.5}`)); !errors.Is(err, wire.ErrBadPayload) {
		t.Fatalf("got %v, want ErrBadPayload", err)
	}
	if _, err := wire.ParseCommand([]byte(`{"type":"exec","cmd":"rm"}`)); !errors.Is(err, wire.ErrUnknownTag) {
		t.Fatalf("got %v, want ErrUnknownTag", err)
	}
}

func TestScrollRatioBoundsInclusive(t *testing.T) {
	for _, ratio := range []float64{0, 0.5, 1} {
		if err := wire.ScrollCommand(ratio).Validate(); err != nil {
			t.Fatalf("ratio %v rejected: %v", ratio, err)
		}
	}
}

func TestProgramStringFormRoundTrip(t *testing.T) {
	p := wire.Program{
		{Kind: wire.NodeElement, Tag: "h1", Children: []wire.Node{{Kind: wire.NodeText, Text: "Title"}}},
		{Kind: wire.NodeComponent, Tag: "Callout", Attrs: map[string]string{"kind": "info"}},
	}
	code, err := wire.EncodeProgram(p)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(code, `"h1"`) {
		t.Fatalf("encoded form missing tag: %s", code)
	}
	got, err := wire.ParseProgram(code)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].Children[0].Text != "Title" || got[1].Tag != "Callout" {
		t.Fatalf("round trip mangled program: %+v", got)
	}
}

func TestEmptyProgramEncodesToEmptyString(t *testing.T) {
	code, err := wire.EncodeProgram(nil)
	if err != nil {
		t.Fatal(err)
	}
	if code != "" {
		t.Fatalf("got %q, want empty", code)
	}
	p, err := wire.ParseProgram("")
	if err != nil {
		t.Fatal(err)
	}
	if len(p) != 0 {
		t.Fatalf("got %d nodes, want none", len(p))
	}
}

func TestSuccessNormalizesNilFrontmatter(t *testing.T) {
	out := wire.Success("r1", "", nil)
	if out.Frontmatter == nil {
		t.Fatal("frontmatter should never be nil on success")
	}
	var decoded wire.Outcome
	decoded.ID = out.ID
	decoded.OK = out.OK
	decoded.Normalize()
	if decoded.Frontmatter == nil {
		t.Fatal("Normalize should restore the empty mapping")
	}
}
