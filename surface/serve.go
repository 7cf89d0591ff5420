package surface

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/hazyhaar/vorschau/ipc"
	"github.com/hazyhaar/vorschau/render"
	"github.com/hazyhaar/vorschau/wire"
)

// Serve runs the child side of a render surface: announce readiness, then
// interpret render/theme/scroll commands against the render runtime,
// reporting content height after every re-render and interpretation
// failures as runtime-error signals. The loop ends when the host closes
// the command stream.
//
// The child never gains authority from a hostile program: unknown command
// tags are dropped, interpretation is sandboxed by the renderer's
// whitelists, and a runtime error leaves the previous document in place.
func Serve(r io.Reader, w io.Writer, session string, rr *render.Renderer, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	if rr == nil {
		rr = render.New(render.Config{})
	}

	dec := ipc.NewDecoder(r)
	enc := ipc.NewEncoder(w)

	if err := enc.Encode(wire.ReadySignal(session)); err != nil {
		return fmt.Errorf("surface: announce ready: %w", err)
	}

	var (
		program     wire.Program
		frontmatter map[string]any
		theme       = wire.ThemeLight
		doc         render.Doc
		offset      int
	)

	rerender := func() error {
		d, err := rr.Render(program, theme, frontmatter)
		if err != nil {
			rerr := err.(*render.RuntimeError)
			logger.Warn("surface: render failed", "error", rerr.Message)
			return enc.Encode(wire.RuntimeErrorSignal(session, rerr.Message, rerr.ComponentStack))
		}
		doc = d
		return enc.Encode(wire.SizeSignal(session, doc.Height))
	}

	for {
		frame, err := dec.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("surface: command stream: %w", err)
		}

		cmd, err := wire.ParseCommand(frame)
		if err != nil {
			// Deny by default: unknown tags and malformed payloads are
			// dropped without a signal.
			logger.Debug("surface: dropping invalid command", "error", err)
			continue
		}

		switch cmd.Type {
		case wire.CmdRender:
			p, err := wire.ParseProgram(cmd.Code)
			if err != nil {
				if err := enc.Encode(wire.RuntimeErrorSignal(session, "invalid render program: "+err.Error(), "")); err != nil {
					return err
				}
				continue
			}
			program, frontmatter = p, cmd.Frontmatter
			if err := rerender(); err != nil {
				return err
			}
		case wire.CmdTheme:
			theme = cmd.Value
			if err := rerender(); err != nil {
				return err
			}
		case wire.CmdScroll:
			// The surface draws for itself; no signal is owed back.
			offset = rr.ScrollOffset(doc, cmd.Ratio)
			logger.Debug("surface: scrolled", "ratio", cmd.Ratio, "offset", offset)
		}
	}
}
