package worker

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/hazyhaar/vorschau/compiler"
	"github.com/hazyhaar/vorschau/ipc"
	"github.com/hazyhaar/vorschau/wire"
)

// Serve runs the child side of a subprocess unit: read request frames,
// compile, write outcome frames. It returns nil when the host closes the
// request stream. Malformed frames are logged and skipped; compilation
// itself cannot fail the loop because Compile never panics.
func Serve(r io.Reader, w io.Writer, c *compiler.Compiler, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	if c == nil {
		c = compiler.New(compiler.Config{Logger: logger})
	}

	dec := ipc.NewDecoder(r)
	enc := ipc.NewEncoder(w)

	for {
		frame, err := dec.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("worker: request stream: %w", err)
		}

		var req wire.CompileRequest
		if err := json.Unmarshal(frame, &req); err != nil {
			logger.Warn("worker: dropping malformed request frame", "error", err)
			continue
		}
		if req.ID == "" {
			logger.Warn("worker: dropping request without id")
			continue
		}

		if err := enc.Encode(c.Compile(req.ID, req.Source)); err != nil {
			return fmt.Errorf("worker: write outcome: %w", err)
		}
	}
}
