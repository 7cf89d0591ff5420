// Package viewer serves a live preview session over HTTP: the viewer page
// with its sandboxed preview frame, the rendered document itself, a JSON
// status endpoint, and a websocket that pushes reload notifications on
// every applied update.
package viewer

import (
	"encoding/json"
	"fmt"
	"html"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/vorschau/preview"
	"github.com/hazyhaar/vorschau/render"
	"github.com/hazyhaar/vorschau/shield"
	"github.com/hazyhaar/vorschau/wire"
)

// Config configures a viewer Server.
type Config struct {
	// Engine is the preview session to serve. Required.
	Engine *preview.Engine

	// Renderer interprets the last good program for the preview frame.
	// Nil takes the default.
	Renderer *render.Renderer

	// StatusExtra contributes extra fields to GET /status. Optional.
	StatusExtra func() map[string]any

	Logger *slog.Logger
}

func (c *Config) defaults() error {
	if c.Engine == nil {
		return fmt.Errorf("viewer: Config.Engine is required")
	}
	if c.Renderer == nil {
		c.Renderer = render.New(render.Config{})
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return nil
}

// Server is the viewer HTTP surface.
type Server struct {
	cfg Config
	hub *hub
}

// New creates a Server. Wire NotifyReload into the engine's OnUpdate to
// push refreshes.
func New(cfg Config) (*Server, error) {
	if err := cfg.defaults(); err != nil {
		return nil, err
	}
	return &Server{cfg: cfg, hub: newHub(cfg.Logger)}, nil
}

// NotifyReload pushes a reload notification to every connected viewer.
func (s *Server) NotifyReload() {
	s.hub.broadcast("reload")
}

// Handler returns the router with the full middleware stack applied.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	for _, mw := range shield.DefaultStack() {
		r.Use(mw)
	}
	r.Get("/", s.handlePage)
	r.Get("/preview", s.handlePreview)
	r.Get("/status", s.handleStatus)
	r.Get("/ws", s.hub.handle)
	return r
}

// handlePage serves the viewer chrome: status line, sandboxed preview
// frame, reload script.
func (s *Server) handlePage(w http.ResponseWriter, r *http.Request) {
	snap := s.cfg.Engine.Snapshot()
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(w, viewerPage, html.EscapeString(snap.Phase))
}

// handlePreview serves the rendered document for the sandboxed frame. The
// page carries its own deny-all content policy; the frame's sandbox
// attribute strips script execution on top of that.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	snap := s.cfg.Engine.Snapshot()
	w.Header().Set("Content-Type", "text/html; charset=utf-8")

	last := snap.LastGood
	if last == nil {
		fmt.Fprintf(w, emptyPreview, html.EscapeString(snap.Theme))
		return
	}

	p, err := wire.ParseProgram(last.Code)
	if err != nil {
		shield.GetLogger(r.Context()).Error("viewer: stored program unreadable", "error", err)
		http.Error(w, "preview unavailable", http.StatusInternalServerError)
		return
	}
	doc, err := s.cfg.Renderer.Render(p, snap.Theme, last.Frontmatter)
	if err != nil {
		shield.GetLogger(r.Context()).Warn("viewer: render failed", "error", err)
		http.Error(w, "preview unavailable", http.StatusInternalServerError)
		return
	}
	fmt.Fprint(w, render.Shell(doc, snap.Theme))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap := s.cfg.Engine.Snapshot()
	body := map[string]any{
		"phase":       snap.Phase,
		"theme":       snap.Theme,
		"pending":     snap.Pending,
		"height":      snap.Height,
		"diagnostics": snap.Diagnostics,
		"has_render":  snap.LastGood != nil,
		"viewers":     s.hub.count(),
	}
	if s.cfg.StatusExtra != nil {
		for k, v := range s.cfg.StatusExtra() {
			body[k] = v
		}
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(body); err != nil {
		shield.GetLogger(r.Context()).Warn("viewer: status encode failed", "error", err)
	}
}

const viewerPage = `<!doctype html>
<html>
<head>
<meta charset="utf-8">
<title>vorschau</title>
<style>
body{margin:0;display:flex;flex-direction:column;height:100vh;font:13px system-ui,sans-serif}
header{padding:6px 12px;background:#222;color:#ccc;display:flex;gap:12px}
iframe{flex:1;border:0;width:100%%}
</style>
</head>
<body>
<header><span>vorschau</span><span id="phase">%s</span></header>
<iframe id="preview" src="/preview" sandbox=""></iframe>
<script>
(function () {
  var frame = document.getElementById("preview");
  function connect() {
    var proto = location.protocol === "https:" ? "wss:" : "ws:";
    var ws = new WebSocket(proto + "//" + location.host + "/ws");
    ws.onmessage = function (ev) {
      var msg = JSON.parse(ev.data);
      if (msg.type === "reload") {
        frame.src = "/preview?t=" + Date.now();
        fetch("/status").then(function (r) { return r.json(); }).then(function (s) {
          document.getElementById("phase").textContent = s.phase;
        });
      }
    };
    ws.onclose = function () { setTimeout(connect, 1000); };
  }
  connect();
})();
</script>
</body>
</html>`

const emptyPreview = `<!doctype html>
<html>
<head>
<meta charset="utf-8">
<meta http-equiv="Content-Security-Policy" content="default-src 'none'; style-src 'unsafe-inline'">
<style>body{font:14px system-ui,sans-serif;color:#888;padding:24px}</style>
</head>
<body class="theme-%s"><p>Nothing rendered yet.</p></body>
</html>`
