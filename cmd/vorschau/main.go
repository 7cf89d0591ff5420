// Command vorschau is the live markdown preview daemon.
//
// Usage:
//
//	vorschau -in doc.md                     # watch and serve on :8473
//	vorschau -in doc.md -listen :9000 -theme dark
//	vorschau -config vorschau.yaml          # flags override file values
//	vorschau -in doc.md -mcp                # expose tools over MCP stdio
//
// The compile pipeline and the render surface run as re-executions of this
// binary (hidden -worker-mode and -surface-mode flags) so hostile content
// is confined to disposable child processes.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	_ "modernc.org/sqlite"

	"github.com/hazyhaar/vorschau/audit"
	"github.com/hazyhaar/vorschau/ipc"
	"github.com/hazyhaar/vorschau/preview"
	"github.com/hazyhaar/vorschau/scheduler"
	"github.com/hazyhaar/vorschau/surface"
	"github.com/hazyhaar/vorschau/surface/chromium"
	"github.com/hazyhaar/vorschau/viewer"
	"github.com/hazyhaar/vorschau/watch"
	"github.com/hazyhaar/vorschau/wire"
	"github.com/hazyhaar/vorschau/worker"
)

func main() {
	var (
		inPath   = flag.String("in", "", "markdown file to watch and preview")
		cfgPath  = flag.String("config", "", "path to vorschau.yaml config file (explicit flags override)")
		listen   = flag.String("listen", ":8473", "viewer listen address")
		theme    = flag.String("theme", wire.ThemeLight, "display theme: light or dark")
		dbPath   = flag.String("db", "", "audit database path (empty disables auditing)")
		logLevel = flag.String("log-level", "info", "log level: debug, info, warn, error")
		mcpMode  = flag.Bool("mcp", false, "serve MCP tools over stdio instead of watching a file")
		inproc   = flag.Bool("inproc", false, "compile in-process instead of in a sandboxed subprocess")
		chrome   = flag.Bool("chromium", false, "render in a headless-Chrome page instead of the subprocess surface")

		// Child modes; never passed by users.
		workerMode  = flag.Bool("worker-mode", false, "")
		surfaceMode = flag.Bool("surface-mode", false, "")
		session     = flag.String("session", "", "")
	)
	flag.Parse()

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if *workerMode {
		if err := runWorker(logger); err != nil {
			logger.Error("vorschau: worker loop", "error", err)
			os.Exit(1)
		}
		return
	}
	if *surfaceMode {
		if err := surface.Serve(os.Stdin, os.Stdout, *session, nil, logger); err != nil {
			logger.Error("vorschau: surface loop", "error", err)
			os.Exit(1)
		}
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts := options{
		in:       *inPath,
		listen:   *listen,
		theme:    *theme,
		db:       *dbPath,
		mcp:      *mcpMode,
		inproc:   *inproc,
		chromium: *chrome,
	}
	if *cfgPath != "" {
		fc, err := loadConfigFile(*cfgPath)
		if err != nil {
			logger.Error("vorschau: load config", "error", err)
			os.Exit(1)
		}
		set := make(map[string]bool)
		flag.Visit(func(f *flag.Flag) { set[f.Name] = true })
		fc.merge(&opts, set)
	}
	if err := run(ctx, logger, opts); err != nil &&
		!errors.Is(err, context.Canceled) {
		logger.Error("vorschau: fatal", "error", err)
		os.Exit(1)
	}
}

// runWorker is the child side of a compilation unit: resource limits
// first, then the frame loop on the inherited pipes.
func runWorker(logger *slog.Logger) error {
	if err := ipc.ApplySandbox(ipc.SandboxConfig{}); err != nil {
		logger.Warn("vorschau: sandbox limits not fully applied", "error", err)
	}
	return worker.Serve(os.Stdin, os.Stdout, nil, logger)
}

type options struct {
	in, listen, theme, db string
	mcp, inproc, chromium bool
	debounce              time.Duration
}

func run(ctx context.Context, logger *slog.Logger, opts options) error {
	if opts.in == "" && !opts.mcp {
		fmt.Fprintln(os.Stderr, "usage: vorschau -in <file.md> [-listen :8473] [-theme dark] [-db audit.db] [-config vorschau.yaml] | vorschau -mcp")
		os.Exit(1)
	}
	if opts.theme != wire.ThemeLight && opts.theme != wire.ThemeDark {
		return fmt.Errorf("vorschau: unknown theme %q", opts.theme)
	}

	var auditLog *audit.Log
	if opts.db != "" {
		l, err := audit.Open(opts.db, logger)
		if err != nil {
			return err
		}
		defer l.Close()
		auditLog = l
	}

	start := func() (worker.Unit, error) {
		if opts.inproc {
			return worker.NewInproc(worker.InprocConfig{Logger: logger}), nil
		}
		return worker.StartProc(worker.ProcConfig{Logger: logger})
	}
	sched, err := scheduler.New(scheduler.Config{Start: start, Logger: logger})
	if err != nil {
		return err
	}

	// The surface's signal callbacks can fire before the bridge and engine
	// exist; they block on the gate until wiring is complete.
	var (
		wired sync.WaitGroup
		br    *preview.Bridge
		eng   *preview.Engine
		view  *viewer.Server
	)
	wired.Add(1)

	var sink preview.CommandSink
	if opts.chromium {
		csurf, err := chromium.Start(chromium.Config{Logger: logger})
		if err != nil {
			sched.Teardown()
			return err
		}
		sink = csurf.Sink(
			func(h int) { wired.Wait(); br.HandleSize(h) },
			func(msg, stack string) { wired.Wait(); br.HandleRuntimeError(msg, stack) },
		)
	} else {
		surf, err := surface.Start(surface.Config{
			Logger:         logger,
			OnReady:        func() { wired.Wait(); br.HandleReady() },
			OnSize:         func(h int) { wired.Wait(); br.HandleSize(h) },
			OnRuntimeError: func(msg, stack string) { wired.Wait(); br.HandleRuntimeError(msg, stack) },
		})
		if err != nil {
			sched.Teardown()
			return err
		}
		sink = surf
	}

	br = preview.NewBridge(sink, preview.BridgeConfig{
		Logger:         logger,
		OnRuntimeError: func(msg, stack string) { eng.HandleRuntimeError(msg, stack) },
	})

	engCfg := preview.EngineConfig{
		Scheduler: sched,
		Bridge:    br,
		Logger:    logger,
		OnUpdate: func() {
			if view != nil {
				view.NotifyReload()
			}
		},
	}
	if auditLog != nil {
		engCfg.Recorder = auditLog
	}
	eng = preview.NewEngine(engCfg)
	defer eng.Close()
	eng.SetTheme(opts.theme)

	wired.Done()
	if opts.chromium {
		// No handshake with a directly driven page; the surface is live
		// the moment the browser is.
		br.HandleReady()
	}

	if opts.mcp {
		logger.Info("vorschau: serving MCP tools on stdio")
		srv := mcp.NewServer(&mcp.Implementation{Name: "vorschau", Version: "1.0.0"}, nil)
		eng.RegisterMCP(srv)
		return srv.Run(ctx, &mcp.StdioTransport{})
	}

	w := watch.New(opts.in, watch.Options{Logger: logger, Debounce: opts.debounce})
	view, err = viewer.New(viewer.Config{
		Engine: eng,
		Logger: logger,
		StatusExtra: func() map[string]any {
			return map[string]any{"source": opts.in, "watch": w.Stats()}
		},
	})
	if err != nil {
		return err
	}

	httpSrv := &http.Server{Addr: opts.listen, Handler: view.Handler()}
	errc := make(chan error, 2)
	go func() {
		logger.Info("vorschau: serving", "addr", opts.listen, "source", opts.in)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errc <- err
		}
	}()
	go func() {
		errc <- w.Run(ctx, func(content []byte) { eng.SetSource(string(content)) })
	}()

	select {
	case <-ctx.Done():
	case err := <-errc:
		if err != nil && !errors.Is(err, context.Canceled) {
			shutdown(httpSrv, logger)
			return err
		}
	}

	shutdown(httpSrv, logger)
	return ctx.Err()
}

func shutdown(srv *http.Server, logger *slog.Logger) {
	sctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		logger.Warn("vorschau: http shutdown", "error", err)
	}
}
