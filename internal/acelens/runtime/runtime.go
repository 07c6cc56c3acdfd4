package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lexcodex/acelens/framework"
	"github.com/lexcodex/acelens/framework/apimap"
	"github.com/lexcodex/acelens/server"
)

// Runtime wires configuration, logging, telemetry, and the api map session
// for the CLI and the language server.
type Runtime struct {
	Config    Config
	Logger    *log.Logger
	Telemetry framework.Telemetry
	Metrics   *framework.MetricsTelemetry
	Registry  *prometheus.Registry

	mu      sync.Mutex
	closers []io.Closer
}

// New builds a runtime. Logs go to stderr, and additionally to cfg.LogPath
// when set; stdout is reserved for the LSP stream.
func New(ctx context.Context, cfg Config) (*Runtime, error) {
	if err := cfg.Normalize(); err != nil {
		return nil, err
	}
	rt := &Runtime{Config: cfg, Registry: prometheus.NewRegistry()}

	var out io.Writer = os.Stderr
	if cfg.LogPath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.LogPath), 0o755); err != nil {
			return nil, fmt.Errorf("create log directory: %w", err)
		}
		logFile, err := os.OpenFile(cfg.LogPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log: %w", err)
		}
		rt.track(logFile)
		out = io.MultiWriter(os.Stderr, logFile)
	}
	rt.Logger = log.New(out, "acelens ", log.LstdFlags|log.Lmicroseconds)

	metrics, err := framework.NewMetricsTelemetry(rt.Registry)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("register metrics: %w", err)
	}
	rt.Metrics = metrics
	sinks := []framework.Telemetry{metrics}
	if cfg.TelemetryPath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.TelemetryPath), 0o755); err != nil {
			rt.Close()
			return nil, fmt.Errorf("create telemetry directory: %w", err)
		}
		jsonSink, err := framework.NewJSONFileTelemetry(cfg.TelemetryPath)
		if err != nil {
			rt.Close()
			return nil, fmt.Errorf("open telemetry: %w", err)
		}
		rt.track(jsonSink)
		sinks = append(sinks, jsonSink)
	}
	if cfg.LogEvents {
		sinks = append(sinks, framework.LoggerTelemetry{Logger: rt.Logger})
	}
	rt.Telemetry = framework.MultiplexTelemetry{Sinks: sinks}

	if cfg.MetricsAddr != "" {
		rt.serveMetrics(ctx, cfg.MetricsAddr)
	}
	return rt, nil
}

// serveMetrics exposes the registry on addr. Request contexts derive from ctx.
func (r *Runtime) serveMetrics(ctx context.Context, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(r.Registry, promhttp.HandlerOpts{}))
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.Logger.Printf("metrics listener: %v", err)
		}
	}()
	r.track(closerFunc(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return srv.Shutdown(ctx)
	}))
	r.Logger.Printf("metrics on %s/metrics", addr)
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

func (r *Runtime) track(c io.Closer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closers = append(r.closers, c)
}

// Close releases log files, telemetry sinks, and the metrics listener.
func (r *Runtime) Close() error {
	r.mu.Lock()
	closers := r.closers
	r.closers = nil
	r.mu.Unlock()
	var errs []error
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// SessionFor builds the api map session for root. The workspace's own
// .acelens.yaml, when present, overrides source paths and the variant.
func (r *Runtime) SessionFor(root string) (*apimap.Session, error) {
	cfg := r.Config
	cfg.Workspace = root
	if root != r.Config.Workspace {
		cfg.ConfigPath = ""
		if err := cfg.LoadWorkspaceFile(root); err != nil {
			return nil, err
		}
		if err := cfg.Normalize(); err != nil {
			return nil, err
		}
	}
	decls, err := apimap.NewDeclarationExtractor(cfg.Variant)
	if err != nil {
		return nil, err
	}
	return apimap.NewSession(&apimap.Builder{
		Sources:      cfg.Sources(root),
		Declarations: decls,
		Loaders:      apimap.NewLoaderExtractor(cfg.ImportPrefix),
		Extension:    cfg.ImportExtension,
	}, r.Telemetry), nil
}

// NewServer returns a language server bound to this runtime. The server's
// shutdown releases the runtime's log file, telemetry sinks, and metrics
// listener along with its own watcher.
func (r *Runtime) NewServer() *server.LSPServer {
	srv := server.NewLSPServer(server.Options{
		Annotator: r.Config.Annotator(),
		Languages: r.Config.Languages,
		Sessions:  r.SessionFor,
		Telemetry: r.Telemetry,
		Logger:    r.Logger,
		Watch:     r.Config.Watch,
	})
	srv.Track(closerFunc(r.Close))
	return srv
}

// ServeStdio runs the language server on stdin/stdout.
func (r *Runtime) ServeStdio(ctx context.Context) error {
	srv := r.NewServer()
	r.Logger.Printf("serving LSP on stdio (variant=%s module=%s)", r.Config.Variant, r.Config.ModuleAlias)
	return srv.Serve(ctx, stdio{})
}

type stdio struct{}

func (stdio) Read(p []byte) (int, error)  { return os.Stdin.Read(p) }
func (stdio) Write(p []byte) (int, error) { return os.Stdout.Write(p) }
func (stdio) Close() error {
	_ = os.Stdin.Close()
	return os.Stdout.Close()
}
