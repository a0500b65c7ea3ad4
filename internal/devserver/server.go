// Package devserver serves a generated site locally, rebuilding it when
// project sources change and pushing reloads to connected browsers.
package devserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-co-op/gocron/v2"
	prom "github.com/prometheus/client_golang/prometheus"

	"git.home.luguber.info/inful/stalagmite/internal/config"
	"git.home.luguber.info/inful/stalagmite/internal/generator"
	"git.home.luguber.info/inful/stalagmite/internal/logfields"
	"git.home.luguber.info/inful/stalagmite/internal/metrics"
)

// StatusPath reports the last build as JSON.
const StatusPath = "/__stalagmite/status"

const shutdownTimeout = 5 * time.Second

// Builder runs one generation. *generator.Generator satisfies it.
type Builder interface {
	Generate(ctx context.Context, opts generator.RunOptions) (*generator.BuildReport, error)
}

// Status describes the most recent build.
type Status struct {
	OK           bool      `json:"ok"`
	HasGoodBuild bool      `json:"has_good_build"`
	RunID        string    `json:"run_id,omitempty"`
	Outcome      string    `json:"outcome,omitempty"`
	Summary      string    `json:"summary,omitempty"`
	Error        string    `json:"error,omitempty"`
	Builds       int       `json:"builds"`
	FinishedAt   time.Time `json:"finished_at,omitzero"`
}

// buildStatus tracks the current build state for error display.
type buildStatus struct {
	mu sync.RWMutex
	s  Status
}

func (bs *buildStatus) record(report *generator.BuildReport, err error) Status {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	bs.s.Builds++
	bs.s.FinishedAt = time.Now()
	bs.s.OK = err == nil
	bs.s.Error = ""
	if err != nil {
		bs.s.Error = err.Error()
	}
	if report != nil {
		bs.s.RunID = report.RunID
		bs.s.Outcome = report.Outcome
		bs.s.Summary = report.Summary()
		if report.Published {
			bs.s.HasGoodBuild = true
		}
	}
	return bs.s
}

func (bs *buildStatus) get() Status {
	bs.mu.RLock()
	defer bs.mu.RUnlock()
	return bs.s
}

// Server is the development server.
type Server struct {
	builder    Builder
	project    config.Project
	serve      config.ServeConfig
	watchFiles []string
	registry   *prom.Registry
	logger     *slog.Logger

	hub        *Hub
	status     buildStatus
	rebuildReq chan struct{}

	debounceMu sync.Mutex
	debounce   *time.Timer

	addrMu sync.Mutex
	addr   net.Addr
	ready  chan struct{}
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(l *slog.Logger) Option { return func(s *Server) { s.logger = l } }

// WithRegistry exposes reg on /metrics.
func WithRegistry(reg *prom.Registry) Option { return func(s *Server) { s.registry = reg } }

// WithWatchFiles adds individual files, such as the config file, to the watch set.
func WithWatchFiles(files ...string) Option {
	return func(s *Server) { s.watchFiles = append(s.watchFiles, files...) }
}

// New creates a server for project.
func New(builder Builder, project config.Project, serve config.ServeConfig, opts ...Option) *Server {
	s := &Server{
		builder:    builder,
		project:    project,
		serve:      serve,
		logger:     slog.Default(),
		rebuildReq: make(chan struct{}, 1),
		ready:      make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	s.hub = NewHub(s.logger)
	return s
}

func (s *Server) liveReload() bool { return s.serve.LiveReload == nil || *s.serve.LiveReload }

// Status returns the last build status.
func (s *Server) Status() Status { return s.status.get() }

// Addr blocks until the server listens and returns its address.
func (s *Server) Addr(ctx context.Context) (net.Addr, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.ready:
	}
	s.addrMu.Lock()
	defer s.addrMu.Unlock()
	return s.addr, nil
}

// Handler returns the HTTP handler serving the site and dev endpoints.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	if s.liveReload() {
		mux.Handle(SocketPath, s.hub)
		mux.HandleFunc(ScriptPath, func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/javascript; charset=utf-8")
			w.Header().Set("Cache-Control", "no-store")
			_, _ = w.Write([]byte(ClientScript()))
		})
	}
	mux.HandleFunc(StatusPath, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(s.status.get())
	})
	if s.registry != nil {
		mux.Handle("/metrics", metrics.HTTPHandler(s.registry))
	}
	mux.HandleFunc("/", s.serveSite)
	return mux
}

// serveSite serves files from the live output. HTML documents get the
// live-reload script injected.
func (s *Server) serveSite(w http.ResponseWriter, r *http.Request) {
	st := s.status.get()
	if !st.HasGoodBuild && st.Builds > 0 {
		http.Error(w, "build failed: "+st.Error, http.StatusServiceUnavailable)
		return
	}

	clean := path.Clean("/" + r.URL.Path)
	file := filepath.Join(s.project.Output, filepath.FromSlash(clean))
	info, err := os.Stat(file)
	if err == nil && info.IsDir() {
		file = filepath.Join(file, "index.html")
		info, err = os.Stat(file)
	}
	if err != nil {
		http.NotFound(w, r)
		return
	}
	if !s.liveReload() || filepath.Ext(file) != ".html" {
		http.ServeFile(w, r, file)
		return
	}

	data, err := os.ReadFile(file)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	out, err := InjectScript(data, ScriptPath)
	if err != nil {
		s.logger.Debug("Script injection failed, serving as is", logfields.Path(file), logfields.Error(err))
		out = data
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Last-Modified", info.ModTime().UTC().Format(http.TimeFormat))
	_, _ = w.Write(out)
}

// Run performs an initial build, then serves and watches until ctx ends.
func (s *Server) Run(ctx context.Context) error {
	s.rebuild(ctx)

	ln, err := net.Listen("tcp", s.serve.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.serve.Addr, err)
	}
	srv := &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}
	s.addrMu.Lock()
	s.addr = ln.Addr()
	s.addrMu.Unlock()
	close(s.ready)

	serveErr := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()
	s.logger.Info("Development server listening", slog.String("url", "http://"+ln.Addr().String()))

	watcher, err := newWatcher(
		[]string{s.project.Content, s.project.Layouts, s.project.Blocks, s.project.Assets},
		s.watchFiles, s.logger)
	if err != nil {
		_ = srv.Close()
		return err
	}
	defer func() { _ = watcher.Close() }()

	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		s.rebuildWorker(ctx)
	}()

	if interval := s.serve.PollDuration(); interval > 0 {
		sched, err := s.startPoller(interval)
		if err != nil {
			_ = srv.Close()
			return err
		}
		defer func() { _ = sched.Shutdown() }()
	}

	loopErr := s.watchLoop(ctx, watcher, serveErr)

	s.logger.Info("Shutting down development server")
	s.stopDebounce()
	s.hub.Close()
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("HTTP server shutdown error", logfields.Error(err))
	}
	<-workerDone
	return loopErr
}

func (s *Server) watchLoop(ctx context.Context, watcher *fsnotify.Watcher, serveErr <-chan error) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case err, ok := <-serveErr:
			if ok && err != nil {
				return fmt.Errorf("http server: %w", err)
			}
			serveErr = nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			s.handleFileEvent(watcher, ev)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn("Watcher error", logfields.Error(err))
		}
	}
}

func (s *Server) handleFileEvent(watcher *fsnotify.Watcher, ev fsnotify.Event) {
	if shouldIgnoreEvent(ev.Name) || within(ev.Name, s.project.Output) || within(ev.Name, s.project.State) {
		return
	}
	if ev.Has(fsnotify.Create) {
		if fi, err := os.Stat(ev.Name); err == nil && fi.IsDir() {
			addDirsRecursive(watcher, ev.Name, s.logger)
		}
	}
	s.logger.Debug("File change detected", logfields.Path(ev.Name), slog.String("op", ev.Op.String()))
	s.trigger()
}

// trigger schedules a rebuild after the debounce window. Each call
// restarts the window.
func (s *Server) trigger() {
	s.debounceMu.Lock()
	defer s.debounceMu.Unlock()
	if s.debounce != nil {
		s.debounce.Stop()
	}
	s.debounce = time.AfterFunc(s.serve.DebounceDuration(), s.request)
}

func (s *Server) stopDebounce() {
	s.debounceMu.Lock()
	defer s.debounceMu.Unlock()
	if s.debounce != nil {
		s.debounce.Stop()
	}
}

// request queues a rebuild. At most one request waits while a build runs.
func (s *Server) request() {
	select {
	case s.rebuildReq <- struct{}{}:
	default:
	}
}

func (s *Server) rebuildWorker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.rebuildReq:
			s.logger.Info("Change detected; rebuilding site")
			s.rebuild(ctx)
		}
	}
}

// rebuild runs one generation and tells browsers about the result.
// A partial build is published, so clients still reload.
func (s *Server) rebuild(ctx context.Context) {
	report, err := s.builder.Generate(ctx, generator.RunOptions{})
	if ctx.Err() != nil {
		return
	}
	st := s.status.record(report, err)
	switch {
	case err == nil:
		s.logger.Info("Build complete", slog.String("summary", st.Summary))
		s.hub.Broadcast(Message{Type: MessageReload, RunID: st.RunID})
	case errors.Is(err, generator.ErrPartialBuild):
		s.logger.Warn("Build published with failures", slog.String("summary", st.Summary))
		s.hub.Broadcast(Message{Type: MessageReload, RunID: st.RunID})
	default:
		s.logger.Error("Build failed", logfields.Error(err))
		s.hub.Broadcast(Message{Type: MessageError, RunID: st.RunID, Error: err.Error()})
	}
}

// startPoller schedules periodic rebuilds for sources fsnotify cannot see,
// such as network mounts.
func (s *Server) startPoller(interval time.Duration) (gocron.Scheduler, error) {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}
	if _, err := sched.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(s.request),
		gocron.WithName("poll-rebuild"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	); err != nil {
		_ = sched.Shutdown()
		return nil, fmt.Errorf("schedule poll rebuild: %w", err)
	}
	sched.Start()
	s.logger.Info("Polling for changes", slog.Duration("interval", interval))
	return sched, nil
}
