package devserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/stalagmite/internal/config"
	"git.home.luguber.info/inful/stalagmite/internal/generator"
)

type fakeBuilder struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeBuilder) Generate(_ context.Context, _ generator.RunOptions) (*generator.BuildReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return &generator.BuildReport{
		RunID:     fmt.Sprintf("run-%d", f.calls),
		Published: f.err == nil || errors.Is(f.err, generator.ErrPartialBuild),
		Outcome:   string(generator.OutcomeSuccess),
	}, f.err
}

func (f *fakeBuilder) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func testProject(t *testing.T) config.Project {
	t.Helper()
	root := t.TempDir()
	p := config.Project{
		Root:    root,
		Content: filepath.Join(root, "pages"),
		Layouts: filepath.Join(root, "layouts"),
		Blocks:  filepath.Join(root, "blocks"),
		Assets:  filepath.Join(root, "assets"),
		Output:  filepath.Join(root, "public"),
		State:   filepath.Join(root, ".stalagmite"),
	}
	for _, d := range []string{p.Content, p.Layouts, p.Output} {
		require.NoError(t, os.MkdirAll(d, 0o755))
	}
	return p
}

func serveConfig() config.ServeConfig {
	return config.ServeConfig{Addr: "127.0.0.1:0", Debounce: "20ms"}
}

func TestInjectScript(t *testing.T) {
	out, err := InjectScript([]byte("<html><head><title>x</title></head><body><p>hi</p></body></html>"), ScriptPath)
	require.NoError(t, err)
	require.Contains(t, string(out), `<p>hi</p><script src="/__stalagmite/livereload.js"></script></body>`)
	require.Contains(t, string(out), "<title>x</title>")

	out, err = InjectScript([]byte("<p>fragment</p>"), ScriptPath)
	require.NoError(t, err)
	require.Contains(t, string(out), `<body><p>fragment</p><script src="/__stalagmite/livereload.js"></script></body>`)
}

func TestClientScriptUsesSocketPath(t *testing.T) {
	require.Contains(t, ClientScript(), SocketPath)
}

func TestShouldIgnoreEvent(t *testing.T) {
	cases := map[string]bool{
		"/site/pages/index.md":       false,
		"/site/layouts/primary.tmpl": false,
		"/site/pages/.hidden.md":     true,
		"/site/pages/index.md~":      true,
		"/site/pages/.index.md.swp":  true,
		"/site/pages/index.md.swx":   true,
		"/site/pages/#index.md#":     true,
		"/site/pages/.#index.md":     true,
		"/site/pages/4913":           true,
		"/site/assets/.DS_Store":     true,
		"/site/blog/rules.yaml":      false,
		"/site/assets/style.css":     false,
	}
	for p, want := range cases {
		require.Equal(t, want, shouldIgnoreEvent(p), p)
	}
}

func TestWithin(t *testing.T) {
	require.True(t, within("/site/public", "/site/public"))
	require.True(t, within("/site/public/a/b.html", "/site/public"))
	require.False(t, within("/site/public-old/a.html", "/site/public"))
	require.False(t, within("/site/pages/a.md", "/site/public"))
	require.False(t, within("/site/pages/a.md", ""))
}

func TestSiteHandlerInjectsIntoHTML(t *testing.T) {
	p := testProject(t)
	require.NoError(t, os.WriteFile(filepath.Join(p.Output, "index.html"), []byte("<html><body>home</body></html>"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(p.Output, "about"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(p.Output, "about", "index.html"), []byte("<html><body>about</body></html>"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(p.Output, "style.css"), []byte("body{}"), 0o644))

	s := New(&fakeBuilder{}, p, serveConfig(), WithLogger(quietLogger()))
	s.rebuild(t.Context())
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	get := func(path string) (int, string) {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		return resp.StatusCode, string(body)
	}

	code, body := get("/")
	require.Equal(t, http.StatusOK, code)
	require.Contains(t, body, "home")
	require.Contains(t, body, ScriptPath)

	code, body = get("/about/")
	require.Equal(t, http.StatusOK, code)
	require.Contains(t, body, "about")
	require.Contains(t, body, ScriptPath)

	code, body = get("/style.css")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "body{}", body)

	code, _ = get("/missing/")
	require.Equal(t, http.StatusNotFound, code)

	code, body = get(ScriptPath)
	require.Equal(t, http.StatusOK, code)
	require.Contains(t, body, "WebSocket")
}

func TestSiteHandlerWithoutLiveReload(t *testing.T) {
	p := testProject(t)
	require.NoError(t, os.WriteFile(filepath.Join(p.Output, "index.html"), []byte("<html><body>home</body></html>"), 0o644))
	off := false
	cfg := serveConfig()
	cfg.LiveReload = &off

	s := New(&fakeBuilder{}, p, cfg, WithLogger(quietLogger()))
	s.rebuild(t.Context())
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NotContains(t, string(body), ScriptPath)

	resp, err = http.Get(srv.URL + ScriptPath)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestFailedFirstBuildIsReported(t *testing.T) {
	p := testProject(t)
	b := &fakeBuilder{err: errors.New("layout missing")}
	s := New(b, p, serveConfig(), WithLogger(quietLogger()))
	s.rebuild(t.Context())
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	require.Contains(t, string(body), "layout missing")

	resp, err = http.Get(srv.URL + StatusPath)
	require.NoError(t, err)
	defer resp.Body.Close()
	var st Status
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&st))
	require.False(t, st.OK)
	require.False(t, st.HasGoodBuild)
	require.Equal(t, 1, st.Builds)
	require.Equal(t, "layout missing", st.Error)
}

func TestPartialBuildStillServes(t *testing.T) {
	p := testProject(t)
	require.NoError(t, os.WriteFile(filepath.Join(p.Output, "index.html"), []byte("<p>ok</p>"), 0o644))
	s := New(&fakeBuilder{err: generator.ErrPartialBuild}, p, serveConfig(), WithLogger(quietLogger()))
	s.rebuild(t.Context())

	st := s.Status()
	require.False(t, st.OK)
	require.True(t, st.HasGoodBuild)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prom.NewRegistry()
	c := prom.NewCounter(prom.CounterOpts{Name: "devserver_test_total", Help: "test"})
	reg.MustRegister(c)
	c.Inc()

	s := New(&fakeBuilder{}, testProject(t), serveConfig(), WithLogger(quietLogger()), WithRegistry(reg))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "devserver_test_total 1")
}

func TestHubBroadcast(t *testing.T) {
	hub := NewHub(quietLogger())
	srv := httptest.NewServer(hub)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	require.Eventually(t, func() bool { return hub.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)
	hub.Broadcast(Message{Type: MessageReload, RunID: "abc"})

	typ, data, err := conn.Read(ctx)
	require.NoError(t, err)
	require.Equal(t, websocket.MessageText, typ)
	var msg Message
	require.NoError(t, json.Unmarshal(data, &msg))
	require.Equal(t, Message{Type: MessageReload, RunID: "abc"}, msg)

	hub.Close()
	_, _, err = conn.Read(ctx)
	require.Error(t, err)
	require.Equal(t, websocket.StatusGoingAway, websocket.CloseStatus(err))
	require.Eventually(t, func() bool { return hub.Clients() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestTriggerCoalescesBursts(t *testing.T) {
	b := &fakeBuilder{}
	s := New(b, testProject(t), serveConfig(), WithLogger(quietLogger()))

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.rebuildWorker(ctx)
	}()

	for range 5 {
		s.trigger()
	}
	require.Eventually(t, func() bool { return b.count() == 1 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	require.Equal(t, 1, b.count())

	cancel()
	<-done
}

func TestRunRebuildsOnChange(t *testing.T) {
	p := testProject(t)
	require.NoError(t, os.WriteFile(filepath.Join(p.Content, "index.md"), []byte("# hi\n"), 0o644))
	b := &fakeBuilder{}
	s := New(b, p, serveConfig(), WithLogger(quietLogger()))

	ctx, cancel := context.WithCancel(t.Context())
	runErr := make(chan error, 1)
	go func() { runErr <- s.Run(ctx) }()

	addrCtx, addrCancel := context.WithTimeout(ctx, 5*time.Second)
	defer addrCancel()
	addr, err := s.Addr(addrCtx)
	require.NoError(t, err)
	require.Equal(t, 1, b.count())

	// The watcher is registered after the listener; give it a moment.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.MkdirAll(filepath.Join(p.Content, "blog"), 0o755))
	require.Eventually(t, func() bool { return b.count() >= 2 }, 5*time.Second, 20*time.Millisecond)

	time.Sleep(100 * time.Millisecond)
	before := b.count()
	require.NoError(t, os.WriteFile(filepath.Join(p.Content, "blog", "post.md"), []byte("# post\n"), 0o644))
	require.Eventually(t, func() bool { return b.count() > before }, 5*time.Second, 20*time.Millisecond)

	resp, err := http.Get("http://" + addr.String() + StatusPath)
	require.NoError(t, err)
	var st Status
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&st))
	resp.Body.Close()
	require.True(t, st.OK)
	require.GreaterOrEqual(t, st.Builds, 3)

	cancel()
	select {
	case err := <-runErr:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("server did not stop")
	}
}
