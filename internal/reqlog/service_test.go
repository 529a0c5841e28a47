package reqlog

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/G1D0/reqlog/internal/observe"
)

// collector is a Create-only adapter that keeps every resource.
type collector struct {
	mu        sync.Mutex
	resources []Resource
	err       error
}

func (c *collector) Create(_ context.Context, res Resource) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resources = append(c.resources, res)
	return c.err
}

func (c *collector) all() []Resource {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Resource(nil), c.resources...)
}

// journal records the order of announce and create calls.
type journal struct {
	mu     sync.Mutex
	events []string
}

func (j *journal) add(event string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.events = append(j.events, event)
}

func (j *journal) Announce(_ context.Context, res Resource) error {
	// Give create a chance to overtake if ordering were not enforced.
	time.Sleep(20 * time.Millisecond)
	if res.Response != nil {
		return errors.New("announce got a response")
	}
	j.add("announce:" + res.ID)
	return nil
}

func (j *journal) Create(_ context.Context, res Resource) error {
	j.add("create:" + res.ID)
	return nil
}

func newTestService(t *testing.T, opts Options) *Service {
	t.Helper()
	if opts.Diagnostics == nil {
		opts.Diagnostics = observe.Nop()
	}
	svc := New(opts)
	t.Cleanup(func() { _ = svc.Close() })
	return svc
}

func isoTimestamp() string {
	return time.Now().UTC().Format("2006-01-02T15:04:05.000Z")
}

func TestServiceLogsPlainResponse(t *testing.T) {
	t.Parallel()

	col := &collector{}
	svc := newTestService(t, Options{LoggerAdapter: col})

	srv := httptest.NewServer(svc.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, isoTimestamp())
	})))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/")
	require.NoError(t, err)
	sent, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	require.NoError(t, svc.Close())
	got := col.all()
	require.Len(t, got, 1)

	res := got[0]
	assert.Equal(t, http.MethodGet, res.Request.Method)
	assert.Equal(t, "/", res.Request.URL)
	require.NotNil(t, res.Response)
	assert.Equal(t, http.StatusOK, res.Response.StatusCode)
	assert.Equal(t, map[string]string{}, res.Response.Headers)
	assert.Equal(t, string(sent), res.Response.Body)
	assert.NotEmpty(t, res.ID)
	assert.Positive(t, res.Duration)
}

func TestServiceLogsJSONResponse(t *testing.T) {
	t.Parallel()

	col := &collector{}
	svc := newTestService(t, Options{LoggerAdapter: col})

	srv := httptest.NewServer(svc.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var in map[string]any
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-Custom", "not logged")
		_ = json.NewEncoder(w).Encode(map[string]bool{"ok": true})
	})))
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/?dry=1", "application/json", strings.NewReader(`{"a":1}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, svc.Close())
	got := col.all()
	require.Len(t, got, 1)

	res := got[0]
	assert.Equal(t, "/?dry=1", res.Request.URL)
	assert.Equal(t, []string{"1"}, res.Request.Query["dry"])
	assert.Equal(t, map[string]any{"a": float64(1)}, res.Request.Body)
	assert.Equal(t, map[string]string{"content-type": "application/json"}, res.Response.Headers)
	assert.Equal(t, map[string]any{"ok": true}, res.Response.Body)
}

func TestServiceEmptyBodyIsNil(t *testing.T) {
	t.Parallel()

	col := &collector{}
	svc := newTestService(t, Options{LoggerAdapter: col})

	h := svc.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodDelete, "/items/1", nil))

	require.NoError(t, svc.Close())
	got := col.all()
	require.Len(t, got, 1)
	assert.Equal(t, http.StatusNoContent, got[0].Response.StatusCode)
	assert.Nil(t, got[0].Response.Body)
}

func TestServiceCallsNextOnce(t *testing.T) {
	t.Parallel()

	col := &collector{}
	svc := newTestService(t, Options{LoggerAdapter: col})

	calls := 0
	h := svc.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusCreated)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))

	assert.Equal(t, 1, calls)
	assert.Equal(t, http.StatusCreated, rec.Code)
	require.NoError(t, svc.Close())
	assert.Len(t, col.all(), 1)
}

func TestServiceUsesRequestID(t *testing.T) {
	t.Parallel()

	col := &collector{}
	svc := newTestService(t, Options{LoggerAdapter: col})

	h := svc.Handler(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(observe.TraceHeader, "req-42")
	h.ServeHTTP(httptest.NewRecorder(), req)

	require.NoError(t, svc.Close())
	got := col.all()
	require.Len(t, got, 1)
	assert.Equal(t, "req-42", got[0].ID)
}

func TestServiceHandlerPanic(t *testing.T) {
	t.Parallel()

	col := &collector{}
	svc := newTestService(t, Options{LoggerAdapter: col})

	h := svc.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("kaboom")
	}))

	assert.PanicsWithValue(t, "kaboom", func() {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/boom", nil))
	})

	require.NoError(t, svc.Close())
	got := col.all()
	require.Len(t, got, 1, "a panicking handler is logged exactly once")
	assert.Zero(t, got[0].Response.StatusCode)
	assert.Contains(t, got[0].Response.Error, "kaboom")
	assert.Contains(t, got[0].Response.Error, ErrHandlerPanic.Error())
}

func TestServicePanicAfterCommit(t *testing.T) {
	t.Parallel()

	col := &collector{}
	svc := newTestService(t, Options{LoggerAdapter: col})

	h := svc.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		_, _ = io.WriteString(w, "half")
		panic(http.ErrAbortHandler)
	}))

	assert.Panics(t, func() {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	})

	require.NoError(t, svc.Close())
	got := col.all()
	require.Len(t, got, 1)
	assert.Equal(t, http.StatusAccepted, got[0].Response.StatusCode)
	assert.Equal(t, "half", got[0].Response.Body)
	assert.NotEmpty(t, got[0].Response.Error)
}

func TestServiceAdapterErrorGoesToDiagnostics(t *testing.T) {
	t.Parallel()

	var diag bytes.Buffer
	col := &collector{err: errors.New("disk full")}
	reg := prometheus.NewRegistry()
	metrics := observe.NewMetrics(reg)
	svc := newTestService(t, Options{
		LoggerAdapter: col,
		Diagnostics:   observe.NewLogger(observe.LogConfig{Output: &diag}),
		Metrics:       metrics,
	})

	h := svc.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "fine")
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(observe.TraceHeader, "sess-1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "fine", rec.Body.String())

	require.NoError(t, svc.Close())

	var entry map[string]any
	require.NoError(t, json.Unmarshal(diag.Bytes(), &entry))
	assert.Equal(t, "adapter call failed", entry["msg"])
	assert.Equal(t, "reqlog", entry["component"])
	assert.Equal(t, "create", entry["call"])
	assert.Equal(t, "sess-1", entry["session_id"])
	assert.Contains(t, entry["error"], "disk full")
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.AdapterFailures.WithLabelValues("create")))
}

func TestServiceAdapterPanicIsContained(t *testing.T) {
	t.Parallel()

	var diag bytes.Buffer
	svc := newTestService(t, Options{
		LoggerAdapter: AdapterFunc(func(context.Context, Resource) error { panic("adapter bug") }),
		Diagnostics:   observe.NewLogger(observe.LogConfig{Output: &diag}),
	})

	h := svc.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "still served")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, "still served", rec.Body.String())
	require.NoError(t, svc.Close())
	assert.Contains(t, diag.String(), "adapter bug")
}

func TestServiceAnnouncesBeforeCreate(t *testing.T) {
	t.Parallel()

	j := &journal{}
	svc := newTestService(t, Options{LoggerAdapter: j, Workers: 4})

	h := svc.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(observe.TraceHeader, "ordered")
	h.ServeHTTP(httptest.NewRecorder(), req)

	require.NoError(t, svc.Close())
	assert.Equal(t, []string{"announce:ordered", "create:ordered"}, j.events)
}

func TestServiceSkip(t *testing.T) {
	t.Parallel()

	col := &collector{}
	svc := newTestService(t, Options{
		LoggerAdapter: col,
		Skip:          func(r *http.Request) bool { return r.URL.Path == "/healthz" },
	})

	h := svc.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/other", nil))

	require.NoError(t, svc.Close())
	got := col.all()
	require.Len(t, got, 1)
	assert.Equal(t, "/other", got[0].Request.URL)
}

func TestServiceEndHookStrategy(t *testing.T) {
	t.Parallel()

	col := &collector{}
	svc := newTestService(t, Options{
		LoggerAdapter:   col,
		Strategy:        StrategyEndHook,
		HeaderWhitelist: []string{"Content-Type", "X-Late"},
	})

	h := svc.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = io.WriteString(w, "body")
		w.Header().Set("X-Late", "yes")
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	require.NoError(t, svc.Close())
	got := col.all()
	require.Len(t, got, 1)
	assert.Equal(t, map[string]string{"content-type": "text/plain", "x-late": "yes"}, got[0].Response.Headers)
}

func TestServiceTruncatedBodyStaysRaw(t *testing.T) {
	t.Parallel()

	col := &collector{}
	svc := newTestService(t, Options{LoggerAdapter: col, MaxBodyBytes: 4})

	h := svc.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"long":true}`)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, `{"long":true}`, rec.Body.String())
	require.NoError(t, svc.Close())
	got := col.all()
	require.Len(t, got, 1)
	assert.Equal(t, `{"lo`, got[0].Response.Body)
	assert.True(t, got[0].Response.Truncated)
}

func TestServiceMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	metrics := observe.NewMetrics(reg)
	svc := newTestService(t, Options{LoggerAdapter: &collector{}, Metrics: metrics})

	h := svc.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, "not json")
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/missing", nil))

	require.NoError(t, svc.Close())
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.SessionsTotal.WithLabelValues("completed", "2xx")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.SessionsTotal.WithLabelValues("completed", "4xx")))
	assert.Equal(t, float64(0), testutil.ToFloat64(metrics.SessionsInFlight))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.BodyParseFallbacks))
}

// gate blocks Create until released, signalling when the first call starts.
type gate struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (g *gate) Create(ctx context.Context, _ Resource) error {
	g.once.Do(func() { close(g.started) })
	select {
	case <-g.release:
	case <-ctx.Done():
	}
	return nil
}

func TestServiceNeverDropsWhenQueueFull(t *testing.T) {
	t.Parallel()

	g := &gate{started: make(chan struct{}), release: make(chan struct{})}
	col := &collector{}
	reg := prometheus.NewRegistry()
	metrics := observe.NewMetrics(reg)
	svc := newTestService(t, Options{
		LoggerAdapter: AdapterFunc(func(ctx context.Context, res Resource) error {
			if err := g.Create(ctx, res); err != nil {
				return err
			}
			return col.Create(ctx, res)
		}),
		Workers:   1,
		QueueSize: 1,
		Metrics:   metrics,
	})

	h := svc.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "ok")
	}))
	serve := func(path string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		return rec
	}

	serve("/first")
	select {
	case <-g.started:
	case <-time.After(2 * time.Second):
		t.Fatal("first adapter call never started")
	}

	serve("/queued")
	rec := serve("/overflow")

	// Overflow neither blocks the request nor loses its log.
	assert.Equal(t, "ok", rec.Body.String())
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.TasksOverflowed.WithLabelValues("create")))
	assert.Zero(t, testutil.ToFloat64(metrics.TasksDropped.WithLabelValues("create")))

	close(g.release)
	require.NoError(t, svc.Close())

	var urls []string
	for _, res := range col.all() {
		urls = append(urls, res.Request.URL)
	}
	assert.ElementsMatch(t, []string{"/first", "/queued", "/overflow"}, urls)
}

func TestServiceLogsSessionsCompletingAfterClose(t *testing.T) {
	t.Parallel()

	col := &collector{}
	svc := newTestService(t, Options{LoggerAdapter: col})

	h := svc.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// The service shuts down while this request is in flight.
		require.NoError(t, svc.Close())
		_, _ = io.WriteString(w, "late")
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/late", nil))

	require.Eventually(t, func() bool { return len(col.all()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "late", col.all()[0].Response.Body)
}

// headerReader announces by serializing the request headers over and over,
// the way a logging adapter would while the handler is still running.
type headerReader struct {
	collector
	done chan struct{}
}

func (a *headerReader) Announce(_ context.Context, res Resource) error {
	defer close(a.done)
	for i := 0; i < 200; i++ {
		if _, err := json.Marshal(res.Request.Headers); err != nil {
			return err
		}
	}
	return nil
}

func TestServiceRequestHeadersAreNotShared(t *testing.T) {
	t.Parallel()

	a := &headerReader{done: make(chan struct{})}
	svc := newTestService(t, Options{LoggerAdapter: a})

	h := svc.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for i := 0; ; i++ {
			r.Header.Set(fmt.Sprintf("X-Handler-%d", i%8), "v")
			select {
			case <-a.done:
				return
			default:
			}
		}
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Client", "1")
	h.ServeHTTP(httptest.NewRecorder(), req)

	require.NoError(t, svc.Close())
	got := a.all()
	require.Len(t, got, 1)
	assert.Equal(t, http.Header{"X-Client": {"1"}}, got[0].Request.Headers)
}

func TestServiceExpectContinueIsUntouched(t *testing.T) {
	t.Parallel()

	col := &collector{}
	svc := newTestService(t, Options{LoggerAdapter: col})

	srv := httptest.NewServer(svc.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Rejects without reading the upload.
		w.WriteHeader(http.StatusUnauthorized)
	})))
	defer srv.Close()

	conn, err := net.Dial("tcp", srv.Listener.Addr().String())
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))

	_, err = io.WriteString(conn, "POST /upload HTTP/1.1\r\n"+
		"Host: example.com\r\n"+
		"Content-Type: application/octet-stream\r\n"+
		"Content-Length: 1048576\r\n"+
		"Expect: 100-continue\r\n"+
		"\r\n")
	require.NoError(t, err)

	status, err := bufio.NewReader(conn).ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "HTTP/1.1 401 Unauthorized\r\n", status)

	require.NoError(t, svc.Close())
	got := col.all()
	require.Len(t, got, 1)
	assert.Equal(t, http.StatusUnauthorized, got[0].Response.StatusCode)
	assert.Nil(t, got[0].Request.Body, "an unread upload is not logged")
}

func TestServiceRecordsRequestBodyReadByHandler(t *testing.T) {
	t.Parallel()

	col := &collector{}
	svc := newTestService(t, Options{LoggerAdapter: col, MaxBodyBytes: 8})

	h := svc.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_, _ = w.Write(body)
	}))
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"payload":"too long"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, `{"payload":"too long"}`, rec.Body.String())
	require.NoError(t, svc.Close())
	got := col.all()
	require.Len(t, got, 1)
	assert.Equal(t, `{"payloa`, got[0].Request.Body)
	assert.True(t, got[0].Request.Truncated)
}

func TestServiceDefaults(t *testing.T) {
	t.Parallel()

	svc := newTestService(t, Options{})
	_, ok := svc.Adapter().(*ConsoleAdapter)
	assert.True(t, ok, "default adapter should be the console adapter")
	assert.Equal(t, StrategyHeaderSend, svc.strategy)
	assert.Equal(t, DefaultMaxBodyBytes, svc.maxBody)
	assert.True(t, svc.whitelist.Allows("content-type"))
}

func TestConsoleAdapterWritesJSON(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	a := NewConsoleAdapter(&buf)

	res := Resource{
		ID:      "c-1",
		Request: RequestRecord{Method: "GET", URL: "/"},
	}
	require.NoError(t, a.Announce(context.Background(), res))
	res.Response = &ResponseRecord{StatusCode: 200, Headers: map[string]string{}, Body: "hi"}
	require.NoError(t, a.Create(context.Background(), res))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	var created map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &created))
	assert.Equal(t, "request completed", created["msg"])
	assert.Equal(t, "c-1", created["id"])
	resp := created["response"].(map[string]any)
	assert.Equal(t, float64(200), resp["statusCode"])
	assert.Equal(t, "hi", resp["body"])
}
