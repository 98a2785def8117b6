package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"audiobrowser/internal/attr"
	"audiobrowser/internal/event"
	"audiobrowser/internal/library"
	"audiobrowser/internal/logging"
	"audiobrowser/internal/metrics"
	"audiobrowser/internal/sandbox"
	"audiobrowser/internal/watcher"
)

type testServer struct {
	*httptest.Server
	base     string
	bus      *event.Bus[watcher.ChangeEvent]
	logger   *logging.Logger
	registry *metrics.Registry
}

func newTestServer(t *testing.T, options Options) *testServer {
	t.Helper()
	base, err := sandbox.CanonicalBase(t.TempDir())
	if err != nil {
		t.Fatalf("canonical base: %v", err)
	}
	logger := logging.NewLoggerWithOutput(logging.NewLogBuffer(100), logging.LevelDebug, io.Discard)
	registry := metrics.NewRegistry()
	lib, err := library.New(library.Options{
		Base:     base,
		Store:    attr.NewMemoryStore(),
		Logger:   logger,
		Registry: registry,
	})
	if err != nil {
		t.Fatalf("new library: %v", err)
	}
	bus := event.NewBus[watcher.ChangeEvent](context.Background(), event.BusOptions{Name: "api_test"})

	options.Library = lib
	options.Bus = bus
	options.Logger = logger
	options.Registry = registry
	server := httptest.NewServer(NewHandler(options))
	t.Cleanup(func() {
		bus.Close()
		server.Close()
	})
	return &testServer{Server: server, base: base, bus: bus, logger: logger, registry: registry}
}

func (s *testServer) writeFile(t *testing.T, relative string, size int) {
	t.Helper()
	path := filepath.Join(s.base, filepath.FromSlash(relative))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, make([]byte, size), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
}

func (s *testServer) list(t *testing.T, query url.Values) (*http.Response, []byte) {
	t.Helper()
	res, err := http.Get(s.URL + "/list?" + query.Encode())
	if err != nil {
		t.Fatalf("list request: %v", err)
	}
	defer res.Body.Close()
	body, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, body
}

func (s *testServer) toggle(t *testing.T, form url.Values) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPut, s.URL+"/toggle-status", strings.NewReader(form.Encode()))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("toggle request: %v", err)
	}
	defer res.Body.Close()
	body, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, body
}

func decodeListing(t *testing.T, body []byte) library.Listing {
	t.Helper()
	var listing library.Listing
	if err := json.Unmarshal(body, &listing); err != nil {
		t.Fatalf("decode listing %s: %v", body, err)
	}
	return listing
}

func decodeEntry(t *testing.T, body []byte) library.Entry {
	t.Helper()
	var entry library.Entry
	if err := json.Unmarshal(body, &entry); err != nil {
		t.Fatalf("decode entry %s: %v", body, err)
	}
	return entry
}

func decodeError(t *testing.T, body []byte) errorResponse {
	t.Helper()
	var payload errorResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("decode error %s: %v", body, err)
	}
	return payload
}

func TestBrowseAndToggleScenario(t *testing.T) {
	server := newTestServer(t, Options{})
	server.writeFile(t, "podcast/ep1.mp3", 4096)

	res, body := server.list(t, url.Values{"path": {""}})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.StatusCode, body)
	}
	root := decodeListing(t, body)
	if len(root.Entries) != 1 || root.Entries[0].Name != "podcast" || !root.Entries[0].IsDirectory {
		t.Fatalf("unexpected root listing %+v", root)
	}

	_, body = server.list(t, url.Values{"path": {"podcast"}})
	podcast := decodeListing(t, body)
	if len(podcast.Entries) != 1 {
		t.Fatalf("unexpected podcast listing %+v", podcast)
	}
	ep1 := podcast.Entries[0]
	if ep1.Name != "ep1.mp3" || ep1.IsDirectory || ep1.IsHeard {
		t.Fatalf("unexpected entry %+v", ep1)
	}

	res, body = server.toggle(t, url.Values{"path": {"podcast/ep1.mp3"}})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.StatusCode, body)
	}
	toggled := decodeEntry(t, body)
	if !toggled.IsHeard || toggled.RelativePath != "podcast/ep1.mp3" || toggled.Size != "4 KB" {
		t.Fatalf("unexpected toggled entry %+v", toggled)
	}

	_, body = server.list(t, url.Values{"path": {"podcast"}})
	podcast = decodeListing(t, body)
	if !podcast.Entries[0].IsHeard {
		t.Fatalf("expected heard after toggle, got %+v", podcast.Entries[0])
	}
}

func TestListPushHistoryHeader(t *testing.T) {
	server := newTestServer(t, Options{})
	server.writeFile(t, "podcast/ep1.mp3", 1)

	cases := []struct {
		query url.Values
		want  string
	}{
		{query: url.Values{"path": {"podcast"}, "push_history": {"true"}}, want: "?path=podcast"},
		{query: url.Values{"path": {"../../etc"}, "push_history": {"true"}}, want: "?path="},
		{query: url.Values{"path": {"podcast"}}, want: ""},
		{query: url.Values{"path": {"podcast"}, "push_history": {"false"}}, want: ""},
	}
	for _, tc := range cases {
		res, body := server.list(t, tc.query)
		if res.StatusCode != http.StatusOK {
			t.Fatalf("%v: expected 200, got %d: %s", tc.query, res.StatusCode, body)
		}
		if got := res.Header.Get("HX-Push-Url"); got != tc.want {
			t.Fatalf("%v: expected HX-Push-Url %q, got %q", tc.query, tc.want, got)
		}
	}
}

func TestListErrors(t *testing.T) {
	server := newTestServer(t, Options{})
	server.writeFile(t, "ep1.mp3", 1)

	res, body := server.list(t, url.Values{"path": {"ep1.mp3"}})
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.StatusCode)
	}
	if payload := decodeError(t, body); payload.Message != "Provided path is not a directory" || payload.Code != "not_a_directory" {
		t.Fatalf("unexpected error %+v", payload)
	}

	res, _ = server.list(t, url.Values{"push_history": {"maybe"}})
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad push_history, got %d", res.StatusCode)
	}
}

func TestListEscapeListsBase(t *testing.T) {
	server := newTestServer(t, Options{})
	server.writeFile(t, "ep1.mp3", 1)

	res, body := server.list(t, url.Values{"path": {"../.."}})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.StatusCode, body)
	}
	listing := decodeListing(t, body)
	if listing.RelativePath != "." || listing.ParentRelativePath != nil {
		t.Fatalf("expected base listing, got %+v", listing)
	}
}

func TestToggleErrors(t *testing.T) {
	server := newTestServer(t, Options{})
	server.writeFile(t, "podcast/ep1.mp3", 1)

	cases := []struct {
		name    string
		form    url.Values
		status  int
		message string
	}{
		{name: "escape", form: url.Values{"path": {"../../etc/passwd"}}, status: http.StatusBadRequest, message: "Invalid path"},
		{name: "directory", form: url.Values{"path": {"podcast"}}, status: http.StatusBadRequest, message: "Provided path is not a file"},
		{name: "missing file", form: url.Values{"path": {"podcast/ep2.mp3"}}, status: http.StatusBadRequest, message: "Provided path is not a file"},
		{name: "missing path", form: url.Values{"heard": {"true"}}, status: http.StatusBadRequest, message: "missing path"},
		{name: "bad heard", form: url.Values{"path": {"podcast/ep1.mp3"}, "heard": {"sometimes"}}, status: http.StatusBadRequest, message: "invalid heard value"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res, body := server.toggle(t, tc.form)
			if res.StatusCode != tc.status {
				t.Fatalf("expected %d, got %d: %s", tc.status, res.StatusCode, body)
			}
			if payload := decodeError(t, body); payload.Message != tc.message {
				t.Fatalf("expected message %q, got %+v", tc.message, payload)
			}
		})
	}
}

func TestToggleExplicitValueIsIdempotent(t *testing.T) {
	server := newTestServer(t, Options{})
	server.writeFile(t, "ep1.mp3", 1)

	for i := 0; i < 2; i++ {
		res, body := server.toggle(t, url.Values{"path": {"ep1.mp3"}, "heard": {"true"}})
		if res.StatusCode != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", res.StatusCode, body)
		}
		if entry := decodeEntry(t, body); !entry.IsHeard {
			t.Fatalf("expected heard, got %+v", entry)
		}
	}
	res, body := server.toggle(t, url.Values{"path": {"ep1.mp3"}, "heard": {"false"}})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.StatusCode, body)
	}
	if entry := decodeEntry(t, body); entry.IsHeard {
		t.Fatalf("expected unheard, got %+v", entry)
	}
}

func TestToggleRejectsWrongMethod(t *testing.T) {
	server := newTestServer(t, Options{})

	res, err := http.Get(server.URL + "/toggle-status")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", res.StatusCode)
	}
	if allow := res.Header.Get("Allow"); !strings.Contains(allow, http.MethodPut) {
		t.Fatalf("expected Allow to list PUT, got %q", allow)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	server := newTestServer(t, Options{})

	res, err := http.Get(server.URL + "/healthz")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	var health healthResponse
	if err := json.NewDecoder(res.Body).Decode(&health); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	res.Body.Close()
	if health.Status != "ok" || health.Version == "" {
		t.Fatalf("unexpected health %+v", health)
	}
	if health.Watcher != nil {
		t.Fatalf("expected no watcher stats without a watcher, got %+v", health.Watcher)
	}
	if res.Header.Get("X-Content-Type-Options") != "nosniff" {
		t.Fatal("expected security headers on rest responses")
	}

	res, err = http.Get(server.URL + "/metrics")
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	body, _ := io.ReadAll(res.Body)
	res.Body.Close()
	if !bytes.Contains(body, []byte(`audiobrowser_http_requests_total{code="200",route="/healthz"} 1`)) {
		t.Fatalf("expected request counter in metrics, got:\n%s", body)
	}
}

func TestHealthReportsWatcherCounters(t *testing.T) {
	fileWatcher, err := watcher.New(watcher.Options{Base: t.TempDir()})
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}
	server := newTestServer(t, Options{Watcher: fileWatcher})

	res, err := http.Get(server.URL + "/healthz")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	defer res.Body.Close()
	var body map[string]json.RawMessage
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	var stats watcher.Metrics
	if err := json.Unmarshal(body["watcher"], &stats); err != nil {
		t.Fatalf("expected watcher stats, got %s: %v", body["watcher"], err)
	}
	if stats != (watcher.Metrics{}) {
		t.Fatalf("expected idle watcher counters, got %+v", stats)
	}
	if !bytes.Contains(body["watcher"], []byte(`"active_watches":0`)) {
		t.Fatalf("expected snake_case counters, got %s", body["watcher"])
	}
}

func TestLogsEndpoint(t *testing.T) {
	server := newTestServer(t, Options{})
	server.logger.Info("first", nil)
	server.logger.Warn("second", nil)
	server.logger.Error("third", nil)

	res, err := http.Get(server.URL + "/api/logs?limit=2&level=warning")
	if err != nil {
		t.Fatalf("logs: %v", err)
	}
	defer res.Body.Close()
	var entries []logging.LogEntry
	if err := json.NewDecoder(res.Body).Decode(&entries); err != nil {
		t.Fatalf("decode logs: %v", err)
	}
	if len(entries) != 2 || entries[0].Message != "second" || entries[1].Message != "third" {
		t.Fatalf("unexpected entries %+v", entries)
	}

	res, err = http.Get(server.URL + "/api/logs?limit=zero")
	if err != nil {
		t.Fatalf("logs: %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad limit, got %d", res.StatusCode)
	}
}

func TestUnknownRouteIsJSON404(t *testing.T) {
	server := newTestServer(t, Options{})

	res, err := http.Get(server.URL + "/file/ep1.mp3")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer res.Body.Close()
	body, _ := io.ReadAll(res.Body)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", res.StatusCode)
	}
	if payload := decodeError(t, body); payload.Code != "not_found" {
		t.Fatalf("unexpected error %+v", payload)
	}
}
