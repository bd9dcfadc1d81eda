package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/warden/internal/auth"
	"github.com/loykin/warden/internal/history"
	"github.com/loykin/warden/internal/instance"
	"github.com/loykin/warden/internal/registry"
)

func requireUnix(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("tests require /bin/sh on Unix-like systems")
	}
}

func waitUntil(t *testing.T, d, step time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(step)
	}
	t.Fatalf("condition not met within %v", d)
}

func shSpec(name, script string) instance.Spec {
	return instance.Spec{
		Name:         name,
		Program:      "/bin/sh",
		Args:         []string{"-c", script},
		StartupGrace: 30 * time.Millisecond,
		StopTimeout:  300 * time.Millisecond,
		TermTimeout:  2 * time.Second,
	}
}

// reader loop that exits cleanly on "stop"
const consoleScript = `while read l; do [ "$l" = stop ] && exit 0; echo "got:$l"; done`

func setupRouter(t *testing.T, cfg Config) (http.Handler, *registry.Registry) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	reg := cfg.Registry
	if reg == nil {
		reg = registry.New(registry.Config{})
		cfg.Registry = reg
	}
	t.Cleanup(func() { _ = reg.StopAll() })
	return NewRouter(cfg).Handler(), reg
}

func doReq(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		rdr = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rdr)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	h, _ := setupRouter(t, Config{})
	rec := doReq(t, h, http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestBasePathSanitized(t *testing.T) {
	h, _ := setupRouter(t, Config{BasePath: "api/"})
	rec := doReq(t, h, http.MethodGet, "/api/healthz", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 under sanitized base, got %d", rec.Code)
	}
}

func TestRegisterValidation(t *testing.T) {
	h, _ := setupRouter(t, Config{})

	rec := doReq(t, h, http.MethodPost, "/instances", instance.Spec{Program: "/bin/true"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing name expected 400, got %d", rec.Code)
	}

	rec = doReq(t, h, http.MethodPost, "/instances", instance.Spec{Name: "../bad", Program: "/bin/true"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid name expected 400, got %d", rec.Code)
	}

	rec = doReq(t, h, http.MethodPost, "/instances", instance.Spec{Name: "ok", Program: "/bin/true", Dir: "rel/path"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("relative dir expected 400, got %d", rec.Code)
	}

	rec = doReq(t, h, http.MethodPost, "/instances", instance.Spec{Name: "ok", Program: "/bin/true", ConsoleLog: "out.log"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("relative console_log expected 400, got %d", rec.Code)
	}
}

func TestUnknownInstanceRoutes(t *testing.T) {
	h, _ := setupRouter(t, Config{})

	for _, tc := range []struct {
		method string
		path   string
		body   any
	}{
		{http.MethodGet, "/instances/ghost", nil},
		{http.MethodPost, "/instances/ghost/start", nil},
		{http.MethodPost, "/instances/ghost/stop", nil},
		{http.MethodPost, "/instances/ghost/restart", nil},
		{http.MethodPost, "/instances/ghost/command", map[string]string{"command": "hi"}},
		{http.MethodGet, "/instances/ghost/output", nil},
		{http.MethodDelete, "/instances/ghost", nil},
	} {
		rec := doReq(t, h, tc.method, tc.path, tc.body)
		if rec.Code != http.StatusNotFound {
			t.Errorf("%s %s expected 404, got %d: %s", tc.method, tc.path, rec.Code, rec.Body.String())
		}
	}
}

func TestLifecycleOverHTTP(t *testing.T) {
	requireUnix(t)
	h, _ := setupRouter(t, Config{})

	spec := shSpec("smp", consoleScript)
	rec := doReq(t, h, http.MethodPost, "/instances", spec)
	if rec.Code != http.StatusCreated {
		t.Fatalf("register expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doReq(t, h, http.MethodPost, "/instances/smp/start", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("start expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doReq(t, h, http.MethodGet, "/instances/smp", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status expected 200, got %d", rec.Code)
	}
	var st map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil {
		t.Fatalf("parse status: %v", err)
	}
	if st["running"] != true {
		t.Fatalf("expected running=true, got %v", st)
	}

	rec = doReq(t, h, http.MethodPost, "/instances/smp/command", map[string]string{"command": "ping"})
	if rec.Code != http.StatusOK {
		t.Fatalf("command expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	waitUntil(t, 5*time.Second, 20*time.Millisecond, func() bool {
		rec := doReq(t, h, http.MethodGet, "/instances/smp/output", nil)
		if rec.Code != http.StatusOK {
			return false
		}
		var out outputResp
		_ = json.Unmarshal(rec.Body.Bytes(), &out)
		return strings.Contains(strings.Join(out.Lines, "\n"), "got:ping")
	})

	rec = doReq(t, h, http.MethodPost, "/instances/smp/stop", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("stop expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var sr stopResp
	_ = json.Unmarshal(rec.Body.Bytes(), &sr)
	if !sr.Stopped {
		t.Errorf("expected stopped=true, got %+v", sr)
	}

	rec = doReq(t, h, http.MethodGet, "/instances/smp", nil)
	var st2 map[string]any
	_ = json.Unmarshal(rec.Body.Bytes(), &st2)
	if st2["running"] == true {
		t.Fatalf("expected stopped status, got %v", st2)
	}

	rec = doReq(t, h, http.MethodDelete, "/instances/smp", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("unregister expected 200, got %d", rec.Code)
	}
	rec = doReq(t, h, http.MethodGet, "/instances/smp", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status after unregister expected 404, got %d", rec.Code)
	}
}

func TestStartWithInlineSpec(t *testing.T) {
	requireUnix(t)
	h, reg := setupRouter(t, Config{})

	spec := shSpec("inline", "sleep 30")
	rec := doReq(t, h, http.MethodPost, "/instances/inline/start", spec)
	if rec.Code != http.StatusOK {
		t.Fatalf("start expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if !reg.IsRunning("inline") {
		t.Fatal("expected inline instance running")
	}

	// inline start records the definition for later restarts
	if _, ok := reg.Definition("inline"); !ok {
		t.Fatal("expected definition recorded after inline start")
	}
}

func TestStartLaunchFailure(t *testing.T) {
	requireUnix(t)
	h, _ := setupRouter(t, Config{})

	spec := shSpec("doomed", "echo boom; exit 7")
	rec := doReq(t, h, http.MethodPost, "/instances/doomed/start", spec)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d: %s", rec.Code, rec.Body.String())
	}

	var er errorResp
	if err := json.Unmarshal(rec.Body.Bytes(), &er); err != nil {
		t.Fatalf("parse error body: %v", err)
	}
	if er.ExitCode == nil || *er.ExitCode != 7 {
		t.Errorf("expected exit_code 7, got %+v", er.ExitCode)
	}
	if !strings.Contains(strings.Join(er.Output, "\n"), "boom") {
		t.Errorf("expected captured output in error, got %v", er.Output)
	}
}

func TestCommandOnStoppedInstance(t *testing.T) {
	requireUnix(t)
	h, reg := setupRouter(t, Config{})

	if err := reg.Register(shSpec("idle", "sleep 30")); err != nil {
		t.Fatalf("register: %v", err)
	}
	rec := doReq(t, h, http.MethodPost, "/instances/idle/command", map[string]string{"command": "ping"})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestCommandRequiresBody(t *testing.T) {
	requireUnix(t)
	h, reg := setupRouter(t, Config{})

	if err := reg.Register(shSpec("idle", "sleep 30")); err != nil {
		t.Fatalf("register: %v", err)
	}
	rec := doReq(t, h, http.MethodPost, "/instances/idle/command", map[string]string{})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestListInstances(t *testing.T) {
	requireUnix(t)
	h, reg := setupRouter(t, Config{})

	if err := reg.Register(shSpec("alpha", "sleep 30")); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := reg.Register(shSpec("beta", "sleep 30")); err != nil {
		t.Fatalf("register: %v", err)
	}

	rec := doReq(t, h, http.MethodGet, "/instances", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var arr []map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &arr); err != nil {
		t.Fatalf("parse list: %v", err)
	}
	if len(arr) != 2 {
		t.Fatalf("expected 2 statuses, got %d", len(arr))
	}
	if arr[0]["name"] != "alpha" || arr[1]["name"] != "beta" {
		t.Errorf("expected sorted names, got %v %v", arr[0]["name"], arr[1]["name"])
	}
}

type recordingStore struct {
	mu     sync.Mutex
	events []history.Event
	err    error
}

func (s *recordingStore) Append(_ context.Context, e history.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

func (s *recordingStore) Recent(_ context.Context, name string, limit int) ([]history.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	var out []history.Event
	for i := len(s.events) - 1; i >= 0 && len(out) < limit; i-- {
		if name == "" || s.events[i].Name == name {
			out = append(out, s.events[i])
		}
	}
	return out, nil
}

func (s *recordingStore) Close() error { return nil }

func TestHistoryDisabled(t *testing.T) {
	h, _ := setupRouter(t, Config{})
	rec := doReq(t, h, http.MethodGet, "/history", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 when history disabled, got %d", rec.Code)
	}
}

func TestHistoryEndpoints(t *testing.T) {
	st := &recordingStore{events: []history.Event{
		{EventID: "h1", Name: "smp", Kind: history.KindStarted, OccurredAt: time.Now().UTC()},
		{EventID: "h2", Name: "creative", Kind: history.KindStarted, OccurredAt: time.Now().UTC()},
		{EventID: "h3", Name: "smp", Kind: history.KindExited, ExitCode: 0, Clean: true, OccurredAt: time.Now().UTC()},
	}}
	h, _ := setupRouter(t, Config{History: st})

	rec := doReq(t, h, http.MethodGet, "/history?limit=10", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var all []history.Event
	if err := json.Unmarshal(rec.Body.Bytes(), &all); err != nil {
		t.Fatalf("parse events: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 events, got %d", len(all))
	}

	rec = doReq(t, h, http.MethodGet, "/instances/smp/history?limit=10", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var smp []history.Event
	if err := json.Unmarshal(rec.Body.Bytes(), &smp); err != nil {
		t.Fatalf("parse events: %v", err)
	}
	if len(smp) != 2 {
		t.Fatalf("expected 2 smp events, got %d", len(smp))
	}
	if smp[0].EventID != "h3" {
		t.Errorf("expected newest first, got %s", smp[0].EventID)
	}

	rec = doReq(t, h, http.MethodGet, "/history?limit=nope", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid limit expected 400, got %d", rec.Code)
	}
}

func TestAuthProtectsAPI(t *testing.T) {
	svc, err := auth.NewService("router-secret", time.Hour)
	if err != nil {
		t.Fatalf("auth service: %v", err)
	}
	h, _ := setupRouter(t, Config{Auth: svc})

	rec := doReq(t, h, http.MethodGet, "/instances", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}

	// health stays open for probes
	rec = doReq(t, h, http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz expected 200 without token, got %d", rec.Code)
	}

	tok, err := svc.Issue("ops")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	req := httptest.NewRequest(http.MethodGet, "/instances", nil)
	req.Header.Set("Authorization", "Bearer "+tok.Value)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d: %s", w.Code, w.Body.String())
	}
}

func TestMetricsRoute(t *testing.T) {
	h, _ := setupRouter(t, Config{Metrics: true})
	rec := doReq(t, h, http.MethodGet, "/metrics", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	h2, _ := setupRouter(t, Config{})
	rec = doReq(t, h2, http.MethodGet, "/metrics", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 when metrics disabled, got %d", rec.Code)
	}
}

func TestNewServerStartClose(t *testing.T) {
	reg := registry.New(registry.Config{})
	srv := NewServer("127.0.0.1:0", Config{Registry: reg})
	_ = srv.Close()
}
