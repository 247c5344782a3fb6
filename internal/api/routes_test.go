package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/TheGojiOG/CfxSM/internal/builds"
	"github.com/TheGojiOG/CfxSM/internal/config"
	"github.com/TheGojiOG/CfxSM/internal/console"
	"github.com/TheGojiOG/CfxSM/internal/datafolder"
	"github.com/TheGojiOG/CfxSM/internal/metrics"
	"github.com/TheGojiOG/CfxSM/internal/server"
	ws "github.com/TheGojiOG/CfxSM/internal/websocket"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const testToken = "control-token"

// stubHost keeps processes in memory
type stubHost struct {
	mu      sync.Mutex
	nextID  uint64
	running map[uint64]bool
	onExit  func(server.ExitEvent)
}

func (h *stubHost) Start(spec server.ProcessSpec) (server.ProcessHandle, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	h.running[h.nextID] = true
	return server.ProcessHandle{ID: h.nextID, PID: 4000 + int(h.nextID)}, nil
}

func (h *stubHost) IsRunning(handle server.ProcessHandle) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.running[handle.ID]
}

func (h *stubHost) Stop(handle server.ProcessHandle) error {
	h.mu.Lock()
	delete(h.running, handle.ID)
	h.mu.Unlock()
	return nil
}

func (h *stubHost) SetExitHandler(fn func(server.ExitEvent)) {
	h.onExit = fn
}

type testEnv struct {
	router  *gin.Engine
	store   *config.Store
	manager *server.RuntimeManager
	hub     *ws.Hub
	feed    *console.Feed
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	root := t.TempDir()

	cfg := config.Default()
	cfg.CFXToken = "cfxk_secret"
	cfg.SteamToken = "steam_secret"
	cfg.HTTP.APIToken = testToken
	cfg.HTTP.RateLimit = 0
	store := config.NewMemoryStore(cfg, "")

	catalog := builds.NewCatalog(filepath.Join(root, "builds"), nil, nil)
	installed, err := catalog.Get("5848")
	if err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(installed.Folder, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(installed.Executable(), []byte("bin"), 0755); err != nil {
		t.Fatal(err)
	}

	dataDir := filepath.Join(root, "data")
	if err := os.MkdirAll(filepath.Join(dataDir, "roleplay"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dataDir, "roleplay", datafolder.DefaultServerConfig), []byte("sv_hostname test\n"), 0644); err != nil {
		t.Fatal(err)
	}

	hub := ws.NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	t.Cleanup(cancel)

	manager := server.NewRuntimeManager(store, &stubHost{running: make(map[uint64]bool)})
	feed := console.NewFeed(100, hub, ws.RoomConsole)

	router := SetupRouter(Services{
		Store:   store,
		Catalog: catalog,
		Folders: datafolder.NewManager(dataDir),
		Runtime: manager,
		Hub:     hub,
		Feed:    feed,
		Metrics: metrics.NewCollector(nil, 0),
	})

	return &testEnv{router: router, store: store, manager: manager, hub: hub, feed: feed}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Authorization", "Bearer "+testToken)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, into interface{}) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), into); err != nil {
		t.Fatalf("invalid json %q: %v", w.Body.String(), err)
	}
}

func TestHealthIsPublic(t *testing.T) {
	env := newTestEnv(t)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestAPIRequiresToken(t *testing.T) {
	env := newTestEnv(t)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/runtime", nil))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestStartTwiceConflicts(t *testing.T) {
	env := newTestEnv(t)
	req := map[string]string{"build": "5848", "folder": "roleplay"}

	w := env.do(t, http.MethodPost, "/api/v1/runtime/start", req)
	if w.Code != http.StatusOK {
		t.Fatalf("first start: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var status server.Status
	decode(t, w, &status)
	if status.State != server.StateRunning || status.SessionID == "" || status.Build != "5848" {
		t.Fatalf("unexpected status %+v", status)
	}

	w = env.do(t, http.MethodPost, "/api/v1/runtime/start", req)
	if w.Code != http.StatusConflict {
		t.Fatalf("second start: expected 409, got %d", w.Code)
	}

	w = env.do(t, http.MethodPost, "/api/v1/runtime/stop", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("stop: expected 200, got %d", w.Code)
	}
	if env.manager.Status().State != server.StateIdle {
		t.Fatalf("expected idle after stop, got %s", env.manager.Status().State)
	}
}

func TestStartErrorMapping(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name string
		body map[string]string
		want int
	}{
		{name: "unknown folder", body: map[string]string{"build": "5848", "folder": "missing"}, want: http.StatusNotFound},
		{name: "invalid build", body: map[string]string{"build": "../x", "folder": "roleplay"}, want: http.StatusNotFound},
		{name: "build not installable", body: map[string]string{"build": "6000", "folder": "roleplay"}, want: http.StatusFailedDependency},
		{name: "missing fields", body: map[string]string{"build": "5848"}, want: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodPost, "/api/v1/runtime/start", tt.body)
			if w.Code != tt.want {
				t.Fatalf("expected %d, got %d: %s", tt.want, w.Code, w.Body.String())
			}
		})
	}

	if env.manager.Status().State != server.StateIdle {
		t.Fatalf("failed starts must leave the manager idle")
	}
}

func TestRestartRequiresRunningServer(t *testing.T) {
	env := newTestEnv(t)
	if w := env.do(t, http.MethodPost, "/api/v1/runtime/restart", nil); w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", w.Code)
	}

	env.do(t, http.MethodPost, "/api/v1/runtime/start", map[string]string{"build": "5848", "folder": "roleplay"})
	first := env.manager.Status().SessionID

	w := env.do(t, http.MethodPost, "/api/v1/runtime/restart", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if current := env.manager.Status(); current.State != server.StateRunning || current.SessionID == first {
		t.Fatalf("expected a fresh running session, got %+v", current)
	}
}

func TestSettingsMasksKeys(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/v1/settings", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if strings.Contains(w.Body.String(), "cfxk_secret") || strings.Contains(w.Body.String(), "steam_secret") {
		t.Fatalf("keys leaked: %s", w.Body.String())
	}

	masked := "********"
	restart := false
	w = env.do(t, http.MethodPut, "/api/v1/settings", map[string]interface{}{
		"cfx_token":        masked,
		"steam_token":      "steam_new",
		"restart_on_crash": restart,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	cfg := env.store.Get()
	if cfg.CFXToken != "cfxk_secret" {
		t.Fatalf("masked value must keep the stored key, got %q", cfg.CFXToken)
	}
	if cfg.SteamToken != "steam_new" || cfg.RestartOnCrash {
		t.Fatalf("update not applied: %+v", cfg)
	}
}

func TestSettingsRejectsBadSchedule(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodPut, "/api/v1/settings", map[string]interface{}{
		"auto_restart": map[string]interface{}{"enabled": true, "schedule": "whenever"},
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if env.store.Get().AutoRestart.Enabled {
		t.Fatalf("rejected update must not be stored")
	}
}

func TestListFoldersAndBuilds(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/v1/folders", nil)
	var folders struct {
		Folders []struct {
			Name             string `json:"name"`
			HasConfiguration bool   `json:"has_configuration"`
		} `json:"folders"`
	}
	decode(t, w, &folders)
	if len(folders.Folders) != 1 || folders.Folders[0].Name != "roleplay" || !folders.Folders[0].HasConfiguration {
		t.Fatalf("unexpected folders %+v", folders)
	}

	if w := env.do(t, http.MethodGet, "/api/v1/folders/nope", nil); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown folder, got %d", w.Code)
	}

	w = env.do(t, http.MethodGet, "/api/v1/builds", nil)
	var list struct {
		Builds []struct {
			Version string       `json:"version"`
			State   builds.State `json:"state"`
		} `json:"builds"`
	}
	decode(t, w, &list)
	if len(list.Builds) != 1 || list.Builds[0].Version != "5848" || list.Builds[0].State != builds.StateInstalled {
		t.Fatalf("unexpected builds %+v", list)
	}

	if w := env.do(t, http.MethodPost, "/api/v1/builds/7000/install", nil); w.Code != http.StatusFailedDependency {
		t.Fatalf("expected 424 without an installer, got %d", w.Code)
	}
}

func TestConsoleEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.feed.Append("Started resource chat")
	env.feed.Append("SCRIPT ERROR: @police/server.lua:3")

	w := env.do(t, http.MethodGet, "/api/v1/runtime/console?filter=errors", nil)
	var out struct {
		Lines []string `json:"lines"`
	}
	decode(t, w, &out)
	if len(out.Lines) != 1 || !strings.HasPrefix(out.Lines[0], "SCRIPT ERROR") {
		t.Fatalf("unexpected lines %q", out.Lines)
	}

	if w := env.do(t, http.MethodGet, "/api/v1/runtime/console?filter=fuzzy", nil); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown filter, got %d", w.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "cfx_manager_runtime_running") {
		t.Fatalf("metrics not served: %d", w.Code)
	}
}

func TestRuntimeWebSocketGreetsWithStatus(t *testing.T) {
	env := newTestEnv(t)
	srv := httptest.NewServer(env.router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/ws/runtime?token=" + testToken
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var msg ws.Message
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if msg.Type != "status" {
		t.Fatalf("expected status greeting, got %s", msg.Type)
	}

	env.hub.Publish(ws.RoomRuntime, "crashed", map[string]int{"exit_code": 1})
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if msg.Type != "crashed" {
		t.Fatalf("expected crashed event, got %s", msg.Type)
	}
}
