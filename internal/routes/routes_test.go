package routes

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/zaqqye/bustrack/internal/authz"
	"github.com/zaqqye/bustrack/internal/config"
	"github.com/zaqqye/bustrack/internal/models"
	"github.com/zaqqye/bustrack/internal/store"
	"github.com/zaqqye/bustrack/internal/tracking"
	"github.com/zaqqye/bustrack/internal/utils"
	"github.com/zaqqye/bustrack/internal/ws"
)

const password = "secret123"

type env struct {
	srv *httptest.Server
	mem *store.Memory
	hub *ws.Hub
}

func uptr(v uint) *uint { return &v }

func newEnv(t *testing.T) *env {
	t.Helper()
	gin.SetMode(gin.TestMode)
	hash, err := utils.HashPassword(password)
	if err != nil {
		t.Fatal(err)
	}
	mem := store.NewMemory()
	mem.PutUser(models.User{ID: 1, Email: "admin@example.com", Password: hash, Role: models.RoleAdmin, Active: true})
	mem.PutUser(models.User{ID: 10, Email: "driver@example.com", Password: hash, Role: models.RoleDriver, Active: true})
	mem.PutUser(models.User{ID: 11, Email: "driver2@example.com", Password: hash, Role: models.RoleDriver, Active: true})
	mem.PutUser(models.User{ID: 20, Email: "parent@example.com", Password: hash, Role: models.RoleParent, Active: true})
	mem.PutUser(models.User{ID: 21, Email: "parent2@example.com", Password: hash, Role: models.RoleParent, Active: true})
	mem.PutBus(models.Bus{ID: 3, NumberPlate: "KCA 003", DriverID: uptr(10), TrackingEnabled: true})
	mem.PutBus(models.Bus{ID: 4, NumberPlate: "KCA 004", DriverID: uptr(11), TrackingEnabled: true})
	mem.PutStudent(models.Student{ID: 1, ParentID: 20, BusID: uptr(3)})

	cfg := &config.Config{
		JWTSecret:    "test-secret",
		JWTExpiresIn: time.Hour,
		StoreTimeout: time.Second,
		StaleAfter:   5 * time.Minute,
	}
	hub := ws.NewHub()
	resolver := authz.NewResolver(mem)
	r := gin.New()
	Register(r, Deps{
		Cfg:      cfg,
		Dir:      mem,
		Authz:    resolver,
		Tracking: tracking.NewService(mem, mem, resolver, hub, cfg.StoreTimeout),
		Hub:      hub,
	})
	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})
	return &env{srv: srv, mem: mem, hub: hub}
}

func (e *env) call(t *testing.T, method, path, token string, body any) (int, map[string]json.RawMessage) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req, err := http.NewRequest(method, e.srv.URL+path, &buf)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	out := map[string]json.RawMessage{}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out
}

func (e *env) login(t *testing.T, email string) string {
	t.Helper()
	code, body := e.call(t, http.MethodPost, "/api/auth/login", "", map[string]string{"email": email, "password": password})
	if code != http.StatusOK {
		t.Fatalf("login %s: %d %s", email, code, body["error"])
	}
	var tok string
	if err := json.Unmarshal(body["token"], &tok); err != nil {
		t.Fatal(err)
	}
	return tok
}

func (e *env) dial(t *testing.T, token string) *websocket.Conn {
	t.Helper()
	u := "ws" + strings.TrimPrefix(e.srv.URL, "http") + "/ws?token=" + url.QueryEscape(token)
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func read(t *testing.T, conn *websocket.Conn) ws.Envelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var env ws.Envelope
	if err := conn.ReadJSON(&env); err != nil {
		t.Fatalf("read: %v", err)
	}
	return env
}

func TestLogin(t *testing.T) {
	e := newEnv(t)
	code, _ := e.call(t, http.MethodPost, "/api/auth/login", "", map[string]string{"email": "parent@example.com", "password": "wrong"})
	if code != http.StatusUnauthorized {
		t.Fatalf("bad password: %d", code)
	}
	code, _ = e.call(t, http.MethodPost, "/api/auth/login", "", map[string]string{"email": "nobody@example.com", "password": password})
	if code != http.StatusUnauthorized {
		t.Fatalf("unknown email: %d", code)
	}
	tok := e.login(t, "parent@example.com")
	code, body := e.call(t, http.MethodGet, "/api/auth/me", tok, nil)
	if code != http.StatusOK {
		t.Fatalf("me: %d", code)
	}
	var user models.User
	if err := json.Unmarshal(body["user"], &user); err != nil {
		t.Fatal(err)
	}
	if user.ID != 20 || user.Role != models.RoleParent {
		t.Fatalf("me = %+v", user)
	}
}

func TestDriverReportReachesParent(t *testing.T) {
	e := newEnv(t)
	driver := e.login(t, "driver@example.com")
	parent := e.login(t, "parent@example.com")

	conn := e.dial(t, parent)
	if err := conn.WriteJSON(ws.Envelope{Event: ws.EventJoin, Data: json.RawMessage(`3`)}); err != nil {
		t.Fatal(err)
	}
	if env := read(t, conn); env.Event != ws.EventJoined {
		t.Fatalf("join: %s %s", env.Event, env.Data)
	}

	code, body := e.call(t, http.MethodPost, "/api/gps", driver, map[string]any{
		"bus_id": 3, "latitude": -0.30, "longitude": 36.08, "speed": 40,
	})
	if code != http.StatusCreated {
		t.Fatalf("report: %d %s", code, body["error"])
	}
	var stored models.Location
	if err := json.Unmarshal(body["location"], &stored); err != nil {
		t.Fatal(err)
	}

	env := read(t, conn)
	if env.Event != ws.EventLocation {
		t.Fatalf("event = %s", env.Event)
	}
	var evt ws.LocationEvent
	if err := json.Unmarshal(env.Data, &evt); err != nil {
		t.Fatal(err)
	}
	if evt.BusID != 3 || evt.Latitude != -0.30 || evt.Longitude != 36.08 || evt.Speed != 40 {
		t.Fatalf("event = %+v", evt)
	}
	if !evt.Timestamp.Equal(stored.CreatedAt) {
		t.Fatalf("timestamp %v != stored %v", evt.Timestamp, stored.CreatedAt)
	}

	code, body = e.call(t, http.MethodGet, "/api/gps/3", parent, nil)
	if code != http.StatusOK {
		t.Fatalf("latest: %d", code)
	}
	var latest models.Location
	if err := json.Unmarshal(body["location"], &latest); err != nil {
		t.Fatal(err)
	}
	if latest.ID != stored.ID {
		t.Fatalf("latest id = %d, want %d", latest.ID, stored.ID)
	}
}

func TestReportRejections(t *testing.T) {
	e := newEnv(t)
	driver := e.login(t, "driver@example.com")
	parent := e.login(t, "parent@example.com")

	cases := []struct {
		name  string
		token string
		body  map[string]any
		want  int
	}{
		{"no token", "", map[string]any{"bus_id": 3, "latitude": 1, "longitude": 1}, http.StatusUnauthorized},
		{"parent", parent, map[string]any{"bus_id": 3, "latitude": 1, "longitude": 1}, http.StatusForbidden},
		{"unassigned bus", driver, map[string]any{"bus_id": 4, "latitude": 1, "longitude": 1}, http.StatusForbidden},
		{"missing latitude", driver, map[string]any{"bus_id": 3, "longitude": 1}, http.StatusBadRequest},
		{"latitude out of range", driver, map[string]any{"bus_id": 3, "latitude": 91, "longitude": 1}, http.StatusBadRequest},
		{"negative speed", driver, map[string]any{"bus_id": 3, "latitude": 1, "longitude": 1, "speed": -3}, http.StatusBadRequest},
		{"unknown bus", driver, map[string]any{"bus_id": 99, "latitude": 1, "longitude": 1}, http.StatusForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if code, body := e.call(t, http.MethodPost, "/api/gps", tc.token, tc.body); code != tc.want {
				t.Fatalf("status = %d, want %d (%s)", code, tc.want, body["error"])
			}
		})
	}
	if e.mem.Count(3) != 0 || e.mem.Count(4) != 0 {
		t.Fatal("rejected reports were stored")
	}

	// an unknown bus is indistinguishable from someone else's bus
	_, unassigned := e.call(t, http.MethodPost, "/api/gps", driver, map[string]any{"bus_id": 4, "latitude": 1, "longitude": 1})
	_, unknown := e.call(t, http.MethodPost, "/api/gps", driver, map[string]any{"bus_id": 99, "latitude": 1, "longitude": 1})
	if string(unknown["error"]) != string(unassigned["error"]) {
		t.Fatalf("unknown bus error %s differs from unassigned %s", unknown["error"], unassigned["error"])
	}

	code, _ := e.call(t, http.MethodPost, "/api/gps", driver, map[string]any{"bus_id": 3, "latitude": 0, "longitude": 0})
	if code != http.StatusCreated {
		t.Fatalf("zero coordinates should be accepted: %d", code)
	}
}

func TestQueryEndpoints(t *testing.T) {
	e := newEnv(t)
	admin := e.login(t, "admin@example.com")
	driver := e.login(t, "driver@example.com")
	parent := e.login(t, "parent@example.com")
	parent2 := e.login(t, "parent2@example.com")

	if code, _ := e.call(t, http.MethodGet, "/api/gps/3", parent, nil); code != http.StatusNotFound {
		t.Fatalf("latest before any report: %d", code)
	}
	for i := 0; i < 3; i++ {
		if code, _ := e.call(t, http.MethodPost, "/api/gps", driver, map[string]any{"bus_id": 3, "latitude": float64(i), "longitude": 1}); code != http.StatusCreated {
			t.Fatalf("report %d: %d", i, code)
		}
	}

	if code, _ := e.call(t, http.MethodGet, "/api/gps/3", parent2, nil); code != http.StatusForbidden {
		t.Fatalf("unrelated parent: %d", code)
	}
	if code, _ := e.call(t, http.MethodGet, "/api/gps/abc", parent, nil); code != http.StatusBadRequest {
		t.Fatalf("bad id: %d", code)
	}

	code, body := e.call(t, http.MethodGet, "/api/gps/3/history?limit=2", parent, nil)
	if code != http.StatusOK {
		t.Fatalf("history: %d", code)
	}
	var locs []models.Location
	if err := json.Unmarshal(body["locations"], &locs); err != nil {
		t.Fatal(err)
	}
	if len(locs) != 2 || locs[0].Latitude != 2 || locs[1].Latitude != 1 {
		t.Fatalf("history = %+v", locs)
	}
	code, body = e.call(t, http.MethodGet, "/api/gps/3/history?limit=abc", parent, nil)
	if code != http.StatusOK {
		t.Fatalf("history default limit: %d", code)
	}
	if err := json.Unmarshal(body["locations"], &locs); err != nil || len(locs) != 3 {
		t.Fatalf("history default limit = %d (%v)", len(locs), err)
	}

	if code, _ := e.call(t, http.MethodGet, "/api/gps/all/active", parent, nil); code != http.StatusForbidden {
		t.Fatalf("active as parent: %d", code)
	}
	code, body = e.call(t, http.MethodGet, "/api/gps/all/active", admin, nil)
	if code != http.StatusOK {
		t.Fatalf("active: %d", code)
	}
	var active []tracking.ActiveBus
	if err := json.Unmarshal(body["activeBuses"], &active); err != nil {
		t.Fatal(err)
	}
	if len(active) != 1 || active[0].BusID != 3 || active[0].Location.Latitude != 2 {
		t.Fatalf("active = %+v", active)
	}
}

func TestTrackingToggle(t *testing.T) {
	e := newEnv(t)
	driver := e.login(t, "driver@example.com")
	driver2 := e.login(t, "driver2@example.com")
	parent := e.login(t, "parent@example.com")

	if code, _ := e.call(t, http.MethodPut, "/api/bus/3/tracking", parent, map[string]any{"tracking_enabled": false}); code != http.StatusForbidden {
		t.Fatalf("parent toggle: %d", code)
	}
	if code, _ := e.call(t, http.MethodPut, "/api/bus/3/tracking", driver2, map[string]any{"tracking_enabled": false}); code != http.StatusForbidden {
		t.Fatalf("other driver toggle: %d", code)
	}
	if code, _ := e.call(t, http.MethodPut, "/api/bus/3/tracking", driver, map[string]any{"tracking_enabled": false, "status": "inactive"}); code != http.StatusForbidden {
		t.Fatalf("extra fields: %d", code)
	}
	if code, _ := e.call(t, http.MethodPut, "/api/bus/99/tracking", driver, map[string]any{"tracking_enabled": false}); code != http.StatusForbidden {
		t.Fatalf("driver toggle on unknown bus: %d", code)
	}
	if code, _ := e.call(t, http.MethodPut, "/api/bus/3/tracking", driver, map[string]any{"tracking_enabled": "no"}); code != http.StatusBadRequest {
		t.Fatalf("non-boolean: %d", code)
	}
	code, body := e.call(t, http.MethodPut, "/api/bus/3/tracking", driver, map[string]any{"tracking_enabled": false})
	if code != http.StatusOK {
		t.Fatalf("toggle: %d %s", code, body["error"])
	}
	var bus models.Bus
	if err := json.Unmarshal(body["bus"], &bus); err != nil {
		t.Fatal(err)
	}
	if bus.TrackingEnabled {
		t.Fatal("tracking still enabled")
	}

	code, body = e.call(t, http.MethodPost, "/api/gps", driver, map[string]any{"bus_id": 3, "latitude": 1, "longitude": 1})
	if code != http.StatusForbidden {
		t.Fatalf("report with tracking off: %d %s", code, body["error"])
	}
	if code, _ := e.call(t, http.MethodGet, "/api/bus/3", parent, nil); code != http.StatusOK {
		t.Fatalf("parent bus read: %d", code)
	}
}

func TestWebsocketRequiresToken(t *testing.T) {
	e := newEnv(t)
	u := "ws" + strings.TrimPrefix(e.srv.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(u, nil)
	if err == nil {
		t.Fatal("dial without token succeeded")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("resp = %v", resp)
	}
}

func TestPublicConfig(t *testing.T) {
	e := newEnv(t)
	code, body := e.call(t, http.MethodGet, "/api/config/public", "", nil)
	if code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if string(body["ws_path"]) != `"/ws"` || string(body["client_hints"]) != "false" || string(body["stale_after_seconds"]) != "300" {
		t.Fatalf("body = %v", body)
	}
}
