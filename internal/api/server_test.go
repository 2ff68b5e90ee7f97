package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voxelagent.ai/internal/agent"
	"voxelagent.ai/internal/journal"
	"voxelagent.ai/internal/observability"
	"voxelagent.ai/internal/world"
	"voxelagent.ai/internal/world/worldtest"
)

type fixture struct {
	t    *testing.T
	conn *worldtest.Connector
	m    *agent.Manager
	srv  *httptest.Server
}

func newFixture(t *testing.T, setup func(*worldtest.Session)) *fixture {
	t.Helper()
	j, err := journal.Open(journal.Options{Dir: t.TempDir()}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })

	metrics := observability.NewMetrics()
	opts := agent.DefaultOptions()
	opts.LoginDelay = 0
	conn := &worldtest.Connector{Setup: setup}
	m, err := agent.NewManager(agent.Config{Options: opts, Connector: conn, Metrics: metrics, Recorder: j})
	require.NoError(t, err)
	t.Cleanup(m.Stop)

	s, err := NewServer(Config{Agent: m, History: j, Metrics: metrics})
	require.NoError(t, err)
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return &fixture{t: t, conn: conn, m: m, srv: srv}
}

func (f *fixture) do(method, path, body string) (int, map[string]any) {
	f.t.Helper()
	req, err := http.NewRequest(method, f.srv.URL+path, strings.NewReader(body))
	require.NoError(f.t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(f.t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(f.t, err)
	out := map[string]any{}
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		require.NoError(f.t, json.Unmarshal(raw, &out), string(raw))
	}
	return resp.StatusCode, out
}

// connect starts a session over the API and confirms its spawn.
func (f *fixture) connect() *worldtest.Session {
	f.t.Helper()
	code, body := f.do(http.MethodPost, "/start", `{"username":"Bob"}`)
	require.Equal(f.t, http.StatusOK, code, body)
	assert.Equal(f.t, "starting", body["status"])
	s := f.conn.Last()
	s.Emit(world.Event{Kind: world.EventSpawn})
	require.Eventually(f.t, func() bool {
		return f.m.Status().ConnectionState == agent.Connected
	}, 2*time.Second, 5*time.Millisecond)
	return s
}

func TestNoSession_Returns503(t *testing.T) {
	f := newFixture(t, nil)
	for _, tc := range []struct{ method, path, body string }{
		{http.MethodGet, "/perception", ""},
		{http.MethodGet, "/inventory", ""},
		{http.MethodGet, "/surroundings", ""},
		{http.MethodPost, "/action/move", `{"x":1,"y":64,"z":1}`},
		{http.MethodPost, "/action/chat", `{"message":"hi"}`},
		{http.MethodPost, "/action/attack", `{"entityName":"zombie"}`},
	} {
		code, body := f.do(tc.method, tc.path, tc.body)
		assert.Equal(t, http.StatusServiceUnavailable, code, tc.path)
		assert.NotEmpty(t, body["error"], tc.path)
	}
}

func TestSchemaViolations_Return400(t *testing.T) {
	f := newFixture(t, nil)
	for _, tc := range []struct{ path, body string }{
		{"/action/move", `{"x":1,"y":2}`},
		{"/action/move", `{"x":"one","y":2,"z":3}`},
		{"/action/craft", `{"itemName":"stick","count":0}`},
		{"/action/craft", `{"itemName":"stick","count":1.5}`},
		{"/action/equip", `{"itemName":"helmet","destination":"tail"}`},
		{"/action/place", `{"x":1,"y":2,"z":3,"itemName":"dirt"}`},
		{"/action/chat", `{}`},
		{"/action/eat", `{"itemName":""}`},
		{"/start", `{"port":"abc"}`},
		{"/start", `{"hostname":"typo"}`},
		{"/action/attack", `{not json`},
	} {
		code, body := f.do(http.MethodPost, tc.path, tc.body)
		assert.Equal(t, http.StatusBadRequest, code, "%s %s", tc.path, tc.body)
		assert.NotEmpty(t, body["error"])
	}
	assert.Empty(t, f.conn.Sessions())
}

func TestStartStatusStop(t *testing.T) {
	f := newFixture(t, nil)

	code, body := f.do(http.MethodGet, "/status", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, body["sessionExists"])
	assert.Equal(t, "disconnected", body["connectionState"])

	f.connect()
	p := f.conn.Params()[0]
	assert.Equal(t, "Bob", p.Username)
	assert.Equal(t, "localhost", p.Host)
	assert.Equal(t, 25565, p.Port)

	_, body = f.do(http.MethodGet, "/status", "")
	assert.Equal(t, true, body["sessionExists"])
	assert.Equal(t, "connected", body["connectionState"])
	assert.Equal(t, "Bob", body["username"])

	code, body = f.do(http.MethodPost, "/stop", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "stopped", body["status"])
	_, body = f.do(http.MethodGet, "/status", "")
	assert.Equal(t, false, body["sessionExists"])
}

func TestStart_ConnectFailure(t *testing.T) {
	f := newFixture(t, nil)
	f.conn.FailNext(errors.New("connection refused"))
	code, body := f.do(http.MethodPost, "/start", "")
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.Contains(t, body["error"], "connection refused")
}

func TestActions(t *testing.T) {
	f := newFixture(t, func(s *worldtest.Session) {
		s.SetPosition(world.Vec3{X: 0, Y: 64, Z: 0})
		s.SetInventory(world.Item{Name: "bread", Count: 2}, world.Item{Name: "dirt", Count: 5})
		s.SetBlock("stone", world.Vec3{X: 1, Y: 63, Z: 0})
		s.SetEntities(world.Entity{ID: "z1", Name: "zombie", Type: "mob", Position: world.Vec3{X: 3, Y: 64, Z: 0}})
	})
	s := f.connect()

	code, body := f.do(http.MethodPost, "/action/move", `{"x":5,"y":64,"z":5}`)
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, true, body["success"])
	require.Len(t, s.CallsOf(worldtest.OpMove), 1)

	code, _ = f.do(http.MethodPost, "/action/mine", `{"x":1,"y":63,"z":0}`)
	require.Equal(t, http.StatusOK, code)
	require.Len(t, s.CallsOf(worldtest.OpMine), 1)

	code, _ = f.do(http.MethodPost, "/action/place", `{"x":1,"y":63,"z":0,"face":{"x":0,"y":1,"z":0},"itemName":"dirt"}`)
	require.Equal(t, http.StatusOK, code)
	require.Len(t, s.CallsOf(worldtest.OpPlace), 1)
	assert.Equal(t, world.Vec3{Y: 1}, s.CallsOf(worldtest.OpPlace)[0].Face)

	code, _ = f.do(http.MethodPost, "/action/eat", `{"itemName":"bread"}`)
	require.Equal(t, http.StatusOK, code)
	require.Len(t, s.CallsOf(worldtest.OpConsume), 1)

	code, _ = f.do(http.MethodPost, "/action/attack", `{"entityName":"Zombie"}`)
	require.Equal(t, http.StatusOK, code)
	require.Len(t, s.CallsOf(worldtest.OpAttack), 1)

	code, _ = f.do(http.MethodPost, "/action/chat", `{"message":"hello"}`)
	require.Equal(t, http.StatusOK, code)
	chats := s.CallsOf(worldtest.OpChat)
	assert.Equal(t, "hello", chats[len(chats)-1].Message)
}

func TestActions_FailuresCarryCode(t *testing.T) {
	f := newFixture(t, nil)
	s := f.connect()

	code, body := f.do(http.MethodPost, "/action/mine", `{"x":9,"y":9,"z":9}`)
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.Equal(t, string(agent.CodeTargetNotFound), body["code"])

	code, body = f.do(http.MethodPost, "/action/craft", `{"itemName":"diamond_pickaxe"}`)
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.Equal(t, string(agent.CodeTargetNotFound), body["code"])

	s.FailOn(worldtest.OpMove, errors.New("path blocked"))
	code, body = f.do(http.MethodPost, "/action/move", `{"x":1,"y":2,"z":3}`)
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.Equal(t, "path blocked", body["error"])
	assert.Equal(t, string(agent.CodeDelegation), body["code"])
}

func TestPerception(t *testing.T) {
	f := newFixture(t, func(s *worldtest.Session) {
		s.SetEntities(
			world.Entity{ID: "c1", Name: "cow", Type: "animal", Position: world.Vec3{X: 3}},
			world.Entity{ID: "c2", Name: "cow", Type: "animal", Position: world.Vec3{X: 8}},
		)
		s.SetInventory(world.Item{Name: "bread", Count: 1})
	})
	f.connect()

	code, body := f.do(http.MethodGet, "/perception?radius=5", "")
	require.Equal(t, http.StatusOK, code)
	ents := body["nearbyEntities"].([]any)
	require.Len(t, ents, 1)
	assert.Equal(t, "c1", ents[0].(map[string]any)["id"])

	_, body = f.do(http.MethodGet, "/perception", "")
	assert.Len(t, body["nearbyEntities"], 2)

	code, _ = f.do(http.MethodGet, "/perception?radius=abc", "")
	assert.Equal(t, http.StatusBadRequest, code)

	code, body = f.do(http.MethodGet, "/inventory", "")
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, body["inventory"], 1)

	code, body = f.do(http.MethodGet, "/surroundings", "")
	require.Equal(t, http.StatusOK, code)
	assert.NotNil(t, body["blocks"])
}

func TestHistory(t *testing.T) {
	f := newFixture(t, nil)
	f.connect()
	code, _ := f.do(http.MethodPost, "/action/move", `{"x":1,"y":64,"z":1}`)
	require.Equal(t, http.StatusOK, code)
	f.do(http.MethodPost, "/action/mine", `{"x":9,"y":9,"z":9}`)

	code, body := f.do(http.MethodGet, "/history/actions?limit=10", "")
	require.Equal(t, http.StatusOK, code)
	rows := body["actions"].([]any)
	require.Len(t, rows, 2)
	ops := []any{rows[0].(map[string]any)["op"], rows[1].(map[string]any)["op"]}
	assert.ElementsMatch(t, []any{"move", "mine"}, ops)

	code, body = f.do(http.MethodGet, "/history/reflexes", "")
	require.Equal(t, http.StatusOK, code)
	assert.Empty(t, body["reflexes"])
}

func TestHistory_Disabled(t *testing.T) {
	m, err := agent.NewManager(agent.Config{Connector: &worldtest.Connector{}})
	require.NoError(t, err)
	s, err := NewServer(Config{Agent: m})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/history/actions", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthMetricsVersionCatalog(t *testing.T) {
	f := newFixture(t, nil)
	f.do(http.MethodGet, "/status", "")

	resp, err := http.Get(f.srv.URL + "/healthz")
	require.NoError(t, err)
	b, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, "ok", string(b))

	resp, err = http.Get(f.srv.URL + "/metrics")
	require.NoError(t, err)
	b, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Contains(t, string(b), `voxagent_http_requests_total{code="200",route="GET /status"} 1`)
	assert.Contains(t, string(b), "voxagent_session_state")

	code, body := f.do(http.MethodGet, "/version", "")
	require.Equal(t, http.StatusOK, code)
	assert.NotEmpty(t, body["version"])

	code, _ = f.do(http.MethodGet, "/catalog", "")
	assert.Equal(t, http.StatusOK, code)
}

func TestNewServer_RequiresAgent(t *testing.T) {
	_, err := NewServer(Config{})
	require.Error(t, err)
}

func TestMethodNotAllowed(t *testing.T) {
	f := newFixture(t, nil)
	code, _ := f.do(http.MethodGet, "/action/move", "")
	assert.Equal(t, http.StatusMethodNotAllowed, code)
}
