package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pliu/etoe/internal/models"
	"github.com/pliu/etoe/internal/snapshot"
	"github.com/pliu/etoe/internal/store/memstore"
	"github.com/pliu/etoe/internal/ws"
)

type testRelay struct {
	store *memstore.Store
	hub   *ws.Hub
	srv   *httptest.Server
}

func newTestRelay(t *testing.T) *testRelay {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	hub := ws.NewHub(nil)
	go hub.Run(ctx)

	s := memstore.New(hub)
	srv := httptest.NewServer(NewRouter(RouterConfig{
		Store:          s,
		Hub:            hub,
		AllowedOrigins: []string{"http://localhost:3000"},
	}))
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return &testRelay{store: s, hub: hub, srv: srv}
}

func (tr *testRelay) do(t *testing.T, method, path, token string, body []byte) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, tr.srv.URL+path, bytes.NewReader(body))
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (tr *testRelay) register(t *testing.T, name, password, key string) (int, string) {
	t.Helper()
	body, _ := json.Marshal(RegisterRequest{Name: name, Password: password, PublicKey: key})
	resp := tr.do(t, "POST", "/users", "", body)
	var buf bytes.Buffer
	buf.ReadFrom(resp.Body)
	return resp.StatusCode, buf.String()
}

func (tr *testRelay) dial(t *testing.T, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(tr.srv.URL, "http") + "/ws?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	var buf bytes.Buffer
	_, err := buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	return buf.String()
}

func TestRegister(t *testing.T) {
	tr := newTestRelay(t)

	status, token := tr.register(t, "alice", "password123", "pubA")
	assert.Equal(t, http.StatusOK, status)
	assert.NotEmpty(t, token)

	status, again := tr.register(t, "Alice", "password123", "pubA2")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, token, again)

	status, _ = tr.register(t, "alice", "wrong", "pubX")
	assert.Equal(t, http.StatusUnauthorized, status)

	status, _ = tr.register(t, "a1", "password123", "pubB")
	assert.Equal(t, http.StatusBadRequest, status)

	resp := tr.do(t, "POST", "/users", "", []byte("{not json"))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRegisterIgnoresAuthorizationHeader(t *testing.T) {
	tr := newTestRelay(t)
	_, token := tr.register(t, "alice", "password123", "pubA")

	body, _ := json.Marshal(RegisterRequest{Name: "alice", Password: "password123", PublicKey: "pubA2"})
	resp := tr.do(t, "POST", "/users", token, body)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, token, readBody(t, resp))

	u, ok := tr.store.Authenticate(token)
	require.True(t, ok)
	assert.Equal(t, "pubA2", u.PublicKey)
}

func TestUnauthenticatedRequests(t *testing.T) {
	tr := newTestRelay(t)
	_, token := tr.register(t, "alice", "password123", "pubA")

	for _, tc := range []struct{ method, path string }{
		{"GET", "/chats"},
		{"POST", "/chats"},
		{"POST", "/chats/abc"},
		{"GET", "/chats/abc/key"},
		{"GET", "/nowhere"},
		{"GET", "/users"},
		{"GET", "/json"},
	} {
		resp := tr.do(t, tc.method, tc.path, "bogus", nil)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, "%s %s", tc.method, tc.path)
	}

	resp := tr.do(t, "GET", "/nowhere", token, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp = tr.do(t, "GET", "/json", token, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode, "snapshot export is not on the public router")

	_, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(tr.srv.URL, "http")+"/ws?token=bogus", nil)
	assert.Error(t, err)
}

func TestPreflight(t *testing.T) {
	tr := newTestRelay(t)

	req, _ := http.NewRequest("OPTIONS", tr.srv.URL+"/chats/abc", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "http://localhost:3000", resp.Header.Get("Access-Control-Allow-Origin"))

	resp = tr.do(t, "GET", "/chats", "bogus", nil)
	assert.Equal(t, "", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "Content-Type, Authorization", resp.Header.Get("Access-Control-Allow-Headers"))
}

func TestCreateChatStatuses(t *testing.T) {
	tr := newTestRelay(t)
	_, alice := tr.register(t, "alice", "password123", "pubA")
	_, bob := tr.register(t, "bob", "password123", "pubB")

	resp := tr.do(t, "POST", "/chats", alice, []byte("nobody"))
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = tr.do(t, "POST", "/chats", alice, []byte("alice"))
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = tr.do(t, "POST", "/chats", alice, []byte("Bob"))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var chat models.ChatView
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&chat))
	assert.Equal(t, "bob", chat.Name)
	assert.NotNil(t, chat.Messages)

	resp = tr.do(t, "POST", "/chats", bob, []byte("alice"))
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "Exists\n", readBody(t, resp))
}

func TestPostMessageAndPeerKey(t *testing.T) {
	tr := newTestRelay(t)
	_, alice := tr.register(t, "alice", "password123", "pubA")
	_, _ = tr.register(t, "bob", "password123", "pubB")
	_, carol := tr.register(t, "carol", "password123", "pubC")

	resp := tr.do(t, "POST", "/chats", alice, []byte("bob"))
	var chat models.ChatView
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&chat))

	resp = tr.do(t, "GET", "/chats/"+chat.ID+"/key", alice, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "pubB", readBody(t, resp))

	resp = tr.do(t, "GET", "/chats/"+chat.ID+"/key", carol, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = tr.do(t, "POST", "/chats/"+chat.ID, carol, []byte(`{"content":"X"}`))
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = tr.do(t, "POST", "/chats/missing", alice, []byte(`{"content":"X"}`))
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = tr.do(t, "POST", "/chats/"+chat.ID, alice, []byte(`nope`))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestEndToEndScenario(t *testing.T) {
	tr := newTestRelay(t)
	_, alice := tr.register(t, "alice", "password123", "pubA")
	_, bob := tr.register(t, "bob", "password123", "pubB")

	bobConn := tr.dial(t, bob)
	bobUser, ok := tr.store.Authenticate(bob)
	require.True(t, ok)
	require.Eventually(t, func() bool {
		return tr.hub.Online(context.Background(), bobUser.ID)
	}, 2*time.Second, 10*time.Millisecond)

	resp := tr.do(t, "POST", "/chats", alice, []byte("bob"))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var chat models.ChatView
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&chat))

	bobConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, frame, err := bobConn.ReadMessage()
	require.NoError(t, err)
	ev, err := models.DecodeEvent(frame)
	require.NoError(t, err)
	assert.Equal(t, models.EventNewChat, ev.Type)
	assert.Equal(t, chat.ID, ev.Chat)
	require.NotNil(t, ev.ChatView)
	assert.Equal(t, "alice", ev.ChatView.Name)

	resp = tr.do(t, "POST", "/chats/"+chat.ID, alice, []byte(`{"content":"X"}`))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var sent models.MessageView
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&sent))
	assert.Equal(t, "X", sent.Content)
	assert.True(t, sent.IsMe)
	assert.Equal(t, "pubB", sent.Key)

	_, frame, err = bobConn.ReadMessage()
	require.NoError(t, err)
	ev, err = models.DecodeEvent(frame)
	require.NoError(t, err)
	assert.Equal(t, models.EventNewMessage, ev.Type)
	assert.Equal(t, chat.ID, ev.Chat)
	require.NotNil(t, ev.Message)
	assert.Equal(t, "X", ev.Message.Content)
	assert.False(t, ev.Message.IsMe)
	assert.Equal(t, "pubA", ev.Message.Key)
	assert.Equal(t, sent.ID, ev.Message.ID)

	resp = tr.do(t, "GET", "/chats", bob, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var chats map[string]models.ChatView
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&chats))
	require.Contains(t, chats, chat.ID)
	require.Len(t, chats[chat.ID].Messages, 1)
	got := chats[chat.ID].Messages[0]
	assert.Equal(t, "X", got.Content)
	assert.False(t, got.IsMe)
	assert.Equal(t, "pubA", got.Key)
}

func TestMaintenanceRouter(t *testing.T) {
	s := memstore.New(nil)
	_, err := s.Register("alice", "password123", "pubA")
	require.NoError(t, err)

	dir := t.TempDir()
	sink := snapshot.NewFileSink(dir)
	h := NewMaintenanceRouter(s, sink, nil)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest("GET", "/json", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "Done", rr.Body.String())

	loaded, err := sink.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, loaded.Users, 1)
	assert.Equal(t, "alice", loaded.Users[0].Name)

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest("GET", "/healthz", nil))
	assert.Equal(t, "OK", rr.Body.String())
}

type failingSink struct{ snapshot.FileSink }

func (failingSink) Save(context.Context, snapshot.State) error { return assert.AnError }

func TestMaintenanceRouterSinkFailure(t *testing.T) {
	h := NewMaintenanceRouter(memstore.New(nil), &failingSink{}, nil)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest("POST", "/json", nil))
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
}
