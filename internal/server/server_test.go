package server_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Tyrowin/gorelay/internal/config"
	"github.com/Tyrowin/gorelay/internal/pending"
	"github.com/Tyrowin/gorelay/internal/profanity"
	"github.com/Tyrowin/gorelay/internal/protocol"
	"github.com/Tyrowin/gorelay/internal/server"
	"github.com/Tyrowin/gorelay/internal/testutil"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	token   = "secret-token"
	timeout = 2 * time.Second
)

type harness struct {
	core *testutil.Core
	srv  *server.Server
	ts   *httptest.Server
}

func newHarness(t *testing.T, opts testutil.CoreOptions) *harness {
	t.Helper()
	core := testutil.NewCore(opts)

	cfg := config.Default()
	cfg.AuthTokens = []string{token}
	cfg.AllowedOrigins = []string{testutil.TestOrigin}

	srv := server.New(*cfg, core.Dispatcher, nil)
	srv.StartHub()
	ts := httptest.NewServer(srv.Routes())
	t.Cleanup(func() {
		ts.Close()
		_ = srv.Hub().Shutdown(time.Second)
	})
	return &harness{core: core, srv: srv, ts: ts}
}

func (h *harness) api(t *testing.T, method, path, bearer string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, h.ts.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := h.ts.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func (h *harness) register(t *testing.T, userID, name string) pending.Registration {
	t.Helper()
	resp := h.api(t, http.MethodPost, "/api/pending", token,
		map[string]string{"userId": userID, "name": name, "iconUrl": name + ".png"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var reg pending.Registration
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&reg))
	return reg
}

// connect registers, dials and validates userID, consuming the initial
// group-list and invitation-list pushes.
func (h *harness) connect(t *testing.T, userID, name string) *websocket.Conn {
	t.Helper()
	reg := h.register(t, userID, name)
	conn := testutil.DialWS(t, testutil.WSURL(h.ts.URL), testutil.TestOrigin)
	testutil.WriteEvent(t, conn, protocol.EventValidateUser, protocol.ValidateUser{
		UserID:        userID,
		ConnectionKey: reg.ConnectionKey,
	})
	testutil.ReadEvent(t, conn, protocol.EventGroupList, timeout)
	testutil.ReadEvent(t, conn, protocol.EventGroupInvitationList, timeout)
	return conn
}

func TestHealth(t *testing.T) {
	h := newHarness(t, testutil.CoreOptions{})

	resp, err := h.ts.Client().Get(h.ts.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/plain", resp.Header.Get("Content-Type"))
}

func TestPendingAPIRequiresBearer(t *testing.T) {
	h := newHarness(t, testutil.CoreOptions{})
	body := map[string]string{"userId": "a", "name": "Ann"}

	resp := h.api(t, http.MethodPost, "/api/pending", "", body)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = h.api(t, http.MethodPost, "/api/pending", "wrong", body)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = h.api(t, http.MethodDelete, "/api/pending/a", "wrong", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, 0, h.core.Pending.Len())
}

func TestPendingAPIValidation(t *testing.T) {
	h := newHarness(t, testutil.CoreOptions{})

	resp := h.api(t, http.MethodPost, "/api/pending", token, map[string]string{"userId": "a"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = h.api(t, http.MethodPost, "/api/pending", token, map[string]string{"userId": "a", "name": "Ann", "admin": "yes"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestPendingAPIRegisterAndDelete(t *testing.T) {
	h := newHarness(t, testutil.CoreOptions{})

	reg := h.register(t, "a", "Ann")
	assert.Equal(t, "a", reg.UserID)
	assert.Equal(t, "Ann", reg.Name)
	assert.NotEmpty(t, reg.ConnectionKey)

	resp := h.api(t, http.MethodDelete, "/api/pending/a", token, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = h.api(t, http.MethodDelete, "/api/pending/a", token, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDisallowedOriginRejected(t *testing.T) {
	h := newHarness(t, testutil.CoreOptions{})

	_, err := testutil.TryDialWS(testutil.WSURL(h.ts.URL), "http://evil.example")
	require.Error(t, err)

	_, err = testutil.TryDialWS(testutil.WSURL(h.ts.URL), "")
	require.Error(t, err)
}

func TestInvalidKeyClosesConnection(t *testing.T) {
	h := newHarness(t, testutil.CoreOptions{})
	h.register(t, "a", "Ann")

	conn := testutil.DialWS(t, testutil.WSURL(h.ts.URL), testutil.TestOrigin)
	testutil.WriteEvent(t, conn, protocol.EventValidateUser, protocol.ValidateUser{UserID: "a", ConnectionKey: "guess"})

	testutil.ExpectClosed(t, conn, timeout)
	assert.Nil(t, h.core.Sessions.Lookup("a"))
}

func TestEventsBeforeValidationAreIgnored(t *testing.T) {
	h := newHarness(t, testutil.CoreOptions{})
	a := h.connect(t, "a", "Ann")

	anon := testutil.DialWS(t, testutil.WSURL(h.ts.URL), testutil.TestOrigin)
	testutil.WriteEvent(t, anon, protocol.EventGlobal, protocol.Global{Msg: "hello?"})

	testutil.ExpectNoFrame(t, a, 200*time.Millisecond)
}

func TestGlobalMessageIsFilteredForEveryone(t *testing.T) {
	h := newHarness(t, testutil.CoreOptions{
		Filter: profanity.NewWords([]string{"heck"}, "#"),
	})
	a := h.connect(t, "a", "Ann")
	b := h.connect(t, "b", "Bob")

	testutil.WriteEvent(t, a, protocol.EventGlobal, protocol.Global{Msg: "what the heck"})

	for _, conn := range []*websocket.Conn{a, b} {
		f := testutil.ReadEvent(t, conn, protocol.EventGlobal, timeout)
		var out protocol.GlobalOut
		require.NoError(t, f.Decode(&out))
		assert.Equal(t, protocol.GlobalOut{UserID: "a", Name: "Ann", Msg: "what the ####"}, out)
	}
}

func TestSecondHandshakeClosesFirstConnection(t *testing.T) {
	h := newHarness(t, testutil.CoreOptions{})
	first := h.connect(t, "a", "Ann")
	second := h.connect(t, "a", "Ann")

	testutil.ExpectClosed(t, first, timeout)

	b := h.connect(t, "b", "Bob")
	testutil.WriteEvent(t, b, protocol.EventWhisperByID, protocol.WhisperByID{TargetUserID: "a", Msg: "still there?"})

	f := testutil.ReadEvent(t, second, protocol.EventWhisperByID, timeout)
	var out protocol.WhisperOut
	require.NoError(t, f.Decode(&out))
	assert.Equal(t, "still there?", out.Msg)
	assert.Equal(t, 2, h.core.Sessions.Count())
}

func TestGroupFlowOverWebSocket(t *testing.T) {
	h := newHarness(t, testutil.CoreOptions{})
	a := h.connect(t, "a", "Ann")
	b := h.connect(t, "b", "Bob")

	testutil.WriteEvent(t, a, protocol.EventCreateGroup, protocol.CreateGroup{Title: "Crew"})
	var g protocol.GroupInfo
	require.NoError(t, testutil.ReadEvent(t, a, protocol.EventCreateGroup, timeout).Decode(&g))

	testutil.WriteEvent(t, a, protocol.EventGroupInvite, protocol.GroupInvite{UserID: "b", GroupID: g.GroupID})
	var inv protocol.InvitationList
	require.NoError(t, testutil.ReadEvent(t, b, protocol.EventGroupInvitationList, timeout).Decode(&inv))
	require.Len(t, inv.Groups, 1)
	assert.Equal(t, "Crew", inv.Groups[0].Title)

	testutil.WriteEvent(t, b, protocol.EventGroupInviteAccept, protocol.GroupInviteAccept{GroupID: g.GroupID})
	var joined protocol.MemberEvent
	require.NoError(t, testutil.ReadEvent(t, a, protocol.EventGroupJoin, timeout).Decode(&joined))
	assert.Equal(t, "b", joined.UserID)

	testutil.WriteEvent(t, b, protocol.EventGroup, protocol.GroupMessage{GroupID: g.GroupID, Msg: "hi all"})
	var msg protocol.GroupOut
	require.NoError(t, testutil.ReadEvent(t, a, protocol.EventGroup, timeout).Decode(&msg))
	assert.Equal(t, protocol.GroupOut{GroupID: g.GroupID, UserID: "b", Name: "Bob", Msg: "hi all"}, msg)
}

func TestDisconnectEndsSession(t *testing.T) {
	h := newHarness(t, testutil.CoreOptions{})
	a := h.connect(t, "a", "Ann")
	require.NotNil(t, h.core.Sessions.Lookup("a"))

	require.NoError(t, a.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	_ = a.Close()

	require.Eventually(t, func() bool {
		return h.core.Sessions.Lookup("a") == nil
	}, timeout, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		return h.srv.Hub().ClientCount() == 0
	}, timeout, 10*time.Millisecond)
}

func TestShutdownClosesClients(t *testing.T) {
	h := newHarness(t, testutil.CoreOptions{})
	a := h.connect(t, "a", "Ann")

	require.NoError(t, h.srv.Hub().Shutdown(timeout))
	testutil.ExpectClosed(t, a, timeout)
	assert.Nil(t, h.core.Sessions.Lookup("a"))
}

func TestPendingAPIPreflight(t *testing.T) {
	h := newHarness(t, testutil.CoreOptions{})

	req, err := http.NewRequest(http.MethodOptions, h.ts.URL+"/api/pending", http.NoBody)
	require.NoError(t, err)
	req.Header.Set("Origin", testutil.TestOrigin)
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "Authorization, Content-Type")

	resp, err := h.ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, testutil.TestOrigin, resp.Header.Get("Access-Control-Allow-Origin"))
}
