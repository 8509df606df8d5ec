package server_test

import (
	"context"
	"errors"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/Tyrowin/gorelay/internal/config"
	"github.com/Tyrowin/gorelay/internal/pending"
	"github.com/Tyrowin/gorelay/internal/protocol"
	"github.com/Tyrowin/gorelay/internal/server"
	"github.com/Tyrowin/gorelay/internal/session"
	"github.com/Tyrowin/gorelay/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errUnavailable = errors.New("directory unavailable")

// flakyDispatcher authenticates everyone and fails every other event.
type flakyDispatcher struct {
	mu          sync.Mutex
	handled     int
	disconnects []string
}

func (d *flakyDispatcher) Handle(_ context.Context, _ session.Conn, userID string, in protocol.Inbound) (string, error) {
	d.mu.Lock()
	d.handled++
	d.mu.Unlock()

	if v, ok := in.(*protocol.ValidateUser); ok {
		return v.UserID, nil
	}
	return userID, errUnavailable
}

func (d *flakyDispatcher) Disconnect(userID, _ string) {
	d.mu.Lock()
	d.disconnects = append(d.disconnects, userID)
	d.mu.Unlock()
}

func (d *flakyDispatcher) RegisterPending(context.Context, string, string, string) (pending.Registration, error) {
	return pending.Registration{}, errUnavailable
}

func (d *flakyDispatcher) UnregisterPending(string) bool { return false }

func (d *flakyDispatcher) snapshot() (int, []string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.handled, append([]string(nil), d.disconnects...)
}

func TestRepeatedFailuresCloseConnection(t *testing.T) {
	d := &flakyDispatcher{}
	cfg := config.Default()
	cfg.AllowedOrigins = []string{testutil.TestOrigin}
	cfg.MaxHandlerFailures = 3

	srv := server.New(*cfg, d, nil)
	srv.StartHub()
	ts := httptest.NewServer(srv.Routes())
	t.Cleanup(func() {
		ts.Close()
		_ = srv.Hub().Shutdown(time.Second)
	})

	conn := testutil.DialWS(t, testutil.WSURL(ts.URL), testutil.TestOrigin)
	testutil.WriteEvent(t, conn, protocol.EventValidateUser, protocol.ValidateUser{UserID: "a", ConnectionKey: "k"})
	for i := 0; i < 3; i++ {
		testutil.WriteEvent(t, conn, protocol.EventGroupList, struct{}{})
	}

	testutil.ExpectClosed(t, conn, 2*time.Second)

	require.Eventually(t, func() bool {
		_, disconnects := d.snapshot()
		return len(disconnects) == 1
	}, 2*time.Second, 10*time.Millisecond)

	handled, disconnects := d.snapshot()
	assert.Equal(t, 4, handled)
	assert.Equal(t, []string{"a"}, disconnects)
}

func TestPendingAPIStoreFailure(t *testing.T) {
	cfg := config.Default()
	cfg.AuthTokens = []string{token}

	srv := server.New(*cfg, &flakyDispatcher{}, nil)
	ts := httptest.NewServer(srv.Routes())
	t.Cleanup(ts.Close)

	h := &harness{srv: srv, ts: ts}
	resp := h.api(t, "POST", "/api/pending", token, map[string]string{"userId": "a", "name": "Ann"})
	assert.Equal(t, 503, resp.StatusCode)
}
