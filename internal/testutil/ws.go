package testutil

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/Tyrowin/gorelay/internal/protocol"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

// TestOrigin is the Origin header sent by DialWS.
const TestOrigin = "http://localhost:8080"

// WSURL converts an httptest server URL to its WebSocket endpoint.
func WSURL(httpURL string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http") + "/ws"
}

// DialWS opens a WebSocket connection with the given Origin header. The
// connection is closed when the test ends.
func DialWS(t *testing.T, url, origin string) *websocket.Conn {
	t.Helper()
	conn, err := TryDialWS(url, origin)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// TryDialWS opens a WebSocket connection and returns any dial error.
func TryDialWS(url, origin string) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}

	headers := http.Header{}
	if origin != "" {
		headers.Set("Origin", origin)
	}

	conn, resp, err := dialer.Dial(url, headers)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	return conn, err
}

// WriteEvent sends an envelope with the given event and payload.
func WriteEvent(t *testing.T, conn *websocket.Conn, event string, data any) {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(protocol.Envelope{Event: event, Data: raw}))
}

// ReadFrame reads the next frame within timeout.
func ReadFrame(t *testing.T, conn *websocket.Conn, timeout time.Duration) Frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(timeout)))
	var env protocol.Envelope
	require.NoError(t, conn.ReadJSON(&env))
	return Frame{Event: env.Event, Data: env.Data}
}

// ReadEvent skips frames until one with the given event arrives.
func ReadEvent(t *testing.T, conn *websocket.Conn, event string, timeout time.Duration) Frame {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		require.Positive(t, remaining, "timed out waiting for %s", event)
		f := ReadFrame(t, conn, remaining)
		if f.Event == event {
			return f
		}
	}
}

// ExpectNoFrame asserts that nothing arrives within timeout.
func ExpectNoFrame(t *testing.T, conn *websocket.Conn, timeout time.Duration) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(timeout)))
	_, data, err := conn.ReadMessage()
	require.Error(t, err, "expected no frame, got %s", data)

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return
	}
	require.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway),
		"unexpected error waiting for silence: %v", err)
}

// ExpectClosed asserts that the server closes the connection within timeout.
func ExpectClosed(t *testing.T, conn *websocket.Conn, timeout time.Duration) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(timeout)))
	for {
		_, _, err := conn.ReadMessage()
		if err == nil {
			continue
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			t.Fatalf("connection still open after %s", timeout)
		}
		return
	}
}
