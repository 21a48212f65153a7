package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	gws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/KevinKickass/OpenLabCore/internal/auth"
	"github.com/KevinKickass/OpenLabCore/internal/storage"
)

type tokens map[string]string

func (t tokens) ValidateToken(token string) (*auth.JWTClaims, []auth.Permission, error) {
	user, ok := t[token]
	if !ok {
		return nil, nil, errors.New("bad token")
	}
	return &auth.JWTClaims{Username: user}, auth.RolePermissions("operator"), nil
}

func startHub(t *testing.T) (*Hub, string) {
	t.Helper()
	hub := NewHub(zap.NewNop(), tokens{"good": "lab"})
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ServeWs(hub, w, r)
	}))
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *gws.Conn {
	t.Helper()
	conn, _, err := gws.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readType(t *testing.T, conn *gws.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg map[string]any
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func login(t *testing.T, hub *Hub, url string) *gws.Conn {
	t.Helper()
	conn := dial(t, url)
	require.NoError(t, conn.WriteJSON(clientMessage{Type: "auth", Token: "good"}))
	assert.Equal(t, "auth_success", readType(t, conn)["type"])
	require.Eventually(t, func() bool { return hub.GetClientCount() == 1 }, time.Second, time.Millisecond)
	return conn
}

func TestHub_RejectsWithoutAuth(t *testing.T) {
	hub, url := startHub(t)

	conn := dial(t, url)
	require.NoError(t, conn.WriteJSON(clientMessage{Type: "subscribe"}))
	msg := readType(t, conn)
	assert.Equal(t, "auth_failed", msg["type"])
	assert.Equal(t, "First message must be authentication", msg["reason"])

	conn = dial(t, url)
	require.NoError(t, conn.WriteJSON(clientMessage{Type: "auth", Token: "bad"}))
	assert.Equal(t, "auth_failed", readType(t, conn)["type"])
	assert.Zero(t, hub.GetClientCount())
}

func TestHub_BroadcastsMachineState(t *testing.T) {
	hub, url := startHub(t)
	conn := login(t, hub, url)

	hub.Broadcast(NewMachineStateMessage("running", "idle"))

	msg := readType(t, conn)
	assert.Equal(t, "machine_state", msg["type"])
	assert.Equal(t, map[string]any{"state": "running", "previous_state": "idle"}, msg["data"])
}

func TestHub_ExecutionSubscription(t *testing.T) {
	hub, url := startHub(t)
	conn := login(t, hub, url)

	wanted, other := uuid.New(), uuid.New()
	require.NoError(t, conn.WriteJSON(clientMessage{Type: "subscribe", ExecutionID: wanted.String()}))
	require.Eventually(t, func() bool {
		hub.mu.RLock()
		defer hub.mu.RUnlock()
		for c := range hub.clients {
			return !c.wants(other)
		}
		return false
	}, time.Second, time.Millisecond)

	hub.ExecutionEvent(&storage.ExecutionEvent{ExecutionID: other, EventType: "execution.started", Timestamp: time.Now()})
	hub.ExecutionEvent(&storage.ExecutionEvent{
		ExecutionID: wanted,
		EventType:   "execution.log",
		Payload:     json.RawMessage(`{"name":"start recipe"}`),
		Timestamp:   time.Now(),
	})

	msg := readType(t, conn)
	assert.Equal(t, "execution_event", msg["type"])
	data := msg["data"].(map[string]any)
	assert.Equal(t, wanted.String(), data["execution_id"])
	assert.Equal(t, "execution.log", data["event_type"])
	assert.Equal(t, map[string]any{"name": "start recipe"}, data["payload"])
}

func TestHub_StopClosesClients(t *testing.T) {
	hub := NewHub(zap.NewNop(), tokens{})
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(stopped)
	}()

	cancel()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("hub did not stop")
	}
}
