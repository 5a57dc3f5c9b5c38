package websocket

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Kbediako/klaviyo-analytics-dashboard-sub002/internal/models"
)

func TestHubClientRegistration(t *testing.T) {
	hub := NewHub(context.Background(), zap.NewNop())
	go hub.Run()
	defer hub.Stop()

	assert.Equal(t, 0, hub.ClientCount())

	client := &Client{send: make(chan []byte, 1), log: zap.NewNop()}
	hub.register <- client
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	hub.unregister <- client
	require.Eventually(t, func() bool { return hub.ClientCount() == 0 }, time.Second, 10*time.Millisecond)
}

func TestHubBroadcastReachesConnectedClient(t *testing.T) {
	hub := NewHub(context.Background(), zap.NewNop())
	go hub.Run()
	defer hub.Stop()

	srv := httptest.NewServer(NewHandler(hub, nil, zap.NewNop()))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := gws.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	wm := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	hub.BroadcastSyncStatus(models.SyncStatusEvent{
		Type:        "sync_status",
		EntityType:  "campaigns",
		Status:      models.SyncStatusSucceeded,
		RecordCount: 42,
		Watermark:   &wm,
		Timestamp:   time.Now().UTC(),
	})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, payload, err := conn.ReadMessage()
	require.NoError(t, err)

	var ev models.SyncStatusEvent
	require.NoError(t, json.Unmarshal(payload, &ev))
	assert.Equal(t, "sync_status", ev.Type)
	assert.Equal(t, "campaigns", ev.EntityType)
	assert.Equal(t, int64(42), ev.RecordCount)
	require.NotNil(t, ev.Watermark)
	assert.True(t, wm.Equal(*ev.Watermark))
}

func TestHubDropsSlowClient(t *testing.T) {
	hub := NewHub(context.Background(), zap.NewNop())
	go hub.Run()
	defer hub.Stop()

	// A client with a full, undrained send buffer.
	slow := &Client{send: make(chan []byte), log: zap.NewNop()}
	hub.register <- slow
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	hub.BroadcastSyncStatus(models.SyncStatusEvent{Type: "sync_status", EntityType: "events", Status: models.SyncStatusRunning})
	require.Eventually(t, func() bool { return hub.ClientCount() == 0 }, time.Second, 10*time.Millisecond)
}

func TestOriginChecker(t *testing.T) {
	check := originChecker([]string{"https://dash.example.com"})

	req := httptest.NewRequest("GET", "/ws/status", nil)
	req.Header.Set("Origin", "https://dash.example.com")
	assert.True(t, check(req))

	req.Header.Set("Origin", "https://evil.example.com")
	assert.False(t, check(req))

	assert.True(t, originChecker(nil)(req))
	assert.True(t, originChecker([]string{"*"})(req))
}
