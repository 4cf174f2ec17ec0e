package websocket_test

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gorilla "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tsinghua-fib-lab/roadnet-sim/transport/websocket"
)

func dial(t *testing.T, server *httptest.Server) *gorilla.Conn {
	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := gorilla.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestHubBroadcast(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hub := websocket.NewHub()
	go hub.Run(ctx)
	server := httptest.NewServer(hub)
	defer server.Close()

	a, b := dial(t, server), dial(t, server)
	require.Eventually(t, func() bool { return hub.NumClients() == 2 }, time.Second, 10*time.Millisecond)

	hub.Broadcast(&websocket.Message{
		Event: "snapshot",
		Step:  7,
		T:     0.7,
		Data: websocket.Snapshot{Vehicles: []websocket.VehicleState{
			{ID: 1, Category: "CAR", X: 10, Y: 2, State: "ON_ROAD", Color: "#3366cc"},
		}},
	})

	for _, conn := range []*gorilla.Conn{a, b} {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)

		var got struct {
			Event string             `json:"event"`
			Step  int32              `json:"step"`
			Data  websocket.Snapshot `json:"data"`
		}
		require.NoError(t, json.Unmarshal(data, &got))
		assert.Equal(t, "snapshot", got.Event)
		assert.EqualValues(t, 7, got.Step)
		require.Len(t, got.Data.Vehicles, 1)
		assert.EqualValues(t, 1, got.Data.Vehicles[0].ID)
		assert.Equal(t, "ON_ROAD", got.Data.Vehicles[0].State)
	}
}

func TestHubClientDisconnect(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hub := websocket.NewHub()
	go hub.Run(ctx)
	server := httptest.NewServer(hub)
	defer server.Close()

	conn := dial(t, server)
	require.Eventually(t, func() bool { return hub.NumClients() == 1 }, time.Second, 10*time.Millisecond)
	conn.Close()
	require.Eventually(t, func() bool { return hub.NumClients() == 0 }, time.Second, 10*time.Millisecond)
}

func TestHubShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	hub := websocket.NewHub()
	done := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(done)
	}()
	server := httptest.NewServer(hub)
	defer server.Close()

	conn := dial(t, server)
	require.Eventually(t, func() bool { return hub.NumClients() == 1 }, time.Second, 10*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("hub did not stop")
	}
	assert.Equal(t, 0, hub.NumClients())

	// 服务端发送关闭帧后读取失败
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
}
