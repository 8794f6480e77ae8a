package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/wricardo/tilemap-generator/tilemap/registry"
	"go.uber.org/goleak"
)

func startHub(t *testing.T, snapshot func() registry.State) (*Hub, string, context.CancelFunc) {
	t.Helper()
	hub := NewHub(snapshot)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(done)
	}()

	server := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	stop := func() {
		cancel()
		<-done
		server.Close()
	}
	t.Cleanup(stop)
	return hub, "ws" + strings.TrimPrefix(server.URL, "http"), cancel
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Failed to connect to WebSocket: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitClients(t *testing.T, hub *Hub, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if hub.Clients() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Expected %d clients, got %d", want, hub.Clients())
}

func readEvent(t *testing.T, conn *websocket.Conn) registry.Event {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("Failed to read WebSocket message: %v", err)
	}
	var e registry.Event
	if err := json.Unmarshal(data, &e); err != nil {
		t.Fatalf("Failed to unmarshal message %s: %v", data, err)
	}
	return e
}

func TestNewHub(t *testing.T) {
	hub := NewHub(nil)

	if hub.clients == nil {
		t.Error("Hub clients map is nil")
	}
	if hub.broadcast == nil || hub.register == nil || hub.unregister == nil {
		t.Error("Hub channels not initialised")
	}
	if hub.Clients() != 0 {
		t.Errorf("Expected 0 clients, got %d", hub.Clients())
	}
}

func TestHubRegisterUnregister(t *testing.T) {
	hub := NewHub(nil)
	c1 := &Client{hub: hub, send: make(chan []byte, 1)}
	c2 := &Client{hub: hub, send: make(chan []byte, 1)}

	hub.registerClient(c1)
	hub.registerClient(c2)
	if hub.Clients() != 2 {
		t.Errorf("Expected 2 clients, got %d", hub.Clients())
	}

	hub.unregisterClient(c1)
	hub.unregisterClient(c1) // second call is a no-op
	if hub.Clients() != 1 {
		t.Errorf("Expected 1 client remaining, got %d", hub.Clients())
	}
	if !hub.clients[c2] {
		t.Error("c2 should still be registered")
	}
	if _, ok := <-c1.send; ok {
		t.Error("c1 send channel should be closed")
	}
}

func TestBroadcastReachesEveryClient(t *testing.T) {
	hub, url, _ := startHub(t, nil)
	a := dial(t, url)
	b := dial(t, url)
	waitClients(t, hub, 2)

	hub.Broadcast(registry.Event{
		Kind:  registry.EventAdd,
		Name:  "forest",
		State: registry.State{Configs: []registry.Configuration{registry.NewConfiguration("forest", 4, 3)}, Current: "forest", Dirty: true},
	})

	for _, conn := range []*websocket.Conn{a, b} {
		e := readEvent(t, conn)
		if e.Kind != registry.EventAdd || e.Name != "forest" {
			t.Errorf("unexpected event %+v", e)
		}
		if !e.State.Dirty || e.State.Current != "forest" || len(e.State.Configs) != 1 {
			t.Errorf("state not transmitted: %+v", e.State)
		}
		if e.State.Configs[0].X != 4 || e.State.Configs[0].Y != 3 {
			t.Errorf("dimensions not transmitted: %+v", e.State.Configs[0])
		}
	}
}

func TestNewClientReceivesSnapshot(t *testing.T) {
	snapshot := func() registry.State {
		return registry.State{Configs: []registry.Configuration{registry.NewConfiguration("desert", 2, 2)}, Current: "desert"}
	}
	_, url, _ := startHub(t, snapshot)
	conn := dial(t, url)

	e := readEvent(t, conn)
	if e.Kind != registry.EventInit {
		t.Errorf("Expected init event, got %s", e.Kind)
	}
	if e.State.Current != "desert" {
		t.Errorf("Expected current desert, got %q", e.State.Current)
	}
}

func TestClientDisconnectUnregisters(t *testing.T) {
	hub, url, _ := startHub(t, nil)
	conn := dial(t, url)
	waitClients(t, hub, 1)

	conn.Close()
	waitClients(t, hub, 0)
}

func TestSlowClientIsDropped(t *testing.T) {
	hub := NewHub(nil)
	slow := &Client{hub: hub, send: make(chan []byte)} // never drained
	hub.registerClient(slow)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(done)
	}()

	hub.Broadcast(registry.Event{Kind: registry.EventSave})
	deadline := time.Now().Add(2 * time.Second)
	for hub.Clients() != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if hub.Clients() != 0 {
		t.Error("slow client should have been unregistered")
	}
	cancel()
	<-done
}

func TestBroadcastAfterStopDoesNotBlock(t *testing.T) {
	hub := NewHub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	hub.Run(ctx)

	finished := make(chan struct{})
	go func() {
		for i := 0; i < broadcastBuffer*2; i++ {
			hub.Broadcast(registry.Event{Kind: registry.EventUpdate})
		}
		close(finished)
	}()
	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("Broadcast blocked after hub stopped")
	}
}

func TestRunStopClosesConnections(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	hub := NewHub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(done)
	}()
	server := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	defer server.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http"), nil)
	if err != nil {
		t.Fatalf("Failed to connect to WebSocket: %v", err)
	}
	defer conn.Close()
	waitClients(t, hub, 1)

	cancel()
	<-done

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("Expected connection to be closed after hub stop")
	}
}
