package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"accountsync/internal/models"
)

// ============================================================
// Unit Tests
// ============================================================

func TestNewHub(t *testing.T) {
	hub := NewHub(nil, nil)

	if hub == nil {
		t.Fatal("NewHub returned nil")
	}

	if hub.ClientCount() != 0 {
		t.Errorf("expected 0 clients, got %d", hub.ClientCount())
	}

	if hub.DroppedMessages() != 0 {
		t.Errorf("expected 0 dropped messages, got %d", hub.DroppedMessages())
	}
}

func TestOriginChecker_Check(t *testing.T) {
	checker := NewOriginChecker([]string{"http://localhost:3000", " https://example.com "})

	tests := []struct {
		origin string
		want   bool
	}{
		{"", true},                       // empty origin allowed
		{"http://localhost:3000", true},  // allowed
		{"https://example.com", true},    // allowed (trimmed)
		{"http://evil.com", false},       // not allowed
		{"http://localhost:8080", false}, // not in list
	}

	for _, tt := range tests {
		got := checker.Check(tt.origin)
		if got != tt.want {
			t.Errorf("Check(%q) = %v, want %v", tt.origin, got, tt.want)
		}
	}
}

func TestOriginChecker_AllowAll(t *testing.T) {
	for _, origins := range [][]string{nil, {"*"}} {
		checker := NewOriginChecker(origins)
		for _, origin := range []string{"http://localhost:3000", "https://evil.com"} {
			if !checker.Check(origin) {
				t.Errorf("origins %v: Check(%q) = false", origins, origin)
			}
		}
	}
}

func TestMessageTypeFor(t *testing.T) {
	tests := []struct {
		event string
		want  MessageType
	}{
		{models.EventStateChanged, MessageTypeStateChanged},
		{models.EventSnapshotUpdated, MessageTypeSnapshotUpdated},
		{models.EventPositionClosed, MessageTypePositionClosed},
		{models.EventTradeExecuted, MessageTypeTradeExecuted},
		{models.EventAlertRaised, MessageTypeAlert},
		{"custom", MessageType("custom")},
	}

	for _, tt := range tests {
		if got := MessageTypeFor(tt.event); got != tt.want {
			t.Errorf("MessageTypeFor(%q) = %q, want %q", tt.event, got, tt.want)
		}
	}
}

func TestClientWants(t *testing.T) {
	all := &Client{}
	one := &Client{accountID: "acc-1"}

	if !all.wants("acc-2") || !one.wants("") || !one.wants("acc-1") {
		t.Error("expected message to be delivered")
	}
	if one.wants("acc-2") {
		t.Error("message of another account must be filtered")
	}
}

func TestHub_BroadcastNonBlocking(t *testing.T) {
	hub := NewHub(nil, nil)
	// Run не запущен: буфер заполняется, лишние сообщения теряются
	for i := 0; i < 300; i++ {
		hub.Broadcast("", map[string]int{"i": i})
	}

	if hub.DroppedMessages() != 300-256 {
		t.Errorf("expected %d dropped, got %d", 300-256, hub.DroppedMessages())
	}
}

func TestHub_Stop(t *testing.T) {
	hub := NewHub(nil, nil)

	done := make(chan struct{})
	go func() {
		hub.Run()
		close(done)
	}()

	hub.Stop()
	hub.Stop() // повторный вызов безопасен

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Error("Hub.Run() did not exit after Stop()")
	}
}

func TestHub_DeliversToSubscribers(t *testing.T) {
	hub := NewHub(nil, nil)
	go hub.Run()
	defer hub.Stop()

	all := &Client{hub: hub, send: make(chan []byte, 4)}
	acc1 := &Client{hub: hub, send: make(chan []byte, 4), accountID: "acc-1"}
	acc2 := &Client{hub: hub, send: make(chan []byte, 4), accountID: "acc-2"}
	hub.register <- all
	hub.register <- acc1
	hub.register <- acc2

	hub.BroadcastEvent(models.Event{Type: models.EventSnapshotUpdated, AccountID: "acc-1", Timestamp: time.Now()})

	for _, c := range []*Client{all, acc1} {
		select {
		case msg := <-c.send:
			if !strings.Contains(string(msg), `"type":"snapshotUpdated"`) {
				t.Errorf("unexpected message: %s", msg)
			}
			if !strings.Contains(string(msg), `"account_id":"acc-1"`) {
				t.Errorf("missing account id: %s", msg)
			}
		case <-time.After(time.Second):
			t.Fatal("message not delivered")
		}
	}

	select {
	case msg := <-acc2.send:
		t.Errorf("acc-2 must not receive acc-1 events: %s", msg)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHub_Consume(t *testing.T) {
	hub := NewHub(nil, nil)
	go hub.Run()
	defer hub.Stop()

	client := &Client{hub: hub, send: make(chan []byte, 4)}
	hub.register <- client

	events := make(chan models.Event, 1)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		hub.Consume(ctx, events)
		close(done)
	}()

	events <- models.Event{Type: models.EventAlertRaised, AccountID: "acc-1"}

	select {
	case msg := <-client.send:
		if !strings.Contains(string(msg), `"type":"alert"`) {
			t.Errorf("unexpected message: %s", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("event not broadcast")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Error("Consume did not exit after cancel")
	}
}

func TestServeWS(t *testing.T) {
	hub := NewHub(nil, nil)
	go hub.Run()
	defer hub.Stop()

	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "?account_id=acc-1"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(time.Second)
	for hub.ClientCount() != 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if hub.ClientCount() != 1 {
		t.Fatalf("expected 1 client, got %d", hub.ClientCount())
	}

	hub.BroadcastEvent(models.Event{Type: models.EventTradeExecuted, AccountID: "acc-1"})

	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(string(msg), `"type":"tradeExecuted"`) {
		t.Errorf("unexpected message: %s", msg)
	}
}

// ============================================================
// Parallel Stress Test
// ============================================================

func TestHub_ConcurrentOperations(t *testing.T) {
	hub := NewHub(nil, nil)
	go hub.Run()
	defer hub.Stop()

	var wg sync.WaitGroup
	const goroutines = 10
	const operations = 1000

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < operations; j++ {
				hub.Broadcast("", map[string]int{"goroutine": id, "op": j})
			}
		}(i)
	}

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < operations; j++ {
				_ = hub.ClientCount()
			}
		}()
	}

	wg.Wait()
}

// ============================================================
// Benchmarks
// ============================================================

func BenchmarkHub_BroadcastEvent(b *testing.B) {
	hub := NewHub(nil, nil)
	go hub.Run()
	defer hub.Stop()

	ev := models.Event{
		Type:      models.EventSnapshotUpdated,
		AccountID: "acc-1",
		Timestamp: time.Now(),
		Data:      &models.AccountSnapshot{AccountID: "acc-1", Balance: 10000, Equity: 10050},
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		hub.BroadcastEvent(ev)
	}
}

func BenchmarkOriginChecker_Check(b *testing.B) {
	checker := NewOriginChecker([]string{"http://localhost:3000"})
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		checker.Check("http://localhost:3000")
	}
}
