package notify_test

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mirkobrombin/go-lrucache/v1/cache"
	"github.com/mirkobrombin/go-lrucache/v1/notify"
	"github.com/mirkobrombin/go-lrucache/v1/syncbus"
)

func TestSSEHandlerStreamsMatchingEvents(t *testing.T) {
	bus := syncbus.NewInMemoryBus()
	srv := httptest.NewServer(notify.SSEHandler(bus, notify.DefaultTopic))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"?key=foo", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}

	pub := notify.NewPublisher(bus)
	listener := notify.Listener[string](pub, "sse")
	listener("bar", cache.RemovalEvicted)
	listener("foo", cache.RemovalExpired)
	if err := pub.Close(ctx); err != nil {
		t.Fatalf("close publisher: %v", err)
	}

	reader := bufio.NewReader(resp.Body)
	var lines []string
	for len(lines) < 3 {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	if !strings.HasPrefix(lines[0], "id: ") || lines[1] != "event: expired" {
		t.Fatalf("unexpected frame %q", lines)
	}
	var ev notify.Event
	if err := json.Unmarshal([]byte(strings.TrimPrefix(lines[2], "data: ")), &ev); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ev.Key != "foo" || ev.Cache != "sse" {
		t.Fatalf("unexpected event %+v", ev)
	}
}

type brokenBus struct{ *syncbus.InMemoryBus }

func (brokenBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return nil, errors.New("bus down")
}

func TestSSEHandlerSubscribeError(t *testing.T) {
	srv := httptest.NewServer(notify.SSEHandler(brokenBus{syncbus.NewInMemoryBus()}, notify.DefaultTopic))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", resp.StatusCode)
	}
}

func TestWebSocketHandlerStreamsEvents(t *testing.T) {
	bus := syncbus.NewInMemoryBus()
	srv := httptest.NewServer(notify.WebSocketHandler(bus, "events"))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "?cache=c1"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	ctx := context.Background()
	pub := notify.NewPublisher(bus, notify.WithTopic("events"))
	notify.Listener[int](pub, "c2")(1, cache.RemovalEvicted)
	notify.Listener[int](pub, "c1")(2, cache.RemovalInvalidated)
	if err := pub.Close(ctx); err != nil {
		t.Fatalf("close publisher: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var ev notify.Event
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read: %v", err)
	}
	if ev.Cache != "c1" || ev.Key != "2" || ev.Reason != "invalidated" {
		t.Fatalf("unexpected event %+v", ev)
	}
}
