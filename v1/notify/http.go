package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/mirkobrombin/go-lrucache/v1/syncbus"
)

// watch subscribes to topic for the lifetime of r and keeps the events
// matching the optional "key" and "cache" query parameters.
func watch(r *http.Request, bus syncbus.Bus, topic string) (<-chan Event, context.CancelFunc, error) {
	key := r.URL.Query().Get("key")
	name := r.URL.Query().Get("cache")
	ctx, cancel := context.WithCancel(r.Context())
	events, err := Subscribe(ctx, bus, topic)
	if err != nil {
		cancel()
		return nil, nil, err
	}
	if key == "" && name == "" {
		return events, cancel, nil
	}
	out := make(chan Event, syncbus.SubscriberBuffer)
	go func() {
		defer close(out)
		for ev := range events {
			if (key != "" && ev.Key != key) || (name != "" && ev.Cache != name) {
				continue
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, cancel, nil
}

// SSEHandler streams the removal events of topic over Server-Sent Events.
func SSEHandler(bus syncbus.Bus, topic string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "stream unsupported", http.StatusInternalServerError)
			return
		}
		events, cancel, err := watch(r, bus, topic)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		defer cancel()

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		for ev := range events {
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			if _, err := fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", ev.ID, ev.Reason, data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

var upgrader = websocket.Upgrader{}

// WebSocketHandler streams the removal events of topic as JSON text
// messages.
func WebSocketHandler(bus syncbus.Bus, topic string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		events, cancel, err := watch(r, bus, topic)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		defer cancel()

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// the read loop notices the client going away
		go func() {
			defer cancel()
			for {
				if _, _, err := conn.NextReader(); err != nil {
					return
				}
			}
		}()

		for ev := range events {
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		}
	}
}
