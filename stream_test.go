package main

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"

	"roomsync/store"
)

func TestEventStream(t *testing.T) {
	t.Run("test snapshot frame", func(t *testing.T) {
		res := httptest.NewRecorder()

		stream := NewEventStream(res, res)
		stream.SendSnapshot(json.RawMessage(`{"meta":{"status":"waiting"}}`))

		body := res.Body.String()
		if !strings.HasPrefix(body, "data: ") {
			t.Errorf("not an SSE frame: %q", body)
		}
		if !strings.Contains(body, `"type":"snapshot"`) {
			t.Errorf("missing snapshot type: %q", body)
		}
	})

	t.Run("test change frame", func(t *testing.T) {
		res := httptest.NewRecorder()

		stream := NewEventStream(res, res)
		stream.SendChange(store.Event{Path: "rooms/abc/meta/status", Value: json.RawMessage(`"closed"`)})

		body := res.Body.String()
		if !strings.Contains(body, `"type":"change"`) {
			t.Errorf("missing change type: %q", body)
		}
		if !strings.Contains(body, "rooms/abc/meta/status") {
			t.Errorf("missing path: %q", body)
		}
	})
}
