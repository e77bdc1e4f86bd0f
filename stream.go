package main

import (
	"encoding/json"
	"fmt"
	"net/http"

	"roomsync/store"
)

// EventStream pushes room changes to a browser over server-sent events.
type EventStream struct {
	w http.ResponseWriter
	f http.Flusher
}

func NewEventStream(w http.ResponseWriter, f http.Flusher) *EventStream {
	return &EventStream{w, f}
}

func (s EventStream) SendByteSlice(msg []byte) {
	fmt.Fprintf(s.w, "data: %v\n\n", string(msg))
	s.f.Flush()
}

func (s EventStream) sendJSON(msg any) {
	data, _ := json.Marshal(msg)
	s.SendByteSlice(data)
}

// SendSnapshot delivers the full room subtree as the opening frame, so a
// late subscriber does not need a separate read to catch up.
func (s EventStream) SendSnapshot(raw json.RawMessage) {
	s.sendJSON(struct {
		Type  string          `json:"type"`
		Value json.RawMessage `json:"value"`
	}{Type: "snapshot", Value: raw})
}

func (s EventStream) SendChange(ev store.Event) {
	s.sendJSON(store.Change{Type: store.FrameChange, Path: ev.Path, Value: ev.Value, Deleted: ev.Deleted})
}
