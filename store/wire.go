package store

import "encoding/json"

// Wire protocol between a relay and its websocket clients. Every frame is a
// JSON text message carrying a "type" discriminator, requests from the
// client, acks and change pushes from the relay.

const (
	OpSet         = "set"
	OpGet         = "get"
	OpDelete      = "del"
	OpKeys        = "keys"
	OpSubscribe   = "sub"
	OpUnsubscribe = "unsub"
	OpHost        = "host"
	OpResume      = "resume"
)

const (
	FrameAck    = "ack"
	FrameChange = "change"
)

type Request struct {
	ID    uint64          `json:"id"`
	Op    string          `json:"op"`
	Path  string          `json:"path,omitempty"`
	Value json.RawMessage `json:"value,omitempty"`
	Sub   uint64          `json:"sub,omitempty"`
	Key   string          `json:"key,omitempty"`
}

type Response struct {
	Type  string          `json:"type"`
	ID    uint64          `json:"id"`
	Error string          `json:"error,omitempty"`
	Found bool            `json:"found,omitempty"`
	Value json.RawMessage `json:"value,omitempty"`
	Keys  []string        `json:"keys,omitempty"`
	Sub   uint64          `json:"sub,omitempty"`
	Key   string          `json:"key,omitempty"`
}

type Change struct {
	Type    string          `json:"type"`
	Sub     uint64          `json:"sub"`
	Path    string          `json:"path"`
	Value   json.RawMessage `json:"value,omitempty"`
	Deleted bool            `json:"deleted,omitempty"`
}
