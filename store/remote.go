package store

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"sync"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/rs/zerolog"
)

// Remote is a Store backed by a relay over a websocket. All operations turn
// into request/ack round trips; subscription changes are pushed by the relay
// and dispatched to the registered callbacks.
type Remote struct {
	conn    net.Conn
	log     zerolog.Logger
	writeMu sync.Mutex

	mu      sync.Mutex
	nextID  uint64
	pending map[uint64]chan Response
	subs    map[uint64]func(Event)
	closed  bool

	done chan struct{}
}

// Dial connects to a relay websocket endpoint, e.g. "ws://host:3000/ws".
func Dial(ctx context.Context, url string, log zerolog.Logger) (*Remote, error) {
	conn, _, _, err := ws.Dial(ctx, url)
	if err != nil {
		return nil, errors.Join(ErrUnavailable, err)
	}
	return NewRemote(conn, log), nil
}

// NewRemote wraps an already established client-side websocket connection.
func NewRemote(conn net.Conn, log zerolog.Logger) *Remote {
	r := &Remote{
		conn:    conn,
		log:     log,
		pending: make(map[uint64]chan Response),
		subs:    make(map[uint64]func(Event)),
		done:    make(chan struct{}),
	}
	go r.readLoop()
	return r
}

func (r *Remote) Close() error {
	return r.conn.Close()
}

func (r *Remote) readLoop() {
	defer r.fail()
	for {
		msg, err := wsutil.ReadServerText(r.conn)
		if err != nil {
			return
		}
		var head struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(msg, &head); err != nil {
			continue
		}
		switch head.Type {
		case FrameAck:
			var resp Response
			if err := json.Unmarshal(msg, &resp); err != nil {
				continue
			}
			r.mu.Lock()
			ch, ok := r.pending[resp.ID]
			delete(r.pending, resp.ID)
			r.mu.Unlock()
			if ok {
				ch <- resp
			}
		case FrameChange:
			var change Change
			if err := json.Unmarshal(msg, &change); err != nil {
				continue
			}
			r.mu.Lock()
			fn, ok := r.subs[change.Sub]
			r.mu.Unlock()
			if ok {
				// Dispatched off the read loop so callbacks may issue
				// further store operations without deadlocking on the ack.
				go fn(Event{Path: change.Path, Value: change.Value, Deleted: change.Deleted})
			}
		}
	}
}

// fail marks the connection dead and releases every waiting caller.
func (r *Remote) fail() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	pending := r.pending
	r.pending = make(map[uint64]chan Response)
	r.mu.Unlock()

	close(r.done)
	for _, ch := range pending {
		close(ch)
	}
	r.conn.Close()
}

func (r *Remote) roundTrip(ctx context.Context, req Request) (Response, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return Response{}, ErrUnavailable
	}
	r.nextID++
	req.ID = r.nextID
	ch := make(chan Response, 1)
	r.pending[req.ID] = ch
	r.mu.Unlock()

	encoded, err := json.Marshal(req)
	if err != nil {
		return Response{}, err
	}
	r.writeMu.Lock()
	err = wsutil.WriteClientText(r.conn, encoded)
	r.writeMu.Unlock()
	if err != nil {
		r.mu.Lock()
		delete(r.pending, req.ID)
		r.mu.Unlock()
		return Response{}, errors.Join(ErrUnavailable, err)
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return Response{}, ErrUnavailable
		}
		if resp.Error != "" {
			return Response{}, errors.New(resp.Error)
		}
		return resp, nil
	case <-r.done:
		return Response{}, ErrUnavailable
	case <-ctx.Done():
		r.mu.Lock()
		delete(r.pending, req.ID)
		r.mu.Unlock()
		return Response{}, ctx.Err()
	}
}

func (r *Remote) Set(ctx context.Context, path string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	_, err = r.roundTrip(ctx, Request{Op: OpSet, Path: path, Value: raw})
	return err
}

func (r *Remote) Get(ctx context.Context, path string, dest any) (bool, error) {
	resp, err := r.roundTrip(ctx, Request{Op: OpGet, Path: path})
	if err != nil {
		return false, err
	}
	if !resp.Found {
		return false, nil
	}
	if rm, ok := dest.(*json.RawMessage); ok {
		*rm = resp.Value
		return true, nil
	}
	return true, json.Unmarshal(resp.Value, dest)
}

func (r *Remote) Delete(ctx context.Context, path string) error {
	_, err := r.roundTrip(ctx, Request{Op: OpDelete, Path: path})
	return err
}

func (r *Remote) Keys(ctx context.Context, path string) ([]string, error) {
	resp, err := r.roundTrip(ctx, Request{Op: OpKeys, Path: path})
	if err != nil {
		return nil, err
	}
	return resp.Keys, nil
}

func (r *Remote) Subscribe(path string, fn func(Event)) UnsubscribeFunc {
	resp, err := r.roundTrip(context.Background(), Request{Op: OpSubscribe, Path: path})
	if err != nil {
		r.log.Warn().Err(err).Str("path", path).Msg("Subscribe failed, changes will not be delivered")
		return func() {}
	}
	r.mu.Lock()
	r.subs[resp.Sub] = fn
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		delete(r.subs, resp.Sub)
		r.mu.Unlock()
		_, err := r.roundTrip(context.Background(), Request{Op: OpUnsubscribe, Sub: resp.Sub})
		if err != nil && !errors.Is(err, ErrUnavailable) {
			r.log.Warn().Err(err).Str("path", path).Msg("Unsubscribe failed")
		}
	}
}

// Host registers this connection as the host of roomCode with the relay and
// returns the key needed to resume hosting after a reconnect.
func (r *Remote) Host(ctx context.Context, roomCode string) (string, error) {
	resp, err := r.roundTrip(ctx, Request{Op: OpHost, Path: roomCode})
	if err != nil {
		return "", err
	}
	return resp.Key, nil
}

// Resume reclaims host status for roomCode on a fresh connection.
func (r *Remote) Resume(ctx context.Context, roomCode, key string) error {
	_, err := r.roundTrip(ctx, Request{Op: OpResume, Path: roomCode, Key: key})
	return err
}
