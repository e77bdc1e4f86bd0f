package main

import (
	"context"
	"encoding/json"
	"net"
	"sync"

	"github.com/gobwas/ws/wsutil"

	"roomsync/store"
)

// clientConn serves the store op protocol for one websocket client. All
// writes to the socket, acks and change pushes alike, are serialized through
// the out channel.
type clientConn struct {
	relay *Relay
	conn  net.Conn
	log   ConnLogger

	out       chan []byte
	done      chan struct{}
	closeOnce sync.Once

	mu      sync.Mutex
	nextSub uint64
	subs    map[uint64]store.UnsubscribeFunc
	hosted  map[string]bool
}

func newClientConn(relay *Relay, conn net.Conn, log ConnLogger) *clientConn {
	return &clientConn{
		relay:  relay,
		conn:   conn,
		log:    log,
		out:    make(chan []byte, 64),
		done:   make(chan struct{}),
		subs:   make(map[uint64]store.UnsubscribeFunc),
		hosted: make(map[string]bool),
	}
}

func (c *clientConn) serve() {
	c.log.Connected()
	go c.writeLoop()
	for {
		msg, err := wsutil.ReadClientText(c.conn)
		if err != nil {
			break
		}
		var req store.Request
		if err := json.Unmarshal(msg, &req); err != nil {
			c.log.BadFrame(err)
			continue
		}
		c.send(c.handle(req))
	}
	c.teardown()
	c.log.Disconnected()
}

func (c *clientConn) writeLoop() {
	for {
		select {
		case msg := <-c.out:
			if err := wsutil.WriteServerText(c.conn, msg); err != nil {
				c.teardown()
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *clientConn) handle(req store.Request) store.Response {
	resp := store.Response{Type: store.FrameAck, ID: req.ID}
	ctx := context.Background()

	switch req.Op {
	case store.OpSet:
		if err := c.relay.store.Set(ctx, req.Path, req.Value); err != nil {
			resp.Error = err.Error()
		}
	case store.OpGet:
		var raw json.RawMessage
		found, err := c.relay.store.Get(ctx, req.Path, &raw)
		if err != nil {
			resp.Error = err.Error()
			break
		}
		resp.Found = found
		resp.Value = raw
	case store.OpDelete:
		if err := c.relay.store.Delete(ctx, req.Path); err != nil {
			resp.Error = err.Error()
		}
	case store.OpKeys:
		keys, err := c.relay.store.Keys(ctx, req.Path)
		if err != nil {
			resp.Error = err.Error()
			break
		}
		resp.Keys = keys
	case store.OpSubscribe:
		c.mu.Lock()
		c.nextSub++
		id := c.nextSub
		c.mu.Unlock()
		unsub := c.relay.store.Subscribe(req.Path, func(ev store.Event) {
			c.push(id, ev)
		})
		c.mu.Lock()
		c.subs[id] = unsub
		c.mu.Unlock()
		resp.Sub = id
	case store.OpUnsubscribe:
		c.mu.Lock()
		unsub := c.subs[req.Sub]
		delete(c.subs, req.Sub)
		c.mu.Unlock()
		if unsub != nil {
			unsub()
		}
	case store.OpHost:
		key, err := c.relay.RegisterHost(req.Path)
		if err != nil {
			resp.Error = err.Error()
			break
		}
		c.mu.Lock()
		c.hosted[req.Path] = true
		c.mu.Unlock()
		resp.Key = key
		c.log.HostRegistered(req.Path)
	case store.OpResume:
		if !c.relay.ResumeHost(req.Path, req.Key) {
			resp.Error = "invalid host key"
			break
		}
		c.mu.Lock()
		c.hosted[req.Path] = true
		c.mu.Unlock()
		c.log.HostResumed(req.Path)
	default:
		resp.Error = "unknown op"
	}
	return resp
}

// send delivers an ack; it blocks rather than drop, acks must arrive.
func (c *clientConn) send(resp store.Response) {
	encoded, _ := json.Marshal(resp)
	select {
	case c.out <- encoded:
	case <-c.done:
	}
}

// push delivers a change event. A client too slow to drain its buffer loses
// events rather than stalling every other room participant.
func (c *clientConn) push(sub uint64, ev store.Event) {
	change := store.Change{Type: store.FrameChange, Sub: sub, Path: ev.Path, Value: ev.Value, Deleted: ev.Deleted}
	encoded, _ := json.Marshal(change)
	select {
	case c.out <- encoded:
	default:
		c.log.zerolog.Warn().Str("path", ev.Path).Msg("Dropping change for slow client")
	}
}

func (c *clientConn) teardown() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()

		c.mu.Lock()
		subs := c.subs
		hosted := c.hosted
		c.subs = make(map[uint64]store.UnsubscribeFunc)
		c.hosted = make(map[string]bool)
		c.mu.Unlock()

		for _, unsub := range subs {
			unsub()
		}
		for roomCode := range hosted {
			c.relay.HostLost(roomCode)
		}
	})
}
