package store

import (
	"bytes"
	"context"
	"encoding/json"
	"sort"
	"sync"
)

// node is one position in the tree. Object values are decomposed into
// children so that a later write to a deeper path replaces just that leaf;
// scalars and arrays are stored whole.
type node struct {
	value    json.RawMessage
	children map[string]*node
}

func buildNode(raw json.RawMessage) *node {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &obj); err == nil {
			n := &node{children: make(map[string]*node, len(obj))}
			for k, v := range obj {
				n.children[k] = buildNode(v)
			}
			return n
		}
	}
	return &node{value: trimmed}
}

func (n *node) assemble() json.RawMessage {
	if n.children == nil {
		return n.value
	}
	obj := make(map[string]json.RawMessage, len(n.children))
	for k, c := range n.children {
		obj[k] = c.assemble()
	}
	raw, _ := json.Marshal(obj)
	return raw
}

type subscription struct {
	path string
	fn   func(Event)
}

// Memory is an in-process Store. It backs the relay daemon and every test in
// this module.
type Memory struct {
	mu   sync.RWMutex
	root *node

	subMu   sync.Mutex
	subs    map[uint64]*subscription
	nextSub uint64
}

func NewMemory() *Memory {
	return &Memory{
		root: &node{children: make(map[string]*node)},
		subs: make(map[uint64]*subscription),
	}
}

func (m *Memory) find(segments []string) *node {
	n := m.root
	for _, seg := range segments {
		if n.children == nil {
			return nil
		}
		next, ok := n.children[seg]
		if !ok {
			return nil
		}
		n = next
	}
	return n
}

func (m *Memory) Set(ctx context.Context, path string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	if bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return m.Delete(ctx, path)
	}

	segments := splitPath(path)
	m.mu.Lock()
	n := m.root
	for _, seg := range segments[:len(segments)-1] {
		if n.children == nil {
			n.children = make(map[string]*node)
			n.value = nil
		}
		next, ok := n.children[seg]
		if !ok {
			next = &node{children: make(map[string]*node)}
			n.children[seg] = next
		}
		n = next
	}
	if n.children == nil {
		n.children = make(map[string]*node)
		n.value = nil
	}
	n.children[segments[len(segments)-1]] = buildNode(raw)
	m.mu.Unlock()

	m.notify(Event{Path: path, Value: raw})
	return nil
}

func (m *Memory) Get(ctx context.Context, path string, dest any) (bool, error) {
	m.mu.RLock()
	n := m.find(splitPath(path))
	var raw json.RawMessage
	if n != nil {
		raw = n.assemble()
	}
	m.mu.RUnlock()

	if n == nil {
		return false, nil
	}
	if rm, ok := dest.(*json.RawMessage); ok {
		*rm = raw
		return true, nil
	}
	return true, json.Unmarshal(raw, dest)
}

func (m *Memory) Delete(ctx context.Context, path string) error {
	segments := splitPath(path)
	m.mu.Lock()
	parent := m.find(segments[:len(segments)-1])
	existed := false
	if parent != nil && parent.children != nil {
		_, existed = parent.children[segments[len(segments)-1]]
		delete(parent.children, segments[len(segments)-1])
	}
	m.mu.Unlock()

	if existed {
		m.notify(Event{Path: path, Deleted: true})
	}
	return nil
}

func (m *Memory) Keys(ctx context.Context, path string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := m.find(splitPath(path))
	if n == nil || n.children == nil {
		return nil, nil
	}
	keys := make([]string, 0, len(n.children))
	for k := range n.children {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *Memory) Subscribe(path string, fn func(Event)) UnsubscribeFunc {
	m.subMu.Lock()
	m.nextSub++
	id := m.nextSub
	m.subs[id] = &subscription{path: path, fn: fn}
	m.subMu.Unlock()

	return func() {
		m.subMu.Lock()
		delete(m.subs, id)
		m.subMu.Unlock()
	}
}

// notify delivers the event inline, outside the tree lock, so callbacks may
// issue further store operations.
func (m *Memory) notify(ev Event) {
	m.subMu.Lock()
	matched := make([]func(Event), 0, 4)
	for _, sub := range m.subs {
		if pathsOverlap(sub.path, ev.Path) {
			matched = append(matched, sub.fn)
		}
	}
	m.subMu.Unlock()

	for _, fn := range matched {
		fn(ev)
	}
}
