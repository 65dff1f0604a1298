package signaling

import (
	"context"
	"sync"
)

// MemoryChannel is an in-process Channel implementation backed by a map tree.
// It provides the full store semantics the call core depends on (ordered
// child-added delivery with replay of existing children) and is the backend
// used throughout the package tests.
//
// Events are dispatched synchronously on the writer's goroutine after the
// store lock is released, so per-path ordering follows write order and
// handlers may themselves call back into the channel.
type MemoryChannel struct {
	mu     sync.Mutex
	values map[string][]byte
	// children preserves per-parent insertion order for child-added replay.
	children map[string][]string
	childSet map[string]map[string]bool

	nextSubID    int
	childAdded   map[string]map[int]ChildHandler
	childChanged map[string]map[int]ChildHandler
	valueSubs    map[string]map[int]ValueHandler
}

// NewMemoryChannel creates an empty in-memory store.
func NewMemoryChannel() *MemoryChannel {
	return &MemoryChannel{
		values:       make(map[string][]byte),
		children:     make(map[string][]string),
		childSet:     make(map[string]map[string]bool),
		childAdded:   make(map[string]map[int]ChildHandler),
		childChanged: make(map[string]map[int]ChildHandler),
		valueSubs:    make(map[string]map[int]ValueHandler),
	}
}

// Write stores payload at path and notifies subscribers.
func (m *MemoryChannel) Write(_ context.Context, path string, payload []byte) error {
	if path == "" {
		return NewTransportError("write", path, ErrMalformedPayload)
	}
	stored := append([]byte(nil), payload...)

	m.mu.Lock()
	_, existed := m.values[path]
	m.values[path] = stored

	parent := ParentPath(path)
	key := LastSegment(path)
	if parent != "" && !existed {
		if m.childSet[parent] == nil {
			m.childSet[parent] = make(map[string]bool)
		}
		if !m.childSet[parent][key] {
			m.childSet[parent][key] = true
			m.children[parent] = append(m.children[parent], key)
		}
	}

	// Snapshot handlers under the lock, invoke after releasing it.
	var childFns []ChildHandler
	if parent != "" {
		if existed {
			childFns = snapshotChildHandlers(m.childChanged[parent])
		} else {
			childFns = snapshotChildHandlers(m.childAdded[parent])
		}
	}
	valueFns := make([]ValueHandler, 0, len(m.valueSubs[path]))
	for _, fn := range m.valueSubs[path] {
		valueFns = append(valueFns, fn)
	}
	m.mu.Unlock()

	for _, fn := range childFns {
		fn(key, stored)
	}
	for _, fn := range valueFns {
		fn(stored)
	}
	return nil
}

// Read returns the payload stored at path.
func (m *MemoryChannel) Read(_ context.Context, path string) ([]byte, error) {
	m.mu.Lock()
	payload, ok := m.values[path]
	m.mu.Unlock()
	if !ok {
		return nil, NewTransportError("read", path, ErrNotFound)
	}
	return append([]byte(nil), payload...), nil
}

// SubscribeChildAdded registers handler for new children of path, replaying
// the children that already exist in insertion order.
func (m *MemoryChannel) SubscribeChildAdded(path string, handler ChildHandler) (Subscription, error) {
	if handler == nil {
		return nil, NewTransportError("subscribe", path, ErrMalformedPayload)
	}

	m.mu.Lock()
	id := m.nextSubID
	m.nextSubID++
	if m.childAdded[path] == nil {
		m.childAdded[path] = make(map[int]ChildHandler)
	}
	m.childAdded[path][id] = handler

	type replayItem struct {
		key     string
		payload []byte
	}
	replay := make([]replayItem, 0, len(m.children[path]))
	for _, key := range m.children[path] {
		replay = append(replay, replayItem{key: key, payload: m.values[path+"/"+key]})
	}
	m.mu.Unlock()

	for _, item := range replay {
		handler(item.key, item.payload)
	}

	return &memorySubscription{channel: m, kind: subChildAdded, path: path, id: id}, nil
}

// SubscribeChildChanged registers handler for rewrites of children of path.
func (m *MemoryChannel) SubscribeChildChanged(path string, handler ChildHandler) (Subscription, error) {
	if handler == nil {
		return nil, NewTransportError("subscribe", path, ErrMalformedPayload)
	}
	m.mu.Lock()
	id := m.nextSubID
	m.nextSubID++
	if m.childChanged[path] == nil {
		m.childChanged[path] = make(map[int]ChildHandler)
	}
	m.childChanged[path][id] = handler
	m.mu.Unlock()
	return &memorySubscription{channel: m, kind: subChildChanged, path: path, id: id}, nil
}

// SubscribeValue registers handler for writes to path itself.
func (m *MemoryChannel) SubscribeValue(path string, handler ValueHandler) (Subscription, error) {
	if handler == nil {
		return nil, NewTransportError("subscribe", path, ErrMalformedPayload)
	}
	m.mu.Lock()
	id := m.nextSubID
	m.nextSubID++
	if m.valueSubs[path] == nil {
		m.valueSubs[path] = make(map[int]ValueHandler)
	}
	m.valueSubs[path][id] = handler
	m.mu.Unlock()
	return &memorySubscription{channel: m, kind: subValue, path: path, id: id}, nil
}

func snapshotChildHandlers(handlers map[int]ChildHandler) []ChildHandler {
	out := make([]ChildHandler, 0, len(handlers))
	for _, fn := range handlers {
		out = append(out, fn)
	}
	return out
}

type subKind int

const (
	subChildAdded subKind = iota
	subChildChanged
	subValue
)

type memorySubscription struct {
	channel *MemoryChannel
	kind    subKind
	path    string
	id      int
	once    sync.Once
}

func (s *memorySubscription) Unsubscribe() {
	s.once.Do(func() {
		s.channel.mu.Lock()
		defer s.channel.mu.Unlock()
		switch s.kind {
		case subChildAdded:
			delete(s.channel.childAdded[s.path], s.id)
		case subChildChanged:
			delete(s.channel.childChanged[s.path], s.id)
		case subValue:
			delete(s.channel.valueSubs[s.path], s.id)
		}
	})
}
