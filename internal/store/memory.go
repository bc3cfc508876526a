package store

import (
	"context"
	"sync"
)

// Memory is an in-process Gateway.
type Memory struct {
	hub
	dataMu sync.RWMutex
	data   map[string][]byte
}

func NewMemory() *Memory {
	return &Memory{data: map[string][]byte{}}
}

func (m *Memory) Get(_ context.Context, scope, key string) ([]byte, bool, error) {
	m.dataMu.RLock()
	defer m.dataMu.RUnlock()
	v, ok := m.data[subKey(scope, key)]
	if !ok {
		return nil, false, nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, true, nil
}

func (m *Memory) Set(_ context.Context, scope, key string, value []byte) error {
	stored := make([]byte, len(value))
	copy(stored, value)
	m.dataMu.Lock()
	m.data[subKey(scope, key)] = stored
	m.dataMu.Unlock()
	m.publish(scope, key, value)
	return nil
}

func (m *Memory) Delete(_ context.Context, scope, key string) error {
	m.dataMu.Lock()
	delete(m.data, subKey(scope, key))
	m.dataMu.Unlock()
	m.publish(scope, key, nil)
	return nil
}

func (m *Memory) Subscribe(scope, key string, fn func([]byte)) func() {
	return m.subscribe(scope, key, fn)
}
