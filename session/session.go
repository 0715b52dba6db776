// Package session provides the session collaborators consumed by authkit:
// an in-process Memory session for tests and single-request use, and an
// adapter over alexedwards/scs for real HTTP deployments.
//
// Both satisfy authkit.Session:
//
//	Get(key string) any
//	Set(key string, value any)
//	Flash(key string, value any)
//	RegenerateID(preserveData bool) error
//	Destroy() error
package session

import (
	"crypto/rand"
	"encoding/hex"
	"sync"
)

// Memory is a session held entirely in memory.
type Memory struct {
	mu        sync.Mutex
	id        string
	data      map[string]any
	flashes   map[string]bool
	destroyed bool

	// Regenerations counts RegenerateID calls.
	Regenerations int
}

func NewMemory() *Memory {
	return &Memory{id: newID(), data: map[string]any{}, flashes: map[string]bool{}}
}

func newID() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// ID returns the current session identifier.
func (m *Memory) ID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.id
}

// Destroyed reports whether Destroy was called.
func (m *Memory) Destroyed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.destroyed
}

func (m *Memory) Get(key string) any {
	m.mu.Lock()
	defer m.mu.Unlock()
	v := m.data[key]
	if m.flashes[key] {
		delete(m.data, key)
		delete(m.flashes, key)
	}
	return v
}

func (m *Memory) Set(key string, value any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	delete(m.flashes, key)
}

// Flash stores value so that only the next Get of key returns it.
func (m *Memory) Flash(key string, value any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	m.flashes[key] = true
}

func (m *Memory) RegenerateID(preserveData bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.id = newID()
	m.Regenerations++
	if !preserveData {
		m.data = map[string]any{}
		m.flashes = map[string]bool{}
	}
	return nil
}

func (m *Memory) Destroy() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = map[string]any{}
	m.flashes = map[string]bool{}
	m.destroyed = true
	m.id = newID()
	return nil
}
