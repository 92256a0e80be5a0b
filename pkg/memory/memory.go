package memory

import "sync"

// Memory keeps the most recent capacity entries, oldest first.
type Memory struct {
	entries  []string
	start    int
	size     int
	capacity int
	mu       sync.RWMutex
}

func NewMemory(capacity int) *Memory {
	if capacity <= 0 {
		capacity = 1
	}
	return &Memory{
		entries:  make([]string, capacity),
		capacity: capacity,
	}
}

// Store appends data, evicting the oldest entry when full.
func (m *Memory) Store(data string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.size < m.capacity {
		m.entries[(m.start+m.size)%m.capacity] = data
		m.size++
		return nil
	}
	m.entries[m.start] = data
	m.start = (m.start + 1) % m.capacity
	return nil
}

// GetAllMessages returns a copy of all entries, oldest first.
func (m *Memory) GetAllMessages() []string {
	return m.Last(m.Len())
}

// Last returns up to n of the most recent entries, oldest first.
func (m *Memory) Last(n int) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if n > m.size {
		n = m.size
	}
	if n <= 0 {
		return []string{}
	}
	out := make([]string, n)
	first := m.size - n
	for i := range out {
		out[i] = m.entries[(m.start+first+i)%m.capacity]
	}
	return out
}

func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.size
}

// Clear drops every entry.
func (m *Memory) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.start = 0
	m.size = 0
	for i := range m.entries {
		m.entries[i] = ""
	}
}
