package core

import "sync"

// Attrs is a map-backed AttrStore that envs can embed.
type Attrs struct {
	mu    sync.RWMutex
	attrs map[string]any
}

func (a *Attrs) GetAttr(name string) (any, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	v, ok := a.attrs[name]
	return v, ok
}

func (a *Attrs) SetAttr(name string, value any) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.attrs == nil {
		a.attrs = make(map[string]any)
	}
	a.attrs[name] = value
}
