package navigation

import "sync"

// History is the host's navigation history. Listeners registered with
// OnPopState fire on back/forward traversal, never on PushState or
// ReplaceState.
type History interface {
	PushState(path string)
	ReplaceState(path string)
	Location() string
	OnPopState(fn func()) (unsubscribe func())
}

// Traverser is implemented by histories that can move through their stack.
type Traverser interface {
	Go(delta int) bool
}

// MemoryHistory is an in-process History with a back/forward stack.
type MemoryHistory struct {
	mu        sync.Mutex
	entries   []string
	index     int
	listeners map[int]func()
	nextID    int
}

// NewMemoryHistory starts a history at initial, "/" when empty.
func NewMemoryHistory(initial string) *MemoryHistory {
	if initial == "" {
		initial = "/"
	}
	return &MemoryHistory{
		entries:   []string{initial},
		listeners: make(map[int]func()),
	}
}

// PushState drops any forward entries and appends path.
func (h *MemoryHistory) PushState(path string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = append(h.entries[:h.index+1], path)
	h.index++
}

// ReplaceState overwrites the current entry.
func (h *MemoryHistory) ReplaceState(path string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries[h.index] = path
}

func (h *MemoryHistory) Location() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.entries[h.index]
}

func (h *MemoryHistory) OnPopState(fn func()) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.nextID
	h.nextID++
	h.listeners[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(h.listeners, id)
		})
	}
}

// Go moves delta entries and fires popstate listeners. It reports false,
// without firing, when the target is out of range or delta is zero.
func (h *MemoryHistory) Go(delta int) bool {
	h.mu.Lock()
	target := h.index + delta
	if delta == 0 || target < 0 || target >= len(h.entries) {
		h.mu.Unlock()
		return false
	}
	h.index = target
	listeners := make([]func(), 0, len(h.listeners))
	for _, fn := range h.listeners {
		listeners = append(listeners, fn)
	}
	h.mu.Unlock()

	for _, fn := range listeners {
		fn()
	}
	return true
}

func (h *MemoryHistory) Back() bool    { return h.Go(-1) }
func (h *MemoryHistory) Forward() bool { return h.Go(1) }

// Entries returns a copy of the stack and the current index.
func (h *MemoryHistory) Entries() ([]string, int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.entries...), h.index
}
