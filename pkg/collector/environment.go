package collector

import "sync"

// Environment supplies the ambient facts a browser would: who is visiting,
// from what screen, and which page is showing.
type Environment interface {
	UserAgent() string
	ScreenSize() (width, height int)
	CurrentPath() string
	Title() string
	Referrer() string
	// Country is an externally supplied location label, "" when unknown.
	Country() string
}

// EnvironmentState is the mutable content of a HostEnvironment.
type EnvironmentState struct {
	UserAgent    string `json:"userAgent"`
	ScreenWidth  int    `json:"screenWidth"`
	ScreenHeight int    `json:"screenHeight"`
	Path         string `json:"path"`
	Title        string `json:"title"`
	Referrer     string `json:"referrer"`
	Country      string `json:"country"`
}

// HostEnvironment is an Environment the embedding host keeps up to date.
type HostEnvironment struct {
	mu    sync.RWMutex
	state EnvironmentState
}

// NewHostEnvironment creates an environment with initial state. An empty
// path becomes "/".
func NewHostEnvironment(state EnvironmentState) *HostEnvironment {
	if state.Path == "" {
		state.Path = "/"
	}
	return &HostEnvironment{state: state}
}

// Update applies fn to the state under the lock.
func (e *HostEnvironment) Update(fn func(*EnvironmentState)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(&e.state)
}

// State returns a copy of the current state.
func (e *HostEnvironment) State() EnvironmentState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

func (e *HostEnvironment) UserAgent() string { return e.State().UserAgent }

func (e *HostEnvironment) ScreenSize() (int, int) {
	s := e.State()
	return s.ScreenWidth, s.ScreenHeight
}

func (e *HostEnvironment) CurrentPath() string { return e.State().Path }
func (e *HostEnvironment) Title() string       { return e.State().Title }
func (e *HostEnvironment) Referrer() string    { return e.State().Referrer }
func (e *HostEnvironment) Country() string     { return e.State().Country }
