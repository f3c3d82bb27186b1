package backend

import (
	"fmt"
	"sync"
)

// Status is the lifecycle state of an agent session.
type Status string

const (
	StatusRunning Status = "running"
	StatusExited  Status = "exited"
)

// Session is one agent's entry in a Table. H is the substrate handle
// (pane id, task, pty process).
type Session[H any] struct {
	AgentID  string
	Handle   H
	Status   Status
	ExitCode *int
	Signal   string
}

// Table is the agent-session table shared by the backend variants. It keeps
// spawn order for navigation, counts spawns still in flight, and guarantees
// the exit callback fires exactly once per agent.
type Table[H any] struct {
	mu       sync.RWMutex
	sessions map[string]*Session[H]
	order    []string
	reserved map[string]struct{}
	pending  int
	active   string
	onExit   ExitFunc
}

// NewTable creates an empty table.
func NewTable[H any]() *Table[H] {
	return &Table[H]{
		sessions: make(map[string]*Session[H]),
		reserved: make(map[string]struct{}),
	}
}

// SetOnExit registers the exit notifier, replacing any previous one.
func (t *Table[H]) SetOnExit(fn ExitFunc) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onExit = fn
}

// Reserve claims agentID for a spawn in flight and increments the pending
// count. It fails if the ID is already registered or reserved.
func (t *Table[H]) Reserve(agentID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.sessions[agentID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateAgent, agentID)
	}
	if _, exists := t.reserved[agentID]; exists {
		return fmt.Errorf("%w: %s (spawn in flight)", ErrDuplicateAgent, agentID)
	}
	t.reserved[agentID] = struct{}{}
	t.pending++
	return nil
}

// Release drops a reservation that will never be registered.
func (t *Table[H]) Release(agentID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.unreserveLocked(agentID)
}

func (t *Table[H]) unreserveLocked(agentID string) {
	if _, ok := t.reserved[agentID]; ok {
		delete(t.reserved, agentID)
		t.pending--
	}
}

func (t *Table[H]) insertLocked(s *Session[H]) {
	t.unreserveLocked(s.AgentID)
	t.sessions[s.AgentID] = s
	t.order = append(t.order, s.AgentID)
	if t.active == "" {
		t.active = s.AgentID
	}
}

// Register records a successfully spawned, running agent.
func (t *Table[H]) Register(agentID string, handle H) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.insertLocked(&Session[H]{AgentID: agentID, Handle: handle, Status: StatusRunning})
}

// RegisterExited records an agent whose spawn failed as exited with code and
// fires the exit callback.
func (t *Table[H]) RegisterExited(agentID string, handle H, code int) {
	t.mu.Lock()
	t.insertLocked(&Session[H]{AgentID: agentID, Handle: handle, Status: StatusExited, ExitCode: &code})
	fn := t.onExit
	t.mu.Unlock()

	if fn != nil {
		fn(agentID, intPtr(code), "")
	}
}

// MarkExited transitions a running agent to exited and fires the exit
// callback outside the lock. It returns false, without calling back, when the
// agent is unknown or already exited.
func (t *Table[H]) MarkExited(agentID string, code *int, signal string) bool {
	t.mu.Lock()
	s, ok := t.sessions[agentID]
	if !ok || s.Status != StatusRunning {
		t.mu.Unlock()
		return false
	}
	s.Status = StatusExited
	s.ExitCode = code
	s.Signal = signal
	fn := t.onExit
	t.mu.Unlock()

	if fn != nil {
		var c *int
		if code != nil {
			c = intPtr(*code)
		}
		fn(agentID, c, signal)
	}
	return true
}

// Get returns a copy of the agent's session.
func (t *Table[H]) Get(agentID string) (Session[H], bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	s, ok := t.sessions[agentID]
	if !ok {
		return Session[H]{}, false
	}
	return *s, true
}

// RunningHandle returns the handle of agentID when it is running.
func (t *Table[H]) RunningHandle(agentID string) (H, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	s, ok := t.sessions[agentID]
	if !ok || s.Status != StatusRunning {
		var zero H
		return zero, false
	}
	return s.Handle, true
}

// Sessions returns copies of every session in spawn order.
func (t *Table[H]) Sessions() []Session[H] {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]Session[H], 0, len(t.order))
	for _, id := range t.order {
		out = append(out, *t.sessions[id])
	}
	return out
}

// Running returns copies of the running sessions in spawn order.
func (t *Table[H]) Running() []Session[H] {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []Session[H]
	for _, id := range t.order {
		if s := t.sessions[id]; s.Status == StatusRunning {
			out = append(out, *s)
		}
	}
	return out
}

// Len returns the number of registered agents.
func (t *Table[H]) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.sessions)
}

// Pending returns the number of spawns in flight.
func (t *Table[H]) Pending() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.pending
}

// AllExited reports whether no spawn is in flight and every registered agent
// has exited.
func (t *Table[H]) AllExited() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.pending > 0 {
		return false
	}
	for _, s := range t.sessions {
		if s.Status == StatusRunning {
			return false
		}
	}
	return true
}

// Active returns the focused agent ID, or "" when no agent was spawned.
func (t *Table[H]) Active() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.active
}

// SwitchTo focuses agentID.
func (t *Table[H]) SwitchTo(agentID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.sessions[agentID]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAgent, agentID)
	}
	t.active = agentID
	return nil
}

// SwitchToNext focuses the agent after the active one in spawn order,
// wrapping around. Exited agents are not skipped. It returns the new active
// ID.
func (t *Table[H]) SwitchToNext() string {
	return t.step(1)
}

// SwitchToPrevious focuses the agent before the active one, wrapping around.
func (t *Table[H]) SwitchToPrevious() string {
	return t.step(-1)
}

func (t *Table[H]) step(delta int) string {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := len(t.order)
	if n == 0 {
		return ""
	}
	idx := 0
	for i, id := range t.order {
		if id == t.active {
			idx = i
			break
		}
	}
	t.active = t.order[((idx+delta)%n+n)%n]
	return t.active
}

// Reset empties the table and returns the sessions it held in spawn order.
// Reservations are dropped too.
func (t *Table[H]) Reset() []Session[H] {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Session[H], 0, len(t.order))
	for _, id := range t.order {
		out = append(out, *t.sessions[id])
	}
	t.sessions = make(map[string]*Session[H])
	t.reserved = make(map[string]struct{})
	t.order = nil
	t.pending = 0
	t.active = ""
	return out
}

func intPtr(v int) *int {
	return &v
}
