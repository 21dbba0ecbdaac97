package recycle

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// State is the phase of a session's capture cycle
type State int

const (
	Idle State = iota
	Capturing
	AwaitingDetection
	Rendering
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Capturing:
		return "capturing"
	case AwaitingDetection:
		return "awaiting_detection"
	case Rendering:
		return "rendering"
	default:
		return "unknown"
	}
}

// Cycle identifies one capture cycle started by Begin
type Cycle uint64

// Controller owns one session's capture cycle and its current capture.
// At most one cycle is in flight; Begin outside Idle is refused, and so is
// Begin while a cycle abandoned by Reset is still waiting on the detector.
type Controller struct {
	mu       sync.Mutex
	state    State
	cycle    Cycle
	orphan   Cycle // cycle abandoned by Reset and not yet finished, or 0
	current  *Capture
	lastSeen time.Time
}

// NewController creates an idle Controller
func NewController() *Controller {
	return &Controller{lastSeen: time.Now()}
}

// Begin starts a cycle. It returns false, and changes nothing, when a cycle is
// already running, including one abandoned by Reset. Starting a cycle drops the
// previous capture so its overlay cannot be shown alongside the new frame.
func (c *Controller) Begin() (Cycle, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.lastSeen = time.Now()
	if c.state != Idle || c.orphan != 0 {
		return 0, false
	}
	c.cycle++
	c.state = Capturing
	c.current = nil
	return c.cycle, true
}

// Advance moves a running cycle to the next state. Calls for a cycle that has
// been reset or superseded are ignored.
func (c *Controller) Advance(cycle Cycle, to State) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cycle != c.cycle || c.state == Idle || to <= c.state {
		return false
	}
	c.state = to
	return true
}

// Complete ends a cycle successfully and makes capture the current one.
// It returns false, and keeps the current capture, for a cycle that was reset.
func (c *Controller) Complete(cycle Cycle, capture *Capture) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.release(cycle)
	if cycle != c.cycle || c.state == Idle {
		return false
	}
	c.state = Idle
	c.current = capture
	return true
}

// Fail ends a cycle without a capture
func (c *Controller) Fail(cycle Cycle) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.release(cycle)
	if cycle != c.cycle {
		return
	}
	c.state = Idle
}

// release lets Begin through again once an abandoned cycle has finished
func (c *Controller) release(cycle Cycle) {
	if cycle == c.orphan {
		c.orphan = 0
	}
}

// Reset clears the current capture and returns to Idle. A cycle still waiting
// on the detector finishes on its own but its result is discarded, and no new
// cycle can begin until it has.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != Idle {
		c.orphan = c.cycle
	}
	c.cycle++
	c.state = Idle
	c.current = nil
}

// State returns the current state
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Current returns the current capture, or nil
func (c *Controller) Current() *Capture {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

func (c *Controller) touch() {
	c.mu.Lock()
	c.lastSeen = time.Now()
	c.mu.Unlock()
}

func (c *Controller) idleSince(cutoff time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == Idle && c.orphan == 0 && c.lastSeen.Before(cutoff)
}

// Sessions maps session IDs to controllers
type Sessions struct {
	mu          sync.Mutex
	controllers map[string]*Controller
}

// NewSessions creates an empty session registry
func NewSessions() *Sessions {
	return &Sessions{controllers: make(map[string]*Controller)}
}

// Get returns the controller for id, creating a new session when id is empty
// or unknown. The returned id is the one to hand back to the client.
func (s *Sessions) Get(id string) (string, *Controller) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.controllers[id]; ok {
		c.touch()
		return id, c
	}

	id = uuid.NewString()
	c := NewController()
	s.controllers[id] = c
	return id, c
}

// Len returns the number of live sessions
func (s *Sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.controllers)
}

// Prune drops idle sessions not used for maxAge and returns how many were dropped
func (s *Sessions) Prune(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)

	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for id, c := range s.controllers {
		if c.idleSince(cutoff) {
			delete(s.controllers, id)
			n++
		}
	}
	return n
}
