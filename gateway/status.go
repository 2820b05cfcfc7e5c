package gateway

import "sync"

// Status is a connection lifecycle state from component 4.G.
type Status int32

// Connection lifecycle states.
const (
	StatusConnecting Status = iota
	StatusIdentifying
	StatusAwaitingLoginConfirmation
	StatusLoadingSubsystems
	StatusConnected
	StatusDisconnected
	StatusWaitingToReconnect
	StatusReconnectQueued
	StatusAttemptingToReconnect
	StatusShutdown
)

func (s Status) String() string {
	switch s {
	case StatusConnecting:
		return "CONNECTING"
	case StatusIdentifying:
		return "IDENTIFYING"
	case StatusAwaitingLoginConfirmation:
		return "AWAITING_LOGIN_CONFIRMATION"
	case StatusLoadingSubsystems:
		return "LOADING_SUBSYSTEMS"
	case StatusConnected:
		return "CONNECTED"
	case StatusDisconnected:
		return "DISCONNECTED"
	case StatusWaitingToReconnect:
		return "WAITING_TO_RECONNECT"
	case StatusReconnectQueued:
		return "RECONNECT_QUEUED"
	case StatusAttemptingToReconnect:
		return "ATTEMPTING_TO_RECONNECT"
	case StatusShutdown:
		return "SHUTDOWN"
	default:
		return "UNKNOWN"
	}
}

// StatusCell is the "coroutine-like wait for status" primitive: a
// single mutable status cell that wakes every waiter on each
// transition, so callers can block for a target status without
// polling.
type StatusCell struct {
	mu    sync.Mutex
	cond  *sync.Cond
	value Status
}

// NewStatusCell creates a cell holding the given initial status.
func NewStatusCell(initial Status) *StatusCell {
	c := &StatusCell{value: initial}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// Set transitions the cell to s and wakes every waiter.
func (c *StatusCell) Set(s Status) {
	c.mu.Lock()
	c.value = s
	c.cond.Broadcast()
	c.mu.Unlock()
}

// Get returns the current status.
func (c *StatusCell) Get() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value
}

// Await blocks until the cell holds target.
func (c *StatusCell) Await(target Status) {
	c.mu.Lock()
	for c.value != target {
		c.cond.Wait()
	}
	c.mu.Unlock()
}

// AwaitAny blocks until the cell holds one of targets and returns it.
func (c *StatusCell) AwaitAny(targets ...Status) Status {
	c.mu.Lock()
	for {
		for _, t := range targets {
			if c.value == t {
				v := c.value
				c.mu.Unlock()
				return v
			}
		}
		c.cond.Wait()
	}
}
