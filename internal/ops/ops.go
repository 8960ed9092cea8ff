// Package ops implements the operation executor: it spawns and supervises
// long-running external processes, streams their output to a named operation
// room, and tracks per-operation lifecycle state with cooperative
// cancellation.
package ops

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// Type declares how an operation's terminal state is determined.
type Type string

const (
	// TypeUnmanaged operations are backed by exactly one spawned process;
	// its exit code decides the terminal state.
	TypeUnmanaged Type = "unmanaged"
	// TypeManaged operations span multiple process spawns; only their
	// driver reports the terminal state.
	TypeManaged Type = "managed"
)

// State is an operation's lifecycle state.
type State string

const (
	StateStarted   State = "started"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateError     State = "error"
	StateCancelled State = "cancelled"
)

// IsTerminal reports whether the state is final.
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateError || s == StateCancelled
}

// Operation is one unit of long-running work.
type Operation struct {
	ID        string
	Kind      string
	Type      Type
	Params    json.RawMessage
	StartedAt time.Time

	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.Mutex
	state State
	pgids map[int]bool // process groups of currently-attached processes
}

// State returns the current lifecycle state.
func (o *Operation) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// transition moves the operation to a new state. It refuses to leave a
// terminal state, so the cancel path and a finishing driver can race safely:
// exactly one of them wins.
func (o *Operation) transition(to State) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state.IsTerminal() {
		return false
	}
	o.state = to
	return true
}

func (o *Operation) addProcessGroup(pgid int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.pgids[pgid] = true
}

func (o *Operation) removeProcessGroup(pgid int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.pgids, pgid)
}

func (o *Operation) processGroups() []int {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]int, 0, len(o.pgids))
	for pgid := range o.pgids {
		out = append(out, pgid)
	}
	return out
}
