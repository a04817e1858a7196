package domain

// State is the worker lifecycle state
type State string

// Worker states
const (
	StateStopped      State = "STOPPED"
	StateInitializing State = "INITIALIZING"
	StateRunning      State = "RUNNING"
	StateDraining     State = "DRAINING"
	StateIdleWait     State = "IDLE_WAIT"
)

// Active reports whether the worker is consuming the queue
func (s State) Active() bool {
	switch s {
	case StateRunning, StateDraining, StateIdleWait:
		return true
	}
	return false
}

// Job outcome constants
const (
	JobStatusCompleted = "COMPLETED"
	JobStatusFailed    = "FAILED"
	JobStatusAborted   = "ABORTED"
)

// Stop reasons
const (
	ReasonNotStarted = "Worker not started"
	ReasonShutdown   = "Worker shut down"
)
