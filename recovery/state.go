package recovery

import (
	"sync"
	"sync/atomic"

	"github.com/arloliu/radbridge/logger"
)

// State is a stage of the device connection lifecycle.
type State uint32

const (
	// Disconnected means no session exists.
	Disconnected State = iota
	// Scanning means a BLE preflight scan is running.
	Scanning
	// Connecting means a connect attempt is running.
	Connecting
	// Connected means a session is live.
	Connected
	// Recovering means the stream went stale and the session is being re-established.
	Recovering
	// Exhausted is terminal: the process should exit.
	Exhausted
)

// String returns string representation of the state.
func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Scanning:
		return "scanning"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Recovering:
		return "recovering"
	case Exhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// IsTerminal returns if no further transitions are allowed.
func (s State) IsTerminal() bool { return s == Exhausted }

var transitions = map[State][]State{
	Disconnected: {Scanning, Connecting, Exhausted},
	Scanning:     {Connecting, Disconnected, Exhausted},
	Connecting:   {Connected, Scanning, Disconnected, Exhausted},
	Connected:    {Recovering, Disconnected},
	Recovering:   {Connected, Disconnected, Exhausted},
	Exhausted:    {},
}

func canTransit(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}

	return false
}

// StateChangeHandler is invoked after every state change.
//
// Note: the handler will be invoked in a blocking mode. Take care with long-running implementations.
type StateChangeHandler func(prevState State, newState State)

// StateMgr manages the connection state.
//
// State reads are lock-free; transitions are serialised and validated against
// the transition table.
type StateMgr struct {
	mu       sync.Mutex
	state    atomic.Uint32
	logger   logger.Logger
	handlers []StateChangeHandler
}

// NewStateMgr creates a StateMgr in the Disconnected state.
func NewStateMgr(l logger.Logger, handlers ...StateChangeHandler) *StateMgr {
	if l == nil {
		l = logger.GetLogger()
	}

	sm := &StateMgr{logger: l}
	sm.state.Store(uint32(Disconnected))
	sm.AddHandler(handlers...)

	return sm
}

// State returns the current state.
func (sm *StateMgr) State() State {
	return State(sm.state.Load())
}

// AddHandler adds one or more handlers to be invoked on state changes.
func (sm *StateMgr) AddHandler(handlers ...StateChangeHandler) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	sm.handlers = append(sm.handlers, handlers...)
}

// To transitions to newState.
//
// A transition to the current state is a no-op. Returns ErrInvalidTransition
// if the transition table does not allow the change.
func (sm *StateMgr) To(newState State) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	curState := sm.State()
	if curState == newState {
		return nil
	}

	if !canTransit(curState, newState) {
		sm.logger.Debug("rejected state transition", "cur_state", curState, "desired_state", newState)
		return ErrInvalidTransition
	}

	sm.state.Store(uint32(newState))

	for _, handler := range sm.handlers {
		if handler != nil {
			handler(curState, newState)
		}
	}

	return nil
}
