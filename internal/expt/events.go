package expt

// EventKind identifies what happened during a poll iteration.
type EventKind int

const (
	// EventIteration fires after each sleep, before the directory listing.
	EventIteration EventKind = iota
	// EventDiscovered fires the first time an experiment directory is seen.
	EventDiscovered
	// EventCompleted fires when an experiment log reports completion.
	EventCompleted
	// EventFailed fires when an experiment log reports a failure.
	EventFailed
	// EventReadError fires when an existing log could not be read.
	EventReadError
)

func (k EventKind) String() string {
	switch k {
	case EventIteration:
		return "iteration"
	case EventDiscovered:
		return "discovered"
	case EventCompleted:
		return "completed"
	case EventFailed:
		return "failed"
	case EventReadError:
		return "read_error"
	default:
		return "unknown"
	}
}

// Event describes one observation made by the poller.
type Event struct {
	Kind      EventKind
	Iteration int
	Name      string
	Line      string
	Err       error
}

// State returns the experiment state implied by the event, if any.
func (e Event) State() (State, bool) {
	switch e.Kind {
	case EventDiscovered:
		return StatePending, true
	case EventCompleted:
		return StateCompleted, true
	case EventFailed:
		return StateFailed, true
	default:
		return StateUnknown, false
	}
}
