// Package progress carries run progress from workers to API subscribers.
// State is derived from events through a pure reducer so the server-sent
// initial snapshot and the live stream can never disagree on semantics.
package progress

// Event names, as emitted over the SSE stream.
const (
	EventInitialState = "initial_state"
	EventActive       = "active"
	EventProgress     = "progress"
	EventCompleted    = "completed"
	EventFailed       = "failed"
	EventError        = "error"
)

// Event is one progress notification for a run.
type Event struct {
	Name    string  `json:"event"`
	JobID   string  `json:"jobId"`
	RootID  string  `json:"rootJobId"`
	Stage   string  `json:"stage,omitempty"`
	Percent float64 `json:"progress,omitempty"`
	Message string  `json:"message,omitempty"`
	Reason  string  `json:"reason,omitempty"`
	// State is attached only to initial_state events.
	State *State `json:"state,omitempty"`
}

// StageState is the reduced view of one stage job.
type StageState struct {
	JobID   string  `json:"jobId"`
	Stage   string  `json:"stage"`
	Status  string  `json:"status"`
	Percent float64 `json:"progress"`
	Message string  `json:"message,omitempty"`
	Reason  string  `json:"reason,omitempty"`
}

// State is the reduced view of an entire run.
type State struct {
	RootID string       `json:"rootJobId"`
	Stages []StageState `json:"stages"`
	Done   bool         `json:"done"`
	Failed bool         `json:"failed"`
	Reason string       `json:"reason,omitempty"`
}

// Reduce folds one event into the run state. It is pure: the input state is
// not mutated.
func Reduce(s State, e Event) State {
	next := s
	next.Stages = make([]StageState, len(s.Stages))
	copy(next.Stages, s.Stages)

	if next.RootID == "" {
		next.RootID = e.RootID
	}

	idx := -1
	for i, st := range next.Stages {
		if st.JobID == e.JobID {
			idx = i
			break
		}
	}
	if idx == -1 && e.JobID != "" && e.JobID != e.RootID {
		next.Stages = append(next.Stages, StageState{JobID: e.JobID, Stage: e.Stage})
		idx = len(next.Stages) - 1
	}

	switch e.Name {
	case EventActive:
		if idx >= 0 {
			next.Stages[idx].Status = "processing"
		}
	case EventProgress:
		if idx >= 0 {
			next.Stages[idx].Status = "processing"
			next.Stages[idx].Percent = e.Percent
			next.Stages[idx].Message = e.Message
		}
	case EventCompleted:
		if idx >= 0 {
			next.Stages[idx].Status = "completed"
			next.Stages[idx].Percent = 100
		}
	case EventFailed, EventError:
		if idx >= 0 {
			next.Stages[idx].Status = "failed"
			next.Stages[idx].Reason = e.Reason
		}
		next.Failed = true
		next.Done = true
		next.Reason = e.Reason
	}
	return next
}

// Terminal reports whether an event ends the stream for its run.
func Terminal(e Event, finalStage string) bool {
	switch e.Name {
	case EventFailed, EventError:
		return true
	case EventCompleted:
		return e.Stage == finalStage
	}
	return false
}
