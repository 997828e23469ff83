package fetcher

import (
	"sync"
)

// Status of a fetch surface.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusLoading Status = "loading"
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// FailedEndpoint records one endpoint (project or edition) that errored.
type FailedEndpoint struct {
	Endpoint string `json:"endpoint"`
	Message  string `json:"message"`
}

// Snapshot is a read-only copy of a State.
type Snapshot struct {
	Status   Status           `json:"status"`
	Progress Progress         `json:"progress"`
	Errors   []FailedEndpoint `json:"errors"`
}

// State is the status machine for one logical fetch surface, e.g. "collections for these
// projects" or "owners of this contract". It is safe for concurrent use.
//
// idle -> loading on StartLoading; loading -> error on SetError; loading -> success on
// SetSuccess. Reset returns to idle.
type State struct {
	mu       sync.RWMutex
	status   Status
	progress Progress
	errors   []FailedEndpoint
}

// NewState returns an idle state.
func NewState() *State {
	return &State{status: StatusIdle}
}

// StartLoading resets progress and accumulated errors for a new run over total endpoints.
func (s *State) StartLoading(total int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = StatusLoading
	s.progress = Progress{Total: total}
	s.errors = nil
}

// SetProgress records completed endpoints. Completed never goes backwards within a run.
func (s *State) SetProgress(completed, total int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if completed < s.progress.Completed {
		completed = s.progress.Completed
	}
	s.progress = Progress{Completed: completed, Total: total, IsLast: total > 0 && completed >= total}
}

// SetError appends a failed endpoint; earlier failures are kept.
func (s *State) SetError(endpoint string, err error) {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = StatusError
	s.errors = append(s.errors, FailedEndpoint{Endpoint: endpoint, Message: msg})
}

// SetSuccess marks the run successful unless an endpoint already failed.
func (s *State) SetSuccess() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == StatusError {
		return
	}
	s.status = StatusSuccess
}

// Reset returns the state to idle.
func (s *State) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = StatusIdle
	s.progress = Progress{}
	s.errors = nil
}

func (s *State) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// FailedEndpoints lists the identifiers of every endpoint that errored in this run.
func (s *State) FailedEndpoints() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.errors))
	for _, e := range s.errors {
		out = append(out, e.Endpoint)
	}
	return out
}

func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	errs := make([]FailedEndpoint, len(s.errors))
	copy(errs, s.errors)
	return Snapshot{Status: s.status, Progress: s.progress, Errors: errs}
}

// Track wires a state into a Run: progress, errors and completion are recorded on s, and
// then forwarded to the handlers in h.
func Track[T any](s *State, h Handlers[T]) Handlers[T] {
	return Handlers[T]{
		OnData: h.OnData,
		OnError: func(endpoint string, err error) {
			s.SetError(endpoint, err)
			if h.OnError != nil {
				h.OnError(endpoint, err)
			}
		},
		OnProgress: func(completed, total int) {
			s.SetProgress(completed, total)
			if h.OnProgress != nil {
				h.OnProgress(completed, total)
			}
		},
		OnComplete: func(hasError bool) {
			if !hasError {
				s.SetSuccess()
			}
			if h.OnComplete != nil {
				h.OnComplete(hasError)
			}
		},
	}
}

// Aggregate folds the states relevant to one read view into the status shown to users:
// error when something failed and nothing succeeded, loading while anything is still
// outstanding, success otherwise.
func Aggregate(states ...Snapshot) Status {
	if len(states) == 0 {
		return StatusIdle
	}
	anyError, anySuccess, anyPending := false, false, false
	for _, s := range states {
		switch s.Status {
		case StatusError:
			anyError = true
		case StatusSuccess:
			anySuccess = true
		case StatusLoading, StatusIdle:
			anyPending = true
		}
	}
	switch {
	case anyError && !anySuccess:
		return StatusError
	case anyPending:
		return StatusLoading
	default:
		return StatusSuccess
	}
}
