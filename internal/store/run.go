package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound signals that the requested run does not exist.
var ErrNotFound = errors.New("job run not found")

// ErrInvalidTransition rejects a state change the run state machine forbids.
var ErrInvalidTransition = errors.New("invalid run state transition")

// RunState is the lifecycle state of one job invocation.
type RunState string

// Run states persisted in job_runs.state.
const (
	RunScheduled         RunState = "scheduled"
	RunRunning           RunState = "running"
	RunRetrying          RunState = "retrying"
	RunSucceeded         RunState = "succeeded"
	RunFailedPermanently RunState = "failed_permanently"
)

var transitions = map[RunState][]RunState{
	RunScheduled: {RunRunning},
	RunRunning:   {RunSucceeded, RunRetrying, RunFailedPermanently},
	RunRetrying:  {RunRunning, RunFailedPermanently},
}

// Terminal reports whether no further transition is allowed.
func (s RunState) Terminal() bool {
	return s == RunSucceeded || s == RunFailedPermanently
}

// CanTransition reports whether from -> to is an edge of the state machine.
func CanTransition(from, to RunState) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Run models the job_runs table.
type Run struct {
	ID          uuid.UUID  `json:"id"`
	Job         string     `json:"job"`
	Trigger     string     `json:"trigger"`
	State       RunState   `json:"state"`
	Attempts    int        `json:"attempts"`
	LastError   string     `json:"last_error,omitempty"`
	ScheduledAt time.Time  `json:"scheduled_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Transition moves run to state to at the given time, stamping start and
// finish times. It rejects edges the state machine does not allow.
func (r *Run) Transition(to RunState, at time.Time) error {
	if !CanTransition(r.State, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.State, to)
	}
	r.State = to
	r.UpdatedAt = at
	if to == RunRunning {
		r.Attempts++
		if r.StartedAt == nil {
			ts := at
			r.StartedAt = &ts
		}
	}
	if to.Terminal() {
		ts := at
		r.FinishedAt = &ts
	}
	return nil
}

// ListFilter narrows ListRuns.
type ListFilter struct {
	Job    string
	State  RunState
	Limit  int
	Offset int
}

// RunStore persists job runs.
type RunStore interface {
	// CreateRun inserts a new run in the scheduled state.
	CreateRun(ctx context.Context, run Run) error
	// UpdateRun overwrites the mutable fields of an existing run.
	UpdateRun(ctx context.Context, run Run) error
	// GetRun loads a run or returns ErrNotFound.
	GetRun(ctx context.Context, id uuid.UUID) (Run, error)
	// ListRuns returns runs newest first.
	ListRuns(ctx context.Context, filter ListFilter) ([]Run, error)
}
