// Package publish tracks asynchronous publish operations. Each request
// becomes a Task that moves through building, validating and publishing
// while callers poll or stream its progress.
package publish

import (
	"fmt"
	"time"

	"github.com/conneroisu/blockforge/internal/catalog"
)

// Status is a task's position in the publish state machine.
type Status string

const (
	StatusPending    Status = "pending"
	StatusBuilding   Status = "building"
	StatusValidating Status = "validating"
	StatusPublishing Status = "publishing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// progressSchedule is the progress reported on entering each status.
// Failed keeps the progress reached so far.
var progressSchedule = map[Status]int{
	StatusPending:    0,
	StatusBuilding:   10,
	StatusValidating: 30,
	StatusPublishing: 50,
	StatusCompleted:  100,
}

// nextStatus is the forward path; failed is reachable from any
// non-terminal status.
var nextStatus = map[Status]Status{
	StatusPending:    StatusBuilding,
	StatusBuilding:   StatusValidating,
	StatusValidating: StatusPublishing,
	StatusPublishing: StatusCompleted,
}

// Step states recorded in the step log.
const (
	StepRunning   = "running"
	StepCompleted = "completed"
	StepFailed    = "failed"
)

// Step is one entry of a task's append-only log.
type Step struct {
	Name    string    `json:"name"`
	Status  string    `json:"status"`
	Message string    `json:"message,omitempty"`
	At      time.Time `json:"at"`
}

// Task is one publish attempt.
type Task struct {
	ID           string          `json:"id"`
	ResourceType string          `json:"resourceType"`
	ResourceName string          `json:"resourceName"`
	Target       string          `json:"target"`
	WorkspaceID  string          `json:"workspaceId,omitempty"`
	Status       Status          `json:"status"`
	Progress     int             `json:"progress"`
	Steps        []Step          `json:"steps"`
	Error        string          `json:"error,omitempty"`
	ErrorCode    string          `json:"errorCode,omitempty"`
	RemoteCode   string          `json:"remoteCode,omitempty"`
	Quota        bool            `json:"quota,omitempty"`
	Version      string          `json:"version,omitempty"`
	Result       *catalog.Result `json:"result,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
	FinishedAt   *time.Time      `json:"finishedAt,omitempty"`
}

// Clone returns a deep copy safe to hand to readers.
func (t *Task) Clone() *Task {
	c := *t
	c.Steps = append([]Step(nil), t.Steps...)
	if t.Result != nil {
		r := *t.Result
		c.Result = &r
	}
	if t.FinishedAt != nil {
		f := *t.FinishedAt
		c.FinishedAt = &f
	}
	return &c
}

// advance moves the task one status forward along the schedule and logs
// the step.
func (t *Task) advance(to Status, message string, now time.Time) error {
	if t.Status.Terminal() {
		return fmt.Errorf("task %s is %s", t.ID, t.Status)
	}
	if nextStatus[t.Status] != to {
		return fmt.Errorf("invalid transition %s -> %s", t.Status, to)
	}

	stepStatus := StepRunning
	if to == StatusCompleted {
		stepStatus = StepCompleted
	}

	t.Status = to
	if p := progressSchedule[to]; p > t.Progress {
		t.Progress = p
	}
	t.Steps = append(t.Steps, Step{Name: string(to), Status: stepStatus, Message: message, At: now})
	t.UpdatedAt = now
	if to.Terminal() {
		t.FinishedAt = &now
	}
	return nil
}

// fail moves the task to failed. The failing stage is recorded as the
// step name.
func (t *Task) fail(code, message string, now time.Time) error {
	if t.Status.Terminal() {
		return fmt.Errorf("task %s is %s", t.ID, t.Status)
	}

	stage := t.Status
	t.Status = StatusFailed
	t.Error = message
	t.ErrorCode = code
	t.Steps = append(t.Steps, Step{Name: string(stage), Status: StepFailed, Message: message, At: now})
	t.UpdatedAt = now
	t.FinishedAt = &now
	return nil
}
