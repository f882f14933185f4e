package domain

import (
	"encoding"
	"time"
)

type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
)

var jobStatusOrder = map[JobStatus]int{
	JobPending:    0,
	JobProcessing: 1,
	JobCompleted:  2,
}

// CanTransitionTo reports whether next is the status that directly follows s.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	from, ok := jobStatusOrder[s]
	if !ok {
		return false
	}
	to, ok := jobStatusOrder[next]
	if !ok {
		return false
	}
	return to == from+1
}

func (s JobStatus) Terminal() bool { return s == JobCompleted }

type RunStatus string

const (
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

var (
	_ encoding.BinaryMarshaler = JobStatus("")
	_ encoding.TextMarshaler   = JobStatus("")
	_ encoding.BinaryMarshaler = RunStatus("")
	_ encoding.TextMarshaler   = RunStatus("")
)

func (s JobStatus) MarshalBinary() ([]byte, error) { return []byte(string(s)), nil }
func (s JobStatus) MarshalText() ([]byte, error)   { return []byte(string(s)), nil }

func (s RunStatus) MarshalBinary() ([]byte, error) { return []byte(string(s)), nil }
func (s RunStatus) MarshalText() ([]byte, error)   { return []byte(string(s)), nil }

// RunOutcome is the terminal result of one run inside a job.
type RunOutcome struct {
	Status RunStatus `json:"status"`
	RunID  int64     `json:"run_id,omitempty"`
	Error  string    `json:"error,omitempty"`
	// Kind classifies failures for metrics and logs; it is not serialized.
	Kind ErrorKind `json:"-"`
}

func CompletedRun(runID int64) RunOutcome {
	return RunOutcome{Status: RunCompleted, RunID: runID}
}

func FailedRun(err error) RunOutcome {
	out := RunOutcome{Status: RunFailed, Kind: KindOf(err)}
	if err != nil {
		out.Error = err.Error()
	}
	return out
}

func (o RunOutcome) Succeeded() bool { return o.Status == RunCompleted }

// Job tracks the progress of one batch of runs.
type Job struct {
	ID            string       `json:"job_id"`
	TestID        int64        `json:"test_id"`
	UserID        string       `json:"-"`
	Status        JobStatus    `json:"status"`
	TotalRuns     int          `json:"total_runs"`
	ProcessedRuns int          `json:"processed_runs_count"`
	Results       []RunOutcome `json:"results,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

// Succeeded counts completed runs.
func (j Job) Succeeded() int {
	n := 0
	for _, r := range j.Results {
		if r.Succeeded() {
			n++
		}
	}
	return n
}
