package history

import (
	"context"
	"time"
)

type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Run is the history record of one invocation.
type Run struct {
	StudentID    string
	QueryPath    string
	DataDir      string
	Engine       string
	Status       Status
	FailedStage  string
	TablesLoaded int
	TablesFailed int
	ResultRows   int64
	OutputPath   string
	Error        string
	StartedAt    time.Time
	FinishedAt   time.Time
}

type Recorder interface {
	Record(ctx context.Context, run Run) error
	Close() error
}
