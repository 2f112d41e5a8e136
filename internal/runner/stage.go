package runner

import "errors"

type Stage string

const (
	StageEngine     Stage = "engine"
	StageLoad       Stage = "load"
	StageRead       Stage = "read"
	StageExecute    Stage = "execute"
	StagePersist    Stage = "persist"
	StageUnexpected Stage = "unexpected"
)

// StageError is the failure of one pipeline stage. Reported errors were
// already logged by the stage; the rest surface as unexpected faults.
type StageError struct {
	Stage    Stage
	Err      error
	Reported bool
}

func (e *StageError) Error() string {
	return string(e.Stage) + ": " + e.Err.Error()
}

func (e *StageError) Unwrap() error {
	return e.Err
}

var errNoTables = errors.New("no tables were loaded")

func failedStage(err error) Stage {
	var stageErr *StageError
	if errors.As(err, &stageErr) {
		return stageErr.Stage
	}
	return StageUnexpected
}

func reported(err error) bool {
	var stageErr *StageError
	return errors.As(err, &stageErr) && stageErr.Reported
}
