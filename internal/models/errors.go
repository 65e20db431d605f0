package models

import "errors"

// Fatal run errors. Match them with errors.Is.
var (
	ErrInconsistentStorage    = errors.New("inconsistent storage: staged snapshot left by an earlier run")
	ErrSourceUnavailable      = errors.New("backup source unavailable")
	ErrStorageUnavailable     = errors.New("storage root unavailable")
	ErrTimestampCollision     = errors.New("snapshot id already taken")
	ErrSynchronizationFailure = errors.New("synchronization failed")
	ErrCloneFailure           = errors.New("clone failed")
	ErrCommitFailure          = errors.New("commit failed")
)

// ErrRemovalFailure marks a non-fatal failure to remove an outdated snapshot.
var ErrRemovalFailure = errors.New("removal of outdated snapshot failed")

// StageError records the pipeline stage a run failed in.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return e.Stage + ": " + e.Err.Error()
}

func (e *StageError) Unwrap() error {
	return e.Err
}
