package worker

import "errors"

// ErrUnreadableInput means the uploaded file could not be opened or
// read at all, as opposed to a partition service failure.
var ErrUnreadableInput = errors.New("unreadable input file")

// StageError reports which pipeline stage a file failed in.
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
