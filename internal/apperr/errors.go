package apperr

import "errors"

var (
	ErrNotFound       = errors.New("not found")
	ErrAlreadyRunning = errors.New("export already running")
	ErrNotRunning     = errors.New("no export running")
	ErrFinished       = errors.New("export already finished")
)
