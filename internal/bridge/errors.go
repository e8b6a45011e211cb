package bridge

import "errors"

// Sentinel errors for the bridge lifecycle and per-request failures.
var (
	ErrSpawn             = errors.New("bridge: spawn failed")
	ErrProcessNotRunning = errors.New("bridge: process not running")
	ErrProcessExited     = errors.New("bridge: process exited")
	ErrProcessCrashed    = errors.New("bridge: process crashed")
	ErrRequestTimeout    = errors.New("bridge: request timed out")
	ErrWriteFailed       = errors.New("bridge: write to child failed")
)
