package worker

import "github.com/cesmii/i3x/errors"

// Pool lifecycle and submission errors.
var (
	ErrNilProcessor       = errors.New("worker: processor function is required")
	ErrPoolNotStarted     = errors.New("worker: pool not started")
	ErrPoolAlreadyStarted = errors.New("worker: pool already started")
	ErrPoolStopped        = errors.New("worker: pool stopped")
	ErrQueueFull          = errors.New("worker: queue full")
	ErrStopTimeout        = errors.New("worker: stop timeout exceeded")
)
