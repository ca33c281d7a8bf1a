package pipeline

import "errors"

var (
	ErrTooFewSlots        = errors.New("pipeline: nb_slots must be at least MinSlots")
	ErrBadBufferSize      = errors.New("pipeline: buffer size must be a positive page multiple")
	ErrMinorNotRegistered = errors.New("pipeline: minor not registered")
	ErrAlreadyRegistered  = errors.New("pipeline: minor already registered")
	ErrStopped            = errors.New("pipeline: request cancelled, minor stopped")
	ErrClosed             = errors.New("pipeline: pipeline closed")
)
