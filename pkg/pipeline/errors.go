package pipeline

import "errors"

var (
	ErrInvalidTransition = errors.New("invalid pipeline state transition")
	ErrCacheUnavailable  = errors.New("cache backing store unreachable")
	ErrStartupFailed     = errors.New("pipeline startup failed")
	ErrUnknownJobType    = errors.New("unknown processing job type")
)
