package engine

import "errors"

// Turn-level failure classes. The HTTP layer maps each to a status code and
// error kind; the engine additionally records an error-marked assistant row
// so later turns can read the full history.
var (
	ErrSessionBusy          = errors.New("session busy")
	ErrAgentDisabled        = errors.New("agent disabled")
	ErrConfiguration        = errors.New("configuration error")
	ErrRateLimited          = errors.New("agent rate limited")
	ErrContentTooLarge      = errors.New("content too large")
	ErrEmptyContent         = errors.New("content must not be empty")
	ErrToolLoopExhausted    = errors.New("tool loop exhausted")
	ErrToolDeadlineExceeded = errors.New("tool deadline exceeded")
	ErrTerminatedMidTurn    = errors.New("session terminated mid-turn")
)
