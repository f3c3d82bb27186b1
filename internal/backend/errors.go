package backend

import "errors"

// Usage errors. These indicate caller mistakes and are returned before any
// substrate call is made.
var (
	ErrNotInitialized = errors.New("backend not initialized")
	ErrClosed         = errors.New("backend closed")
	ErrDuplicateAgent = errors.New("agent already exists")
	ErrUnknownAgent   = errors.New("unknown agent")
	ErrInvalidAgentID = errors.New("invalid agent id")
	ErrInvalidEnvName = errors.New("invalid environment variable name")
	ErrMissingCommand = errors.New("spawn config has no command")
	ErrMissingRuntime = errors.New("spawn config has no runtime")
)
