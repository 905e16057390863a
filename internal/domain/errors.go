package domain

import "errors"

// Sentinel errors for the domain layer.
var (
	ErrNotFound      = errors.New("domain: not found")
	ErrValidation    = errors.New("domain: validation failed")
	ErrBoardMismatch = errors.New("domain: request scoped to a board this responder does not own")
	ErrUnknownQuery  = errors.New("domain: unknown query name")
	ErrLaunchFailed  = errors.New("domain: no server reachable after bind race settled")
	ErrQueryTimeout  = errors.New("domain: query timed out waiting for response")
)
