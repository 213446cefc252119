package auth

import "errors"

var (
	NilBackendErr = errors.New("backend is required")
	UnmountedErr  = errors.New("store unmounted")
)
