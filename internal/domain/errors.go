package domain

import "errors"

var (
	ErrValidation    = errors.New("validation failed")
	ErrNotFound      = errors.New("not found")
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrTransport     = errors.New("transport failure")
	ErrCallTimeout   = errors.New("call timed out")
)
