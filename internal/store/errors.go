package store

import "errors"

var (
	ErrNotFound           = errors.New("not found")
	ErrAlreadyExists      = errors.New("already exists")
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrInvalidPath        = errors.New("invalid path")
)
