package stash

import (
	"errors"
)

var (
	ErrSetFailed             = errors.New("failed to set value in cache")
	ErrKeyNotFound           = errors.New("key not found")
	ErrUnsupportedSerializer = errors.New("unsupported serialization type")
)
