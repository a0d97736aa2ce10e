package store

import (
	"errors"
	"fmt"
)

// Sentinel errors for store failures. Match with errors.Is.
var (
	ErrStoreRead  = errors.New("store read failure")
	ErrStoreWrite = errors.New("store write failure")
)

// Op names the kind of backend access that failed.
type Op string

const (
	OpRead  Op = "read"
	OpWrite Op = "write"
)

// Error is a backend failure tagged with the key and operation.
type Error struct {
	Op  Op
	Key string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("store %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches ErrStoreRead for read failures and ErrStoreWrite for write failures.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrStoreRead:
		return e.Op == OpRead
	case ErrStoreWrite:
		return e.Op == OpWrite
	}
	return false
}

func readError(key string, err error) error {
	return &Error{Op: OpRead, Key: key, Err: err}
}

func writeError(key string, err error) error {
	return &Error{Op: OpWrite, Key: key, Err: err}
}
