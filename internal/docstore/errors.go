package docstore

import (
	"errors"
	"fmt"
)

// ErrPersistence matches every *PersistenceError via errors.Is.
var ErrPersistence = errors.New("persistence error")

// PersistenceError reports a durable read or write that could not complete.
// The document on disk is unchanged when a write returns this error.
type PersistenceError struct {
	Op   string
	Path string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, ErrPersistence) match.
func (e *PersistenceError) Is(target error) bool {
	return target == ErrPersistence
}

// CorruptError describes a document that exists but could not be parsed.
// It is a warning: the read continues with an empty collection.
// QuarantineErr is set when the copy of the corrupt bytes taken before an
// overwrite could not be written.
type CorruptError struct {
	Path          string
	Err           error
	QuarantineErr error

	raw []byte
}

func (e *CorruptError) Error() string {
	return fmt.Sprintf("corrupt document %s: %v", e.Path, e.Err)
}

func (e *CorruptError) Unwrap() error {
	return e.Err
}
