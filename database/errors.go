package database

import (
	"errors"
	"fmt"
)

var (
	ErrImageNotFound    = errors.New("image not found")
	ErrObjectNotFound   = errors.New("object not found")
	ErrStrategyMismatch = errors.New("store was built with a different matching strategy")
)

// StoreError wraps any failure of the persistence layer, including
// referential integrity violations.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store: %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}
