package operations

import "errors"

var (
	ErrInvalidID        = errors.New("invalid operation id")
	ErrInvalidOperation = errors.New("invalid operation")
	ErrNotABatch        = errors.New("operation is not a batch")
	ErrEmptyBatch       = errors.New("empty batch operation")
)
