package model

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by lookups that have nothing for the given key.
var ErrNotFound = errors.New("not found")

// ValidationError - the order is malformed; no generation was attempted
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid order: %s: %s", e.Field, e.Reason)
}

// GenerationFailure classifies why a model produced no usable image.
type GenerationFailure string

const (
	FailureUnavailable   GenerationFailure = "unavailable"
	FailureInference     GenerationFailure = "inference"
	FailureTimeout       GenerationFailure = "timeout"
	FailureInvalidOutput GenerationFailure = "invalid_output"
	FailureCancelled     GenerationFailure = "cancelled"
)

// GenerationError - the model could not produce an image
type GenerationError struct {
	Kind GenerationFailure
	Err  error
}

func (e *GenerationError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("generation failed (%s)", e.Kind)
	}
	return fmt.Sprintf("generation failed (%s): %v", e.Kind, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// StorageError - the image could not be persisted
type StorageError struct {
	OrderID string
	Op      string
	Err     error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s for order %s: %v", e.Op, e.OrderID, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }
