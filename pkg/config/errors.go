package config

import (
	"errors"
	"fmt"
)

var (
	// ErrSourceNotFound indicates a catalog source file was not found.
	ErrSourceNotFound = errors.New("catalog source file not found")

	// ErrSourceParse indicates a catalog source file could not be parsed.
	ErrSourceParse = errors.New("catalog source parse error")

	// ErrDuplicateID indicates the same id was declared twice in a source.
	ErrDuplicateID = errors.New("duplicate id in catalog source")

	// ErrValidationFailed indicates configuration validation failed.
	ErrValidationFailed = errors.New("configuration validation failed")

	// ErrAgentNotFound indicates an agent id is absent from the registry.
	ErrAgentNotFound = errors.New("agent not found")

	// ErrModelNotFound indicates a model id is absent from the registry.
	ErrModelNotFound = errors.New("model not found")
)

// ValidationError wraps catalog validation errors with component context.
type ValidationError struct {
	Component string // "model", "agent", "job"
	ID        string
	Field     string
	Err       error
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s '%s': field '%s': %v", e.Component, e.ID, e.Field, e.Err)
	}
	return fmt.Sprintf("%s '%s': %v", e.Component, e.ID, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

func newValidationError(component, id, field string, err error) *ValidationError {
	return &ValidationError{Component: component, ID: id, Field: field, Err: err}
}
