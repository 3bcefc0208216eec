package message

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrMessageNotFound = errors.New("message not found")
	ErrRateLimited     = errors.New("message rate limit exceeded")
	ErrWriterStopped   = errors.New("buffer writer stopped")

	// errRaceDetected means a buffer slot no longer held the id the locator saw.
	errRaceDetected = errors.New("buffer slot changed before write")
)

type FieldError struct {
	Field   string `json:"field"`
	Rule    string `json:"rule"`
	Message string `json:"message"`
}

type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Message)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// PersistenceError wraps a durable store failure.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("durable store %s failed: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}
