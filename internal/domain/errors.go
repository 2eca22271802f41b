package domain

import "errors"

var (
	// ErrNotFound is returned by state store reads for missing keys or fields.
	ErrNotFound = errors.New("key not found")
	// ErrSessionNotFound is returned when a user acts before pressing Ready.
	ErrSessionNotFound = errors.New("quiz session not found")
	// ErrAlreadyAnswered is the write-once lock violation for a position.
	ErrAlreadyAnswered = errors.New("position already answered")
	// ErrInvalidAction indicates malformed or out-of-range button payload.
	ErrInvalidAction = errors.New("invalid action")
	// ErrQuestionNotFound indicates a question id outside the catalog.
	ErrQuestionNotFound = errors.New("question not found")
)
