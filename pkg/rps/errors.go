package rps

import (
	"errors"
	"fmt"
)

// Domain-level error values returned by the match engine.
var (
	ErrInsufficientBalance  = errors.New("insufficient balance")
	ErrMatchLimitReached    = errors.New("match limit reached")
	ErrMatchNotAvailable    = errors.New("match not available")
	ErrAlreadyResolved      = errors.New("match already resolved")
	ErrAlreadyJoined        = errors.New("match already joined")
	ErrNotHost              = errors.New("requester is not the host")
	ErrNotParticipant       = errors.New("requester is not a participant")
	ErrBalanceMismatch      = errors.New("counterparty balance below stake")
	ErrUnknownMatch         = errors.New("unknown match")
	ErrUnknownPlayer        = errors.New("unknown player")
	ErrInvalidUserID        = errors.New("invalid user id")
	ErrInvalidMatchID       = errors.New("invalid match id")
	ErrInvalidChoice        = errors.New("invalid choice")
	ErrInvalidStake         = errors.New("invalid stake")
	ErrInvalidServiceConfig = errors.New("invalid service config")
)

// OperationError wraps a failure with a stable operation code.
type OperationError struct {
	operation string
	subject   string
	code      string
	err       error
}

// Error returns the formatted error message.
func (operationError OperationError) Error() string {
	return fmt.Sprintf("%s.%s.%s: %v", operationError.operation, operationError.subject, operationError.code, operationError.err)
}

// Unwrap returns the underlying error.
func (operationError OperationError) Unwrap() error {
	return operationError.err
}

// Operation returns the operation segment.
func (operationError OperationError) Operation() string {
	return operationError.operation
}

// Subject returns the subject segment.
func (operationError OperationError) Subject() string {
	return operationError.subject
}

// Code returns the stable error code segment.
func (operationError OperationError) Code() string {
	return operationError.code
}

// WrapError wraps an error with operation, subject, and code metadata.
func WrapError(operation string, subject string, code string, err error) error {
	if err == nil {
		return nil
	}
	return OperationError{
		operation: operation,
		subject:   subject,
		code:      code,
		err:       err,
	}
}
