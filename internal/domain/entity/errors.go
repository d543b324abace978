package entity

import (
	"errors"
	"fmt"
)

// Local validation.
var (
	ErrInvalidAmount = errors.New("invalid amount")
)

// Account binding.
var (
	ErrWalletUnavailable  = errors.New("wallet unavailable")
	ErrConnectionRejected = errors.New("connection rejected")
)

// Read path. Recoverable by retry.
var (
	ErrMetadataUnavailable = errors.New("token metadata unavailable")
	ErrReadUnavailable     = errors.New("balance read unavailable")
	// ErrStaleResult is returned when a read completed for an account that is no longer bound.
	ErrStaleResult = errors.New("result superseded by session change")
)

// Transaction path. Terminal, never retried automatically.
var (
	ErrApprovalFailed      = errors.New("approval failed")
	ErrExecutionFailed     = errors.New("execution failed")
	ErrCancelled           = errors.New("operation cancelled")
	ErrSessionLost         = errors.New("session lost")
	ErrOperationInProgress = errors.New("operation in progress")
)

// ReasonCode returns a stable identifier for a taxonomy error, used by the API layer.
func ReasonCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidAmount):
		return "InvalidAmount"
	case errors.Is(err, ErrWalletUnavailable):
		return "WalletUnavailable"
	case errors.Is(err, ErrConnectionRejected):
		return "ConnectionRejected"
	case errors.Is(err, ErrMetadataUnavailable):
		return "MetadataUnavailable"
	case errors.Is(err, ErrReadUnavailable):
		return "ReadUnavailable"
	case errors.Is(err, ErrStaleResult):
		return "StaleResult"
	case errors.Is(err, ErrApprovalFailed):
		return "ApprovalFailed"
	case errors.Is(err, ErrExecutionFailed):
		return "ExecutionFailed"
	case errors.Is(err, ErrCancelled):
		return "Cancelled"
	case errors.Is(err, ErrSessionLost):
		return "SessionLost"
	case errors.Is(err, ErrOperationInProgress):
		return "OperationInProgress"
	default:
		return "Internal"
	}
}

// OperationError is the terminal failure of a transaction request.
// Reason is one of the transaction-path sentinels; Phase tells which step failed,
// which is what decides whether a retry is safe.
type OperationError struct {
	Reason error
	Phase  OperationState
	TxHash string
	Err    error
}

func (e *OperationError) Error() string {
	msg := fmt.Sprintf("%v during %s", e.Reason, e.Phase)
	if e.TxHash != "" {
		msg += " (tx " + e.TxHash + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Is matches the failure reason so callers can use errors.Is(err, ErrApprovalFailed).
func (e *OperationError) Is(target error) bool {
	return e.Reason == target
}

func (e *OperationError) Unwrap() error {
	return e.Err
}
