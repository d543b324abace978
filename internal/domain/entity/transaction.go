package entity

import (
	"math/big"
	"time"
)

// TransactionKind is the user action a request performs against the vault.
type TransactionKind string

const (
	TransactionDeposit  TransactionKind = "deposit"
	TransactionWithdraw TransactionKind = "withdraw"
)

// Valid reports whether k is a known kind.
func (k TransactionKind) Valid() bool {
	return k == TransactionDeposit || k == TransactionWithdraw
}

// TransactionRequest is a user-submitted action with a human decimal amount.
type TransactionRequest struct {
	Kind   TransactionKind `json:"kind"`
	Amount string          `json:"amount"`
}

// OperationState is the orchestrator lifecycle.
type OperationState int

const (
	StateIdle OperationState = iota
	StateConnecting
	StateApproving
	StateSubmitting
	StateConfirming
	StateSucceeded
	StateFailed
)

var operationStateNames = map[OperationState]string{
	StateIdle:       "idle",
	StateConnecting: "connecting",
	StateApproving:  "approving",
	StateSubmitting: "submitting",
	StateConfirming: "confirming",
	StateSucceeded:  "succeeded",
	StateFailed:     "failed",
}

func (s OperationState) String() string {
	if name, ok := operationStateNames[s]; ok {
		return name
	}
	return "unknown"
}

// Terminal reports whether the state ends a request.
func (s OperationState) Terminal() bool {
	return s == StateSucceeded || s == StateFailed
}

// MarshalText renders the state by name in JSON payloads.
func (s OperationState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// OperationStatus is the observable state of the current or last transaction request.
type OperationStatus struct {
	RequestID  string          `json:"requestId,omitempty"`
	Kind       TransactionKind `json:"kind,omitempty"`
	Amount     string          `json:"amount,omitempty"`
	BaseAmount *big.Int        `json:"-"`
	State      OperationState  `json:"state"`
	// Reason is set only in StateFailed.
	Reason error `json:"-"`
	// Warning carries a non-fatal problem, such as a failed post-success balance refresh.
	Warning   error     `json:"-"`
	ApproveTx string    `json:"approveTx,omitempty"`
	ExecuteTx string    `json:"executeTx,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}
