package domain

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrDependencyNotReady a chain read needed to compose calls has not completed yet.
	ErrDependencyNotReady = errors.New("dependency not ready")
	// ErrEmptyExtrinsic builder produced no calls.
	ErrEmptyExtrinsic = errors.New("extrinsic has no calls")
	// ErrSubmissionInProgress submit called while a previous submission is signing or broadcasting.
	ErrSubmissionInProgress = errors.New("submission already in progress")
	// ErrRequestProcessed the confirmation request already reached an outcome.
	ErrRequestProcessed = errors.New("confirmation request already processed")
	// ErrSigningCancelled the user declined to sign.
	ErrSigningCancelled = errors.New("signing cancelled")
	// ErrScreenClosed the orchestrator was closed.
	ErrScreenClosed = errors.New("confirmation screen closed")
	// ErrScreenDone the transaction of this screen was already submitted.
	ErrScreenDone = errors.New("confirmation screen already completed")
)

// SubscriptionError balance or price feed failure for a single ref.
type SubscriptionError struct {
	Ref ChainAssetRef
	Err error
}

func (e *SubscriptionError) Error() string {
	return fmt.Sprintf("subscription %s: %v", e.Ref.String(), e.Err)
}

func (e *SubscriptionError) Unwrap() error { return e.Err }

// EstimationError fee dry run failure.
type EstimationError struct {
	ReuseKey string
	Err      error
}

func (e *EstimationError) Error() string {
	return fmt.Sprintf("fee unavailable: %v", e.Err)
}

func (e *EstimationError) Unwrap() error { return e.Err }

// ValidationFailure expected user-facing rejection of a confirmation.
type ValidationFailure struct {
	Validator string
	Reason    string
	// Recovery optional side effect the caller runs before the user confirms again.
	Recovery func()
}

func (e *ValidationFailure) Error() string {
	return e.Reason
}

// SigningError failure before anything reached the network.
type SigningError struct {
	Err error
}

func (e *SigningError) Error() string {
	return fmt.Sprintf("signing failed: %v", e.Err)
}

func (e *SigningError) Unwrap() error { return e.Err }

// Cancelled reports whether the user declined to sign.
func (e *SigningError) Cancelled() bool {
	return errors.Is(e.Err, ErrSigningCancelled)
}

// BroadcastError the signed transaction was not accepted by the node.
type BroadcastError struct {
	Err error
}

func (e *BroadcastError) Error() string {
	return fmt.Sprintf("broadcast failed: %v", e.Err)
}

func (e *BroadcastError) Unwrap() error { return e.Err }
