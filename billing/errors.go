/*
errors.go - Centralized error types for the billing core

PURPOSE:
  All error kinds the core can surface, in one place. The API layer maps
  these to HTTP statuses; the core only guarantees they are distinguishable
  with errors.Is / errors.As.

ERROR CATEGORIES:
  1. Payment errors   - insufficient funds, duplicate purchase
  2. Constraint errors - malformed ledger writes (programming/data errors)
  3. Lookup errors    - missing course/account
  4. Input errors     - contract violations from the caller

PROPAGATION POLICY:
  The core never swallows errors and never retries. Every failure path
  rolls back the surrounding unit of work and re-raises to the caller.
*/
package billing

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInsufficientFunds is returned when a purchase exceeds the balance.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrAlreadyOwned is returned when purchasing a buy/free course the user
	// already owns. Rentals are exempt: re-purchase extends access.
	ErrAlreadyOwned = errors.New("course already owned")

	// ErrConstraint is returned on a malformed ledger write: a missing user,
	// a rental payment without expiry, a deposit tied to a course.
	ErrConstraint = errors.New("constraint violation")

	// ErrCourseNotFound is returned when a referenced course does not exist
	// or is inactive.
	ErrCourseNotFound = errors.New("course not found")

	// ErrAccountNotFound is returned when a referenced account does not exist.
	ErrAccountNotFound = errors.New("account not found")

	// ErrInvalidArgument is returned on input-contract violations,
	// e.g. a non-positive deposit amount.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrDuplicateCode is returned when creating a course whose code exists.
	ErrDuplicateCode = errors.New("course code already exists")

	// ErrEmailTaken is returned when registering an email that exists.
	ErrEmailTaken = errors.New("email already registered")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InsufficientFundsError reports how short the account balance was.
type InsufficientFundsError struct {
	Balance   decimal.Decimal
	Cost      decimal.Decimal
	Shortfall decimal.Decimal
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds: balance %v, cost %v, short %v",
		e.Balance, e.Cost, e.Shortfall)
}

func (e *InsufficientFundsError) Unwrap() error {
	return ErrInsufficientFunds
}

// ConstraintError names the field that violated a write-time invariant.
type ConstraintError struct {
	Field  string
	Reason string
}

func (e *ConstraintError) Error() string {
	return fmt.Sprintf("constraint violation on %s: %s", e.Field, e.Reason)
}

func (e *ConstraintError) Unwrap() error {
	return ErrConstraint
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid client input
// or state the client can observe (as opposed to a server-side failure).
func IsClientError(err error) bool {
	return errors.Is(err, ErrInsufficientFunds) ||
		errors.Is(err, ErrAlreadyOwned) ||
		errors.Is(err, ErrInvalidArgument) ||
		errors.Is(err, ErrDuplicateCode) ||
		errors.Is(err, ErrEmailTaken)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrCourseNotFound) ||
		errors.Is(err, ErrAccountNotFound)
}
