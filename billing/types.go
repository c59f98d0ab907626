/*
Package billing contains the core domain of the Study-On billing engine:
the transaction ledger, the ownership resolver, and the payment engine.

KEY CONCEPTS IN THIS FILE (types.go):
  - Course: a catalog entry (free / rent / buy) with an optional price
  - Account: a billing user with a running balance
  - Transaction: an immutable ledger entry (payment or deposit)
  - Ownership: the derived "does this user currently have access" view

DESIGN PRINCIPLES:
  1. Immutability: transactions are never updated or deleted
  2. Precision: uses decimal.Decimal for money, never float arithmetic
  3. Derived state: course ownership is computed from the ledger,
     never stored as its own row

SEE ALSO:
  - ledger.go: Ledger/Store interfaces and query filters
  - engine.go: the money-moving operations (Purchase, Deposit)
  - ownership.go: ownership derivation rules
*/
package billing

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// COURSE - Catalog entry
// =============================================================================

// CourseType determines what a payment transaction grants.
type CourseType string

const (
	// CourseFree grants permanent access through a zero-cost payment record.
	CourseFree CourseType = "free"
	// CourseRent grants access for RentDuration from the moment of purchase.
	CourseRent CourseType = "rent"
	// CourseBuy grants permanent access after a single paid purchase.
	CourseBuy CourseType = "buy"
)

// Valid reports whether t is one of the known course types.
func (t CourseType) Valid() bool {
	switch t {
	case CourseFree, CourseRent, CourseBuy:
		return true
	}
	return false
}

// Course is a catalog entry. The billing core never mutates course fields;
// it only reads Type, Cost and RentDuration when executing a purchase.
//
// Courses are soft-deleted via the Active flag. A course with ledger history
// must never be hard-deleted: transactions reference it forever.
type Course struct {
	ID           int64
	Code         string // unique, immutable client-facing key
	Type         CourseType
	Title        string
	Cost         decimal.Decimal // zero for free courses
	RentDuration time.Duration   // non-zero only for rent courses
	Active       bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Validate enforces the type/cost/duration invariants:
//
//	free ⇒ zero cost, no rent duration
//	rent ⇒ positive cost AND positive rent duration
//	buy  ⇒ non-negative cost, no rent duration
func (c *Course) Validate() error {
	if c.Code == "" {
		return &ConstraintError{Field: "code", Reason: "course code can not be empty"}
	}
	if c.Title == "" {
		return &ConstraintError{Field: "title", Reason: "course must contain title"}
	}
	if !c.Type.Valid() {
		return &ConstraintError{Field: "type", Reason: "unknown course type"}
	}
	switch c.Type {
	case CourseFree:
		if !c.Cost.IsZero() {
			return &ConstraintError{Field: "cost", Reason: "free course can not contain cost value"}
		}
		if c.RentDuration != 0 {
			return &ConstraintError{Field: "rent_duration", Reason: "free course can not contain rent duration"}
		}
	case CourseRent:
		if !c.Cost.IsPositive() {
			return &ConstraintError{Field: "cost", Reason: "rent course must have a positive cost"}
		}
		if c.RentDuration <= 0 {
			return &ConstraintError{Field: "rent_duration", Reason: "rent course must contain rent duration"}
		}
	case CourseBuy:
		if c.Cost.IsNegative() {
			return &ConstraintError{Field: "cost", Reason: "course cost can not be negative"}
		}
		if c.RentDuration != 0 {
			return &ConstraintError{Field: "rent_duration", Reason: "only rent courses carry a rent duration"}
		}
	}
	return nil
}

// =============================================================================
// ACCOUNT - Billing user with a running balance
// =============================================================================

// Roles carried by accounts. Matches the role names the API layer checks.
const (
	RoleUser       = "ROLE_USER"
	RoleSuperAdmin = "ROLE_SUPER_ADMIN"
)

// Account is a billing user. Balance is mutated exclusively by the payment
// engine inside a store unit of work; nothing else writes it.
type Account struct {
	ID           int64
	Email        string // unique
	PasswordHash string
	Roles        []string
	Balance      decimal.Decimal
	CreatedAt    time.Time
}

// HasRole reports whether the account carries the given role.
func (a *Account) HasRole(role string) bool {
	for _, r := range a.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// =============================================================================
// TRANSACTION - Atomic, immutable ledger entry
// =============================================================================

// OperationType distinguishes the two kinds of monetary movement.
type OperationType string

const (
	// OpPayment debits the account balance against a course.
	OpPayment OperationType = "payment"
	// OpDeposit credits the account balance; never tied to a course.
	OpDeposit OperationType = "deposit"
)

// Valid reports whether t is one of the known operation types.
func (t OperationType) Valid() bool {
	return t == OpPayment || t == OpDeposit
}

// Transaction is a single ledger entry.
//
// INVARIANTS:
//   - Append-only: no update, no delete. EVER.
//   - UserID is required.
//   - Deposits carry no course and no expiry.
//   - Payments for rent courses carry ValidUntil (the rental expiry).
type Transaction struct {
	ID       int64
	UserID   int64
	CourseID *int64 // nil for deposits
	Type     OperationType
	Value    decimal.Decimal
	// CreatedAt is set at write time and immutable afterwards.
	CreatedAt time.Time
	// ValidUntil marks rental expiry; nil for buy/free payments and deposits.
	ValidUntil *time.Time

	// CourseCode is populated by ledger queries that join the catalog.
	// It is read-only convenience data, never persisted on this row.
	CourseCode string
}

// Validate checks the write-time invariants before the row is appended.
// rentCourse tells the ledger whether the referenced course is a rental.
func (tx *Transaction) Validate(rentCourse bool) error {
	if tx.UserID == 0 {
		return &ConstraintError{Field: "user", Reason: "transaction requires a user"}
	}
	if !tx.Type.Valid() {
		return &ConstraintError{Field: "operation_type", Reason: "operation type is invalid"}
	}
	if tx.Value.IsNegative() {
		return &ConstraintError{Field: "value", Reason: "transaction value can not be negative"}
	}
	switch tx.Type {
	case OpDeposit:
		if tx.CourseID != nil {
			return &ConstraintError{Field: "course", Reason: "deposit can not reference a course"}
		}
		if tx.ValidUntil != nil {
			return &ConstraintError{Field: "valid_until", Reason: "deposit can not carry an expiry"}
		}
	case OpPayment:
		if rentCourse && tx.ValidUntil == nil {
			return &ConstraintError{Field: "valid_until", Reason: "rental payment requires an expiry"}
		}
		if !rentCourse && tx.ValidUntil != nil {
			return &ConstraintError{Field: "valid_until", Reason: "only rental payments carry an expiry"}
		}
	}
	return nil
}

// =============================================================================
// OWNERSHIP - Derived view, never stored
// =============================================================================

// Ownership answers "does the user currently have access, and until when".
// OwnedUntil is nil for permanent (free/buy) access and for non-owned courses.
type Ownership struct {
	Owned      bool
	OwnedUntil *time.Time
}

// OwnedCourse pairs a catalog entry with the requesting user's ownership.
// Used by the catalog listing for authenticated users.
type OwnedCourse struct {
	Course
	Owned      bool
	OwnedUntil *time.Time
}

// =============================================================================
// REPORTING ROWS
// =============================================================================

// CourseSales is one row of the per-course sales aggregate.
type CourseSales struct {
	Title string
	Type  CourseType
	Count int64
	Total decimal.Decimal
}

// ExpiringRental identifies a user's rental that is about to run out,
// carrying just enough to address a renewal reminder.
type ExpiringRental struct {
	CourseTitle string
	Email       string
	ValidUntil  time.Time
}
