/*
ledger.go - Append-only transaction ledger and storage interfaces

PURPOSE:
  The ledger is the immutable source of truth for all monetary movement.
  Every purchase and deposit is recorded here; course ownership is always
  derived by querying it - there is no stored "ownership" row that can
  drift out of sync.

CRITICAL INVARIANTS:
  1. APPEND-ONLY: no Update, no Delete. EVER.
  2. IMMUTABLE: once written, transactions cannot be modified.
  3. ATOMIC: a ledger write and its balance mutation commit together or
     not at all (see TxStore / UnitOfWork).

QUERY SURFACE:
  Filter               history listing with optional type/course/expiry filters
  AggregateByCourse    per-course sales stats for the monthly report
  SumValue             total value moved in a window (payments AND deposits -
                       preserved source behavior; SumPayments is the
                       revenue-only figure)
  FindExpiringRentals  rank-1-per-(user,course) rentals expiring on a target day

SEE ALSO:
  - engine.go: the only writer of payment/deposit rows
  - store/sqlite: durable implementation with window-function ranking
  - billing/store: in-memory implementation with equivalent grouping
*/
package billing

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// QUERY FILTER
// =============================================================================

// TransactionFilter narrows a ledger history query. The zero value of each
// optional field means "do not filter on this".
type TransactionFilter struct {
	// UserID is required: history is always scoped to one user.
	UserID int64

	// Type restricts to payments or deposits when non-empty.
	Type OperationType

	// CourseID restricts to transactions referencing one course.
	CourseID *int64

	// ExcludeExpired drops rows whose ValidUntil has passed. Deposits and
	// buy/free payments (ValidUntil == nil) always survive this filter.
	ExcludeExpired bool

	// AsOf is the "now" used by ExcludeExpired. Zero means wall-clock now.
	AsOf time.Time
}

// =============================================================================
// LEDGER - Read/append interface
// =============================================================================

// Ledger is the append-only transaction log.
//
// Append is the ONLY write operation. Results of Filter carry no guaranteed
// order; callers that need one must sort.
type Ledger interface {
	// Append adds an immutable transaction. Fails with a ConstraintError
	// when the row violates a write-time invariant (missing user, rental
	// payment without expiry, deposit tied to a course).
	Append(ctx context.Context, tx *Transaction) error

	// Filter returns the user's transactions matching the filter.
	Filter(ctx context.Context, f TransactionFilter) ([]Transaction, error)

	// AggregateByCourse groups payment transactions created in [from, to)
	// by course, ordered descending by total value.
	AggregateByCourse(ctx context.Context, from, to time.Time) ([]CourseSales, error)

	// SumValue totals ALL transaction values in [from, to), deposits
	// included. This mirrors the original revenue query; use SumPayments
	// for the payments-only figure.
	SumValue(ctx context.Context, from, to time.Time) (decimal.Decimal, error)

	// SumPayments totals payment values in [from, to).
	SumPayments(ctx context.Context, from, to time.Time) (decimal.Decimal, error)

	// FindExpiringRentals returns, for each (user, course) pair, the most
	// recent rental payment (highest ValidUntil) whose expiry date falls
	// exactly on asOf+within, ordered by expiry. Earlier, superseded rental
	// rows for the same pair never produce a reminder.
	FindExpiringRentals(ctx context.Context, asOf time.Time, within time.Duration) ([]ExpiringRental, error)
}

// =============================================================================
// CATALOG / ACCOUNT STORES
// =============================================================================

// CourseStore persists catalog entries. Courses are soft-deleted only:
// DeactivateCourse flips Active; ledger rows keep referencing the course.
type CourseStore interface {
	CreateCourse(ctx context.Context, c *Course) error
	UpdateCourse(ctx context.Context, c *Course) error
	CourseByCode(ctx context.Context, code string) (*Course, error)
	ListCourses(ctx context.Context, activeOnly bool) ([]Course, error)
	DeactivateCourse(ctx context.Context, code string) error
}

// AccountStore persists billing users. Balance writes outside a UnitOfWork
// do not exist: the payment engine is the only balance mutator.
type AccountStore interface {
	CreateAccount(ctx context.Context, a *Account) error
	AccountByID(ctx context.Context, id int64) (*Account, error)
	AccountByEmail(ctx context.Context, email string) (*Account, error)
}

// =============================================================================
// OWNERSHIP STORE - Bulk derived-state queries
// =============================================================================

// OwnershipStore answers bulk ownership questions with a single query each.
// Implementations rank payment transactions per course by ValidUntil
// descending and keep rank 1 (window function in SQL, grouping in memory) -
// the "my courses" path must not degenerate into per-course round trips.
type OwnershipStore interface {
	// OwnedCourses returns the active courses the user has access to at asOf.
	OwnedCourses(ctx context.Context, userID int64, asOf time.Time) ([]Course, error)

	// CatalogWithOwnership returns every active course annotated with the
	// user's ownership state at asOf.
	CatalogWithOwnership(ctx context.Context, userID int64, asOf time.Time) ([]OwnedCourse, error)
}

// =============================================================================
// COMPOSED STORE + UNIT OF WORK
// =============================================================================

// Store is the full persistence surface of the billing engine.
type Store interface {
	Ledger
	CourseStore
	AccountStore
	OwnershipStore
}

// UnitOfWork is the atomic scope of one money-moving operation. Everything
// done through it commits together or rolls back together.
type UnitOfWork interface {
	// AccountForUpdate loads the account with its row held for the duration
	// of the unit of work (SELECT ... FOR UPDATE semantics; the SQLite
	// store serializes writers instead, which is equivalent there).
	AccountForUpdate(ctx context.Context, id int64) (*Account, error)

	// UpdateBalance writes the new balance for the locked account.
	UpdateBalance(ctx context.Context, id int64, balance decimal.Decimal) error

	// Append writes a ledger row inside the unit of work.
	Append(ctx context.Context, tx *Transaction) error
}

// TxStore is a Store that can run units of work. If fn returns an error the
// whole unit is rolled back and the error is returned unchanged.
type TxStore interface {
	Store
	WithTx(ctx context.Context, fn func(uow UnitOfWork) error) error
}
