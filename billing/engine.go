/*
engine.go - Payment engine: the money-moving operations

PURPOSE:
  Validates and atomically executes the two operations that touch money:
  a course purchase and a balance deposit. Each one debits/credits the
  account balance AND appends a ledger row inside a single unit of work -
  a balance change without its ledger row (or vice versa) is a correctness
  violation and can never be observed.

CONCURRENCY:
  Two purchases racing on the same account must not both pass the balance
  check. The unit of work holds the account row for its duration
  (AccountForUpdate), so the read-check-write is serialized per account.

IDEMPOTENCY:
  Purchasing an already-owned buy/free course is rejected with
  ErrAlreadyOwned rather than double-charging. Rent courses are exempt:
  paying again extends access (the latest expiry wins).

SEE ALSO:
  - ledger.go: UnitOfWork / TxStore contracts
  - ownership.go: the already-owned check
*/
package billing

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Engine executes purchases and deposits with all-or-nothing semantics.
type Engine struct {
	Store    TxStore
	Resolver *Resolver

	// Now is the clock; overridable in tests. Defaults to time.Now UTC.
	Now func() time.Time
}

// NewEngine wires a payment engine over the given transactional store.
func NewEngine(store TxStore) *Engine {
	return &Engine{
		Store:    store,
		Resolver: NewResolver(store),
		Now:      func() time.Time { return time.Now().UTC() },
	}
}

// Purchase charges the user for the course and records the payment.
//
// The caller guarantees the course is active; the engine trusts the course
// it is given. Fails with:
//   - ErrAlreadyOwned for a buy/free course the user already owns
//   - InsufficientFundsError when balance < cost
//
// On success the returned transaction carries the expiry for rent courses.
func (e *Engine) Purchase(ctx context.Context, userID int64, course *Course) (*Transaction, error) {
	now := e.Now()

	if course.Type != CourseRent {
		owned, err := e.Resolver.Resolve(ctx, userID, course, now)
		if err != nil {
			return nil, err
		}
		if owned.Owned {
			return nil, ErrAlreadyOwned
		}
	}

	var created *Transaction
	err := e.Store.WithTx(ctx, func(uow UnitOfWork) error {
		account, err := uow.AccountForUpdate(ctx, userID)
		if err != nil {
			return err
		}

		cost := course.Cost // zero for free courses
		if account.Balance.LessThan(cost) {
			return &InsufficientFundsError{
				Balance:   account.Balance,
				Cost:      cost,
				Shortfall: cost.Sub(account.Balance),
			}
		}

		courseID := course.ID
		tx := &Transaction{
			UserID:    userID,
			CourseID:  &courseID,
			Type:      OpPayment,
			Value:     cost,
			CreatedAt: now,
		}
		if course.Type == CourseRent {
			until := now.Add(course.RentDuration)
			tx.ValidUntil = &until
		}

		if err := uow.UpdateBalance(ctx, userID, account.Balance.Sub(cost)); err != nil {
			return err
		}
		if err := uow.Append(ctx, tx); err != nil {
			return err
		}

		created = tx
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// Deposit credits the user's balance and records the deposit.
// Fails with ErrInvalidArgument when amount is not positive.
func (e *Engine) Deposit(ctx context.Context, userID int64, amount decimal.Decimal) (*Transaction, error) {
	if !amount.IsPositive() {
		return nil, ErrInvalidArgument
	}
	now := e.Now()

	var created *Transaction
	err := e.Store.WithTx(ctx, func(uow UnitOfWork) error {
		account, err := uow.AccountForUpdate(ctx, userID)
		if err != nil {
			return err
		}

		tx := &Transaction{
			UserID:    userID,
			Type:      OpDeposit,
			Value:     amount,
			CreatedAt: now,
		}

		if err := uow.UpdateBalance(ctx, userID, account.Balance.Add(amount)); err != nil {
			return err
		}
		if err := uow.Append(ctx, tx); err != nil {
			return err
		}

		created = tx
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}
