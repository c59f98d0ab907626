/*
ownership.go - Course ownership derivation

PURPOSE:
  Answers "does user U currently have access to course C, and until when?".
  Ownership is a computation over the ledger, never a stored entity.

DERIVATION RULE:
  A user owns a course at time T when a payment transaction exists for the
  (user, course) pair created at or before T, and:
    - free/buy course: unconditionally (permanent access), or
    - rent course: that payment's ValidUntil > T. When several rental
      payments exist, the latest ValidUntil decides current access.

BULK PATH:
  OwnedCourses / Catalog delegate to the store's single ranked query so the
  "my courses" listing scales to the full catalog without N+1 round trips.
*/
package billing

import (
	"context"
	"time"
)

// Resolver derives ownership state from the ledger.
type Resolver struct {
	Store Store
}

// NewResolver creates a resolver over the given store.
func NewResolver(store Store) *Resolver {
	return &Resolver{Store: store}
}

// Resolve computes the ownership of a single course for a user at asOf.
// A zero asOf means wall-clock now.
func (r *Resolver) Resolve(ctx context.Context, userID int64, course *Course, asOf time.Time) (Ownership, error) {
	if asOf.IsZero() {
		asOf = time.Now().UTC()
	}

	txs, err := r.Store.Filter(ctx, TransactionFilter{
		UserID:   userID,
		Type:     OpPayment,
		CourseID: &course.ID,
	})
	if err != nil {
		return Ownership{}, err
	}

	var latest *time.Time
	for i := range txs {
		tx := &txs[i]
		if tx.CreatedAt.After(asOf) {
			continue
		}

		if course.Type != CourseRent {
			// One payment grants permanent access.
			return Ownership{Owned: true}, nil
		}

		if tx.ValidUntil == nil || !tx.ValidUntil.After(asOf) {
			continue // expired rental
		}
		if latest == nil || tx.ValidUntil.After(*latest) {
			until := *tx.ValidUntil
			latest = &until
		}
	}

	if latest == nil {
		return Ownership{}, nil
	}
	return Ownership{Owned: true, OwnedUntil: latest}, nil
}

// OwnedCourses lists the active courses the user currently has access to.
// Single bulk query; see OwnershipStore.
func (r *Resolver) OwnedCourses(ctx context.Context, userID int64, asOf time.Time) ([]Course, error) {
	if asOf.IsZero() {
		asOf = time.Now().UTC()
	}
	return r.Store.OwnedCourses(ctx, userID, asOf)
}

// Catalog lists every active course annotated with the user's ownership.
func (r *Resolver) Catalog(ctx context.Context, userID int64, asOf time.Time) ([]OwnedCourse, error) {
	if asOf.IsZero() {
		asOf = time.Now().UTC()
	}
	return r.Store.CatalogWithOwnership(ctx, userID, asOf)
}
