package billing_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studyon/billing-engine/billing"
)

// =============================================================================
// SINGLE-COURSE RESOLUTION
// =============================================================================

func TestResolve_NeverPurchased_NotOwned(t *testing.T) {
	engine, mem := newTestEngine(t)
	user := newTestAccount(t, mem, 100)
	course := buyCourse(t, mem, "algo", 60)

	own, err := engine.Resolver.Resolve(context.Background(), user.ID, course, engine.Now())
	require.NoError(t, err)
	assert.False(t, own.Owned)
	assert.Nil(t, own.OwnedUntil)
}

func TestResolve_BoughtCourse_OwnedForever(t *testing.T) {
	// GIVEN: A buy course purchased once
	// WHEN: Resolving far in the future
	// THEN: Still owned, with no expiry

	engine, mem := newTestEngine(t)
	ctx := context.Background()
	user := newTestAccount(t, mem, 100)
	course := buyCourse(t, mem, "algo", 60)

	_, err := engine.Purchase(ctx, user.ID, course)
	require.NoError(t, err)

	farFuture := engine.Now().AddDate(10, 0, 0)
	own, err := engine.Resolver.Resolve(ctx, user.ID, course, farFuture)
	require.NoError(t, err)
	assert.True(t, own.Owned)
	assert.Nil(t, own.OwnedUntil, "permanent access has no expiry")
}

func TestResolve_FreeCourse_OwnedAfterEnrollment(t *testing.T) {
	engine, mem := newTestEngine(t)
	ctx := context.Background()
	user := newTestAccount(t, mem, 0)
	course := freeCourse(t, mem, "intro")

	_, err := engine.Purchase(ctx, user.ID, course)
	require.NoError(t, err)

	own, err := engine.Resolver.Resolve(ctx, user.ID, course, engine.Now())
	require.NoError(t, err)
	assert.True(t, own.Owned)
}

func TestResolve_Rental_OwnedUntilExpiry(t *testing.T) {
	// GIVEN: A 7-day rental purchased at T
	// WHEN: Resolving at T+1d and at T+8d
	// THEN: Owned with expiry at T+7d, then not owned

	engine, mem := newTestEngine(t)
	ctx := context.Background()
	user := newTestAccount(t, mem, 100)
	course := rentCourse(t, mem, "sql", 30, 7*24*time.Hour)

	purchasedAt := engine.Now()
	_, err := engine.Purchase(ctx, user.ID, course)
	require.NoError(t, err)

	own, err := engine.Resolver.Resolve(ctx, user.ID, course, purchasedAt.Add(24*time.Hour))
	require.NoError(t, err)
	assert.True(t, own.Owned)
	require.NotNil(t, own.OwnedUntil)
	assert.Equal(t, purchasedAt.Add(7*24*time.Hour), *own.OwnedUntil)

	own, err = engine.Resolver.Resolve(ctx, user.ID, course, purchasedAt.Add(8*24*time.Hour))
	require.NoError(t, err)
	assert.False(t, own.Owned, "expired rental is not owned")
}

func TestResolve_RepeatedRental_LatestExpiryWins(t *testing.T) {
	// Two rental payments exist; the one with the later ValidUntil decides.
	engine, mem := newTestEngine(t)
	ctx := context.Background()
	user := newTestAccount(t, mem, 100)
	course := rentCourse(t, mem, "sql", 30, 7*24*time.Hour)

	_, err := engine.Purchase(ctx, user.ID, course)
	require.NoError(t, err)

	secondAt := engine.Now().Add(3 * 24 * time.Hour)
	engine.Now = func() time.Time { return secondAt }
	_, err = engine.Purchase(ctx, user.ID, course)
	require.NoError(t, err)

	// 9 days after the first purchase: first rental expired, second has not.
	own, err := engine.Resolver.Resolve(ctx, user.ID, course, secondAt.Add(6*24*time.Hour))
	require.NoError(t, err)
	assert.True(t, own.Owned)
	require.NotNil(t, own.OwnedUntil)
	assert.Equal(t, secondAt.Add(7*24*time.Hour), *own.OwnedUntil)
}

// =============================================================================
// BULK QUERIES
// =============================================================================

func TestOwnedCourses_ReturnsOnlyCurrentAccess(t *testing.T) {
	// GIVEN: A bought course, an active rental, an expired rental and an
	//        untouched course
	// WHEN: Listing owned courses
	// THEN: Only the first two appear

	engine, mem := newTestEngine(t)
	ctx := context.Background()
	user := newTestAccount(t, mem, 1000)

	bought := buyCourse(t, mem, "algo", 60)
	active := rentCourse(t, mem, "sql", 30, 30*24*time.Hour)
	expired := rentCourse(t, mem, "k8s", 30, 24*time.Hour)
	buyCourse(t, mem, "untouched", 10)

	for _, c := range []*billing.Course{bought, active, expired} {
		_, err := engine.Purchase(ctx, user.ID, c)
		require.NoError(t, err)
	}

	asOf := engine.Now().Add(5 * 24 * time.Hour)
	owned, err := engine.Resolver.OwnedCourses(ctx, user.ID, asOf)
	require.NoError(t, err)

	codes := make([]string, len(owned))
	for i, c := range owned {
		codes[i] = c.Code
	}
	assert.ElementsMatch(t, []string{"algo", "sql"}, codes)
}

func TestCatalog_AnnotatesOwnershipPerCourse(t *testing.T) {
	engine, mem := newTestEngine(t)
	ctx := context.Background()
	user := newTestAccount(t, mem, 1000)

	bought := buyCourse(t, mem, "algo", 60)
	rented := rentCourse(t, mem, "sql", 30, 7*24*time.Hour)
	buyCourse(t, mem, "untouched", 10)

	_, err := engine.Purchase(ctx, user.ID, bought)
	require.NoError(t, err)
	rentTx, err := engine.Purchase(ctx, user.ID, rented)
	require.NoError(t, err)

	catalog, err := engine.Resolver.Catalog(ctx, user.ID, engine.Now())
	require.NoError(t, err)
	require.Len(t, catalog, 3)

	byCode := make(map[string]billing.OwnedCourse)
	for _, oc := range catalog {
		byCode[oc.Code] = oc
	}

	assert.True(t, byCode["algo"].Owned)
	assert.Nil(t, byCode["algo"].OwnedUntil)

	assert.True(t, byCode["sql"].Owned)
	require.NotNil(t, byCode["sql"].OwnedUntil)
	assert.Equal(t, *rentTx.ValidUntil, *byCode["sql"].OwnedUntil)

	assert.False(t, byCode["untouched"].Owned)
}

func TestCatalog_ExcludesDeactivatedCourses(t *testing.T) {
	engine, mem := newTestEngine(t)
	ctx := context.Background()
	user := newTestAccount(t, mem, 1000)

	buyCourse(t, mem, "visible", 10)
	buyCourse(t, mem, "retired", 10)
	require.NoError(t, mem.DeactivateCourse(ctx, "retired"))

	catalog, err := engine.Resolver.Catalog(ctx, user.ID, engine.Now())
	require.NoError(t, err)
	require.Len(t, catalog, 1)
	assert.Equal(t, "visible", catalog[0].Code)
}
