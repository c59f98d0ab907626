package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/studyon/billing-engine/api"
	"github.com/studyon/billing-engine/auth"
	"github.com/studyon/billing-engine/billing"
	"github.com/studyon/billing-engine/billing/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

type testAPI struct {
	router http.Handler
	store  *store.Memory
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	mem := store.NewMemory()
	authSvc := auth.NewService(mem, "test-secret", time.Hour, 24*time.Hour)
	handler := api.NewHandler(mem, authSvc, zerolog.Nop())
	return &testAPI{
		router: api.NewRouter(handler),
		store:  mem,
	}
}

// do performs a request with an optional bearer token and JSON body.
func (a *testAPI) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v), "body: %s", rec.Body.String())
	return v
}

// registerUser registers through the API and returns the access token.
func (a *testAPI) registerUser(t *testing.T, email, password string) string {
	t.Helper()
	rec := a.do(t, http.MethodPost, "/api/v1/register", "", map[string]string{
		"username": email, "password": password,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeBody[api.TokenDTO](t, rec).Token
}

// adminToken seeds an admin account directly and logs it in.
func (a *testAPI) adminToken(t *testing.T) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("admin-pass"), bcrypt.MinCost)
	require.NoError(t, err)
	require.NoError(t, a.store.CreateAccount(context.Background(), &billing.Account{
		Email:        "admin@example.com",
		PasswordHash: string(hash),
		Roles:        []string{billing.RoleUser, billing.RoleSuperAdmin},
		Balance:      decimal.Zero,
	}))

	rec := a.do(t, http.MethodPost, "/api/v1/auth", "", map[string]string{
		"username": "admin@example.com", "password": "admin-pass",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return decodeBody[api.TokenDTO](t, rec).Token
}

func (a *testAPI) createCourse(t *testing.T, admin string, body map[string]any) {
	t.Helper()
	rec := a.do(t, http.MethodPost, "/api/v1/courses", admin, body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func (a *testAPI) depositFor(t *testing.T, token string, amount float64) {
	t.Helper()
	rec := a.do(t, http.MethodPost, "/api/v1/deposit", token, map[string]any{"amount": amount})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

// =============================================================================
// AUTH FLOW
// =============================================================================

func TestRegisterLoginRefresh_FullFlow(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(t, http.MethodPost, "/api/v1/register", "", map[string]string{
		"username": "u@example.com", "password": "password",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	tokens := decodeBody[api.TokenDTO](t, rec)
	assert.NotEmpty(t, tokens.Token)
	assert.Contains(t, tokens.Roles, billing.RoleUser)

	// Duplicate registration conflicts.
	rec = a.do(t, http.MethodPost, "/api/v1/register", "", map[string]string{
		"username": "u@example.com", "password": "password",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)

	// Login with wrong password.
	rec = a.do(t, http.MethodPost, "/api/v1/auth", "", map[string]string{
		"username": "u@example.com", "password": "wrong",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Refresh.
	rec = a.do(t, http.MethodPost, "/api/v1/token/refresh", "", map[string]string{
		"refresh_token": tokens.RefreshToken,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	fresh := decodeBody[api.TokenDTO](t, rec)
	assert.NotEmpty(t, fresh.Token)

	// Current user with the fresh token.
	rec = a.do(t, http.MethodGet, "/api/v1/users/current", fresh.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	me := decodeBody[api.CurrentUserDTO](t, rec)
	assert.Equal(t, "u@example.com", me.Username)
	assert.Zero(t, me.Balance)
}

func TestRegister_ValidationErrorsUseEnvelope(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(t, http.MethodPost, "/api/v1/register", "", map[string]string{
		"username": "not-an-email", "password": "123",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	envelope := decodeBody[api.ErrorResponse](t, rec)
	assert.Equal(t, http.StatusBadRequest, envelope.Code)
	assert.Len(t, envelope.Errors, 2, "both username and password are invalid")
}

func TestProtectedRoute_WithoutToken_Unauthorized(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(t, http.MethodGet, "/api/v1/users/current", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = a.do(t, http.MethodGet, "/api/v1/users/current", "garbage", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

// =============================================================================
// CATALOG
// =============================================================================

func TestCourses_AdminCRUDAndRoleGate(t *testing.T) {
	a := newTestAPI(t)
	admin := a.adminToken(t)
	user := a.registerUser(t, "u@example.com", "password")

	// Plain users cannot create courses.
	rec := a.do(t, http.MethodPost, "/api/v1/courses", user, map[string]any{
		"code": "algo", "title": "Algorithms", "type": "buy", "price": 60,
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	a.createCourse(t, admin, map[string]any{
		"code": "algo", "title": "Algorithms", "type": "buy", "price": 60,
	})

	// Duplicate code conflicts.
	rec = a.do(t, http.MethodPost, "/api/v1/courses", admin, map[string]any{
		"code": "algo", "title": "Again", "type": "free", "price": 0,
	})
	assert.Equal(t, http.StatusConflict, rec.Code)

	// Rent course without duration is a constraint violation.
	rec = a.do(t, http.MethodPost, "/api/v1/courses", admin, map[string]any{
		"code": "sql", "title": "SQL", "type": "rent", "price": 30,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Edit.
	rec = a.do(t, http.MethodPost, "/api/v1/courses/algo", admin, map[string]any{
		"code": "algo", "title": "Algorithms II", "type": "buy", "price": 80,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = a.do(t, http.MethodGet, "/api/v1/courses/algo", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	course := decodeBody[api.CourseDTO](t, rec)
	assert.Equal(t, "Algorithms II", course.Title)
	require.NotNil(t, course.Price)
	assert.EqualValues(t, 80, *course.Price)

	// Delete, then the course is gone from public reads.
	rec = a.do(t, http.MethodDelete, "/api/v1/courses/algo", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = a.do(t, http.MethodGet, "/api/v1/courses/algo", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListCourses_OwnershipOnlyForAuthenticated(t *testing.T) {
	a := newTestAPI(t)
	admin := a.adminToken(t)
	user := a.registerUser(t, "u@example.com", "password")

	a.createCourse(t, admin, map[string]any{
		"code": "intro", "title": "Intro", "type": "free", "price": 0,
	})
	a.createCourse(t, admin, map[string]any{
		"code": "algo", "title": "Algorithms", "type": "buy", "price": 60,
	})

	rec := a.do(t, http.MethodPost, "/api/v1/courses/intro/pay", user, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// Anonymous listing: no ownership fields.
	rec = a.do(t, http.MethodGet, "/api/v1/courses", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	anon := decodeBody[[]api.CourseDTO](t, rec)
	require.Len(t, anon, 2)
	for _, c := range anon {
		assert.Nil(t, c.Owned)
	}

	// Authenticated listing: ownership annotated.
	rec = a.do(t, http.MethodGet, "/api/v1/courses", user, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	authed := decodeBody[[]api.CourseDTO](t, rec)
	byCode := map[string]api.CourseDTO{}
	for _, c := range authed {
		byCode[c.Code] = c
	}
	require.NotNil(t, byCode["intro"].Owned)
	assert.True(t, *byCode["intro"].Owned)
	require.NotNil(t, byCode["algo"].Owned)
	assert.False(t, *byCode["algo"].Owned)
}

// =============================================================================
// MONEY FLOW
// =============================================================================

func TestPayDepositTransactions_FullFlow(t *testing.T) {
	a := newTestAPI(t)
	admin := a.adminToken(t)
	user := a.registerUser(t, "u@example.com", "password")

	a.createCourse(t, admin, map[string]any{
		"code": "algo", "title": "Algorithms", "type": "buy", "price": 60,
	})
	a.createCourse(t, admin, map[string]any{
		"code": "sql", "title": "SQL", "type": "rent", "price": 30, "rent_duration": "168h",
	})

	// Broke: payment is not acceptable.
	rec := a.do(t, http.MethodPost, "/api/v1/courses/algo/pay", user, nil)
	assert.Equal(t, http.StatusNotAcceptable, rec.Code)

	a.depositFor(t, user, 100)

	rec = a.do(t, http.MethodPost, "/api/v1/courses/algo/pay", user, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	pay := decodeBody[api.PayDTO](t, rec)
	assert.True(t, pay.Success)
	assert.Equal(t, "buy", pay.CourseType)
	assert.Nil(t, pay.ExpiresAt)

	// Buying again conflicts.
	rec = a.do(t, http.MethodPost, "/api/v1/courses/algo/pay", user, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	// Renting returns the expiry.
	rec = a.do(t, http.MethodPost, "/api/v1/courses/sql/pay", user, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	pay = decodeBody[api.PayDTO](t, rec)
	assert.Equal(t, "rent", pay.CourseType)
	require.NotNil(t, pay.ExpiresAt)
	expires, err := time.Parse(time.RFC3339, *pay.ExpiresAt)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().UTC().Add(168*time.Hour), expires, time.Minute)

	// Unknown course.
	rec = a.do(t, http.MethodPost, "/api/v1/courses/nope/pay", user, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// Balance after 100 - 60 - 30.
	rec = a.do(t, http.MethodGet, "/api/v1/users/current", user, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	me := decodeBody[api.CurrentUserDTO](t, rec)
	assert.EqualValues(t, 10, me.Balance)

	// History: everything, then payments only, then per course.
	rec = a.do(t, http.MethodGet, "/api/v1/transactions", user, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	all := decodeBody[[]api.TransactionDTO](t, rec)
	assert.Len(t, all, 3)

	rec = a.do(t, http.MethodGet, "/api/v1/transactions?type=payment", user, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	payments := decodeBody[[]api.TransactionDTO](t, rec)
	assert.Len(t, payments, 2)

	rec = a.do(t, http.MethodGet, "/api/v1/transactions?course_code=sql", user, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	sqlTxs := decodeBody[[]api.TransactionDTO](t, rec)
	require.Len(t, sqlTxs, 1)
	assert.NotNil(t, sqlTxs[0].ValidUntil)

	rec = a.do(t, http.MethodGet, "/api/v1/transactions?type=bogus", user, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeposit_RejectsNonPositiveAmounts(t *testing.T) {
	a := newTestAPI(t)
	user := a.registerUser(t, "u@example.com", "password")

	rec := a.do(t, http.MethodPost, "/api/v1/deposit", user, map[string]any{"amount": 0})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = a.do(t, http.MethodPost, "/api/v1/deposit", user, map[string]any{"amount": -10})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthz_Public(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}
