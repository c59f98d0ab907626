/*
handlers.go - HTTP API handlers for the billing engine

PURPOSE:
  Exposes the billing engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Auth:
    POST   /api/v1/register              Create account, returns tokens
    POST   /api/v1/auth                  Login, returns tokens
    POST   /api/v1/token/refresh         Refresh token pair
    GET    /api/v1/users/current         Authenticated caller + balance

  Catalog:
    GET    /api/v1/courses               List active courses (+ownership when authed)
    GET    /api/v1/courses/{code}        Single course
    POST   /api/v1/courses               Create course (admin)
    POST   /api/v1/courses/{code}        Edit course (admin)
    DELETE /api/v1/courses/{code}        Deactivate course (admin)

  Money:
    POST   /api/v1/courses/{code}/pay    Purchase a course
    POST   /api/v1/deposit               Credit balance
    GET    /api/v1/transactions          Payment history with filters

REQUEST FLOW:
  1. Decode + validate input
  2. Call domain logic (engine, resolver, store)
  3. Serialize response
  4. Map domain errors to HTTP status

ERROR HANDLING:
  Errors are returned as the {code, errors[]} envelope:
  - 400: validation failures, constraint violations
  - 401: missing/invalid credentials or token
  - 403: role denied
  - 404: course not found
  - 406: insufficient funds
  - 409: already owned, duplicate code, email taken
  - 500: everything else

SEE ALSO:
  - dto.go: request/response data structures
  - middleware.go: auth and logging middleware
  - server.go: router setup
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/studyon/billing-engine/api/metrics"
	"github.com/studyon/billing-engine/auth"
	"github.com/studyon/billing-engine/billing"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store    billing.TxStore
	Engine   *billing.Engine
	Resolver *billing.Resolver
	Auth     *auth.Service
	Log      zerolog.Logger
}

// NewHandler wires a handler over the store and auth service.
func NewHandler(store billing.TxStore, authSvc *auth.Service, log zerolog.Logger) *Handler {
	engine := billing.NewEngine(store)
	return &Handler{
		Store:    store,
		Engine:   engine,
		Resolver: engine.Resolver,
		Auth:     authSvc,
		Log:      log,
	}
}

// =============================================================================
// AUTH HANDLERS
// =============================================================================

// Register handles POST /api/v1/register.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if !h.decode(w, r, &req) {
		return
	}

	_, pair, err := h.Auth.Register(r.Context(), req.Username, req.Password)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, TokenDTO{
		Token:        pair.Token,
		RefreshToken: pair.RefreshToken,
		Roles:        pair.Roles,
	})
}

// Login handles POST /api/v1/auth.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req AuthRequest
	if !h.decode(w, r, &req) {
		return
	}

	_, pair, err := h.Auth.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, TokenDTO{
		Token:        pair.Token,
		RefreshToken: pair.RefreshToken,
		Roles:        pair.Roles,
	})
}

// Refresh handles POST /api/v1/token/refresh.
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if !h.decode(w, r, &req) {
		return
	}

	pair, err := h.Auth.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, TokenDTO{
		Token:        pair.Token,
		RefreshToken: pair.RefreshToken,
		Roles:        pair.Roles,
	})
}

// CurrentUser handles GET /api/v1/users/current.
func (h *Handler) CurrentUser(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r.Context())

	account, err := h.Store.AccountByID(r.Context(), identity.UserID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	balance, _ := account.Balance.Float64()
	writeJSON(w, http.StatusOK, CurrentUserDTO{
		Username: account.Email,
		Roles:    account.Roles,
		Balance:  balance,
	})
}

// =============================================================================
// CATALOG HANDLERS
// =============================================================================

// ListCourses handles GET /api/v1/courses. Anonymous callers see the plain
// catalog; authenticated callers additionally see their ownership state.
func (h *Handler) ListCourses(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r.Context())

	if identity == nil {
		courses, err := h.Store.ListCourses(r.Context(), true)
		if err != nil {
			h.writeDomainError(w, err)
			return
		}
		dtos := make([]CourseDTO, len(courses))
		for i := range courses {
			dtos[i] = toCourseDTO(&courses[i])
		}
		writeJSON(w, http.StatusOK, dtos)
		return
	}

	owned, err := h.Resolver.Catalog(r.Context(), identity.UserID, time.Time{})
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	dtos := make([]CourseDTO, len(owned))
	for i, oc := range owned {
		dtos[i] = toOwnedCourseDTO(oc)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetCourse handles GET /api/v1/courses/{code}.
func (h *Handler) GetCourse(w http.ResponseWriter, r *http.Request) {
	course, err := h.activeCourse(r)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toCourseDTO(course))
}

// CreateCourse handles POST /api/v1/courses (admin).
func (h *Handler) CreateCourse(w http.ResponseWriter, r *http.Request) {
	var req SaveCourseRequest
	if !h.decode(w, r, &req) {
		return
	}
	course, err := req.toCourse()
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	if err := h.Store.CreateCourse(r.Context(), course); err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.Log.Info().Str("code", course.Code).Str("type", string(course.Type)).Msg("course created")
	writeJSON(w, http.StatusCreated, SuccessDTO{Success: true})
}

// EditCourse handles POST /api/v1/courses/{code} (admin). The path code
// identifies the course; the body may carry a new code.
func (h *Handler) EditCourse(w http.ResponseWriter, r *http.Request) {
	existing, err := h.Store.CourseByCode(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	var req SaveCourseRequest
	if !h.decode(w, r, &req) {
		return
	}
	course, err := req.toCourse()
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	course.ID = existing.ID
	course.Active = existing.Active
	course.CreatedAt = existing.CreatedAt

	if err := h.Store.UpdateCourse(r.Context(), course); err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.Log.Info().Str("code", course.Code).Msg("course updated")
	writeJSON(w, http.StatusOK, SuccessDTO{Success: true})
}

// DeleteCourse handles DELETE /api/v1/courses/{code} (admin). Soft delete:
// the course is deactivated, its ledger history stays intact.
func (h *Handler) DeleteCourse(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	if err := h.Store.DeactivateCourse(r.Context(), code); err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.Log.Info().Str("code", code).Msg("course deactivated")
	writeJSON(w, http.StatusOK, SuccessDTO{Success: true})
}

// =============================================================================
// MONEY HANDLERS
// =============================================================================

// PayCourse handles POST /api/v1/courses/{code}/pay.
func (h *Handler) PayCourse(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r.Context())

	course, err := h.activeCourse(r)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	tx, err := h.Engine.Purchase(r.Context(), identity.UserID, course)
	if err != nil {
		metrics.PaymentFailures.WithLabelValues(failureReason(err)).Inc()
		h.writeDomainError(w, err)
		return
	}
	metrics.Purchases.WithLabelValues(string(course.Type)).Inc()

	dto := PayDTO{Success: true, CourseType: string(course.Type)}
	if tx.ValidUntil != nil {
		s := tx.ValidUntil.Format(time.RFC3339)
		dto.ExpiresAt = &s
	}
	writeJSON(w, http.StatusOK, dto)
}

// Deposit handles POST /api/v1/deposit.
func (h *Handler) Deposit(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r.Context())

	var req DepositRequest
	if !h.decode(w, r, &req) {
		return
	}

	if _, err := h.Engine.Deposit(r.Context(), identity.UserID, decimal.NewFromFloat(req.Amount)); err != nil {
		h.writeDomainError(w, err)
		return
	}
	metrics.Deposits.Inc()

	account, err := h.Store.AccountByID(r.Context(), identity.UserID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	balance, _ := account.Balance.Float64()
	writeJSON(w, http.StatusOK, DepositDTO{Success: true, Balance: balance})
}

// Transactions handles GET /api/v1/transactions.
// Query params: type (payment|deposit), course_code, skip_expired (bool).
func (h *Handler) Transactions(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r.Context())
	q := r.URL.Query()

	filter := billing.TransactionFilter{UserID: identity.UserID}

	if t := q.Get("type"); t != "" {
		op := billing.OperationType(t)
		if !op.Valid() {
			writeError(w, http.StatusBadRequest, "unknown transaction type")
			return
		}
		filter.Type = op
	}
	if code := q.Get("course_code"); code != "" {
		course, err := h.Store.CourseByCode(r.Context(), code)
		if err != nil {
			h.writeDomainError(w, err)
			return
		}
		filter.CourseID = &course.ID
	}
	if q.Get("skip_expired") == "true" || q.Get("skip_expired") == "1" {
		filter.ExcludeExpired = true
	}

	txs, err := h.Store.Filter(r.Context(), filter)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionDTOs(txs))
}

// =============================================================================
// SHARED HELPERS
// =============================================================================

// activeCourse resolves {code} to an active catalog entry. Deactivated
// courses are indistinguishable from missing ones.
func (h *Handler) activeCourse(r *http.Request) (*billing.Course, error) {
	course, err := h.Store.CourseByCode(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		return nil, err
	}
	if !course.Active {
		return nil, billing.ErrCourseNotFound
	}
	return course, nil
}

// decode parses and validates a JSON request body. On failure it writes the
// error response itself and returns false.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	if err := validate.Struct(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Code:   http.StatusBadRequest,
			Errors: validationMessages(err),
		})
		return false
	}
	return true
}

// writeDomainError maps a domain error onto the HTTP status table.
func (h *Handler) writeDomainError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.Log.Error().Err(err).Msg("internal error")
		writeError(w, status, "internal error")
		return
	}
	writeError(w, status, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, billing.ErrInsufficientFunds):
		return http.StatusNotAcceptable
	case errors.Is(err, billing.ErrCourseNotFound),
		errors.Is(err, billing.ErrAccountNotFound):
		return http.StatusNotFound
	case errors.Is(err, billing.ErrAlreadyOwned),
		errors.Is(err, billing.ErrDuplicateCode),
		errors.Is(err, billing.ErrEmailTaken):
		return http.StatusConflict
	case errors.Is(err, billing.ErrConstraint),
		errors.Is(err, billing.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, auth.ErrInvalidCredentials):
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, billing.ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, billing.ErrAlreadyOwned):
		return "already_owned"
	default:
		return "other"
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msgs ...string) {
	writeJSON(w, status, ErrorResponse{Code: status, Errors: msgs})
}
