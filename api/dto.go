/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: response types returned to clients
  - *Request: request body types from clients

MONEY ON THE WIRE:
  Costs, balances and transaction values travel as JSON numbers. Internally
  everything is decimal.Decimal; float64 only appears at the JSON boundary.

VALIDATION:
  Request structs carry go-playground/validator tags; handlers run them
  through the shared validator and translate failures into the standard
  error envelope.

SEE ALSO:
  - handlers.go: uses these types
  - billing/types.go: the domain model behind them
*/
package api

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/studyon/billing-engine/billing"
)

// validate is the shared, stateless validator instance.
var validate = validator.New()

// =============================================================================
// ERROR ENVELOPE
// =============================================================================

// ErrorResponse is the standard error envelope: an HTTP-status-like code
// plus one message per problem.
type ErrorResponse struct {
	Code   int      `json:"code"`
	Errors []string `json:"errors"`
}

// =============================================================================
// AUTH
// =============================================================================

// RegisterRequest creates a new user account.
type RegisterRequest struct {
	Username string `json:"username" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6"`
}

// AuthRequest logs an existing user in.
type AuthRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// RefreshRequest exchanges a refresh token for a new token pair.
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

// TokenDTO is the response to register, auth and refresh.
type TokenDTO struct {
	Token        string   `json:"token"`
	RefreshToken string   `json:"refresh_token"`
	Roles        []string `json:"roles,omitempty"`
}

// CurrentUserDTO describes the authenticated caller.
type CurrentUserDTO struct {
	Username string   `json:"username"`
	Roles    []string `json:"roles"`
	Balance  float64  `json:"balance"`
}

// =============================================================================
// COURSES
// =============================================================================

// CourseDTO represents a catalog entry. Price is omitted for free courses;
// the ownership fields appear only for authenticated catalog listings.
type CourseDTO struct {
	Code         string   `json:"code"`
	Title        string   `json:"title"`
	Type         string   `json:"type"`
	Price        *float64 `json:"price,omitempty"`
	RentDuration string   `json:"rent_duration,omitempty"`
	Owned        *bool    `json:"owned,omitempty"`
	OwnedUntil   *string  `json:"owned_until,omitempty"`
}

// SaveCourseRequest creates or edits a catalog entry (admin only).
type SaveCourseRequest struct {
	Code  string  `json:"code" validate:"required"`
	Title string  `json:"title" validate:"required"`
	Type  string  `json:"type" validate:"required,oneof=free rent buy"`
	Price float64 `json:"price" validate:"gte=0"`
	// RentDuration is a Go duration string ("168h"); required for rent courses.
	RentDuration string `json:"rent_duration,omitempty"`
}

// SuccessDTO acknowledges a mutation that returns no resource.
type SuccessDTO struct {
	Success bool `json:"success"`
}

// =============================================================================
// PAYMENTS
// =============================================================================

// PayDTO is the response to a course payment.
type PayDTO struct {
	Success    bool    `json:"success"`
	CourseType string  `json:"course_type"`
	ExpiresAt  *string `json:"expires_at,omitempty"`
}

// DepositRequest credits the caller's balance.
type DepositRequest struct {
	Amount float64 `json:"amount" validate:"required,gt=0"`
}

// DepositDTO is the response to a deposit.
type DepositDTO struct {
	Success bool    `json:"success"`
	Balance float64 `json:"balance"`
}

// TransactionDTO is one row of the caller's payment history.
type TransactionDTO struct {
	ID         int64   `json:"id"`
	CreatedAt  string  `json:"created_at"`
	Type       string  `json:"type"`
	CourseCode string  `json:"course_code,omitempty"`
	Amount     float64 `json:"amount"`
	ValidUntil *string `json:"valid_until,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func toCourseDTO(c *billing.Course) CourseDTO {
	dto := CourseDTO{
		Code:  c.Code,
		Title: c.Title,
		Type:  string(c.Type),
	}
	if c.Type != billing.CourseFree {
		price, _ := c.Cost.Float64()
		dto.Price = &price
	}
	if c.Type == billing.CourseRent {
		dto.RentDuration = c.RentDuration.String()
	}
	return dto
}

func toOwnedCourseDTO(oc billing.OwnedCourse) CourseDTO {
	dto := toCourseDTO(&oc.Course)
	owned := oc.Owned
	dto.Owned = &owned
	if oc.OwnedUntil != nil {
		s := oc.OwnedUntil.Format(time.RFC3339)
		dto.OwnedUntil = &s
	}
	return dto
}

func toTransactionDTO(tx billing.Transaction) TransactionDTO {
	amount, _ := tx.Value.Float64()
	dto := TransactionDTO{
		ID:         tx.ID,
		CreatedAt:  tx.CreatedAt.Format(time.RFC3339),
		Type:       string(tx.Type),
		CourseCode: tx.CourseCode,
		Amount:     amount,
	}
	if tx.ValidUntil != nil {
		s := tx.ValidUntil.Format(time.RFC3339)
		dto.ValidUntil = &s
	}
	return dto
}

func toTransactionDTOs(txs []billing.Transaction) []TransactionDTO {
	dtos := make([]TransactionDTO, len(txs))
	for i, tx := range txs {
		dtos[i] = toTransactionDTO(tx)
	}
	return dtos
}

// toCourse builds a domain course from a save request. Duration parsing
// errors surface as constraint violations, matching Course.Validate.
func (req *SaveCourseRequest) toCourse() (*billing.Course, error) {
	c := &billing.Course{
		Code:   req.Code,
		Title:  req.Title,
		Type:   billing.CourseType(req.Type),
		Cost:   decimal.NewFromFloat(req.Price),
		Active: true,
	}
	if req.RentDuration != "" {
		d, err := time.ParseDuration(req.RentDuration)
		if err != nil {
			return nil, &billing.ConstraintError{Field: "rent_duration", Reason: "invalid duration format"}
		}
		c.RentDuration = d
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// validationMessages flattens validator errors into envelope messages.
func validationMessages(err error) []string {
	var msgs []string
	if verrs, ok := err.(validator.ValidationErrors); ok {
		for _, fe := range verrs {
			msgs = append(msgs, fieldMessage(fe))
		}
		return msgs
	}
	return []string{err.Error()}
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "email":
		return fe.Field() + " must be a valid email address"
	case "min":
		return fe.Field() + " must be at least " + fe.Param() + " characters"
	case "oneof":
		return fe.Field() + " must be one of: " + fe.Param()
	case "gt":
		return fe.Field() + " must be greater than " + fe.Param()
	case "gte":
		return fe.Field() + " must be at least " + fe.Param()
	default:
		return fe.Field() + " is invalid"
	}
}
