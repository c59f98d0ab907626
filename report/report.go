/*
report.go - Sales reporting and rental expiry reminders

PURPOSE:
  Two read-only consumers of the ledger's aggregate queries:

  MonthlySalesReport  per-course sales (count + total) for a calendar month
                      plus the month's total value, mailed to analytics
  SendExpiryNotices   reminds each user whose rental expires exactly
                      lead-time from now, one mail per user

  Neither writes to the ledger. Both render plain text via text/template.

SEE ALSO:
  - billing/ledger.go: AggregateByCourse, SumValue, FindExpiringRentals
  - mailer.go: delivery
*/
package report

import (
	"context"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/studyon/billing-engine/billing"
)

// =============================================================================
// TEMPLATES
// =============================================================================

var salesTmpl = template.Must(template.New("sales").Parse(
	`Sales report for {{.Month}}

{{- range .Rows}}
{{printf "%-40s" .Title}} {{printf "%-6s" .Type}} sold {{printf "%4d" .Count}}  total {{.Total}}
{{- end}}
{{- if not .Rows}}
No sales this month.
{{- end}}

Total value moved: {{.TotalValue}}
Total payments:    {{.TotalPayments}}
`))

var expiryTmpl = template.Must(template.New("expiry").Parse(
	`Hello,

Your access to the following rented courses is about to end:
{{range .Rentals}}
  - {{.CourseTitle}} (until {{.ValidUntil.Format "2006-01-02 15:04"}})
{{end}}
Renew the rental to keep access.

Study-On billing
`))

// =============================================================================
// REPORTER
// =============================================================================

// Reporter produces and mails the periodic reports.
type Reporter struct {
	Ledger billing.Ledger
	Mailer Mailer
	Log    zerolog.Logger

	// AnalyticsEmail receives the monthly sales report.
	AnalyticsEmail string
}

// SalesReport is the rendered-model of one monthly report.
type SalesReport struct {
	Month         string
	Rows          []billing.CourseSales
	TotalValue    decimal.Decimal
	TotalPayments decimal.Decimal
}

// BuildMonthlySales assembles the sales report for the calendar month
// containing ref. The window is [first of month, first of next month).
func (r *Reporter) BuildMonthlySales(ctx context.Context, ref time.Time) (*SalesReport, error) {
	ref = ref.UTC()
	from := time.Date(ref.Year(), ref.Month(), 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 1, 0)

	rows, err := r.Ledger.AggregateByCourse(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("aggregate sales: %w", err)
	}
	total, err := r.Ledger.SumValue(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("sum value: %w", err)
	}
	payments, err := r.Ledger.SumPayments(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("sum payments: %w", err)
	}

	return &SalesReport{
		Month:         from.Format("January 2006"),
		Rows:          rows,
		TotalValue:    total,
		TotalPayments: payments,
	}, nil
}

// SendMonthlySales builds and mails the report for ref's month.
func (r *Reporter) SendMonthlySales(ctx context.Context, ref time.Time) error {
	rep, err := r.BuildMonthlySales(ctx, ref)
	if err != nil {
		return err
	}

	var body strings.Builder
	if err := salesTmpl.Execute(&body, rep); err != nil {
		return fmt.Errorf("render sales report: %w", err)
	}

	subject := "Sales report " + rep.Month
	if err := r.Mailer.Send(r.AnalyticsEmail, subject, body.String()); err != nil {
		return err
	}
	r.Log.Info().
		Str("month", rep.Month).
		Int("courses", len(rep.Rows)).
		Str("total", rep.TotalValue.String()).
		Msg("monthly sales report sent")
	return nil
}

// SendExpiryNotices mails every user whose current rental expires exactly
// lead from asOf (date granularity). Rentals of the same user are grouped
// into one message. Delivery failures are logged and do not stop the rest.
func (r *Reporter) SendExpiryNotices(ctx context.Context, asOf time.Time, lead time.Duration) error {
	rentals, err := r.Ledger.FindExpiringRentals(ctx, asOf, lead)
	if err != nil {
		return fmt.Errorf("find expiring rentals: %w", err)
	}
	if len(rentals) == 0 {
		return nil
	}

	// Group per recipient, preserving query order.
	byEmail := make(map[string][]billing.ExpiringRental)
	var order []string
	for _, rental := range rentals {
		if _, seen := byEmail[rental.Email]; !seen {
			order = append(order, rental.Email)
		}
		byEmail[rental.Email] = append(byEmail[rental.Email], rental)
	}

	sent := 0
	for _, email := range order {
		var body strings.Builder
		if err := expiryTmpl.Execute(&body, map[string]any{"Rentals": byEmail[email]}); err != nil {
			return fmt.Errorf("render expiry notice: %w", err)
		}
		if err := r.Mailer.Send(email, "Your course rental is expiring", body.String()); err != nil {
			r.Log.Error().Err(err).Str("email", email).Msg("expiry notice delivery failed")
			continue
		}
		sent++
	}

	r.Log.Info().
		Int("recipients", len(order)).
		Int("sent", sent).
		Msg("rental expiry notices processed")
	return nil
}
