package report_test

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studyon/billing-engine/billing"
	"github.com/studyon/billing-engine/billing/store"
	"github.com/studyon/billing-engine/report"
)

// =============================================================================
// TEST SETUP
// =============================================================================

type sentMail struct {
	to, subject, body string
}

type fakeMailer struct {
	sent []sentMail
}

func (m *fakeMailer) Send(to, subject, body string) error {
	m.sent = append(m.sent, sentMail{to, subject, body})
	return nil
}

func newTestReporter(t *testing.T) (*report.Reporter, *store.Memory, *fakeMailer) {
	t.Helper()
	mem := store.NewMemory()
	mailer := &fakeMailer{}
	r := &report.Reporter{
		Ledger:         mem,
		Mailer:         mailer,
		Log:            zerolog.Nop(),
		AnalyticsEmail: "analytics@example.com",
	}
	return r, mem, mailer
}

func seedSales(t *testing.T, mem *store.Memory) {
	t.Helper()
	ctx := context.Background()

	user := &billing.Account{Email: "u@example.com", PasswordHash: "x",
		Roles: []string{billing.RoleUser}, Balance: decimal.NewFromInt(1000)}
	require.NoError(t, mem.CreateAccount(ctx, user))

	algo := &billing.Course{Code: "algo", Type: billing.CourseBuy, Title: "Algorithms",
		Cost: decimal.NewFromInt(60), Active: true}
	require.NoError(t, mem.CreateCourse(ctx, algo))

	march := func(day, hour int) time.Time {
		return time.Date(2026, time.March, day, hour, 0, 0, 0, time.UTC)
	}

	require.NoError(t, mem.Append(ctx, &billing.Transaction{
		UserID: user.ID, Type: billing.OpDeposit,
		Value: decimal.NewFromInt(200), CreatedAt: march(1, 9),
	}))
	require.NoError(t, mem.Append(ctx, &billing.Transaction{
		UserID: user.ID, CourseID: &algo.ID, Type: billing.OpPayment,
		Value: decimal.NewFromInt(60), CreatedAt: march(2, 10),
	}))
	// April sale: outside the March window.
	require.NoError(t, mem.Append(ctx, &billing.Transaction{
		UserID: user.ID, CourseID: &algo.ID, Type: billing.OpPayment,
		Value: decimal.NewFromInt(60), CreatedAt: time.Date(2026, time.April, 2, 10, 0, 0, 0, time.UTC),
	}))
}

// =============================================================================
// MONTHLY SALES
// =============================================================================

func TestBuildMonthlySales_WindowsOneCalendarMonth(t *testing.T) {
	r, mem, _ := newTestReporter(t)
	seedSales(t, mem)

	rep, err := r.BuildMonthlySales(context.Background(), time.Date(2026, time.March, 20, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	assert.Equal(t, "March 2026", rep.Month)
	require.Len(t, rep.Rows, 1)
	assert.Equal(t, "Algorithms", rep.Rows[0].Title)
	assert.EqualValues(t, 1, rep.Rows[0].Count)
	assert.True(t, rep.TotalValue.Equal(decimal.NewFromInt(260)), "deposits count into total value")
	assert.True(t, rep.TotalPayments.Equal(decimal.NewFromInt(60)))
}

func TestSendMonthlySales_MailsAnalytics(t *testing.T) {
	r, mem, mailer := newTestReporter(t)
	seedSales(t, mem)

	err := r.SendMonthlySales(context.Background(), time.Date(2026, time.March, 20, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	require.Len(t, mailer.sent, 1)
	assert.Equal(t, "analytics@example.com", mailer.sent[0].to)
	assert.Contains(t, mailer.sent[0].subject, "March 2026")
	assert.Contains(t, mailer.sent[0].body, "Algorithms")
}

func TestSendMonthlySales_EmptyMonthStillSends(t *testing.T) {
	r, _, mailer := newTestReporter(t)

	err := r.SendMonthlySales(context.Background(), time.Date(2026, time.March, 20, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, mailer.sent, 1)
	assert.Contains(t, mailer.sent[0].body, "No sales this month")
}

// =============================================================================
// EXPIRY NOTICES
// =============================================================================

func TestSendExpiryNotices_GroupsPerRecipient(t *testing.T) {
	// GIVEN: One user with two rentals expiring on the target day, another
	//        user with one rental expiring later
	// WHEN: Sending notices with a 48h lead
	// THEN: Exactly one mail, listing both of the first user's courses

	r, mem, mailer := newTestReporter(t)
	ctx := context.Background()

	u1 := &billing.Account{Email: "a@example.com", PasswordHash: "x",
		Roles: []string{billing.RoleUser}, Balance: decimal.NewFromInt(100)}
	u2 := &billing.Account{Email: "b@example.com", PasswordHash: "x",
		Roles: []string{billing.RoleUser}, Balance: decimal.NewFromInt(100)}
	require.NoError(t, mem.CreateAccount(ctx, u1))
	require.NoError(t, mem.CreateAccount(ctx, u2))

	newRent := func(code, title string) *billing.Course {
		c := &billing.Course{Code: code, Type: billing.CourseRent, Title: title,
			Cost: decimal.NewFromInt(30), RentDuration: 7 * 24 * time.Hour, Active: true}
		require.NoError(t, mem.CreateCourse(ctx, c))
		return c
	}
	sql := newRent("sql", "SQL")
	k8s := newRent("k8s", "Kubernetes")

	march := func(day, hour int) time.Time {
		return time.Date(2026, time.March, day, hour, 0, 0, 0, time.UTC)
	}
	pay := func(u *billing.Account, c *billing.Course, at, until time.Time) {
		require.NoError(t, mem.Append(ctx, &billing.Transaction{
			UserID: u.ID, CourseID: &c.ID, Type: billing.OpPayment,
			Value: decimal.NewFromInt(30), CreatedAt: at, ValidUntil: &until,
		}))
	}

	pay(u1, sql, march(10, 10), march(17, 10))
	pay(u1, k8s, march(10, 12), march(17, 12))
	pay(u2, sql, march(13, 10), march(20, 10))

	err := r.SendExpiryNotices(ctx, march(15, 8), 48*time.Hour)
	require.NoError(t, err)

	require.Len(t, mailer.sent, 1)
	assert.Equal(t, "a@example.com", mailer.sent[0].to)
	assert.Contains(t, mailer.sent[0].body, "SQL")
	assert.Contains(t, mailer.sent[0].body, "Kubernetes")
}

func TestSendExpiryNotices_NothingExpiring_NoMail(t *testing.T) {
	r, _, mailer := newTestReporter(t)

	err := r.SendExpiryNotices(context.Background(), time.Now().UTC(), 48*time.Hour)
	require.NoError(t, err)
	assert.Empty(t, mailer.sent)
}
