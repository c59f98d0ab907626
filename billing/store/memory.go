// Package store provides an in-memory billing.TxStore implementation,
// used by tests and for throwaway dev runs. The durable implementation
// lives in store/sqlite.
//
// Query semantics mirror the SQLite store exactly; where SQLite uses a
// window function to rank rental payments, this store groups in memory.
package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/studyon/billing-engine/billing"
)

// =============================================================================
// MEMORY STORE
// =============================================================================

type Memory struct {
	mu sync.RWMutex

	accounts     map[int64]*billing.Account
	accountEmail map[string]int64
	courses      map[int64]*billing.Course
	courseCode   map[string]int64
	transactions []billing.Transaction

	nextAccountID int64
	nextCourseID  int64
	nextTxID      int64
}

func NewMemory() *Memory {
	return &Memory{
		accounts:     make(map[int64]*billing.Account),
		accountEmail: make(map[string]int64),
		courses:      make(map[int64]*billing.Course),
		courseCode:   make(map[string]int64),
	}
}

// =============================================================================
// LEDGER
// =============================================================================

// Append adds a single transaction. Append-only.
func (m *Memory) Append(_ context.Context, tx *billing.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendLocked(tx)
}

func (m *Memory) appendLocked(tx *billing.Transaction) error {
	rent := false
	if tx.CourseID != nil {
		course, ok := m.courses[*tx.CourseID]
		if !ok {
			return billing.ErrCourseNotFound
		}
		rent = course.Type == billing.CourseRent
		tx.CourseCode = course.Code
	}
	if err := tx.Validate(rent); err != nil {
		return err
	}
	if _, ok := m.accounts[tx.UserID]; !ok {
		return billing.ErrAccountNotFound
	}

	m.nextTxID++
	tx.ID = m.nextTxID
	m.transactions = append(m.transactions, *tx)
	return nil
}

func (m *Memory) Filter(_ context.Context, f billing.TransactionFilter) ([]billing.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	asOf := f.AsOf
	if asOf.IsZero() {
		asOf = time.Now().UTC()
	}

	var result []billing.Transaction
	for _, tx := range m.transactions {
		if tx.UserID != f.UserID {
			continue
		}
		if f.Type != "" && tx.Type != f.Type {
			continue
		}
		if f.CourseID != nil && (tx.CourseID == nil || *tx.CourseID != *f.CourseID) {
			continue
		}
		if f.ExcludeExpired && tx.ValidUntil != nil && tx.ValidUntil.Before(asOf) {
			continue
		}
		result = append(result, tx)
	}
	return result, nil
}

func (m *Memory) AggregateByCourse(_ context.Context, from, to time.Time) ([]billing.CourseSales, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	grouped := make(map[int64]*billing.CourseSales)
	for _, tx := range m.transactions {
		if tx.Type != billing.OpPayment || tx.CourseID == nil {
			continue
		}
		if tx.CreatedAt.Before(from) || !tx.CreatedAt.Before(to) {
			continue
		}
		row, ok := grouped[*tx.CourseID]
		if !ok {
			course := m.courses[*tx.CourseID]
			row = &billing.CourseSales{Title: course.Title, Type: course.Type, Total: decimal.Zero}
			grouped[*tx.CourseID] = row
		}
		row.Count++
		row.Total = row.Total.Add(tx.Value)
	}

	result := make([]billing.CourseSales, 0, len(grouped))
	for _, row := range grouped {
		result = append(result, *row)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Total.GreaterThan(result[j].Total)
	})
	return result, nil
}

func (m *Memory) SumValue(_ context.Context, from, to time.Time) (decimal.Decimal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sumLocked(from, to, ""), nil
}

func (m *Memory) SumPayments(_ context.Context, from, to time.Time) (decimal.Decimal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sumLocked(from, to, billing.OpPayment), nil
}

func (m *Memory) sumLocked(from, to time.Time, opType billing.OperationType) decimal.Decimal {
	sum := decimal.Zero
	for _, tx := range m.transactions {
		if tx.CreatedAt.Before(from) || !tx.CreatedAt.Before(to) {
			continue
		}
		if opType != "" && tx.Type != opType {
			continue
		}
		sum = sum.Add(tx.Value)
	}
	return sum
}

func (m *Memory) FindExpiringRentals(_ context.Context, asOf time.Time, within time.Duration) ([]billing.ExpiringRental, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	// Most recent rental payment per (user, course): latest ValidUntil wins.
	type pair struct{ user, course int64 }
	latest := make(map[pair]*billing.Transaction)
	for i := range m.transactions {
		tx := &m.transactions[i]
		if tx.Type != billing.OpPayment || tx.CourseID == nil || tx.ValidUntil == nil {
			continue
		}
		if m.courses[*tx.CourseID].Type != billing.CourseRent {
			continue
		}
		k := pair{tx.UserID, *tx.CourseID}
		if cur, ok := latest[k]; !ok || tx.ValidUntil.After(*cur.ValidUntil) {
			latest[k] = tx
		}
	}

	target := asOf.Add(within).UTC()
	var result []billing.ExpiringRental
	for k, tx := range latest {
		vu := tx.ValidUntil.UTC()
		if vu.Year() != target.Year() || vu.YearDay() != target.YearDay() {
			continue
		}
		result = append(result, billing.ExpiringRental{
			CourseTitle: m.courses[k.course].Title,
			Email:       m.accounts[k.user].Email,
			ValidUntil:  *tx.ValidUntil,
		})
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].ValidUntil.Before(result[j].ValidUntil)
	})
	return result, nil
}

// =============================================================================
// COURSES
// =============================================================================

func (m *Memory) CreateCourse(_ context.Context, c *billing.Course) error {
	if err := c.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.courseCode[c.Code]; exists {
		return billing.ErrDuplicateCode
	}
	m.nextCourseID++
	c.ID = m.nextCourseID
	c.CreatedAt = time.Now().UTC()
	c.UpdatedAt = c.CreatedAt

	copied := *c
	m.courses[c.ID] = &copied
	m.courseCode[c.Code] = c.ID
	return nil
}

func (m *Memory) UpdateCourse(_ context.Context, c *billing.Course) error {
	if err := c.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.courses[c.ID]
	if !ok {
		return billing.ErrCourseNotFound
	}
	if other, exists := m.courseCode[c.Code]; exists && other != c.ID {
		return billing.ErrDuplicateCode
	}

	delete(m.courseCode, existing.Code)
	c.UpdatedAt = time.Now().UTC()
	copied := *c
	m.courses[c.ID] = &copied
	m.courseCode[c.Code] = c.ID
	return nil
}

func (m *Memory) CourseByCode(_ context.Context, code string) (*billing.Course, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.courseCode[code]
	if !ok {
		return nil, billing.ErrCourseNotFound
	}
	copied := *m.courses[id]
	return &copied, nil
}

func (m *Memory) ListCourses(_ context.Context, activeOnly bool) ([]billing.Course, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []billing.Course
	for _, c := range m.courses {
		if activeOnly && !c.Active {
			continue
		}
		result = append(result, *c)
	}
	sort.Slice(result, func(i, j int) bool {
		return strings.Compare(result[i].Code, result[j].Code) < 0
	})
	return result, nil
}

func (m *Memory) DeactivateCourse(_ context.Context, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.courseCode[code]
	if !ok {
		return billing.ErrCourseNotFound
	}
	m.courses[id].Active = false
	m.courses[id].UpdatedAt = time.Now().UTC()
	return nil
}

// =============================================================================
// ACCOUNTS
// =============================================================================

func (m *Memory) CreateAccount(_ context.Context, a *billing.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.accountEmail[a.Email]; exists {
		return billing.ErrEmailTaken
	}
	m.nextAccountID++
	a.ID = m.nextAccountID
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}

	copied := *a
	m.accounts[a.ID] = &copied
	m.accountEmail[a.Email] = a.ID
	return nil
}

func (m *Memory) AccountByID(_ context.Context, id int64) (*billing.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.accounts[id]
	if !ok {
		return nil, billing.ErrAccountNotFound
	}
	copied := *a
	return &copied, nil
}

func (m *Memory) AccountByEmail(_ context.Context, email string) (*billing.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.accountEmail[email]
	if !ok {
		return nil, billing.ErrAccountNotFound
	}
	copied := *m.accounts[id]
	return &copied, nil
}

// =============================================================================
// OWNERSHIP - In-memory equivalent of the ranked SQL query
// =============================================================================

// ownershipLocked computes, per course ID, the user's rank-1 access row.
// A nil map value marks permanent (buy/free) access.
func (m *Memory) ownershipLocked(userID int64, asOf time.Time) map[int64]*time.Time {
	owned := make(map[int64]*time.Time)
	for i := range m.transactions {
		tx := &m.transactions[i]
		if tx.UserID != userID || tx.Type != billing.OpPayment || tx.CourseID == nil {
			continue
		}
		if tx.CreatedAt.After(asOf) {
			continue
		}
		course := m.courses[*tx.CourseID]
		if course.Type != billing.CourseRent {
			owned[*tx.CourseID] = nil
			continue
		}
		if tx.ValidUntil == nil || !tx.ValidUntil.After(asOf) {
			continue
		}
		if cur, ok := owned[*tx.CourseID]; !ok || (cur != nil && tx.ValidUntil.After(*cur)) {
			until := *tx.ValidUntil
			owned[*tx.CourseID] = &until
		}
	}
	return owned
}

func (m *Memory) OwnedCourses(_ context.Context, userID int64, asOf time.Time) ([]billing.Course, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	owned := m.ownershipLocked(userID, asOf)
	var result []billing.Course
	for id := range owned {
		c := m.courses[id]
		if !c.Active {
			continue
		}
		result = append(result, *c)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Code < result[j].Code })
	return result, nil
}

func (m *Memory) CatalogWithOwnership(_ context.Context, userID int64, asOf time.Time) ([]billing.OwnedCourse, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	owned := m.ownershipLocked(userID, asOf)
	var result []billing.OwnedCourse
	for id, c := range m.courses {
		if !c.Active {
			continue
		}
		row := billing.OwnedCourse{Course: *c}
		if until, ok := owned[id]; ok {
			row.Owned = true
			row.OwnedUntil = until
		}
		result = append(result, row)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Code < result[j].Code })
	return result, nil
}

// =============================================================================
// UNIT OF WORK
// =============================================================================

// WithTx runs fn under the store's write lock with snapshot rollback:
// if fn fails, balances and the ledger are restored to their prior state.
func (m *Memory) WithTx(_ context.Context, fn func(uow billing.UnitOfWork) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	balances := make(map[int64]decimal.Decimal, len(m.accounts))
	for id, a := range m.accounts {
		balances[id] = a.Balance
	}
	txCount := len(m.transactions)
	nextTxID := m.nextTxID

	if err := fn(&memoryUnit{store: m}); err != nil {
		for id, bal := range balances {
			m.accounts[id].Balance = bal
		}
		m.transactions = m.transactions[:txCount]
		m.nextTxID = nextTxID
		return err
	}
	return nil
}

// memoryUnit operates on the already-locked store.
type memoryUnit struct {
	store *Memory
}

func (u *memoryUnit) AccountForUpdate(_ context.Context, id int64) (*billing.Account, error) {
	a, ok := u.store.accounts[id]
	if !ok {
		return nil, billing.ErrAccountNotFound
	}
	copied := *a
	return &copied, nil
}

func (u *memoryUnit) UpdateBalance(_ context.Context, id int64, balance decimal.Decimal) error {
	a, ok := u.store.accounts[id]
	if !ok {
		return billing.ErrAccountNotFound
	}
	a.Balance = balance
	return nil
}

func (u *memoryUnit) Append(_ context.Context, tx *billing.Transaction) error {
	return u.store.appendLocked(tx)
}
