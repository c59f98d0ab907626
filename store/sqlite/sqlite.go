/*
Package sqlite provides the SQLite-backed implementation of the billing
storage interfaces.

PURPOSE:
  Implements billing.Store and billing.TxStore (the transactional unit of
  work) on a single SQLite database. The same SQL shapes apply to
  PostgreSQL - only dialect differences (AccountForUpdate would become
  SELECT ... FOR UPDATE there).

APPEND-ONLY ENFORCEMENT:
  No UPDATE or DELETE statement touches the transactions table, ever.
  Courses are soft-deleted via the active flag so ledger rows keep their
  course reference.

KEY TABLES:
  accounts:      billing users (unique email, decimal balance as TEXT)
  courses:       catalog entries (unique code, type, cost, rent duration)
  transactions:  immutable ledger of payments and deposits

RANKED QUERIES:
  Ownership and rental-expiry lookups use ROW_NUMBER() OVER (PARTITION BY
  ... ORDER BY valid_until DESC) so that the latest rental payment per
  (user, course) decides access. One query per listing - no N+1.

CONCURRENCY:
  A sync.RWMutex serializes writers on top of SQLite's single-writer model,
  which makes WithTx's balance read-check-write race-free per account. WAL
  mode keeps readers unblocked.

USAGE:
  store, err := sqlite.New("./data/billing.db")
  ...
  engine := billing.NewEngine(store)

SEE ALSO:
  - billing/ledger.go: interface contracts
  - billing/store/memory.go: in-memory implementation for tests
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/studyon/billing-engine/billing"
)

// Store implements billing.TxStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Billing users
	CREATE TABLE IF NOT EXISTS accounts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		email TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		roles_json TEXT NOT NULL,
		balance TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	-- Course catalog (soft-deleted via active flag, never hard-deleted)
	CREATE TABLE IF NOT EXISTS courses (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		code TEXT NOT NULL UNIQUE,
		type TEXT NOT NULL,
		title TEXT NOT NULL,
		cost TEXT,
		rent_duration_seconds INTEGER,
		active INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Transactions (append-only ledger; no UPDATE/DELETE path exists)
	CREATE TABLE IF NOT EXISTS transactions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL REFERENCES accounts(id),
		course_id INTEGER REFERENCES courses(id),
		operation_type TEXT NOT NULL,
		value TEXT NOT NULL,
		created_at TEXT NOT NULL,
		valid_until TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_transactions_user
		ON transactions(user_id);
	CREATE INDEX IF NOT EXISTS idx_transactions_course
		ON transactions(course_id) WHERE course_id IS NOT NULL;
	CREATE INDEX IF NOT EXISTS idx_transactions_created_at
		ON transactions(created_at);

	-- Ownership ranking (hot path): latest valid_until per user+course
	CREATE INDEX IF NOT EXISTS idx_transactions_ownership
		ON transactions(user_id, course_id, valid_until DESC);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// LEDGER (billing.Ledger interface)
// =============================================================================

// Append adds a transaction to the ledger.
func (s *Store) Append(ctx context.Context, tx *billing.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.appendTx(ctx, s.db, tx)
}

type execQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) appendTx(ctx context.Context, db execQuerier, tx *billing.Transaction) error {
	rent := false
	if tx.CourseID != nil {
		var courseType, code string
		err := db.QueryRowContext(ctx,
			"SELECT type, code FROM courses WHERE id = ?", *tx.CourseID,
		).Scan(&courseType, &code)
		if err == sql.ErrNoRows {
			return billing.ErrCourseNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to resolve course: %w", err)
		}
		rent = billing.CourseType(courseType) == billing.CourseRent
		tx.CourseCode = code
	}
	if err := tx.Validate(rent); err != nil {
		return err
	}

	result, err := db.ExecContext(ctx, `
		INSERT INTO transactions (user_id, course_id, operation_type, value, created_at, valid_until)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		tx.UserID,
		nullInt64(tx.CourseID),
		tx.Type,
		tx.Value.String(),
		tx.CreatedAt.UTC().Format(time.RFC3339),
		nullTime(tx.ValidUntil),
	)
	if err != nil {
		if isForeignKeyError(err) {
			return billing.ErrAccountNotFound
		}
		return fmt.Errorf("failed to append transaction: %w", err)
	}

	tx.ID, _ = result.LastInsertId()
	return nil
}

// Filter returns the user's transactions matching the filter. No order is
// guaranteed beyond insertion order.
func (s *Store) Filter(ctx context.Context, f billing.TransactionFilter) ([]billing.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT t.id, t.user_id, t.course_id, t.operation_type, t.value, t.created_at, t.valid_until,
		       COALESCE(c.code, '')
		FROM transactions t
		LEFT JOIN courses c ON c.id = t.course_id
		WHERE t.user_id = ?
	`
	args := []any{f.UserID}

	if f.Type != "" {
		query += " AND t.operation_type = ?"
		args = append(args, f.Type)
	}
	if f.CourseID != nil {
		query += " AND t.course_id = ?"
		args = append(args, *f.CourseID)
	}
	if f.ExcludeExpired {
		asOf := f.AsOf
		if asOf.IsZero() {
			asOf = time.Now().UTC()
		}
		query += " AND (t.valid_until IS NULL OR t.valid_until >= ?)"
		args = append(args, asOf.UTC().Format(time.RFC3339))
	}

	return s.queryTransactions(ctx, query, args...)
}

// AggregateByCourse groups payments in [from, to) per course, ordered
// descending by total value.
func (s *Store) AggregateByCourse(ctx context.Context, from, to time.Time) ([]billing.CourseSales, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT c.title, c.type, COUNT(t.id), SUM(CAST(t.value AS REAL)) AS total
		FROM transactions t
		INNER JOIN courses c ON c.id = t.course_id
		WHERE t.operation_type = 'payment'
		  AND t.created_at >= ? AND t.created_at < ?
		GROUP BY c.id, c.title, c.type
		ORDER BY total DESC
	`,
		from.UTC().Format(time.RFC3339),
		to.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate sales: %w", err)
	}
	defer rows.Close()

	var stats []billing.CourseSales
	for rows.Next() {
		var (
			row   billing.CourseSales
			total float64
		)
		if err := rows.Scan(&row.Title, &row.Type, &row.Count, &total); err != nil {
			return nil, fmt.Errorf("failed to scan sales row: %w", err)
		}
		row.Total = decimal.NewFromFloat(total)
		stats = append(stats, row)
	}
	return stats, rows.Err()
}

// SumValue totals ALL transaction values in [from, to), deposits included.
func (s *Store) SumValue(ctx context.Context, from, to time.Time) (decimal.Decimal, error) {
	return s.sumWindow(ctx, from, to, "")
}

// SumPayments totals only payment values in [from, to).
func (s *Store) SumPayments(ctx context.Context, from, to time.Time) (decimal.Decimal, error) {
	return s.sumWindow(ctx, from, to, billing.OpPayment)
}

func (s *Store) sumWindow(ctx context.Context, from, to time.Time, opType billing.OperationType) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT COALESCE(SUM(CAST(value AS REAL)), 0)
		FROM transactions
		WHERE created_at >= ? AND created_at < ?
	`
	args := []any{from.UTC().Format(time.RFC3339), to.UTC().Format(time.RFC3339)}
	if opType != "" {
		query += " AND operation_type = ?"
		args = append(args, opType)
	}

	var total float64
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&total); err != nil {
		return decimal.Zero, fmt.Errorf("failed to sum transactions: %w", err)
	}
	return decimal.NewFromFloat(total), nil
}

// FindExpiringRentals returns the rank-1 rental row per (user, course) whose
// expiry date falls exactly on asOf+within.
func (s *Store) FindExpiringRentals(ctx context.Context, asOf time.Time, within time.Duration) ([]billing.ExpiringRental, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	targetDay := asOf.Add(within).UTC().Format("2006-01-02")

	rows, err := s.db.QueryContext(ctx, `
		SELECT title, email, valid_until FROM (
			SELECT c.title, a.email, t.valid_until,
			       ROW_NUMBER() OVER (PARTITION BY t.user_id, t.course_id ORDER BY t.valid_until DESC) AS rn
			FROM transactions t
			INNER JOIN courses c ON c.id = t.course_id
			INNER JOIN accounts a ON a.id = t.user_id
			WHERE c.type = 'rent'
			  AND t.operation_type = 'payment'
			  AND t.valid_until IS NOT NULL
		)
		WHERE rn = 1 AND DATE(valid_until) = ?
		ORDER BY valid_until
	`, targetDay)
	if err != nil {
		return nil, fmt.Errorf("failed to query expiring rentals: %w", err)
	}
	defer rows.Close()

	var result []billing.ExpiringRental
	for rows.Next() {
		var (
			row        billing.ExpiringRental
			validUntil string
		)
		if err := rows.Scan(&row.CourseTitle, &row.Email, &validUntil); err != nil {
			return nil, fmt.Errorf("failed to scan expiring rental: %w", err)
		}
		row.ValidUntil, _ = time.Parse(time.RFC3339, validUntil)
		result = append(result, row)
	}
	return result, rows.Err()
}

func (s *Store) queryTransactions(ctx context.Context, query string, args ...any) ([]billing.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var transactions []billing.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, tx)
	}
	return transactions, rows.Err()
}

func scanTransaction(rows *sql.Rows) (billing.Transaction, error) {
	var (
		tx         billing.Transaction
		courseID   sql.NullInt64
		value      string
		createdAt  string
		validUntil sql.NullString
	)

	err := rows.Scan(&tx.ID, &tx.UserID, &courseID, &tx.Type, &value, &createdAt, &validUntil, &tx.CourseCode)
	if err != nil {
		return tx, fmt.Errorf("failed to scan transaction: %w", err)
	}

	if courseID.Valid {
		id := courseID.Int64
		tx.CourseID = &id
	}
	tx.Value = mustDecimal(value)
	tx.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	if validUntil.Valid {
		t, _ := time.Parse(time.RFC3339, validUntil.String)
		tx.ValidUntil = &t
	}
	return tx, nil
}

// =============================================================================
// COURSES (billing.CourseStore interface)
// =============================================================================

// CreateCourse inserts a new catalog entry.
func (s *Store) CreateCourse(ctx context.Context, c *billing.Course) error {
	if err := c.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO courses (code, type, title, cost, rent_duration_seconds, active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		c.Code, c.Type, c.Title,
		nullCost(c),
		nullDuration(c.RentDuration),
		boolToInt(c.Active),
		now.Format(time.RFC3339), now.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return billing.ErrDuplicateCode
		}
		return fmt.Errorf("failed to create course: %w", err)
	}

	c.ID, _ = result.LastInsertId()
	c.CreatedAt = now
	c.UpdatedAt = now
	return nil
}

// UpdateCourse rewrites a catalog entry in place (identified by ID).
func (s *Store) UpdateCourse(ctx context.Context, c *billing.Course) error {
	if err := c.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	result, err := s.db.ExecContext(ctx, `
		UPDATE courses
		SET code = ?, type = ?, title = ?, cost = ?, rent_duration_seconds = ?, active = ?, updated_at = ?
		WHERE id = ?
	`,
		c.Code, c.Type, c.Title,
		nullCost(c),
		nullDuration(c.RentDuration),
		boolToInt(c.Active),
		now.Format(time.RFC3339),
		c.ID,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return billing.ErrDuplicateCode
		}
		return fmt.Errorf("failed to update course: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return billing.ErrCourseNotFound
	}
	c.UpdatedAt = now
	return nil
}

const courseColumns = "id, code, type, title, cost, rent_duration_seconds, active, created_at, updated_at"

// CourseByCode finds a course by its client-facing code.
func (s *Store) CourseByCode(ctx context.Context, code string) (*billing.Course, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		"SELECT "+courseColumns+" FROM courses WHERE code = ?", code)

	c, err := scanCourse(row.Scan)
	if err == sql.ErrNoRows {
		return nil, billing.ErrCourseNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load course: %w", err)
	}
	return c, nil
}

// ListCourses returns the catalog, optionally restricted to active entries.
func (s *Store) ListCourses(ctx context.Context, activeOnly bool) ([]billing.Course, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := "SELECT " + courseColumns + " FROM courses"
	if activeOnly {
		query += " WHERE active = 1"
	}
	query += " ORDER BY code"

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list courses: %w", err)
	}
	defer rows.Close()

	var courses []billing.Course
	for rows.Next() {
		c, err := scanCourse(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan course: %w", err)
		}
		courses = append(courses, *c)
	}
	return courses, rows.Err()
}

// DeactivateCourse soft-deletes a course. Ledger rows keep referencing it.
func (s *Store) DeactivateCourse(ctx context.Context, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.ExecContext(ctx,
		"UPDATE courses SET active = 0, updated_at = ? WHERE code = ?",
		time.Now().UTC().Format(time.RFC3339), code)
	if err != nil {
		return fmt.Errorf("failed to deactivate course: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return billing.ErrCourseNotFound
	}
	return nil
}

func scanCourse(scan func(dest ...any) error) (*billing.Course, error) {
	var (
		c         billing.Course
		cost      sql.NullString
		duration  sql.NullInt64
		active    int
		createdAt string
		updatedAt string
	)
	err := scan(&c.ID, &c.Code, &c.Type, &c.Title, &cost, &duration, &active, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	if cost.Valid {
		c.Cost = mustDecimal(cost.String)
	} else {
		c.Cost = decimal.Zero
	}
	if duration.Valid {
		c.RentDuration = time.Duration(duration.Int64) * time.Second
	}
	c.Active = active != 0
	c.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	c.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &c, nil
}

// =============================================================================
// ACCOUNTS (billing.AccountStore interface)
// =============================================================================

// CreateAccount inserts a new billing user.
func (s *Store) CreateAccount(ctx context.Context, a *billing.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	rolesJSON, _ := json.Marshal(a.Roles)

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (email, password_hash, roles_json, balance, created_at)
		VALUES (?, ?, ?, ?, ?)
	`,
		a.Email, a.PasswordHash, string(rolesJSON),
		a.Balance.String(),
		a.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return billing.ErrEmailTaken
		}
		return fmt.Errorf("failed to create account: %w", err)
	}

	a.ID, _ = result.LastInsertId()
	return nil
}

// AccountByID loads an account by its identifier.
func (s *Store) AccountByID(ctx context.Context, id int64) (*billing.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return scanAccountRow(s.db.QueryRowContext(ctx,
		"SELECT id, email, password_hash, roles_json, balance, created_at FROM accounts WHERE id = ?", id))
}

// AccountByEmail loads an account by email.
func (s *Store) AccountByEmail(ctx context.Context, email string) (*billing.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return scanAccountRow(s.db.QueryRowContext(ctx,
		"SELECT id, email, password_hash, roles_json, balance, created_at FROM accounts WHERE email = ?", email))
}

func scanAccountRow(row *sql.Row) (*billing.Account, error) {
	var (
		a         billing.Account
		rolesJSON string
		balance   string
		createdAt string
	)
	err := row.Scan(&a.ID, &a.Email, &a.PasswordHash, &rolesJSON, &balance, &createdAt)
	if err == sql.ErrNoRows {
		return nil, billing.ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan account: %w", err)
	}

	json.Unmarshal([]byte(rolesJSON), &a.Roles)
	a.Balance = mustDecimal(balance)
	a.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &a, nil
}

// =============================================================================
// OWNERSHIP (billing.OwnershipStore interface)
// =============================================================================

// ownershipSubquery ranks a user's payment rows per course by valid_until
// descending and keeps rank 1: the row that decides current access.
const ownershipSubquery = `
	SELECT course_id, valid_until FROM (
		SELECT t.course_id, t.valid_until,
		       ROW_NUMBER() OVER (PARTITION BY t.course_id ORDER BY t.valid_until DESC) AS rn
		FROM transactions t
		INNER JOIN courses oc ON oc.id = t.course_id
		WHERE t.user_id = ?
		  AND t.operation_type = 'payment'
		  AND t.created_at <= ?
		  AND (oc.type <> 'rent' OR t.valid_until > ?)
	) WHERE rn = 1
`

// OwnedCourses returns the active courses the user has access to at asOf.
// Single ranked query - the "my courses" hot path.
func (s *Store) OwnedCourses(ctx context.Context, userID int64, asOf time.Time) ([]billing.Course, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	at := asOf.UTC().Format(time.RFC3339)
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+prefixColumns("c", courseColumns)+`
		FROM courses c
		INNER JOIN (`+ownershipSubquery+`) o ON o.course_id = c.id
		WHERE c.active = 1
		ORDER BY c.code
	`, userID, at, at)
	if err != nil {
		return nil, fmt.Errorf("failed to query owned courses: %w", err)
	}
	defer rows.Close()

	var courses []billing.Course
	for rows.Next() {
		c, err := scanCourse(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan owned course: %w", err)
		}
		courses = append(courses, *c)
	}
	return courses, rows.Err()
}

// CatalogWithOwnership returns every active course annotated with the
// user's ownership state at asOf.
func (s *Store) CatalogWithOwnership(ctx context.Context, userID int64, asOf time.Time) ([]billing.OwnedCourse, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	at := asOf.UTC().Format(time.RFC3339)
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+prefixColumns("c", courseColumns)+`,
		       o.course_id IS NOT NULL AS owned,
		       o.valid_until
		FROM courses c
		LEFT JOIN (`+ownershipSubquery+`) o ON o.course_id = c.id
		WHERE c.active = 1
		ORDER BY c.code
	`, userID, at, at)
	if err != nil {
		return nil, fmt.Errorf("failed to query catalog ownership: %w", err)
	}
	defer rows.Close()

	var result []billing.OwnedCourse
	for rows.Next() {
		var (
			c          billing.Course
			cost       sql.NullString
			duration   sql.NullInt64
			active     int
			createdAt  string
			updatedAt  string
			owned      int
			validUntil sql.NullString
		)
		err := rows.Scan(&c.ID, &c.Code, &c.Type, &c.Title, &cost, &duration, &active,
			&createdAt, &updatedAt, &owned, &validUntil)
		if err != nil {
			return nil, fmt.Errorf("failed to scan catalog row: %w", err)
		}

		if cost.Valid {
			c.Cost = mustDecimal(cost.String)
		}
		if duration.Valid {
			c.RentDuration = time.Duration(duration.Int64) * time.Second
		}
		c.Active = active != 0
		c.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		c.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)

		row := billing.OwnedCourse{Course: c, Owned: owned != 0}
		if row.Owned && validUntil.Valid && c.Type == billing.CourseRent {
			t, _ := time.Parse(time.RFC3339, validUntil.String)
			row.OwnedUntil = &t
		}
		result = append(result, row)
	}
	return result, rows.Err()
}

// =============================================================================
// UNIT OF WORK (billing.TxStore interface)
// =============================================================================

// WithTx executes fn inside a database transaction, holding the store's
// write lock for the duration. The lock serializes every balance
// read-check-write per account, which is the SQLite equivalent of
// SELECT ... FOR UPDATE row locking. Any error from fn rolls back the
// whole unit - balance mutation and ledger write together.
func (s *Store) WithTx(ctx context.Context, fn func(uow billing.UnitOfWork) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&sqliteUnit{store: s, tx: sqlTx}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

type sqliteUnit struct {
	store *Store
	tx    *sql.Tx
}

func (u *sqliteUnit) AccountForUpdate(ctx context.Context, id int64) (*billing.Account, error) {
	return scanAccountRow(u.tx.QueryRowContext(ctx,
		"SELECT id, email, password_hash, roles_json, balance, created_at FROM accounts WHERE id = ?", id))
}

func (u *sqliteUnit) UpdateBalance(ctx context.Context, id int64, balance decimal.Decimal) error {
	result, err := u.tx.ExecContext(ctx,
		"UPDATE accounts SET balance = ? WHERE id = ?", balance.String(), id)
	if err != nil {
		return fmt.Errorf("failed to update balance: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return billing.ErrAccountNotFound
	}
	return nil
}

func (u *sqliteUnit) Append(ctx context.Context, tx *billing.Transaction) error {
	return u.store.appendTx(ctx, u.tx, tx)
}

// =============================================================================
// HELPERS
// =============================================================================

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339), Valid: true}
}

func nullCost(c *billing.Course) sql.NullString {
	if c.Type == billing.CourseFree {
		return sql.NullString{} // free courses carry no cost value
	}
	return sql.NullString{String: c.Cost.String(), Valid: true}
}

func nullDuration(d time.Duration) sql.NullInt64 {
	if d == 0 {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(d / time.Second), Valid: true}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func mustDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// prefixColumns turns "a, b, c" into "t.a, t.b, t.c".
func prefixColumns(table, columns string) string {
	parts := strings.Split(columns, ", ")
	for i, p := range parts {
		parts[i] = table + "." + p
	}
	return strings.Join(parts, ", ")
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func isForeignKeyError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}
