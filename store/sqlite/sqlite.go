/*
Package sqlite provides a SQLite-backed implementation of ledger.Store.

PURPOSE:
  Production persistence for the levy ledger. In production the same
  patterns apply to PostgreSQL - only minor SQL dialect differences.

UNIQUENESS INVARIANTS (enforced here, not in application code):
  levies:           UNIQUE(subject_id, year)
  monthly_payments: PRIMARY KEY(levy_id, month)
  These are the primary defense against double-booking when several field
  agents post concurrently.

ATOMIC INCREMENT:
  UpsertMonthlyPayment is one INSERT ... ON CONFLICT DO UPDATE statement
  that adds the delta in SQL. There is no read-then-write window, so two
  concurrent postings into the same (levy, month) both land.

MONEY REPRESENTATION:
  Amounts are stored as integer cents (fixed scale 2). Integer arithmetic
  keeps the in-database increment exact; decimals are reconstructed on
  read. Never floats.

CONCURRENCY:
  Uses sync.RWMutex to serialize writers on top of SQLite's own locking.
  A posting runs inside one transaction (gate check -> allocation ->
  commit) with rollback on error.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging): readers don't block,
  single writer at a time, better crash recovery.

USAGE:
  store, err := sqlite.New("./data/levy.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()
  engine := ledger.NewEngine(store)

SEE ALSO:
  - ledger/store.go:        Interface definition
  - ledger/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/kloto/levy-engine/ledger"
)

// Store implements ledger.Store using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store at the given path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Writers are serialized behind the store mutex; a single connection also
	// keeps ":memory:" databases from splitting across the pool.
	db.SetMaxOpenConns(1)

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
	-- Taxable subjects (stalls, businesses, financial institutions).
	-- Never hard-deleted: historical payment rows reference them.
	CREATE TABLE IF NOT EXISTS subjects (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		kind TEXT NOT NULL,
		zone TEXT NOT NULL DEFAULT '',
		monthly_rate_cents INTEGER NOT NULL DEFAULT 0,
		annual_override_cents INTEGER,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_subjects_zone ON subjects(zone);

	-- Field agents and their assignments
	CREATE TABLE IF NOT EXISTS collectors (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'active',
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS collector_zones (
		collector_id TEXT NOT NULL,
		zone TEXT NOT NULL,
		UNIQUE(collector_id, zone)
	);

	CREATE TABLE IF NOT EXISTS collector_subjects (
		collector_id TEXT NOT NULL,
		subject_id TEXT NOT NULL,
		UNIQUE(collector_id, subject_id)
	);

	-- CRITICAL: one levy per (subject, year)
	CREATE TABLE IF NOT EXISTS levies (
		id TEXT PRIMARY KEY,
		subject_id TEXT NOT NULL,
		year INTEGER NOT NULL,
		amount_due_cents INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		UNIQUE(subject_id, year)
	);

	CREATE INDEX IF NOT EXISTS idx_levies_subject_year
		ON levies(subject_id, year);

	-- CRITICAL: one running total per (levy, month); increments are atomic
	CREATE TABLE IF NOT EXISTS monthly_payments (
		levy_id TEXT NOT NULL,
		month INTEGER NOT NULL CHECK (month BETWEEN 1 AND 12),
		amount_paid_cents INTEGER NOT NULL DEFAULT 0,
		paid_at TEXT NOT NULL,
		collector_id TEXT NOT NULL,
		note TEXT,
		PRIMARY KEY (levy_id, month)
	);

	CREATE INDEX IF NOT EXISTS idx_monthly_payments_collector
		ON monthly_payments(collector_id, paid_at);

	-- One row per payment event against a lump-annual levy
	CREATE TABLE IF NOT EXISTS lump_payments (
		id TEXT PRIMARY KEY,
		levy_id TEXT NOT NULL,
		amount_cents INTEGER NOT NULL,
		paid_at TEXT NOT NULL,
		collector_id TEXT NOT NULL,
		note TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_lump_payments_levy ON lump_payments(levy_id);
	CREATE INDEX IF NOT EXISTS idx_lump_payments_collector
		ON lump_payments(collector_id, paid_at);

	-- Daily market fee tickets (no levy relationship, immutable)
	CREATE TABLE IF NOT EXISTS tickets (
		id TEXT PRIMARY KEY,
		date TEXT NOT NULL,
		zone TEXT NOT NULL,
		subject_id TEXT,
		vendor_name TEXT,
		vendor_phone TEXT,
		amount_cents INTEGER NOT NULL,
		collector_id TEXT NOT NULL,
		note TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_tickets_zone_date ON tickets(zone, date);
	CREATE INDEX IF NOT EXISTS idx_tickets_collector ON tickets(collector_id, date);
	`

	_, err := s.db.Exec(schema)
	return err
}

// dbtx is satisfied by both *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// MONEY CONVERSION - integer cents in SQL, decimals in the domain
// =============================================================================

func toCents(d decimal.Decimal) int64 {
	return d.Shift(ledger.MoneyScale).IntPart()
}

func fromCents(c int64) decimal.Decimal {
	return decimal.New(c, -ledger.MoneyScale)
}

// =============================================================================
// SUBJECTS
// =============================================================================

func (s *Store) SaveSubject(ctx context.Context, subject ledger.Subject) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveSubject(ctx, s.db, subject)
}

func (s *Store) saveSubject(ctx context.Context, db dbtx, subject ledger.Subject) error {
	var override *int64
	if subject.AnnualOverride != nil {
		c := toCents(*subject.AnnualOverride)
		override = &c
	}
	createdAt := subject.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	query := `
		INSERT INTO subjects (id, name, kind, zone, monthly_rate_cents, annual_override_cents, active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			kind = excluded.kind,
			zone = excluded.zone,
			monthly_rate_cents = excluded.monthly_rate_cents,
			annual_override_cents = excluded.annual_override_cents,
			active = excluded.active
	`
	_, err := db.ExecContext(ctx, query,
		subject.ID, subject.Name, subject.Kind, subject.Zone,
		toCents(subject.MonthlyRate), override, subject.Active,
		createdAt.UTC().Format(time.RFC3339),
	)
	return err
}

func (s *Store) GetSubject(ctx context.Context, id ledger.SubjectID) (ledger.Subject, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getSubject(ctx, s.db, id)
}

func (s *Store) getSubject(ctx context.Context, db dbtx, id ledger.SubjectID) (ledger.Subject, error) {
	row := db.QueryRowContext(ctx,
		`SELECT id, name, kind, zone, monthly_rate_cents, annual_override_cents, active, created_at
		 FROM subjects WHERE id = ?`, id)
	subject, err := scanSubject(row)
	if err == sql.ErrNoRows {
		return ledger.Subject{}, ledger.ErrSubjectNotFound
	}
	return subject, err
}

func (s *Store) ListSubjects(ctx context.Context) ([]ledger.Subject, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listSubjects(ctx, s.db)
}

func (s *Store) listSubjects(ctx context.Context, db dbtx) ([]ledger.Subject, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT id, name, kind, zone, monthly_rate_cents, annual_override_cents, active, created_at
		 FROM subjects ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subjects []ledger.Subject
	for rows.Next() {
		subject, err := scanSubject(rows)
		if err != nil {
			return nil, err
		}
		subjects = append(subjects, subject)
	}
	return subjects, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSubject(row rowScanner) (ledger.Subject, error) {
	var (
		subject   ledger.Subject
		rateCents int64
		override  sql.NullInt64
		createdAt string
	)
	err := row.Scan(&subject.ID, &subject.Name, &subject.Kind, &subject.Zone,
		&rateCents, &override, &subject.Active, &createdAt)
	if err != nil {
		return subject, err
	}
	subject.MonthlyRate = fromCents(rateCents)
	if override.Valid {
		d := fromCents(override.Int64)
		subject.AnnualOverride = &d
	}
	subject.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return subject, nil
}

// =============================================================================
// COLLECTORS
// =============================================================================

func (s *Store) SaveCollector(ctx context.Context, c ledger.Collector) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveCollector(ctx, s.db, c)
}

func (s *Store) saveCollector(ctx context.Context, db dbtx, c ledger.Collector) error {
	query := `
		INSERT INTO collectors (id, name, status, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			status = excluded.status
	`
	if _, err := db.ExecContext(ctx, query, c.ID, c.Name, c.Status,
		time.Now().UTC().Format(time.RFC3339)); err != nil {
		return err
	}

	// Assignments are replaced wholesale; they change through the admin
	// surface, not concurrently with postings.
	if _, err := db.ExecContext(ctx, "DELETE FROM collector_zones WHERE collector_id = ?", c.ID); err != nil {
		return err
	}
	for zone := range c.Zones {
		if _, err := db.ExecContext(ctx,
			"INSERT INTO collector_zones (collector_id, zone) VALUES (?, ?)", c.ID, zone); err != nil {
			return err
		}
	}
	if _, err := db.ExecContext(ctx, "DELETE FROM collector_subjects WHERE collector_id = ?", c.ID); err != nil {
		return err
	}
	for subjectID := range c.Subjects {
		if _, err := db.ExecContext(ctx,
			"INSERT INTO collector_subjects (collector_id, subject_id) VALUES (?, ?)", c.ID, subjectID); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) GetCollector(ctx context.Context, id ledger.CollectorID) (ledger.Collector, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getCollector(ctx, s.db, id)
}

func (s *Store) getCollector(ctx context.Context, db dbtx, id ledger.CollectorID) (ledger.Collector, error) {
	c := ledger.Collector{
		Zones:    make(map[ledger.ZoneID]bool),
		Subjects: make(map[ledger.SubjectID]bool),
	}

	err := db.QueryRowContext(ctx,
		"SELECT id, name, status FROM collectors WHERE id = ?", id,
	).Scan(&c.ID, &c.Name, &c.Status)
	if err == sql.ErrNoRows {
		return ledger.Collector{}, ledger.ErrCollectorNotFound
	}
	if err != nil {
		return ledger.Collector{}, err
	}

	zones, err := db.QueryContext(ctx,
		"SELECT zone FROM collector_zones WHERE collector_id = ?", id)
	if err != nil {
		return ledger.Collector{}, err
	}
	defer zones.Close()
	for zones.Next() {
		var z ledger.ZoneID
		if err := zones.Scan(&z); err != nil {
			return ledger.Collector{}, err
		}
		c.Zones[z] = true
	}
	if err := zones.Err(); err != nil {
		return ledger.Collector{}, err
	}

	subjects, err := db.QueryContext(ctx,
		"SELECT subject_id FROM collector_subjects WHERE collector_id = ?", id)
	if err != nil {
		return ledger.Collector{}, err
	}
	defer subjects.Close()
	for subjects.Next() {
		var sid ledger.SubjectID
		if err := subjects.Scan(&sid); err != nil {
			return ledger.Collector{}, err
		}
		c.Subjects[sid] = true
	}
	return c, subjects.Err()
}

// =============================================================================
// LEVIES
// =============================================================================

func (s *Store) EnsureLevy(ctx context.Context, subject ledger.Subject, year int) (ledger.AnnualLevy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ensureLevy(ctx, s.db, subject, year)
}

func (s *Store) ensureLevy(ctx context.Context, db dbtx, subject ledger.Subject, year int) (ledger.AnnualLevy, error) {
	levy, err := s.getLevy(ctx, db, subject.ID, year)
	if err == nil {
		return levy, nil
	}
	if err != ledger.ErrLevyNotFound {
		return ledger.AnnualLevy{}, err
	}

	now := time.Now()
	levy = ledger.AnnualLevy{
		ID:        ledger.LevyID(uuid.NewString()),
		SubjectID: subject.ID,
		Year:      year,
		AmountDue: subject.AnnualDue(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err = db.ExecContext(ctx,
		`INSERT INTO levies (id, subject_id, year, amount_due_cents, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		levy.ID, levy.SubjectID, levy.Year, toCents(levy.AmountDue),
		now.UTC().Format(time.RFC3339), now.UTC().Format(time.RFC3339))
	if err != nil {
		if isUniqueConstraintError(err) {
			// Lost a creation race; the winner's row is the levy.
			return s.getLevy(ctx, db, subject.ID, year)
		}
		return ledger.AnnualLevy{}, fmt.Errorf("%w: %v", ledger.ErrLedgerUnavailable, err)
	}
	return levy, nil
}

func (s *Store) GetLevy(ctx context.Context, subjectID ledger.SubjectID, year int) (ledger.AnnualLevy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getLevy(ctx, s.db, subjectID, year)
}

func (s *Store) getLevy(ctx context.Context, db dbtx, subjectID ledger.SubjectID, year int) (ledger.AnnualLevy, error) {
	row := db.QueryRowContext(ctx,
		`SELECT id, subject_id, year, amount_due_cents, created_at, updated_at
		 FROM levies WHERE subject_id = ? AND year = ?`, subjectID, year)
	levy, err := scanLevy(row)
	if err == sql.ErrNoRows {
		return ledger.AnnualLevy{}, ledger.ErrLevyNotFound
	}
	return levy, err
}

func (s *Store) ListLevies(ctx context.Context, subjectID ledger.SubjectID) ([]ledger.AnnualLevy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listLevies(ctx, s.db, subjectID)
}

func (s *Store) listLevies(ctx context.Context, db dbtx, subjectID ledger.SubjectID) ([]ledger.AnnualLevy, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT id, subject_id, year, amount_due_cents, created_at, updated_at
		 FROM levies WHERE subject_id = ? ORDER BY year ASC`, subjectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var levies []ledger.AnnualLevy
	for rows.Next() {
		levy, err := scanLevy(rows)
		if err != nil {
			return nil, err
		}
		levies = append(levies, levy)
	}
	return levies, rows.Err()
}

func scanLevy(row rowScanner) (ledger.AnnualLevy, error) {
	var (
		levy                 ledger.AnnualLevy
		dueCents             int64
		createdAt, updatedAt string
	)
	err := row.Scan(&levy.ID, &levy.SubjectID, &levy.Year, &dueCents, &createdAt, &updatedAt)
	if err != nil {
		return levy, err
	}
	levy.AmountDue = fromCents(dueCents)
	levy.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	levy.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return levy, nil
}

func (s *Store) SetLevyAmount(ctx context.Context, levyID ledger.LevyID, amount decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setLevyAmount(ctx, s.db, levyID, amount)
}

func (s *Store) setLevyAmount(ctx context.Context, db dbtx, levyID ledger.LevyID, amount decimal.Decimal) error {
	res, err := db.ExecContext(ctx,
		"UPDATE levies SET amount_due_cents = ?, updated_at = ? WHERE id = ?",
		toCents(amount), time.Now().UTC().Format(time.RFC3339), levyID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ledger.ErrLevyNotFound
	}
	return nil
}

// =============================================================================
// MONTHLY PAYMENTS
// =============================================================================

func (s *Store) GetMonthlyPayment(ctx context.Context, levyID ledger.LevyID, month int) (ledger.MonthlyPayment, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getMonthlyPayment(ctx, s.db, levyID, month)
}

func (s *Store) getMonthlyPayment(ctx context.Context, db dbtx, levyID ledger.LevyID, month int) (ledger.MonthlyPayment, bool, error) {
	row := db.QueryRowContext(ctx,
		`SELECT levy_id, month, amount_paid_cents, paid_at, collector_id, note
		 FROM monthly_payments WHERE levy_id = ? AND month = ?`, levyID, month)
	p, err := scanMonthlyPayment(row)
	if err == sql.ErrNoRows {
		return ledger.MonthlyPayment{}, false, nil
	}
	if err != nil {
		return ledger.MonthlyPayment{}, false, err
	}
	return p, true, nil
}

func (s *Store) ListMonthlyPayments(ctx context.Context, levyID ledger.LevyID) ([]ledger.MonthlyPayment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listMonthlyPayments(ctx, s.db, levyID)
}

func (s *Store) listMonthlyPayments(ctx context.Context, db dbtx, levyID ledger.LevyID) ([]ledger.MonthlyPayment, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT levy_id, month, amount_paid_cents, paid_at, collector_id, note
		 FROM monthly_payments WHERE levy_id = ? ORDER BY month ASC`, levyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var payments []ledger.MonthlyPayment
	for rows.Next() {
		p, err := scanMonthlyPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

func scanMonthlyPayment(row rowScanner) (ledger.MonthlyPayment, error) {
	var (
		p         ledger.MonthlyPayment
		paidCents int64
		paidAt    string
		note      sql.NullString
	)
	err := row.Scan(&p.LevyID, &p.Month, &paidCents, &paidAt, &p.CollectorID, &note)
	if err != nil {
		return p, err
	}
	p.AmountPaid = fromCents(paidCents)
	p.PaidAt, _ = time.Parse(time.RFC3339, paidAt)
	p.Note = note.String
	return p, nil
}

func (s *Store) UpsertMonthlyPayment(ctx context.Context, levyID ledger.LevyID, month int, delta decimal.Decimal, collector ledger.CollectorID, paidAt time.Time, note string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upsertMonthlyPayment(ctx, s.db, levyID, month, delta, collector, paidAt, note)
}

// upsertMonthlyPayment is the single atomic increment statement. The
// (levy, month) primary key absorbs creation races: the loser of a race
// takes the UPDATE branch and adds its delta instead of failing.
func (s *Store) upsertMonthlyPayment(ctx context.Context, db dbtx, levyID ledger.LevyID, month int, delta decimal.Decimal, collector ledger.CollectorID, paidAt time.Time, note string) error {
	if !ledger.ValidAmount(delta) {
		return ledger.ErrInvalidAmount
	}
	query := `
		INSERT INTO monthly_payments (levy_id, month, amount_paid_cents, paid_at, collector_id, note)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(levy_id, month) DO UPDATE SET
			amount_paid_cents = monthly_payments.amount_paid_cents + excluded.amount_paid_cents,
			paid_at = excluded.paid_at,
			collector_id = excluded.collector_id,
			note = excluded.note
	`
	_, err := db.ExecContext(ctx, query,
		levyID, month, toCents(delta),
		paidAt.UTC().Format(time.RFC3339), collector, nullString(note))
	if err != nil {
		return fmt.Errorf("%w: %v", ledger.ErrLedgerUnavailable, err)
	}
	return nil
}

// =============================================================================
// LUMP PAYMENTS
// =============================================================================

func (s *Store) AddLumpPayment(ctx context.Context, p ledger.LumpPayment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addLumpPayment(ctx, s.db, p)
}

func (s *Store) addLumpPayment(ctx context.Context, db dbtx, p ledger.LumpPayment) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO lump_payments (id, levy_id, amount_cents, paid_at, collector_id, note)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		p.ID, p.LevyID, toCents(p.Amount),
		p.PaidAt.UTC().Format(time.RFC3339), p.CollectorID, nullString(p.Note))
	return err
}

func (s *Store) ListLumpPayments(ctx context.Context, levyID ledger.LevyID) ([]ledger.LumpPayment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listLumpPayments(ctx, s.db, levyID)
}

func (s *Store) listLumpPayments(ctx context.Context, db dbtx, levyID ledger.LevyID) ([]ledger.LumpPayment, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT id, levy_id, amount_cents, paid_at, collector_id, note
		 FROM lump_payments WHERE levy_id = ? ORDER BY paid_at ASC`, levyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var payments []ledger.LumpPayment
	for rows.Next() {
		var (
			p      ledger.LumpPayment
			cents  int64
			paidAt string
			note   sql.NullString
		)
		if err := rows.Scan(&p.ID, &p.LevyID, &cents, &paidAt, &p.CollectorID, &note); err != nil {
			return nil, err
		}
		p.Amount = fromCents(cents)
		p.PaidAt, _ = time.Parse(time.RFC3339, paidAt)
		p.Note = note.String
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

// =============================================================================
// TICKETS
// =============================================================================

func (s *Store) CreateTicket(ctx context.Context, t ledger.Ticket) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createTicket(ctx, s.db, t)
}

func (s *Store) createTicket(ctx context.Context, db dbtx, t ledger.Ticket) error {
	createdAt := t.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := db.ExecContext(ctx,
		`INSERT INTO tickets (id, date, zone, subject_id, vendor_name, vendor_phone, amount_cents, collector_id, note, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Date.String(), t.Zone, nullString(string(t.SubjectID)),
		t.VendorName, t.VendorPhone, toCents(t.Amount), t.CollectorID,
		nullString(t.Note), createdAt.UTC().Format(time.RFC3339))
	return err
}

func (s *Store) ListTickets(ctx context.Context, zone ledger.ZoneID, from, to ledger.Date) ([]ledger.Ticket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listTickets(ctx, s.db, zone, from, to)
}

func (s *Store) listTickets(ctx context.Context, db dbtx, zone ledger.ZoneID, from, to ledger.Date) ([]ledger.Ticket, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT id, date, zone, subject_id, vendor_name, vendor_phone, amount_cents, collector_id, note, created_at
		 FROM tickets WHERE zone = ? AND date >= ? AND date <= ?
		 ORDER BY date ASC, created_at ASC`,
		zone, from.String(), to.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tickets []ledger.Ticket
	for rows.Next() {
		var (
			t                  ledger.Ticket
			dateStr, createdAt string
			subjectID, note    sql.NullString
			cents              int64
		)
		if err := rows.Scan(&t.ID, &dateStr, &t.Zone, &subjectID, &t.VendorName,
			&t.VendorPhone, &cents, &t.CollectorID, &note, &createdAt); err != nil {
			return nil, err
		}
		t.Date, _ = ledger.ParseDate(dateStr)
		t.SubjectID = ledger.SubjectID(subjectID.String)
		t.Note = note.String
		t.Amount = fromCents(cents)
		t.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		tickets = append(tickets, t)
	}
	return tickets, rows.Err()
}

// =============================================================================
// COLLECTOR TOTALS - Read-only aggregation, no side effects
// =============================================================================

func (s *Store) CollectorTotals(ctx context.Context, id ledger.CollectorID, from, to ledger.Date) (ledger.CollectorTotals, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collectorTotals(ctx, s.db, id, from, to)
}

func (s *Store) collectorTotals(ctx context.Context, db dbtx, id ledger.CollectorID, from, to ledger.Date) (ledger.CollectorTotals, error) {
	totals := ledger.CollectorTotals{CollectorID: id, From: from, To: to}
	start := from.StartOfDay().UTC().Format(time.RFC3339)
	end := to.EndOfDay().UTC().Format(time.RFC3339)

	var cents int64
	err := db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(amount_paid_cents), 0) FROM monthly_payments
		 WHERE collector_id = ? AND paid_at >= ? AND paid_at <= ?`,
		id, start, end).Scan(&cents)
	if err != nil {
		return totals, err
	}
	totals.Monthly = fromCents(cents)

	err = db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(amount_cents), 0) FROM lump_payments
		 WHERE collector_id = ? AND paid_at >= ? AND paid_at <= ?`,
		id, start, end).Scan(&cents)
	if err != nil {
		return totals, err
	}
	totals.Lump = fromCents(cents)

	err = db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(amount_cents), 0) FROM tickets
		 WHERE collector_id = ? AND date >= ? AND date <= ?`,
		id, from.String(), to.String()).Scan(&cents)
	if err != nil {
		return totals, err
	}
	totals.Tickets = fromCents(cents)

	totals.Total = totals.Monthly.Add(totals.Lump).Add(totals.Tickets)
	return totals, nil
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// InTx executes fn within one database transaction. The writer mutex is
// held for the duration, serializing postings: the arrears gate and the
// resulting writes cannot interleave with another posting.
func (s *Store) InTx(ctx context.Context, fn func(tx ledger.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ledger.ErrLedgerUnavailable, err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx, parent: s}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// txStore routes every call through the open transaction.
type txStore struct {
	tx     *sql.Tx
	parent *Store
}

func (t *txStore) SaveSubject(ctx context.Context, subject ledger.Subject) error {
	return t.parent.saveSubject(ctx, t.tx, subject)
}
func (t *txStore) GetSubject(ctx context.Context, id ledger.SubjectID) (ledger.Subject, error) {
	return t.parent.getSubject(ctx, t.tx, id)
}
func (t *txStore) ListSubjects(ctx context.Context) ([]ledger.Subject, error) {
	return t.parent.listSubjects(ctx, t.tx)
}
func (t *txStore) SaveCollector(ctx context.Context, c ledger.Collector) error {
	return t.parent.saveCollector(ctx, t.tx, c)
}
func (t *txStore) GetCollector(ctx context.Context, id ledger.CollectorID) (ledger.Collector, error) {
	return t.parent.getCollector(ctx, t.tx, id)
}
func (t *txStore) EnsureLevy(ctx context.Context, subject ledger.Subject, year int) (ledger.AnnualLevy, error) {
	return t.parent.ensureLevy(ctx, t.tx, subject, year)
}
func (t *txStore) GetLevy(ctx context.Context, subjectID ledger.SubjectID, year int) (ledger.AnnualLevy, error) {
	return t.parent.getLevy(ctx, t.tx, subjectID, year)
}
func (t *txStore) ListLevies(ctx context.Context, subjectID ledger.SubjectID) ([]ledger.AnnualLevy, error) {
	return t.parent.listLevies(ctx, t.tx, subjectID)
}
func (t *txStore) SetLevyAmount(ctx context.Context, levyID ledger.LevyID, amount decimal.Decimal) error {
	return t.parent.setLevyAmount(ctx, t.tx, levyID, amount)
}
func (t *txStore) GetMonthlyPayment(ctx context.Context, levyID ledger.LevyID, month int) (ledger.MonthlyPayment, bool, error) {
	return t.parent.getMonthlyPayment(ctx, t.tx, levyID, month)
}
func (t *txStore) ListMonthlyPayments(ctx context.Context, levyID ledger.LevyID) ([]ledger.MonthlyPayment, error) {
	return t.parent.listMonthlyPayments(ctx, t.tx, levyID)
}
func (t *txStore) UpsertMonthlyPayment(ctx context.Context, levyID ledger.LevyID, month int, delta decimal.Decimal, collector ledger.CollectorID, paidAt time.Time, note string) error {
	return t.parent.upsertMonthlyPayment(ctx, t.tx, levyID, month, delta, collector, paidAt, note)
}
func (t *txStore) AddLumpPayment(ctx context.Context, p ledger.LumpPayment) error {
	return t.parent.addLumpPayment(ctx, t.tx, p)
}
func (t *txStore) ListLumpPayments(ctx context.Context, levyID ledger.LevyID) ([]ledger.LumpPayment, error) {
	return t.parent.listLumpPayments(ctx, t.tx, levyID)
}
func (t *txStore) CreateTicket(ctx context.Context, tk ledger.Ticket) error {
	return t.parent.createTicket(ctx, t.tx, tk)
}
func (t *txStore) ListTickets(ctx context.Context, zone ledger.ZoneID, from, to ledger.Date) ([]ledger.Ticket, error) {
	return t.parent.listTickets(ctx, t.tx, zone, from, to)
}
func (t *txStore) CollectorTotals(ctx context.Context, id ledger.CollectorID, from, to ledger.Date) (ledger.CollectorTotals, error) {
	return t.parent.collectorTotals(ctx, t.tx, id, from, to)
}

// Nested transactions just join the enclosing one.
func (t *txStore) InTx(ctx context.Context, fn func(tx ledger.Store) error) error {
	return fn(t)
}

// =============================================================================
// HELPERS
// =============================================================================

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key"))
}
