/*
store.go - Persistence interface for the levy ledger

PURPOSE:
  Defines the interface between the engine and the database. The store
  enforces the two uniqueness invariants at the storage layer, not in
  application code:
    - one AnnualLevy per (subject, year)
    - one MonthlyPayment per (levy, month)
  This is the primary defense against double-booking under concurrent
  postings by multiple field agents.

ATOMIC INCREMENT:
  UpsertMonthlyPayment is the one operation that must be a single atomic
  statement (insert-or-increment), never read-then-write. Two concurrent
  postings into the same (levy, month) must both land; neither increment
  may be lost.

TRANSACTIONS:
  InTx wraps a posting (arrears gate -> allocation -> commit) in one
  serialized transaction. A rejected posting rolls back and leaves the
  ledger unchanged.

IMPLEMENTATIONS:
  - store/sqlite: production SQLite store
  - ledger/store: in-memory store for tests

SEE ALSO:
  - allocate.go: Runs entirely inside InTx
  - balance.go: Read-only consumer of levies and payments
*/
package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// STORE - Persistence contract
// =============================================================================

type Store interface {
	// Subjects and collectors. Subjects are soft-deactivated, never deleted;
	// historical payment rows keep referencing them.
	SaveSubject(ctx context.Context, s Subject) error
	GetSubject(ctx context.Context, id SubjectID) (Subject, error)
	ListSubjects(ctx context.Context) ([]Subject, error)
	SaveCollector(ctx context.Context, c Collector) error
	GetCollector(ctx context.Context, id CollectorID) (Collector, error)

	// EnsureLevy returns the levy for (subject, year), creating it lazily on
	// first use: stalls get MonthlyRate x 12 (or the annual override), lump
	// subjects get zero until an administrator sets the amount. Idempotent;
	// a creation race resolves to the existing row.
	EnsureLevy(ctx context.Context, subject Subject, year int) (AnnualLevy, error)

	GetLevy(ctx context.Context, subjectID SubjectID, year int) (AnnualLevy, error)

	// ListLevies returns all levies for a subject ordered by year ascending
	// (the arrears gate walks oldest first).
	ListLevies(ctx context.Context, subjectID SubjectID) ([]AnnualLevy, error)

	// SetLevyAmount is the administrator correction path. Not gated by
	// arrears; the levy keeps its payment history.
	SetLevyAmount(ctx context.Context, levyID LevyID, amount decimal.Decimal) error

	GetMonthlyPayment(ctx context.Context, levyID LevyID, month int) (MonthlyPayment, bool, error)
	ListMonthlyPayments(ctx context.Context, levyID LevyID) ([]MonthlyPayment, error)

	// UpsertMonthlyPayment atomically increments the (levy, month) row by
	// delta, creating it if absent. Single statement; no lost updates.
	UpsertMonthlyPayment(ctx context.Context, levyID LevyID, month int, delta decimal.Decimal, collector CollectorID, paidAt time.Time, note string) error

	AddLumpPayment(ctx context.Context, p LumpPayment) error
	ListLumpPayments(ctx context.Context, levyID LevyID) ([]LumpPayment, error)

	CreateTicket(ctx context.Context, t Ticket) error
	ListTickets(ctx context.Context, zone ZoneID, from, to Date) ([]Ticket, error)

	// CollectorTotals sums everything a collector posted in [from, to]
	// across monthly payments, lump payments and tickets.
	CollectorTotals(ctx context.Context, id CollectorID, from, to Date) (CollectorTotals, error)

	// InTx runs fn inside one transaction with rollback-on-error. The store
	// passed to fn observes a consistent snapshot; writers are serialized so
	// the arrears gate and the resulting writes cannot interleave with a
	// concurrent posting against the same subject.
	InTx(ctx context.Context, fn func(tx Store) error) error
}

// =============================================================================
// COLLECTOR TOTALS - Read-only aggregation result
// =============================================================================

// CollectorTotals is a per-agent aggregation over a date range.
type CollectorTotals struct {
	CollectorID CollectorID
	From, To    Date
	Total       decimal.Decimal
	// By-category breakdown: monthly installments, lump payments, tickets.
	Monthly decimal.Decimal
	Lump    decimal.Decimal
	Tickets decimal.Decimal
}
