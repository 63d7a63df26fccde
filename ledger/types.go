/*
Package ledger provides the municipal levy ledger and payment-allocation engine.

PURPOSE:
  This package contains the domain types and algorithms for tracking what
  taxable subjects (market stalls, registered businesses, financial
  institutions) owe the municipality, recording payments collected by field
  agents, and computing balances, arrears, and collector accountability.

KEY CONCEPTS IN THIS FILE (types.go):
  - Subject: A taxable subject, monthly-tracked (stalls) or lump-annual
    (businesses, financial institutions)
  - AnnualLevy: What one subject owes for one fiscal year
  - MonthlyPayment / LumpPayment: The two payment shapes
  - Ticket: A one-off daily market fee for itinerant vendors
  - Collector: A field agent authorized to post payments

DESIGN PRINCIPLES:
  1. Precision: Uses decimal.Decimal for money, fixed 2-decimal scale
  2. Type Safety: Strong typing for IDs prevents mixing subject/collector IDs
  3. Purity: Balance calculation is a function of persisted rows plus an
     explicit as-of date; there is no cached balance field to drift
  4. Atomicity: Every posting fully succeeds or leaves the ledger unchanged

SEE ALSO:
  - store.go: Persistence contracts and uniqueness invariants
  - allocate.go: Arrears gate and sequential monthly allocation
  - balance.go: As-of-date due/paid/remaining computation
  - guard.go: Collector authorization checks
*/
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type SubjectID string
type LevyID string
type CollectorID string
type TicketID string
type ZoneID string

// =============================================================================
// MONEY - decimal with a fixed 2-decimal scale (FCFA)
// =============================================================================

// MoneyScale is the fixed scale for all monetary amounts.
const MoneyScale = 2

// NewMoney builds an amount from major and minor units, e.g. NewMoney(25000, 0).
func NewMoney(units int64, cents int64) decimal.Decimal {
	return decimal.NewFromInt(units).Add(decimal.New(cents, -MoneyScale))
}

// MustMoney parses a decimal string, panicking on malformed input.
// Intended for constants and tests, not request parsing.
func MustMoney(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic("ledger: bad money literal: " + s)
	}
	return d.Round(MoneyScale)
}

// ValidAmount reports whether d is a positive amount at money scale.
// Amounts with sub-cent precision are malformed, not rounded.
func ValidAmount(d decimal.Decimal) bool {
	return d.IsPositive() && d.Equal(d.Round(MoneyScale))
}

// ValidDue reports whether d is a non-negative amount at money scale.
// Due amounts may be zero: setting a lump levy back to zero un-configures it.
func ValidDue(d decimal.Decimal) bool {
	return !d.IsNegative() && d.Equal(d.Round(MoneyScale))
}

// =============================================================================
// SUBJECT - Polymorphic over stalls, businesses and institutions
// =============================================================================

type SubjectKind string

const (
	KindStall       SubjectKind = "stall"       // market stall/shop, fixed monthly rate
	KindBusiness    SubjectKind = "business"    // registered economic actor
	KindInstitution SubjectKind = "institution" // financial institution
)

// Tracking determines how a subject's annual levy is collected.
type Tracking string

const (
	TrackMonthly Tracking = "monthly" // twelve installments, sequential fill
	TrackLump    Tracking = "lump"    // one annual total, event-based payments
)

// Subject is a taxable subject. One struct covers all three kinds; the
// allocation and balance logic branch on Tracking, never on Kind.
type Subject struct {
	ID   SubjectID
	Name string
	Kind SubjectKind

	// Zone locates stalls for collection rounds; empty for lump subjects.
	Zone ZoneID

	// MonthlyRate applies to stalls only.
	MonthlyRate decimal.Decimal

	// AnnualOverride, when set, replaces MonthlyRate x 12 as the annual due
	// (some stalls have a negotiated annual price).
	AnnualOverride *decimal.Decimal

	// Active is false for soft-deactivated subjects. Historical ledger rows
	// keep referencing them, so subjects are never hard-deleted.
	Active bool

	CreatedAt time.Time
}

// Tracking returns how this subject's levies are collected.
func (s Subject) Tracking() Tracking {
	if s.Kind == KindStall {
		return TrackMonthly
	}
	return TrackLump
}

// AnnualDue computes the levy due for a stall year. Lump subjects start at
// zero until an administrator sets the amount explicitly.
func (s Subject) AnnualDue() decimal.Decimal {
	if s.Tracking() == TrackLump {
		return decimal.Zero
	}
	if s.AnnualOverride != nil {
		return *s.AnnualOverride
	}
	return s.MonthlyRate.Mul(decimal.NewFromInt(monthsPerYear))
}

const monthsPerYear = 12

// ValidOverride reports whether a negotiated annual override is collectable.
// Sequential fill caps each month at MonthlyRate, so an override above
// MonthlyRate x 12 would leave a tail no posting can ever reach, keeping the
// year in arrears forever. Such overrides are rejected at registration.
func (s Subject) ValidOverride() bool {
	if s.AnnualOverride == nil {
		return true
	}
	return !s.AnnualOverride.GreaterThan(s.MonthlyRate.Mul(decimal.NewFromInt(monthsPerYear)))
}

// =============================================================================
// ANNUAL LEVY - One row per (subject, fiscal year)
// =============================================================================

// AnnualLevy records what a subject owes for one year.
// INVARIANT: unique per (subject, year), enforced at the storage layer.
type AnnualLevy struct {
	ID        LevyID
	SubjectID SubjectID
	Year      int
	AmountDue decimal.Decimal
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Configured reports whether an administrator has set the due amount.
// Lump-subject levies are created at zero and block postings until set.
func (l AnnualLevy) Configured() bool {
	return l.AmountDue.IsPositive()
}

// =============================================================================
// PAYMENTS
// =============================================================================

// MonthlyPayment is the running total paid into one month of a levy.
// INVARIANTS:
//   - unique per (levy, month), enforced at the storage layer
//   - AmountPaid is monotonically non-decreasing (atomic increments only)
type MonthlyPayment struct {
	LevyID      LevyID
	Month       int // 1..12
	AmountPaid  decimal.Decimal
	PaidAt      time.Time // last payment touching this month
	CollectorID CollectorID
	Note        string
}

// LumpPayment is a single payment event against a lump-annual levy.
// Multiple rows per levy; the sum must not exceed the levy's due amount
// (enforced at posting time by the allocation engine).
type LumpPayment struct {
	ID          string
	LevyID      LevyID
	Amount      decimal.Decimal
	PaidAt      time.Time
	CollectorID CollectorID
	Note        string
}

// Ticket is a standalone daily fee charged to an itinerant vendor without a
// fixed stall. No relationship to AnnualLevy; immutable once created.
type Ticket struct {
	ID          TicketID
	Date        Date
	Zone        ZoneID
	SubjectID   SubjectID // optional: empty when the vendor is unregistered
	VendorName  string
	VendorPhone string
	Amount      decimal.Decimal
	CollectorID CollectorID
	Note        string
	CreatedAt   time.Time
}

// =============================================================================
// COLLECTOR - Field agent posting payments
// =============================================================================

type CollectorStatus string

const (
	CollectorActive    CollectorStatus = "active"
	CollectorInactive  CollectorStatus = "inactive"
	CollectorSuspended CollectorStatus = "suspended"
)

// Collector is an agent authorized to record payments. Zones gate stall
// postings; Subjects gates business/institution postings.
type Collector struct {
	ID       CollectorID
	Name     string
	Status   CollectorStatus
	Zones    map[ZoneID]bool
	Subjects map[SubjectID]bool
}

// AssignedToZone reports whether the collector covers a zone.
func (c Collector) AssignedToZone(z ZoneID) bool { return c.Zones[z] }

// AssignedToSubject reports whether a lump subject is in the collector's set.
func (c Collector) AssignedToSubject(id SubjectID) bool { return c.Subjects[id] }
