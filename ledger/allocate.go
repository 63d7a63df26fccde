/*
allocate.go - Payment allocation engine

PURPOSE:
  Turns a single amount handed over by a field agent into one or more
  persisted ledger rows, enforcing the business rules:

  ARREARS GATE (all subjects):
    A posting against year Y is rejected while any earlier year still has a
    positive remaining balance. Oldest debt first; subjects cannot skip
    ahead to a convenient recent period.

  MONTHLY SEQUENTIAL ALLOCATION (stalls):
    The amount is walked through months 1..12 in order, filling each month
    up to the monthly rate before moving on. An amount larger than the
    levy's remaining annual capacity is rejected up front - never truncated,
    never silently dropped.

  LUMP POSTING (businesses, institutions):
    One row per payment event. Rejected while the levy is unconfigured
    (due amount still zero) or when the amount would overpay.

ATOMICITY:
  All functions here run inside a store transaction (Engine wraps them in
  InTx). A rejection at any point rolls back; the ledger is left
  byte-for-byte unchanged.

SEE ALSO:
  - balance.go: Full-year remaining used by the gate
  - engine.go:  Validation, authorization and transaction wrapping
*/
package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// ARREARS GATE
// =============================================================================

// checkArrears rejects a posting against year when an earlier levy year has
// a positive remaining balance, identifying the oldest unpaid year.
func checkArrears(ctx context.Context, tx Store, subject Subject, year int) error {
	levies, err := tx.ListLevies(ctx, subject.ID)
	if err != nil {
		return err
	}
	for _, levy := range levies { // ascending by year
		if levy.Year >= year {
			break
		}
		paid, err := paidOnLevy(ctx, tx, subject, levy)
		if err != nil {
			return err
		}
		if remaining := fullYearRemaining(levy, paid); remaining.IsPositive() {
			return &ArrearsError{SubjectID: subject.ID, Year: levy.Year, Remaining: remaining}
		}
	}
	return nil
}

// =============================================================================
// MONTHLY SEQUENTIAL ALLOCATION
// =============================================================================

// allocateMonthly distributes amount across the levy's months in order and
// returns the months that received an allocation plus the levy's new
// full-year remaining balance.
func allocateMonthly(ctx context.Context, tx Store, subject Subject, levy AnnualLevy, amount decimal.Decimal, collector CollectorID, paidAt time.Time, note string) ([]int, decimal.Decimal, error) {
	rate := subject.MonthlyRate

	// Snapshot what each month has absorbed so far.
	existing := make(map[int]decimal.Decimal)
	payments, err := tx.ListMonthlyPayments(ctx, levy.ID)
	if err != nil {
		return nil, decimal.Zero, err
	}
	paidBefore := decimal.Zero
	for _, p := range payments {
		existing[p.Month] = p.AmountPaid
		paidBefore = paidBefore.Add(p.AmountPaid)
	}

	// Capacity check up front: the walk must never run out of months with
	// funds left over.
	capacity := decimal.Zero
	for month := 1; month <= monthsPerYear; month++ {
		capacity = capacity.Add(clampZero(rate.Sub(existing[month])))
	}
	// An annual override below rate x 12 caps capacity at the actual due.
	if annual := fullYearRemaining(levy, paidBefore); capacity.GreaterThan(annual) {
		capacity = annual
	}
	if amount.GreaterThan(capacity) {
		return nil, decimal.Zero, &CapacityError{LevyID: levy.ID, Requested: amount, Capacity: capacity}
	}

	var allocated []int
	remaining := amount
	for month := 1; month <= monthsPerYear && remaining.IsPositive(); month++ {
		owed := clampZero(rate.Sub(existing[month]))
		if owed.IsZero() {
			continue // month fully paid
		}
		take := decimal.Min(remaining, owed)
		if err := tx.UpsertMonthlyPayment(ctx, levy.ID, month, take, collector, paidAt, note); err != nil {
			return nil, decimal.Zero, err
		}
		allocated = append(allocated, month)
		remaining = remaining.Sub(take)
	}

	newRemaining := fullYearRemaining(levy, paidBefore.Add(amount))
	return allocated, newRemaining, nil
}

// =============================================================================
// LUMP POSTING
// =============================================================================

// postLump records one payment event against a lump-annual levy and returns
// the new remaining balance.
func postLump(ctx context.Context, tx Store, levy AnnualLevy, p LumpPayment) (decimal.Decimal, error) {
	if !levy.Configured() {
		return decimal.Zero, ErrLevyNotConfigured
	}

	payments, err := tx.ListLumpPayments(ctx, levy.ID)
	if err != nil {
		return decimal.Zero, err
	}
	paid := decimal.Zero
	for _, existing := range payments {
		paid = paid.Add(existing.Amount)
	}

	remaining := fullYearRemaining(levy, paid)
	if p.Amount.GreaterThan(remaining) {
		return decimal.Zero, &BalanceExceededError{LevyID: levy.ID, Requested: p.Amount, Remaining: remaining}
	}

	if err := tx.AddLumpPayment(ctx, p); err != nil {
		return decimal.Zero, err
	}
	return remaining.Sub(p.Amount), nil
}
