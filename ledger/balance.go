/*
balance.go - As-of-date balance calculation

PURPOSE:
  Computes the financial state of a subject without mutating anything.
  Answers "how much is due today, how much is paid, what remains?" for
  partially-elapsed fiscal years.

KEY INSIGHT:
  Due-to-date depends on the as-of date, not only on the levy:
    - a prior year is due in full
    - the current year is due pro rata: monthly rate x elapsed months
      (1-indexed, the current month counts as elapsed)
    - a future year is not yet due
  Lump-annual subjects owe the full configured amount for any year that has
  started.

PURITY:
  Every function here is a pure function of persisted rows and an explicit
  as-of date. Balances are never cached in mutable fields, so stored "due"
  snapshots cannot drift from actual payment history.

EXAMPLE:
  Stall, monthly rate 25 000, as of March 15:
    due_to_date = 25 000 x 3 = 75 000

SEE ALSO:
  - allocate.go: Uses full-year remaining for the arrears gate
  - engine.go:  GetBalance assembles a Summary
*/
package ledger

import (
	"context"

	"github.com/shopspring/decimal"
)

// =============================================================================
// YEAR BALANCE - State of one levy as of a date
// =============================================================================

type YearBalance struct {
	Year      int
	AmountDue decimal.Decimal // full-year due
	DueToDate decimal.Decimal // portion due as of the date
	Paid      decimal.Decimal
	Remaining decimal.Decimal // max(0, DueToDate - Paid)
}

// Summary is the complete as-of-date state of a subject.
type Summary struct {
	SubjectID SubjectID
	AsOf      Date

	Years []YearBalance // ascending by year

	// Arrears aggregates remaining across years strictly before the as-of
	// year, using the full-year rule.
	Arrears       decimal.Decimal
	ArrearsByYear map[int]decimal.Decimal

	DueToDate      decimal.Decimal // arrears + as-of year's due-to-date
	TotalPaid      decimal.Decimal
	TotalRemaining decimal.Decimal // sum of per-year remainders
}

// =============================================================================
// PER-YEAR RULES
// =============================================================================

// dueToDate applies the elapsed-time rule for one levy year.
func dueToDate(subject Subject, levy AnnualLevy, asOf Date) decimal.Decimal {
	switch {
	case levy.Year > asOf.Year():
		return decimal.Zero
	case levy.Year < asOf.Year():
		return levy.AmountDue
	}
	// As-of year. Lump subjects owe the full annual amount once the year
	// has started; monthly subjects owe rate x elapsed months.
	if subject.Tracking() == TrackLump {
		return levy.AmountDue
	}
	elapsed := subject.MonthlyRate.Mul(decimal.NewFromInt(int64(asOf.ElapsedMonths())))
	// An annual override caps the pro-rata amount.
	if elapsed.GreaterThan(levy.AmountDue) {
		return levy.AmountDue
	}
	return elapsed
}

func yearBalance(subject Subject, levy AnnualLevy, paid decimal.Decimal, asOf Date) YearBalance {
	due := dueToDate(subject, levy, asOf)
	return YearBalance{
		Year:      levy.Year,
		AmountDue: levy.AmountDue,
		DueToDate: due,
		Paid:      paid,
		Remaining: clampZero(due.Sub(paid)),
	}
}

// fullYearRemaining is the arrears-gate rule: the whole year's due minus
// everything paid, regardless of the as-of date.
func fullYearRemaining(levy AnnualLevy, paid decimal.Decimal) decimal.Decimal {
	return clampZero(levy.AmountDue.Sub(paid))
}

func clampZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}

// =============================================================================
// PAID SUMS
// =============================================================================

// paidOnLevy sums everything paid against a levy, whichever payment shape
// the subject uses.
func paidOnLevy(ctx context.Context, store Store, subject Subject, levy AnnualLevy) (decimal.Decimal, error) {
	if subject.Tracking() == TrackMonthly {
		payments, err := store.ListMonthlyPayments(ctx, levy.ID)
		if err != nil {
			return decimal.Zero, err
		}
		total := decimal.Zero
		for _, p := range payments {
			total = total.Add(p.AmountPaid)
		}
		return total, nil
	}

	payments, err := store.ListLumpPayments(ctx, levy.ID)
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, p := range payments {
		total = total.Add(p.Amount)
	}
	return total, nil
}

// =============================================================================
// SUMMARY ASSEMBLY
// =============================================================================

// ComputeSummary builds the as-of state from persisted levies and payments.
// For a monthly subject with no levy row yet for the as-of year, the year is
// synthesized from the monthly rate without creating anything (levy creation
// stays lazy; balance views must not mutate).
func ComputeSummary(ctx context.Context, store Store, subject Subject, asOf Date) (Summary, error) {
	levies, err := store.ListLevies(ctx, subject.ID)
	if err != nil {
		return Summary{}, err
	}

	summary := Summary{
		SubjectID:     subject.ID,
		AsOf:          asOf,
		Arrears:       decimal.Zero,
		ArrearsByYear: make(map[int]decimal.Decimal),
		DueToDate:     decimal.Zero,
		TotalPaid:     decimal.Zero,
	}

	haveAsOfYear := false
	for _, levy := range levies {
		paid, err := paidOnLevy(ctx, store, subject, levy)
		if err != nil {
			return Summary{}, err
		}
		yb := yearBalance(subject, levy, paid, asOf)
		summary.Years = append(summary.Years, yb)
		summary.TotalPaid = summary.TotalPaid.Add(paid)

		switch {
		case levy.Year < asOf.Year():
			arrears := fullYearRemaining(levy, paid)
			if arrears.IsPositive() {
				summary.ArrearsByYear[levy.Year] = arrears
			}
			summary.Arrears = summary.Arrears.Add(arrears)
		case levy.Year == asOf.Year():
			haveAsOfYear = true
			summary.DueToDate = summary.DueToDate.Add(yb.DueToDate)
		}
	}

	if !haveAsOfYear && subject.Tracking() == TrackMonthly {
		phantom := AnnualLevy{SubjectID: subject.ID, Year: asOf.Year(), AmountDue: subject.AnnualDue()}
		yb := yearBalance(subject, phantom, decimal.Zero, asOf)
		summary.Years = append(summary.Years, yb)
		summary.DueToDate = summary.DueToDate.Add(yb.DueToDate)
	}

	summary.DueToDate = summary.DueToDate.Add(summary.Arrears)

	// Remaining is summed per year, not as due-minus-paid across years:
	// an overpaid prior year must not offset the current one.
	for _, yb := range summary.Years {
		summary.TotalRemaining = summary.TotalRemaining.Add(yb.Remaining)
	}
	return summary, nil
}
