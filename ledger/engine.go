/*
engine.go - Engine facade: the operations external collaborators call

PURPOSE:
  Ties the guard, the allocation engine and the balance calculator together
  behind the small set of operations the rest of the platform (collector
  dashboards, citizen account views, registration workflows) uses.

REQUEST FLOW (postings):
  1. Validate the amount at the boundary (positive, money scale)
  2. Resolve subject and collector, check the assignment guard
  3. Inside one store transaction: ensure the levy, run the arrears gate,
     allocate, commit
  4. Return a receipt (months allocated / new remaining)

  A failure at any step rolls the transaction back; the ledger is left
  unchanged.

SEE ALSO:
  - allocate.go: Steps run inside the transaction
  - balance.go:  GetBalance
  - guard.go:    Authorization rules
*/
package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// ENGINE
// =============================================================================

type Engine struct {
	Store Store
}

func NewEngine(store Store) *Engine {
	return &Engine{Store: store}
}

// =============================================================================
// REQUESTS AND RECEIPTS
// =============================================================================

// PostingRequest is a payment handed over by a field agent.
type PostingRequest struct {
	SubjectID   SubjectID
	Year        int
	Amount      decimal.Decimal
	CollectorID CollectorID
	Note        string
	PaidAt      time.Time // zero means "now"
}

// MonthlyReceipt confirms a monthly posting, listing the months the amount
// landed in, in fill order.
type MonthlyReceipt struct {
	LevyID          LevyID
	MonthsAllocated []int
	NewRemaining    decimal.Decimal
}

// LumpReceipt confirms a lump posting.
type LumpReceipt struct {
	LevyID       LevyID
	PaymentID    string
	NewRemaining decimal.Decimal
}

// TicketRequest is a one-off daily fee sale.
type TicketRequest struct {
	Zone        ZoneID
	Date        Date
	Amount      decimal.Decimal
	CollectorID CollectorID
	SubjectID   SubjectID // optional
	VendorName  string
	VendorPhone string
	Note        string
}

// =============================================================================
// LEVY LIFECYCLE
// =============================================================================

// EnsureCurrentYearLevy lazily creates the levy for the as-of year.
// Idempotent: a second call returns the same row. Storage faults get one
// transparent retry before surfacing.
func (e *Engine) EnsureCurrentYearLevy(ctx context.Context, subjectID SubjectID, asOf Date) (AnnualLevy, error) {
	subject, err := e.Store.GetSubject(ctx, subjectID)
	if err != nil {
		return AnnualLevy{}, err
	}
	levy, err := e.Store.EnsureLevy(ctx, subject, asOf.Year())
	if err != nil && !IsClientError(err) && !IsNotFound(err) {
		levy, err = e.Store.EnsureLevy(ctx, subject, asOf.Year())
	}
	return levy, err
}

// SetLevyAmount is the administrator correction path: sets the due amount
// for (subject, year), creating the levy if needed. Not gated by arrears.
// Zero is accepted: it returns a mistakenly configured lump levy to the
// unconfigured state.
func (e *Engine) SetLevyAmount(ctx context.Context, subjectID SubjectID, year int, amount decimal.Decimal) (AnnualLevy, error) {
	if !ValidDue(amount) {
		return AnnualLevy{}, ErrInvalidAmount
	}
	subject, err := e.Store.GetSubject(ctx, subjectID)
	if err != nil {
		return AnnualLevy{}, err
	}

	var levy AnnualLevy
	err = e.Store.InTx(ctx, func(tx Store) error {
		var txErr error
		levy, txErr = tx.EnsureLevy(ctx, subject, year)
		if txErr != nil {
			return txErr
		}
		if txErr = tx.SetLevyAmount(ctx, levy.ID, amount); txErr != nil {
			return txErr
		}
		levy.AmountDue = amount
		return nil
	})
	return levy, err
}

// =============================================================================
// POSTINGS
// =============================================================================

// PostMonthlyPayment applies one amount to a stall levy, filling months 1..12
// sequentially behind the arrears gate.
func (e *Engine) PostMonthlyPayment(ctx context.Context, req PostingRequest) (MonthlyReceipt, error) {
	subject, collector, err := e.resolvePosting(ctx, req, TrackMonthly)
	if err != nil {
		return MonthlyReceipt{}, err
	}

	paidAt := req.PaidAt
	if paidAt.IsZero() {
		paidAt = time.Now()
	}

	var receipt MonthlyReceipt
	err = e.Store.InTx(ctx, func(tx Store) error {
		levy, txErr := tx.EnsureLevy(ctx, subject, req.Year)
		if txErr != nil {
			return txErr
		}
		if txErr = checkArrears(ctx, tx, subject, req.Year); txErr != nil {
			return txErr
		}
		months, remaining, txErr := allocateMonthly(ctx, tx, subject, levy, req.Amount, collector.ID, paidAt, req.Note)
		if txErr != nil {
			return txErr
		}
		receipt = MonthlyReceipt{LevyID: levy.ID, MonthsAllocated: months, NewRemaining: remaining}
		return nil
	})
	return receipt, err
}

// PostLumpPayment records one payment event against a business or
// institution levy.
func (e *Engine) PostLumpPayment(ctx context.Context, req PostingRequest) (LumpReceipt, error) {
	subject, collector, err := e.resolvePosting(ctx, req, TrackLump)
	if err != nil {
		return LumpReceipt{}, err
	}

	paidAt := req.PaidAt
	if paidAt.IsZero() {
		paidAt = time.Now()
	}

	var receipt LumpReceipt
	err = e.Store.InTx(ctx, func(tx Store) error {
		levy, txErr := tx.EnsureLevy(ctx, subject, req.Year)
		if txErr != nil {
			return txErr
		}
		if txErr = checkArrears(ctx, tx, subject, req.Year); txErr != nil {
			return txErr
		}
		payment := LumpPayment{
			ID:          uuid.NewString(),
			LevyID:      levy.ID,
			Amount:      req.Amount,
			PaidAt:      paidAt,
			CollectorID: collector.ID,
			Note:        req.Note,
		}
		remaining, txErr := postLump(ctx, tx, levy, payment)
		if txErr != nil {
			return txErr
		}
		receipt = LumpReceipt{LevyID: levy.ID, PaymentID: payment.ID, NewRemaining: remaining}
		return nil
	})
	return receipt, err
}

// PostTicket sells a daily market fee ticket. No levy interaction.
func (e *Engine) PostTicket(ctx context.Context, req TicketRequest) (TicketID, error) {
	if !ValidAmount(req.Amount) {
		return "", ErrInvalidAmount
	}
	if req.Date.IsZero() {
		return "", ErrInvalidAmount
	}
	collector, err := e.Store.GetCollector(ctx, req.CollectorID)
	if err != nil {
		return "", err
	}
	if err := AuthorizeTicket(collector, req.Zone); err != nil {
		return "", err
	}

	ticket := Ticket{
		ID:          TicketID(uuid.NewString()),
		Date:        req.Date,
		Zone:        req.Zone,
		SubjectID:   req.SubjectID,
		VendorName:  req.VendorName,
		VendorPhone: req.VendorPhone,
		Amount:      req.Amount,
		CollectorID: collector.ID,
		Note:        req.Note,
		CreatedAt:   time.Now(),
	}
	if err := e.Store.CreateTicket(ctx, ticket); err != nil {
		return "", err
	}
	return ticket.ID, nil
}

// =============================================================================
// READ-ONLY OPERATIONS
// =============================================================================

// GetBalance computes the as-of state for a subject. Pure read; creates
// nothing.
func (e *Engine) GetBalance(ctx context.Context, subjectID SubjectID, asOf Date) (Summary, error) {
	subject, err := e.Store.GetSubject(ctx, subjectID)
	if err != nil {
		return Summary{}, err
	}
	return ComputeSummary(ctx, e.Store, subject, asOf)
}

// GetCollectorTotals sums everything a collector posted in [from, to].
func (e *Engine) GetCollectorTotals(ctx context.Context, id CollectorID, from, to Date) (CollectorTotals, error) {
	if _, err := e.Store.GetCollector(ctx, id); err != nil {
		return CollectorTotals{}, err
	}
	return e.Store.CollectorTotals(ctx, id, from, to)
}

// =============================================================================
// SHARED POSTING CHECKS
// =============================================================================

func (e *Engine) resolvePosting(ctx context.Context, req PostingRequest, want Tracking) (Subject, Collector, error) {
	if !ValidAmount(req.Amount) {
		return Subject{}, Collector{}, ErrInvalidAmount
	}
	subject, err := e.Store.GetSubject(ctx, req.SubjectID)
	if err != nil {
		return Subject{}, Collector{}, err
	}
	if subject.Tracking() != want {
		return Subject{}, Collector{}, ErrTrackingMismatch
	}
	if !subject.Active {
		return Subject{}, Collector{}, ErrSubjectInactive
	}
	collector, err := e.Store.GetCollector(ctx, req.CollectorID)
	if err != nil {
		return Subject{}, Collector{}, err
	}
	if err := AuthorizePosting(collector, subject); err != nil {
		return Subject{}, Collector{}, err
	}
	return subject, collector, nil
}
