/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

MONEY:
  Amounts cross the wire as decimal strings ("25000.00"), never floats.
  Parsing rejects anything that is not positive at 2-decimal scale.

VALIDATION:
  Validation is done in handlers, not in DTOs. DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"sort"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/kloto/levy-engine/ledger"
)

// =============================================================================
// SUBJECTS
// =============================================================================

type SubjectDTO struct {
	ID             string  `json:"id"`
	Name           string  `json:"name"`
	Kind           string  `json:"kind"`
	Tracking       string  `json:"tracking"`
	Zone           string  `json:"zone,omitempty"`
	MonthlyRate    string  `json:"monthly_rate,omitempty"`
	AnnualOverride *string `json:"annual_override,omitempty"`
	Active         bool    `json:"active"`
}

type CreateSubjectRequest struct {
	ID             string  `json:"id"`
	Name           string  `json:"name"`
	Kind           string  `json:"kind"`
	Zone           string  `json:"zone"`
	MonthlyRate    string  `json:"monthly_rate"`
	AnnualOverride *string `json:"annual_override"`
}

func subjectDTO(s ledger.Subject) SubjectDTO {
	dto := SubjectDTO{
		ID:       string(s.ID),
		Name:     s.Name,
		Kind:     string(s.Kind),
		Tracking: string(s.Tracking()),
		Zone:     string(s.Zone),
		Active:   s.Active,
	}
	if s.Tracking() == ledger.TrackMonthly {
		dto.MonthlyRate = s.MonthlyRate.StringFixed(ledger.MoneyScale)
		if s.AnnualOverride != nil {
			v := s.AnnualOverride.StringFixed(ledger.MoneyScale)
			dto.AnnualOverride = &v
		}
	}
	return dto
}

// =============================================================================
// COLLECTORS
// =============================================================================

type CollectorDTO struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Status   string   `json:"status"`
	Zones    []string `json:"zones"`
	Subjects []string `json:"subjects"`
}

type CreateCollectorRequest struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Status   string   `json:"status"`
	Zones    []string `json:"zones"`
	Subjects []string `json:"subjects"`
}

func collectorDTOFrom(c ledger.Collector) CollectorDTO {
	dto := CollectorDTO{
		ID:       string(c.ID),
		Name:     c.Name,
		Status:   string(c.Status),
		Zones:    make([]string, 0, len(c.Zones)),
		Subjects: make([]string, 0, len(c.Subjects)),
	}
	for z := range c.Zones {
		dto.Zones = append(dto.Zones, string(z))
	}
	for s := range c.Subjects {
		dto.Subjects = append(dto.Subjects, string(s))
	}
	sort.Strings(dto.Zones)
	sort.Strings(dto.Subjects)
	return dto
}

// =============================================================================
// LEVIES AND BALANCES
// =============================================================================

type LevyDTO struct {
	ID        string `json:"id"`
	SubjectID string `json:"subject_id"`
	Year      int    `json:"year"`
	AmountDue string `json:"amount_due"`
}

func levyDTO(l ledger.AnnualLevy) LevyDTO {
	return LevyDTO{
		ID:        string(l.ID),
		SubjectID: string(l.SubjectID),
		Year:      l.Year,
		AmountDue: l.AmountDue.StringFixed(ledger.MoneyScale),
	}
}

type SetLevyAmountRequest struct {
	Amount string `json:"amount"`
}

type YearBalanceDTO struct {
	Year      int    `json:"year"`
	AmountDue string `json:"amount_due"`
	DueToDate string `json:"due_to_date"`
	Paid      string `json:"paid"`
	Remaining string `json:"remaining"`
}

type BalanceDTO struct {
	SubjectID      string            `json:"subject_id"`
	AsOf           string            `json:"as_of"`
	Years          []YearBalanceDTO  `json:"years"`
	Arrears        string            `json:"arrears"`
	ArrearsByYear  map[string]string `json:"arrears_by_year"`
	DueToDate      string            `json:"due_to_date"`
	TotalPaid      string            `json:"total_paid"`
	TotalRemaining string            `json:"total_remaining"`
}

func balanceDTO(s ledger.Summary) BalanceDTO {
	dto := BalanceDTO{
		SubjectID:      string(s.SubjectID),
		AsOf:           s.AsOf.String(),
		Arrears:        s.Arrears.StringFixed(ledger.MoneyScale),
		ArrearsByYear:  make(map[string]string, len(s.ArrearsByYear)),
		DueToDate:      s.DueToDate.StringFixed(ledger.MoneyScale),
		TotalPaid:      s.TotalPaid.StringFixed(ledger.MoneyScale),
		TotalRemaining: s.TotalRemaining.StringFixed(ledger.MoneyScale),
	}
	for _, yb := range s.Years {
		dto.Years = append(dto.Years, YearBalanceDTO{
			Year:      yb.Year,
			AmountDue: yb.AmountDue.StringFixed(ledger.MoneyScale),
			DueToDate: yb.DueToDate.StringFixed(ledger.MoneyScale),
			Paid:      yb.Paid.StringFixed(ledger.MoneyScale),
			Remaining: yb.Remaining.StringFixed(ledger.MoneyScale),
		})
	}
	for year, amount := range s.ArrearsByYear {
		dto.ArrearsByYear[strconv.Itoa(year)] = amount.StringFixed(ledger.MoneyScale)
	}
	return dto
}

// =============================================================================
// POSTINGS
// =============================================================================

type PostPaymentRequest struct {
	Year        int    `json:"year"`
	Amount      string `json:"amount"`
	CollectorID string `json:"collector_id"`
	Note        string `json:"note"`
}

type MonthlyReceiptDTO struct {
	LevyID          string `json:"levy_id"`
	MonthsAllocated []int  `json:"months_allocated"`
	NewRemaining    string `json:"new_remaining"`
}

type LumpReceiptDTO struct {
	LevyID       string `json:"levy_id"`
	PaymentID    string `json:"payment_id"`
	NewRemaining string `json:"new_remaining"`
}

type PostTicketRequest struct {
	Zone        string `json:"zone"`
	Date        string `json:"date"`
	Amount      string `json:"amount"`
	CollectorID string `json:"collector_id"`
	SubjectID   string `json:"subject_id"`
	VendorName  string `json:"vendor_name"`
	VendorPhone string `json:"vendor_phone"`
	Note        string `json:"note"`
}

type TicketCreatedDTO struct {
	TicketID string `json:"ticket_id"`
}

type TicketDTO struct {
	ID          string `json:"id"`
	Date        string `json:"date"`
	Zone        string `json:"zone"`
	SubjectID   string `json:"subject_id,omitempty"`
	VendorName  string `json:"vendor_name,omitempty"`
	VendorPhone string `json:"vendor_phone,omitempty"`
	Amount      string `json:"amount"`
	CollectorID string `json:"collector_id"`
	Note        string `json:"note,omitempty"`
}

func ticketDTO(t ledger.Ticket) TicketDTO {
	return TicketDTO{
		ID:          string(t.ID),
		Date:        t.Date.String(),
		Zone:        string(t.Zone),
		SubjectID:   string(t.SubjectID),
		VendorName:  t.VendorName,
		VendorPhone: t.VendorPhone,
		Amount:      t.Amount.StringFixed(ledger.MoneyScale),
		CollectorID: string(t.CollectorID),
		Note:        t.Note,
	}
}

// =============================================================================
// COLLECTOR TOTALS
// =============================================================================

type CollectorTotalsDTO struct {
	CollectorID string            `json:"collector_id"`
	From        string            `json:"from"`
	To          string            `json:"to"`
	Total       string            `json:"total"`
	ByCategory  map[string]string `json:"by_category"`
}

func collectorTotalsDTO(t ledger.CollectorTotals) CollectorTotalsDTO {
	return CollectorTotalsDTO{
		CollectorID: string(t.CollectorID),
		From:        t.From.String(),
		To:          t.To.String(),
		Total:       t.Total.StringFixed(ledger.MoneyScale),
		ByCategory: map[string]string{
			"monthly": t.Monthly.StringFixed(ledger.MoneyScale),
			"lump":    t.Lump.StringFixed(ledger.MoneyScale),
			"tickets": t.Tickets.StringFixed(ledger.MoneyScale),
		},
	}
}

// =============================================================================
// ERRORS
// =============================================================================

type ErrorDTO struct {
	Error   string            `json:"error"`
	Code    string            `json:"code"`
	Details map[string]string `json:"details,omitempty"`
}

// parseAmount parses a wire amount, mapping anything unusable to
// ErrInvalidAmount so the boundary rejects it before the engine runs.
func parseAmount(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, ledger.ErrInvalidAmount
	}
	if !ledger.ValidAmount(d) {
		return decimal.Zero, ledger.ErrInvalidAmount
	}
	return d, nil
}

// parseDue parses a wire due amount. Unlike payment amounts, a due amount
// may be zero (un-configuring a lump levy).
func parseDue(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, ledger.ErrInvalidAmount
	}
	if !ledger.ValidDue(d) {
		return decimal.Zero, ledger.ErrInvalidAmount
	}
	return d, nil
}
