/*
handlers.go - HTTP API handlers for the levy ledger

PURPOSE:
  Exposes the levy engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Subjects:
    GET    /api/subjects                      List taxable subjects
    POST   /api/subjects                      Register a subject
    GET    /api/subjects/{id}                 Get subject details
    DELETE /api/subjects/{id}                 Soft-deactivate a subject
    GET    /api/subjects/{id}/balance         As-of balance summary
    GET    /api/subjects/{id}/levies          Levy history
    POST   /api/subjects/{id}/payments        Post a payment (monthly or lump)
    PUT    /api/subjects/{id}/levies/{year}/amount  Admin set-levy

  Collectors:
    POST   /api/collectors                    Register a field agent
    GET    /api/collectors/{id}/totals        Collections over a date range

  Tickets:
    POST   /api/tickets                       Sell a daily market fee ticket
    GET    /api/tickets                       List tickets by zone and range

REQUEST FLOW:
  1. Parse HTTP request
  2. Validate input at the boundary (amounts, dates)
  3. Call domain logic (engine, store)
  4. Serialize response
  5. Map domain errors to HTTP statuses

ERROR HANDLING:
  Domain errors map to JSON + status in one place (writeDomainError):
  - 400: Malformed input, invalid amounts, tracking mismatch
  - 403: Collector not authorized for the zone/subject
  - 404: Subject/levy/collector not found
  - 409: Business rule rejections (arrears, capacity, balance, unconfigured)
  - 500: Storage faults

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/kloto/levy-engine/ledger"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store  ledger.Store
	Engine *ledger.Engine
}

// NewHandler creates a new handler over the given store.
func NewHandler(store ledger.Store) *Handler {
	return &Handler{
		Store:  store,
		Engine: ledger.NewEngine(store),
	}
}

// =============================================================================
// SUBJECT HANDLERS
// =============================================================================

// ListSubjects returns all taxable subjects.
func (h *Handler) ListSubjects(w http.ResponseWriter, r *http.Request) {
	subjects, err := h.Store.ListSubjects(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}

	dtos := make([]SubjectDTO, len(subjects))
	for i, s := range subjects {
		dtos[i] = subjectDTO(s)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetSubject returns a single subject.
func (h *Handler) GetSubject(w http.ResponseWriter, r *http.Request) {
	id := ledger.SubjectID(chi.URLParam(r, "id"))

	subject, err := h.Store.GetSubject(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, subjectDTO(subject))
}

// CreateSubject registers a taxable subject.
func (h *Handler) CreateSubject(w http.ResponseWriter, r *http.Request) {
	var req CreateSubjectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.ID == "" || req.Name == "" {
		writeError(w, http.StatusBadRequest, "id and name are required", nil)
		return
	}

	kind := ledger.SubjectKind(req.Kind)
	switch kind {
	case ledger.KindStall, ledger.KindBusiness, ledger.KindInstitution:
	default:
		writeError(w, http.StatusBadRequest, "kind must be stall, business or institution", nil)
		return
	}

	subject := ledger.Subject{
		ID:     ledger.SubjectID(req.ID),
		Name:   req.Name,
		Kind:   kind,
		Zone:   ledger.ZoneID(req.Zone),
		Active: true,
	}

	if kind == ledger.KindStall {
		rate, err := parseAmount(req.MonthlyRate)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid monthly_rate", err)
			return
		}
		subject.MonthlyRate = rate
		if req.AnnualOverride != nil {
			override, err := parseAmount(*req.AnnualOverride)
			if err != nil {
				writeError(w, http.StatusBadRequest, "Invalid annual_override", err)
				return
			}
			subject.AnnualOverride = &override
		}
		if !subject.ValidOverride() {
			writeError(w, http.StatusBadRequest, "annual_override may not exceed monthly_rate x 12", nil)
			return
		}
	}

	if err := h.Store.SaveSubject(r.Context(), subject); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, subjectDTO(subject))
}

// DeactivateSubject soft-deactivates a subject. Ledger history stays.
func (h *Handler) DeactivateSubject(w http.ResponseWriter, r *http.Request) {
	id := ledger.SubjectID(chi.URLParam(r, "id"))
	ctx := r.Context()

	subject, err := h.Store.GetSubject(ctx, id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	subject.Active = false
	if err := h.Store.SaveSubject(ctx, subject); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, subjectDTO(subject))
}

// =============================================================================
// BALANCE AND LEVY HANDLERS
// =============================================================================

// GetBalance returns the as-of balance summary for a subject.
// Query param as_of=YYYY-MM-DD defaults to today.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	id := ledger.SubjectID(chi.URLParam(r, "id"))

	asOf := ledger.Today()
	if s := r.URL.Query().Get("as_of"); s != "" {
		parsed, err := ledger.ParseDate(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid as_of date (use YYYY-MM-DD)", err)
			return
		}
		asOf = parsed
	}

	summary, err := h.Engine.GetBalance(r.Context(), id, asOf)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, balanceDTO(summary))
}

// ListLevies returns a subject's levy history, oldest year first.
func (h *Handler) ListLevies(w http.ResponseWriter, r *http.Request) {
	id := ledger.SubjectID(chi.URLParam(r, "id"))
	ctx := r.Context()

	if _, err := h.Store.GetSubject(ctx, id); err != nil {
		writeDomainError(w, err)
		return
	}
	levies, err := h.Store.ListLevies(ctx, id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	dtos := make([]LevyDTO, len(levies))
	for i, l := range levies {
		dtos[i] = levyDTO(l)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// SetLevyAmount sets the due amount for (subject, year). Admin path for
// business/institution levies and stall corrections.
func (h *Handler) SetLevyAmount(w http.ResponseWriter, r *http.Request) {
	id := ledger.SubjectID(chi.URLParam(r, "id"))
	year, err := strconv.Atoi(chi.URLParam(r, "year"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid year", err)
		return
	}

	var req SetLevyAmountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	amount, err := parseDue(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid amount", err)
		return
	}

	levy, err := h.Engine.SetLevyAmount(r.Context(), id, year, amount)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, levyDTO(levy))
}

// =============================================================================
// PAYMENT HANDLERS
// =============================================================================

// PostPayment posts one payment against a subject's levy, dispatching on the
// subject's tracking: stalls fill months sequentially, businesses and
// institutions record lump events.
func (h *Handler) PostPayment(w http.ResponseWriter, r *http.Request) {
	id := ledger.SubjectID(chi.URLParam(r, "id"))
	ctx := r.Context()

	var req PostPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid amount", err)
		return
	}
	year := req.Year
	if year == 0 {
		year = ledger.Today().Year()
	}

	subject, err := h.Store.GetSubject(ctx, id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	posting := ledger.PostingRequest{
		SubjectID:   id,
		Year:        year,
		Amount:      amount,
		CollectorID: ledger.CollectorID(req.CollectorID),
		Note:        req.Note,
	}

	switch subject.Tracking() {
	case ledger.TrackMonthly:
		receipt, err := h.Engine.PostMonthlyPayment(ctx, posting)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, MonthlyReceiptDTO{
			LevyID:          string(receipt.LevyID),
			MonthsAllocated: receipt.MonthsAllocated,
			NewRemaining:    receipt.NewRemaining.StringFixed(ledger.MoneyScale),
		})
	default:
		receipt, err := h.Engine.PostLumpPayment(ctx, posting)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, LumpReceiptDTO{
			LevyID:       string(receipt.LevyID),
			PaymentID:    receipt.PaymentID,
			NewRemaining: receipt.NewRemaining.StringFixed(ledger.MoneyScale),
		})
	}
}

// =============================================================================
// COLLECTOR HANDLERS
// =============================================================================

// CreateCollector registers a field agent with zone and subject assignments.
func (h *Handler) CreateCollector(w http.ResponseWriter, r *http.Request) {
	var req CreateCollectorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.ID == "" || req.Name == "" {
		writeError(w, http.StatusBadRequest, "id and name are required", nil)
		return
	}

	status := ledger.CollectorStatus(req.Status)
	if status == "" {
		status = ledger.CollectorActive
	}
	switch status {
	case ledger.CollectorActive, ledger.CollectorInactive, ledger.CollectorSuspended:
	default:
		writeError(w, http.StatusBadRequest, "status must be active, inactive or suspended", nil)
		return
	}

	collector := ledger.Collector{
		ID:       ledger.CollectorID(req.ID),
		Name:     req.Name,
		Status:   status,
		Zones:    make(map[ledger.ZoneID]bool, len(req.Zones)),
		Subjects: make(map[ledger.SubjectID]bool, len(req.Subjects)),
	}
	for _, z := range req.Zones {
		collector.Zones[ledger.ZoneID(z)] = true
	}
	for _, s := range req.Subjects {
		collector.Subjects[ledger.SubjectID(s)] = true
	}

	if err := h.Store.SaveCollector(r.Context(), collector); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, collectorDTOFrom(collector))
}

// GetCollector returns a single field agent with assignments.
func (h *Handler) GetCollector(w http.ResponseWriter, r *http.Request) {
	id := ledger.CollectorID(chi.URLParam(r, "id"))

	collector, err := h.Store.GetCollector(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, collectorDTOFrom(collector))
}

// GetCollectorTotals returns what an agent collected over [from, to],
// broken down by category. Defaults to today when the range is omitted.
func (h *Handler) GetCollectorTotals(w http.ResponseWriter, r *http.Request) {
	id := ledger.CollectorID(chi.URLParam(r, "id"))

	from, to, err := parseRange(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date range (use from/to=YYYY-MM-DD)", err)
		return
	}

	totals, err := h.Engine.GetCollectorTotals(r.Context(), id, from, to)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, collectorTotalsDTO(totals))
}

// =============================================================================
// TICKET HANDLERS
// =============================================================================

// PostTicket sells a daily market fee ticket to an itinerant vendor.
func (h *Handler) PostTicket(w http.ResponseWriter, r *http.Request) {
	var req PostTicketRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid amount", err)
		return
	}

	date := ledger.Today()
	if req.Date != "" {
		date, err = ledger.ParseDate(req.Date)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid date (use YYYY-MM-DD)", err)
			return
		}
	}

	ticketID, err := h.Engine.PostTicket(r.Context(), ledger.TicketRequest{
		Zone:        ledger.ZoneID(req.Zone),
		Date:        date,
		Amount:      amount,
		CollectorID: ledger.CollectorID(req.CollectorID),
		SubjectID:   ledger.SubjectID(req.SubjectID),
		VendorName:  req.VendorName,
		VendorPhone: req.VendorPhone,
		Note:        req.Note,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, TicketCreatedDTO{TicketID: string(ticketID)})
}

// ListTickets returns tickets for a zone over a date range.
func (h *Handler) ListTickets(w http.ResponseWriter, r *http.Request) {
	zone := ledger.ZoneID(r.URL.Query().Get("zone"))

	from, to, err := parseRange(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date range (use from/to=YYYY-MM-DD)", err)
		return
	}

	tickets, err := h.Store.ListTickets(r.Context(), zone, from, to)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	dtos := make([]TicketDTO, len(tickets))
	for i, t := range tickets {
		dtos[i] = ticketDTO(t)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	dto := ErrorDTO{Error: message}
	if err != nil {
		dto.Details = map[string]string{"cause": err.Error()}
	}
	writeJSON(w, status, dto)
}

// writeDomainError maps the domain error taxonomy to HTTP statuses in one
// place so every handler rejects the same way.
func writeDomainError(w http.ResponseWriter, err error) {
	dto := ErrorDTO{Error: err.Error()}

	var status int
	switch {
	case errors.Is(err, ledger.ErrInvalidAmount),
		errors.Is(err, ledger.ErrTrackingMismatch),
		errors.Is(err, ledger.ErrSubjectInactive):
		status = http.StatusBadRequest
		dto.Code = errorCode(err)

	case errors.Is(err, ledger.ErrNotAuthorized):
		status = http.StatusForbidden
		dto.Code = "not_authorized"

	case ledger.IsNotFound(err):
		status = http.StatusNotFound
		dto.Code = "not_found"

	case errors.Is(err, ledger.ErrArrearsPending):
		status = http.StatusConflict
		dto.Code = "arrears_pending"
		var arrears *ledger.ArrearsError
		if errors.As(err, &arrears) {
			dto.Details = map[string]string{
				"year":      strconv.Itoa(arrears.Year),
				"remaining": arrears.Remaining.StringFixed(ledger.MoneyScale),
			}
		}

	case errors.Is(err, ledger.ErrExceedsCapacity):
		status = http.StatusConflict
		dto.Code = "exceeds_capacity"
		var capErr *ledger.CapacityError
		if errors.As(err, &capErr) {
			dto.Details = map[string]string{
				"requested": capErr.Requested.StringFixed(ledger.MoneyScale),
				"capacity":  capErr.Capacity.StringFixed(ledger.MoneyScale),
			}
		}

	case errors.Is(err, ledger.ErrExceedsBalance):
		status = http.StatusConflict
		dto.Code = "exceeds_balance"
		var balErr *ledger.BalanceExceededError
		if errors.As(err, &balErr) {
			dto.Details = map[string]string{
				"requested": balErr.Requested.StringFixed(ledger.MoneyScale),
				"remaining": balErr.Remaining.StringFixed(ledger.MoneyScale),
			}
		}

	case errors.Is(err, ledger.ErrLevyNotConfigured):
		status = http.StatusConflict
		dto.Code = "levy_not_configured"

	default:
		status = http.StatusInternalServerError
		dto.Code = "internal"
	}

	writeJSON(w, status, dto)
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, ledger.ErrInvalidAmount):
		return "invalid_amount"
	case errors.Is(err, ledger.ErrTrackingMismatch):
		return "tracking_mismatch"
	case errors.Is(err, ledger.ErrSubjectInactive):
		return "subject_inactive"
	}
	return "bad_request"
}

// parseRange reads from/to query params, both defaulting to today.
func parseRange(r *http.Request) (ledger.Date, ledger.Date, error) {
	from, to := ledger.Today(), ledger.Today()
	var err error
	if s := r.URL.Query().Get("from"); s != "" {
		if from, err = ledger.ParseDate(s); err != nil {
			return ledger.Date{}, ledger.Date{}, err
		}
	}
	if s := r.URL.Query().Get("to"); s != "" {
		if to, err = ledger.ParseDate(s); err != nil {
			return ledger.Date{}, ledger.Date{}, err
		}
	}
	return from, to, nil
}
