// Package store provides an in-memory ledger.Store implementation
// (for testing/dev).
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/kloto/levy-engine/ledger"
)

// =============================================================================
// MEMORY STORE
// =============================================================================

// Memory keeps the whole ledger in maps. Writers are serialized by a single
// mutex; InTx clones the data, runs against the clone, and swaps it in on
// success, so a failed posting leaves the ledger untouched.
type Memory struct {
	mu   sync.RWMutex
	data *memData
}

func NewMemory() *Memory {
	return &Memory{data: newMemData()}
}

type levyKey struct {
	SubjectID ledger.SubjectID
	Year      int
}

type monthKey struct {
	LevyID ledger.LevyID
	Month  int
}

type memData struct {
	subjects   map[ledger.SubjectID]ledger.Subject
	collectors map[ledger.CollectorID]ledger.Collector
	levies     map[ledger.LevyID]ledger.AnnualLevy
	levyIndex  map[levyKey]ledger.LevyID
	monthly    map[monthKey]ledger.MonthlyPayment
	lump       map[ledger.LevyID][]ledger.LumpPayment
	tickets    []ledger.Ticket
}

func newMemData() *memData {
	return &memData{
		subjects:   make(map[ledger.SubjectID]ledger.Subject),
		collectors: make(map[ledger.CollectorID]ledger.Collector),
		levies:     make(map[ledger.LevyID]ledger.AnnualLevy),
		levyIndex:  make(map[levyKey]ledger.LevyID),
		monthly:    make(map[monthKey]ledger.MonthlyPayment),
		lump:       make(map[ledger.LevyID][]ledger.LumpPayment),
	}
}

func (d *memData) clone() *memData {
	c := newMemData()
	for k, v := range d.subjects {
		c.subjects[k] = v
	}
	for k, v := range d.collectors {
		c.collectors[k] = v
	}
	for k, v := range d.levies {
		c.levies[k] = v
	}
	for k, v := range d.levyIndex {
		c.levyIndex[k] = v
	}
	for k, v := range d.monthly {
		c.monthly[k] = v
	}
	for k, v := range d.lump {
		c.lump[k] = append([]ledger.LumpPayment(nil), v...)
	}
	c.tickets = append([]ledger.Ticket(nil), d.tickets...)
	return c
}

// =============================================================================
// STORE INTERFACE - Locked wrappers
// =============================================================================

func (m *Memory) SaveSubject(_ context.Context, s ledger.Subject) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.saveSubject(s)
}

func (m *Memory) GetSubject(_ context.Context, id ledger.SubjectID) (ledger.Subject, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.getSubject(id)
}

func (m *Memory) ListSubjects(_ context.Context) ([]ledger.Subject, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.listSubjects()
}

func (m *Memory) SaveCollector(_ context.Context, c ledger.Collector) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.saveCollector(c)
}

func (m *Memory) GetCollector(_ context.Context, id ledger.CollectorID) (ledger.Collector, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.getCollector(id)
}

func (m *Memory) EnsureLevy(_ context.Context, subject ledger.Subject, year int) (ledger.AnnualLevy, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.ensureLevy(subject, year)
}

func (m *Memory) GetLevy(_ context.Context, subjectID ledger.SubjectID, year int) (ledger.AnnualLevy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.getLevy(subjectID, year)
}

func (m *Memory) ListLevies(_ context.Context, subjectID ledger.SubjectID) ([]ledger.AnnualLevy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.listLevies(subjectID)
}

func (m *Memory) SetLevyAmount(_ context.Context, levyID ledger.LevyID, amount decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.setLevyAmount(levyID, amount)
}

func (m *Memory) GetMonthlyPayment(_ context.Context, levyID ledger.LevyID, month int) (ledger.MonthlyPayment, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.getMonthlyPayment(levyID, month)
}

func (m *Memory) ListMonthlyPayments(_ context.Context, levyID ledger.LevyID) ([]ledger.MonthlyPayment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.listMonthlyPayments(levyID)
}

func (m *Memory) UpsertMonthlyPayment(_ context.Context, levyID ledger.LevyID, month int, delta decimal.Decimal, collector ledger.CollectorID, paidAt time.Time, note string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.upsertMonthlyPayment(levyID, month, delta, collector, paidAt, note)
}

func (m *Memory) AddLumpPayment(_ context.Context, p ledger.LumpPayment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.addLumpPayment(p)
}

func (m *Memory) ListLumpPayments(_ context.Context, levyID ledger.LevyID) ([]ledger.LumpPayment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.listLumpPayments(levyID)
}

func (m *Memory) CreateTicket(_ context.Context, t ledger.Ticket) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.createTicket(t)
}

func (m *Memory) ListTickets(_ context.Context, zone ledger.ZoneID, from, to ledger.Date) ([]ledger.Ticket, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.listTickets(zone, from, to)
}

func (m *Memory) CollectorTotals(_ context.Context, id ledger.CollectorID, from, to ledger.Date) (ledger.CollectorTotals, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.collectorTotals(id, from, to)
}

// InTx runs fn against a clone of the data and swaps it in on success.
// Writers are fully serialized, so the arrears gate and the resulting
// writes observe and produce a consistent snapshot.
func (m *Memory) InTx(_ context.Context, fn func(tx ledger.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	clone := m.data.clone()
	if err := fn(&memTx{data: clone}); err != nil {
		return err
	}
	m.data = clone
	return nil
}

// =============================================================================
// TRANSACTION VIEW - Unlocked, serialized by the outer mutex
// =============================================================================

type memTx struct {
	data *memData
}

func (t *memTx) SaveSubject(_ context.Context, s ledger.Subject) error { return t.data.saveSubject(s) }
func (t *memTx) GetSubject(_ context.Context, id ledger.SubjectID) (ledger.Subject, error) {
	return t.data.getSubject(id)
}
func (t *memTx) ListSubjects(_ context.Context) ([]ledger.Subject, error) {
	return t.data.listSubjects()
}
func (t *memTx) SaveCollector(_ context.Context, c ledger.Collector) error {
	return t.data.saveCollector(c)
}
func (t *memTx) GetCollector(_ context.Context, id ledger.CollectorID) (ledger.Collector, error) {
	return t.data.getCollector(id)
}
func (t *memTx) EnsureLevy(_ context.Context, subject ledger.Subject, year int) (ledger.AnnualLevy, error) {
	return t.data.ensureLevy(subject, year)
}
func (t *memTx) GetLevy(_ context.Context, subjectID ledger.SubjectID, year int) (ledger.AnnualLevy, error) {
	return t.data.getLevy(subjectID, year)
}
func (t *memTx) ListLevies(_ context.Context, subjectID ledger.SubjectID) ([]ledger.AnnualLevy, error) {
	return t.data.listLevies(subjectID)
}
func (t *memTx) SetLevyAmount(_ context.Context, levyID ledger.LevyID, amount decimal.Decimal) error {
	return t.data.setLevyAmount(levyID, amount)
}
func (t *memTx) GetMonthlyPayment(_ context.Context, levyID ledger.LevyID, month int) (ledger.MonthlyPayment, bool, error) {
	return t.data.getMonthlyPayment(levyID, month)
}
func (t *memTx) ListMonthlyPayments(_ context.Context, levyID ledger.LevyID) ([]ledger.MonthlyPayment, error) {
	return t.data.listMonthlyPayments(levyID)
}
func (t *memTx) UpsertMonthlyPayment(_ context.Context, levyID ledger.LevyID, month int, delta decimal.Decimal, collector ledger.CollectorID, paidAt time.Time, note string) error {
	return t.data.upsertMonthlyPayment(levyID, month, delta, collector, paidAt, note)
}
func (t *memTx) AddLumpPayment(_ context.Context, p ledger.LumpPayment) error {
	return t.data.addLumpPayment(p)
}
func (t *memTx) ListLumpPayments(_ context.Context, levyID ledger.LevyID) ([]ledger.LumpPayment, error) {
	return t.data.listLumpPayments(levyID)
}
func (t *memTx) CreateTicket(_ context.Context, tk ledger.Ticket) error {
	return t.data.createTicket(tk)
}
func (t *memTx) ListTickets(_ context.Context, zone ledger.ZoneID, from, to ledger.Date) ([]ledger.Ticket, error) {
	return t.data.listTickets(zone, from, to)
}
func (t *memTx) CollectorTotals(_ context.Context, id ledger.CollectorID, from, to ledger.Date) (ledger.CollectorTotals, error) {
	return t.data.collectorTotals(id, from, to)
}

// Nested transactions just join the enclosing one.
func (t *memTx) InTx(_ context.Context, fn func(tx ledger.Store) error) error {
	return fn(t)
}

// =============================================================================
// RAW OPERATIONS
// =============================================================================

func (d *memData) saveSubject(s ledger.Subject) error {
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now()
	}
	d.subjects[s.ID] = s
	return nil
}

func (d *memData) getSubject(id ledger.SubjectID) (ledger.Subject, error) {
	s, ok := d.subjects[id]
	if !ok {
		return ledger.Subject{}, ledger.ErrSubjectNotFound
	}
	return s, nil
}

func (d *memData) listSubjects() ([]ledger.Subject, error) {
	out := make([]ledger.Subject, 0, len(d.subjects))
	for _, s := range d.subjects {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (d *memData) saveCollector(c ledger.Collector) error {
	d.collectors[c.ID] = c
	return nil
}

func (d *memData) getCollector(id ledger.CollectorID) (ledger.Collector, error) {
	c, ok := d.collectors[id]
	if !ok {
		return ledger.Collector{}, ledger.ErrCollectorNotFound
	}
	return c, nil
}

func (d *memData) ensureLevy(subject ledger.Subject, year int) (ledger.AnnualLevy, error) {
	key := levyKey{SubjectID: subject.ID, Year: year}
	if id, ok := d.levyIndex[key]; ok {
		return d.levies[id], nil
	}

	now := time.Now()
	levy := ledger.AnnualLevy{
		ID:        ledger.LevyID(uuid.NewString()),
		SubjectID: subject.ID,
		Year:      year,
		AmountDue: subject.AnnualDue(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	d.levies[levy.ID] = levy
	d.levyIndex[key] = levy.ID
	return levy, nil
}

func (d *memData) getLevy(subjectID ledger.SubjectID, year int) (ledger.AnnualLevy, error) {
	id, ok := d.levyIndex[levyKey{SubjectID: subjectID, Year: year}]
	if !ok {
		return ledger.AnnualLevy{}, ledger.ErrLevyNotFound
	}
	return d.levies[id], nil
}

func (d *memData) listLevies(subjectID ledger.SubjectID) ([]ledger.AnnualLevy, error) {
	var out []ledger.AnnualLevy
	for _, levy := range d.levies {
		if levy.SubjectID == subjectID {
			out = append(out, levy)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Year < out[j].Year })
	return out, nil
}

func (d *memData) setLevyAmount(levyID ledger.LevyID, amount decimal.Decimal) error {
	levy, ok := d.levies[levyID]
	if !ok {
		return ledger.ErrLevyNotFound
	}
	levy.AmountDue = amount
	levy.UpdatedAt = time.Now()
	d.levies[levyID] = levy
	return nil
}

func (d *memData) getMonthlyPayment(levyID ledger.LevyID, month int) (ledger.MonthlyPayment, bool, error) {
	p, ok := d.monthly[monthKey{LevyID: levyID, Month: month}]
	return p, ok, nil
}

func (d *memData) listMonthlyPayments(levyID ledger.LevyID) ([]ledger.MonthlyPayment, error) {
	var out []ledger.MonthlyPayment
	for k, p := range d.monthly {
		if k.LevyID == levyID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Month < out[j].Month })
	return out, nil
}

func (d *memData) upsertMonthlyPayment(levyID ledger.LevyID, month int, delta decimal.Decimal, collector ledger.CollectorID, paidAt time.Time, note string) error {
	if !ledger.ValidAmount(delta) {
		return ledger.ErrInvalidAmount
	}
	key := monthKey{LevyID: levyID, Month: month}
	p, ok := d.monthly[key]
	if !ok {
		p = ledger.MonthlyPayment{LevyID: levyID, Month: month, AmountPaid: decimal.Zero}
	}
	p.AmountPaid = p.AmountPaid.Add(delta)
	p.PaidAt = paidAt
	p.CollectorID = collector
	p.Note = note
	d.monthly[key] = p
	return nil
}

func (d *memData) addLumpPayment(p ledger.LumpPayment) error {
	d.lump[p.LevyID] = append(d.lump[p.LevyID], p)
	return nil
}

func (d *memData) listLumpPayments(levyID ledger.LevyID) ([]ledger.LumpPayment, error) {
	out := append([]ledger.LumpPayment(nil), d.lump[levyID]...)
	sort.Slice(out, func(i, j int) bool { return out[i].PaidAt.Before(out[j].PaidAt) })
	return out, nil
}

func (d *memData) createTicket(t ledger.Ticket) error {
	d.tickets = append(d.tickets, t)
	return nil
}

func (d *memData) listTickets(zone ledger.ZoneID, from, to ledger.Date) ([]ledger.Ticket, error) {
	var out []ledger.Ticket
	for _, t := range d.tickets {
		if t.Zone != zone {
			continue
		}
		if t.Date.Before(from) || t.Date.After(to) {
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

func (d *memData) collectorTotals(id ledger.CollectorID, from, to ledger.Date) (ledger.CollectorTotals, error) {
	totals := ledger.CollectorTotals{
		CollectorID: id,
		From:        from,
		To:          to,
		Total:       decimal.Zero,
		Monthly:     decimal.Zero,
		Lump:        decimal.Zero,
		Tickets:     decimal.Zero,
	}

	start, end := from.StartOfDay(), to.EndOfDay()
	inRange := func(ts time.Time) bool { return !ts.Before(start) && !ts.After(end) }

	for _, p := range d.monthly {
		if p.CollectorID == id && inRange(p.PaidAt) {
			totals.Monthly = totals.Monthly.Add(p.AmountPaid)
		}
	}
	for _, payments := range d.lump {
		for _, p := range payments {
			if p.CollectorID == id && inRange(p.PaidAt) {
				totals.Lump = totals.Lump.Add(p.Amount)
			}
		}
	}
	for _, t := range d.tickets {
		if t.CollectorID == id && !t.Date.Before(from) && !t.Date.After(to) {
			totals.Tickets = totals.Tickets.Add(t.Amount)
		}
	}

	totals.Total = totals.Monthly.Add(totals.Lump).Add(totals.Tickets)
	return totals, nil
}
