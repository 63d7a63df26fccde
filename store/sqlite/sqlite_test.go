package sqlite_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kloto/levy-engine/ledger"
	"github.com/kloto/levy-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func testStall(id string, zone string, rate string) ledger.Subject {
	return ledger.Subject{
		ID:          ledger.SubjectID(id),
		Name:        "Stall " + id,
		Kind:        ledger.KindStall,
		Zone:        ledger.ZoneID(zone),
		MonthlyRate: ledger.MustMoney(rate),
		Active:      true,
	}
}

// =============================================================================
// SUBJECT AND COLLECTOR ROUNDTRIPS
// =============================================================================

func TestSaveGetSubject(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	override := ledger.MustMoney("250000")
	subject := testStall("stall-1", "zone-a", "25000")
	subject.AnnualOverride = &override
	require.NoError(t, store.SaveSubject(ctx, subject))

	got, err := store.GetSubject(ctx, "stall-1")
	require.NoError(t, err)
	assert.Equal(t, subject.ID, got.ID)
	assert.Equal(t, ledger.KindStall, got.Kind)
	assert.True(t, got.MonthlyRate.Equal(ledger.MustMoney("25000")))
	require.NotNil(t, got.AnnualOverride)
	assert.True(t, got.AnnualOverride.Equal(override))
	assert.True(t, got.Active)
}

func TestSaveSubject_SoftDeactivation(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	subject := testStall("stall-1", "zone-a", "25000")
	require.NoError(t, store.SaveSubject(ctx, subject))

	subject.Active = false
	require.NoError(t, store.SaveSubject(ctx, subject))

	got, err := store.GetSubject(ctx, "stall-1")
	require.NoError(t, err)
	assert.False(t, got.Active)
}

func TestGetSubject_NotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetSubject(context.Background(), "ghost")
	assert.ErrorIs(t, err, ledger.ErrSubjectNotFound)
}

func TestSaveGetCollector_Assignments(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	c := ledger.Collector{
		ID:     "agent-1",
		Name:   "Agent One",
		Status: ledger.CollectorActive,
		Zones: map[ledger.ZoneID]bool{
			"zone-a": true,
			"zone-b": true,
		},
		Subjects: map[ledger.SubjectID]bool{"biz-1": true},
	}
	require.NoError(t, store.SaveCollector(ctx, c))

	got, err := store.GetCollector(ctx, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, ledger.CollectorActive, got.Status)
	assert.True(t, got.AssignedToZone("zone-a"))
	assert.True(t, got.AssignedToZone("zone-b"))
	assert.False(t, got.AssignedToZone("zone-c"))
	assert.True(t, got.AssignedToSubject("biz-1"))

	// Re-saving replaces the assignment sets
	c.Zones = map[ledger.ZoneID]bool{"zone-c": true}
	require.NoError(t, store.SaveCollector(ctx, c))

	got, err = store.GetCollector(ctx, "agent-1")
	require.NoError(t, err)
	assert.False(t, got.AssignedToZone("zone-a"))
	assert.True(t, got.AssignedToZone("zone-c"))
}

func TestGetCollector_NotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetCollector(context.Background(), "ghost")
	assert.ErrorIs(t, err, ledger.ErrCollectorNotFound)
}

// =============================================================================
// LEVY UNIQUENESS
// =============================================================================

func TestEnsureLevy_OneRowPerSubjectYear(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	subject := testStall("stall-1", "zone-a", "25000")
	require.NoError(t, store.SaveSubject(ctx, subject))

	first, err := store.EnsureLevy(ctx, subject, 2025)
	require.NoError(t, err)
	assert.True(t, first.AmountDue.Equal(ledger.MustMoney("300000")))

	second, err := store.EnsureLevy(ctx, subject, 2025)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	levies, err := store.ListLevies(ctx, subject.ID)
	require.NoError(t, err)
	assert.Len(t, levies, 1)
}

func TestEnsureLevy_ConcurrentCallers(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	subject := testStall("stall-1", "zone-a", "25000")
	require.NoError(t, store.SaveSubject(ctx, subject))

	const n = 8
	ids := make([]ledger.LevyID, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			levy, err := store.EnsureLevy(ctx, subject, 2025)
			if err == nil {
				ids[i] = levy.ID
			}
		}(i)
	}
	wg.Wait()

	levies, err := store.ListLevies(ctx, subject.ID)
	require.NoError(t, err)
	require.Len(t, levies, 1, "creation race must resolve to one row")
	for _, id := range ids {
		assert.Equal(t, levies[0].ID, id)
	}
}

func TestListLevies_YearAscending(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	subject := testStall("stall-1", "zone-a", "25000")
	require.NoError(t, store.SaveSubject(ctx, subject))

	for _, year := range []int{2025, 2023, 2024} {
		_, err := store.EnsureLevy(ctx, subject, year)
		require.NoError(t, err)
	}

	levies, err := store.ListLevies(ctx, subject.ID)
	require.NoError(t, err)
	require.Len(t, levies, 3)
	assert.Equal(t, []int{2023, 2024, 2025}, []int{levies[0].Year, levies[1].Year, levies[2].Year})
}

func TestSetLevyAmount(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	subject := ledger.Subject{ID: "biz-1", Name: "Biz", Kind: ledger.KindBusiness, Active: true}
	require.NoError(t, store.SaveSubject(ctx, subject))

	levy, err := store.EnsureLevy(ctx, subject, 2025)
	require.NoError(t, err)
	assert.False(t, levy.Configured(), "lump levies start unconfigured")

	require.NoError(t, store.SetLevyAmount(ctx, levy.ID, ledger.MustMoney("500000")))

	got, err := store.GetLevy(ctx, "biz-1", 2025)
	require.NoError(t, err)
	assert.True(t, got.AmountDue.Equal(ledger.MustMoney("500000")))

	assert.ErrorIs(t, store.SetLevyAmount(ctx, "ghost", ledger.MustMoney("1")), ledger.ErrLevyNotFound)
}

// =============================================================================
// ATOMIC MONTHLY UPSERT
// =============================================================================

func TestUpsertMonthlyPayment_InsertThenIncrement(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	subject := testStall("stall-1", "zone-a", "25000")
	require.NoError(t, store.SaveSubject(ctx, subject))
	levy, err := store.EnsureLevy(ctx, subject, 2025)
	require.NoError(t, err)

	now := time.Now()
	require.NoError(t, store.UpsertMonthlyPayment(ctx, levy.ID, 3, ledger.MustMoney("10000"), "agent-1", now, ""))
	require.NoError(t, store.UpsertMonthlyPayment(ctx, levy.ID, 3, ledger.MustMoney("15000"), "agent-2", now, "balance of March"))

	p, ok, err := store.GetMonthlyPayment(ctx, levy.ID, 3)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, p.AmountPaid.Equal(ledger.MustMoney("25000")))
	assert.Equal(t, ledger.CollectorID("agent-2"), p.CollectorID)
	assert.Equal(t, "balance of March", p.Note)

	payments, err := store.ListMonthlyPayments(ctx, levy.ID)
	require.NoError(t, err)
	assert.Len(t, payments, 1, "increments must not create a second row")
}

func TestUpsertMonthlyPayment_RejectsNonPositiveDelta(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	subject := testStall("stall-1", "zone-a", "25000")
	require.NoError(t, store.SaveSubject(ctx, subject))
	levy, err := store.EnsureLevy(ctx, subject, 2025)
	require.NoError(t, err)

	now := time.Now()
	for _, amount := range []string{"0", "-10000"} {
		err := store.UpsertMonthlyPayment(ctx, levy.ID, 3, ledger.MustMoney(amount), "agent-1", now, "")
		assert.ErrorIs(t, err, ledger.ErrInvalidAmount, "delta %s", amount)
	}

	_, ok, err := store.GetMonthlyPayment(ctx, levy.ID, 3)
	require.NoError(t, err)
	assert.False(t, ok, "rejected deltas must not create a row")
}

func TestUpsertMonthlyPayment_ConcurrentIncrements(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	subject := testStall("stall-1", "zone-a", "25000")
	require.NoError(t, store.SaveSubject(ctx, subject))
	levy, err := store.EnsureLevy(ctx, subject, 2025)
	require.NoError(t, err)

	const n = 10
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = store.UpsertMonthlyPayment(ctx, levy.ID, 1, ledger.MustMoney("2500"), "agent-1", time.Now(), "")
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}

	p, ok, err := store.GetMonthlyPayment(ctx, levy.ID, 1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, p.AmountPaid.Equal(ledger.MustMoney("25000")), "no increment may be lost, got %s", p.AmountPaid)
}

func TestMonthlyPayment_ExactCents(t *testing.T) {
	// Fractional amounts must survive the integer-cents representation.
	store := newTestStore(t)
	ctx := context.Background()

	subject := testStall("stall-1", "zone-a", "100.10")
	require.NoError(t, store.SaveSubject(ctx, subject))
	levy, err := store.EnsureLevy(ctx, subject, 2025)
	require.NoError(t, err)

	require.NoError(t, store.UpsertMonthlyPayment(ctx, levy.ID, 1, ledger.MustMoney("33.37"), "agent-1", time.Now(), ""))
	require.NoError(t, store.UpsertMonthlyPayment(ctx, levy.ID, 1, ledger.MustMoney("66.73"), "agent-1", time.Now(), ""))

	p, ok, err := store.GetMonthlyPayment(ctx, levy.ID, 1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, p.AmountPaid.Equal(ledger.MustMoney("100.10")))
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func TestInTx_CommitAndRollback(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	subject := testStall("stall-1", "zone-a", "25000")
	require.NoError(t, store.SaveSubject(ctx, subject))

	// Committed
	err := store.InTx(ctx, func(tx ledger.Store) error {
		_, err := tx.EnsureLevy(ctx, subject, 2024)
		return err
	})
	require.NoError(t, err)

	// Rolled back
	sentinel := assert.AnError
	err = store.InTx(ctx, func(tx ledger.Store) error {
		if _, err := tx.EnsureLevy(ctx, subject, 2025); err != nil {
			return err
		}
		return sentinel
	})
	require.ErrorIs(t, err, sentinel)

	levies, err := store.ListLevies(ctx, subject.ID)
	require.NoError(t, err)
	require.Len(t, levies, 1)
	assert.Equal(t, 2024, levies[0].Year)
}

func TestInTx_WritesVisibleInsideBeforeCommit(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	subject := testStall("stall-1", "zone-a", "25000")
	require.NoError(t, store.SaveSubject(ctx, subject))

	err := store.InTx(ctx, func(tx ledger.Store) error {
		levy, err := tx.EnsureLevy(ctx, subject, 2025)
		if err != nil {
			return err
		}
		if err := tx.UpsertMonthlyPayment(ctx, levy.ID, 1, ledger.MustMoney("25000"), "agent-1", time.Now(), ""); err != nil {
			return err
		}
		p, ok, err := tx.GetMonthlyPayment(ctx, levy.ID, 1)
		if err != nil {
			return err
		}
		require.True(t, ok, "write must be visible inside the transaction")
		require.True(t, p.AmountPaid.Equal(ledger.MustMoney("25000")))
		return nil
	})
	require.NoError(t, err)
}

// =============================================================================
// TICKETS AND COLLECTOR TOTALS
// =============================================================================

func TestListTickets_ZoneAndRange(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	mk := func(id, zone, date string) ledger.Ticket {
		d, _ := ledger.ParseDate(date)
		return ledger.Ticket{
			ID:          ledger.TicketID(id),
			Date:        d,
			Zone:        ledger.ZoneID(zone),
			VendorName:  "Vendor " + id,
			Amount:      ledger.MustMoney("500"),
			CollectorID: "agent-1",
		}
	}
	require.NoError(t, store.CreateTicket(ctx, mk("t1", "zone-a", "2025-06-10")))
	require.NoError(t, store.CreateTicket(ctx, mk("t2", "zone-a", "2025-06-12")))
	require.NoError(t, store.CreateTicket(ctx, mk("t3", "zone-a", "2025-07-01")))
	require.NoError(t, store.CreateTicket(ctx, mk("t4", "zone-b", "2025-06-11")))

	from, _ := ledger.ParseDate("2025-06-01")
	to, _ := ledger.ParseDate("2025-06-30")
	tickets, err := store.ListTickets(ctx, "zone-a", from, to)
	require.NoError(t, err)
	require.Len(t, tickets, 2)
	assert.Equal(t, ledger.TicketID("t1"), tickets[0].ID)
	assert.Equal(t, ledger.TicketID("t2"), tickets[1].ID)
}

func TestCollectorTotals_ByCategory(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	stall := testStall("stall-1", "zone-a", "25000")
	require.NoError(t, store.SaveSubject(ctx, stall))
	biz := ledger.Subject{ID: "biz-1", Name: "Biz", Kind: ledger.KindBusiness, Active: true}
	require.NoError(t, store.SaveSubject(ctx, biz))

	stallLevy, err := store.EnsureLevy(ctx, stall, 2025)
	require.NoError(t, err)
	bizLevy, err := store.EnsureLevy(ctx, biz, 2025)
	require.NoError(t, err)

	day := ledger.NewDate(2025, 6, 14)
	at := day.StartOfDay().Add(10 * time.Hour)

	require.NoError(t, store.UpsertMonthlyPayment(ctx, stallLevy.ID, 1, ledger.MustMoney("25000"), "agent-1", at, ""))
	require.NoError(t, store.AddLumpPayment(ctx, ledger.LumpPayment{
		ID: "lp-1", LevyID: bizLevy.ID, Amount: ledger.MustMoney("100000"),
		PaidAt: at, CollectorID: "agent-1",
	}))
	require.NoError(t, store.CreateTicket(ctx, ledger.Ticket{
		ID: "t1", Date: day, Zone: "zone-a", Amount: ledger.MustMoney("500"), CollectorID: "agent-1",
	}))
	// Another agent's posting must not bleed in
	require.NoError(t, store.UpsertMonthlyPayment(ctx, stallLevy.ID, 2, ledger.MustMoney("25000"), "agent-2", at, ""))

	totals, err := store.CollectorTotals(ctx, "agent-1", day, day)
	require.NoError(t, err)
	assert.True(t, totals.Monthly.Equal(ledger.MustMoney("25000")))
	assert.True(t, totals.Lump.Equal(ledger.MustMoney("100000")))
	assert.True(t, totals.Tickets.Equal(ledger.MustMoney("500")))
	assert.True(t, totals.Total.Equal(ledger.MustMoney("125500")))

	// Outside the range everything is zero
	before := ledger.NewDate(2025, 6, 13)
	totals, err = store.CollectorTotals(ctx, "agent-1", before, before)
	require.NoError(t, err)
	assert.True(t, totals.Total.IsZero())
}
