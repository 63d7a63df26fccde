package ledger_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kloto/levy-engine/ledger"
)

func activeCollector(zones []string, subjects []string) ledger.Collector {
	c := ledger.Collector{
		ID:       "agent-1",
		Name:     "Agent",
		Status:   ledger.CollectorActive,
		Zones:    make(map[ledger.ZoneID]bool),
		Subjects: make(map[ledger.SubjectID]bool),
	}
	for _, z := range zones {
		c.Zones[ledger.ZoneID(z)] = true
	}
	for _, s := range subjects {
		c.Subjects[ledger.SubjectID(s)] = true
	}
	return c
}

func TestAuthorizePosting_StallByZone(t *testing.T) {
	stall := ledger.Subject{ID: "stall-1", Kind: ledger.KindStall, Zone: "zone-a", Active: true}

	assert.NoError(t, ledger.AuthorizePosting(activeCollector([]string{"zone-a"}, nil), stall))

	err := ledger.AuthorizePosting(activeCollector([]string{"zone-b"}, nil), stall)
	assert.ErrorIs(t, err, ledger.ErrNotAuthorized)
}

func TestAuthorizePosting_LumpBySubjectAssignment(t *testing.T) {
	// A lump subject needs an explicit assignment; covering its zone is not
	// enough.
	biz := ledger.Subject{ID: "biz-1", Kind: ledger.KindBusiness, Zone: "zone-a", Active: true}

	assert.NoError(t, ledger.AuthorizePosting(activeCollector(nil, []string{"biz-1"}), biz))

	err := ledger.AuthorizePosting(activeCollector([]string{"zone-a"}, nil), biz)
	assert.ErrorIs(t, err, ledger.ErrNotAuthorized)
}

func TestAuthorizePosting_InactiveStatuses(t *testing.T) {
	stall := ledger.Subject{ID: "stall-1", Kind: ledger.KindStall, Zone: "zone-a", Active: true}

	for _, status := range []ledger.CollectorStatus{ledger.CollectorInactive, ledger.CollectorSuspended} {
		c := activeCollector([]string{"zone-a"}, nil)
		c.Status = status

		err := ledger.AuthorizePosting(c, stall)
		require.Error(t, err, "status %s must block postings", status)

		var notAuth *ledger.NotAuthorizedError
		require.ErrorAs(t, err, &notAuth)
		assert.Contains(t, notAuth.Reason, string(status))
	}
}

func TestAuthorizeTicket_ZoneCheck(t *testing.T) {
	c := activeCollector([]string{"zone-a"}, nil)

	assert.NoError(t, ledger.AuthorizeTicket(c, "zone-a"))
	assert.ErrorIs(t, ledger.AuthorizeTicket(c, "zone-b"), ledger.ErrNotAuthorized)

	c.Status = ledger.CollectorSuspended
	assert.ErrorIs(t, ledger.AuthorizeTicket(c, "zone-a"), ledger.ErrNotAuthorized)
}
