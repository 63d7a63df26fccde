/*
guard.go - Collector authorization checks

PURPOSE:
  Verifies that a field agent is permitted to post against a subject or
  zone before anything reaches the allocation engine. Stateless; consults
  only collector status and assignment data, never levy state.

RULES:
  1. The collector must be active (not inactive, not suspended).
  2. Stall postings require the stall's zone among the collector's zones.
  3. Business/institution postings require the subject explicitly listed
     in the collector's assignment set.
  4. Ticket sales require the ticket's zone among the collector's zones.

SEE ALSO:
  - engine.go: Calls the guard before every posting
*/
package ledger

// =============================================================================
// GUARD
// =============================================================================

// AuthorizePosting checks that collector may post payments for subject.
func AuthorizePosting(collector Collector, subject Subject) error {
	if err := requireActive(collector); err != nil {
		return err
	}
	switch subject.Tracking() {
	case TrackMonthly:
		if !collector.AssignedToZone(subject.Zone) {
			return &NotAuthorizedError{CollectorID: collector.ID, Reason: "zone " + string(subject.Zone) + " not assigned"}
		}
	default:
		if !collector.AssignedToSubject(subject.ID) {
			return &NotAuthorizedError{CollectorID: collector.ID, Reason: "subject " + string(subject.ID) + " not assigned"}
		}
	}
	return nil
}

// AuthorizeTicket checks that collector may sell tickets in zone.
func AuthorizeTicket(collector Collector, zone ZoneID) error {
	if err := requireActive(collector); err != nil {
		return err
	}
	if !collector.AssignedToZone(zone) {
		return &NotAuthorizedError{CollectorID: collector.ID, Reason: "zone " + string(zone) + " not assigned"}
	}
	return nil
}

func requireActive(c Collector) error {
	if c.Status != CollectorActive {
		return &NotAuthorizedError{CollectorID: c.ID, Reason: "collector status is " + string(c.Status)}
	}
	return nil
}
