package ledger

import "time"

// EventKind tags entries of the append-only reconciliation log.
type EventKind string

const (
	EventSubmitted   EventKind = "SUBMITTED"
	EventFill        EventKind = "FILL"
	EventSnapshot    EventKind = "SNAPSHOT"
	EventSynthesized EventKind = "SYNTHESIZED"
	EventCancelled   EventKind = "CANCELLED"
	EventPurged      EventKind = "PURGED"
	EventMark        EventKind = "MARK"
)

// Event is one entry of the ledger's append-only log. The log records the
// merge order of the three update paths (local submission, push fill,
// snapshot) so reconciliation is replayable in tests and audits.
type Event struct {
	Kind    EventKind
	At      time.Time
	LocalID string
	Symbol  string
	Note    string
}

// maxEvents bounds the in-memory log; reconciliation state never depends
// on entries older than the retained window.
const maxEvents = 10000
