package session

// eventLedgerSize bounds how many applied event ids a session remembers.
const eventLedgerSize = 256

// eventLedger is a bounded set of recently applied event ids. The oldest
// id is forgotten when the ledger is full.
type eventLedger struct {
	ids  map[string]struct{}
	ring []string
	next int
}

func newEventLedger(size int) *eventLedger {
	return &eventLedger{
		ids:  make(map[string]struct{}, size),
		ring: make([]string, size),
	}
}

// add records id and reports whether it was new.
func (l *eventLedger) add(id string) bool {
	if _, seen := l.ids[id]; seen {
		return false
	}
	if old := l.ring[l.next]; old != "" {
		delete(l.ids, old)
	}
	l.ring[l.next] = id
	l.ids[id] = struct{}{}
	l.next = (l.next + 1) % len(l.ring)
	return true
}
