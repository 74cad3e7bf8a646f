package lifecycle

import (
	"slices"
	"time"

	"github.com/xkilldash9x/surveyfill/api/schemas"
)

// sessionTable holds the survey detected in each tab. Callers hold the coordinator lock.
type sessionTable struct {
	limit int
	byID  map[int]schemas.TabSurveySession
}

func newSessionTable(limit int) *sessionTable {
	return &sessionTable{limit: limit, byID: make(map[int]schemas.TabSurveySession)}
}

func (t *sessionTable) get(tabID int) (schemas.TabSurveySession, bool) {
	s, ok := t.byID[tabID]
	return s, ok
}

func (t *sessionTable) put(s schemas.TabSurveySession) {
	t.byID[s.TabID] = s
	t.trim()
}

func (t *sessionTable) delete(tabID int) { delete(t.byID, tabID) }

// expire drops sessions older than ttl and returns their tab ids.
func (t *sessionTable) expire(now time.Time, ttl time.Duration) []int {
	var gone []int
	for id, s := range t.byID {
		if now.Sub(s.Timestamp) > ttl {
			delete(t.byID, id)
			gone = append(gone, id)
		}
	}
	return gone
}

// trim evicts the oldest sessions beyond capacity.
func (t *sessionTable) trim() {
	if len(t.byID) <= t.limit {
		return
	}
	all := make([]schemas.TabSurveySession, 0, len(t.byID))
	for _, s := range t.byID {
		all = append(all, s)
	}
	slices.SortFunc(all, func(a, b schemas.TabSurveySession) int { return a.Timestamp.Compare(b.Timestamp) })
	for _, s := range all[:len(all)-t.limit] {
		delete(t.byID, s.TabID)
	}
}

// pendingTable keeps at most one undelivered notification per tab, last write wins.
type pendingTable struct {
	limit int
	byID  map[int]schemas.Notification
	order []int
}

func newPendingTable(limit int) *pendingTable {
	return &pendingTable{limit: limit, byID: make(map[int]schemas.Notification)}
}

func (t *pendingTable) put(n schemas.Notification) {
	if _, ok := t.byID[n.TabID]; ok {
		t.order = slices.DeleteFunc(t.order, func(id int) bool { return id == n.TabID })
	}
	t.byID[n.TabID] = n
	t.order = append(t.order, n.TabID)
	for len(t.order) > t.limit {
		delete(t.byID, t.order[0])
		t.order = t.order[1:]
	}
}

func (t *pendingTable) take(tabID int) (schemas.Notification, bool) {
	n, ok := t.byID[tabID]
	if ok {
		t.delete(tabID)
	}
	return n, ok
}

func (t *pendingTable) delete(tabID int) {
	delete(t.byID, tabID)
	t.order = slices.DeleteFunc(t.order, func(id int) bool { return id == tabID })
}

func (t *pendingTable) len() int { return len(t.byID) }

// queue is the newest-first list of surveys awaiting confirmation, one per tab.
type queue struct {
	limit   int
	entries []schemas.QueueEntry
}

func (q *queue) push(e schemas.QueueEntry) {
	q.remove(e.TabID)
	q.entries = slices.Insert(q.entries, 0, e)
	if len(q.entries) > q.limit {
		q.entries = q.entries[:q.limit]
	}
}

func (q *queue) find(tabID int) (schemas.QueueEntry, bool) {
	i := slices.IndexFunc(q.entries, func(e schemas.QueueEntry) bool { return e.TabID == tabID })
	if i < 0 {
		return schemas.QueueEntry{}, false
	}
	return q.entries[i], true
}

func (q *queue) remove(tabID int) bool {
	before := len(q.entries)
	q.entries = slices.DeleteFunc(q.entries, func(e schemas.QueueEntry) bool { return e.TabID == tabID })
	return len(q.entries) != before
}

func (q *queue) snapshot() []schemas.QueueEntry {
	return append([]schemas.QueueEntry{}, q.entries...)
}
