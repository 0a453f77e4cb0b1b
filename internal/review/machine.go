// Package review owns the per-record decision state of a review session and
// the read-only projections the operator browses.
package review

import (
	"slices"
	"sort"
	"sync"

	"github.com/facebookgo/clock"
	"github.com/rotisserie/eris"

	"github.com/sells-group/examclean/internal/model"
)

var (
	// ErrUnknownEntry is returned for a mapping id that was never seeded.
	ErrUnknownEntry = eris.New("review: unknown mapping id")
	// ErrInvalidDecision is returned for a decision outside approve, reject, modify and skip.
	ErrInvalidDecision = eris.New("review: invalid decision")
	// ErrIllegalTransition is returned when unapproving an entry that is not reviewed/approve.
	ErrIllegalTransition = eris.New("review: illegal transition")
	// ErrBulkModify is returned when modify is applied to a whole group.
	ErrBulkModify = eris.New("review: modify cannot be applied to a group")
)

// Machine holds one ValidationEntry per mapping id. All methods are safe for
// concurrent use.
type Machine struct {
	mu      sync.Mutex
	clock   clock.Clock
	entries map[string]*model.ValidationEntry
	order   []string
}

// NewMachine creates an empty machine. A nil clock means the wall clock.
func NewMachine(clk clock.Clock) *Machine {
	if clk == nil {
		clk = clock.New()
	}
	return &Machine{clock: clk, entries: make(map[string]*model.ValidationEntry)}
}

// Seed replaces every entry with a fresh one per group member. Records the
// service already approved start as reviewed/approve. A mapping id shared by
// several members collapses into one entry carrying their combined flags.
func (m *Machine) Seed(groups map[string]*model.ConsolidatedGroup) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries = make(map[string]*model.ValidationEntry)
	m.order = m.order[:0]

	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	now := m.clock.Now()
	for _, k := range keys {
		for _, mem := range groups[k].Members {
			if e, ok := m.entries[mem.MappingID]; ok {
				e.Flags = e.Flags.Union(mem.Flags)
				continue
			}
			e := &model.ValidationEntry{
				MappingID: mem.MappingID,
				Record:    mem.Record,
				Status:    model.StatusPendingReview,
				Flags:     mem.Flags,
			}
			if mem.Record.UpstreamApproved {
				t := now
				e.Status = model.StatusReviewed
				e.Decision = model.DecisionApprove
				e.ReviewedAt = &t
			}
			m.entries[mem.MappingID] = e
			m.order = append(m.order, mem.MappingID)
		}
	}
}

// Decide records a reviewer decision. Reviewed entries may be overwritten
// with any other decision.
func (m *Machine) Decide(id string, d model.Decision, notes string) (model.ValidationEntry, error) {
	if !d.Valid() {
		return model.ValidationEntry{}, eris.Wrapf(ErrInvalidDecision, "decision %q", d)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[id]
	if !ok {
		return model.ValidationEntry{}, eris.Wrapf(ErrUnknownEntry, "mapping id %s", id)
	}
	m.stamp(e, d)
	e.Notes = notes
	return m.snapshot(e), nil
}

// Unapprove moves a reviewed/approve entry back to pending with no decision.
// Notes are kept.
func (m *Machine) Unapprove(id string) (model.ValidationEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[id]
	if !ok {
		return model.ValidationEntry{}, eris.Wrapf(ErrUnknownEntry, "mapping id %s", id)
	}
	if e.Status != model.StatusReviewed || e.Decision != model.DecisionApprove {
		return m.snapshot(e), eris.Wrapf(ErrIllegalTransition, "unapprove from %s/%s", e.Status, decisionLabel(e.Decision))
	}
	e.Status = model.StatusPendingReview
	e.Decision = model.DecisionNone
	e.ReviewedAt = nil
	return m.snapshot(e), nil
}

// ApplyToGroup applies approve, reject or skip to every member of g and
// returns how many entries changed. Members that were never seeded are
// ignored.
func (m *Machine) ApplyToGroup(g *model.ConsolidatedGroup, d model.Decision) (int, error) {
	if d == model.DecisionModify {
		return 0, ErrBulkModify
	}
	if !d.Valid() {
		return 0, eris.Wrapf(ErrInvalidDecision, "decision %q", d)
	}
	if g == nil {
		return 0, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	seen := make(map[string]bool, len(g.Members))
	for _, mem := range g.Members {
		e, ok := m.entries[mem.MappingID]
		if !ok || seen[mem.MappingID] {
			continue
		}
		seen[mem.MappingID] = true
		m.stamp(e, d)
		n++
	}
	return n, nil
}

// Entry returns a copy of the entry for id.
func (m *Machine) Entry(id string) (model.ValidationEntry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[id]
	if !ok {
		return model.ValidationEntry{}, false
	}
	return m.snapshot(e), true
}

// Entries returns copies of all entries in seed order.
func (m *Machine) Entries() []model.ValidationEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]model.ValidationEntry, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.snapshot(m.entries[id]))
	}
	return out
}

// Reset returns the committed entries to their pristine pending state. An
// entry whose decision, notes or review time changed since the snapshot in
// committed was taken is left alone. It returns how many entries were reset.
func (m *Machine) Reset(committed []model.ValidationEntry) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, c := range committed {
		e, ok := m.entries[c.MappingID]
		if !ok || !unchangedSince(e, c) {
			continue
		}
		e.Status = model.StatusPendingReview
		e.Decision = model.DecisionNone
		e.Notes = ""
		e.ReviewedAt = nil
		n++
	}
	return n
}

func unchangedSince(e *model.ValidationEntry, c model.ValidationEntry) bool {
	if e.Status != c.Status || e.Decision != c.Decision || e.Notes != c.Notes {
		return false
	}
	if e.ReviewedAt == nil || c.ReviewedAt == nil {
		return e.ReviewedAt == nil && c.ReviewedAt == nil
	}
	return e.ReviewedAt.Equal(*c.ReviewedAt)
}

// Len returns the number of entries.
func (m *Machine) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func (m *Machine) stamp(e *model.ValidationEntry, d model.Decision) {
	now := m.clock.Now()
	e.Status = model.StatusReviewed
	e.Decision = d
	e.ReviewedAt = &now
}

func (m *Machine) snapshot(e *model.ValidationEntry) model.ValidationEntry {
	cp := *e
	cp.Flags = slices.Clone(e.Flags)
	if e.ReviewedAt != nil {
		t := *e.ReviewedAt
		cp.ReviewedAt = &t
	}
	return cp
}

func decisionLabel(d model.Decision) string {
	if d == model.DecisionNone {
		return "none"
	}
	return string(d)
}
