// Package aggregate derives the per-document summary and timeline views
// from a flat list of audit events. It performs no I/O.
package aggregate

import (
	"sort"

	"github.com/auditlens/auditlens/internal/audit"
)

// EventTypeGroup aggregates the events sharing one eventId.
type EventTypeGroup struct {
	EventID         string      `json:"eventId"`
	Count           int         `json:"count"`
	FirstOccurrence audit.Event `json:"firstOccurrence"`
	LastOccurrence  audit.Event `json:"lastOccurrence"`
}

// Summary is the per-event-type view of one document's history. FirstEvent
// and LastEvent are nil when there are no events.
type Summary struct {
	UUID       string           `json:"uuid"`
	Events     int              `json:"events"`
	Summary    []EventTypeGroup `json:"summary"`
	FirstEvent *audit.Event     `json:"firstEvent,omitempty"`
	LastEvent  *audit.Event     `json:"lastEvent,omitempty"`
}

// BuildSummary groups events by eventId in first-encounter order, computes
// each group's earliest and latest occurrence, and orders the groups by
// earliest occurrence. Input order is irrelevant to the result except for
// tie-breaking, where the first encountered event wins.
func BuildSummary(uuid string, events []audit.Event) *Summary {
	s := &Summary{
		UUID:    uuid,
		Events:  len(events),
		Summary: []EventTypeGroup{},
	}
	if len(events) == 0 {
		return s
	}

	index := make(map[string]int)
	for _, e := range events {
		i, ok := index[e.EventID]
		if !ok {
			index[e.EventID] = len(s.Summary)
			s.Summary = append(s.Summary, EventTypeGroup{
				EventID:         e.EventID,
				Count:           1,
				FirstOccurrence: e,
				LastOccurrence:  e,
			})
			continue
		}
		g := &s.Summary[i]
		g.Count++
		if e.Before(g.FirstOccurrence) {
			g.FirstOccurrence = e
		}
		if e.After(g.LastOccurrence) {
			g.LastOccurrence = e
		}
	}

	// Groups whose first occurrence is undated sort after all dated ones.
	sort.SliceStable(s.Summary, func(i, j int) bool {
		a, b := s.Summary[i].FirstOccurrence, s.Summary[j].FirstOccurrence
		_, aDated := a.Timestamp()
		_, bDated := b.Timestamp()
		if aDated != bDated {
			return aDated
		}
		return a.Before(b)
	})

	first, last := earliest(events), latest(events)
	s.FirstEvent, s.LastEvent = &first, &last
	return s
}

// earliest is a stable minimum fold: a later element replaces the running
// candidate only if strictly earlier. events must be non-empty.
func earliest(events []audit.Event) audit.Event {
	best := events[0]
	for _, e := range events[1:] {
		if e.Before(best) {
			best = e
		}
	}
	return best
}

func latest(events []audit.Event) audit.Event {
	best := events[0]
	for _, e := range events[1:] {
		if e.After(best) {
			best = e
		}
	}
	return best
}
