package aggregate

import (
	"github.com/auditlens/auditlens/internal/audit"
)

// Segment is the interval between two consecutive events.
type Segment struct {
	StartEvent        audit.Event `json:"startEvent"`
	EndEvent          audit.Event `json:"endEvent"`
	StartTime         string      `json:"startTime"`
	EndTime           string      `json:"endTime"`
	DurationMs        int64       `json:"durationMs"`
	DurationFormatted string      `json:"durationFormatted"`
}

// Timeline is the chronological view of one document's history. With no
// events only UUID, Events and the empty Timeline are set.
type Timeline struct {
	UUID                   string       `json:"uuid"`
	Events                 int          `json:"events"`
	Timeline               []Segment    `json:"timeline"`
	FirstEvent             *audit.Event `json:"firstEvent,omitempty"`
	LastEvent              *audit.Event `json:"lastEvent,omitempty"`
	TotalDurationMs        *int64       `json:"totalDurationMs,omitempty"`
	TotalDurationFormatted string       `json:"totalDurationFormatted,omitempty"`
}

// BuildTimeline walks events pairwise in the order given. Callers fetch
// them sorted by eventDate ascending; the order is not re-checked here, so
// out-of-order input yields negative durations.
func BuildTimeline(uuid string, events []audit.Event) *Timeline {
	tl := &Timeline{
		UUID:     uuid,
		Events:   len(events),
		Timeline: []Segment{},
	}
	if len(events) == 0 {
		return tl
	}

	for i := 1; i < len(events); i++ {
		start, end := events[i-1], events[i]
		d := between(start, end)
		tl.Timeline = append(tl.Timeline, Segment{
			StartEvent:        start,
			EndEvent:          end,
			StartTime:         instant(start),
			EndTime:           instant(end),
			DurationMs:        d,
			DurationFormatted: FormatDuration(d),
		})
	}

	first, last := events[0], events[len(events)-1]
	total := between(first, last)
	tl.FirstEvent = &first
	tl.LastEvent = &last
	tl.TotalDurationMs = &total
	tl.TotalDurationFormatted = FormatDuration(total)
	return tl
}

// between returns end - start in milliseconds, or 0 when either event has
// no timestamp. Both instants are truncated to the millisecond first, the
// precision FormatInstant renders.
func between(start, end audit.Event) int64 {
	s, ok := start.Timestamp()
	if !ok {
		return 0
	}
	e, ok := end.Timestamp()
	if !ok {
		return 0
	}
	return e.UnixMilli() - s.UnixMilli()
}

func instant(e audit.Event) string {
	t, ok := e.Timestamp()
	if !ok {
		return ""
	}
	return audit.FormatInstant(t)
}
