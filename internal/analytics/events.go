package analytics

import "time"

type LookupKind string

const (
	LookupByUUID     LookupKind = "by_uuid"
	LookupByTitle    LookupKind = "by_title"
	LookupSummary    LookupKind = "summary"
	LookupTimeline   LookupKind = "timeline"
	LookupEventTypes LookupKind = "event_types"
)

// LookupEvent records one audit API call. Target is the document
// identifier or the title searched for; it is empty for catalog lookups.
type LookupEvent struct {
	Kind      LookupKind `json:"kind"`
	Target    string     `json:"target,omitempty"`
	Total     int64      `json:"total"`
	Returned  int        `json:"returned"`
	Empty     bool       `json:"empty"`
	Failed    bool       `json:"failed"`
	CacheHit  bool       `json:"cache_hit,omitempty"`
	LatencyMs int64      `json:"latency_ms"`
	Timestamp time.Time  `json:"timestamp"`
	RequestID string     `json:"request_id"`
}

// Tracker accepts lookup events without blocking the caller.
type Tracker interface {
	Track(event LookupEvent)
}
