// Package audit defines the audit event record returned by the index. An
// Event exposes the fields the service reasons about and keeps every other
// _source attribute so the record serializes back unchanged.
package audit

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// Known _source keys.
const (
	FieldDocUUID       = "docUUID"
	FieldEventID       = "eventId"
	FieldEventDate     = "eventDate"
	FieldCategory      = "category"
	FieldComment       = "comment"
	FieldPrincipalName = "principalName"
	FieldDocPath       = "docPath"
	FieldDocType       = "docType"
	FieldDocLifeCycle  = "docLifeCycle"
	FieldRepositoryID  = "repositoryId"
	FieldLogDate       = "logDate"
	FieldExtended      = "extended"
)

// Event is one audit record. It is treated as an immutable value.
type Event struct {
	DocUUID       string
	EventID       string
	EventDate     string
	Category      string
	Comment       string
	PrincipalName string
	DocPath       string
	DocType       string
	DocLifeCycle  string
	RepositoryID  string
	LogDate       string
	Extended      map[string]any

	// Attributes holds every _source key not listed above, verbatim, plus
	// extended when it is not an object.
	Attributes map[string]json.RawMessage

	// blank keeps the raw "" or null of known keys that were present but
	// empty, so they serialize back as they came in.
	blank map[string]json.RawMessage

	timestamp time.Time
	hasTime   bool
}

// Timestamp returns the parsed EventDate. ok is false when EventDate is
// missing or not a recognised ISO-8601 instant.
func (e Event) Timestamp() (t time.Time, ok bool) {
	return e.timestamp, e.hasTime
}

// Before reports whether e happened strictly before other. Events without
// a timestamp are never before or after anything.
func (e Event) Before(other Event) bool {
	return e.hasTime && other.hasTime && e.timestamp.Before(other.timestamp)
}

// After reports whether e happened strictly after other.
func (e Event) After(other Event) bool {
	return e.hasTime && other.hasTime && e.timestamp.After(other.timestamp)
}

// WithEventDate returns a copy of e with EventDate set and re-parsed.
func (e Event) WithEventDate(date string) Event {
	e.EventDate = date
	e.timestamp, e.hasTime = ParseInstant(date)
	return e
}

var instantLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999Z0700",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02",
}

// ParseInstant parses the ISO-8601 variants the audit index emits. Values
// without a zone are read as UTC.
func ParseInstant(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range instantLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// FormatInstant renders t as a UTC instant with millisecond precision,
// e.g. 2024-03-01T09:30:00.000Z.
func FormatInstant(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}

func (e *Event) knownStrings() []struct {
	key string
	dst *string
} {
	return []struct {
		key string
		dst *string
	}{
		{FieldDocUUID, &e.DocUUID},
		{FieldEventID, &e.EventID},
		{FieldEventDate, &e.EventDate},
		{FieldCategory, &e.Category},
		{FieldComment, &e.Comment},
		{FieldPrincipalName, &e.PrincipalName},
		{FieldDocPath, &e.DocPath},
		{FieldDocType, &e.DocType},
		{FieldDocLifeCycle, &e.DocLifeCycle},
		{FieldRepositoryID, &e.RepositoryID},
		{FieldLogDate, &e.LogDate},
	}
}

// UnmarshalJSON splits an index _source document into known fields and
// the open attribute bag.
func (e *Event) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decoding audit event: %w", err)
	}
	*e = Event{}

	for _, f := range e.knownStrings() {
		v, ok := raw[f.key]
		if !ok {
			continue
		}
		delete(raw, f.key)
		if isNull(v) {
			e.keepBlank(f.key, v)
			continue
		}
		if err := json.Unmarshal(v, f.dst); err != nil {
			// Keep non-string values (e.g. numeric repository ids) verbatim.
			raw[f.key] = v
			continue
		}
		if *f.dst == "" {
			e.keepBlank(f.key, v)
		}
	}
	if v, ok := raw[FieldExtended]; ok && !isNull(v) {
		if ext, err := decodeObject(v); err == nil {
			e.Extended = ext
			delete(raw, FieldExtended)
		}
	}
	if len(raw) > 0 {
		e.Attributes = raw
	}
	e.timestamp, e.hasTime = ParseInstant(e.EventDate)
	return nil
}

// MarshalJSON writes known fields followed by the preserved attributes, in
// key order.
func (e Event) MarshalJSON() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(e.Attributes)+12)
	for k, v := range e.Attributes {
		out[k] = v
	}
	for _, f := range (&e).knownStrings() {
		if *f.dst == "" {
			if v, ok := e.blank[f.key]; ok {
				out[f.key] = v
			}
			continue
		}
		b, err := json.Marshal(*f.dst)
		if err != nil {
			return nil, err
		}
		out[f.key] = b
	}
	if e.Extended != nil {
		b, err := json.Marshal(e.Extended)
		if err != nil {
			return nil, fmt.Errorf("encoding extended attributes: %w", err)
		}
		out[FieldExtended] = b
	}

	keys := make([]string, 0, len(out))
	for k := range out {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, _ := json.Marshal(k)
		buf.Write(kb)
		buf.WriteByte(':')
		buf.Write(out[k])
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (e *Event) keepBlank(key string, v json.RawMessage) {
	if e.blank == nil {
		e.blank = make(map[string]json.RawMessage)
	}
	e.blank[key] = v
}

func isNull(v json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(v), []byte("null"))
}

// decodeObject decodes a JSON object keeping numbers as json.Number so
// large integer ids survive re-encoding.
func decodeObject(v json.RawMessage) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(v))
	dec.UseNumber()
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return nil, err
	}
	return obj, nil
}
