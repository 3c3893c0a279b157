package intent

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// hashLen is the number of hex characters kept from a sha256 digest.
// 128 bits is plenty for collision resistance at this scale and keeps
// the hashes readable in logs and diffs.
const hashLen = 32

// CanonicalJSON renders a value as deterministic JSON: object keys
// sorted, no insignificant whitespace. The round-trip through an
// untyped map normalizes struct field order.
func CanonicalJSON(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonical json: %w", err)
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("canonical json: %w", err)
	}
	out, err := json.Marshal(generic)
	if err != nil {
		return nil, fmt.Errorf("canonical json: %w", err)
	}
	return out, nil
}

// HashValue hashes a value's canonical JSON form.
func HashValue(v any) (string, error) {
	canon, err := CanonicalJSON(v)
	if err != nil {
		return "", err
	}
	return HashBytes(canon), nil
}

// HashBytes returns the truncated hex sha256 of raw bytes.
func HashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])[:hashLen]
}

// IdentityHash hashes the stable identity of an event. Dates never
// appear in the input, so date-only edits keep the same hash.
func IdentityHash(id Identity) (string, error) {
	return HashValue(id)
}

// subEventState is the hashed projection of a sub-event. Everything
// that should count as "changed" for sync purposes is listed here,
// including the execution order and the bundle's date range.
type subEventState struct {
	Type      SubEventType       `json:"type"`
	Target    string             `json:"target"`
	AllDay    bool               `json:"allDay"`
	StartDate DateValue          `json:"startDate"`
	EndDate   DateValue          `json:"endDate"`
	StartTime *TimeValue         `json:"startTime,omitempty"`
	EndTime   *TimeValue         `json:"endTime,omitempty"`
	Days      *WeekdayConstraint `json:"days,omitempty"`
	Timezone  string             `json:"timezone,omitempty"`
	Behavior  Behavior           `json:"behavior"`
	Payload   map[string]string  `json:"payload,omitempty"`
	Role      Role               `json:"role"`
	BundleID  string             `json:"bundleId"`
	Order     int                `json:"executionOrder"`
}

// SubEventStateHash hashes the full observable state of one sub-event.
func SubEventStateHash(s SubEvent) string {
	state := subEventState{
		Type:      s.Type,
		Target:    s.Target,
		AllDay:    s.Timing.AllDay,
		StartDate: s.Timing.StartDate,
		EndDate:   s.Timing.EndDate,
		StartTime: s.Timing.StartTime,
		EndTime:   s.Timing.EndTime,
		Days:      s.Timing.Days,
		Timezone:  s.Timing.Timezone,
		Behavior:  s.Behavior,
		Payload:   s.Payload,
		Role:      s.Role,
		BundleID:  s.BundleID,
		Order:     s.ExecutionOrder,
	}
	h, err := HashValue(state)
	if err != nil {
		// The projection contains only marshalable fields; an error
		// here means a programming bug, not bad input.
		panic(err)
	}
	return h
}

// EventStateHash combines the identity hash with the sorted sub-event
// state hashes. Sorting makes the result independent of sub-event
// slice order.
func EventStateHash(identityHash string, subs []SubEvent) string {
	hashes := make([]string, len(subs))
	for i, s := range subs {
		hashes[i] = SubEventStateHash(s)
	}
	sort.Strings(hashes)
	return HashBytes([]byte(identityHash + "|" + strings.Join(hashes, "|")))
}
