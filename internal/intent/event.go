package intent

import (
	"errors"
	"fmt"
	"sort"
)

var (
	ErrDuplicateIdentity = errors.New("duplicate event identity")
	ErrNoSubEvents       = errors.New("event has no sub-events")
	ErrUnknownType       = errors.New("unknown sub-event type")
)

// InvariantError reports a manifest event that violates a structural
// invariant, with enough context to point at the offending part.
type InvariantError struct {
	Identity string
	Field    string
	Reason   string
}

func (e *InvariantError) Error() string {
	if e.Identity == "" {
		return fmt.Sprintf("invariant violation: %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("invariant violation on %s: %s: %s", e.Identity, e.Field, e.Reason)
}

// SubEventType says what a sub-event starts on the player.
type SubEventType string

const (
	PlaylistEvent SubEventType = "playlist"
	CommandEvent  SubEventType = "command"
	SequenceEvent SubEventType = "sequence"
)

// ParseSubEventType canonicalizes and validates a type string.
func ParseSubEventType(s string) (SubEventType, error) {
	switch SubEventType(s) {
	case PlaylistEvent, CommandEvent, SequenceEvent:
		return SubEventType(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownType, s)
}

// Role separates the recurring base of an event from its exception
// overrides.
type Role string

const (
	BaseRole     Role = "base"
	OverrideRole Role = "override"
)

// Repeat modes, matching the player's repeat field.
const (
	RepeatNone      = 0
	RepeatImmediate = 1
)

// Stop types, matching the player's stopType field.
const (
	StopGraceful     = 0
	StopHard         = 1
	StopGracefulLoop = 2
)

// Behavior carries the playback flags of a sub-event.
type Behavior struct {
	Enabled  bool `json:"enabled"`
	Repeat   int  `json:"repeat"`
	StopType int  `json:"stopType"`
}

// SubEvent is one scheduled window of an event: the base recurrence
// segment or an override for specific dates. Sub-events of one event
// share its identity; their own state feeds the event state hash.
type SubEvent struct {
	Type           SubEventType      `json:"type"`
	Target         string            `json:"target"`
	Timing         Timing            `json:"timing"`
	Behavior       Behavior          `json:"behavior"`
	Payload        map[string]string `json:"payload,omitempty"`
	Role           Role              `json:"role"`
	BundleID       string            `json:"bundleId"`
	ExecutionOrder int               `json:"executionOrder"`
	SourceUID      string            `json:"sourceUid,omitempty"`
}

// Validate checks one sub-event in isolation.
func (s SubEvent) Validate() error {
	if _, err := ParseSubEventType(string(s.Type)); err != nil {
		return err
	}
	if s.Target == "" {
		return &InvariantError{Field: "target", Reason: "empty"}
	}
	if s.Role != BaseRole && s.Role != OverrideRole {
		return &InvariantError{Field: "role", Reason: fmt.Sprintf("unknown role %q", s.Role)}
	}
	if err := s.Timing.Validate(); err != nil {
		return &InvariantError{Field: "timing", Reason: err.Error()}
	}
	return nil
}

// BundleIDFor derives the bundle id of a resolution segment from its
// date range. Segments of one event never share a date range, so the
// id is unique within the event and sorts in calendar order.
func BundleIDFor(start, end DateValue) string {
	return fmt.Sprintf("%s..%s", start.String(), end.String())
}

// Ownership says who controls an event on the player side.
type Ownership struct {
	Managed    bool   `json:"managed"`
	Controller string `json:"controller,omitempty"`
	Locked     bool   `json:"locked,omitempty"`
}

// Correlation ties a manifest event back to its remote counterpart.
type Correlation struct {
	Source     string `json:"source,omitempty"`
	ExternalID string `json:"externalId,omitempty"`
	CalendarID string `json:"calendarId,omitempty"`
	ETag       string `json:"etag,omitempty"`
}

// Status is the derived run state of an event.
type Status struct {
	Enabled bool `json:"enabled"`
}

// Provenance records where and when an event entered the manifest.
type Provenance struct {
	Origin        string `json:"origin,omitempty"`
	Provider      string `json:"provider,omitempty"`
	SyncedAtEpoch int64  `json:"syncedAtEpoch,omitempty"`
}

// IdentityTiming is the slice of a base sub-event's timing that
// participates in identity: dates are deliberately excluded so that a
// pure date shift stays an update of the same event.
type IdentityTiming struct {
	AllDay    bool               `json:"allDay"`
	StartTime *TimeValue         `json:"startTime,omitempty"`
	EndTime   *TimeValue         `json:"endTime,omitempty"`
	Days      *WeekdayConstraint `json:"days,omitempty"`
}

// Identity is the stable key of a manifest event.
type Identity struct {
	Type   SubEventType   `json:"type"`
	Target string         `json:"target"`
	Timing IdentityTiming `json:"timing"`
}

// ManifestEvent is one synchronized scheduling intent with all of its
// resolved sub-events.
type ManifestEvent struct {
	Identity     Identity    `json:"identity"`
	SubEvents    []SubEvent  `json:"subEvents"`
	Ownership    Ownership   `json:"ownership"`
	Correlation  Correlation `json:"correlation"`
	Status       Status      `json:"status"`
	Provenance   Provenance  `json:"provenance"`
	IdentityHash string      `json:"identityHash"`
	StateHash    string      `json:"stateHash"`
}

// identityKey orders sub-events for identity selection. Symbolic parts
// sort before hard ones via the "~" sentinel; absent hard parts sort
// last.
type identityKey struct {
	symbolicDate string
	hardDate     string
	symbolicTime string
	hardTime     string
	offset       int
	allDay       int
	stateHash    string
}

func subEventIdentityKey(s SubEvent) identityKey {
	k := identityKey{
		symbolicDate: "~",
		hardDate:     "~",
		symbolicTime: "~",
		hardTime:     "~",
		stateHash:    SubEventStateHash(s),
	}
	if s.Timing.StartDate.Symbolic != nil {
		k.symbolicDate = string(*s.Timing.StartDate.Symbolic)
	}
	if s.Timing.StartDate.Hard != nil {
		k.hardDate = string(*s.Timing.StartDate.Hard)
	}
	if s.Timing.StartTime != nil {
		if s.Timing.StartTime.Symbolic != nil {
			k.symbolicTime = string(*s.Timing.StartTime.Symbolic)
		}
		if s.Timing.StartTime.Hard != nil {
			k.hardTime = *s.Timing.StartTime.Hard
		}
		k.offset = s.Timing.StartTime.OffsetMinutes
	}
	if s.Timing.AllDay {
		k.allDay = 1
	}
	return k
}

func (k identityKey) less(other identityKey) bool {
	if k.symbolicDate != other.symbolicDate {
		return k.symbolicDate < other.symbolicDate
	}
	if k.hardDate != other.hardDate {
		return k.hardDate < other.hardDate
	}
	if k.symbolicTime != other.symbolicTime {
		return k.symbolicTime < other.symbolicTime
	}
	if k.hardTime != other.hardTime {
		return k.hardTime < other.hardTime
	}
	if k.offset != other.offset {
		return k.offset < other.offset
	}
	if k.allDay != other.allDay {
		return k.allDay < other.allDay
	}
	return k.stateHash < other.stateHash
}

// identitySubEvent picks the sub-event whose timing defines the event
// identity: the minimal base-role sub-event under the identity key, or
// the minimal sub-event overall when no base exists.
func identitySubEvent(subs []SubEvent) (SubEvent, error) {
	if len(subs) == 0 {
		return SubEvent{}, ErrNoSubEvents
	}
	candidates := make([]SubEvent, 0, len(subs))
	for _, s := range subs {
		if s.Role == BaseRole {
			candidates = append(candidates, s)
		}
	}
	if len(candidates) == 0 {
		candidates = subs
	}
	best := candidates[0]
	bestKey := subEventIdentityKey(best)
	for _, s := range candidates[1:] {
		if k := subEventIdentityKey(s); k.less(bestKey) {
			best, bestKey = s, k
		}
	}
	return best, nil
}

// Finalize validates the sub-events, sorts them canonically, derives
// the identity from the identity-bearing base sub-event and computes
// both hashes. Every pipeline stage that builds or mutates an event
// finishes by calling Finalize.
func (e *ManifestEvent) Finalize() error {
	if len(e.SubEvents) == 0 {
		return ErrNoSubEvents
	}
	for _, s := range e.SubEvents {
		if err := s.Validate(); err != nil {
			return err
		}
	}
	SortSubEvents(e.SubEvents)
	id, err := identitySubEvent(e.SubEvents)
	if err != nil {
		return err
	}
	e.Identity = Identity{
		Type:   id.Type,
		Target: id.Target,
		Timing: IdentityTiming{
			AllDay:    id.Timing.AllDay,
			StartTime: id.Timing.StartTime,
			EndTime:   id.Timing.EndTime,
			Days:      id.Timing.Days,
		},
	}
	e.IdentityHash, err = IdentityHash(e.Identity)
	if err != nil {
		return err
	}
	e.StateHash = EventStateHash(e.IdentityHash, e.SubEvents)
	enabled := false
	for _, s := range e.SubEvents {
		if s.Behavior.Enabled {
			enabled = true
			break
		}
	}
	e.Status.Enabled = enabled
	return nil
}

// Clone copies the event with its own sub-event slice, so a caller
// can renumber and reseal the copy without touching the original.
// Timing internals are shared; nothing mutates those in place.
func (e *ManifestEvent) Clone() *ManifestEvent {
	c := *e
	c.SubEvents = make([]SubEvent, len(e.SubEvents))
	copy(c.SubEvents, e.SubEvents)
	return &c
}

// SortSubEvents orders sub-events canonically: bundles in date order,
// base before overrides inside a bundle, state hash as final tiebreak.
func SortSubEvents(subs []SubEvent) {
	sort.SliceStable(subs, func(i, j int) bool {
		a, b := subs[i], subs[j]
		if a.BundleID != b.BundleID {
			return a.BundleID < b.BundleID
		}
		if a.Role != b.Role {
			return a.Role == BaseRole
		}
		return SubEventStateHash(a) < SubEventStateHash(b)
	})
}

// Manifest is the synchronized event set, keyed by identity hash.
type Manifest struct {
	Version     int                       `json:"version"`
	GeneratedAt int64                     `json:"generatedAtEpoch"`
	Source      string                    `json:"source,omitempty"`
	Events      map[string]*ManifestEvent `json:"events"`
}

// ManifestVersion is the current on-disk manifest format version.
const ManifestVersion = 1

// NewManifest allocates an empty manifest for the given source.
func NewManifest(source string) *Manifest {
	return &Manifest{
		Version: ManifestVersion,
		Source:  source,
		Events:  make(map[string]*ManifestEvent),
	}
}

// Add finalizes the event and inserts it, rejecting identity
// collisions.
func (m *Manifest) Add(e *ManifestEvent) error {
	if err := e.Finalize(); err != nil {
		return err
	}
	if _, exists := m.Events[e.IdentityHash]; exists {
		return fmt.Errorf("%w: %s (%s %s)", ErrDuplicateIdentity, e.IdentityHash, e.Identity.Type, e.Identity.Target)
	}
	m.Events[e.IdentityHash] = e
	return nil
}

// Get looks an event up by identity hash.
func (m *Manifest) Get(identityHash string) (*ManifestEvent, bool) {
	e, ok := m.Events[identityHash]
	return e, ok
}

// Len reports the event count.
func (m *Manifest) Len() int { return len(m.Events) }

// Sorted returns the events ordered by identity hash. Every traversal
// that feeds hashing, diffing or planning goes through this.
func (m *Manifest) Sorted() []*ManifestEvent {
	out := make([]*ManifestEvent, 0, len(m.Events))
	for _, e := range m.Events {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IdentityHash < out[j].IdentityHash })
	return out
}
