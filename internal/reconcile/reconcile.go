// Package reconcile combines the calendar-side and player-side
// manifests with the last synced state into an ordered plan. Every
// identity gets exactly one plan item saying what happens to it, in
// which direction, and why; sync-mode gating and the unmanaged
// boundary are applied here so the apply engine only ever sees
// decisions, never policy.
package reconcile

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/fppkit/calbridge/internal/authority"
	"github.com/fppkit/calbridge/internal/diff"
	"github.com/fppkit/calbridge/internal/intent"
)

// ErrBadSyncMode rejects unknown sync mode spellings.
var ErrBadSyncMode = errors.New("unknown sync mode")

// SyncMode gates which directions a run may execute.
type SyncMode string

const (
	ModeBoth          SyncMode = "both"
	ModeCalendarToFpp SyncMode = "calendar-to-fpp"
	ModeFppToCalendar SyncMode = "fpp-to-calendar"
)

// ParseSyncMode canonicalizes a mode string. The short forms name the
// master side: "calendar" means changes flow only calendar to player.
func ParseSyncMode(s string) (SyncMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "both":
		return ModeBoth, nil
	case "calendar", "calendar-to-fpp":
		return ModeCalendarToFpp, nil
	case "fpp", "fpp-to-calendar":
		return ModeFppToCalendar, nil
	}
	return "", fmt.Errorf("%w: %q", ErrBadSyncMode, s)
}

// Permits reports whether the mode allows changes in a direction.
func (m SyncMode) Permits(d authority.Direction) bool {
	switch m {
	case ModeBoth:
		return true
	case ModeCalendarToFpp:
		return d == authority.CalendarToFpp
	case ModeFppToCalendar:
		return d == authority.FppToCalendar
	}
	return false
}

// Op classifies a plan item.
type Op string

const (
	OpCreate   Op = "create"
	OpUpdate   Op = "update"
	OpDelete   Op = "delete"
	OpConflict Op = "conflict"
	OpNoop     Op = "noop"
)

// Plan item reasons produced here; authoritative-side reasons come
// from the authority package verbatim.
const (
	ReasonUnmanaged       = "unmanaged-protected"
	ReasonOutOfScope      = "out-of-scope"
	ReasonInSync          = "in-sync"
	ReasonTombstone       = "calendar-tombstone"
	ReasonConverged       = "converged-absent"
	ReasonCalendarChanged = "calendar-changed"
	ReasonConflict        = "divergent-unproven"
)

// Item is the decision for one identity. Event carries the state to
// write for creates and updates; Current is the counterpart state it
// replaces, when one exists.
type Item struct {
	IdentityHash      string                `json:"identityHash"`
	Op                Op                    `json:"operation"`
	Direction         authority.Direction   `json:"direction,omitempty"`
	AuthoritativeSide authority.Side        `json:"authoritativeSide,omitempty"`
	Reason            string                `json:"reason"`
	Blocked           bool                  `json:"blocked,omitempty"`
	Event             *intent.ManifestEvent `json:"payload,omitempty"`
	Current           *intent.ManifestEvent `json:"-"`
}

// Executable reports whether the item demands a write this run.
func (it Item) Executable() bool {
	switch it.Op {
	case OpCreate, OpUpdate, OpDelete:
		return !it.Blocked
	}
	return false
}

// Label names the item for logs: type and target when known.
func (it Item) Label() string {
	ev := it.Event
	if ev == nil {
		ev = it.Current
	}
	if ev == nil {
		return it.IdentityHash
	}
	return fmt.Sprintf("%s %s", ev.Identity.Type, ev.Identity.Target)
}

// Counts summarizes a plan.
type Counts struct {
	Creates   int `json:"creates"`
	Updates   int `json:"updates"`
	Deletes   int `json:"deletes"`
	Conflicts int `json:"conflicts"`
	Blocked   int `json:"blocked"`
	Noops     int `json:"noops"`
}

// Plan is the ordered reconciliation outcome plus the tombstone
// bookkeeping the persistence layer applies after a successful run.
type Plan struct {
	GeneratedAt int64    `json:"generatedAtEpoch"`
	CalendarID  string   `json:"calendarId"`
	Mode        SyncMode `json:"mode"`
	Items       []Item   `json:"items"`

	AddCalendarTombstones    []string `json:"addCalendarTombstones,omitempty"`
	AddFppTombstones         []string `json:"addFppTombstones,omitempty"`
	ExpireCalendarTombstones []string `json:"expireCalendarTombstones,omitempty"`
	ExpireFppTombstones      []string `json:"expireFppTombstones,omitempty"`
}

func (p *Plan) Executable() []Item {
	var out []Item
	for _, it := range p.Items {
		if it.Executable() {
			out = append(out, it)
		}
	}
	return out
}

func (p *Plan) Conflicts() []Item {
	var out []Item
	for _, it := range p.Items {
		if it.Op == OpConflict {
			out = append(out, it)
		}
	}
	return out
}

func (p *Plan) BlockedItems() []Item {
	var out []Item
	for _, it := range p.Items {
		if it.Blocked {
			out = append(out, it)
		}
	}
	return out
}

// Empty reports whether the run has nothing to execute and nothing to
// complain about.
func (p *Plan) Empty() bool {
	return len(p.Executable()) == 0 && len(p.Conflicts()) == 0
}

func (p *Plan) Counts() Counts {
	var c Counts
	for _, it := range p.Items {
		if it.Blocked {
			c.Blocked++
		}
		switch it.Op {
		case OpCreate:
			c.Creates++
		case OpUpdate:
			c.Updates++
		case OpDelete:
			c.Deletes++
		case OpConflict:
			c.Conflicts++
		case OpNoop:
			c.Noops++
		}
	}
	return c
}

// ScopedKey namespaces a calendar tombstone to its calendar.
func ScopedKey(calendarID, identityHash string) string {
	return calendarID + "::" + identityHash
}

func splitScopedKey(key string) (scope, identityHash string, ok bool) {
	i := strings.Index(key, "::")
	if i < 0 {
		return "", "", false
	}
	return key[:i], key[i+2:], true
}

// Inputs are the collaborators of one reconciliation. Calendar and Fpp
// are the two desired manifests, Current the last synced state.
// FppEpochs carries per-identity player-side timestamps; the tombstone
// maps are the persisted sets from the previous run.
type Inputs struct {
	Calendar   *intent.Manifest
	Fpp        *intent.Manifest
	Current    *intent.Manifest
	CalendarID string
	Mode       SyncMode
	NowEpoch   int64

	FppEpochs          map[string]int64
	CalendarTombstones map[string]int64
	FppTombstones      map[string]int64
}

// sideView is one side's take on an identity.
type sideView struct {
	present bool
	changed bool
	ev      *intent.ManifestEvent
}

type view struct {
	cal sideView
	fpp sideView
	cur *intent.ManifestEvent
}

// Build produces the plan. The two diffs against current classify each
// side's divergence; the decision table below turns the joint view of
// every identity into exactly one item.
func Build(in Inputs) (*Plan, error) {
	mode, err := ParseSyncMode(string(in.Mode))
	if err != nil {
		return nil, err
	}
	calDiff, err := diff.Compute(in.Calendar, in.Current)
	if err != nil {
		return nil, fmt.Errorf("calendar side: %w", err)
	}
	fppDiff, err := diff.Compute(in.Fpp, in.Current)
	if err != nil {
		return nil, fmt.Errorf("player side: %w", err)
	}

	views := joinViews(calDiff, fppDiff)
	ids := make([]string, 0, len(views))
	for id := range views {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	now := in.NowEpoch
	if now == 0 {
		now = time.Now().Unix()
	}
	plan := &Plan{GeneratedAt: now, CalendarID: in.CalendarID, Mode: mode}

	for _, id := range ids {
		item := decide(in, id, views[id])
		if !mode.Permits(item.Direction) && item.Executable() {
			item.Blocked = true
		}
		// blocked deletes leave the row in place, so no tombstone yet
		if item.Op == OpDelete && item.Executable() {
			switch item.Direction {
			case authority.CalendarToFpp:
				plan.AddCalendarTombstones = append(plan.AddCalendarTombstones, id)
			case authority.FppToCalendar:
				plan.AddFppTombstones = append(plan.AddFppTombstones, id)
			}
		}
		plan.Items = append(plan.Items, item)
	}

	sortItems(plan.Items)
	plan.expireTombstones(in)
	return plan, nil
}

func joinViews(calDiff, fppDiff *diff.Result) map[string]*view {
	views := make(map[string]*view)
	at := func(id string) *view {
		v, ok := views[id]
		if !ok {
			v = &view{}
			views[id] = v
		}
		return v
	}
	fill := func(res *diff.Result, pick func(*view) *sideView) {
		for _, en := range res.Creates {
			v := at(en.IdentityHash)
			*pick(v) = sideView{present: true, changed: true, ev: en.Desired}
		}
		for _, en := range res.Updates {
			v := at(en.IdentityHash)
			*pick(v) = sideView{present: true, changed: true, ev: en.Desired}
			v.cur = en.Current
		}
		for _, en := range res.Deletes {
			v := at(en.IdentityHash)
			*pick(v) = sideView{changed: true}
			v.cur = en.Current
		}
		for _, en := range res.Unchanged {
			v := at(en.IdentityHash)
			*pick(v) = sideView{present: true, ev: en.Desired}
			v.cur = en.Current
		}
	}
	fill(calDiff, func(v *view) *sideView { return &v.cal })
	fill(fppDiff, func(v *view) *sideView { return &v.fpp })

	// absence from the calendar only counts as a change for identities
	// that were actually on the calendar
	for _, v := range views {
		if !v.cal.present && v.cal.changed && v.cur != nil && !wasOnCalendar(v.cur) {
			v.cal.changed = false
		}
	}
	return views
}

func wasOnCalendar(ev *intent.ManifestEvent) bool {
	return ev.Correlation.Source == "calendar" && ev.Correlation.ExternalID != ""
}

func decide(in Inputs, id string, v *view) Item {
	cal, fpp, cur := v.cal.ev, v.fpp.ev, v.cur
	item := Item{IdentityHash: id}

	if cur != nil && !cur.Ownership.Managed {
		item.Op, item.Reason, item.Current = OpNoop, ReasonUnmanaged, cur
		return item
	}
	if fpp != nil && !fpp.Ownership.Managed {
		item.Op, item.Reason, item.Current = OpNoop, ReasonUnmanaged, fpp
		return item
	}
	if scope := scopeOf(cal, fpp, cur); scope != "" && scope != in.CalendarID {
		item.Op, item.Reason, item.Current = OpNoop, ReasonOutOfScope, coalesce(cur, fpp)
		return item
	}
	if !v.cal.changed && !v.fpp.changed {
		item.Op, item.Reason, item.Current = OpNoop, ReasonInSync, coalesce(cur, fpp, cal)
		return item
	}

	// a calendar-side deletion never resurrects: the row goes instead
	if !v.cal.present && v.fpp.present && tombstoned(in, id, cur) {
		item.Op = OpDelete
		item.Direction = authority.CalendarToFpp
		item.AuthoritativeSide = authority.CalendarSide
		item.Reason = ReasonTombstone
		item.Current = coalesce(cur, fpp)
		return item
	}

	var calEpoch int64
	if cal != nil {
		calEpoch = cal.Provenance.SyncedAtEpoch
	}
	dec := authority.Decide(calEpoch, in.FppEpochs[id])

	switch {
	case v.cal.changed && !v.fpp.changed:
		item.Direction = authority.CalendarToFpp
		item.AuthoritativeSide = authority.CalendarSide
		item.Reason = ReasonCalendarChanged
		if dec.Proven() && dec.Direction == authority.CalendarToFpp {
			item.Reason = dec.Reason
		}
		item.Event, item.Current = cal, coalesce(fpp, cur)
		switch {
		case !v.cal.present:
			item.Op = OpDelete
		case !v.fpp.present:
			item.Op = OpCreate
		default:
			item.Op = OpUpdate
		}

	case v.fpp.changed && !v.cal.changed:
		if v.cal.present && v.fpp.present && contentHash(cal) == contentHash(fpp) {
			// row order drift only: canonical order always wins
			item.Op = OpUpdate
			item.Direction = authority.CalendarToFpp
			item.AuthoritativeSide = authority.CalendarSide
			item.Reason = authority.ReasonPlannerDefault
			item.Event, item.Current = cal, fpp
			return item
		}
		switch {
		case !v.fpp.present:
			// row hand-deleted on the player
			if dec.Proven() && dec.Side == authority.FppSide {
				item.Op = OpDelete
				item.Direction = authority.FppToCalendar
				item.AuthoritativeSide = authority.FppSide
				item.Reason = dec.Reason
				item.Current = coalesce(cur, cal)
			} else {
				item.Op = OpCreate
				item.Direction = authority.CalendarToFpp
				item.AuthoritativeSide = authority.CalendarSide
				item.Reason = dec.Reason
				item.Event, item.Current = cal, cur
			}
		case !v.cal.present:
			// managed player state with no calendar counterpart
			item.Op = OpCreate
			item.Direction = authority.FppToCalendar
			item.AuthoritativeSide = authority.FppSide
			item.Reason = dec.Reason
			item.Event, item.Current = fpp, cur
		default:
			item.Op = OpUpdate
			item.Direction = dec.Direction
			item.AuthoritativeSide = dec.Side
			item.Reason = dec.Reason
			if dec.Direction == authority.CalendarToFpp {
				item.Event, item.Current = cal, fpp
			} else {
				item.Event, item.Current = fpp, cal
			}
		}

	default: // both sides diverged
		if !v.cal.present && !v.fpp.present {
			item.Op, item.Reason, item.Current = OpNoop, ReasonConverged, cur
			return item
		}
		if !dec.Proven() {
			item.Op = OpConflict
			item.Reason = ReasonConflict
			item.Event, item.Current = cal, coalesce(fpp, cur)
			return item
		}
		item.Direction = dec.Direction
		item.AuthoritativeSide = dec.Side
		item.Reason = dec.Reason
		if dec.Direction == authority.CalendarToFpp {
			item.Event, item.Current = cal, coalesce(fpp, cur)
			switch {
			case !v.cal.present:
				item.Op, item.Event = OpDelete, nil
			case !v.fpp.present:
				item.Op = OpCreate
			default:
				item.Op = OpUpdate
			}
		} else {
			item.Event, item.Current = fpp, coalesce(cal, cur)
			switch {
			case !v.fpp.present:
				item.Op, item.Event = OpDelete, nil
			case !v.cal.present:
				item.Op = OpCreate
			default:
				item.Op = OpUpdate
			}
		}
	}
	return item
}

func scopeOf(events ...*intent.ManifestEvent) string {
	for _, ev := range events {
		if ev != nil && ev.Correlation.CalendarID != "" {
			return ev.Correlation.CalendarID
		}
	}
	return ""
}

func coalesce(events ...*intent.ManifestEvent) *intent.ManifestEvent {
	for _, ev := range events {
		if ev != nil {
			return ev
		}
	}
	return nil
}

func tombstoned(in Inputs, id string, cur *intent.ManifestEvent) bool {
	if cur != nil && wasOnCalendar(cur) && cur.Correlation.CalendarID == in.CalendarID {
		return true
	}
	_, ok := in.CalendarTombstones[ScopedKey(in.CalendarID, id)]
	return ok
}

// contentHash is the state hash with execution order zeroed out, used
// to spot order-only drift.
func contentHash(ev *intent.ManifestEvent) string {
	subs := make([]intent.SubEvent, len(ev.SubEvents))
	copy(subs, ev.SubEvents)
	for i := range subs {
		subs[i].ExecutionOrder = 0
	}
	return intent.EventStateHash(ev.IdentityHash, subs)
}

var opRank = map[Op]int{OpConflict: 0, OpDelete: 1, OpUpdate: 2, OpCreate: 3, OpNoop: 4}

func sortItems(items []Item) {
	sort.Slice(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if opRank[a.Op] != opRank[b.Op] {
			return opRank[a.Op] < opRank[b.Op]
		}
		return a.IdentityHash < b.IdentityHash
	})
}

// expireTombstones drops persisted tombstones whose identity is gone
// from both desired sides.
func (p *Plan) expireTombstones(in Inputs) {
	absent := func(id string) bool {
		if in.Calendar != nil {
			if _, ok := in.Calendar.Get(id); ok {
				return false
			}
		}
		if in.Fpp != nil {
			if _, ok := in.Fpp.Get(id); ok {
				return false
			}
		}
		return true
	}
	for key := range in.CalendarTombstones {
		scope, id, ok := splitScopedKey(key)
		if !ok || scope != in.CalendarID {
			continue
		}
		if absent(id) {
			p.ExpireCalendarTombstones = append(p.ExpireCalendarTombstones, key)
		}
	}
	for id := range in.FppTombstones {
		if absent(id) {
			p.ExpireFppTombstones = append(p.ExpireFppTombstones, id)
		}
	}
	sort.Strings(p.AddCalendarTombstones)
	sort.Strings(p.AddFppTombstones)
	sort.Strings(p.ExpireCalendarTombstones)
	sort.Strings(p.ExpireFppTombstones)
}
