// Package ordering assigns every sub-event in a manifest its scheduler
// row position. The player walks the schedule top down and plays the
// first matching row, so relative position is what decides which show
// wins a contested window. Ordering derives purely from manifest
// content: two runs over the same manifest produce the same rows no
// matter how the provider returned the events.
package ordering

import (
	"fmt"
	"sort"
	"time"

	"github.com/fppkit/calbridge/internal/holiday"
	"github.com/fppkit/calbridge/internal/intent"
	"github.com/fppkit/calbridge/internal/suntime"
)

// Engine computes execution order for manifests.
type Engine struct {
	est      *suntime.Estimator
	holidays *holiday.Resolver
	loc      *time.Location
}

// New builds an engine. The estimator may be disabled and holidays may
// be nil; both only sharpen decisions, they never gate them.
func New(est *suntime.Estimator, holidays *holiday.Resolver, loc *time.Location) *Engine {
	if loc == nil {
		loc = time.Local
	}
	return &Engine{est: est, holidays: holidays, loc: loc}
}

// block is the ordering unit: all sub-events of one event that share a
// bundle. Blocks move as a whole; only their internal row order and
// their position relative to other blocks vary.
type block struct {
	key   string
	event *intent.ManifestEvent
	subs  []int

	fp         footprint
	dailyStart *intent.TimeValue
	group      string
	spec       [3]int
	baseline   baselineKey
	rank       int
}

type baselineKey struct {
	startDate string
	startTime string
	endDate   string
	endTime   string
	key       string
}

func (k baselineKey) less(other baselineKey) bool {
	if k.startDate != other.startDate {
		return k.startDate < other.startDate
	}
	if k.startTime != other.startTime {
		return k.startTime < other.startTime
	}
	if k.endDate != other.endDate {
		return k.endDate < other.endDate
	}
	if k.endTime != other.endTime {
		return k.endTime < other.endTime
	}
	return k.key < other.key
}

// Order assigns ExecutionOrder across the whole manifest and reseals
// every event. Identity hashes are untouched; state hashes move with
// the new order.
func (e *Engine) Order(m *intent.Manifest) error {
	if m == nil || m.Len() == 0 {
		return nil
	}
	blocks := e.buildBlocks(m)
	sort.SliceStable(blocks, func(i, j int) bool {
		return blocks[i].baseline.less(blocks[j].baseline)
	})
	for i, b := range blocks {
		b.rank = i
	}
	order := topoSort(blocks, e.precedenceEdges(blocks))

	next := 0
	for _, bi := range order {
		blk := blocks[bi]
		for _, si := range blk.subs {
			blk.event.SubEvents[si].ExecutionOrder = next
			next++
		}
	}
	for _, ev := range m.Sorted() {
		if err := ev.Finalize(); err != nil {
			return fmt.Errorf("reseal event %s: %w", ev.IdentityHash, err)
		}
	}
	return nil
}

func (e *Engine) buildBlocks(m *intent.Manifest) []*block {
	var blocks []*block
	for _, ev := range m.Sorted() {
		byBundle := make(map[string]*block)
		var evBlocks []*block
		for i, sub := range ev.SubEvents {
			blk, ok := byBundle[sub.BundleID]
			if !ok {
				blk = &block{
					key:   ev.IdentityHash + ":" + sub.BundleID,
					event: ev,
					group: string(ev.Identity.Type) + "\x00" + ev.Identity.Target,
				}
				byBundle[sub.BundleID] = blk
				evBlocks = append(evBlocks, blk)
			}
			blk.subs = append(blk.subs, i)
		}
		for _, blk := range evBlocks {
			base := blockBase(ev, blk.subs)
			blk.fp = e.footprintOf(base.Timing)
			blk.dailyStart = base.Timing.StartTime
			blk.spec = e.specificity(base, blk.fp)
			blk.baseline = baselineKey{
				startDate: e.dateKey(base.Timing.StartDate),
				startTime: timeKey(base.Timing.StartTime),
				endDate:   e.dateKey(base.Timing.EndDate),
				endTime:   timeKey(base.Timing.EndTime),
				key:       blk.key,
			}
			e.orderWithin(blk, base)
		}
		blocks = append(blocks, evBlocks...)
	}
	return blocks
}

func blockBase(ev *intent.ManifestEvent, subs []int) intent.SubEvent {
	for _, i := range subs {
		if ev.SubEvents[i].Role == intent.BaseRole {
			return ev.SubEvents[i]
		}
	}
	return ev.SubEvents[subs[0]]
}

// orderWithin arranges a block's rows. Overrides that contest the base
// window or precede it chronologically sit above the base so the
// player reaches them first; trailing overrides follow it.
func (e *Engine) orderWithin(blk *block, base intent.SubEvent) {
	if len(blk.subs) < 2 {
		return
	}
	ev := blk.event
	baseFP := e.footprintOf(base.Timing)
	baseDate := e.dateKey(base.Timing.StartDate)
	baseTime := timeKey(base.Timing.StartTime)

	type rowKey struct {
		idx  int
		tier int
		date string
		time string
		hash string
	}
	keys := make([]rowKey, 0, len(blk.subs))
	for _, i := range blk.subs {
		s := ev.SubEvents[i]
		k := rowKey{
			idx:  i,
			date: e.dateKey(s.Timing.StartDate),
			time: timeKey(s.Timing.StartTime),
			hash: intent.SubEventStateHash(s),
		}
		if s.Role == intent.BaseRole {
			k.tier = 1
		} else if _, ok := e.overlaps(e.footprintOf(s.Timing), baseFP); ok {
			k.tier = 0
		} else if k.date < baseDate || (k.date == baseDate && k.time < baseTime) {
			k.tier = 0
		} else {
			k.tier = 2
		}
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		if a.tier != b.tier {
			return a.tier < b.tier
		}
		if a.date != b.date {
			return a.date < b.date
		}
		if a.time != b.time {
			return a.time < b.time
		}
		return a.hash < b.hash
	})
	for i, k := range keys {
		blk.subs[i] = k.idx
	}
}

// precedenceEdges decides, for every overlapping block pair, which one
// takes the earlier row. An edge w -> l puts w above l.
func (e *Engine) precedenceEdges(blocks []*block) map[int][]int {
	adj := make(map[int][]int)
	for i := 0; i < len(blocks); i++ {
		for j := i + 1; j < len(blocks); j++ {
			a, b := blocks[i], blocks[j]
			repDate, ok := e.overlaps(a.fp, b.fp)
			if !ok {
				continue
			}
			w, l := e.decide(a, b, repDate)
			if e.contains(w.fp, l.fp, repDate) {
				// a winner covering the loser everywhere would starve
				// it outright; keep chronology instead
				continue
			}
			adj[w.rank] = append(adj[w.rank], l.rank)
		}
	}
	return adj
}

// decide ranks an overlapping pair. A block that starts later in the
// day takes the contested window; failing that, the later calendar
// start, then the narrower coverage, then the stable key.
func (e *Engine) decide(a, b *block, repDate string) (winner, loser *block) {
	if c := e.cmpDailyStart(a, b, repDate); c != 0 {
		if c > 0 {
			return a, b
		}
		return b, a
	}
	sa, sb := e.pairStartDate(a, repDate), e.pairStartDate(b, repDate)
	if sa != sb {
		if sa > sb {
			return a, b
		}
		return b, a
	}
	if a.spec != b.spec {
		if specLess(a.spec, b.spec) {
			return a, b
		}
		return b, a
	}
	if a.key < b.key {
		return a, b
	}
	return b, a
}

// pairStartDate is the calendar start used to rank one pair. Symbolic
// dates resolve in the year the pair actually collides, so an annual
// show compares against the season it shares with its rival.
func (e *Engine) pairStartDate(b *block, repDate string) string {
	if b.fp.concrete {
		return b.fp.start
	}
	if d, ok := e.tokenDate(b.fp.startTok, yearOf(repDate)); ok {
		return d
	}
	return b.baseline.startDate
}

func (e *Engine) cmpDailyStart(a, b *block, repDate string) int {
	sa, okA := e.startSeconds(a, repDate)
	sb, okB := e.startSeconds(b, repDate)
	if !okA || !okB {
		// unresolvable symbolic starts cannot be ranked against each
		// other or against clock times
		return 0
	}
	switch {
	case sa > sb:
		return 1
	case sa < sb:
		return -1
	default:
		return 0
	}
}

func (e *Engine) startSeconds(b *block, repDate string) (int, bool) {
	if b.fp.allDay {
		return 0, true
	}
	return e.secondsOf(b.dailyStart, repDate)
}

// specificity is (date span, weekday coverage, daily window length);
// smaller on each axis means a narrower, more deliberate rule.
func (e *Engine) specificity(base intent.SubEvent, fp footprint) [3]int {
	span := 1
	if fp.concrete {
		if d := daysBetween(fp.start, fp.end); d >= 0 {
			span = d + 1
		}
	} else if s, en, ok := e.annualSpan(fp, referenceYear); ok {
		if d := daysBetween(s, en); d >= 0 {
			span = d + 1
		}
	}
	return [3]int{span, base.Timing.Days.Coverage(), base.Timing.DailySpanSeconds()}
}

func specLess(a, b [3]int) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

func (e *Engine) dateKey(dv intent.DateValue) string {
	if dv.Hard != nil {
		return string(*dv.Hard)
	}
	if dv.Symbolic != nil {
		if d, ok := e.tokenDate(string(*dv.Symbolic), referenceYear); ok {
			return d
		}
		return "~" + string(*dv.Symbolic)
	}
	return "~"
}

func timeKey(tv *intent.TimeValue) string {
	if tv == nil {
		return "--"
	}
	if tv.Hard != nil {
		return *tv.Hard
	}
	if tv.Symbolic != nil {
		return fmt.Sprintf("zz:%s%+05d", *tv.Symbolic, tv.OffsetMinutes)
	}
	return "--"
}

// topoSort runs Kahn's algorithm over the precedence graph. Among
// runnable blocks it sticks with the group just emitted so rows for
// one target read contiguously, then falls back to baseline rank. A
// cycle releases its chronologically first member.
func topoSort(blocks []*block, adj map[int][]int) []int {
	n := len(blocks)
	indeg := make([]int, n)
	for _, succs := range adj {
		for _, t := range succs {
			indeg[t]++
		}
	}
	runnable := make([]int, 0, n)
	for i := 0; i < n; i++ {
		if indeg[i] == 0 {
			runnable = append(runnable, i)
		}
	}
	order := make([]int, 0, n)
	emitted := make([]bool, n)
	lastGroup := ""
	for len(order) < n {
		if len(runnable) == 0 {
			for i := 0; i < n; i++ {
				if !emitted[i] {
					indeg[i] = 0
					runnable = append(runnable, i)
					break
				}
			}
		}
		pick := 0
		if lastGroup != "" {
			for k, idx := range runnable {
				if blocks[idx].group == lastGroup {
					pick = k
					break
				}
			}
		}
		idx := runnable[pick]
		runnable = append(runnable[:pick], runnable[pick+1:]...)
		emitted[idx] = true
		order = append(order, idx)
		lastGroup = blocks[idx].group
		for _, t := range adj[idx] {
			indeg[t]--
			if indeg[t] == 0 && !emitted[t] {
				runnable = insertSorted(runnable, t)
			}
		}
	}
	return order
}

func insertSorted(s []int, v int) []int {
	i := sort.SearchInts(s, v)
	s = append(s, 0)
	copy(s[i+1:], s[i:])
	s[i] = v
	return s
}
