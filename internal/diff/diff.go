// Package diff computes the set difference between a desired and a
// current manifest. Matching is exact on identity hash; an identity
// present on both sides needs an update exactly when the state hashes
// differ. There is no field-level comparison and no inference: state
// hashes already cover everything that matters, including execution
// order.
package diff

import (
	"errors"
	"fmt"

	"github.com/fppkit/calbridge/internal/intent"
)

// ErrDuplicateIdentity means a manifest holds two events claiming the
// same identity. Manifests are built through Add, which rejects this,
// so hitting it here points at a corrupt store file.
var ErrDuplicateIdentity = errors.New("duplicate identity in manifest")

// Entry pairs one identity with the event on each side. Desired is nil
// for deletes, Current is nil for creates.
type Entry struct {
	IdentityHash string
	Desired      *intent.ManifestEvent
	Current      *intent.ManifestEvent
}

// Result groups the entries by required operation, each slice sorted
// by identity hash.
type Result struct {
	Creates   []Entry
	Updates   []Entry
	Deletes   []Entry
	Unchanged []Entry
}

// Empty reports whether nothing has to change.
func (r *Result) Empty() bool {
	return len(r.Creates) == 0 && len(r.Updates) == 0 && len(r.Deletes) == 0
}

// Counts summarizes a result for logs and status output.
type Counts struct {
	Creates   int `json:"creates"`
	Updates   int `json:"updates"`
	Deletes   int `json:"deletes"`
	Unchanged int `json:"unchanged"`
}

func (r *Result) Counts() Counts {
	return Counts{
		Creates:   len(r.Creates),
		Updates:   len(r.Updates),
		Deletes:   len(r.Deletes),
		Unchanged: len(r.Unchanged),
	}
}

// Compute diffs desired against current. Either side may be nil, which
// reads as empty.
func Compute(desired, current *intent.Manifest) (*Result, error) {
	if err := verify("desired", desired); err != nil {
		return nil, err
	}
	if err := verify("current", current); err != nil {
		return nil, err
	}
	res := &Result{}
	if desired != nil {
		for _, ev := range desired.Sorted() {
			cur, ok := lookup(current, ev.IdentityHash)
			switch {
			case !ok:
				res.Creates = append(res.Creates, Entry{IdentityHash: ev.IdentityHash, Desired: ev})
			case cur.StateHash != ev.StateHash:
				res.Updates = append(res.Updates, Entry{IdentityHash: ev.IdentityHash, Desired: ev, Current: cur})
			default:
				res.Unchanged = append(res.Unchanged, Entry{IdentityHash: ev.IdentityHash, Desired: ev, Current: cur})
			}
		}
	}
	if current != nil {
		for _, ev := range current.Sorted() {
			if _, ok := lookup(desired, ev.IdentityHash); !ok {
				res.Deletes = append(res.Deletes, Entry{IdentityHash: ev.IdentityHash, Current: ev})
			}
		}
	}
	return res, nil
}

func lookup(m *intent.Manifest, identityHash string) (*intent.ManifestEvent, bool) {
	if m == nil {
		return nil, false
	}
	return m.Get(identityHash)
}

func verify(side string, m *intent.Manifest) error {
	if m == nil {
		return nil
	}
	seen := make(map[string]bool, m.Len())
	for _, ev := range m.Sorted() {
		if seen[ev.IdentityHash] {
			return fmt.Errorf("%s manifest: %w: %s", side, ErrDuplicateIdentity, ev.IdentityHash)
		}
		seen[ev.IdentityHash] = true
	}
	for key, ev := range m.Events {
		if key != ev.IdentityHash {
			return fmt.Errorf("%s manifest: event filed under %s carries identity %s", side, key, ev.IdentityHash)
		}
	}
	return nil
}
