// Package pipeline drives a full sync run: refresh, resolve,
// normalize, order, plan and optionally apply, in that fixed order.
// It also owns the error taxonomy the control plane reports, so every
// adapter fails the same way with the same codes.
package pipeline

import (
	"context"
	"errors"

	"github.com/fppkit/calbridge/internal/apply"
	"github.com/fppkit/calbridge/internal/diff"
	"github.com/fppkit/calbridge/internal/fpp"
	"github.com/fppkit/calbridge/internal/holiday"
	"github.com/fppkit/calbridge/internal/ingest"
	"github.com/fppkit/calbridge/internal/intent"
	"github.com/fppkit/calbridge/internal/provider"
	"github.com/fppkit/calbridge/internal/provider/oauth"
	"github.com/fppkit/calbridge/internal/reconcile"
	"github.com/fppkit/calbridge/internal/resolution"
	"github.com/fppkit/calbridge/internal/store"
)

// ErrConcurrentRun means another process holds the run lock.
var ErrConcurrentRun = errors.New("another sync run is in progress")

// ErrStaleRefused means the provider was unreachable and the caller
// did not allow falling back to the snapshot cache.
var ErrStaleRefused = errors.New("provider unreachable and stale reads not allowed")

// Kind buckets every failure the pipeline can produce.
type Kind string

const (
	KindNone        Kind = ""
	KindValidation  Kind = "validation"
	KindResolution  Kind = "resolution"
	KindConflict    Kind = "conflict"
	KindProvider    Kind = "provider"
	KindConcurrency Kind = "concurrency"
	KindIO          Kind = "io"
	KindInvariant   Kind = "invariant"
	KindRuntime     Kind = "runtime"
)

// Exit codes of the command surface.
const (
	ExitOK         = 0
	ExitValidation = 2
	ExitRuntime    = 3
	ExitConflict   = 4
	ExitProvider   = 5
)

// Failure is a classified pipeline error: the original cause plus the
// stable code and hint the control plane reports.
type Failure struct {
	Kind Kind
	Code string
	Hint string
	Err  error
}

func (f *Failure) Error() string {
	if f.Err != nil {
		return f.Err.Error()
	}
	return string(f.Kind) + ": " + f.Code
}

func (f *Failure) Unwrap() error { return f.Err }

func fail(kind Kind, code, hint string, err error) *Failure {
	return &Failure{Kind: kind, Code: code, Hint: hint, Err: err}
}

type classification struct {
	target error
	kind   Kind
	code   string
	hint   string
}

// Order matters: the first matching sentinel wins, so the specific
// ones sit above the generic ones.
var classifications = []classification{
	{apply.ErrConflictsRemain, KindConflict, "conflicts_remain", "inspect the plan and touch the side that should win"},
	{apply.ErrBlockedRemain, KindConflict, "blocked_by_policy", "widen the sync mode or drop --fail-on-blocked"},
	{apply.ErrPartialApply, KindInvariant, "partial_apply", "re-run preview; the error names what already landed"},
	{apply.ErrVerifyFailed, KindInvariant, "verify_failed", "the schedule was restored from backup; check for a concurrent editor"},
	{apply.ErrMissingEventID, KindInvariant, "missing_event_id", ""},
	{apply.ErrSymbolicExport, KindResolution, "symbolic_export", "symbolic dates and times cannot be written to a calendar"},

	{ErrConcurrentRun, KindConcurrency, "concurrent_run", "wait for the running sync to finish"},
	{ErrStaleRefused, KindProvider, "provider_unreachable", "retry, or pass --allow-stale for a read-only view"},

	{provider.ErrPreconditionFailed, KindProvider, "precondition_failed", "the calendar changed mid-run; re-run preview"},
	{provider.ErrUnauthorized, KindProvider, "unauthorized", "run calbridge auth url and re-authorize"},
	{provider.ErrRateLimited, KindProvider, "rate_limited", "back off and retry"},
	{provider.ErrNotFound, KindProvider, "not_found", ""},
	{provider.ErrUnavailable, KindProvider, "unavailable", "retry, or pass --allow-stale for a read-only view"},
	{provider.ErrUnsupported, KindValidation, "unsupported_provider", "set CALBRIDGE_PROVIDER to google or caldav"},
	{oauth.ErrNotAuthorized, KindProvider, "not_authorized", "run calbridge auth url and complete the exchange"},
	{oauth.ErrIncompleteConfig, KindValidation, "oauth_config", "set CALBRIDGE_OAUTH_CLIENT_ID and CALBRIDGE_OAUTH_CLIENT_SECRET"},

	{resolution.ErrUnresolvableRecurrence, KindResolution, "unresolvable_recurrence", "only daily and weekly recurrences are supported"},
	{resolution.ErrPartialResolution, KindResolution, "partially_resolved", ""},
	{resolution.ErrBadEventTime, KindValidation, "bad_event_time", ""},
	{ingest.ErrMalformedRow, KindValidation, "malformed_row", ""},
	{holiday.ErrUnknownHoliday, KindValidation, "unknown_holiday", ""},

	{intent.ErrDuplicateIdentity, KindValidation, "duplicate_identity", "two calendar events collapse to the same show; change one"},
	{diff.ErrDuplicateIdentity, KindValidation, "duplicate_identity", ""},
	{intent.ErrInvalidSettings, KindValidation, "invalid_settings", "fix the [settings] block in the event description"},
	{reconcile.ErrBadSyncMode, KindValidation, "bad_sync_mode", "valid modes: both, calendar-to-fpp, fpp-to-calendar"},

	{fpp.ErrEmptySchedule, KindInvariant, "empty_schedule", "a sync will not erase the last schedule row; delete it on the player"},
	{fpp.ErrInvalidEntry, KindValidation, "invalid_schedule_row", ""},
	{fpp.ErrInvalidDay, KindValidation, "invalid_schedule_row", ""},
	{fpp.ErrUngroupableRow, KindValidation, "invalid_schedule_row", ""},
	{fpp.ErrInvalidEnvironment, KindValidation, "invalid_environment", ""},

	{store.ErrCorrupt, KindIO, "corrupt_state", "inspect the state file; the bridge never repairs in place"},

	{context.Canceled, KindRuntime, "cancelled", ""},
	{context.DeadlineExceeded, KindRuntime, "timeout", ""},
}

// Classify wraps err with its taxonomy bucket. A nil error stays nil;
// an already classified error passes through.
func Classify(err error) *Failure {
	if err == nil {
		return nil
	}
	var f *Failure
	if errors.As(err, &f) {
		return f
	}
	for _, c := range classifications {
		if errors.Is(err, c.target) {
			return fail(c.kind, c.code, c.hint, err)
		}
	}
	return fail(KindRuntime, "internal", "", err)
}

// ExitCode maps an error to the command exit code contract: 0 on
// success, 2 for validation, 3 for runtime, 4 for conflict, 5 for
// provider failures.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	switch Classify(err).Kind {
	case KindValidation, KindResolution:
		return ExitValidation
	case KindConflict:
		return ExitConflict
	case KindProvider:
		return ExitProvider
	default:
		return ExitRuntime
	}
}
