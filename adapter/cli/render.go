package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/fppkit/calbridge/internal/apply"
	"github.com/fppkit/calbridge/internal/pipeline"
	"github.com/fppkit/calbridge/internal/reconcile"
)

// emit renders a success envelope: JSON with --json, otherwise the
// human rendering the caller provides.
func emit(details map[string]any, human func()) error {
	if jsonOutput {
		return printJSON(pipeline.Succeed(details))
	}
	human()
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// renderFailure prints the failure envelope. In JSON mode the envelope
// goes to stdout so scripted callers parse one stream; human text goes
// to stderr.
func renderFailure(err error) {
	env := pipeline.Fail(err, lastCorrelationID)
	if jsonOutput {
		_ = printJSON(env)
		return
	}
	fmt.Fprintf(os.Stderr, "error: %s\n", env.Error)
	if env.Hint != "" {
		fmt.Fprintf(os.Stderr, "hint:  %s\n", env.Hint)
	}
}

func applyDetails(res *pipeline.RunResult, out *apply.Outcome) map[string]any {
	details := res.Details()
	details["outcome"] = out
	return details
}

// renderPlan prints the human form of a computed plan: one line per
// pending action, then the problems.
func renderPlan(res *pipeline.RunResult) {
	if res.Stale {
		fmt.Printf("warning: provider unreachable, planned against a snapshot %s old\n",
			(time.Duration(res.SnapshotAge) * time.Second).String())
	}
	c := res.Plan.Counts()
	fmt.Printf("%s (%s): %d create, %d update, %d delete, %d conflict, %d blocked, %d in sync\n",
		res.Plan.CalendarID, res.Plan.Mode,
		c.Creates, c.Updates, c.Deletes, c.Conflicts, c.Blocked, c.Noops)

	for _, it := range res.Plan.Items {
		if it.Op == reconcile.OpNoop {
			continue
		}
		line := fmt.Sprintf("  %-8s %-16s %s", it.Op, it.Direction, it.Label())
		if it.Blocked {
			line += " [blocked by sync mode]"
		} else if it.Reason != "" {
			line += " (" + it.Reason + ")"
		}
		fmt.Println(line)
	}
	for _, u := range res.Unresolved {
		fmt.Printf("  unresolved %s %q: %s\n", u.UID, u.Summary, u.Detail)
	}
	for _, d := range res.Diagnostics {
		fmt.Printf("  note [%s] %s\n", d.Stage, d.Detail)
	}
	if res.Plan.Empty() && len(res.Unresolved) == 0 {
		fmt.Println("In sync; nothing to do.")
	}
}

func renderOutcome(out *apply.Outcome) {
	if out.DryRun {
		fmt.Println("Dry run; nothing written.")
		return
	}
	if out.FppWritten {
		fmt.Printf("Schedule written (%d rows).\n", out.FppRows)
	}
	if out.CalendarWrites > 0 {
		fmt.Printf("Calendar updated (%d writes).\n", out.CalendarWrites)
	}
	if !out.FppWritten && out.CalendarWrites == 0 {
		fmt.Println("Nothing to write.")
	}
	for _, skipped := range out.SkippedByPolicy {
		fmt.Printf("  skipped by policy: %s\n", skipped)
	}
}
