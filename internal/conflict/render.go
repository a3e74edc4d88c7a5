package conflict

import (
	"fmt"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/live-labs/envsync/internal/codec"
)

const maskedValue = "********"

// RenderDiff formats a conflict set for display. Added and removed keys are
// listed with +/- markers; modified values are shown as a character-level
// diff. Values of secret variables are always masked.
func RenderDiff(cs ConflictSet) string {
	if cs.InSync() {
		return "no differences\n"
	}

	var b strings.Builder

	for _, change := range cs.Added {
		fmt.Fprintf(&b, "+ %s=%s\n", change.Key, displayValue(change.Entry))
	}
	for _, change := range cs.Removed {
		fmt.Fprintf(&b, "- %s=%s\n", change.Key, displayValue(change.Entry))
	}
	for _, mod := range cs.Modified {
		if mod.Old.IsSecret || mod.New.IsSecret {
			fmt.Fprintf(&b, "~ %s: %s -> %s\n", mod.Key, maskedValue, maskedValue)
			continue
		}
		fmt.Fprintf(&b, "~ %s: %s\n", mod.Key, valueDiff(mod.Old.Value, mod.New.Value))
	}

	return b.String()
}

// valueDiff renders an inline old->new diff of two values using
// character-level diffing with semantic cleanup.
func valueDiff(oldValue, newValue string) string {
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(oldValue, newValue, false)
	diffs = dmp.DiffCleanupSemantic(diffs)

	var b strings.Builder
	for _, d := range diffs {
		switch d.Type {
		case diffmatchpatch.DiffDelete:
			fmt.Fprintf(&b, "[-%s]", d.Text)
		case diffmatchpatch.DiffInsert:
			fmt.Fprintf(&b, "[+%s]", d.Text)
		default:
			b.WriteString(d.Text)
		}
	}
	return b.String()
}

func displayValue(entry codec.VariableEntry) string {
	if entry.IsSecret {
		return maskedValue
	}
	return entry.Value
}
