package conflict

import (
	"fmt"
	"strings"

	"github.com/live-labs/envsync/internal/codec"
)

// Strategy selects which side wins when both snapshots define the same key.
type Strategy string

const (
	// StrategyLocal keeps the base (local) value on conflicting keys.
	StrategyLocal Strategy = "local"
	// StrategyRemote keeps the other (remote) value on conflicting keys.
	StrategyRemote Strategy = "remote"
	// StrategyThreeWay resolves per key against a common ancestor.
	StrategyThreeWay Strategy = "three-way"
)

// ParseStrategy validates a strategy name supplied by a caller.
func ParseStrategy(name string) (Strategy, error) {
	switch Strategy(name) {
	case StrategyLocal, StrategyRemote, StrategyThreeWay:
		return Strategy(name), nil
	}
	return "", fmt.Errorf("unknown merge strategy %q", name)
}

// Change is a key present on only one side of a comparison.
type Change struct {
	Key   string
	Entry codec.VariableEntry
}

// Modification is a key present on both sides with differing values.
type Modification struct {
	Key string
	Old codec.VariableEntry
	New codec.VariableEntry
}

// ConflictSet classifies the differences between a base and a comparison
// target snapshot.
type ConflictSet struct {
	Added     []Change       // present only in the target
	Removed   []Change       // present only in the base
	Modified  []Modification // present in both with different values
	Unchanged []string       // identical on both sides
}

// InSync reports whether the two snapshots held no differences.
func (cs *ConflictSet) InSync() bool {
	return len(cs.Added) == 0 && len(cs.Removed) == 0 && len(cs.Modified) == 0
}

// ConflictError reports keys whose divergence could not be resolved.
type ConflictError struct {
	Keys []string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("unresolved conflicts on %d key(s): %s", len(e.Keys), strings.Join(e.Keys, ", "))
}

// Detect compares two snapshots key by key. Base keys are visited in base
// order, then target-only keys in target order.
func Detect(base, other *codec.Snapshot) ConflictSet {
	var cs ConflictSet

	for _, key := range base.Keys() {
		baseEntry, _ := base.Get(key)
		otherEntry, ok := other.Get(key)
		switch {
		case !ok:
			cs.Removed = append(cs.Removed, Change{Key: key, Entry: baseEntry})
		case baseEntry.Value != otherEntry.Value:
			cs.Modified = append(cs.Modified, Modification{Key: key, Old: baseEntry, New: otherEntry})
		default:
			cs.Unchanged = append(cs.Unchanged, key)
		}
	}

	for _, key := range other.Keys() {
		if base.Has(key) {
			continue
		}
		entry, _ := other.Get(key)
		cs.Added = append(cs.Added, Change{Key: key, Entry: entry})
	}

	return cs
}

// Merge combines two snapshots under the given strategy, always preserving
// keys unique to either side. StrategyThreeWay without an ancestor degrades
// to remote precedence; use MergeThreeWay when an ancestor is known.
func Merge(base, other *codec.Snapshot, strategy Strategy) (*codec.Snapshot, error) {
	switch strategy {
	case StrategyLocal:
		return overlay(other, base), nil
	case StrategyRemote, StrategyThreeWay:
		return overlay(base, other), nil
	}
	return nil, fmt.Errorf("unknown merge strategy %q", strategy)
}

// MergeThreeWay resolves each key independently against a common ancestor:
// one-sided changes (including additions and deletions) apply cleanly, equal
// changes on both sides collapse, and a key modified on both sides to
// different values fails with ConflictError. A nil ancestor degrades to
// remote precedence.
func MergeThreeWay(ancestor, local, remote *codec.Snapshot) (*codec.Snapshot, error) {
	if ancestor == nil {
		return overlay(local, remote), nil
	}

	merged := codec.NewSnapshot()
	var conflicts []string

	for _, key := range unionKeys(ancestor, local, remote) {
		base, hasBase := ancestor.Get(key)
		l, hasLocal := local.Get(key)
		r, hasRemote := remote.Get(key)

		localChanged := hasLocal != hasBase || (hasLocal && l.Value != base.Value)
		remoteChanged := hasRemote != hasBase || (hasRemote && r.Value != base.Value)

		switch {
		case !localChanged && !remoteChanged:
			if hasBase {
				merged.Set(base)
			}
		case localChanged && !remoteChanged:
			if hasLocal {
				merged.Set(l)
			}
		case remoteChanged && !localChanged:
			if hasRemote {
				merged.Set(r)
			}
		default:
			// Changed on both sides. Identical outcomes collapse,
			// anything else is a genuine conflict.
			switch {
			case !hasLocal && !hasRemote:
				// Deleted on both sides.
			case hasLocal && hasRemote && l.Value == r.Value:
				merged.Set(l)
			default:
				conflicts = append(conflicts, key)
			}
		}
	}

	if len(conflicts) > 0 {
		return nil, &ConflictError{Keys: conflicts}
	}
	return merged, nil
}

// overlay clones under and applies every entry of over on top of it. Keys
// unique to under survive; keys present in both take over's value.
func overlay(under, over *codec.Snapshot) *codec.Snapshot {
	merged := under.Clone()
	for _, entry := range over.Entries() {
		merged.Set(entry)
	}
	return merged
}

// unionKeys returns ancestor keys in order, then keys new in local, then
// keys new in remote.
func unionKeys(ancestor, local, remote *codec.Snapshot) []string {
	seen := make(map[string]bool)
	var keys []string
	for _, s := range []*codec.Snapshot{ancestor, local, remote} {
		for _, key := range s.Keys() {
			if !seen[key] {
				seen[key] = true
				keys = append(keys, key)
			}
		}
	}
	return keys
}
