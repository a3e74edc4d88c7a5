package syncer

import (
	"errors"
	"fmt"
	"strings"

	"github.com/live-labs/envsync/internal/conflict"
)

var (
	ErrEnvironmentNotFound = errors.New("environment not found")
	ErrEnvironmentInactive = errors.New("environment is inactive")
	ErrNeverPushed         = errors.New("environment has never been pushed")
)

// Violation is one bad key or value found during validation.
type Violation struct {
	Key    string
	Reason string
}

// ValidationError lists every offending key found before any write
// occurred. The operation was not partially applied.
type ValidationError struct {
	Violations []Violation
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		parts[i] = fmt.Sprintf("%s: %s", v.Key, v.Reason)
	}
	return fmt.Sprintf("validation failed for %d key(s): %s", len(e.Violations), strings.Join(parts, "; "))
}

// UnresolvedError reports divergence that could not be resolved because no
// strategy was supplied. The caller (the interactive layer) owns choosing
// one and re-invoking Sync.
type UnresolvedError struct {
	Environment string
	Conflicts   conflict.ConflictSet
}

func (e *UnresolvedError) Error() string {
	return fmt.Sprintf("environment %s has diverged (%d added, %d removed, %d modified) and no merge strategy was supplied",
		e.Environment, len(e.Conflicts.Added), len(e.Conflicts.Removed), len(e.Conflicts.Modified))
}
