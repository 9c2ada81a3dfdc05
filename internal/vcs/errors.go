package vcs

import (
	"errors"
	"fmt"
	"strings"
)

// Kind is the closed error taxonomy shared by both engine adapters.
// Adapters classify every engine or tool failure into one of these
// before returning; raw engine errors never cross the package boundary.
type Kind int

const (
	// KindBackend is an opaque underlying-tool failure.
	KindBackend Kind = iota
	KindRepositoryNotFound
	KindInvalidChangeID
	KindBranchNotFound
	KindConflicts
	KindDirtyWorkingCopy
	KindOperationInProgress
	KindAuthenticationFailed
	KindPushRejected
	// KindUnsupported marks a capability the active backend does not
	// provide, e.g. abandoning an already-pushed commit under git.
	KindUnsupported
)

func (k Kind) String() string {
	switch k {
	case KindBackend:
		return "backend failure"
	case KindRepositoryNotFound:
		return "repository not found"
	case KindInvalidChangeID:
		return "invalid change id"
	case KindBranchNotFound:
		return "branch not found"
	case KindConflicts:
		return "conflicts"
	case KindDirtyWorkingCopy:
		return "dirty working copy"
	case KindOperationInProgress:
		return "operation in progress"
	case KindAuthenticationFailed:
		return "authentication failed"
	case KindPushRejected:
		return "push rejected"
	case KindUnsupported:
		return "unsupported"
	}
	return "unknown"
}

// Error is the only error type returned by engine adapters.
type Error struct {
	Kind Kind
	Op   string // the failing operation, e.g. "git push"
	// Paths carries the conflicted paths for KindConflicts.
	Paths []string
	Err   error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.Kind.String())
	if len(e.Paths) > 0 {
		fmt.Fprintf(&b, " (%s)", strings.Join(e.Paths, ", "))
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// NewError wraps err under the given kind.
func NewError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf builds a classified error from a format string.
func Errorf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// ConflictsError reports the given paths as unresolved conflicts.
func ConflictsError(op string, paths []string) *Error {
	return &Error{Kind: KindConflicts, Op: op, Paths: paths}
}

// KindOf extracts the taxonomy kind from err. The second return is
// false when err does not wrap a *Error.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return KindBackend, false
}

// IsKind reports whether err wraps a *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}

// ConflictPaths returns the conflicted paths carried by err, or nil.
func ConflictPaths(err error) []string {
	var e *Error
	if errors.As(err, &e) && e.Kind == KindConflicts {
		return e.Paths
	}
	return nil
}
