package vcs

import (
	"strings"
	"time"
)

// Engine identifies which version-control tool backs a repository.
type Engine string

const (
	// EngineGit is the commit-graph engine: staged commits, branches as
	// mutable pointers, content-hash identifiers.
	EngineGit Engine = "git"
	// EngineJJ is the change engine: always-committed working copy,
	// stable change identifiers that survive amend and rebase.
	EngineJJ Engine = "jj"
)

func (e Engine) String() string { return string(e) }

// ChangeID identifies one revision. For the git engine this is a commit
// hash and is not stable across amend; for the jj engine it is a change
// id and survives rewrites.
type ChangeID string

func (id ChangeID) IsZero() bool { return id == "" }

// Short returns an abbreviated form suitable for display.
func (id ChangeID) Short() string {
	if len(id) > 12 {
		return string(id[:12])
	}
	return string(id)
}

// HeadInfo describes the currently materialized revision. Produced
// fresh on every query, never cached across a mutating call.
type HeadInfo struct {
	ID          ChangeID
	Branch      string // empty when detached or no branch points at head
	Description string
}

func (h HeadInfo) Detached() bool { return h.Branch == "" }

// ChangeInfo describes one revision in either engine.
type ChangeInfo struct {
	ID        ChangeID
	Parents   []ChangeID
	Author    string
	Email     string
	Timestamp time.Time
	Message   string
	// Conflicted reports whether the revision itself carries unresolved
	// conflicts. Only the jj engine can commit conflicted content.
	Conflicted bool
}

// Summary returns the first line of the change message.
func (c ChangeInfo) Summary() string {
	msg := strings.TrimSpace(c.Message)
	if i := strings.IndexByte(msg, '\n'); i >= 0 {
		return msg[:i]
	}
	return msg
}

// ChangeFilter narrows ListChanges output. Zero-value fields match
// everything; Limit <= 0 means no limit.
type ChangeFilter struct {
	Branch string
	Author string
	Since  time.Time
	Limit  int
}

// BranchInfo describes one branch label. Branches are metadata, not
// ownership containers.
type BranchInfo struct {
	Name        string
	Target      ChangeID
	IsCurrent   bool
	IsRemote    bool
	LastUpdated time.Time
}

// Remote names one configured remote.
type Remote struct {
	Name string
	URL  string
}

// Target addresses either a branch or a specific change for SwitchTo.
// Exactly one field is set.
type Target struct {
	Branch string
	Change ChangeID
}

func BranchTarget(name string) Target { return Target{Branch: name} }
func ChangeTarget(id ChangeID) Target { return Target{Change: id} }
func (t Target) IsBranch() bool       { return t.Branch != "" }
func (t Target) String() string {
	if t.Branch != "" {
		return t.Branch
	}
	return string(t.Change)
}

// ChangeKind classifies one path in a diff summary.
type ChangeKind int

const (
	Added ChangeKind = iota
	Modified
	Deleted
	Renamed
	Copied
)

func (k ChangeKind) String() string {
	switch k {
	case Added:
		return "added"
	case Modified:
		return "modified"
	case Deleted:
		return "deleted"
	case Renamed:
		return "renamed"
	case Copied:
		return "copied"
	}
	return "unknown"
}

// DiffEntry is one path in a diff summary. OldPath is set exactly when
// Kind is Renamed or Copied.
type DiffEntry struct {
	Kind    ChangeKind
	Path    string
	OldPath string
}

// Status reports the working copy's per-path state as three change
// lists plus conflicted paths.
type Status struct {
	Modified   []string
	Added      []string
	Deleted    []string
	Conflicted []string
}

func (s Status) Clean() bool {
	return len(s.Modified) == 0 && len(s.Added) == 0 &&
		len(s.Deleted) == 0 && len(s.Conflicted) == 0
}

// ConflictInfo describes one conflicted path as a three-way merge.
// Base is nil when no common ancestor could be determined. The
// operation that produced the conflict (merge, rebase, cherry-pick) is
// deliberately not recorded.
type ConflictInfo struct {
	Path   string
	Base   *ChangeID
	Ours   ChangeID
	Theirs ChangeID
}

// CreateOptions adjusts CreateChange.
type CreateOptions struct {
	// Base starts the new change on an explicit revision instead of the
	// current head. Ignored by the git engine, which always commits on
	// top of HEAD.
	Base ChangeID
	// StageAll stages every tracked modification before committing.
	// Only meaningful for the git engine; jj has no staging step.
	StageAll bool
}

// FetchOptions adjusts Fetch.
type FetchOptions struct {
	Remote string // defaults to "origin"
	Prune  bool
}

// PushOptions adjusts Push.
type PushOptions struct {
	Remote string // defaults to "origin"
	Branch string // defaults to the current branch
	Force  bool
}

// DefaultRemote is assumed when an options struct leaves Remote empty.
const DefaultRemote = "origin"
