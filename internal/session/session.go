// Package session allocates, switches, and reclaims isolated units of
// work for concurrent agents sharing one repository. The strategy
// depends on the detected engine: under jj each session holds its own
// change inside the shared directory; under git each session gets a
// dedicated worktree checked out to its own branch.
package session

import (
	"time"

	"agentvcs/internal/vcs"
)

// State is the session lifecycle: Requested -> Active -> Reclaimed.
// Reclaimed is terminal.
type State string

const (
	StateRequested State = "requested"
	StateActive    State = "active"
	StateReclaimed State = "reclaimed"
)

// Session is one agent's unit of isolation. Exactly one of the two
// strategies applies: ChangeID set with Workdir empty (shared
// directory, jj), or Workdir and Branch set (dedicated directory, git).
type Session struct {
	ID       string // caller-supplied, UUID
	RepoPath string
	Engine   vcs.Engine
	ChangeID vcs.ChangeID
	Workdir  string
	Branch   string
	Base     vcs.ChangeID
	State    State

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Dedicated reports whether the session owns a separate working
// directory.
func (s *Session) Dedicated() bool { return s.Workdir != "" }
