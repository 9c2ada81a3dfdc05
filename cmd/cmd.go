package cmd

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"agentvcs/internal/buildinfo"
	"agentvcs/internal/session"
	"agentvcs/internal/vcs"
)

func Run() error {
	return run(os.Args[1:])
}

func run(args []string) error {
	fs := flag.NewFlagSet("agentvcs", flag.ContinueOnError)
	dbPath := fs.String("db", defaultDBPath(), "path to the session database")
	workspaces := fs.String("workspaces", "", "directory for dedicated session worktrees")
	verbose := fs.Bool("verbose", false, "enable verbose logging")
	showVersion := fs.Bool("version", false, "print version information and exit")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "usage: agentvcs [flags] <command> [args]\n\n")
		fmt.Fprintf(fs.Output(), "commands:\n")
		fmt.Fprintf(fs.Output(), "  status    [repo]            show working-copy state\n")
		fmt.Fprintf(fs.Output(), "  diff      [flags] [repo]    summarize changed paths\n")
		fmt.Fprintf(fs.Output(), "  conflicts [repo]            list unresolved conflicts\n")
		fmt.Fprintf(fs.Output(), "  abort     [repo]            abort any in-progress operation\n")
		fmt.Fprintf(fs.Output(), "  sessions  [repo]            list recorded sessions\n")
		fmt.Fprintf(fs.Output(), "  cleanup   <session-id>      reclaim a session's resources\n\n")
		fmt.Fprintf(fs.Output(), "flags:\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return nil
		}
		return err
	}
	if *showVersion {
		fmt.Println(buildinfo.Version())
		return nil
	}
	if *verbose {
		slog.SetLogLoggerLevel(slog.LevelDebug)
	}
	remaining := fs.Args()
	if len(remaining) == 0 {
		fs.Usage()
		return fmt.Errorf("missing command")
	}

	store, err := session.NewStore(*dbPath)
	if err != nil {
		return err
	}
	defer store.Close()
	manager := session.NewManager(store, session.Options{WorkspaceRoot: *workspaces})

	ctx := context.Background()
	command, rest := remaining[0], remaining[1:]
	switch command {
	case "status":
		return runStatus(ctx, manager, rest)
	case "diff":
		return runDiff(ctx, manager, rest)
	case "conflicts":
		return runConflicts(ctx, manager, rest)
	case "abort":
		return manager.AbortOperation(ctx, repoArg(rest))
	case "sessions":
		return runSessions(ctx, store, rest)
	case "cleanup":
		if len(rest) != 1 {
			return fmt.Errorf("cleanup: expected exactly one session id")
		}
		return manager.CleanupSession(ctx, rest[0])
	default:
		fs.Usage()
		return fmt.Errorf("unknown command %q", command)
	}
}

func runStatus(ctx context.Context, manager *session.Manager, args []string) error {
	status, err := manager.Status(ctx, repoArg(args))
	if err != nil {
		return err
	}
	if status.Clean() {
		fmt.Println("clean")
		return nil
	}
	for _, path := range status.Modified {
		fmt.Printf("M %s\n", path)
	}
	for _, path := range status.Added {
		fmt.Printf("A %s\n", path)
	}
	for _, path := range status.Deleted {
		fmt.Printf("D %s\n", path)
	}
	for _, path := range status.Conflicted {
		fmt.Printf("U %s\n", path)
	}
	return nil
}

func runDiff(ctx context.Context, manager *session.Manager, args []string) error {
	fs := flag.NewFlagSet("diff", flag.ContinueOnError)
	from := fs.String("from", "", "diff base revision")
	to := fs.String("to", "", "diff target revision")
	pathPrefix := fs.String("path", "", "limit output to paths under this prefix")
	if err := fs.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return nil
		}
		return err
	}
	entries, err := manager.DiffSummary(ctx, repoArg(fs.Args()),
		vcs.ChangeID(*from), vcs.ChangeID(*to), *pathPrefix)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		switch entry.Kind {
		case vcs.Renamed, vcs.Copied:
			fmt.Printf("%c %s => %s\n", kindLetter(entry.Kind), entry.OldPath, entry.Path)
		default:
			fmt.Printf("%c %s\n", kindLetter(entry.Kind), entry.Path)
		}
	}
	return nil
}

func runConflicts(ctx context.Context, manager *session.Manager, args []string) error {
	conflicts, err := manager.ListConflicts(ctx, repoArg(args))
	if err != nil {
		return err
	}
	if len(conflicts) == 0 {
		fmt.Println("no conflicts")
		return nil
	}
	for _, c := range conflicts {
		base := "(none)"
		if c.Base != nil {
			base = c.Base.Short()
		}
		fmt.Printf("%s\tbase=%s ours=%s theirs=%s\n", c.Path, base, c.Ours.Short(), c.Theirs.Short())
	}
	return nil
}

func runSessions(ctx context.Context, store *session.Store, args []string) error {
	repoPath := ""
	if len(args) > 0 {
		repoPath = args[len(args)-1]
	}
	sessions, err := store.ListSessions(ctx, repoPath)
	if err != nil {
		return err
	}
	for _, sess := range sessions {
		location := sess.ChangeID.Short()
		if sess.Dedicated() {
			location = sess.Workdir
		}
		fmt.Printf("%s\t%s\t%s\t%s\n", sess.ID, sess.Engine, sess.State, location)
	}
	return nil
}

func repoArg(args []string) string {
	if len(args) > 0 {
		return args[len(args)-1]
	}
	return "."
}

func kindLetter(kind vcs.ChangeKind) byte {
	switch kind {
	case vcs.Added:
		return 'A'
	case vcs.Deleted:
		return 'D'
	case vcs.Renamed:
		return 'R'
	case vcs.Copied:
		return 'C'
	}
	return 'M'
}

func defaultDBPath() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "agentvcs", "state.db")
}
