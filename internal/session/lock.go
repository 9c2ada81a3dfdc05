package session

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
)

const lockFileName = ".agentvcs.lock"

// repoLocks hands out one mutex per repository root. The shared
// directory's materialized file contents are a single mutable
// resource: only one session's change can be checked out at a time,
// so anything that materializes content serializes here.
type repoLocks struct {
	mu sync.Mutex
	m  map[string]*sync.Mutex
}

func newRepoLocks() *repoLocks {
	return &repoLocks{m: map[string]*sync.Mutex{}}
}

func (l *repoLocks) forRoot(root string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	if mu, ok := l.m[root]; ok {
		return mu
	}
	mu := &sync.Mutex{}
	l.m[root] = mu
	return mu
}

// acquire takes both the in-process mutex for root and an on-disk pid
// lock file, guarding against concurrent managers in other processes.
// The returned release func must run on every exit path.
func (l *repoLocks) acquire(root string) (release func(), err error) {
	mu := l.forRoot(root)
	mu.Lock()
	path := filepath.Join(root, lockFileName)
	if err := writeLockFile(path); err != nil {
		mu.Unlock()
		return nil, err
	}
	return func() {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			// Leaving a stale file is recoverable; the next acquire
			// detects the dead pid and steals it.
			_ = err
		}
		mu.Unlock()
	}, nil
}

func writeLockFile(path string) error {
	pid := os.Getpid()
	content := []byte(strconv.Itoa(pid) + "\n")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err == nil {
		_, werr := f.Write(content)
		return errors.Join(werr, f.Close())
	}
	if !os.IsExist(err) {
		return fmt.Errorf("create lock file: %w", err)
	}
	holder, rerr := readLockFile(path)
	if rerr == nil && holder != pid && pidAlive(holder) {
		return fmt.Errorf("repository is locked by pid %d", holder)
	}
	// Stale or unreadable lock: the holder is gone, take it over.
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return fmt.Errorf("steal lock file: %w", err)
	}
	return nil
}

func readLockFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid lock file content: %w", err)
	}
	return pid, nil
}

func pidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	return err == nil || errors.Is(err, syscall.EPERM)
}
