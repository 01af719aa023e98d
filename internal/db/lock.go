package db

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	lockFileName   = "db.lock"
	defaultTimeout = 500 * time.Millisecond
	initialBackoff = 5 * time.Millisecond
	maxBackoff     = 50 * time.Millisecond
)

// writeLocker holds an OS file lock next to the database so that the CLI,
// `rem watch` and any other process never write at the same time. The OS
// drops the lock if the holder dies.
type writeLocker struct {
	path string
	f    *os.File
}

func newWriteLocker(baseDir string) *writeLocker {
	return &writeLocker{path: filepath.Join(baseDir, lockFileName)}
}

// acquire polls for the lock with capped exponential backoff until timeout.
func (l *writeLocker) acquire(timeout time.Duration) error {
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return fmt.Errorf("open lock file: %w", err)
	}
	l.f = f

	deadline := time.Now().Add(timeout)
	for backoff := initialBackoff; ; backoff = min(backoff*2, maxBackoff) {
		if err := l.tryLock(); err == nil {
			l.stampHolder()
			return nil
		}
		if time.Now().After(deadline) {
			holder := l.holder()
			l.f.Close()
			l.f = nil
			return fmt.Errorf("write lock timeout after %v (holder %s)", timeout, holder)
		}
		time.Sleep(backoff)
	}
}

// release truncates the holder info and unlocks.
func (l *writeLocker) release() {
	if l.f == nil {
		return
	}
	l.f.Truncate(0)
	l.unlock()
	l.f.Close()
	l.f = nil
}

func (l *writeLocker) stampHolder() {
	l.f.Truncate(0)
	l.f.Seek(0, 0)
	fmt.Fprintf(l.f, "pid:%d\ntime:%s\n", os.Getpid(), time.Now().Format(time.RFC3339))
}

// holder describes the current lock holder for timeout errors.
func (l *writeLocker) holder() string {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return "unknown"
	}
	var pid, since string
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		if v, ok := strings.CutPrefix(line, "pid:"); ok {
			pid = v
		} else if v, ok := strings.CutPrefix(line, "time:"); ok {
			since = v
		}
	}
	if pid == "" {
		return "unknown"
	}
	if n, err := strconv.Atoi(pid); err == nil && !isProcessAlive(n) {
		return fmt.Sprintf("pid:%s since %s, process gone", pid, since)
	}
	return fmt.Sprintf("pid:%s since %s", pid, since)
}
