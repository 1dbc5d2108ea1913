package session

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"codeforge/internal/logging"
	"codeforge/internal/types"
)

// Lock is the advisory per-project lock. One agent per workspace:
// concurrent invocations fail fast instead of corrupting shared state.
type Lock struct {
	path string
}

// AcquireLock claims the lock file, writing the holder pid. A live
// holder yields an AgentBusy error; a stale lock left by a dead
// process is broken and re-acquired.
func AcquireLock(path string) (*Lock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, types.NewAgentError(types.KindStorageUnavailable, "session", "cannot create state dir", err)
	}

	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			fmt.Fprintf(f, "%d\n", os.Getpid())
			f.Close()
			logging.SessionDebug("lock acquired: %s", path)
			return &Lock{path: path}, nil
		}
		if !os.IsExist(err) {
			return nil, types.NewAgentError(types.KindStorageUnavailable, "session", "cannot create lock file", err)
		}

		pid, readErr := readLockPid(path)
		if readErr == nil && pid > 0 && processAlive(pid) {
			return nil, types.NewAgentError(types.KindAgentBusy, "session",
				fmt.Sprintf("another agent (pid %d) holds %s", pid, path), nil)
		}

		// Stale lock: holder is gone, remove and retry once.
		logging.Session("breaking stale lock %s (pid %d)", path, pid)
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return nil, types.NewAgentError(types.KindStorageUnavailable, "session", "cannot remove stale lock", err)
		}
	}
	return nil, types.NewAgentError(types.KindAgentBusy, "session", "lock contention on "+path, nil)
}

// Release removes the lock file.
func (l *Lock) Release() {
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		logging.Session("lock release failed: %v", err)
	}
}

func readLockPid(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

// processAlive reports whether a pid refers to a live process. Signal 0
// probes without delivering.
func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}
