package queue

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"

	"github.com/denisbrodbeck/machineid"
)

// Owner builds this process's lock owner identity: a machine-bound ID plus
// the PID, so a recovery sweep can tell a crashed local process from a live
// one (or from a process on another host sharing the directory).
func Owner() string {
	id, err := machineid.ProtectedID("listing-core")
	if err != nil {
		// Hostname is a weaker identity but still distinguishes hosts.
		id, _ = os.Hostname()
	}
	return fmt.Sprintf("%s:%d", id, os.Getpid())
}

// ownerAlive reports whether the lock owner still holds the message. A lock
// from another machine is presumed alive; we cannot probe its process table.
func ownerAlive(lockOwner, selfOwner string) bool {
	machine, pidStr, ok := strings.Cut(strings.TrimSpace(lockOwner), ":")
	if !ok {
		return false
	}
	selfMachine, _, _ := strings.Cut(selfOwner, ":")
	if machine != selfMachine {
		return true
	}
	pid, err := strconv.Atoi(pidStr)
	if err != nil || pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// Signal 0 probes existence without delivering anything.
	return proc.Signal(syscall.Signal(0)) == nil
}
