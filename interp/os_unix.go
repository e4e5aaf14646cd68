//go:build unix

package interp

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// access checks path against mode using the real uid/gid, not just the
// io/fs.FileInfo permission bits, matching the teacher's unix-specific
// access check; used by lookPath to give `exec`/a simple command a
// permission-denied (126) diagnostic instead of a bare "not found" (127)
// when a candidate exists on $PATH but isn't executable.
func (sh *Shell) access(path string, mode uint32) error {
	return unix.Access(path, mode)
}

// waitStatus names the concrete type exec.ExitError.Sys() returns on
// unix, needed for the 128+signo exit-status rule (spec 6).
type waitStatus = syscall.WaitStatus
