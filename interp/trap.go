package interp

import (
	"context"
	"os"
	"os/exec"
	"os/signal"
	"strconv"
	"strings"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// signalNames maps each signal name the trap builtin recognizes (without
// the "SIG" prefix) to its signal; a name or number outside this set is
// rejected by the trap builtin.
var signalNames = map[string]os.Signal{
	"HUP":  unix.SIGHUP,
	"INT":  unix.SIGINT,
	"QUIT": unix.SIGQUIT,
	"ILL":  unix.SIGILL,
	"TRAP": unix.SIGTRAP,
	"ABRT": unix.SIGABRT,
	"FPE":  unix.SIGFPE,
	"KILL": unix.SIGKILL,
	"BUS":  unix.SIGBUS,
	"SEGV": unix.SIGSEGV,
	"SYS":  unix.SIGSYS,
	"PIPE": unix.SIGPIPE,
	"ALRM": unix.SIGALRM,
	"TERM": unix.SIGTERM,
	"USR1": unix.SIGUSR1,
	"USR2": unix.SIGUSR2,
	"CHLD": unix.SIGCHLD,
	"CONT": unix.SIGCONT,
	"STOP": unix.SIGSTOP,
	"TSTP": unix.SIGTSTP,
	"TTIN": unix.SIGTTIN,
	"TTOU": unix.SIGTTOU,
}

func signalNumber(sig os.Signal) int {
	if n, ok := sig.(unix.Signal); ok {
		return int(n)
	}
	return 0
}

// resolveTrapName resolves a trap-style signal designator - a bare
// number, or a name with an optional "SIG" prefix - to its canonical
// name, or "EXIT" for the "EXIT"/"0" pseudo-signal that fires from
// leave(), per spec 4.H.
func (sh *Shell) resolveTrapName(s string) (string, error) {
	if s == "EXIT" || s == "0" {
		return "EXIT", nil
	}
	if n, err := strconv.Atoi(s); err == nil {
		for name, sig := range signalNames {
			if signalNumber(sig) == n {
				return name, nil
			}
		}
		return "", &usageError{"trap: " + s + ": unknown signal number"}
	}
	name := strings.TrimPrefix(s, "SIG")
	if _, ok := signalNames[name]; ok {
		return name, nil
	}
	return "", &usageError{"trap: " + s + ": unknown signal name"}
}

// trapTable holds one trap command per signal name plus the EXIT
// pseudo-trap, and the single pending-signal byte spec 4.H describes:
// a real-world signal handler can only set a flag safely, so the
// evaluator checks pendingSig at its defined safe points (between
// top-level commands, between loop iterations, and after a wait) and
// only then runs the trap body, never from inside the handler itself.
type trapTable struct {
	bodies map[string]string // signal name (or "EXIT") -> command text; "" means reset to default
	ch     chan os.Signal

	pendingSig atomic.Int32 // 0 = none; otherwise a signal number
	intr       atomic.Bool  // SIGINT specifically, per spec 4.H

	// fg is the *exec.Cmd of the external command currently running in
	// the foreground, if any. watch forwards SIGINT/SIGQUIT to it
	// (interruptCommand/killCommand) instead of only recording them,
	// matching an interactive shell letting the foreground job itself
	// react to ^C/^\ rather than the shell's own trap machinery.
	fg atomic.Pointer[exec.Cmd]
}

func newTrapTable() *trapTable {
	return &trapTable{bodies: make(map[string]string)}
}

// set installs body as the trap command for name ("EXIT" or a signal
// name). An empty body removes the entry, restoring the default
// disposition.
func (t *trapTable) set(name, body string) {
	if body == "" {
		delete(t.bodies, name)
	} else {
		t.bodies[name] = body
	}
}

func (t *trapTable) body(name string) (string, bool) {
	b, ok := t.bodies[name]
	return b, ok
}

// clone returns an independent copy of t's trap bodies for a subshell,
// matching spec 5's "children ... receive a copy of ... the trap table
// ... at the instant of fork". The copy does not inherit the parent's
// signal-watching goroutine; a subshell that itself calls `trap` starts
// its own via watchSignals.
func (t *trapTable) clone() *trapTable {
	c := newTrapTable()
	for name, body := range t.bodies {
		c.bodies[name] = body
	}
	return c
}

// watchSignals starts, once per Shell, the single goroutine that receives
// OS signals. A SIGINT or SIGQUIT that arrives while an external command
// runs in the foreground is forwarded to that command instead of being
// recorded; any other signal only sets pendingSig (and intr for SIGINT).
// It never runs a trap body itself, keeping all trap execution on the
// evaluator's own goroutine at a defined safe point, per spec 4.H.
func (sh *Shell) watchSignals() {
	if sh.traps.ch != nil {
		return
	}
	sh.traps.ch = make(chan os.Signal, 8)
	var watched []os.Signal
	for _, sig := range signalNames {
		watched = append(watched, sig)
	}
	signal.Notify(sh.traps.ch, watched...)
	go func() {
		for sig := range sh.traps.ch {
			if cmd := sh.traps.fg.Load(); cmd != nil {
				switch sig {
				case unix.SIGINT:
					interruptCommand(cmd)
					continue
				case unix.SIGQUIT:
					killCommand(cmd)
					continue
				}
			}
			sh.traps.pendingSig.Store(int32(signalNumber(sig)))
			if sig == unix.SIGINT {
				sh.traps.intr.Store(true)
			}
		}
	}()
}

func (sh *Shell) stopWatchingSignals() {
	if sh.traps.ch != nil {
		signal.Stop(sh.traps.ch)
		close(sh.traps.ch)
		sh.traps.ch = nil
	}
}

// checkSafePoint is called at every safe point spec 4.H names. If a
// signal is pending, it is cleared and, if a trap body is installed for
// it, that body is parsed and run like any other input; otherwise,
// outside interactive mode and for any signal but CHLD, the shell is
// marked as exiting with status 128+signo. It returns true when a pending
// signal listed in signalNames was consumed.
func (sh *Shell) checkSafePoint(ctx context.Context) (handled bool) {
	n := sh.traps.pendingSig.Swap(0)
	if n == 0 {
		return false
	}
	sh.traps.intr.Store(false)
	for name, sig := range signalNames {
		if signalNumber(sig) != int(n) {
			continue
		}
		if body, ok := sh.traps.body(name); ok {
			sh.runTrapBody(ctx, body)
			return true
		}
		if !sh.Interactive && name != "CHLD" {
			sh.exitCode = 128 + int(n)
			sh.exiting = true
		}
		return true
	}
	return false
}

// runExitTrap runs the EXIT pseudo-trap, if any, from leave() before the
// process terminates, per spec 4.H.
func (sh *Shell) runExitTrap(ctx context.Context) {
	if body, ok := sh.traps.body("EXIT"); ok {
		sh.runTrapBody(ctx, body)
	}
}

func (sh *Shell) runTrapBody(ctx context.Context, body string) {
	defer func() { sh.traps.intr.Store(false) }()
	sh.RunString(ctx, body)
}
