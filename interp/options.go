package interp

import "strings"

// option indexes into Shell.opts, matching spec 4.I's startup flag table
// and `interp/api.go`'s runnerOpts/shellOptsTable layout: a fixed-size
// bool array indexed by small constants rather than a map, since the set
// of options is closed and known at compile time.
type option int

const (
	optErrExit     option = iota // -e: leave() on any failing command outside a conditional
	optKeyword                   // -k: NAME=VAL anywhere in a simple command's args is an assignment
	optNoExec                    // -n: parse but do not execute
	optOneCmd                    // -t: exit after one command
	optVerbose                   // -v: echo input bytes to stderr as read
	optXTrace                    // -x: print each simple command with a "+ " prefix before running it
	optNoUnset                   // -u: reference to an unset variable is a hard error
	optInteractive                // -i: force interactive, even if stdin isn't a terminal
	numOpts
)

var optFlags = [numOpts]byte{
	optErrExit:     'e',
	optKeyword:     'k',
	optNoExec:      'n',
	optOneCmd:      't',
	optVerbose:     'v',
	optXTrace:      'x',
	optNoUnset:     'u',
	optInteractive: 'i',
}

func optByFlag(flag byte) option {
	for i, f := range optFlags {
		if f == flag {
			return option(i)
		}
	}
	return -1
}

// optString reconstructs $-, per spec 6's "SUPPLEMENTED FEATURES" note
// that msh.c derives $- from the live flags array on demand rather than
// caching a copy that could drift.
func (sh *Shell) optString() string {
	var b strings.Builder
	for i, on := range sh.opts {
		if on && optFlags[i] != 0 {
			b.WriteByte(optFlags[i])
		}
	}
	return b.String()
}

// setFlags applies a string of single-character flags (as parsed from
// argv by cmd/msh, or from the "set" builtin's -xyz/+xyz arguments),
// enabling them if enable is true and disabling them otherwise. An
// unrecognized flag is reported back to the caller so it can print the
// diagnostic spec 6 describes.
func (sh *Shell) setFlags(flags string, enable bool) (bad string, ok bool) {
	for i := 0; i < len(flags); i++ {
		opt := optByFlag(flags[i])
		if opt < 0 {
			return string(flags[i]), false
		}
		sh.opts[opt] = enable
	}
	return "", true
}
