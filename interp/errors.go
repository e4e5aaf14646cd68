package interp

import "fmt"

// usageError is a non-fatal diagnostic from a builtin: printed to
// stderr, sets a nonzero exit status, but never aborts the shell. This
// mirrors the teacher's errBuiltinExitStatus/ExitStatus split in
// interp/api.go and interp/builtin.go: a handler-level error that only
// ever changes $?, as opposed to a fatal condition that unwinds the
// whole interpreter.
type usageError struct {
	msg string
}

func (e *usageError) Error() string { return e.msg }

// breakSignal and contSignal implement spec 9's "escape stack": break/
// continue unwind through however many loop levels they're nested in
// without the evaluator's dispatch switch needing to know about loops at
// every level. N is how many enclosing loops remain to unwind past
// (1 means "stop unwinding here").
type breakSignal struct{ n int }
type contSignal struct{ n int }

func (e *breakSignal) Error() string { return "break" }
func (e *contSignal) Error() string  { return "continue" }

// There is no return signal: msh has no functions (per Non-goals) and
// `. file` has no early return, so only `exit` needs an
// unwind-to-top-level signal, modeled directly as exitSignal.
type exitSignal struct{ code int }

func (e *exitSignal) Error() string { return fmt.Sprintf("exit %d", e.code) }

// fatalError is the one legitimate use of panic/recover spec 9 allows:
// an arena-exhaustion-equivalent or "shell input nested too deeply"
// condition that must unwind out of however many levels of recursive
// execute() calls are on the Go call stack, up to the nearest
// Shell.runBoundary (the top-level command, or a subshell, pipeline
// segment, background job or command substitution), without every
// intermediate frame needing an explicit error check. Recovered only in
// Shell.runBoundary.
type fatalError struct {
	err error
}

func (e *fatalError) Error() string { return e.err.Error() }

func (sh *Shell) panicFatal(err error) {
	panic(&fatalError{err: err})
}
