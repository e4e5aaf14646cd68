// Package interp implements the evaluator/executor (component G) and the
// signal/trap module (component H): it walks the syntax.Cmd tree
// produced by the parser, expands and runs each node, and maintains the
// variable table, file-descriptor/redirection state, background-job
// table, and trap table a running shell needs.
//
// Go has no fork(): a multi-threaded runtime with a garbage collector
// cannot usefully continue executing interpreter code in a forked child.
// Following the teacher's own adaptation (interp/runner.go's
// Runner.subshell), "fork for a subshell/pipeline-segment/&" becomes
// "clone the Shell's scope and run it, synchronously or in a goroutine",
// while "fork+exec for an external command" is a real os/exec.Cmd. See
// DESIGN.md for the full writeup of this adaptation.
package interp

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-msh/msh/arena"
	"github.com/go-msh/msh/expand"
	"github.com/go-msh/msh/input"
	"github.com/go-msh/msh/pattern"
	"github.com/go-msh/msh/syntax"
	"github.com/go-msh/msh/vars"
)

// Shell interprets msh programs. A value is not safe for concurrent
// use, but Shell.subshell produces an independent copy suitable for
// running concurrently with the original, matching spec 5's "children
// ... receive a copy of the variable table, trap table, and input stack
// at the instant of fork".
type Shell struct {
	Vars        *vars.Table
	Dir         string
	Interactive bool
	Login       bool

	// fds holds the shell's current view of file descriptors 0-9, the
	// range spec 5 reserves for user redirections (FDBASE is 10). A nil
	// entry at index 0-2 falls back to the process's os.Stdin, os.Stdout
	// or os.Stderr (not to a stream given through StdIO); a nil entry
	// above 2 means the unit is closed.
	fds [10]*os.File

	opts  [numOpts]bool
	traps *trapTable
	bg    *bgTable

	// arena bounds the lifetime of redirection file descriptors to the
	// top-level command or subshell that opened them (spec 4.A's
	// area/areanum discipline), shared across a Shell and every subshell
	// cloned from it since Arena is itself concurrency-safe.
	arena *arena.Arena

	ec *expand.Context

	exitCode   int
	exiting    bool
	noErrExit  bool
	isSubshell bool

	external ExternalRunner
}

// ExternalRunner lets a caller substitute an in-process implementation
// for a command execSimple would otherwise fork_exec, the way
// moreinterp/coreutils serves a fixed command set without touching
// $PATH. handled reports whether name was recognized at all; when
// false, execSimple falls back to the real external lookup.
type ExternalRunner func(ctx context.Context, name string, args []string, dir string, stdin io.Reader, stdout, stderr io.Writer, lookupEnv func(string) (string, bool)) (handled bool, err error)

// ExternalHandler installs an ExternalRunner, letting e.g. cmd/msh serve
// a deterministic coreutils subset in-process instead of relying on the
// host's installed binaries.
func ExternalHandler(r ExternalRunner) Option {
	return func(sh *Shell) error {
		sh.external = r
		return nil
	}
}

// Option configures a Shell at construction time, mirroring the
// teacher's RunnerOption pattern (interp/api.go).
type Option func(*Shell) error

// New builds a Shell with the process environment, current directory,
// and standard streams as defaults.
func New(opts ...Option) (*Shell, error) {
	sh := &Shell{
		Vars:  vars.New(argv0(), os.Environ()),
		traps: newTrapTable(),
		bg:    newBgTable(),
		arena: arena.New(),
	}
	sh.fds[0], sh.fds[1], sh.fds[2] = os.Stdin, os.Stdout, os.Stderr
	if dir, err := os.Getwd(); err == nil {
		sh.Dir = dir
	}
	sh.Vars.SetOptionStringFunc(sh.optString)
	sh.ec = &expand.Context{Vars: sh.Vars, Dir: sh.Dir, Exec: sh.execCaptured}

	for _, o := range opts {
		if err := o(sh); err != nil {
			return nil, err
		}
	}
	sh.Vars.Set("PWD", sh.Dir)
	return sh, nil
}

func argv0() string {
	if len(os.Args) > 0 {
		return os.Args[0]
	}
	return "msh"
}

// Dir sets the shell's initial working directory.
func Dir(path string) Option {
	return func(sh *Shell) error {
		abs, err := filepath.Abs(path)
		if err != nil {
			return err
		}
		sh.Dir = abs
		return nil
	}
}

// StdIO overrides the shell's units 0/1/2.
func StdIO(in, out, err *os.File) Option {
	return func(sh *Shell) error {
		if in != nil {
			sh.fds[0] = in
		}
		if out != nil {
			sh.fds[1] = out
		}
		if err != nil {
			sh.fds[2] = err
		}
		return nil
	}
}

// InteractiveOpt forces interactive mode (spec 4.I's -i flag).
func InteractiveOpt(enabled bool) Option {
	return func(sh *Shell) error {
		sh.Interactive = enabled
		return nil
	}
}

// Flags enables each single-character option in s, per spec 4.I's
// startup flag table (e.g. Flags("ex") turns on -e and -x).
func Flags(s string) Option {
	return func(sh *Shell) error {
		if bad, ok := sh.setFlags(s, true); !ok {
			return fmt.Errorf("invalid option: -%s", bad)
		}
		return nil
	}
}

// Params sets $1.. (argv[0]/$0 is set separately via vars.New's argv0).
func Params(args []string) Option {
	return func(sh *Shell) error {
		sh.Vars.SetPositional(args)
		return nil
	}
}

// Exited reports whether the shell has run the `exit` builtin or hit an
// uncaught fatal trap condition; the top-level driver (component I)
// checks this after every Execute call to decide whether to stop the
// REPL loop, per spec 4.I's onecommand().
func (sh *Shell) Exited() bool { return sh.exiting }

// ExitCode returns the status of the last command run.
func (sh *Shell) ExitCode() int { return sh.exitCode }

// OptionString returns the live `$-` rendering, letting the top-level
// driver (component I) check e.g. whether `-v` is enabled without
// reaching into Shell's unexported option array.
func (sh *Shell) OptionString() string { return sh.optString() }

// Stderr returns the stream diagnostics and `-v`'s echoed input go to.
func (sh *Shell) Stderr() io.Writer { return sh.errWriter() }

func (sh *Shell) diag(err error) {
	fmt.Fprintf(sh.errWriter(), "%s\n", err)
}

func (sh *Shell) errWriter() io.Writer {
	if sh.fds[2] != nil {
		return sh.fds[2]
	}
	return os.Stderr
}

func (sh *Shell) outWriter() io.Writer {
	if sh.fds[1] != nil {
		return sh.fds[1]
	}
	return os.Stdout
}

func (sh *Shell) inReader() io.Reader {
	if sh.fds[0] != nil {
		return sh.fds[0]
	}
	return os.Stdin
}

// Execute runs one top-level c_list - one interactive statement or one
// unit of a script, per component I's onecommand() - and is the single
// boundary that recovers both an `exit` unwind (spec's leave()) and a
// fatal condition (spec 9's escape stack; see errors.go). It also
// implements spec 4.H's "between commands at the top-level loop" safe
// point.
func (sh *Shell) Execute(ctx context.Context, cmd syntax.Cmd) (int, error) {
	area := sh.arena.Enter()
	defer sh.arena.FreeArea(area)
	fatal := sh.runBoundary(ctx, cmd)
	sh.Vars.SetStatus(sh.exitCode)
	if fatal != nil {
		return sh.exitCode, fatal
	}
	if sh.exiting {
		sh.runExitTrap(ctx)
		return sh.exitCode, nil
	}
	sh.checkSafePoint(ctx)
	return sh.exitCode, nil
}

// runBoundary executes cmd and recovers exactly the two panic-based
// control-transfers spec 9 allows to cross arbitrarily many recursive
// execute() frames: an `exit` unwind (exitSignal) and a fatal condition
// (fatalError). It is used at every scope boundary a real fork would
// have created: the top-level driver, a Paren subshell, a pipeline
// segment's goroutine, and a background (&) job's goroutine.
func (sh *Shell) runBoundary(ctx context.Context, cmd syntax.Cmd) (fatal error) {
	defer func() {
		if r := recover(); r != nil {
			switch e := r.(type) {
			case *exitSignal:
				sh.exiting = true
				sh.exitCode = e.code
			case *fatalError:
				sh.diag(e.err)
				sh.exitCode = 1
				fatal = e.err
			default:
				panic(r)
			}
		}
	}()
	if cmd != nil {
		sh.execute(ctx, cmd)
	}
	return nil
}

// execute is the recursive dispatch spec 4.G names "execute": one case
// per syntax.Cmd node kind.
func (sh *Shell) execute(ctx context.Context, cmd syntax.Cmd) {
	if sh.exiting {
		return
	}
	switch c := cmd.(type) {
	case *syntax.Simple:
		sh.execSimple(ctx, c)
		sh.maybeErrExit()
	case *syntax.Paren:
		sh.execParen(ctx, c)
		sh.maybeErrExit()
	case *syntax.Brace:
		sh.execBrace(ctx, c)
		sh.maybeErrExit()
	case *syntax.Pipe:
		sh.execPipe(ctx, c)
		sh.maybeErrExit()
	case *syntax.Dot:
		sh.execDot(ctx, c)
		sh.maybeErrExit()
	case *syntax.List:
		sh.execute(ctx, c.Left)
		if sh.exiting {
			return
		}
		sh.execute(ctx, c.Right)
	case *syntax.And:
		old := sh.noErrExit
		sh.noErrExit = true
		sh.execute(ctx, c.Left)
		sh.noErrExit = old
		if sh.exiting {
			return
		}
		if sh.exitCode == 0 {
			sh.execute(ctx, c.Right)
		}
	case *syntax.Or:
		old := sh.noErrExit
		sh.noErrExit = true
		sh.execute(ctx, c.Left)
		sh.noErrExit = old
		if sh.exiting {
			return
		}
		if sh.exitCode != 0 {
			sh.execute(ctx, c.Right)
		}
	case *syntax.Async:
		sh.execAsync(ctx, c)
	case *syntax.For:
		sh.execFor(ctx, c)
	case *syntax.While:
		sh.execLoop(ctx, c.Cond, c.Body, c.Redirs, false)
	case *syntax.Until:
		sh.execLoop(ctx, c.Cond, c.Body, c.Redirs, true)
	case *syntax.If:
		sh.execIf(ctx, c)
	case *syntax.Case:
		sh.execCase(ctx, c)
	default:
		sh.diag(fmt.Errorf("interp: unhandled node %T", cmd))
		sh.exitCode = 2
	}
}

// maybeErrExit implements the `-e` option (spec 4.I): a failing command
// outside a conditional context (If/While/Until conditions and the
// left, tested side of && / || set noErrExit around themselves) leaves
// the shell the same way the `exit` builtin does.
func (sh *Shell) maybeErrExit() {
	if sh.exiting || sh.noErrExit {
		return
	}
	if sh.opts[optErrExit] && sh.exitCode != 0 {
		panic(&exitSignal{code: sh.exitCode})
	}
}

func (sh *Shell) execBrace(ctx context.Context, c *syntax.Brace) {
	restore, err := sh.applyRedirsTemp(ctx, c.Redirs)
	if err != nil {
		sh.diag(err)
		sh.exitCode = 1
		return
	}
	defer restore()
	sh.execute(ctx, c.X)
}

// execParen forks a subshell (spec 4.G): a cloned scope so that `cd`,
// `set`, assignments, and trap changes don't leak back to the parent,
// run synchronously since nothing about a bare `(...)` needs real
// concurrency (see DESIGN.md's note on spec 1.1's adaptation).
func (sh *Shell) execParen(ctx context.Context, c *syntax.Paren) {
	child := sh.subshell()
	area := child.arena.Enter()
	defer child.arena.FreeArea(area)
	restore, err := child.applyRedirsTemp(ctx, c.Redirs)
	if err != nil {
		sh.diag(err)
		sh.exitCode = 1
		return
	}
	defer restore()
	child.runBoundary(ctx, c.X)
	sh.exitCode = child.exitCode
}

func (sh *Shell) execIf(ctx context.Context, c *syntax.If) {
	old := sh.noErrExit
	sh.noErrExit = true
	sh.execute(ctx, c.Cond)
	sh.noErrExit = old
	if sh.exiting {
		return
	}
	restore, err := sh.applyRedirsTemp(ctx, c.Redirs)
	if err != nil {
		sh.diag(err)
		sh.exitCode = 1
		return
	}
	defer restore()
	if sh.exitCode == 0 {
		sh.exitCode = 0
		sh.execute(ctx, c.Then)
	} else if c.Else != nil {
		sh.exitCode = 0
		sh.execute(ctx, c.Else)
	} else {
		sh.exitCode = 0
	}
}

func (sh *Shell) execCase(ctx context.Context, c *syntax.Case) {
	restore, err := sh.applyRedirsTemp(ctx, c.Redirs)
	if err != nil {
		sh.diag(err)
		sh.exitCode = 1
		return
	}
	defer restore()
	scrut, err := sh.ec.EvalLiteral(ctx, c.Word)
	if err != nil {
		sh.diag(err)
		sh.exitCode = 1
		return
	}
	sh.exitCode = 0
	for _, arm := range c.Arms {
		matched := false
		for _, pw := range arm.Patterns {
			pat, err := sh.ec.EvalLiteral(ctx, pw)
			if err != nil {
				sh.diag(err)
				sh.exitCode = 1
				return
			}
			ok, err := pattern.Match(pat, scrut)
			if err != nil {
				sh.diag(err)
				sh.exitCode = 1
				return
			}
			if ok {
				matched = true
				break
			}
		}
		if matched {
			if arm.Body != nil {
				sh.execute(ctx, arm.Body)
			}
			return
		}
	}
}

func (sh *Shell) execDot(ctx context.Context, c *syntax.Dot) {
	name, err := sh.ec.EvalLiteral(ctx, c.File)
	if err != nil {
		sh.diag(err)
		sh.exitCode = 1
		return
	}
	path, err := sh.findScript(name)
	if err != nil {
		sh.diag(fmt.Errorf("%s: %v", name, err))
		sh.exitCode = 127
		return
	}
	f, err := os.Open(path)
	if err != nil {
		sh.diag(fmt.Errorf("%s: %v", name, err))
		sh.exitCode = 127
		return
	}
	defer f.Close()

	in := input.NewStack()
	if err := in.Push(input.NewFileGenerator(f), input.TaskFile); err != nil {
		sh.diag(err)
		sh.exitCode = 1
		return
	}
	p := syntax.NewParser(in)
	for {
		cmd, err := p.ParseCommandLine()
		if err != nil {
			sh.diag(err)
			p.Recover()
			sh.exitCode = 2
			continue
		}
		if cmd == nil {
			return
		}
		sh.execute(ctx, cmd)
		if sh.exiting {
			return
		}
	}
}

// findScript resolves a `.`-sourced file name: used as-is if it
// contains a '/', otherwise searched along $PATH, matching spec 4.G's
// "searching PATH if there is no /".
func (sh *Shell) findScript(name string) (string, error) {
	if strings.ContainsRune(name, '/') {
		return name, nil
	}
	pathVar, _ := sh.Vars.Lookup("PATH")
	for _, dir := range strings.Split(pathVar, ":") {
		if dir == "" {
			dir = "."
		}
		cand := filepath.Join(dir, name)
		if info, err := os.Stat(cand); err == nil && !info.IsDir() {
			return cand, nil
		}
	}
	return "", fmt.Errorf("not found")
}

// subshell returns an independent copy of sh: a cloned variable table
// (spec 4.B's Clone), a cloned trap table, a copy of the option array
// and fd view, and its own background-job table, matching spec 5's
// "children ... receive a copy ... at the instant of fork".
func (sh *Shell) subshell() *Shell {
	c := &Shell{
		Vars:       sh.Vars.Clone(),
		Dir:        sh.Dir,
		opts:       sh.opts,
		traps:      sh.traps.clone(),
		bg:         newBgTable(),
		fds:        sh.fds,
		arena:      sh.arena,
		isSubshell: true,
	}
	c.Vars.SetOptionStringFunc(c.optString)
	c.ec = &expand.Context{Vars: c.Vars, Dir: c.Dir, Exec: c.execCaptured}
	return c
}

// execCaptured runs cmdline as if typed at the top level, in a cloned
// scope with stdout captured, and returns its trimmed output: the Exec
// hook expand.Context needs for backtick substitution, per spec 9's
// note that substitution goes through the same external-command path as
// a top-level command rather than a direct system call.
func (sh *Shell) execCaptured(ctx context.Context, cmdline string) (string, error) {
	in := input.NewStack()
	if err := in.Push(input.NewStringGenerator([]byte(cmdline)), input.TaskGrave); err != nil {
		return "", err
	}
	p := syntax.NewParser(in)

	pr, pw, err := os.Pipe()
	if err != nil {
		return "", err
	}
	child := sh.subshell()
	child.fds[1] = pw

	var out bytes.Buffer
	copyDone := make(chan struct{})
	go func() {
		io.Copy(&out, pr)
		close(copyDone)
	}()

	area := child.arena.Enter()
	defer child.arena.FreeArea(area)
	for {
		cmd, perr := p.ParseCommandLine()
		if perr != nil || cmd == nil {
			break
		}
		child.runBoundary(ctx, cmd)
		if child.exiting {
			break
		}
	}
	pw.Close()
	<-copyDone
	pr.Close()
	return strings.TrimRight(out.String(), "\n"), nil
}

// RunString parses and executes body (a trap body, or `eval`'s joined
// argument list) in the CURRENT shell, so assignments and directory
// changes persist, unlike execCaptured's cloned scope.
func (sh *Shell) RunString(ctx context.Context, body string) {
	in := input.NewStack()
	if err := in.Push(input.NewStringGenerator([]byte(body)), input.TaskOther); err != nil {
		sh.diag(err)
		sh.exitCode = 1
		return
	}
	p := syntax.NewParser(in)
	for {
		cmd, err := p.ParseCommandLine()
		if err != nil {
			sh.diag(err)
			p.Recover()
			sh.exitCode = 2
			continue
		}
		if cmd == nil {
			return
		}
		sh.execute(ctx, cmd)
		if sh.exiting {
			return
		}
	}
}
