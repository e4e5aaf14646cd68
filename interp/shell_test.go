package interp

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"testing"

	"github.com/go-msh/msh/input"
	"github.com/go-msh/msh/internal"
	"github.com/go-msh/msh/syntax"
)

func TestMain(m *testing.M) {
	internal.TestMainSetup()
	os.Exit(m.Run())
}

// captureShell returns a Shell whose stdout/stderr are wired to pipes,
// plus a function that closes the write ends and returns everything
// written so far, for tests that need to inspect output. The pipes'
// drain goroutines write into a ConcBuffer rather than a bare
// bytes.Buffer, since a background job (`&`) shares the foreground's
// fds and may still be writing when a later command's output is also
// in flight.
func captureShell(t *testing.T) (*Shell, func() (stdout, stderr string)) {
	t.Helper()
	outR, outW, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	errR, errW, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	sh, err := New(StdIO(nil, outW, errW), Dir(t.TempDir()))
	if err != nil {
		t.Fatal(err)
	}
	var outBuf, errBuf internal.ConcBuffer
	done := make(chan struct{})
	go func() {
		io.Copy(&outBuf, outR)
		close(done)
	}()
	errDone := make(chan struct{})
	go func() {
		io.Copy(&errBuf, errR)
		close(errDone)
	}()
	return sh, func() (string, string) {
		outW.Close()
		errW.Close()
		<-done
		<-errDone
		return outBuf.String(), errBuf.String()
	}
}

// parseOne parses a single c_list chunk (up to the first top-level
// NEWLINE or EOF) - one call as the top-level REPL driver would make.
// Use semicolons, not newlines, to put more than one statement in src.
func parseOne(t *testing.T, src string) syntax.Cmd {
	t.Helper()
	in := input.NewStack()
	if err := in.Push(input.NewStringGenerator([]byte(src)), input.TaskOther); err != nil {
		t.Fatal(err)
	}
	p := syntax.NewParser(in)
	cmd, err := p.ParseCommandLine()
	if err != nil {
		t.Fatalf("parse %q: %v", src, err)
	}
	return cmd
}

// runScript runs a (possibly multi-line) script the way a `.`-sourced
// file or `eval` body would: one ParseCommandLine call per top-level
// line, each executed in turn in the current shell.
func runScript(t *testing.T, sh *Shell, src string) {
	t.Helper()
	sh.RunString(context.Background(), src)
}

func TestAssignmentPersists(t *testing.T) {
	sh, _ := captureShell(t)
	cmd := parseOne(t, "FOO=bar\n")
	if _, err := sh.Execute(context.Background(), cmd); err != nil {
		t.Fatal(err)
	}
	val, ok := sh.Vars.Lookup("FOO")
	if !ok || val != "bar" {
		t.Fatalf("FOO = %q, %v; want bar, true", val, ok)
	}
}

func TestIfElseBranches(t *testing.T) {
	sh, _ := captureShell(t)
	cmd := parseOne(t, "if :; then X=then; else X=else; fi\n")
	if _, err := sh.Execute(context.Background(), cmd); err != nil {
		t.Fatal(err)
	}
	if v, _ := sh.Vars.Lookup("X"); v != "then" {
		t.Fatalf("X = %q, want then", v)
	}
}

func TestAndOrShortCircuit(t *testing.T) {
	sh, _ := captureShell(t)
	cmd := parseOne(t, "false_cmd_that_does_not_exist && X=ran\n")
	if _, err := sh.Execute(context.Background(), cmd); err != nil {
		t.Fatal(err)
	}
	if _, ok := sh.Vars.Lookup("X"); ok {
		t.Fatal("X should not be set: && right side must not run after a failure")
	}
	if sh.exitCode == 0 {
		t.Fatal("missing command should report a nonzero status")
	}
}

func TestForLoopOverWords(t *testing.T) {
	sh, _ := captureShell(t)
	cmd := parseOne(t, "for i in a b c; do LAST=$i; done\n")
	if _, err := sh.Execute(context.Background(), cmd); err != nil {
		t.Fatal(err)
	}
	if v, _ := sh.Vars.Lookup("LAST"); v != "c" {
		t.Fatalf("LAST = %q, want c", v)
	}
}

func TestBreakUnwindsOneLoop(t *testing.T) {
	sh, _ := captureShell(t)
	runScript(t, sh, "N=0\nfor i in a b c; do N=x$N; break; done\n")
	if v, _ := sh.Vars.Lookup("N"); v != "x0" {
		t.Fatalf("N = %q, want x0 (loop should have run exactly once)", v)
	}
}

func TestCaseMatchesFirstArm(t *testing.T) {
	sh, _ := captureShell(t)
	cmd := parseOne(t, "V=foo; case $V in f*) X=matched;; *) X=nomatch;; esac\n")
	if _, err := sh.Execute(context.Background(), cmd); err != nil {
		t.Fatal(err)
	}
	if v, _ := sh.Vars.Lookup("X"); v != "matched" {
		t.Fatalf("X = %q, want matched", v)
	}
}

func TestExitStopsList(t *testing.T) {
	sh, _ := captureShell(t)
	cmd := parseOne(t, "exit 3; X=unreachable\n")
	code, err := sh.Execute(context.Background(), cmd)
	if err != nil {
		t.Fatal(err)
	}
	if code != 3 {
		t.Fatalf("exit code = %d, want 3", code)
	}
	if !sh.Exited() {
		t.Fatal("Exited() should be true after `exit`")
	}
	if _, ok := sh.Vars.Lookup("X"); ok {
		t.Fatal("commands after `exit` in the same c_list must not run")
	}
}

func TestSubshellDoesNotLeakAssignments(t *testing.T) {
	sh, _ := captureShell(t)
	cmd := parseOne(t, "(FOO=bar)\n")
	if _, err := sh.Execute(context.Background(), cmd); err != nil {
		t.Fatal(err)
	}
	if _, ok := sh.Vars.Lookup("FOO"); ok {
		t.Fatal("a Paren subshell's assignments must not leak to the parent")
	}
}

func TestErrExitLeavesOnFailure(t *testing.T) {
	sh, _ := captureShell(t)
	sh.opts[optErrExit] = true
	cmd := parseOne(t, "missing_cmd_xyz; X=unreachable\n")
	code, rerr := sh.Execute(context.Background(), cmd)
	if rerr != nil {
		t.Fatal(rerr)
	}
	if !sh.Exited() {
		t.Fatal("-e should leave the shell after a failing command outside a conditional")
	}
	if code == 0 {
		t.Fatal("exit code should be nonzero")
	}
	if _, ok := sh.Vars.Lookup("X"); ok {
		t.Fatal("-e should stop before running the next statement")
	}
}

func TestRedirWriteThenRead(t *testing.T) {
	sh, err := New(Dir(t.TempDir()))
	if err != nil {
		t.Fatal(err)
	}
	path := sh.Dir + "/out.txt"
	runScript(t, sh, "export FOO=bar\nexport > "+path+"\n")
	readCmd := parseOne(t, "read LINE < "+path+"\n")
	if _, err := sh.Execute(context.Background(), readCmd); err != nil {
		t.Fatal(err)
	}
	if v, _ := sh.Vars.Lookup("LINE"); !strings.Contains(v, "FOO=bar") {
		t.Fatalf("LINE = %q, want it to contain FOO=bar", v)
	}
}

func TestHereDocQuotedTagIsLiteral(t *testing.T) {
	sh, err := New(Dir(t.TempDir()))
	if err != nil {
		t.Fatal(err)
	}
	runScript(t, sh, "name=world\nread LINE <<'EOF'\nhello $name\nEOF\n")
	if v, _ := sh.Vars.Lookup("LINE"); v != "hello $name" {
		t.Fatalf("LINE = %q, want literal %q (quoted tag suppresses expansion)", v, "hello $name")
	}
}

func TestHereDocUnquotedTagExpands(t *testing.T) {
	sh, err := New(Dir(t.TempDir()))
	if err != nil {
		t.Fatal(err)
	}
	runScript(t, sh, "name=world\nread LINE <<EOF\nhello $name\nEOF\n")
	if v, _ := sh.Vars.Lookup("LINE"); v != "hello world" {
		t.Fatalf("LINE = %q, want expanded %q", v, "hello world")
	}
}

func TestWaitReturnsBackgroundStatus(t *testing.T) {
	sh, _ := captureShell(t)
	runScript(t, sh, "(exit 7) &\nwait\n")
	if sh.exitCode != 7 {
		t.Fatalf("wait exit code = %d, want 7", sh.exitCode)
	}
}

func TestExternalHandlerTakesPriorityOverFork(t *testing.T) {
	var got []string
	handler := func(ctx context.Context, name string, args []string, dir string, stdin io.Reader, stdout, stderr io.Writer, lookupEnv func(string) (string, bool)) (bool, error) {
		if name != "mycmd" {
			return false, nil
		}
		got = args
		fmt.Fprint(stdout, "handled\n")
		return true, nil
	}
	sh, closeIO := captureShell(t)
	if err := ExternalHandler(handler)(sh); err != nil {
		t.Fatal(err)
	}
	cmd := parseOne(t, "mycmd one two\n")
	if _, err := sh.Execute(context.Background(), cmd); err != nil {
		t.Fatal(err)
	}
	stdout, _ := closeIO()
	if stdout != "handled\n" {
		t.Fatalf("stdout = %q, want %q", stdout, "handled\n")
	}
	if strings.Join(got, ",") != "one,two" {
		t.Fatalf("args = %v, want [one two]", got)
	}
	if sh.exitCode != 0 {
		t.Fatalf("exitCode = %d, want 0", sh.exitCode)
	}
}

func TestExternalHandlerFallsThroughWhenUnhandled(t *testing.T) {
	handler := func(ctx context.Context, name string, args []string, dir string, stdin io.Reader, stdout, stderr io.Writer, lookupEnv func(string) (string, bool)) (bool, error) {
		return false, nil
	}
	sh, closeIO := captureShell(t)
	if err := ExternalHandler(handler)(sh); err != nil {
		t.Fatal(err)
	}
	cmd := parseOne(t, "echo real\n")
	if _, err := sh.Execute(context.Background(), cmd); err != nil {
		t.Fatal(err)
	}
	stdout, _ := closeIO()
	if stdout != "real\n" {
		t.Fatalf("stdout = %q, want %q (should fall back to real exec)", stdout, "real\n")
	}
}

func TestArenaScopesPerTopLevelCommand(t *testing.T) {
	sh, err := New(Dir(t.TempDir()))
	if err != nil {
		t.Fatal(err)
	}
	before := sh.arena.Current()
	cmd := parseOne(t, ": > "+sh.Dir+"/out.txt\n")
	if _, err := sh.Execute(context.Background(), cmd); err != nil {
		t.Fatal(err)
	}
	if after := sh.arena.Current(); after != before {
		t.Fatalf("arena area leaked across Execute: before=%d after=%d", before, after)
	}
	if n := sh.arena.LiveCount(1); n != 0 {
		t.Fatalf("LiveCount(1) = %d after Execute, want 0 (redir fd released)", n)
	}
}

func TestArenaScopesAcrossSubshell(t *testing.T) {
	sh, err := New(Dir(t.TempDir()))
	if err != nil {
		t.Fatal(err)
	}
	before := sh.arena.Current()
	cmd := parseOne(t, "(: > "+sh.Dir+"/out.txt)\n")
	if _, err := sh.Execute(context.Background(), cmd); err != nil {
		t.Fatal(err)
	}
	if after := sh.arena.Current(); after != before {
		t.Fatalf("arena area leaked across subshell: before=%d after=%d", before, after)
	}
}
