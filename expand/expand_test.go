package expand

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/go-msh/msh/input"
	"github.com/go-msh/msh/syntax"
	"github.com/go-msh/msh/vars"
)

func parseWord(t *testing.T, src string) *syntax.Word {
	t.Helper()
	in := input.NewStack()
	if err := in.Push(input.NewFileGenerator(strings.NewReader(src+"\n")), input.TaskFile); err != nil {
		t.Fatal(err)
	}
	p := syntax.NewParser(in)
	cmd, err := p.ParseCommandLine()
	if err != nil {
		t.Fatalf("parse %q: %v", src, err)
	}
	s, ok := cmd.(*syntax.Simple)
	if !ok || len(s.Words) != 1 {
		t.Fatalf("expected a single-word simple command, got %#v", cmd)
	}
	return s.Words[0]
}

func newCtx(t *testing.T) *Context {
	t.Helper()
	return &Context{Vars: vars.New("msh", nil)}
}

func TestEvalLiteralVarSub(t *testing.T) {
	c := newCtx(t)
	c.Vars.Set("foo", "bar")
	got, err := c.EvalLiteral(context.Background(), parseWord(t, "$foo"))
	if err != nil {
		t.Fatal(err)
	}
	if got != "bar" {
		t.Fatalf("got %q, want %q", got, "bar")
	}
}

func TestEvalLiteralBraceDefault(t *testing.T) {
	c := newCtx(t)
	got, err := c.EvalLiteral(context.Background(), parseWord(t, "${foo:-fallback}"))
	if err != nil {
		t.Fatal(err)
	}
	if got != "fallback" {
		t.Fatalf("got %q, want %q", got, "fallback")
	}
}

func TestEvalLiteralBraceAssign(t *testing.T) {
	c := newCtx(t)
	got, err := c.EvalLiteral(context.Background(), parseWord(t, "${foo:=assigned}"))
	if err != nil {
		t.Fatal(err)
	}
	if got != "assigned" {
		t.Fatalf("got %q, want %q", got, "assigned")
	}
	if v, _ := c.Vars.Lookup("foo"); v != "assigned" {
		t.Fatalf("Set side effect missing, got %q", v)
	}
}

func TestEvalLiteralBraceError(t *testing.T) {
	c := newCtx(t)
	_, err := c.EvalLiteral(context.Background(), parseWord(t, "${foo:?must be set}"))
	if err == nil {
		t.Fatal("expected an error for unset ${foo:?...}")
	}
}

func TestEvalWordsSplitsOnIFS(t *testing.T) {
	c := newCtx(t)
	c.Vars.Set("list", "a  b c")
	got, err := c.EvalWords(context.Background(), []*syntax.Word{parseWord(t, "$list")}, Sub|Blank)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"a", "b", "c"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("IFS split mismatch (-want +got):\n%s", diff)
	}
}

func TestEvalWordsQuotedNoSplit(t *testing.T) {
	c := newCtx(t)
	c.Vars.Set("list", "a b c")
	got, err := c.EvalWords(context.Background(), []*syntax.Word{parseWord(t, `"$list"`)}, Sub|Blank)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0] != "a b c" {
		t.Fatalf("got %v, want one field %q", got, "a b c")
	}
}

func TestEvalWordsQuotedAtSignEachPositionalIsOwnField(t *testing.T) {
	c := newCtx(t)
	c.Vars.SetPositional([]string{"a", "b c", "d"})
	got, err := c.EvalWords(context.Background(), []*syntax.Word{parseWord(t, `"$@"`)}, Sub|Blank)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"a", "b c", "d"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("quoted $@ field split mismatch (-want +got):\n%s", diff)
	}
}

func TestEvalWordsQuotedAtSignEmptyPositionalVanishes(t *testing.T) {
	c := newCtx(t)
	got, err := c.EvalWords(context.Background(), []*syntax.Word{parseWord(t, `"$@"`)}, Sub|Blank)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Fatalf("got %v, want no fields when there are no positional parameters", got)
	}
}

func TestEvalWordsGlob(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.txt", "b.txt", ".hidden.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0o644); err != nil {
			t.Fatal(err)
		}
	}
	c := newCtx(t)
	c.Dir = dir
	got, err := c.EvalWords(context.Background(), []*syntax.Word{parseWord(t, "*.txt")}, Sub|Blank|Glob)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"a.txt", "b.txt"} // hidden file excluded, sorted
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("glob result mismatch (-want +got):\n%s", diff)
	}
}

func TestSplitAssign(t *testing.T) {
	name, val, ok := SplitAssign(parseWord(t, "FOO=bar"))
	if !ok || name != "FOO" {
		t.Fatalf("got name=%q ok=%v", name, ok)
	}
	c := newCtx(t)
	got, err := c.EvalLiteral(context.Background(), val)
	if err != nil {
		t.Fatal(err)
	}
	if got != "bar" {
		t.Fatalf("got %q, want %q", got, "bar")
	}

	if _, _, ok := SplitAssign(parseWord(t, "notassign")); ok {
		t.Fatal("plain word should not be an assignment")
	}
}

func TestExpandHereDocBody(t *testing.T) {
	c := newCtx(t)
	c.Vars.Set("name", "world")
	got, err := c.ExpandHereDocBody(context.Background(), "hello $name\\$literal\\\ncontinued\n", true)
	if err != nil {
		t.Fatal(err)
	}
	if want := "hello world$literalcontinued\n"; got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestExpandHereDocBodyQuotedTagVerbatim(t *testing.T) {
	c := newCtx(t)
	c.Vars.Set("name", "world")
	const body = "hello $name\n"
	got, err := c.ExpandHereDocBody(context.Background(), body, false)
	if err != nil {
		t.Fatal(err)
	}
	if got != body {
		t.Fatalf("got %q, want verbatim %q", got, body)
	}
}

func TestBacktickSubstitution(t *testing.T) {
	c := newCtx(t)
	c.Exec = func(ctx context.Context, cmd string) (string, error) {
		if cmd != "echo hi" {
			t.Fatalf("got exec command %q", cmd)
		}
		return "hi", nil
	}
	got, err := c.EvalLiteral(context.Background(), parseWord(t, "`echo hi`"))
	if err != nil {
		t.Fatal(err)
	}
	if got != "hi" {
		t.Fatalf("got %q, want %q", got, "hi")
	}
}
