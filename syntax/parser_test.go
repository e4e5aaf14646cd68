package syntax

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/go-msh/msh/input"
)

// redirShape projects the parts of a Redir that matter for these tests,
// letting cmp.Diff report a precise mismatch instead of the test having
// to hand-roll a field-by-field comparison for every new case.
type redirShape struct {
	Unit int
	Op   RedirOp
}

func redirShapes(redirs []*Redir) []redirShape {
	out := make([]redirShape, len(redirs))
	for i, r := range redirs {
		out[i] = redirShape{Unit: r.Unit, Op: r.Op}
	}
	return out
}

func parse(t *testing.T, src string) Cmd {
	t.Helper()
	in := input.NewStack()
	if err := in.Push(input.NewFileGenerator(strings.NewReader(src)), input.TaskFile); err != nil {
		t.Fatal(err)
	}
	p := NewParser(in)
	cmd, err := p.ParseCommandLine()
	if err != nil {
		t.Fatalf("parse %q: %v", src, err)
	}
	return cmd
}

func TestParseSimple(t *testing.T) {
	cmd := parse(t, "echo hi there\n")
	s, ok := cmd.(*Simple)
	if !ok {
		t.Fatalf("got %T, want *Simple", cmd)
	}
	if len(s.Words) != 3 || s.Words[0].String() != "echo" {
		t.Fatalf("got words %v", s.Words)
	}
}

func TestParsePipeline(t *testing.T) {
	cmd := parse(t, "echo hi | cat | wc -l\n")
	p1, ok := cmd.(*Pipe)
	if !ok {
		t.Fatalf("got %T, want *Pipe", cmd)
	}
	// The left operand is itself a pipeline, which the parser wraps in Paren.
	paren, ok := p1.Left.(*Paren)
	if !ok {
		t.Fatalf("got %T for left operand, want *Paren", p1.Left)
	}
	if _, ok := paren.X.(*Pipe); !ok {
		t.Fatalf("left-associativity: got %T inside the Paren, want *Pipe", paren.X)
	}
}

func TestParseAndOr(t *testing.T) {
	cmd := parse(t, "false && echo a || echo b\n")
	or, ok := cmd.(*Or)
	if !ok {
		t.Fatalf("got %T, want *Or", cmd)
	}
	if _, ok := or.Left.(*And); !ok {
		t.Fatalf("got %T for Or.Left, want *And", or.Left)
	}
}

func TestParseIfElif(t *testing.T) {
	cmd := parse(t, "if false; then echo a; elif true; then echo b; else echo c; fi\n")
	top, ok := cmd.(*If)
	if !ok {
		t.Fatalf("got %T, want *If", cmd)
	}
	elif, ok := top.Else.(*If)
	if !ok {
		t.Fatalf("got %T for elif branch, want *If", top.Else)
	}
	if elif.Else == nil {
		t.Fatal("expected elif else branch")
	}
}

func TestParseForIn(t *testing.T) {
	cmd := parse(t, "for x in a b c; do echo $x; done\n")
	f, ok := cmd.(*For)
	if !ok {
		t.Fatalf("got %T, want *For", cmd)
	}
	if f.Var != "x" || !f.HasWords || len(f.Words) != 3 {
		t.Fatalf("got %+v", f)
	}
}

func TestParseForBare(t *testing.T) {
	cmd := parse(t, "for x do echo $x; done\n")
	f, ok := cmd.(*For)
	if !ok {
		t.Fatalf("got %T, want *For", cmd)
	}
	if f.HasWords {
		t.Fatal("bare for should not set HasWords")
	}
}

func TestParseCase(t *testing.T) {
	cmd := parse(t, "case $x in a|b) echo ab;; *) echo other;; esac\n")
	c, ok := cmd.(*Case)
	if !ok {
		t.Fatalf("got %T, want *Case", cmd)
	}
	if len(c.Arms) != 2 {
		t.Fatalf("got %d arms, want 2", len(c.Arms))
	}
	if len(c.Arms[0].Patterns) != 2 {
		t.Fatalf("got %d patterns in first arm, want 2", len(c.Arms[0].Patterns))
	}
}

func TestParseSubshellAndBrace(t *testing.T) {
	cmd := parse(t, "(echo a; echo b)\n")
	if _, ok := cmd.(*Paren); !ok {
		t.Fatalf("got %T, want *Paren", cmd)
	}
	cmd2 := parse(t, "{ echo a; echo b; }\n")
	if _, ok := cmd2.(*Brace); !ok {
		t.Fatalf("got %T, want *Brace", cmd2)
	}
}

func TestParseRedirAndIOUnit(t *testing.T) {
	cmd := parse(t, "read x 2>&1 <file.txt\n")
	s, ok := cmd.(*Simple)
	if !ok {
		t.Fatalf("got %T, want *Simple", cmd)
	}
	if len(s.Redirs) != 2 {
		t.Fatalf("got %d redirs, want 2", len(s.Redirs))
	}
	if s.Redirs[0].Unit != 2 || s.Redirs[0].Op != RedirDupFrom {
		t.Fatalf("got %+v for first redir", s.Redirs[0])
	}
	if s.Redirs[1].Op != RedirRead {
		t.Fatalf("got %+v for second redir", s.Redirs[1])
	}
}

func TestParseRedirsTable(t *testing.T) {
	tests := []struct {
		src  string
		want []redirShape
	}{
		{"echo hi > out\n", []redirShape{{Unit: -1, Op: RedirWrite}}},
		{"echo hi >> out\n", []redirShape{{Unit: -1, Op: RedirAppend}}},
		{"read x 2>&1 <file.txt\n", []redirShape{
			{Unit: 2, Op: RedirDupFrom},
			{Unit: -1, Op: RedirRead},
		}},
		{"echo hi 3>&-\n", []redirShape{{Unit: 3, Op: RedirClose}}},
	}
	for _, tc := range tests {
		cmd := parse(t, tc.src)
		s, ok := cmd.(*Simple)
		if !ok {
			t.Fatalf("%q: got %T, want *Simple", tc.src, cmd)
		}
		if diff := cmp.Diff(tc.want, redirShapes(s.Redirs)); diff != "" {
			t.Errorf("%q: redirs mismatch (-want +got):\n%s", tc.src, diff)
		}
	}
}

func TestParseHereDoc(t *testing.T) {
	src := "cat <<EOF\nline one\nline two\nEOF\necho after\n"
	in := input.NewStack()
	if err := in.Push(input.NewFileGenerator(strings.NewReader(src)), input.TaskFile); err != nil {
		t.Fatal(err)
	}
	p := NewParser(in)
	cmd, err := p.ParseCommandLine()
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	s, ok := cmd.(*Simple)
	if !ok {
		t.Fatalf("got %T, want *Simple", cmd)
	}
	if len(s.Redirs) != 1 || s.Redirs[0].Here == nil {
		t.Fatalf("expected one here-doc redir, got %+v", s.Redirs)
	}
	want := "line one\nline two\n"
	if s.Redirs[0].Here.Body != want {
		t.Fatalf("here-doc body = %q, want %q", s.Redirs[0].Here.Body, want)
	}

	cmd2, err := p.ParseCommandLine()
	if err != nil {
		t.Fatalf("parse second command: %v", err)
	}
	s2, ok := cmd2.(*Simple)
	if !ok || s2.Words[0].String() != "echo" {
		t.Fatalf("expected the echo-after command, got %+v", cmd2)
	}
}

func TestParseSyntaxErrorRecovers(t *testing.T) {
	src := "if then\necho after\n"
	in := input.NewStack()
	if err := in.Push(input.NewFileGenerator(strings.NewReader(src)), input.TaskFile); err != nil {
		t.Fatal(err)
	}
	p := NewParser(in)
	if _, err := p.ParseCommandLine(); err == nil {
		t.Fatal("expected a syntax error for empty if-condition")
	}
	p.Recover()
	cmd, err := p.ParseCommandLine()
	if err != nil {
		t.Fatalf("parse after recover: %v", err)
	}
	s, ok := cmd.(*Simple)
	if !ok || s.Words[0].String() != "echo" {
		t.Fatalf("expected the echo-after command, got %+v", cmd)
	}
}
