package syntax

import "testing"

func TestWordAppendRoundTrip(t *testing.T) {
	w := NewWord("")
	w.AppendLiteral("foo")
	w.AppendQuoted("bar")
	if got, want := w.String(), "foobar"; got != want {
		t.Fatalf("String() = %q, want %q", got, want)
	}
	for i, q := range w.Quoted {
		wantQ := i >= 3
		if q != wantQ {
			t.Fatalf("Quoted[%d] = %v, want %v", i, q, wantQ)
		}
	}
}

func TestWordEmpty(t *testing.T) {
	if !NewWord("").Empty() {
		t.Fatal("fresh word should be empty")
	}
	w := NewWord("x")
	if w.Empty() {
		t.Fatal("non-empty word reported empty")
	}
}

func TestCmdNodeSealedSet(t *testing.T) {
	// Every node type must satisfy Cmd; this is a compile-time check
	// more than a runtime one; failing to compile is the real assertion.
	var nodes = []Cmd{
		&Simple{}, &Paren{}, &Brace{}, &Pipe{}, &List{}, &And{}, &Or{},
		&Async{}, &For{}, &While{}, &Until{}, &If{}, &Case{}, &Dot{},
	}
	if len(nodes) != 14 {
		t.Fatalf("got %d node kinds, want 14", len(nodes))
	}
}
