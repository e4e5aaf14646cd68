package input

import (
	"bytes"
	"io"
	"strings"
	"testing"
)

func TestReadByteAcrossFrames(t *testing.T) {
	s := NewStack()
	if err := s.Push(NewStringGenerator([]byte("ab")), TaskOther); err != nil {
		t.Fatal(err)
	}
	if err := s.Push(NewStringGenerator([]byte("cd")), TaskOther); err != nil {
		t.Fatal(err)
	}
	var got []byte
	for {
		b, err := s.ReadByte()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		got = append(got, b)
	}
	if string(got) != "cdab" {
		t.Fatalf("got %q, want %q (top frame drains first)", got, "cdab")
	}
}

func TestPushBeyondNPUSHFails(t *testing.T) {
	s := NewStack()
	for i := 0; i < NPUSH; i++ {
		if err := s.Push(NewStringGenerator(nil), TaskOther); err != nil {
			t.Fatalf("push %d: %v", i, err)
		}
	}
	if err := s.Push(NewStringGenerator(nil), TaskOther); err != ErrNestedTooDeeply {
		t.Fatalf("expected ErrNestedTooDeeply, got %v", err)
	}
}

func TestUngetReturnsSameByte(t *testing.T) {
	s := NewStack()
	_ = s.Push(NewStringGenerator([]byte("xy")), TaskOther)
	b, _ := s.ReadByte()
	if b != 'x' {
		t.Fatalf("got %q, want x", b)
	}
	s.Unget(b)
	b2, _ := s.ReadByte()
	if b2 != 'x' {
		t.Fatalf("after unget, got %q, want x", b2)
	}
	b3, _ := s.ReadByte()
	if b3 != 'y' {
		t.Fatalf("got %q, want y", b3)
	}
}

func TestSyntheticNewlineOnFilePop(t *testing.T) {
	s := NewStack()
	_ = s.Push(NewFileGenerator(strings.NewReader("echo hi")), TaskFile)
	var got []byte
	for {
		b, err := s.ReadByte()
		if err == io.EOF {
			break
		}
		got = append(got, b)
	}
	if got[len(got)-1] != '\n' {
		t.Fatalf("expected a synthetic trailing newline, got %q", got)
	}
}

func TestAtEOF(t *testing.T) {
	s := NewStack()
	if !s.AtEOF() {
		t.Fatal("empty stack should report AtEOF")
	}
	_ = s.Push(NewStringGenerator([]byte("a")), TaskOther)
	if s.AtEOF() {
		t.Fatal("non-empty stack should not report AtEOF")
	}
}

func TestEchoOnlyFromBottomFrame(t *testing.T) {
	s := NewStack()
	var buf bytes.Buffer
	s.SetEcho(&buf)
	_ = s.Push(NewStringGenerator([]byte("bottom")), TaskOther)
	_ = s.Push(NewStringGenerator([]byte("top")), TaskOther)
	for {
		if _, err := s.ReadByte(); err == io.EOF {
			break
		}
	}
	if buf.String() != "bottom" {
		t.Fatalf("echo = %q, want only bottom frame's bytes", buf.String())
	}
}
