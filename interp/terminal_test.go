// Copyright (c) 2019, Daniel Martí <mvdan@mvdan.cc>
// See LICENSE for licensing information

//go:build !windows

package interp

import (
	"bufio"
	"context"
	"testing"

	"github.com/creack/pty"
)

// TestRunnerTerminalStdIO runs a command with its stdout wired to the
// secondary end of a real pseudo-terminal, matching the teacher's own
// TestRunnerTerminalStdIO "Pseudo" case: a pty, unlike a plain pipe,
// translates a bare "\n" into "\r\n" on the way out, so this exercises
// a real terminal code path that os.Pipe-backed tests never touch.
func TestRunnerTerminalStdIO(t *testing.T) {
	t.Parallel()

	primary, secondary, err := pty.Open()
	if err != nil {
		t.Fatal(err)
	}
	defer primary.Close()
	defer secondary.Close()

	sh, err := New(StdIO(nil, secondary, secondary))
	if err != nil {
		t.Fatal(err)
	}
	cmd := parseOne(t, "echo hi\n")

	errc := make(chan error, 1)
	go func() {
		_, err := sh.Execute(context.Background(), cmd)
		errc <- err
	}()

	got, err := bufio.NewReader(primary).ReadString('\n')
	if err != nil {
		t.Fatal(err)
	}
	if want := "hi\r\n"; got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
	if err := <-errc; err != nil {
		t.Fatal(err)
	}
}
