// Copyright (c) 2017, Daniel Martí <mvdan@mvdan.cc>
// See LICENSE for licensing information

// msh is a POSIX-ish shell built on top of [interp].
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"golang.org/x/term"

	"github.com/go-msh/msh/input"
	"github.com/go-msh/msh/interp"
	"github.com/go-msh/msh/moreinterp/coreutils"
	"github.com/go-msh/msh/syntax"
)

func main() {
	os.Exit(mainRun(os.Args[1:]))
}

// parsedArgs is the result of hand-parsing argv against spec 4.I's
// startup flag table and 6's command line: "sh [ -abcefhiknqrstuvx ]
// [ -c command ] [ script-file [ arg ... ] ]". The single-character
// flag clusters this grammar allows (e.g. `-ec`) rule out the standard
// library's flag package, which rejects any flag it wasn't told about
// in advance.
type parsedArgs struct {
	letters     string // e, k, n, t, v, x, u - forwarded to interp.Flags
	login       bool   // -l
	forceStdin  bool   // -s
	interactive bool   // -i
	command     string // -c STR
	hasCommand  bool
	scriptPath  string
	scriptArgs  []string
}

func parseArgs(args []string) (parsedArgs, error) {
	var pa parsedArgs
	i := 0
	for i < len(args) {
		a := args[i]
		if a == "--" {
			i++
			break
		}
		if len(a) < 2 || a[0] != '-' {
			break
		}
		consumed := false
		for j := 1; j < len(a); j++ {
			switch a[j] {
			case 'l':
				pa.login = true
			case 's':
				pa.forceStdin = true
			case 'i':
				pa.interactive = true
			case 'c':
				if i+1 >= len(args) {
					return pa, fmt.Errorf("-c: option requires an argument")
				}
				pa.hasCommand = true
				pa.command = args[i+1]
				i += 2
				consumed = true
			default:
				pa.letters += string(a[j])
			}
			if consumed {
				break
			}
		}
		if consumed {
			continue
		}
		i++
	}
	if i < len(args) {
		pa.scriptPath = args[i]
		pa.scriptArgs = args[i+1:]
	}
	return pa, nil
}

func mainRun(args []string) int {
	pa, err := parseArgs(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		usage()
		return 2
	}

	var opts []interp.Option
	if pa.letters != "" {
		opts = append(opts, interp.Flags(pa.letters))
	}
	isTTY := term.IsTerminal(int(os.Stdin.Fd()))
	interactive := pa.interactive || (!pa.hasCommand && pa.scriptPath == "" && !pa.forceStdin && isTTY)
	opts = append(opts, interp.InteractiveOpt(interactive))
	opts = append(opts, interp.StdIO(os.Stdin, os.Stdout, os.Stderr))
	opts = append(opts, interp.ExternalHandler(runCoreutil))

	sh, err := interp.New(opts...)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	if pa.login || argv0IsLoginShell() {
		if err := sourceLoginFiles(sh); err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch {
	case pa.hasCommand:
		// POSIX: the first operand after -c STR becomes $0, the rest $1...
		if pa.scriptPath != "" {
			sh.Vars.SetArg0(pa.scriptPath)
		}
		sh.Vars.SetPositional(pa.scriptArgs)
		return runString(ctx, sh, pa.command)
	case pa.scriptPath != "" && !pa.forceStdin:
		sh.Vars.SetArg0(pa.scriptPath)
		sh.Vars.SetPositional(pa.scriptArgs)
		return runPath(ctx, sh, pa.scriptPath)
	case interactive:
		if pa.scriptPath != "" {
			sh.Vars.SetPositional(append([]string{pa.scriptPath}, pa.scriptArgs...))
		}
		return runInteractive(ctx, sh, os.Stdin, os.Stdout, os.Stderr)
	default:
		// -s, or no operands at all: read from stdin, per spec 6's
		// "-s: Read commands from stdin (default when no file)".
		if pa.scriptPath != "" {
			sh.Vars.SetPositional(append([]string{pa.scriptPath}, pa.scriptArgs...))
		}
		return runReader(ctx, sh, os.Stdin, "")
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, "usage: %s [-cehiklnstuvx] [-c command] [script-file [arg ...]]\n", argv0())
}

func argv0() string {
	if len(os.Args) > 0 {
		return os.Args[0]
	}
	return "msh"
}

// argv0IsLoginShell matches spec 6's "conventional login-shell
// convention": argv[0] beginning with '-'.
func argv0IsLoginShell() bool {
	return strings.HasPrefix(filepath.Base(argv0()), "-")
}

// sourceLoginFiles implements spec 6's supplemented login-shell
// startup nuance from msh.c: /etc/profile then ~/.profile, in order,
// skipping ~/.profile when running setuid (real uid != effective uid)
// since a setuid process must not trust an attacker-controlled dotfile.
func sourceLoginFiles(sh *interp.Shell) error {
	if err := sourceIfExists(sh, "/etc/profile"); err != nil {
		return err
	}
	if os.Getuid() != os.Geteuid() {
		return nil
	}
	home, _ := sh.Vars.Lookup("HOME")
	if home == "" {
		return nil
	}
	return sourceIfExists(sh, filepath.Join(home, ".profile"))
}

func sourceIfExists(sh *interp.Shell, path string) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()
	return runAll(context.Background(), sh, f, path)
}

// runAll feeds r through the parser one c_list at a time, executing
// each in sh, matching onecommand()'s "parse, execute, repeat" loop
// (spec 4.I) for non-interactive input.
func runAll(ctx context.Context, sh *interp.Shell, r io.Reader, name string) error {
	in := input.NewStack()
	if strings.ContainsRune(sh.OptionString(), 'v') {
		in.SetEcho(sh.Stderr())
	}
	task := input.TaskOther
	if name != "" {
		task = input.TaskFile
	}
	if err := in.Push(input.NewFileGenerator(r), task); err != nil {
		return err
	}
	p := syntax.NewParser(in)
	for {
		cmd, err := p.ParseCommandLine()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			p.Recover()
			continue
		}
		if cmd == nil {
			return nil
		}
		if _, err := sh.Execute(ctx, cmd); err != nil {
			return err
		}
		if sh.Exited() {
			return nil
		}
	}
}

func runReader(ctx context.Context, sh *interp.Shell, r io.Reader, name string) int {
	if err := runAll(ctx, sh, r, name); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return sh.ExitCode()
}

func runString(ctx context.Context, sh *interp.Shell, s string) int {
	return runReader(ctx, sh, strings.NewReader(s), "")
}

func runPath(ctx context.Context, sh *interp.Shell, path string) int {
	f, err := os.Open(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 127
	}
	defer f.Close()
	return runReader(ctx, sh, f, path)
}

// runInteractive implements onecommand()'s REPL loop for a terminal:
// render $PS1/$PS2 (spec 6's "Prompt rendering"), read one c_list,
// execute it, and repeat until EOF or `exit`.
func runInteractive(ctx context.Context, sh *interp.Shell, r io.Reader, w, errW io.Writer) int {
	in := input.NewStack()
	var p *syntax.Parser
	prompt := func() string {
		name := "PS1"
		if p != nil && p.Incomplete() {
			name = "PS2"
		}
		ps, _ := sh.Vars.Lookup(name)
		return ps
	}
	gen := input.NewLineGenerator(r, w, prompt)
	if err := in.Push(gen, input.TaskOther); err != nil {
		fmt.Fprintln(errW, err)
		return 1
	}
	p = syntax.NewParser(in)
	for {
		cmd, err := p.ParseCommandLine()
		if err != nil {
			fmt.Fprintln(errW, err)
			p.Recover()
			if in.AtEOF() {
				return 0
			}
			continue
		}
		if cmd == nil {
			return sh.ExitCode()
		}
		if _, err := sh.Execute(ctx, cmd); err != nil {
			fmt.Fprintln(errW, err)
		}
		if sh.Exited() {
			return sh.ExitCode()
		}
	}
}

// runCoreutil adapts moreinterp/coreutils to interp.ExternalRunner,
// giving execSimple a deterministic, $PATH-independent command set
// (cat, ls, cp, ...) before it falls back to a real fork_exec.
func runCoreutil(ctx context.Context, name string, args []string, dir string, stdin io.Reader, stdout, stderr io.Writer, lookupEnv func(string) (string, bool)) (bool, error) {
	if !coreutils.Handled(name) {
		return false, nil
	}
	return true, coreutils.Run(ctx, name, args, dir, stdin, stdout, stderr, lookupEnv)
}
