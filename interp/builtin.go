package interp

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/go-msh/msh/vars"
)

// builtinFunc runs a builtin with its already-expanded argv (args[0] is
// the builtin's own name) and returns the exit status to install.
type builtinFunc func(ctx context.Context, sh *Shell, args []string) int

// builtins is exactly the surface spec 6 names: no function
// definitions, no arrays, no job control beyond what wait/$! need.
var builtins = map[string]builtinFunc{
	":":        builtinColon,
	"cd":       builtinCd,
	"exit":     builtinExit,
	"export":   builtinExport,
	"readonly": builtinReadonly,
	"set":      builtinSet,
	"shift":    builtinShift,
	"trap":     builtinTrap,
	"wait":     builtinWait,
	"read":     builtinRead,
	"eval":     builtinEval,
	"break":    builtinBreak,
	"continue": builtinContinue,
	"times":    builtinTimes,
	"umask":    builtinUmask,
	"login":    builtinLogin,
	"newgrp":   builtinLogin,
	"help":     builtinHelp,
}

func builtinColon(ctx context.Context, sh *Shell, args []string) int { return 0 }

func builtinExit(ctx context.Context, sh *Shell, args []string) int {
	code := sh.exitCode
	if len(args) > 1 {
		n, err := strconv.Atoi(args[1])
		if err != nil {
			sh.diag(fmt.Errorf("exit: %s: numeric argument required", args[1]))
			n = 255
		}
		code = n & 0xff
	}
	panic(&exitSignal{code: code})
}

func builtinCd(ctx context.Context, sh *Shell, args []string) int {
	dir := ""
	if len(args) > 1 {
		dir = args[1]
	} else if home, ok := sh.Vars.Lookup("HOME"); ok {
		dir = home
	} else {
		sh.diag(fmt.Errorf("cd: HOME not set"))
		return 1
	}
	path := sh.resolvePath(dir)
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		sh.diag(fmt.Errorf("cd: %s: not a directory", dir))
		return 1
	}
	sh.Dir = path
	sh.ec.Dir = path
	sh.Vars.Set("PWD", path)
	return 0
}

func builtinExport(ctx context.Context, sh *Shell, args []string) int {
	if len(args) == 1 {
		var names []string
		sh.Vars.Each(func(v vars.Variable) bool {
			names = append(names, v.Name)
			return true
		})
		sort.Strings(names)
		for _, n := range names {
			if v, ok := sh.Vars.Get(n); ok && v.Flags&vars.Exported != 0 {
				fmt.Fprintf(sh.outWriter(), "export %s=%s\n", n, v.Value)
			}
		}
		return 0
	}
	status := 0
	for _, a := range args[1:] {
		name := a
		if eq := strings.IndexByte(a, '='); eq >= 0 {
			name = a[:eq]
			if err := sh.Vars.Set(name, a[eq+1:]); err != nil {
				sh.diag(err)
				status = 1
				continue
			}
		}
		if err := sh.Vars.Export(name); err != nil {
			sh.diag(err)
			status = 1
		}
	}
	return status
}

func builtinReadonly(ctx context.Context, sh *Shell, args []string) int {
	if len(args) == 1 {
		var names []string
		sh.Vars.Each(func(v vars.Variable) bool {
			names = append(names, v.Name)
			return true
		})
		sort.Strings(names)
		for _, n := range names {
			if v, ok := sh.Vars.Get(n); ok && v.Flags&vars.ReadOnly != 0 {
				fmt.Fprintf(sh.outWriter(), "readonly %s=%s\n", n, v.Value)
			}
		}
		return 0
	}
	status := 0
	for _, a := range args[1:] {
		name := a
		if eq := strings.IndexByte(a, '='); eq >= 0 {
			name = a[:eq]
			if err := sh.Vars.Set(name, a[eq+1:]); err != nil {
				sh.diag(err)
				status = 1
				continue
			}
		}
		if err := sh.Vars.ReadOnly(name); err != nil {
			sh.diag(err)
			status = 1
		}
	}
	return status
}

func builtinSet(ctx context.Context, sh *Shell, args []string) int {
	rest := args[1:]
	i := 0
	sawDashDash := false
	for i < len(rest) {
		a := rest[i]
		if a == "--" {
			i++
			sawDashDash = true
			break
		}
		if len(a) >= 2 && (a[0] == '-' || a[0] == '+') {
			if bad, ok := sh.setFlags(a[1:], a[0] == '-'); !ok {
				sh.diag(fmt.Errorf("set: %s: unknown option", bad))
				return 1
			}
			i++
			continue
		}
		break
	}
	if i < len(rest) || sawDashDash {
		sh.Vars.SetPositional(rest[i:])
		return 0
	}
	if len(args) == 1 {
		var names []string
		sh.Vars.Each(func(v vars.Variable) bool {
			names = append(names, v.Name)
			return true
		})
		sort.Strings(names)
		for _, n := range names {
			if v, ok := sh.Vars.Get(n); ok {
				fmt.Fprintf(sh.outWriter(), "%s=%s\n", n, v.Value)
			}
		}
	}
	return 0
}

func builtinShift(ctx context.Context, sh *Shell, args []string) int {
	n := 1
	if len(args) > 1 {
		v, err := strconv.Atoi(args[1])
		if err != nil || v < 0 {
			sh.diag(fmt.Errorf("shift: %s: bad count", args[1]))
			return 1
		}
		n = v
	}
	pos := sh.Vars.Positional()
	if n > len(pos) {
		sh.diag(fmt.Errorf("shift: shift count out of range"))
		return 1
	}
	sh.Vars.SetPositional(pos[n:])
	return 0
}

func builtinTrap(ctx context.Context, sh *Shell, args []string) int {
	if len(args) == 1 {
		for name, body := range sh.traps.bodies {
			fmt.Fprintf(sh.outWriter(), "trap -- %q %s\n", body, name)
		}
		return 0
	}
	if args[1] == "-" {
		for _, s := range args[2:] {
			name, err := sh.resolveTrapName(s)
			if err != nil {
				sh.diag(err)
				return 1
			}
			sh.traps.set(name, "")
		}
		return 0
	}
	if _, err := strconv.Atoi(args[1]); err == nil {
		// Bare numeric form: `trap N` also resets to default.
		for _, s := range args[1:] {
			name, err := sh.resolveTrapName(s)
			if err != nil {
				sh.diag(err)
				return 1
			}
			sh.traps.set(name, "")
		}
		return 0
	}
	body := args[1]
	for _, s := range args[2:] {
		name, err := sh.resolveTrapName(s)
		if err != nil {
			sh.diag(err)
			return 1
		}
		sh.traps.set(name, body)
		if name != "EXIT" {
			sh.watchSignals()
		}
	}
	return 0
}

func builtinWait(ctx context.Context, sh *Shell, args []string) (ret int) {
	// The return of a wait is a trap safe point. A pending signal that
	// ends the shell replaces the wait status with its own.
	defer func() {
		if sh.checkSafePoint(ctx) && sh.exiting {
			ret = sh.exitCode
		}
	}()
	if len(args) == 1 {
		return sh.bg.waitAll()
	}
	status := 0
	for _, a := range args[1:] {
		id, err := strconv.Atoi(a)
		if err != nil {
			sh.diag(fmt.Errorf("wait: %s: not a pid", a))
			status = 1
			continue
		}
		code, ok := sh.bg.waitOne(id)
		if !ok {
			sh.diag(fmt.Errorf("wait: %s: no such job", a))
			status = 127
			continue
		}
		status = code
	}
	return status
}

func builtinRead(ctx context.Context, sh *Shell, args []string) int {
	if len(args) < 2 {
		sh.diag(fmt.Errorf("read: usage: read NAME ..."))
		return 1
	}
	names := args[1:]
	r := bufio.NewReader(sh.inReader())
	line, err := r.ReadString('\n')
	if line == "" && err != nil {
		return 1
	}
	line = strings.TrimSuffix(line, "\n")
	ifs, _ := sh.Vars.Lookup("IFS")
	if ifs == "" {
		ifs = " \t\n"
	}
	fields := strings.FieldsFunc(line, func(r rune) bool {
		return strings.ContainsRune(ifs, r)
	})
	for i, name := range names {
		switch {
		case i == len(names)-1 && len(fields) > i:
			sh.Vars.Set(name, strings.Join(fields[i:], " "))
		case i < len(fields):
			sh.Vars.Set(name, fields[i])
		default:
			sh.Vars.Set(name, "")
		}
	}
	if err != nil {
		return 1
	}
	return 0
}

func builtinEval(ctx context.Context, sh *Shell, args []string) int {
	if len(args) == 1 {
		return 0
	}
	sh.RunString(ctx, strings.Join(args[1:], " "))
	return sh.exitCode
}

func builtinBreak(ctx context.Context, sh *Shell, args []string) int {
	panic(&breakSignal{n: breakContinueCount(args)})
}

func builtinContinue(ctx context.Context, sh *Shell, args []string) int {
	panic(&contSignal{n: breakContinueCount(args)})
}

func breakContinueCount(args []string) int {
	if len(args) < 2 {
		return 1
	}
	n, err := strconv.Atoi(args[1])
	if err != nil || n < 1 {
		return 1
	}
	return n
}

func builtinTimes(ctx context.Context, sh *Shell, args []string) int {
	var self, children unix.Rusage
	unix.Getrusage(unix.RUSAGE_SELF, &self)
	unix.Getrusage(unix.RUSAGE_CHILDREN, &children)
	fmt.Fprintf(sh.outWriter(), "%s\n%s\n", fmtRusage(self), fmtRusage(children))
	return 0
}

func fmtRusage(r unix.Rusage) string {
	u := float64(r.Utime.Sec) + float64(r.Utime.Usec)/1e6
	s := float64(r.Stime.Sec) + float64(r.Stime.Usec)/1e6
	return fmt.Sprintf("%dm%.3fs %dm%.3fs", int(u)/60, mod60(u), int(s)/60, mod60(s))
}

func mod60(f float64) float64 {
	m := int(f) / 60
	return f - float64(m*60)
}

func builtinUmask(ctx context.Context, sh *Shell, args []string) int {
	if len(args) == 1 {
		old := unix.Umask(0)
		unix.Umask(old)
		fmt.Fprintf(sh.outWriter(), "%04o\n", old)
		return 0
	}
	n, err := strconv.ParseInt(args[1], 8, 32)
	if err != nil {
		sh.diag(fmt.Errorf("umask: %s: bad mask", args[1]))
		return 1
	}
	unix.Umask(int(n))
	return 0
}

// builtinLogin re-execs the real login/newgrp program by name, the way
// msh.c's own login/newgrp builtins hand off to the system binary
// rather than implementing session/group changes themselves.
func builtinLogin(ctx context.Context, sh *Shell, args []string) int {
	path, err := sh.lookPath(args[0])
	if err != nil {
		sh.diag(fmt.Errorf("%s: not found", args[0]))
		return 127
	}
	env := sh.Vars.Exported()
	if err := unix.Exec(path, args, env); err != nil {
		sh.diag(fmt.Errorf("%s: %v", args[0], err))
		return 126
	}
	return 0
}

func builtinHelp(ctx context.Context, sh *Shell, args []string) int {
	var names []string
	for name := range builtins {
		names = append(names, name)
	}
	sort.Strings(names)
	fmt.Fprintln(sh.outWriter(), strings.Join(names, " "))
	return 0
}
