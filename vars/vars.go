// Package vars implements the shell's variable table: name -> (value,
// flags), the positional-parameter view, and the handful of special
// names ($?, $$, $!, $#, $-, $*/$@) that are computed rather than stored.
//
// The shape follows expand.Environ/expand.Variable from the teacher
// (mvdan.cc/sh/v3/expand), simplified to the data model spec.md actually
// asks for: no indexed or associative arrays, no name references, just a
// string value plus three independent flags.
package vars

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
)

// Flag is a bit in a Variable's attribute set.
type Flag uint8

const (
	ReadOnly Flag = 1 << iota
	Exported
	Owned // set by the shell itself (e.g. $RANDOM-style builtins), not the user
)

// Variable is one entry in the table.
type Variable struct {
	Name  string
	Value string
	Flags Flag
	set   bool // distinguishes "declared but empty" from "never assigned"
}

// IsSet reports whether the variable has ever been assigned a value.
func (v Variable) IsSet() bool { return v.set }

func (v Variable) has(f Flag) bool { return v.Flags&f != 0 }

// ReadOnlyAssignError is returned (not panicked) when an assignment
// targets a read-only variable. Per spec 4.B, this is a diagnostic, not
// an abort: the caller prints it and the assignment is simply dropped.
type ReadOnlyAssignError struct {
	Name string
}

func (e *ReadOnlyAssignError) Error() string {
	return fmt.Sprintf("%s: is read only", e.Name)
}

// Table is the variable table for one shell scope. A subshell gets a
// shallow clone (Clone) so that its assignments, exports, and unsets
// don't leak back to the parent, matching spec's "non-local escapes
// unwind to a known good state" / fork-copies-the-table model.
type Table struct {
	m    map[string]*Variable
	argv []string // $0 at index 0, followed by positional parameters
	// lastPID is the PID of the most recently started background job ($!).
	lastPID int
	// lastStatus is $?.
	lastStatus int
	// optString is the live option string rendered for $- (vars does not
	// own the option array itself; the interp package feeds it in).
	optString func() string
}

// New creates a table pre-registered with the well-known names
// (SHELL, HOME, PATH, IFS, PS1, PS2, $) seeded from the process
// environment, per spec 4.B. argv0 becomes $0.
func New(argv0 string, environ []string) *Table {
	t := &Table{m: make(map[string]*Variable)}
	t.argv = []string{argv0}

	for _, kv := range environ {
		name, val, ok := strings.Cut(kv, "=")
		if !ok || !isIdentifier(name) {
			continue
		}
		t.m[name] = &Variable{Name: name, Value: val, Flags: Exported, set: true}
	}

	seedDefault(t, "HOME", "")
	seedDefault(t, "SHELL", "/bin/sh")
	seedDefault(t, "IFS", " \t\n")
	seedDefault(t, "PS1", defaultPS1())
	seedDefault(t, "PS2", "> ")
	seedDefault(t, "PATH", defaultPATH())

	t.m["$"] = &Variable{Name: "$", Value: strconv.Itoa(os.Getpid()), Flags: Owned, set: true}
	return t
}

func seedDefault(t *Table, name, def string) {
	if _, ok := t.m[name]; ok {
		return
	}
	t.m[name] = &Variable{Name: name, Value: def, set: def != ""}
}

func defaultPS1() string {
	if os.Geteuid() == 0 {
		return "# "
	}
	return "$ "
}

// defaultPATH mirrors msh.c's EUID-dependent default: root gets the
// sbin-inclusive path, everyone else gets the user path.
func defaultPATH() string {
	if os.Geteuid() == 0 {
		return "/usr/sbin:/usr/bin:/sbin:/bin"
	}
	return "/usr/bin:/bin:/usr/local/bin"
}

// SetOptionStringFunc wires the live shell-option-array renderer used to
// answer $-, so vars never needs to know about interp's option bits.
func (t *Table) SetOptionStringFunc(f func() string) { t.optString = f }

// isIdentifier reports whether s matches [_A-Za-z][_A-Za-z0-9]*, the
// is_assign name-part grammar from spec 4.B.
func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_':
		case r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}

// IsAssign reports whether s looks like NAME=VALUE, per spec's
// is_assign(s). On success it returns the split name/value.
func IsAssign(s string) (name, value string, ok bool) {
	name, value, ok = strings.Cut(s, "=")
	if !ok || !isIdentifier(name) {
		return "", "", false
	}
	return name, value, true
}

// Lookup returns the variable's current value and whether it is set. It
// resolves numeric names ($1, $2, ...) and the special names ($?, $$,
// $!, $#, $-, $*, $@) without touching the map.
func (t *Table) Lookup(name string) (value string, set bool) {
	switch name {
	case "?":
		return strconv.Itoa(t.lastStatus), true
	case "!":
		if t.lastPID == 0 {
			return "", false
		}
		return strconv.Itoa(t.lastPID), true
	case "#":
		return strconv.Itoa(len(t.argv) - 1), true
	case "-":
		if t.optString != nil {
			return t.optString(), true
		}
		return "", true
	case "*":
		// $* joins on the first character of IFS (POSIX 2.5.2), not a
		// hardcoded space; expand's quoted-"$@" path is what actually
		// gives "@" its separate-field-per-positional behavior, so this
		// plain join only serves unquoted/${@}-brace callers.
		return strings.Join(t.argv[1:], t.joinIFS()), len(t.argv) > 1
	case "@":
		return strings.Join(t.argv[1:], " "), len(t.argv) > 1
	case "0":
		return t.argv[0], true
	}
	if n, err := strconv.Atoi(name); err == nil && n >= 1 {
		if n < len(t.argv) {
			return t.argv[n], true
		}
		return "", false
	}
	v, ok := t.m[name]
	if !ok || !v.set {
		return "", false
	}
	return v.Value, true
}

// joinIFS returns the separator $* joins its positional parameters
// with: the first byte of $IFS, a space if IFS has never been set, or
// "" if IFS is set but empty.
func (t *Table) joinIFS() string {
	v, ok := t.m["IFS"]
	if !ok || !v.set {
		return " "
	}
	if v.Value == "" {
		return ""
	}
	return v.Value[:1]
}

// Positional returns the positional parameters $1..$N (not including $0).
func (t *Table) Positional() []string {
	if len(t.argv) <= 1 {
		return nil
	}
	out := make([]string, len(t.argv)-1)
	copy(out, t.argv[1:])
	return out
}

// SetPositional replaces $1.. with args, as `set -- ...` does.
func (t *Table) SetPositional(args []string) {
	t.argv = append(t.argv[:1], args...)
}

// SetArg0 replaces $0, as running a script file or `-c` name argument does.
func (t *Table) SetArg0(name string) {
	t.argv[0] = name
}

// SetStatus records $?.
func (t *Table) SetStatus(code int) { t.lastStatus = code }

// Status returns the current $?.
func (t *Table) Status() int { return t.lastStatus }

// SetLastPID records $! after starting a background job.
func (t *Table) SetLastPID(pid int) { t.lastPID = pid }

// Set assigns name = value. If the variable is marked ReadOnly, the
// assignment is rejected with a *ReadOnlyAssignError and the value is
// left untouched, per spec 4.B ("does NOT modify the value; does not
// abort the shell").
func (t *Table) Set(name, value string) error {
	if n, err := strconv.Atoi(name); err == nil && n >= 0 {
		return fmt.Errorf("%s: cannot assign to a positional parameter", name)
	}
	if v, ok := t.m[name]; ok && v.has(ReadOnly) {
		return &ReadOnlyAssignError{Name: name}
	}
	v, ok := t.m[name]
	if !ok {
		v = &Variable{Name: name}
		t.m[name] = v
	}
	v.Value = value
	v.set = true
	return nil
}

// Unset removes a variable. Read-only variables cannot be unset either.
func (t *Table) Unset(name string) error {
	v, ok := t.m[name]
	if !ok {
		return nil
	}
	if v.has(ReadOnly) {
		return &ReadOnlyAssignError{Name: name}
	}
	delete(t.m, name)
	return nil
}

// Export marks name as exported, creating it (unset) if it doesn't
// exist yet, matching `export NAME` with no value.
func (t *Table) Export(name string) error {
	v, ok := t.m[name]
	if !ok {
		v = &Variable{Name: name}
		t.m[name] = v
	}
	v.Flags |= Exported
	return nil
}

// ReadOnly marks name as read-only, creating it (unset) if needed.
func (t *Table) ReadOnly(name string) error {
	v, ok := t.m[name]
	if !ok {
		v = &Variable{Name: name}
		t.m[name] = v
	}
	v.Flags |= ReadOnly
	return nil
}

// Get returns a copy of the stored Variable (not the special/positional
// names, which Lookup handles), for callers that need the flags too
// (e.g. `export -p`, `readonly -p`, `set`'s variable-dump display).
func (t *Table) Get(name string) (Variable, bool) {
	v, ok := t.m[name]
	if !ok {
		return Variable{}, false
	}
	return *v, true
}

// Exported returns the Set=true, Exported variables, sorted by name, in
// the form []string{"NAME=VALUE", ...} ready for os/exec.Cmd.Env.
func (t *Table) Exported() []string {
	names := make([]string, 0, len(t.m))
	for name, v := range t.m {
		if v.set && v.has(Exported) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	out := make([]string, len(names))
	for i, name := range names {
		out[i] = name + "=" + t.m[name].Value
	}
	return out
}

// Each iterates over all set variables in name-sorted order, calling fn
// for each. Iteration stops early if fn returns false.
func (t *Table) Each(fn func(Variable) bool) {
	names := make([]string, 0, len(t.m))
	for name, v := range t.m {
		if v.set {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	for _, name := range names {
		if !fn(*t.m[name]) {
			return
		}
	}
}

// Clone returns a shallow copy of the table: a new map with copies of
// every Variable, but independent from the original, for subshells and
// command substitutions to mutate without leaking changes back to the
// parent scope (spec 5, "children ... receive a copy of the variable
// table ... at the instant of fork").
func (t *Table) Clone() *Table {
	c := &Table{
		m:          make(map[string]*Variable, len(t.m)),
		argv:       append([]string(nil), t.argv...),
		lastPID:    t.lastPID,
		lastStatus: t.lastStatus,
		optString:  t.optString,
	}
	for name, v := range t.m {
		cp := *v
		c.m[name] = &cp
	}
	return c
}
