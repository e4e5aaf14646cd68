// Package expand implements word expansion (component F): parameter and
// special-variable substitution, backtick command substitution, field
// splitting on IFS, and pathname expansion (globbing), applied to the
// syntax.Word flat byte+quote-bitset representation.
//
// The flat representation means expansion works by scanning raw bytes
// for an unquoted '$' or '`' rather than walking a tree of typed word
// parts, adapted from the teacher's expand.go wordFields/wordField dual
// (non-splitting vs splitting contexts) down to this simpler model.
package expand

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/go-msh/msh/pattern"
	"github.com/go-msh/msh/syntax"
	"github.com/go-msh/msh/vars"
)

// Flags controls which expansion stages EvalWords applies, matching
// spec 4.F's SUB/BLANK/GLOB/TRIM flag table. SUB (parameter/backtick
// substitution) is always on for EvalWords/EvalWord/EvalLiteral, since
// msh's grammar only ever produces a bare, unexpanded syntax.Word for
// a here-document whose tag was quoted - that one case is handled
// separately by ExpandHereDocBody, which skips substitution entirely.
// KEY (NAME=VALUE detection) is handled separately by SplitAssign,
// since it only ever applies to the first word of a simple command.
type Flags uint

const (
	Sub   Flags = 1 << iota // reserved for parity with spec 4.F; always implied
	Blank                   // split unquoted substitution results on IFS
	Glob                    // pathname-expand unquoted fields containing *, ?, [
)

// Context holds everything expansion needs beyond the word itself: the
// variable table to resolve names against, and a hook to run a command
// and capture its stdout for backtick substitution (spec 9: backtick
// substitution runs through the same external-command path as a
// top-level command, not a direct fork of its own).
type Context struct {
	Vars *vars.Table
	// Exec runs cmd (a fully formed shell command line) as if typed at
	// the top level and returns its captured, trailing-newline-trimmed
	// stdout. Supplied by interp.
	Exec func(ctx context.Context, cmd string) (string, error)

	// Dir is the working directory glob expansion resolves relative
	// paths against; if empty, the process's current directory is used.
	Dir string
}

// fieldPart is one contiguous run of a result word: val is the text,
// quoted reports whether it came from a quoted (literal) span and so
// must be exempt from splitting and globbing. boundary marks a forced
// field break with no text of its own, used between the elements of a
// quoted "$@" expansion (spec 4.F: each positional parameter is its own
// field even though the construct as a whole is quoted).
type fieldPart struct {
	val      string
	quoted   bool
	boundary bool
}

// EvalWords expands and (optionally) splits and globs every word,
// returning the final flat argv-style list, per spec 4.F.
func (c *Context) EvalWords(ctx context.Context, words []*syntax.Word, flags Flags) ([]string, error) {
	var out []string
	for _, w := range words {
		fields, err := c.evalWord(ctx, w, flags)
		if err != nil {
			return out, err
		}
		out = append(out, fields...)
	}
	return out, nil
}

// EvalWord expands a single word to its final (possibly multi-field)
// string list.
func (c *Context) EvalWord(ctx context.Context, w *syntax.Word, flags Flags) ([]string, error) {
	return c.evalWord(ctx, w, flags)
}

// EvalLiteral expands a word into a single joined string, with no field
// splitting or globbing, used for redirection targets, case scrutinees,
// here-doc tags, and other contexts spec 4.F requires to collapse to
// exactly one string.
func (c *Context) EvalLiteral(ctx context.Context, w *syntax.Word) (string, error) {
	parts, err := c.expandParts(ctx, w)
	if err != nil {
		return "", err
	}
	var buf strings.Builder
	for _, p := range parts {
		buf.WriteString(p.val)
	}
	return buf.String(), nil
}

func (c *Context) evalWord(ctx context.Context, w *syntax.Word, flags Flags) ([]string, error) {
	parts, err := c.expandParts(ctx, w)
	if err != nil {
		return nil, err
	}
	if flags&Blank == 0 {
		return []string{joinParts(parts)}, nil
	}
	fields := splitFields(parts, c.ifs())
	if flags&Glob == 0 {
		return fieldStrings(fields), nil
	}
	var out []string
	for _, f := range fields {
		if !f.anyUnquoted {
			out = append(out, f.raw)
			continue
		}
		matches, did, err := c.globField(f.raw)
		if err != nil {
			return nil, err
		}
		if did && len(matches) > 0 {
			out = append(out, matches...)
		} else {
			out = append(out, f.raw)
		}
	}
	return out, nil
}

func joinParts(parts []fieldPart) string {
	var buf strings.Builder
	for _, p := range parts {
		buf.WriteString(p.val)
	}
	return buf.String()
}

// splitField is one field produced by splitFields. anyUnquoted records
// whether globbing may even apply: a field built entirely from quoted
// parts is never glob-expanded (spec 4.F: quoting suppresses pathname
// expansion), so evalWord only attempts globField when at least one
// part is unquoted.
type splitField struct {
	raw        string
	anyUnquoted bool
}

func splitFields(parts []fieldPart, ifs string) []splitField {
	var fields []splitField
	var cur strings.Builder
	curUnquoted := false
	started := false
	flush := func() {
		if started {
			fields = append(fields, splitField{raw: cur.String(), anyUnquoted: curUnquoted})
		}
		cur.Reset()
		curUnquoted = false
		started = false
	}
	for _, p := range parts {
		if p.boundary {
			flush()
			continue
		}
		if p.quoted {
			cur.WriteString(p.val)
			started = true
			continue
		}
		// Unquoted text: split on runs of IFS characters.
		s := p.val
		i := 0
		for i < len(s) {
			if strings.IndexByte(ifs, s[i]) >= 0 {
				flush()
				for i < len(s) && strings.IndexByte(ifs, s[i]) >= 0 {
					i++
				}
				continue
			}
			j := i
			for j < len(s) && strings.IndexByte(ifs, s[j]) < 0 {
				j++
			}
			cur.WriteString(s[i:j])
			curUnquoted = true
			started = true
			i = j
		}
	}
	flush()
	return fields
}

func fieldStrings(fields []splitField) []string {
	out := make([]string, len(fields))
	for i, f := range fields {
		out[i] = f.raw
	}
	return out
}

func (c *Context) ifs() string {
	if c.Vars == nil {
		return " \t\n"
	}
	if v, ok := c.Vars.Lookup("IFS"); ok {
		return v
	}
	return " \t\n"
}

// expandParts walks the word's raw bytes, resolving every unquoted '$'
// parameter reference and '`...`' backtick substitution, and passes
// quoted/literal bytes through unchanged.
func (c *Context) expandParts(ctx context.Context, w *syntax.Word) ([]fieldPart, error) {
	if w == nil {
		return nil, nil
	}
	var parts []fieldPart
	var lit bytes.Buffer
	litQuoted := false
	flushLit := func() {
		if lit.Len() > 0 {
			parts = append(parts, fieldPart{val: lit.String(), quoted: litQuoted})
			lit.Reset()
		}
	}

	b, q := w.Bytes, w.Quoted
	i := 0
	for i < len(b) {
		switch {
		case b[i] == '$' && i+1 < len(b):
			flushLit()
			// "$@" quoted (the name byte right after '$' carries the
			// quoted bit set by lexDoubleQuoted) expands to one field
			// per positional parameter rather than one joined field,
			// per spec 4.F.
			if b[i+1] == '@' && q[i+1] {
				parts = append(parts, c.quotedPositionalFields()...)
				i += 2
				continue
			}
			val, consumed, err := c.expandDollar(ctx, b[i:])
			if err != nil {
				return nil, err
			}
			parts = append(parts, fieldPart{val: val, quoted: q[i+1]})
			i += consumed
		case b[i] == '`':
			flushLit()
			val, consumed, err := c.expandBacktick(ctx, b[i:])
			if err != nil {
				return nil, err
			}
			parts = append(parts, fieldPart{val: val, quoted: q[i+1]})
			i += consumed
		default:
			if lit.Len() > 0 && litQuoted != q[i] {
				flushLit()
			}
			litQuoted = q[i]
			lit.WriteByte(b[i])
			i++
		}
	}
	flushLit()
	return parts, nil
}

// quotedPositionalFields expands "$@" inside double quotes into one
// field per positional parameter, each exempt from further splitting,
// with a forced boundary between them so splitFields neither merges
// them into one field (as it would for "$*") nor IFS-splits them.
// Mirrors the teacher's quotedElems/wordFields special case for a
// DblQuoted word wrapping a single "@" ParamExp, adapted to msh's flat
// byte/quoted-bitset Word instead of a typed WordPart tree.
func (c *Context) quotedPositionalFields() []fieldPart {
	elems := c.Vars.Positional()
	if len(elems) == 0 {
		return nil
	}
	parts := make([]fieldPart, 0, len(elems)*2-1)
	for i, e := range elems {
		if i > 0 {
			parts = append(parts, fieldPart{boundary: true})
		}
		parts = append(parts, fieldPart{val: e, quoted: true})
	}
	return parts
}

func isNameByte(b byte, first bool) bool {
	switch {
	case b == '_':
		return true
	case b >= 'A' && b <= 'Z', b >= 'a' && b <= 'z':
		return true
	case b >= '0' && b <= '9':
		return !first
	}
	return false
}

// expandBacktick resolves `cmd`, returning its captured stdout and the
// number of raw bytes consumed (including both backticks).
func (c *Context) expandBacktick(ctx context.Context, src []byte) (string, int, error) {
	i := 1
	var body bytes.Buffer
	for i < len(src) {
		switch src[i] {
		case '`':
			cmdSrc := unescapeBacktickBody(body.String())
			if c.Exec == nil {
				return "", i + 1, fmt.Errorf("command substitution not available")
			}
			out, err := c.Exec(ctx, cmdSrc)
			if err != nil {
				return "", i + 1, err
			}
			return out, i + 1, nil
		case '\\':
			if i+1 < len(src) {
				body.WriteByte(src[i])
				body.WriteByte(src[i+1])
				i += 2
				continue
			}
			body.WriteByte(src[i])
			i++
		default:
			body.WriteByte(src[i])
			i++
		}
	}
	return "", i, fmt.Errorf("unterminated backtick substitution")
}

// unescapeBacktickBody removes one level of backslash-escaping from \\,
// \$, and \` inside a backtick substitution, per POSIX 2.6.3.
func unescapeBacktickBody(s string) string {
	var buf strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			switch s[i+1] {
			case '\\', '$', '`':
				buf.WriteByte(s[i+1])
				i++
				continue
			}
		}
		buf.WriteByte(s[i])
	}
	return buf.String()
}

// ExpandHereDocBody expands a here-document body, per spec 4.F/POSIX
// 2.7.4: a quoted tag (expand == false) suppresses substitution
// entirely and the body is used verbatim; otherwise '$' parameters and
// '`...`' command substitutions are resolved, and a backslash retains
// its literal meaning except before '$', '`', '\\', or a newline (line
// continuation), where it escapes that character. There is no field
// splitting or globbing of a here-document body.
func (c *Context) ExpandHereDocBody(ctx context.Context, body string, expand bool) (string, error) {
	if !expand {
		return body, nil
	}
	var buf strings.Builder
	b := []byte(body)
	for i := 0; i < len(b); {
		switch {
		case b[i] == '\\' && i+1 < len(b) && (b[i+1] == '$' || b[i+1] == '`' || b[i+1] == '\\'):
			buf.WriteByte(b[i+1])
			i += 2
		case b[i] == '\\' && i+1 < len(b) && b[i+1] == '\n':
			i += 2
		case b[i] == '$':
			val, consumed, err := c.expandDollar(ctx, b[i:])
			if err != nil {
				return "", err
			}
			buf.WriteString(val)
			i += consumed
		case b[i] == '`':
			val, consumed, err := c.expandBacktick(ctx, b[i:])
			if err != nil {
				return "", err
			}
			buf.WriteString(val)
			i += consumed
		default:
			buf.WriteByte(b[i])
			i++
		}
	}
	return buf.String(), nil
}

// SplitAssign reports whether w is a literal (no expansion-significant
// bytes before the '=') NAME=VALUE word, per spec 4.F's KEY flag and
// vars.IsAssign. Only the prefix up to '=' needs to be a plain name; the
// value half is returned as its own Word for normal expansion.
func SplitAssign(w *syntax.Word) (name string, valueWord *syntax.Word, ok bool) {
	if w == nil {
		return "", nil, false
	}
	eq := -1
	for i, b := range w.Bytes {
		if w.Quoted[i] {
			continue
		}
		if b == '=' {
			eq = i
			break
		}
		if !isNameByte(b, i == 0) {
			return "", nil, false
		}
	}
	if eq <= 0 {
		return "", nil, false
	}
	name = string(w.Bytes[:eq])
	rest := &syntax.Word{Bytes: append([]byte(nil), w.Bytes[eq+1:]...), Quoted: append([]bool(nil), w.Quoted[eq+1:]...)}
	return name, rest, true
}

// globField pathname-expands field if it contains unescaped glob
// metacharacters, matching spec 4.F's directory-descent globbing with
// the hidden-dot rule and lexicographic sort. evalWord only calls this
// for fields with at least one unquoted part.
func (c *Context) globField(field string) ([]string, bool, error) {
	if !pattern.HasMeta(field) {
		return nil, false, nil
	}
	dir := c.Dir
	if dir == "" {
		dir = "."
	}
	abs := filepath.IsAbs(field)
	parts := strings.Split(field, string(filepath.Separator))
	matches := []string{dir}
	if abs {
		matches = []string{string(filepath.Separator)}
		parts = parts[1:]
	}
	for _, part := range parts {
		if part == "" {
			continue
		}
		rx, err := globRegexp(part)
		if err != nil {
			return nil, true, err
		}
		var next []string
		for _, base := range matches {
			next = globDir(base, part, rx, next)
		}
		matches = next
		if len(matches) == 0 {
			return nil, true, nil
		}
	}
	if !abs {
		for i, m := range matches {
			if rel, err := filepath.Rel(dir, m); err == nil {
				matches[i] = rel
			}
		}
	}
	sort.Strings(matches)
	return matches, true, nil
}

func globRegexp(part string) (*regexp.Regexp, error) {
	expr, err := pattern.Regexp(part, pattern.EntireString)
	if err != nil {
		return nil, err
	}
	return regexp.Compile(expr)
}

func globDir(dir, part string, rx *regexp.Regexp, out []string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return out
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	for _, name := range names {
		// hidden-dot rule: a leading '.' only matches an explicit
		// leading '.' in the pattern.
		if name[0] == '.' && (len(part) == 0 || part[0] != '.') {
			continue
		}
		if rx.MatchString(name) {
			out = append(out, filepath.Join(dir, name))
		}
	}
	return out
}
