package expand

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/go-msh/msh/syntax"
)

// expandDollar resolves one parameter reference starting at src[0]=='$',
// returning its value and the number of bytes consumed from src.
func (c *Context) expandDollar(ctx context.Context, src []byte) (string, int, error) {
	if len(src) < 2 {
		return "$", 1, nil
	}
	if src[1] == '{' {
		end := bytes.IndexByte(src[2:], '}')
		if end < 0 {
			return "", len(src), fmt.Errorf("unterminated ${")
		}
		body := string(src[2 : 2+end])
		val, err := c.expandBraceBody(ctx, body)
		return val, 3 + end, err
	}
	switch c2 := src[1]; {
	case c2 >= '0' && c2 <= '9':
		v, _ := c.Vars.Lookup(string(c2))
		return v, 2, nil
	case c2 == '@' || c2 == '*' || c2 == '#' || c2 == '?' || c2 == '$' || c2 == '!' || c2 == '-':
		v, _ := c.Vars.Lookup(string(c2))
		return v, 2, nil
	case isNameByte(c2, true):
		j := 1
		for j < len(src) && isNameByte(src[j], false) {
			j++
		}
		name := string(src[1:j])
		v, _ := c.Vars.Lookup(name)
		return v, j, nil
	}
	return "$", 1, nil
}

// expandBraceBody resolves the body of a ${...} expansion: a bare name
// or special parameter, optionally followed by one of the four
// spec-4.F operators -, =, +, ? (each with an optional leading ':' for
// the "or-null" variant).
func (c *Context) expandBraceBody(ctx context.Context, body string) (string, error) {
	name, op, word, hasOp := splitParamOp(body)
	val, set := c.Vars.Lookup(name)
	if !hasOp {
		return val, nil
	}
	return c.applyParamOp(ctx, name, op, word, val, set)
}

// applyParamOp implements the four substitution operators spec 4.F
// names. colon (the leading ':' variant) treats a set-but-empty
// parameter the same as unset, matching ${x:-d} vs ${x-d}.
func (c *Context) applyParamOp(ctx context.Context, name, op, wordSrc, val string, set bool) (string, error) {
	colon := strings.HasPrefix(op, ":")
	bare := strings.TrimPrefix(op, ":")
	useAlt := set && (!colon || val != "")

	expandWordSrc := func() (string, error) {
		return c.EvalLiteral(ctx, rawWordFromLiteral(wordSrc))
	}

	switch bare {
	case "-":
		if useAlt {
			return val, nil
		}
		return expandWordSrc()
	case "=":
		if useAlt {
			return val, nil
		}
		repl, err := expandWordSrc()
		if err != nil {
			return "", err
		}
		if err := c.Vars.Set(name, repl); err != nil {
			return "", err
		}
		return repl, nil
	case "+":
		if useAlt {
			return expandWordSrc()
		}
		return "", nil
	case "?":
		if useAlt {
			return val, nil
		}
		msg, _ := expandWordSrc()
		if msg == "" {
			msg = "parameter null or not set"
		}
		return "", fmt.Errorf("%s: %s", name, msg)
	}
	return val, nil
}

// splitParamOp finds the first unescaped occurrence of one of -,=,+,?
// (optionally preceded by ':') in body, splitting it into name/op/word.
func splitParamOp(body string) (name, op, word string, hasOp bool) {
	for i := 0; i < len(body); i++ {
		c := body[i]
		if c == '\\' {
			i++
			continue
		}
		start := i
		if c == ':' && i+1 < len(body) {
			i++
			c = body[i]
		}
		switch c {
		case '-', '=', '+', '?':
			return body[:start], body[start : i+1], body[i+1:], true
		}
	}
	return body, "", "", false
}

// rawWordFromLiteral builds an already-literal syntax.Word from a plain
// Go string (the text captured inside a ${...} operator's replacement),
// still subject to $/backtick re-expansion per POSIX.
func rawWordFromLiteral(s string) *syntax.Word {
	w := syntax.NewWord("")
	w.AppendLiteral(s)
	return w
}
