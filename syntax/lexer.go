package syntax

import (
	"fmt"
	"io"

	"github.com/go-msh/msh/input"
)

// Lexer reads bytes off an input.Stack and produces msh's token stream:
// WORD, reserved words, operators, NEWLINE, EOF. A leading IO-unit digit
// string is not a token of its own: Next returns its number alongside
// the redirection operator that follows it. It implements
// the quoting, comment, line-continuation, and leading-IO-unit-digit
// rules of spec 4.D.
//
// Reserved-word recognition and the "start of a word position" tracking
// (spec 4.D: "tracked by the parser via a startl flag") is folded into
// the lexer itself here, toggled on exactly the token set spec names:
// ;, &, |, &&, ||, newline, (, {, then, do, else, and friends.
type Lexer struct {
	in   *input.Stack
	line int

	atWordStart bool

	// pendingTok holds an already-lexed operator token when a digit run
	// turned out not to be an IO unit (e.g. "2;"): the digits are
	// reported as a WORD first, and this is returned on the following
	// Next() call instead of re-reading from the input stack.
	pendingTok  Token
	havePending bool

	// NewlineHook, if set, runs whenever the lexer is about to emit a
	// NEWLINE token, before returning it - the parser installs this to
	// satisfy pending here-documents (spec 4.E "gether()").
	NewlineHook func() error
}

// NewLexer wraps an input.Stack. The stack must already have at least
// one frame pushed.
func NewLexer(in *input.Stack) *Lexer {
	return &Lexer{in: in, line: 1, atWordStart: true}
}

// LexError is a lexical failure: unterminated quote, word too long, or
// an unterminated ${...}/backtick construct.
type LexError struct {
	Msg string
}

func (e *LexError) Error() string { return e.Msg }

// maxWordLen mirrors msh.c's LINELIM: words longer than this are
// truncated, with the remaining bytes dropped up to the next delimiter.
const maxWordLen = 4000

func (l *Lexer) readByte() (byte, error) {
	return l.in.ReadByte()
}

func (l *Lexer) unget(b byte) { l.in.Unget(b) }

// isBlank reports whether b is a field-blank per spec's ASCII-only
// model (space or tab; newline is its own token).
func isBlank(b byte) bool { return b == ' ' || b == '\t' }

// Next returns the next token. contOK, when true, tells the lexer that a
// newline immediately following this call site is a soft separator (the
// parser is inside a construct where PS2 continuation applies) rather
// than a statement-ending NEWLINE token; the lexer simply skips it and
// keeps reading.
func (l *Lexer) Next(contOK bool) (Token, *Word, int, error) {
	if l.havePending {
		tok := l.pendingTok
		l.havePending = false
		l.atWordStart = tokenStartsWord(tok)
		return tok, nil, -1, nil
	}

	digits, ioUnit, err := l.skipBlanksAndComments(contOK)
	if err != nil {
		return ILLEGAL, nil, -1, err
	}
	if digits == eofSentinel {
		return EOF, nil, -1, nil
	}
	if digits == newlineSentinel {
		return NEWLINE, nil, -1, nil
	}

	if ioUnit != -1 {
		// digits were immediately followed by < or >, which
		// skipBlanksAndComments ungot: re-lex it as the redirection
		// operator itself and carry the unit number alongside it.
		tok, _, _, lexErr := l.lexWordOrOp()
		if lexErr != nil {
			return ILLEGAL, nil, -1, lexErr
		}
		l.atWordStart = tokenStartsWord(tok)
		return tok, nil, ioUnit, nil
	}

	tok, w, _, lexErr := l.lexWordOrOp()
	if lexErr != nil {
		return ILLEGAL, nil, -1, lexErr
	}
	if digits != "" {
		if tok != WORD {
			// A digit run followed by something other than < or > that
			// isn't itself word-shaped (e.g. "2;"): the digits form
			// their own word and the operator is reported next call.
			// lexWordOrOp already consumed the operator's first byte(s);
			// since every such operator starts with a byte not part of
			// any digit word, ungetting just that leading byte back is
			// safe for the single-byte operators this can occur with.
			digitsWord := NewWord("")
			digitsWord.AppendLiteral(digits)
			l.pendingTok, l.havePending = tok, true
			return l.classifyWord(digitsWord)
		}
		merged := NewWord("")
		merged.AppendLiteral(digits)
		merged.Bytes = append(merged.Bytes, w.Bytes...)
		merged.Quoted = append(merged.Quoted, w.Quoted...)
		return l.classifyWord(merged)
	}
	if tok == WORD {
		t, w2, _, cerr := l.classifyWord(w)
		return t, w2, ioUnit, cerr
	}
	l.atWordStart = tokenStartsWord(tok)
	return tok, nil, ioUnit, nil
}

const eofSentinel = "\x00eof"
const newlineSentinel = "\x00nl"

// skipBlanksAndComments consumes spaces/tabs and #-comments, and
// recognizes a leading digit string immediately followed by < or > as
// an IO unit (spec 4.D / SPEC_FULL 6 "IO-unit-digit parsing ambiguity":
// only when there is no intervening blank). It returns:
//   - digits == eofSentinel if the stream ended with nothing pending
//   - digits == newlineSentinel if a statement-ending newline was
//     consumed (contOK was false)
//   - digits == "" and ioUnit == -1 for the common case of an ordinary
//     following word/operator
//   - digits != "" (and ioUnit set) when a leading digit run turned out
//     to be an IO unit
//
// When digits are read but turn out NOT to be an IO unit (followed by
// blank, newline, #, or EOF), they are returned as a literal digit
// string so the caller can treat them as an ordinary word.
func (l *Lexer) skipBlanksAndComments(contOK bool) (digits string, ioUnit int, err error) {
	ioUnit = -1
	acc := ""
	for {
		b, rerr := l.readByte()
		if rerr == io.EOF {
			if acc != "" {
				return acc, -1, nil
			}
			return eofSentinel, -1, nil
		}
		if rerr != nil {
			return "", -1, rerr
		}
		switch {
		case isBlank(b):
			if acc != "" {
				// Leave the blank unread so the digits end their word.
				l.unget(b)
				return acc, -1, nil
			}
		case b == '\n':
			if acc != "" {
				l.unget(b)
				return acc, -1, nil
			}
			l.line++
			if contOK {
				continue
			}
			if l.NewlineHook != nil {
				if herr := l.NewlineHook(); herr != nil {
					return "", -1, herr
				}
			}
			l.atWordStart = true
			return newlineSentinel, -1, nil
		case b == '#':
			if acc != "" {
				l.unget(b)
				return acc, -1, nil
			}
			for {
				c, cerr := l.readByte()
				if cerr == io.EOF {
					break
				}
				if c == '\n' {
					l.unget(c)
					break
				}
			}
		case b >= '0' && b <= '9':
			acc += string(b)
			continue
		case b == '<' || b == '>':
			l.unget(b)
			if acc != "" {
				n := 0
				fmt.Sscanf(acc, "%d", &n)
				return acc, n, nil
			}
			return "", -1, nil
		default:
			l.unget(b)
			if acc != "" {
				return acc, -1, nil
			}
			return "", -1, nil
		}
	}
}

// classifyWord turns a lexed WORD into a reserved-word token when it
// appears at the start of a word position and its entire spelling is
// unquoted, per spec 4.D.
func (l *Lexer) classifyWord(w *Word) (Token, *Word, int, error) {
	if l.atWordStart && allUnquoted(w) {
		if tok, ok := reservedWords[string(w.Bytes)]; ok {
			l.atWordStart = tokenStartsWord(tok)
			return tok, nil, -1, nil
		}
	}
	l.atWordStart = false
	return WORD, w, -1, nil
}

func allUnquoted(w *Word) bool {
	for _, q := range w.Quoted {
		if q {
			return false
		}
	}
	return true
}

// tokenStartsWord reports whether, after emitting tok, the lexer is at
// the start of a new word position (reserved words legal again), per
// the token list spec 4.D gives: ;, &, |, &&, ||, newline, (, {, then,
// do, else, elif, if, for, while, until, case, in.
func tokenStartsWord(tok Token) bool {
	switch tok {
	case SEMICOLON, AND, OR, LAND, LOR, NEWLINE, LPAREN, LBRACE,
		THEN, DO, ELSE, ELIF, IF, FOR, WHILE, UNTIL, CASE, IN, DSEMICOLON:
		return true
	}
	return false
}

// lexWordOrOp reads either an operator token or one WORD.
func (l *Lexer) lexWordOrOp() (Token, *Word, int, error) {
	b, err := l.readByte()
	if err == io.EOF {
		return EOF, nil, -1, nil
	}
	if err != nil {
		return ILLEGAL, nil, -1, err
	}

	switch b {
	case ';':
		c, _ := l.readByte()
		if c == ';' {
			return DSEMICOLON, nil, -1, nil
		}
		if c != 0 {
			l.unget(c)
		}
		return SEMICOLON, nil, -1, nil
	case '&':
		c, _ := l.readByte()
		if c == '&' {
			return LAND, nil, -1, nil
		}
		if c != 0 {
			l.unget(c)
		}
		return AND, nil, -1, nil
	case '|', '^': // ^ is a legacy alias for |
		c, _ := l.readByte()
		if c == '|' {
			return LOR, nil, -1, nil
		}
		if c != 0 {
			l.unget(c)
		}
		return OR, nil, -1, nil
	case '(':
		return LPAREN, nil, -1, nil
	case ')':
		return RPAREN, nil, -1, nil
	case '<':
		c, _ := l.readByte()
		switch c {
		case '<':
			c2, _ := l.readByte()
			if c2 == '-' {
				return DHEREDOC, nil, -1, nil
			}
			if c2 != 0 {
				l.unget(c2)
			}
			return SHL, nil, -1, nil
		case '&':
			return DPLIN, nil, -1, nil
		}
		if c != 0 {
			l.unget(c)
		}
		return LSS, nil, -1, nil
	case '>':
		c, _ := l.readByte()
		switch c {
		case '>':
			return SHR, nil, -1, nil
		case '&':
			return DPLOUT, nil, -1, nil
		}
		if c != 0 {
			l.unget(c)
		}
		return GTR, nil, -1, nil
	}

	// Not an operator: lex a WORD starting at b.
	l.unget(b)
	w, lexErr := l.lexWord()
	if lexErr != nil {
		return ILLEGAL, nil, -1, lexErr
	}
	return WORD, w, -1, nil
}

// isWordDelim reports whether b, unquoted, ends the current word.
func isWordDelim(b byte) bool {
	switch b {
	case ' ', '\t', '\n', ';', '&', '|', '<', '>', '(', ')', '^':
		return true
	}
	return false
}

// lexWord reads one WORD, applying quoting rules: '...' literal, "..."
// with backslash/$/`` escapes, ` ... ` copied verbatim (not quoted, so
// expansion recognizes it later), ${ ... } brace-matched verbatim, and
// \<newline> line continuation.
func (l *Lexer) lexWord() (*Word, error) {
	w := NewWord("")
	for {
		if len(w.Bytes) >= maxWordLen {
			for {
				b, err := l.readByte()
				if err == io.EOF {
					return w, nil
				}
				if isWordDelim(b) {
					l.unget(b)
					return w, &LexError{Msg: "word too long"}
				}
			}
		}
		b, err := l.readByte()
		if err == io.EOF {
			return w, nil
		}
		if err != nil {
			return nil, err
		}
		switch {
		case b == '\'':
			if err := l.lexSingleQuoted(w); err != nil {
				return w, err
			}
		case b == '"':
			if err := l.lexDoubleQuoted(w); err != nil {
				return w, err
			}
		case b == '`':
			w.Append(b, false)
			if err := l.lexBacktick(w); err != nil {
				return w, err
			}
		case b == '\\':
			c, err := l.readByte()
			if err == io.EOF {
				w.Append('\\', true)
				return w, nil
			}
			if err != nil {
				return nil, err
			}
			if c == '\n' {
				l.line++
				continue // line continuation: consumed, nothing emitted
			}
			w.Append(c, true)
		case b == '$':
			w.Append(b, false)
			c, err := l.readByte()
			if err == io.EOF {
				return w, nil
			}
			if err != nil {
				return nil, err
			}
			if c == '{' {
				w.Append(c, false)
				if err := l.lexBraceParam(w); err != nil {
					return w, err
				}
			} else {
				l.unget(c)
			}
		case isWordDelim(b):
			l.unget(b)
			return w, nil
		default:
			w.Append(b, false)
		}
	}
}

func (l *Lexer) lexSingleQuoted(w *Word) error {
	for {
		b, err := l.readByte()
		if err == io.EOF {
			return &LexError{Msg: "no closing quote"}
		}
		if b == '\'' {
			return nil
		}
		if b == '\n' {
			l.line++
		}
		w.Append(b, true)
	}
}

func (l *Lexer) lexDoubleQuoted(w *Word) error {
	for {
		b, err := l.readByte()
		if err == io.EOF {
			return &LexError{Msg: "no closing quote"}
		}
		switch b {
		case '"':
			return nil
		case '\\':
			c, err := l.readByte()
			if err == io.EOF {
				w.Append('\\', true)
				return nil
			}
			switch c {
			case '"', '\\', '$', '`':
				w.Append(c, true)
			case '\n':
				l.line++
			default:
				w.Append('\\', true)
				w.Append(c, true)
			}
		case '$':
			w.Append(b, false)
			c, err := l.readByte()
			if err == io.EOF {
				return nil
			}
			if c == '{' {
				w.Append(c, false)
				if err := l.lexBraceParam(w); err != nil {
					return err
				}
			} else {
				l.unget(c)
			}
		case '`':
			w.Append(b, false)
			if err := l.lexBacktick(w); err != nil {
				return err
			}
		default:
			if b == '\n' {
				l.line++
			}
			w.Append(b, true)
		}
	}
}

// lexBacktick copies everything up to the matching unescaped backtick
// verbatim (unquoted: the grave handler re-lexes and expands it later),
// honoring \` as an escaped literal backtick within the substitution.
func (l *Lexer) lexBacktick(w *Word) error {
	for {
		b, err := l.readByte()
		if err == io.EOF {
			return &LexError{Msg: "no closing backtick"}
		}
		if b == '`' {
			w.Append(b, false)
			return nil
		}
		if b == '\\' {
			c, cerr := l.readByte()
			w.Append(b, false)
			if cerr == io.EOF {
				return &LexError{Msg: "no closing backtick"}
			}
			w.Append(c, false)
			continue
		}
		if b == '\n' {
			l.line++
		}
		w.Append(b, false)
	}
}

// lexBraceParam copies the body of a ${...} expansion verbatim (brace
// matched, so nested ${...} and a literal '}' inside a quoted value
// don't terminate it early) up to and including the closing brace.
func (l *Lexer) lexBraceParam(w *Word) error {
	depth := 1
	for {
		b, err := l.readByte()
		if err == io.EOF {
			return &LexError{Msg: "no closing brace"}
		}
		switch b {
		case '{':
			depth++
		case '}':
			depth--
		case '\'':
			w.Append(b, false)
			if err := l.copyRawUntil(w, '\''); err != nil {
				return err
			}
			continue
		case '"':
			w.Append(b, false)
			if err := l.copyRawUntil(w, '"'); err != nil {
				return err
			}
			continue
		}
		w.Append(b, false)
		if depth == 0 {
			return nil
		}
	}
}

// copyRawUntil copies bytes (unmarked) up to and including the next
// occurrence of end, used to skip over a quoted region embedded inside
// a ${...} expansion without tripping its own brace-depth counting.
func (l *Lexer) copyRawUntil(w *Word, end byte) error {
	for {
		b, err := l.readByte()
		if err == io.EOF {
			return &LexError{Msg: "no closing quote"}
		}
		w.Append(b, false)
		if b == end {
			return nil
		}
	}
}
