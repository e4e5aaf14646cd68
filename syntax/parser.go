package syntax

import (
	"fmt"

	"github.com/go-msh/msh/input"
)

// ParseError is a syntax error: spec 4.E says it "prints syntax error,
// resets the token stream to the next newline, bumps an error counter,
// and longjmps to the outermost command loop". In Go that longjmp
// becomes an ordinary error value bubbled up through every recursive
// parse call; Parser.Recover (called by the top-level driver) does the
// "reset to next newline" part.
type ParseError struct {
	Line int
	Msg  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("syntax error: %s", e.Msg)
}

type pendingHere struct {
	redir *Redir
}

// Parser is a single-token-lookahead recursive-descent parser over the
// grammar in spec 4.E. It owns the Lexer and the input.Stack the lexer
// reads from, since here-document bodies are read directly off the same
// stack (spec 4.E's gether()).
type Parser struct {
	in  *input.Stack
	lex *Lexer

	tok    Token
	word   *Word
	ioUnit int
	tokErr error

	// multiline is incremented while inside a construct where a
	// newline is a soft separator (spec 4.E); the lexer treats such a
	// newline as whitespace instead of a NEWLINE token.
	multiline int

	pending []pendingHere
	errs    int
}

// NewParser wraps an input.Stack that already has at least one frame
// pushed.
func NewParser(in *input.Stack) *Parser {
	p := &Parser{in: in}
	p.lex = NewLexer(in)
	p.lex.NewlineHook = p.gether
	p.advance()
	return p
}

func (p *Parser) contOK() bool { return p.multiline > 0 }

// Incomplete reports whether the parser is mid-construct and needs
// another physical line before ParseCommandLine can return - the
// interactive driver's cue to print $PS2 instead of $PS1.
func (p *Parser) Incomplete() bool { return p.multiline > 0 }

func (p *Parser) advance() {
	if p.tokErr != nil {
		return
	}
	tok, w, ioUnit, err := p.lex.Next(p.contOK())
	p.tok, p.word, p.ioUnit, p.tokErr = tok, w, ioUnit, err
}

func (p *Parser) errorf(format string, args ...any) error {
	p.errs++
	return &ParseError{Line: p.lex.line, Msg: fmt.Sprintf(format, args...)}
}

// gether satisfies every pending here-document by reading lines directly
// off the parser's input stack until a line equal to the tag is found,
// per spec 4.E. It runs as the Lexer's NewlineHook, i.e. exactly on the
// next newline after the `<<`/`<<-` token was seen, including newlines
// encountered while parsing a nested `(...)`  or backtick substitution,
// matching spec 9's "resolved on the next newline of the enclosing
// input" note.
func (p *Parser) gether() error {
	if len(p.pending) == 0 {
		return nil
	}
	pending := p.pending
	p.pending = nil
	for _, ph := range pending {
		body, err := p.readHereBody(ph.redir.Here.Tag)
		if err != nil {
			return err
		}
		ph.redir.Here.Body = body
	}
	return nil
}

func (p *Parser) readHereBody(tag string) (string, error) {
	var body []byte
	var line []byte
	for {
		b, err := p.in.ReadByte()
		if err != nil {
			// EOF mid here-document: treat what we have as the body,
			// matching a lenient "missing terminator" recovery rather
			// than a hard crash.
			if len(line) > 0 {
				body = append(body, line...)
			}
			return string(body), nil
		}
		line = append(line, b)
		if b == '\n' {
			if string(line[:len(line)-1]) == tag {
				return string(body), nil
			}
			body = append(body, line...)
			line = line[:0]
		}
	}
}

// ParseCommandLine parses one top-level c_list, up to the first top-level
// newline (see isTopStop), and returns nil, nil at a clean EOF.
func (p *Parser) ParseCommandLine() (Cmd, error) {
	for p.tok == NEWLINE {
		p.advance()
	}
	if p.tok == EOF {
		return nil, nil
	}
	return p.parseCList(isTopStop)
}

// isTopStop ends a top-level c_list at the first unescaped newline, not
// just at EOF: component I's onecommand() loop parses and executes one
// line's worth of list at a time, the way msh.c's top loop does, rather
// than parsing an entire script into one tree before running any of it.
// Newlines inside a compound command (parens, do_group, then_part, ...)
// are unaffected, since those use their own stop function.
func isTopStop(tok Token) bool { return tok == EOF || tok == NEWLINE }

// parseCList implements: andor ( (';' | '&' | NEWLINE) andor )*
// [trailing '&' => Async].
func (p *Parser) parseCList(stop func(Token) bool) (Cmd, error) {
	left, err := p.parseAndOr()
	if err != nil {
		return nil, err
	}
	for {
		if p.tokErr != nil {
			return nil, p.tokErr
		}
		if stop(p.tok) {
			return left, nil
		}
		switch p.tok {
		case SEMICOLON, NEWLINE:
			p.advance()
			for p.tok == NEWLINE {
				p.advance()
			}
			if stop(p.tok) {
				return left, nil
			}
			right, err := p.parseAndOr()
			if err != nil {
				return nil, err
			}
			left = &List{Left: left, Right: right}
		case AND:
			p.advance()
			asyncLeft := Cmd(&Async{X: left})
			for p.tok == NEWLINE {
				p.advance()
			}
			if stop(p.tok) {
				return asyncLeft, nil
			}
			right, err := p.parseAndOr()
			if err != nil {
				return nil, err
			}
			left = &List{Left: asyncLeft, Right: right}
		default:
			return left, nil
		}
	}
}

// parseAndOr implements: pipeline ( ('&&' | '||') pipeline )*
func (p *Parser) parseAndOr() (Cmd, error) {
	left, err := p.parsePipeline()
	if err != nil {
		return nil, err
	}
	for {
		switch p.tok {
		case LAND:
			p.advance()
			p.multiline++
			for p.tok == NEWLINE {
				p.advance()
			}
			right, err := p.parsePipeline()
			p.multiline--
			if err != nil {
				return nil, err
			}
			left = &And{Left: left, Right: right}
		case LOR:
			p.advance()
			p.multiline++
			for p.tok == NEWLINE {
				p.advance()
			}
			right, err := p.parsePipeline()
			p.multiline--
			if err != nil {
				return nil, err
			}
			left = &Or{Left: left, Right: right}
		default:
			return left, nil
		}
	}
}

// parsePipeline implements: command ( '|' command )*, wrapping a
// non-Simple left operand in Paren so its redirections scope correctly.
func (p *Parser) parsePipeline() (Cmd, error) {
	left, err := p.parseCommand()
	if err != nil {
		return nil, err
	}
	for p.tok == OR {
		p.advance()
		p.multiline++
		for p.tok == NEWLINE {
			p.advance()
		}
		right, err := p.parseCommand()
		p.multiline--
		if err != nil {
			return nil, err
		}
		if _, ok := left.(*Simple); !ok {
			left = &Paren{X: left}
		}
		left = &Pipe{Left: left, Right: right}
	}
	return left, nil
}

func isRedirTok(tok Token) bool {
	switch tok {
	case LSS, GTR, SHL, SHR, DPLIN, DPLOUT, DHEREDOC:
		return true
	}
	return false
}

// parseRedir parses one redirection; p.tok is already one of the
// redirection operator tokens.
func (p *Parser) parseRedir() (*Redir, error) {
	unit := p.ioUnit
	op := p.tok
	p.advance()
	if p.tok != WORD {
		return nil, p.errorf("missing redirection target")
	}
	target := p.word

	r := &Redir{Unit: unit, Target: target}
	switch op {
	case LSS:
		r.Op = RedirRead
	case GTR:
		r.Op = RedirWrite
	case SHR:
		r.Op = RedirAppend
	case DPLIN, DPLOUT:
		r.Op = RedirDupFrom
		if target.String() == "-" {
			r.Op = RedirClose
		}
	case SHL, DHEREDOC:
		r.Op = RedirHere
		hd := &HereDoc{Tag: target.String(), Expand: allUnquoted(target)}
		r.Here = hd
		p.pending = append(p.pending, pendingHere{redir: r})
	}
	// Advance only once a here-document is queued, so that the newline
	// ending this line already reads its body.
	p.advance()
	return r, nil
}

// parseRedirList consumes zero or more trailing redirections, the
// "optional list of redirections inherited from the surrounding command
// production" spec 3 mentions for every compound command node.
func (p *Parser) parseRedirList() ([]*Redir, error) {
	var out []*Redir
	for isRedirTok(p.tok) {
		r, err := p.parseRedir()
		if err != nil {
			return out, err
		}
		out = append(out, r)
	}
	return out, nil
}

// parseCommand implements the `command` production.
func (p *Parser) parseCommand() (Cmd, error) {
	switch p.tok {
	case LPAREN:
		p.advance()
		p.multiline++
		for p.tok == NEWLINE {
			p.advance()
		}
		inner, err := p.parseCList(func(t Token) bool { return t == RPAREN })
		p.multiline--
		if err != nil {
			return nil, err
		}
		if p.tok != RPAREN {
			return nil, p.errorf("expected )")
		}
		p.advance()
		redirs, err := p.parseRedirList()
		if err != nil {
			return nil, err
		}
		return &Paren{X: inner, Redirs: redirs}, nil

	case LBRACE:
		p.advance()
		for p.tok == NEWLINE {
			p.advance()
		}
		inner, err := p.parseCList(func(t Token) bool { return t == RBRACE })
		if err != nil {
			return nil, err
		}
		if p.tok != RBRACE {
			return nil, p.errorf("expected }")
		}
		p.advance()
		redirs, err := p.parseRedirList()
		if err != nil {
			return nil, err
		}
		return &Brace{X: inner, Redirs: redirs}, nil

	case FOR:
		return p.parseFor()

	case WHILE:
		return p.parseWhileUntil(false)

	case UNTIL:
		return p.parseWhileUntil(true)

	case CASE:
		return p.parseCase()

	case IF:
		return p.parseIf()

	case DOT:
		p.advance()
		if p.tok != WORD {
			return nil, p.errorf("missing file name after .")
		}
		file := p.word
		p.advance()
		return &Dot{File: file}, nil

	case WORD:
		return p.parseSimple()

	default:
		if isRedirTok(p.tok) {
			return p.parseSimple()
		}
		return nil, p.errorf("unexpected token %s", p.tok)
	}
}

// parseSimple implements: simple := ( redir | WORD )+
func (p *Parser) parseSimple() (Cmd, error) {
	s := &Simple{}
	for p.tok == WORD || isRedirTok(p.tok) {
		if isRedirTok(p.tok) {
			r, err := p.parseRedir()
			if err != nil {
				return nil, err
			}
			s.Redirs = append(s.Redirs, r)
			continue
		}
		s.Words = append(s.Words, p.word)
		p.advance()
	}
	if len(s.Words) == 0 && len(s.Redirs) == 0 {
		return nil, p.errorf("expected a command")
	}
	return s, nil
}

func (p *Parser) parseDoGroup() (Cmd, error) {
	for p.tok == NEWLINE {
		p.advance()
	}
	if p.tok != DO {
		return nil, p.errorf("expected do")
	}
	p.advance()
	for p.tok == NEWLINE {
		p.advance()
	}
	body, err := p.parseCList(func(t Token) bool { return t == DONE })
	if err != nil {
		return nil, err
	}
	if p.tok != DONE {
		return nil, p.errorf("expected done")
	}
	p.advance()
	return body, nil
}

func (p *Parser) parseFor() (Cmd, error) {
	p.advance()
	if p.tok != WORD {
		return nil, p.errorf("expected name after for")
	}
	name := p.word.String()
	// `in` or `do` may follow the loop variable directly.
	p.lex.atWordStart = true
	p.advance()

	f := &For{Var: name}
	for p.tok == NEWLINE {
		p.advance()
	}
	if p.tok == IN {
		p.advance()
		f.HasWords = true
		for p.tok == WORD {
			f.Words = append(f.Words, p.word)
			p.advance()
		}
		if p.tok == SEMICOLON || p.tok == NEWLINE {
			p.advance()
		}
	}
	body, err := p.parseDoGroup()
	if err != nil {
		return nil, err
	}
	f.Body = body
	redirs, err := p.parseRedirList()
	if err != nil {
		return nil, err
	}
	f.Redirs = redirs
	return f, nil
}

func (p *Parser) parseWhileUntil(until bool) (Cmd, error) {
	p.advance()
	cond, err := p.parseCList(func(t Token) bool { return t == DO })
	if err != nil {
		return nil, err
	}
	body, err := p.parseDoGroup()
	if err != nil {
		return nil, err
	}
	redirs, err := p.parseRedirList()
	if err != nil {
		return nil, err
	}
	if until {
		return &Until{Cond: cond, Body: body, Redirs: redirs}, nil
	}
	return &While{Cond: cond, Body: body, Redirs: redirs}, nil
}

func (p *Parser) parseIf() (Cmd, error) {
	p.advance()
	cond, err := p.parseCList(func(t Token) bool { return t == THEN })
	if err != nil {
		return nil, err
	}
	node, err := p.parseThenPart(cond)
	if err != nil {
		return nil, err
	}
	if p.tok != FI {
		return nil, p.errorf("expected fi")
	}
	p.advance()
	redirs, err := p.parseRedirList()
	if err != nil {
		return nil, err
	}
	node.(*If).Redirs = redirs
	return node, nil
}

// parseThenPart implements: then_part := 'then' c_list else_part?
func (p *Parser) parseThenPart(cond Cmd) (Cmd, error) {
	if p.tok != THEN {
		return nil, p.errorf("expected then")
	}
	p.advance()
	thenBody, err := p.parseCList(func(t Token) bool {
		return t == FI || t == ELSE || t == ELIF
	})
	if err != nil {
		return nil, err
	}
	ifNode := &If{Cond: cond, Then: thenBody}
	switch p.tok {
	case ELSE:
		p.advance()
		elseBody, err := p.parseCList(func(t Token) bool { return t == FI })
		if err != nil {
			return nil, err
		}
		ifNode.Else = elseBody
	case ELIF:
		p.advance()
		elifCond, err := p.parseCList(func(t Token) bool { return t == THEN })
		if err != nil {
			return nil, err
		}
		elifNode, err := p.parseThenPart(elifCond)
		if err != nil {
			return nil, err
		}
		ifNode.Else = elifNode
	}
	return ifNode, nil
}

// parseCase implements: 'case' WORD 'in' case_list 'esac'.
func (p *Parser) parseCase() (Cmd, error) {
	p.advance()
	if p.tok != WORD {
		return nil, p.errorf("expected word after case")
	}
	scrut := p.word
	// `in` follows the case word directly.
	p.lex.atWordStart = true
	p.advance()
	for p.tok == NEWLINE {
		p.advance()
	}
	if p.tok != IN {
		return nil, p.errorf("expected in")
	}
	p.advance()
	for p.tok == NEWLINE {
		p.advance()
	}

	c := &Case{Word: scrut}
	for p.tok != ESAC {
		if p.tok != WORD && p.tok != LPAREN {
			return nil, p.errorf("expected a pattern")
		}
		// An optional leading '(' before the first pattern is a common
		// shell convention; the grammar doesn't require it but accepts
		// it harmlessly.
		if p.tok == LPAREN {
			p.advance()
		}
		arm := CaseArm{}
		for {
			if p.tok != WORD {
				return nil, p.errorf("expected a pattern")
			}
			arm.Patterns = append(arm.Patterns, p.word)
			p.advance()
			if p.tok != OR {
				break
			}
			p.advance()
		}
		if p.tok != RPAREN {
			return nil, p.errorf("expected )")
		}
		p.advance()
		for p.tok == NEWLINE {
			p.advance()
		}
		if p.tok != DSEMICOLON && p.tok != ESAC {
			body, err := p.parseCList(func(t Token) bool {
				return t == DSEMICOLON || t == ESAC
			})
			if err != nil {
				return nil, err
			}
			arm.Body = body
		}
		c.Arms = append(c.Arms, arm)
		if p.tok == DSEMICOLON {
			p.advance()
			for p.tok == NEWLINE {
				p.advance()
			}
		}
	}
	p.advance() // consume ESAC
	redirs, err := p.parseRedirList()
	if err != nil {
		return nil, err
	}
	c.Redirs = redirs
	return c, nil
}

// Recover implements spec 4.E's error recovery: reset the token stream
// to the next newline (discarding whatever was mid-parse) so the
// top-level driver can try again with the next statement.
func (p *Parser) Recover() {
	p.tokErr = nil
	for p.tok != NEWLINE && p.tok != EOF {
		p.advance()
		if p.tokErr != nil {
			p.tokErr = nil
			break
		}
	}
	if p.tok == NEWLINE {
		p.advance()
	}
}

// Errs returns the number of syntax errors seen so far, matching spec
// 4.E's "bumps an error counter".
func (p *Parser) Errs() int { return p.errs }
