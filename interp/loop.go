package interp

import (
	"context"

	"github.com/go-msh/msh/expand"
	"github.com/go-msh/msh/syntax"
)

// execFor implements `for NAME [in WORD...] do c_list done`: iterating
// either an explicit (possibly empty) expanded word list or, with no
// `in` clause, the current positional parameters, per spec 4.E/4.G.
func (sh *Shell) execFor(ctx context.Context, c *syntax.For) {
	restore, err := sh.applyRedirsTemp(ctx, c.Redirs)
	if err != nil {
		sh.diag(err)
		sh.exitCode = 1
		return
	}
	defer restore()

	var items []string
	if c.HasWords {
		items, err = sh.ec.EvalWords(ctx, c.Words, expand.Sub|expand.Blank|expand.Glob)
		if err != nil {
			sh.diag(err)
			sh.exitCode = 1
			return
		}
	} else {
		items = sh.Vars.Positional()
	}

	sh.exitCode = 0
	for _, v := range items {
		if err := sh.Vars.Set(c.Var, v); err != nil {
			sh.diag(err)
			sh.exitCode = 1
			return
		}
		if sh.runLoopBody(ctx, c.Body) {
			break
		}
		if sh.exiting {
			return
		}
		sh.checkSafePoint(ctx)
	}
}

// execLoop implements `while`/`until`: until == true reverses the
// continuation test, matching spec 4.E's shared grammar for the two.
func (sh *Shell) execLoop(ctx context.Context, cond, body syntax.Cmd, redirs []*syntax.Redir, until bool) {
	restore, err := sh.applyRedirsTemp(ctx, redirs)
	if err != nil {
		sh.diag(err)
		sh.exitCode = 1
		return
	}
	defer restore()

	sh.exitCode = 0
	for {
		old := sh.noErrExit
		sh.noErrExit = true
		sh.execute(ctx, cond)
		sh.noErrExit = old
		if sh.exiting {
			return
		}
		ok := sh.exitCode == 0
		if until {
			ok = !ok
		}
		if !ok {
			sh.exitCode = 0
			return
		}
		if sh.runLoopBody(ctx, body) {
			return
		}
		if sh.exiting {
			return
		}
		sh.checkSafePoint(ctx)
	}
}

// runLoopBody runs one iteration of a for/while/until body, catching
// break/continue (spec 9's escape stack): an n > 1 means the signal
// must keep unwinding past this loop to an outer one, so it is
// re-panicked with its count decremented.
func (sh *Shell) runLoopBody(ctx context.Context, body syntax.Cmd) (brk bool) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		switch e := r.(type) {
		case *breakSignal:
			if e.n > 1 {
				panic(&breakSignal{n: e.n - 1})
			}
			brk = true
		case *contSignal:
			if e.n > 1 {
				panic(&contSignal{n: e.n - 1})
			}
		default:
			panic(r)
		}
	}()
	sh.execute(ctx, body)
	return false
}
