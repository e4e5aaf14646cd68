package interp

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/go-msh/msh/arena"
	"github.com/go-msh/msh/syntax"
)

// applyRedirsTemp applies redirs to sh's fd view (spec 4.G's iosetup)
// for the duration of the caller's node, returning a closer that
// restores the previous view and closes anything opened. redirs are
// applied in order, matching the left-to-right, each-one-sees-the-
// previous-one's-effect semantics of a real iosetup loop. Each opened
// descriptor is tagged into sh's arena (spec 4.A), so a fatal unwind
// that skips past the returned closer still gets it released when the
// enclosing top-level command or subshell frees its area.
func (sh *Shell) applyRedirsTemp(ctx context.Context, redirs []*syntax.Redir) (func(), error) {
	if len(redirs) == 0 {
		return func() {}, nil
	}
	saved := sh.fds
	var opened []io.Closer
	for _, r := range redirs {
		if err := sh.applyRedir(ctx, r, &opened); err != nil {
			for _, c := range opened {
				c.Close()
			}
			sh.fds = saved
			return func() {}, err
		}
	}
	var handles []arena.Handle
	for _, c := range opened {
		c := c
		if h, err := sh.arena.Tag(func() { c.Close() }); err == nil {
			handles = append(handles, h)
		} else {
			c.Close()
		}
	}
	return func() {
		for _, h := range handles {
			sh.arena.Release(h)
		}
		sh.fds = saved
	}, nil
}

func (sh *Shell) applyRedir(ctx context.Context, r *syntax.Redir, opened *[]io.Closer) error {
	unit := r.Unit
	if unit < 0 {
		if r.Op == syntax.RedirRead {
			unit = 0
		} else {
			unit = 1
		}
	}
	if unit < 0 || unit >= len(sh.fds) {
		return &usageError{"bad file descriptor"}
	}

	switch r.Op {
	case syntax.RedirRead:
		target, err := sh.ec.EvalLiteral(ctx, r.Target)
		if err != nil {
			return err
		}
		f, err := os.OpenFile(sh.resolvePath(target), os.O_RDONLY, 0)
		if err != nil {
			return &usageError{target + ": cannot open"}
		}
		*opened = append(*opened, f)
		sh.fds[unit] = f

	case syntax.RedirWrite:
		target, err := sh.ec.EvalLiteral(ctx, r.Target)
		if err != nil {
			return err
		}
		f, err := os.OpenFile(sh.resolvePath(target), os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
		if err != nil {
			return &usageError{target + ": cannot create"}
		}
		*opened = append(*opened, f)
		sh.fds[unit] = f

	case syntax.RedirAppend:
		target, err := sh.ec.EvalLiteral(ctx, r.Target)
		if err != nil {
			return err
		}
		f, err := os.OpenFile(sh.resolvePath(target), os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
		if err != nil {
			return &usageError{target + ": cannot create"}
		}
		*opened = append(*opened, f)
		sh.fds[unit] = f

	case syntax.RedirDupFrom:
		target, err := sh.ec.EvalLiteral(ctx, r.Target)
		if err != nil {
			return err
		}
		n, convErr := strconv.Atoi(target)
		if convErr != nil {
			return &usageError{"-&" + target + ": not a file descriptor"}
		}
		if n < 0 || n >= len(sh.fds) {
			return &usageError{"bad file descriptor"}
		}
		sh.fds[unit] = sh.fds[n]

	case syntax.RedirClose:
		sh.fds[unit] = nil

	case syntax.RedirHere:
		body, err := sh.ec.ExpandHereDocBody(ctx, r.Here.Body, r.Here.Expand)
		if err != nil {
			return err
		}
		pr, pw, err := os.Pipe()
		if err != nil {
			return err
		}
		go func() {
			io.WriteString(pw, body)
			pw.Close()
		}()
		*opened = append(*opened, pr)
		sh.fds[unit] = pr
	}
	return nil
}

// resolvePath joins a relative redirection target against the shell's
// own notion of its working directory, which may differ from the
// process's real cwd for a cloned subshell that ran `cd`.
func (sh *Shell) resolvePath(path string) string {
	if filepath.IsAbs(path) || sh.Dir == "" {
		return path
	}
	return filepath.Join(sh.Dir, path)
}
