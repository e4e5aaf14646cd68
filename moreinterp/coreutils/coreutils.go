// Copyright (c) 2025, Andrey Nering <andrey@nering.com.br>
// See LICENSE for licensing information

// Package coreutils provides in-process implementations of a small set
// of core utilities (cat, chmod, cp, find, ls, mkdir, mv, rm, touch,
// xargs, ...) backed by u-root, so a shell built on [interp] can run a
// predictable command set without depending on the host's installed
// binaries.
//
// This is particularly useful to keep deterministic behavior across
// platforms (notably Windows, where these core utils are not available
// unless installed manually) and for the end-to-end test suite, which
// runs the same fixtures regardless of which coreutils package (if any)
// the test host has in $PATH.
package coreutils

import (
	"context"
	"io"

	"github.com/u-root/u-root/pkg/core"
	"github.com/u-root/u-root/pkg/core/base64"
	"github.com/u-root/u-root/pkg/core/cat"
	"github.com/u-root/u-root/pkg/core/chmod"
	"github.com/u-root/u-root/pkg/core/cp"
	"github.com/u-root/u-root/pkg/core/find"
	"github.com/u-root/u-root/pkg/core/gzip"
	"github.com/u-root/u-root/pkg/core/ls"
	"github.com/u-root/u-root/pkg/core/mkdir"
	"github.com/u-root/u-root/pkg/core/mktemp"
	"github.com/u-root/u-root/pkg/core/mv"
	"github.com/u-root/u-root/pkg/core/rm"
	"github.com/u-root/u-root/pkg/core/shasum"
	"github.com/u-root/u-root/pkg/core/tar"
	"github.com/u-root/u-root/pkg/core/touch"
	"github.com/u-root/u-root/pkg/core/xargs"
)

var commandBuilders = map[string]func() core.Command{
	"cat":    func() core.Command { return cat.New() },
	"chmod":  func() core.Command { return chmod.New() },
	"cp":     func() core.Command { return cp.New() },
	"find":   func() core.Command { return find.New() },
	"ls":     func() core.Command { return ls.New() },
	"mkdir":  func() core.Command { return mkdir.New() },
	"mv":     func() core.Command { return mv.New() },
	"rm":     func() core.Command { return rm.New() },
	"touch":  func() core.Command { return touch.New() },
	"xargs":  func() core.Command { return xargs.New() },
	"base64": func() core.Command { return base64.New() },
	"gzcat":  func() core.Command { return gzip.New("gzcat") },
	"gzip":   func() core.Command { return gzip.New("gzip") },
	"gunzip": func() core.Command { return gzip.New("gunzip") },
	"mktemp": func() core.Command { return mktemp.New() },
	"shasum": func() core.Command { return shasum.New() },
	"tar":    func() core.Command { return tar.New() },
}

// Handled reports whether name is one of the commands this package can
// run in-process, letting a caller decide whether to try Run at all
// before paying for a PATH search.
func Handled(name string) bool {
	_, ok := commandBuilders[name]
	return ok
}

// Run executes name (one of the commands Handled reports true for) with
// args in-process, the way the shell's real fork_exec would run an
// external binary: dir becomes the command's working directory,
// lookupEnv answers its environment lookups, and stdin/stdout/stderr
// are wired directly to the shell's current file descriptors.
func Run(ctx context.Context, name string, args []string, dir string, stdin io.Reader, stdout, stderr io.Writer, lookupEnv func(string) (string, bool)) error {
	newCoreUtil, ok := commandBuilders[name]
	if !ok {
		return &Error{err: errUnhandled(name)}
	}
	cmd := newCoreUtil()
	cmd.SetIO(stdin, stdout, stderr)
	cmd.SetWorkingDir(dir)
	cmd.SetLookupEnv(lookupEnv)
	if err := cmd.RunContext(ctx, args...); err != nil {
		return &Error{err: err}
	}
	return nil
}
