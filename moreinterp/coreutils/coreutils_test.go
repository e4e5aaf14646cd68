// Copyright (c) 2025, Andrey Nering <andrey@nering.com.br>
// See LICENSE for licensing information

package coreutils

import (
	"context"
	"os"
	"strings"
	"testing"
)

func TestHandled(t *testing.T) {
	for name := range commandBuilders {
		if !Handled(name) {
			t.Errorf("Handled(%q) = false, want true", name)
		}
	}
	if Handled("definitely-not-a-coreutil") {
		t.Error("Handled reported an unregistered name as handled")
	}
}

func TestRunBadOption(t *testing.T) {
	for coreUtil := range commandBuilders {
		t.Run(coreUtil, func(t *testing.T) {
			var out strings.Builder
			err := Run(context.Background(), coreUtil, []string{"--badoption"}, ".", strings.NewReader(""), &out, &out, os.LookupEnv)
			if err == nil {
				t.Fatalf("expected an error for %q --badoption, got none", coreUtil)
			}

			// FIXME(@andreynering): Return the proper flag error from u-root to
			// avoid a special case for chmod and gzip.
			switch coreUtil {
			case "chmod":
				if err.Error() != "coreutils: chmod: chmod [mode] filepath" {
					t.Errorf("unexpected error: %v", err)
				}
			case "gzip":
				if err.Error() != "coreutils: gzip: ignoring stdout, use -f to compression" {
					t.Errorf("unexpected error: %v", err)
				}
			default:
				if !strings.Contains(err.Error(), "flag provided but not defined: -badoption") {
					t.Errorf("unexpected error: %v", err)
				}
			}
		})
	}
}

func TestRunUnhandled(t *testing.T) {
	var out strings.Builder
	err := Run(context.Background(), "not-a-real-command", nil, ".", strings.NewReader(""), &out, &out, os.LookupEnv)
	if err == nil {
		t.Fatal("expected an error for an unhandled command name")
	}
}
