// Package repo watches the version-controlled artifact source.
//
// The source is an ordinary git working copy; git itself is an opaque
// collaborator reached through the command runner, never linked in. The
// watcher exposes exactly two operations: reading the last-known revision
// without touching the network, and fetching the latest remote state
// while reporting the revision pair it moved between.
package repo

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/upcycle-sh/upcycle/internal/command"
)

// Revision is an opaque identifier of a point in the source history.
// Revisions are comparable for equality only; no ordering is implied.
type Revision string

// Short returns a truncated form for text output. Storage and JSON always
// carry the full revision.
func (r Revision) Short() string {
	const n = 12
	if len(r) <= n {
		return string(r)
	}
	return string(r[:n])
}

// Fetch-stage failures, recoverable on the next tick.
var (
	// ErrSourceUnreachable marks network failures: the remote could not
	// be contacted, so nothing was changed locally.
	ErrSourceUnreachable = errors.New("source unreachable")

	// ErrSourceCorrupt marks local working-copy states the fetch cannot
	// resolve automatically: a dirty tree blocking fast-forward, a
	// damaged object store, or a directory that is not a repository.
	ErrSourceCorrupt = errors.New("source corrupt")
)

// Watcher wraps a git working copy at a fixed directory. All commands
// target that directory via "git -C <dir>".
type Watcher struct {
	dir    string
	remote string
	branch string
	runner command.Runner
}

// NewWatcher returns a Watcher for the working copy at dir, tracking
// remote/branch.
func NewWatcher(dir, remote, branch string, runner command.Runner) *Watcher {
	return &Watcher{dir: dir, remote: remote, branch: branch, runner: runner}
}

// CurrentRevision reads the last-known revision. No network access.
func (w *Watcher) CurrentRevision(ctx context.Context) (Revision, error) {
	out, err := w.git(ctx, "rev-parse", "HEAD")
	if err != nil {
		return "", classify(err)
	}
	return Revision(out), nil
}

// FetchLatest syncs the working copy with the remote and returns the
// revision before and after. Idempotent: with no intervening remote
// change, a second call returns (X, X) and fast-forwards nowhere.
//
// The working copy is only ever moved by fast-forward. A divergent local
// branch is a state the watcher must not resolve on its own; it surfaces
// as ErrSourceCorrupt for the operator.
func (w *Watcher) FetchLatest(ctx context.Context) (Revision, Revision, error) {
	before, err := w.CurrentRevision(ctx)
	if err != nil {
		return "", "", err
	}

	if _, err := w.git(ctx, "fetch", w.remote, w.branch); err != nil {
		return "", "", classify(err)
	}
	if _, err := w.git(ctx, "merge", "--ff-only", w.remote+"/"+w.branch); err != nil {
		return "", "", classify(err)
	}

	after, err := w.CurrentRevision(ctx)
	if err != nil {
		return "", "", err
	}
	return before, after, nil
}

func (w *Watcher) git(ctx context.Context, args ...string) (string, error) {
	fullArgs := append([]string{"-C", w.dir}, args...)
	return w.runner.Run(ctx, "git", fullArgs...)
}

// corruptMarkers are stderr fragments that indicate a local state the
// fetch cannot resolve. Anything else defaults to unreachable, the
// retryable bucket: the next tick retries unreachable sources for free,
// while corrupt ones need an operator.
var corruptMarkers = []string{
	"not a git repository",
	"corrupt",
	"object file",
	"unable to read",
	"your local changes",
	"not possible to fast-forward",
	"refusing to merge unrelated histories",
	"unknown revision",
	"index file",
	"bad object",
}

func classify(err error) error {
	var cmdErr *command.Error
	if errors.As(err, &cmdErr) {
		stderr := strings.ToLower(cmdErr.Stderr)
		for _, marker := range corruptMarkers {
			if strings.Contains(stderr, marker) {
				return fmt.Errorf("%w: %w", ErrSourceCorrupt, err)
			}
		}
	}
	return fmt.Errorf("%w: %w", ErrSourceUnreachable, err)
}
