// Package depsync materializes dependencies for the current revision by
// invoking the environment's package manager.
//
// The package manager is an opaque collaborator: depsync runs the
// configured sync command and interprets nothing but its exit status.
// What depsync adds is no-op detection: a content digest over the
// dependency manifests decides whether the command needs to run at all,
// so calling Sync with no manifest change is free and side-effect free.
package depsync

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/zeebo/blake3"

	"github.com/upcycle-sh/upcycle/internal/command"
)

// ResolutionError is a failed dependency sync. It is fatal to the update
// cycle that triggered it (services must not restart against a
// half-synced dependency set) but never to the daemon process.
type ResolutionError struct {
	Detail string
	Err    error
}

func (e *ResolutionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("dependency resolution: %s: %v", e.Detail, e.Err)
	}
	return fmt.Sprintf("dependency resolution: %s", e.Detail)
}

func (e *ResolutionError) Unwrap() error { return e.Err }

// Syncer runs the configured dependency sync command when the manifest
// digest changes, and records the digest in a state file so repeat calls
// at the same revision are detected no-ops.
type Syncer struct {
	manifests   []string
	syncCommand []string
	stateFile   string
	runner      command.Runner
	log         *slog.Logger
}

// New creates a Syncer. manifests are the files whose content defines the
// dependency set (lockfiles, requirement lists); syncCommand is the argv
// to run when they change; stateFile records the last synced digest.
func New(manifests, syncCommand []string, stateFile string, runner command.Runner) *Syncer {
	return &Syncer{
		manifests:   manifests,
		syncCommand: syncCommand,
		stateFile:   stateFile,
		runner:      runner,
		log:         slog.Default().With("component", "depsync"),
	}
}

// Sync brings the installed dependencies in line with the manifests.
// Safe to call when nothing changed: the digest short-circuits before any
// command runs. Any failure is returned as *ResolutionError.
func (s *Syncer) Sync(ctx context.Context) error {
	digest, err := s.manifestDigest()
	if err != nil {
		return &ResolutionError{Detail: "reading manifests", Err: err}
	}

	if prev, err := os.ReadFile(s.stateFile); err == nil {
		if strings.TrimSpace(string(prev)) == digest {
			s.log.Debug("manifests unchanged, skipping sync", "digest", digest)
			return nil
		}
	}

	if len(s.syncCommand) == 0 {
		return &ResolutionError{Detail: "no sync command configured"}
	}

	s.log.Info("syncing dependencies",
		"command", strings.Join(s.syncCommand, " "),
		"digest", digest,
	)
	if _, err := s.runner.Run(ctx, s.syncCommand[0], s.syncCommand[1:]...); err != nil {
		return &ResolutionError{Detail: "sync command failed", Err: err}
	}

	if err := writeFileAtomic(s.stateFile, []byte(digest+"\n")); err != nil {
		return &ResolutionError{Detail: "recording manifest digest", Err: err}
	}
	return nil
}

// manifestDigest hashes every manifest's path, length, and content into a
// single blake3 digest. Path and length are included so reordering or
// boundary-shifting file lists cannot collide.
func (s *Syncer) manifestDigest() (string, error) {
	h := blake3.New()
	for _, path := range s.manifests {
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("manifest %s: %w", path, err)
		}
		fmt.Fprintf(h, "%s\x00%d\x00", path, len(data))
		h.Write(data)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// writeFileAtomic writes data via a temporary file in the same directory,
// fsyncs, and renames into place. Readers never see a partial state file.
func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"

	file, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("creating temporary state file: %w", err)
	}
	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(tmp)
		return fmt.Errorf("writing temporary state file: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tmp)
		return fmt.Errorf("syncing temporary state file: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("closing temporary state file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("renaming state file into place: %w", err)
	}
	return nil
}
