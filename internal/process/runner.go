// Package process drives spec.md §4.5's process lifecycle on top of the
// already-transactional state machine in internal/index: callers submit a
// SpawnRequest, the engine dequeues it to a Runner, and the Runner reports
// back a terminal result. The split between "state machine" (index) and
// "execution" (Runner) mirrors go-git's own split between plumbing (dumb
// storage operations) and porcelain (the commands that drive them).
package process

import (
	"context"

	"github.com/tangramhq/tangram/internal/id"
)

// Runner executes one process to completion, spec.md §4.5.2. Concrete
// runners are out of the distilled spec's scope; this package ships
// execrunner for local development and tests. Every process runs on the
// local Runner: nothing here routes a spawn to a named remote.
type Runner interface {
	// Run executes command (a Command artifact id) with the given pipes
	// and returns its terminal result. network reports whether the
	// process declared network = true, in which case the Runner must
	// route outbound traffic through the sandbox ProxyAddr supplied in
	// RunRequest.
	Run(ctx context.Context, req RunRequest) (RunResult, error)
}

// RunRequest is everything a Runner needs to execute one process, spec.md
// §4.5.2's "runner interface accepts (command, pipes, env)".
type RunRequest struct {
	Process    id.Id
	Command    id.Id
	Stdin      id.Id // pipe id, zero value if none
	Stdout     id.Id
	Stderr     id.Id
	Env        map[string]string
	Network    bool
	ProxyAddr  string // set when Network is true; empty otherwise
	WorkingDir string

	// Checksum, if set, is the declared checksum the Runner should verify
	// its output against, supplying RunResult.ComputedChecksum in the same
	// algorithm so the engine's finish step can compare like with like.
	Checksum *Checksum
}

// RunResult is a Runner's terminal report, feeding index.FinishRequest.
type RunResult struct {
	Exit             int
	Output           []byte
	ErrorKind        string
	ComputedChecksum *Checksum
}

// Checksum mirrors index.Checksum field for field; both carry the
// Algorithm string SPEC_FULL.md §10 pulls from original_source's
// multi-algorithm checksum verification (process checksums aren't
// BLAKE3-only the way object ids are).
type Checksum struct {
	Algorithm string // "blake3" or "sha256"
	Digest    string
}
