package process

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"os/exec"

	"github.com/go-git/go-billy/v5/osfs"
	"github.com/tangramhq/tangram/internal/checkout"
	"github.com/tangramhq/tangram/internal/object"
	"github.com/tangramhq/tangram/internal/store"
	"github.com/tangramhq/tangram/internal/tgerror"
	"lukechampine.com/blake3"
)

// ExecRunner runs processes directly on the host with os/exec, no sandbox
// — spec.md §4.5.2's stand-in local-development Runner. A checksum-gated
// SOCKS5 proxy address, when set, is exposed to the child as
// ALL_PROXY/HTTPS_PROXY/HTTP_PROXY; ExecRunner trusts the child to honor
// it, since enforcing a network namespace is out of this implementation's
// scope.
type ExecRunner struct {
	Store   store.Store
	TempDir string // root for checked-out executables; defaults to os.TempDir()
}

var _ Runner = (*ExecRunner)(nil)

func (r *ExecRunner) Run(ctx context.Context, req RunRequest) (RunResult, error) {
	cmdFrame, err := r.Store.Get(ctx, req.Command)
	if err != nil {
		return RunResult{}, tgerror.Wrap(tgerror.IO, err, "fetching command %s", req.Command)
	}
	v, err := object.Decode(cmdFrame)
	if err != nil {
		return RunResult{}, tgerror.Wrap(tgerror.Validation, err, "decoding command %s", req.Command)
	}
	cmd, ok := v.(*object.Command)
	if !ok {
		return RunResult{}, tgerror.New(tgerror.Validation, "%s is not a command object", req.Command)
	}

	tempDir := r.TempDir
	if tempDir == "" {
		tempDir = os.TempDir()
	}
	execDir, err := os.MkdirTemp(tempDir, "tangram-process-")
	if err != nil {
		return RunResult{}, tgerror.Wrap(tgerror.IO, err, "creating process execution directory")
	}
	defer os.RemoveAll(execDir)

	execPath := execDir + "/" + req.Process.String()
	if err := checkout.Checkout(ctx, r.Store, osfs.New(execDir), checkout.Request{
		Artifact: cmd.Executable,
		Dest:     req.Process.String(),
	}); err != nil {
		return RunResult{}, tgerror.Wrap(tgerror.IO, err, "checking out executable for process %s", req.Process)
	}

	c := exec.CommandContext(ctx, execPath, cmd.Args...)
	c.Dir = req.WorkingDir
	c.Env = os.Environ()
	for k, v := range req.Env {
		c.Env = append(c.Env, fmt.Sprintf("%s=%s", k, v))
	}
	if req.Network && req.ProxyAddr != "" {
		proxyURL := "socks5://" + req.ProxyAddr
		c.Env = append(c.Env, "ALL_PROXY="+proxyURL, "HTTPS_PROXY="+proxyURL, "HTTP_PROXY="+proxyURL)
	}

	var out bytes.Buffer
	c.Stdout = &out
	c.Stderr = &out

	runErr := c.Run()

	result := RunResult{Output: out.Bytes()}
	if req.Checksum != nil {
		result.ComputedChecksum = &Checksum{
			Algorithm: req.Checksum.Algorithm,
			Digest:    digest(req.Checksum.Algorithm, out.Bytes()),
		}
	}

	if runErr == nil {
		result.Exit = 0
		return result, nil
	}
	var exitErr *exec.ExitError
	if ok := asExitError(runErr, &exitErr); ok {
		result.Exit = exitErr.ExitCode()
		result.ErrorKind = string(tgerror.Internal)
		return result, nil
	}
	return RunResult{}, tgerror.Wrap(tgerror.IO, runErr, "running process %s", req.Process)
}

func asExitError(err error, target **exec.ExitError) bool {
	if ee, ok := err.(*exec.ExitError); ok {
		*target = ee
		return true
	}
	return false
}

func digest(algorithm string, data []byte) string {
	switch algorithm {
	case "sha256":
		sum := sha256.Sum256(data)
		return hex.EncodeToString(sum[:])
	default:
		sum := blake3.Sum256(data)
		return hex.EncodeToString(sum[:])
	}
}
