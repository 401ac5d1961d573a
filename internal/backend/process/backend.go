// Package process runs an external solver executable once per analysis.
// The request is written to the solver's stdin as JSON and the response is
// read from its stdout.
package process

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/kiranshivaraju/fragility/pkg/models"
)

const (
	maxStderr = 2048
	// waitDelay bounds how long Run waits on pipes held open by orphaned
	// children after the solver is killed.
	waitDelay = 2 * time.Second
)

// Backend spawns a fresh solver process per call.
type Backend struct {
	command string
	args    []string
}

func NewBackend(command string, args ...string) *Backend {
	return &Backend{command: command, args: args}
}

func (b *Backend) Name() string { return "exec" }

func (b *Backend) RunOnce(ctx context.Context, req models.BackendRequest) (models.BackendResponse, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return models.BackendResponse{}, fmt.Errorf("encoding request: %w", err)
	}

	cmd := exec.CommandContext(ctx, b.command, b.args...)
	cmd.Stdin = bytes.NewReader(payload)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = waitDelay

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return models.BackendResponse{}, fmt.Errorf("%w: %v", models.ErrBackendTimeout, ctxErr)
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return models.BackendResponse{}, fmt.Errorf("solver exited with code %d: %s", exitErr.ExitCode(), tail(stderr.String()))
		}
		return models.BackendResponse{}, fmt.Errorf("%w: %v", models.ErrBackendUnavailable, err)
	}

	var resp models.BackendResponse
	if err := json.Unmarshal(bytes.TrimSpace(stdout.Bytes()), &resp); err != nil {
		return models.BackendResponse{}, fmt.Errorf("%w: %v", models.ErrInvalidResponse, err)
	}
	return resp, nil
}

func tail(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > maxStderr {
		return s[len(s)-maxStderr:]
	}
	return s
}

var _ models.StructuralBackend = (*Backend)(nil)
