package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"github.com/stewardhq/steward/pkg/capability"
	"github.com/stewardhq/steward/pkg/logger"
	"github.com/stewardhq/steward/pkg/osutil"
	"github.com/stewardhq/steward/pkg/skills"
	"github.com/stewardhq/steward/pkg/types/host"
	"github.com/stewardhq/steward/pkg/venv"
)

// ChildProcessError covers crashes, non-zero exits, and I/O breaks during a
// sandboxed invocation. The dispatcher treats it exactly like an in-process
// handler failure: logged, result absent, other skills unaffected.
type ChildProcessError struct {
	Skill  string
	Stderr string
	Err    error
}

func (e *ChildProcessError) Error() string {
	msg := fmt.Sprintf("sandboxed skill %q child process failed: %v", e.Skill, e.Err)
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

func (e *ChildProcessError) Unwrap() error { return e.Err }

// Runner spawns sandboxed handler processes and supervises the bridge
// conversation with each one.
type Runner struct {
	services *host.Services
	envs     *venv.Provisioner
	maxCalls int
}

// NewRunner creates a runner. maxCalls <= 0 uses DefaultMaxCalls.
func NewRunner(services *host.Services, envs *venv.Provisioner, maxCalls int) *Runner {
	return &Runner{services: services, envs: envs, maxCalls: maxCalls}
}

// Invoke runs one sandboxed handler to completion and returns the result it
// delivered through the return method, or nil when it exited cleanly
// without one.
func (r *Runner) Invoke(ctx context.Context, skill *skills.Skill, handlerKey string, inv skills.Invocation) (json.RawMessage, error) {
	handlerRel, ok := skill.Handlers[handlerKey]
	if !ok {
		return nil, errors.Errorf("skill %q has no %s handler", skill.Name, handlerKey)
	}
	handlerPath := filepath.Join(skill.Directory, handlerRel)

	cmd, err := r.command(ctx, skill, handlerPath)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(inv)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode invocation payload")
	}
	cmd.Env = append(os.Environ(),
		EnvSkill+"="+skill.Name,
		EnvHandler+"="+handlerKey,
		EnvPayload+"="+string(payload),
	)
	cmd.Dir = skill.Directory

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, errors.Wrap(err, "failed to open child stdin")
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, errors.Wrap(err, "failed to open child stdout")
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return nil, &ChildProcessError{Skill: skill.Name, Err: errors.Wrap(err, "failed to spawn")}
	}

	capctx := capability.NewContext(skill.Name, skill.Permissions, r.services)
	bridge := NewBridge(capctx, r.maxCalls)

	serveErr := bridge.Serve(ctx, stdout, stdin)
	stdin.Close()
	waitErr := cmd.Wait()

	if stderr.Len() > 0 {
		logger.G(ctx).WithField("skill", skill.Name).
			WithField("stderr", strings.TrimSpace(stderr.String())).
			Debug("sandboxed handler stderr")
	}

	if waitErr != nil {
		return nil, &ChildProcessError{Skill: skill.Name, Stderr: strings.TrimSpace(stderr.String()), Err: waitErr}
	}
	if serveErr != nil {
		return nil, &ChildProcessError{Skill: skill.Name, Stderr: strings.TrimSpace(stderr.String()), Err: serveErr}
	}

	result, _ := bridge.Result()
	return result, nil
}

// command resolves how to execute the handler: through the skill's isolated
// interpreter when it declares dependencies, through the host interpreter
// for plain scripts, or directly for self-contained executables.
func (r *Runner) command(ctx context.Context, skill *skills.Skill, handlerPath string) (*exec.Cmd, error) {
	var cmd *exec.Cmd
	if strings.HasSuffix(handlerPath, ".py") {
		interpreter, err := r.envs.Ensure(ctx, skill.Name, skill.Dependencies)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to provision environment for skill %q", skill.Name)
		}
		cmd = exec.CommandContext(ctx, interpreter, handlerPath)
	} else {
		cmd = exec.CommandContext(ctx, handlerPath)
	}
	// Contain the handler and anything it spawns so cancellation kills the
	// whole tree, not just the direct child.
	osutil.SetProcessGroup(cmd)
	osutil.SetProcessGroupKill(cmd)
	return cmd, nil
}
