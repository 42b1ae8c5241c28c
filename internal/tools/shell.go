package tools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/haloweave/cortana/internal/agent"
)

const execBashDoc = `Runs a bash command in the agent workspace and returns its output.

Args:
    command: The shell command to run.
`

const maxExecOutput = 16 * 1024

func shellDefinitions(workspace string, timeoutSec int) []*agent.Definition {
	if timeoutSec <= 0 {
		timeoutSec = 60
	}
	timeout := time.Duration(timeoutSec) * time.Second

	return []*agent.Definition{
		agent.NewDefinition("execute_bash", execBashDoc).
			Param("command", agent.String).
			Handle(func(ctx context.Context, rc *agent.RunContext, args agent.Args) (string, error) {
				return executeBash(ctx, workspace, args.String("command"), timeout)
			}),
	}
}

func executeBash(ctx context.Context, workspace, command string, timeout time.Duration) (string, error) {
	if strings.TrimSpace(command) == "" {
		return "", fmt.Errorf("command must not be empty")
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "bash", "-c", command)
	if workspace != "" {
		cmd.Dir = workspace
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return "", fmt.Errorf("command timed out after %s", timeout)
	}

	exitCode := 0
	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			return "", fmt.Errorf("run command: %w", runErr)
		}
	}

	// Combined text output prioritizing stdout
	text := strings.TrimSpace(stdout.String())
	if errText := strings.TrimSpace(stderr.String()); errText != "" {
		if text == "" {
			text = errText
		} else {
			text = text + "\n" + errText
		}
	}
	if len(text) > maxExecOutput {
		text = text[:maxExecOutput] + "\n[Output truncated...]"
	}

	if runErr != nil {
		if text == "" {
			return fmt.Sprintf("exit code %d (no output)", exitCode), nil
		}
		return fmt.Sprintf("%s\n(exit code %d)", text, exitCode), nil
	}
	if text == "" {
		return "command completed with no output", nil
	}
	return text, nil
}
