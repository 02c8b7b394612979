package stamp

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/k1LoW/exec"
	"github.com/k1LoW/stamp/template"
)

const (
	envOutput = "STAMP_OUTPUT"
	envFormat = "STAMP_FORMAT"
)

// runPostCommand expands the configured post command with store and runs it through the user's shell.
func (s *Stamp) runPostCommand(ctx context.Context, store map[string]any, output string, format Format) error {
	expanded, err := template.Expand(s.postCommand, store)
	if err != nil {
		return fmt.Errorf("failed to expand post command: %w", err)
	}
	c, args, err := buildCommand(expanded)
	if err != nil {
		return fmt.Errorf("failed to build post command: %w", err)
	}

	cmd := exec.CommandContext(ctx, c, args...)
	cmd.Env = os.Environ()
	cmd.Env = append(cmd.Env, envOutput+"="+output, envFormat+"="+string(format))

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	s.logger.Debug("running post command", slog.String("command", expanded))
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("failed to run post command: %w\nstderr: %s", err, stderr.String())
	}
	if stdout.Len() > 0 {
		s.logger.Debug("post command output", slog.String("stdout", stdout.String()))
	}
	return nil
}

// buildCommand wraps cmdStr so it runs through a shell.
func buildCommand(cmdStr string) (string, []string, error) {
	shell, err := DetectShell()
	if err != nil {
		return "", nil, err
	}
	return shell, []string{"-c", cmdStr}, nil
}

// DetectShell returns $SHELL, falling back to bash and then sh.
func DetectShell() (string, error) {
	shells := []string{
		os.Getenv("SHELL"),
		"/bin/bash",
		"/bin/sh",
	}
	for _, shell := range shells {
		if shell == "" {
			continue
		}
		if _, err := os.Stat(shell); err == nil {
			return shell, nil
		}
	}
	return "", fmt.Errorf("failed to detect shell")
}
