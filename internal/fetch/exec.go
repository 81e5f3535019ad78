package fetch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

type commandExecutor struct{}

func (commandExecutor) Run(ctx context.Context, c Command) (int, error) {
	cmd := exec.CommandContext(ctx, c.Binary, c.Args...) // #nosec G204 -- binary chosen by Locate
	cmd.Dir = c.Dir
	cmd.Env = append(os.Environ(), c.Env...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	err := cmd.Run()
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && ctx.Err() == nil {
		return exitErr.ExitCode(), nil
	}
	return -1, err
}

// Locate returns the first candidate whose --version output contains want.
func Locate(ctx context.Context, candidates []string, want string) (string, error) {
	for _, candidate := range candidates {
		path, err := exec.LookPath(candidate)
		if err != nil {
			continue
		}
		out, err := exec.CommandContext(ctx, path, "--version").Output() // #nosec G204
		if err != nil {
			continue
		}
		if strings.Contains(string(out), want) {
			return path, nil
		}
	}
	return "", fmt.Errorf("no usable fetch tool reporting %q among %v", want, candidates)
}
