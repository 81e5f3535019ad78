// Package fetch drives the external wget-lua process that captures an item into its container.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/fotopedia-grab/internal/item"
	"github.com/JakeFAU/fotopedia-grab/internal/planner"
)

// ErrExitCode is matched by every *ExitCodeError.
var ErrExitCode = errors.New("fetch exit code not accepted")

// ExitCodeError reports a fetch attempt that ended with an unaccepted exit code.
type ExitCodeError struct {
	Code     int
	Attempts int
}

func (e *ExitCodeError) Error() string {
	return fmt.Sprintf("fetch tool exited with code %d after %d attempt(s)", e.Code, e.Attempts)
}

// Is lets errors.Is(err, ErrExitCode) match.
func (e *ExitCodeError) Is(target error) bool {
	return target == ErrExitCode
}

// Executor runs a process to completion and reports its exit code. A non-nil error means
// the process could not be run or waited on at all.
type Executor interface {
	Run(ctx context.Context, cmd Command) (int, error)
}

// Command is one fully-resolved fetch invocation.
type Command struct {
	Binary string
	Args   []string
	Env    []string
	Dir    string
}

// Config holds the immutable fetch settings.
type Config struct {
	Binary      string
	LuaScript   string
	UserAgent   string
	Project     string
	Version     string
	Operator    string
	BindAddress string
	Timeout     time.Duration
	WaitRetry   time.Duration
	MaxTries    int
	RetryDelay  time.Duration
	// AcceptCodes lists tolerated exit codes; 0 is always accepted.
	AcceptCodes []int
}

// Invoker builds arguments and runs the fetch tool with a bounded number of attempts.
type Invoker struct {
	cfg    Config
	accept map[int]bool
	exec   Executor
	logger *zap.Logger
	// ExitObserver, when set, sees every attempt's exit code.
	ExitObserver func(code int)
}

// Option configures an Invoker.
type Option func(*Invoker)

// WithExecutor injects a custom executor (primarily for tests).
func WithExecutor(exec Executor) Option {
	return func(i *Invoker) {
		if exec != nil {
			i.exec = exec
		}
	}
}

// New validates cfg and returns an Invoker.
func New(cfg Config, logger *zap.Logger, opts ...Option) (*Invoker, error) {
	if strings.TrimSpace(cfg.Binary) == "" {
		return nil, errors.New("fetch binary required")
	}
	if cfg.MaxTries <= 0 {
		cfg.MaxTries = 2
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.WaitRetry <= 0 {
		cfg.WaitRetry = time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	accept := map[int]bool{0: true}
	for _, code := range cfg.AcceptCodes {
		accept[code] = true
	}
	inv := &Invoker{
		cfg:    cfg,
		accept: accept,
		exec:   commandExecutor{},
		logger: logger,
	}
	for _, opt := range opts {
		opt(inv)
	}
	return inv, nil
}

// Accepts reports whether code counts as a successful attempt.
func (i *Invoker) Accepts(code int) bool {
	return i.accept[code]
}

// LogPath is the fetch log inside the item workspace.
func LogPath(it *item.Item) string {
	return filepath.Join(it.WorkspaceDir, "wget.log")
}

// Args builds the argument list for one invocation.
func (i *Invoker) Args(it *item.Item, plan planner.Plan) []string {
	project := i.cfg.Project
	args := []string{
		"-U", i.cfg.UserAgent,
		"-nv",
	}
	if i.cfg.LuaScript != "" {
		args = append(args, "--lua-script", i.cfg.LuaScript)
	}
	args = append(args,
		"-o", LogPath(it),
		"--no-check-certificate",
		"--output-document", filepath.Join(it.WorkspaceDir, "wget.tmp"),
		"--truncate-output",
		"-e", "robots=off",
		"--no-cookies",
		"--rotate-dns",
		"--page-requisites",
		"--timeout", strconv.Itoa(int(i.cfg.Timeout/time.Second)),
		"--tries", "inf",
		"--span-hosts",
		"--waitretry", strconv.Itoa(int(i.cfg.WaitRetry/time.Second)),
		"--warc-file", filepath.Join(it.WorkspaceDir, it.ContainerBase),
		"--warc-header", "operator: "+i.cfg.Operator,
		"--warc-header", fmt.Sprintf("%s-dld-script-version: %s", project, i.cfg.Version),
		"--warc-header", fmt.Sprintf("%s-user: %s", project, it.Identifier),
		"--domains", strings.Join(plan.Domains, ","),
	)
	args = append(args, plan.URLs...)
	if i.cfg.BindAddress != "" {
		args = append(args, "--bind-address", i.cfg.BindAddress)
	}
	return args
}

// Env is the environment the lua script reads the item from.
func Env(it *item.Item) []string {
	return []string{
		"item_dir=" + it.WorkspaceDir,
		"item_value=" + it.Value(),
		"item_type=" + string(it.Kind()),
	}
}

// Invoke runs the fetch tool up to MaxTries times and returns the last exit code.
// The tool owns per-request retries; only whole invocations are bounded here.
func (i *Invoker) Invoke(ctx context.Context, it *item.Item, plan planner.Plan) (int, error) {
	cmd := Command{
		Binary: i.cfg.Binary,
		Args:   i.Args(it, plan),
		Env:    Env(it),
		Dir:    it.WorkspaceDir,
	}
	if i.cfg.BindAddress != "" {
		i.logger.Info("fetch tool will bind address", zap.String("bind_address", i.cfg.BindAddress))
	}

	code := -1
	for attempt := 1; attempt <= i.cfg.MaxTries; attempt++ {
		var err error
		code, err = i.exec.Run(ctx, cmd)
		if err != nil {
			return code, fmt.Errorf("run fetch tool: %w", err)
		}
		if i.ExitObserver != nil {
			i.ExitObserver(code)
		}
		if i.Accepts(code) {
			if code != 0 {
				i.logger.Warn("fetch finished with tolerated exit code",
					zap.String("item", it.Identifier), zap.Int("code", code))
			}
			return code, nil
		}
		i.logger.Warn("fetch attempt failed",
			zap.String("item", it.Identifier),
			zap.Int("attempt", attempt),
			zap.Int("max_tries", i.cfg.MaxTries),
			zap.Int("code", code),
		)
		if attempt < i.cfg.MaxTries && i.cfg.RetryDelay > 0 {
			select {
			case <-ctx.Done():
				return code, fmt.Errorf("wait before fetch retry: %w", ctx.Err())
			case <-time.After(i.cfg.RetryDelay):
			}
		}
	}
	return code, &ExitCodeError{Code: code, Attempts: i.cfg.MaxTries}
}
