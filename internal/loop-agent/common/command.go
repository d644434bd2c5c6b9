package common

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"go.uber.org/fx"
	utilexec "k8s.io/utils/exec"

	"github.com/sgl-project/ome-loop/pkg/logging"
	"github.com/sgl-project/ome-loop/pkg/metrics"
)

// Command is one external program invocation.
type Command struct {
	// Name labels the command in logs and metrics; defaults to Argv[0].
	Name string
	Argv []string
	Dir  string
	// Env is appended to the current environment.
	Env []string

	Stdout io.Writer
	Stderr io.Writer
}

func (c Command) name() string {
	if c.Name != "" {
		return c.Name
	}
	if len(c.Argv) > 0 {
		return c.Argv[0]
	}
	return ""
}

// Runner runs external commands. Output is streamed to the process's own
// stdout/stderr unless the Command says otherwise.
type Runner struct {
	exec    utilexec.Interface
	logger  logging.Interface
	metrics *metrics.Metrics
}

// NewRunner returns a Runner; m may be nil.
func NewRunner(execer utilexec.Interface, logger logging.Interface, m *metrics.Metrics) *Runner {
	return &Runner{exec: execer, logger: logger, metrics: m}
}

func (r *Runner) command(ctx context.Context, c Command) (utilexec.Cmd, error) {
	if len(c.Argv) == 0 || c.Argv[0] == "" {
		return nil, errors.New("empty command")
	}
	cmd := r.exec.CommandContext(ctx, c.Argv[0], c.Argv[1:]...)
	if c.Dir != "" {
		cmd.SetDir(c.Dir)
	}
	if len(c.Env) > 0 {
		cmd.SetEnv(append(os.Environ(), c.Env...))
	}
	return cmd, nil
}

// Run runs c to completion.
func (r *Runner) Run(ctx context.Context, c Command) error {
	run, err := r.prepare(ctx, c)
	if err != nil {
		return err
	}
	return run()
}

// Start launches c in the background. The returned channel receives the
// command's result once it exits.
func (r *Runner) Start(ctx context.Context, c Command) (<-chan error, error) {
	run, err := r.prepare(ctx, c)
	if err != nil {
		return nil, err
	}
	done := make(chan error, 1)
	go func() { done <- run() }()
	return done, nil
}

func (r *Runner) prepare(ctx context.Context, c Command) (func() error, error) {
	cmd, err := r.command(ctx, c)
	if err != nil {
		return nil, err
	}
	stdout, stderr := c.Stdout, c.Stderr
	if stdout == nil {
		stdout = os.Stdout
	}
	if stderr == nil {
		stderr = os.Stderr
	}
	cmd.SetStdout(stdout)
	cmd.SetStderr(stderr)

	r.logger.WithField("command", strings.Join(c.Argv, " ")).Info("Running command")
	return func() error {
		start := time.Now()
		err := wrapExitError(c.name(), cmd.Run())
		r.metrics.RecordSubprocess(c.name(), time.Since(start), err)
		return err
	}, nil
}

// Output runs c and returns its stdout.
func (r *Runner) Output(ctx context.Context, c Command) ([]byte, error) {
	cmd, err := r.command(ctx, c)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	out, err := cmd.Output()
	err = wrapExitError(c.name(), err)
	r.metrics.RecordSubprocess(c.name(), time.Since(start), err)
	return out, err
}

func wrapExitError(name string, err error) error {
	if err == nil {
		return nil
	}
	var exitErr utilexec.ExitError
	if errors.As(err, &exitErr) {
		return fmt.Errorf("%s exited with status %d: %w", name, exitErr.ExitStatus(), err)
	}
	return fmt.Errorf("running %s: %w", name, err)
}

type runnerParams struct {
	fx.In

	Exec    utilexec.Interface
	Logger  logging.Interface `name:"stage_log"`
	Metrics *metrics.Metrics  `optional:"true"`
}

// Module provides the process executor and the Runner shared by the stages.
var Module = fx.Provide(
	utilexec.New,
	func(p runnerParams) *Runner {
		return NewRunner(p.Exec, p.Logger, p.Metrics)
	},
)
