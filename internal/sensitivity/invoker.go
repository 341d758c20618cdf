package sensitivity

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/banshee-data/demand.sensitivity/internal/fsutil"
	"github.com/banshee-data/demand.sensitivity/internal/monitoring"
)

// ReportHandle addresses the demand report a simulation produced.
type ReportHandle struct {
	Path string
}

// Invoker runs the simulation for a building subset. The record groups are
// read-only for the duration of the call.
type Invoker interface {
	Invoke(ctx context.Context, buildings []string) (ReportHandle, error)
}

// InvokerFunc adapts a function to Invoker.
type InvokerFunc func(ctx context.Context, buildings []string) (ReportHandle, error)

func (f InvokerFunc) Invoke(ctx context.Context, buildings []string) (ReportHandle, error) {
	return f(ctx, buildings)
}

// BuildingsPlaceholder in a command argument expands to the comma-joined
// building subset.
const BuildingsPlaceholder = "{buildings}"

// BuildingsEnv carries the comma-joined building subset to every command.
const BuildingsEnv = "SENSITIVITY_BUILDINGS"

// waitDelay bounds how long a cancelled command may keep its output pipes
// open through orphaned children.
const waitDelay = 2 * time.Second

// CommandInvoker runs external commands in order (typically the schedule
// maker followed by the demand calculation) and then checks that the
// report exists.
type CommandInvoker struct {
	Commands   [][]string
	Dir        string
	Env        []string
	ReportPath string
	// Timeout bounds the whole invocation; zero means no limit.
	Timeout time.Duration
	FS      fsutil.FileSystem
	Stdout  io.Writer
	Stderr  io.Writer
}

func (c *CommandInvoker) Invoke(ctx context.Context, buildings []string) (ReportHandle, error) {
	if len(c.Commands) == 0 {
		return ReportHandle{}, fmt.Errorf("%w: no simulation command configured", ErrConfig)
	}
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}
	joined := strings.Join(buildings, ",")
	stdout, stderr := c.Stdout, c.Stderr
	if stdout == nil {
		stdout = monitoring.TraceWriter()
	}
	if stderr == nil {
		stderr = monitoring.TraceWriter()
	}

	for _, argv := range c.Commands {
		if len(argv) == 0 {
			continue
		}
		args := make([]string, len(argv))
		for i, a := range argv {
			args[i] = strings.ReplaceAll(a, BuildingsPlaceholder, joined)
		}
		cmd := exec.CommandContext(ctx, args[0], args[1:]...)
		cmd.Dir = c.Dir
		cmd.Env = append(append(os.Environ(), c.Env...), BuildingsEnv+"="+joined)
		cmd.Stdout = stdout
		cmd.Stderr = stderr
		cmd.WaitDelay = waitDelay

		start := time.Now()
		err := cmd.Run()
		monitoring.Tracef("command %s finished in %s", args[0], time.Since(start).Round(time.Millisecond))
		if err != nil {
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return ReportHandle{}, fmt.Errorf("%w: %s timed out after %s", ErrInvoke, args[0], c.Timeout)
			}
			return ReportHandle{}, fmt.Errorf("%w: %s: %w", ErrInvoke, args[0], err)
		}
	}

	fsys := c.FS
	if fsys == nil {
		fsys = fsutil.OSFileSystem{}
	}
	if !fsys.Exists(c.ReportPath) {
		return ReportHandle{}, fmt.Errorf("%w: report %s not produced", ErrInvoke, c.ReportPath)
	}
	return ReportHandle{Path: c.ReportPath}, nil
}
