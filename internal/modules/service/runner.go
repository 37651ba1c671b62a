package service

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"go.uber.org/zap"
)

// NoOutput is returned when a command finishes cleanly without writing
// anything to stdout or stderr.
const NoOutput = "No output"

// ProcessRunner executes a command line through the host shell and resolves
// every outcome to text: the combined output on success, the failure's
// message otherwise. It never returns a hard error to the caller.
type ProcessRunner interface {
	Run(ctx context.Context, commandLine string, timeout time.Duration) string
}

type processRunner struct {
	log *zap.Logger
	sem chan struct{} // nil means no concurrency cap
}

func NewProcessRunner(log *zap.Logger, maxConcurrent int) ProcessRunner {
	var sem chan struct{}
	if maxConcurrent > 0 {
		sem = make(chan struct{}, maxConcurrent)
	}
	return &processRunner{log: log, sem: sem}
}

func (p *processRunner) Run(ctx context.Context, commandLine string, timeout time.Duration) string {
	if p.sem != nil {
		p.sem <- struct{}{}
		defer func() { <-p.sem }()
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "sh", "-c", commandLine)
	// the deadline kills only the shell; a child it left behind still holds
	// the output pipe, so cap how long we wait for the pipe after the kill
	cmd.WaitDelay = time.Second
	out, err := cmd.CombinedOutput()

	if err != nil {
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			p.log.Sugar().Debugw("command timed out", "command", commandLine, "timeout", timeout)
			return fmt.Sprintf("command timed out after %s", timeout)
		}
		// a failing command's own output is its most useful message
		if len(out) > 0 {
			return string(out)
		}
		return err.Error()
	}

	if len(out) == 0 {
		return NoOutput
	}
	return string(out)
}
