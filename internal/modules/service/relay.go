package service

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/codehive-io/codehive/internal/pkg/utils"
	"go.uber.org/zap"
)

// ScriptLabel is the command echoed in results for ephemeral script runs,
// which have no user-typed command line of their own.
const ScriptLabel = "python script"

// CommandResult is broadcast to the whole room after an execution. It is
// never persisted.
type CommandResult struct {
	Command string `json:"command"`
	Output  string `json:"output"`
}

// CommandRelay services interactive commands and ephemeral scripts and
// broadcasts their results to the originating room.
type CommandRelay interface {
	RunCommand(ctx context.Context, roomID, command string)
	RunScript(ctx context.Context, roomID, code string)
}

type RelayOptions struct {
	Timeout     time.Duration // per-invocation deadline, 5s when zero
	Interpreter string        // script interpreter, python3 when empty
	TempDir     string        // staging dir for scripts, os.TempDir() when empty
}

type commandRelay struct {
	runner      ProcessRunner
	rooms       RoomRegistry
	log         *zap.Logger
	timeout     time.Duration
	interpreter string
	tempDir     string
}

func NewCommandRelay(runner ProcessRunner, rooms RoomRegistry, log *zap.Logger, opts RelayOptions) CommandRelay {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.Interpreter == "" {
		opts.Interpreter = "python3"
	}
	if opts.TempDir == "" {
		opts.TempDir = os.TempDir()
	}
	return &commandRelay{
		runner:      runner,
		rooms:       rooms,
		log:         log,
		timeout:     opts.Timeout,
		interpreter: opts.Interpreter,
		tempDir:     opts.TempDir,
	}
}

func (r *commandRelay) RunCommand(ctx context.Context, roomID, command string) {
	output := r.runner.Run(ctx, command, r.timeout)
	r.rooms.BroadcastToAll(roomID, "command-result", CommandResult{Command: command, Output: output})
}

func (r *commandRelay) RunScript(ctx context.Context, roomID, code string) {
	// nanosecond timestamp plus a random suffix keeps concurrent requests
	// from colliding on the staged file
	name := fmt.Sprintf("script_%d_%s.py", time.Now().UnixNano(), utils.RandomToken(8))
	path := filepath.Join(r.tempDir, name)

	if err := os.WriteFile(path, []byte(code), 0o600); err != nil {
		r.rooms.BroadcastToAll(roomID, "command-result", CommandResult{
			Command: ScriptLabel,
			Output:  fmt.Sprintf("failed to stage script: %v", err),
		})
		return
	}
	defer func() {
		if err := os.Remove(path); err != nil {
			r.log.Sugar().Warnw("failed to remove staged script", "path", path, "err", err)
		}
	}()

	output := r.runner.Run(ctx, r.interpreter+" "+path, r.timeout)
	r.rooms.BroadcastToAll(roomID, "command-result", CommandResult{Command: ScriptLabel, Output: output})
}
