package client

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/shehryarbajwa/sweetlink/pkg/models"
)

// Executor runs a command inside the page. CommandID and DurationMs are
// filled in by the client when left empty.
type Executor interface {
	Execute(ctx context.Context, cmd models.Command) models.CommandResult
}

// ExecutorFunc adapts a function to Executor
type ExecutorFunc func(ctx context.Context, cmd models.Command) models.CommandResult

func (f ExecutorFunc) Execute(ctx context.Context, cmd models.Command) models.CommandResult {
	return f(ctx, cmd)
}

// BasicExecutor answers ping and refuses everything else. Real page
// automation lives outside this module.
type BasicExecutor struct{}

func (BasicExecutor) Execute(_ context.Context, cmd models.Command) models.CommandResult {
	if cmd.Type == models.CommandPing {
		return models.CommandResult{OK: true, Data: json.RawMessage(`{"pong":true}`)}
	}
	return models.CommandResult{
		OK:    false,
		Error: fmt.Sprintf("unsupported command type %q", cmd.Type),
	}
}
