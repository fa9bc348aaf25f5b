package environment

import (
	"context"

	"github.com/p-arndt/pyexec/internal/runner"
	"github.com/p-arndt/pyexec/protocol"
)

type ProcessRunner interface {
	Run(ctx context.Context, dir string, args ...string) runner.Result
}

type HistoryStore interface {
	RecordInvocation(inv *protocol.Invocation) error
	ListInvocations(envID string, limit int) ([]*protocol.Invocation, error)
	DeleteInvocations(envID string) (int64, error)
}
