package tools

import (
	"context"

	"github.com/p-arndt/pyexec/internal/environment"
	"github.com/p-arndt/pyexec/protocol"
)

// Environments is the environment service exposed as tools.
type Environments interface {
	Create(ctx context.Context, raw string, packages []string) (*protocol.CreateResult, error)
	Execute(ctx context.Context, raw string, req environment.ExecRequest) (*protocol.ExecResult, error)
	Write(ctx context.Context, raw, filename, content string) (*protocol.WriteResult, error)
	Read(ctx context.Context, raw, filename string) (*protocol.File, error)
	ListFiles(ctx context.Context, raw string) (string, []string, error)
	FilePath(ctx context.Context, raw, filename string) (string, string, error)
	Install(ctx context.Context, raw string, packages []string) (string, error)
	Remove(ctx context.Context, raw string, packages []string) (string, error)
	ListPackages(ctx context.Context, raw string) (string, []protocol.Package, error)
	List() ([]string, error)
	Delete(ctx context.Context, raw string) (string, error)
	History(ctx context.Context, raw string, limit int) (string, []*protocol.Invocation, error)
	Policy() string
}
