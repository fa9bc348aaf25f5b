// Package environment implements the environment lifecycle and the services
// layered on top of it: code execution, file transport and package
// management. Every operation resolves its environment through the
// filesystem; nothing is cached between calls.
package environment

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/p-arndt/pyexec/internal/config"
	"github.com/p-arndt/pyexec/internal/runner"
	"github.com/p-arndt/pyexec/internal/workspace"
	"github.com/p-arndt/pyexec/protocol"
)

const defaultHistoryLimit = 50

type Options struct {
	// Policy is config.PolicyLazy or config.PolicyStrict. Empty means lazy.
	Policy       string
	MaxReadBytes int64
	// History is optional; nil disables invocation recording.
	History HistoryStore
	Logger  *slog.Logger
}

type Manager struct {
	ws      *workspace.Manager
	runner  ProcessRunner
	history HistoryStore
	policy  string
	maxRead int64
	logger  *slog.Logger

	// Per-environment mutexes to serialize mutating calls.
	locks   map[string]*sync.Mutex
	locksMu sync.Mutex

	// Collapses concurrent lazy creation of the same environment.
	creating singleflight.Group
}

func NewManager(ws *workspace.Manager, r ProcessRunner, opts Options) *Manager {
	policy := opts.Policy
	if policy == "" {
		policy = config.PolicyLazy
	}
	maxRead := opts.MaxReadBytes
	if maxRead <= 0 {
		maxRead = protocol.DefaultMaxReadBytes
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		ws:      ws,
		runner:  r,
		history: opts.History,
		policy:  policy,
		maxRead: maxRead,
		logger:  logger,
		locks:   make(map[string]*sync.Mutex),
	}
}

// Policy returns the active existence policy.
func (m *Manager) Policy() string {
	return m.policy
}

// Root returns the directory holding all environments.
func (m *Manager) Root() string {
	return m.ws.Root()
}

// MaxReadBytes returns the read_file size ceiling.
func (m *Manager) MaxReadBytes() int64 {
	return m.maxRead
}

func (m *Manager) envLock(id string) *sync.Mutex {
	m.locksMu.Lock()
	defer m.locksMu.Unlock()
	mu, ok := m.locks[id]
	if !ok {
		mu = &sync.Mutex{}
		m.locks[id] = mu
	}
	return mu
}

func (m *Manager) removeEnvLock(id string) {
	m.locksMu.Lock()
	defer m.locksMu.Unlock()
	delete(m.locks, id)
}

// ReleaseLocks drops the idle mutexes of environments that no longer exist
// on disk and returns how many were dropped. A held mutex is kept: its owner
// may be creating the environment right now.
func (m *Manager) ReleaseLocks(live map[string]bool) int {
	m.locksMu.Lock()
	defer m.locksMu.Unlock()
	n := 0
	for id, mu := range m.locks {
		if live[id] || !mu.TryLock() {
			continue
		}
		delete(m.locks, id)
		mu.Unlock()
		n++
	}
	return n
}

// run invokes the external manager in dir and appends the outcome to the
// history when one is configured.
func (m *Manager) run(ctx context.Context, id, dir string, args ...string) runner.Result {
	res := m.runner.Run(ctx, dir, args...)
	if res.Args == nil {
		res.Args = args
	}
	if m.history == nil {
		return res
	}
	inv := &protocol.Invocation{
		ID:         uuid.New().String(),
		EnvID:      id,
		Command:    res.Command(),
		Args:       args,
		ExitCode:   res.ExitCode,
		TimedOut:   res.TimedOut,
		DurationMs: res.Duration.Milliseconds(),
		CreatedAt:  time.Now().UTC(),
	}
	if err := m.history.RecordInvocation(inv); err != nil {
		m.logger.Warn("failed to record invocation", "env_id", id, "command", inv.Command, "error", err)
	}
	return res
}

// History returns the most recent recorded invocations for an environment.
func (m *Manager) History(ctx context.Context, raw string, limit int) (string, []*protocol.Invocation, error) {
	if m.history == nil {
		return "", nil, ErrHistoryDisabled
	}
	id, _, err := m.ws.Path(raw)
	if err != nil {
		return "", nil, err
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	invs, err := m.history.ListInvocations(id, limit)
	if err != nil {
		return id, nil, err
	}
	if invs == nil {
		invs = []*protocol.Invocation{}
	}
	return id, invs, nil
}
