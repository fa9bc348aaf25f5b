package reaper

import "time"

// HistoryStore abstracts the invocation history operations needed by the reaper.
type HistoryStore interface {
	DeleteInvocationsBefore(t time.Time) (int64, error)
	DeleteInvocations(envID string) (int64, error)
	ListEnvIDs() ([]string, error)
}

// Environments abstracts the environment manager.
type Environments interface {
	List() ([]string, error)
	ReleaseLocks(live map[string]bool) int
}

// Recorder receives the number of history rows removed per sweep.
type Recorder interface {
	ObservePruned(reason string, n int64)
}
