package reaper

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestPruneExpired(t *testing.T) {
	st := &MockHistoryStore{}
	envs := &MockEnvironments{}
	rec := &MockRecorder{}
	r := New(st, envs, time.Minute, 24*time.Hour, testLogger())
	r.SetRecorder(rec)
	now := time.Date(2026, 5, 2, 10, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }

	st.On("DeleteInvocationsBefore", now.Add(-24*time.Hour)).Return(int64(7), nil)
	rec.On("ObservePruned", ReasonRetention, int64(7)).Return()

	r.pruneExpired(context.Background())

	st.AssertExpectations(t)
	rec.AssertExpectations(t)
}

func TestPruneExpired_NothingToPrune(t *testing.T) {
	st := &MockHistoryStore{}
	rec := &MockRecorder{}
	r := New(st, &MockEnvironments{}, time.Minute, time.Hour, testLogger())
	r.SetRecorder(rec)

	st.On("DeleteInvocationsBefore", mock.AnythingOfType("time.Time")).Return(int64(0), nil)

	r.pruneExpired(context.Background())

	rec.AssertNotCalled(t, "ObservePruned", mock.Anything, mock.Anything)
}

func TestPruneExpired_StoreError(t *testing.T) {
	st := &MockHistoryStore{}
	r := New(st, &MockEnvironments{}, time.Minute, time.Hour, testLogger())

	st.On("DeleteInvocationsBefore", mock.Anything).Return(int64(0), errors.New("disk I/O error"))

	require.NotPanics(t, func() {
		r.pruneExpired(context.Background())
	})
}

func TestPruneExpired_NoStore(t *testing.T) {
	r := New(nil, &MockEnvironments{}, time.Minute, time.Hour, testLogger())
	require.NotPanics(t, func() {
		r.pruneExpired(context.Background())
	})
}

func TestReconcile_DropsVanishedHistory(t *testing.T) {
	st := &MockHistoryStore{}
	envs := &MockEnvironments{}
	rec := &MockRecorder{}
	r := New(st, envs, time.Minute, time.Hour, testLogger())
	r.SetRecorder(rec)

	live := map[string]bool{"alpha": true, "beta": true}
	envs.On("List").Return([]string{"alpha", "beta"}, nil)
	envs.On("ReleaseLocks", live).Return(1)
	st.On("ListEnvIDs").Return([]string{"alpha", "gone"}, nil)
	st.On("DeleteInvocations", "gone").Return(int64(4), nil)
	rec.On("ObservePruned", ReasonVanished, int64(4)).Return()

	r.reconcile(context.Background())

	st.AssertExpectations(t)
	envs.AssertExpectations(t)
	rec.AssertExpectations(t)
	st.AssertNotCalled(t, "DeleteInvocations", "alpha")
}

func TestReconcile_ListError(t *testing.T) {
	st := &MockHistoryStore{}
	envs := &MockEnvironments{}
	r := New(st, envs, time.Minute, time.Hour, testLogger())

	envs.On("List").Return(nil, errors.New("permission denied"))

	r.reconcile(context.Background())

	envs.AssertNotCalled(t, "ReleaseLocks", mock.Anything)
	st.AssertNotCalled(t, "ListEnvIDs")
}

func TestReconcile_NoStore(t *testing.T) {
	envs := &MockEnvironments{}
	r := New(nil, envs, time.Minute, time.Hour, testLogger())

	envs.On("List").Return([]string{}, nil)
	envs.On("ReleaseLocks", map[string]bool{}).Return(0)

	r.reconcile(context.Background())

	envs.AssertExpectations(t)
}

func TestRunStopsOnCancel(t *testing.T) {
	st := &MockHistoryStore{}
	envs := &MockEnvironments{}
	r := New(st, envs, 10*time.Millisecond, time.Hour, testLogger())

	envs.On("List").Return([]string{}, nil)
	envs.On("ReleaseLocks", mock.Anything).Return(0)
	st.On("ListEnvIDs").Return([]string{}, nil)
	st.On("DeleteInvocationsBefore", mock.Anything).Return(int64(0), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("reaper did not stop")
	}
	assert.GreaterOrEqual(t, len(envs.Calls), 2)
}
