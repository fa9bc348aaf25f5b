package reaper

import (
	"time"

	"github.com/stretchr/testify/mock"
)

// MockHistoryStore mocks the HistoryStore interface.
type MockHistoryStore struct {
	mock.Mock
}

func (m *MockHistoryStore) DeleteInvocationsBefore(t time.Time) (int64, error) {
	args := m.Called(t)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockHistoryStore) DeleteInvocations(envID string) (int64, error) {
	args := m.Called(envID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockHistoryStore) ListEnvIDs() ([]string, error) {
	args := m.Called()
	if ids := args.Get(0); ids != nil {
		return ids.([]string), args.Error(1)
	}
	return nil, args.Error(1)
}

// MockEnvironments mocks the Environments interface.
type MockEnvironments struct {
	mock.Mock
}

func (m *MockEnvironments) List() ([]string, error) {
	args := m.Called()
	if ids := args.Get(0); ids != nil {
		return ids.([]string), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockEnvironments) ReleaseLocks(live map[string]bool) int {
	args := m.Called(live)
	return args.Int(0)
}

// MockRecorder mocks the Recorder interface.
type MockRecorder struct {
	mock.Mock
}

func (m *MockRecorder) ObservePruned(reason string, n int64) {
	m.Called(reason, n)
}
