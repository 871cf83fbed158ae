package domain

import (
	"context"
	"testing"
	"time"

	"github.com/core-tools/hsu-supervisor-go/pkg/errors"
	"github.com/core-tools/hsu-supervisor-go/pkg/logging"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type mockContract struct {
	mock.Mock
}

func (m *mockContract) Ping(ctx context.Context) error {
	return m.Called().Error(0)
}

func (m *mockContract) ListApps(ctx context.Context) ([]AppStatus, error) {
	args := m.Called()
	return args.Get(0).([]AppStatus), args.Error(1)
}

func (m *mockContract) GetApp(ctx context.Context, name string) (AppStatus, error) {
	args := m.Called(name)
	return args.Get(0).(AppStatus), args.Error(1)
}

func (m *mockContract) StartApp(ctx context.Context, name string) error {
	return m.Called(name).Error(0)
}

func (m *mockContract) StopApp(ctx context.Context, name string) error {
	return m.Called(name).Error(0)
}

func (m *mockContract) RestartApp(ctx context.Context, name string) error {
	return m.Called(name).Error(0)
}

func (m *mockContract) ResetApp(ctx context.Context, name string) error {
	return m.Called(name).Error(0)
}

func (m *mockContract) ListRuns(ctx context.Context, name string, limit int) ([]Run, error) {
	args := m.Called(name, limit)
	return args.Get(0).([]Run), args.Error(1)
}

func TestRetryPing(t *testing.T) {
	options := RetryPingOptions{RetryAttempts: 3, RetryInterval: time.Millisecond}

	t.Run("succeeds after connection errors", func(t *testing.T) {
		client := &mockContract{}
		client.On("Ping").Return(errors.NewIOError("connection refused", nil)).Twice()
		client.On("Ping").Return(nil).Once()

		assert.NoError(t, RetryPing(context.Background(), client, options, logging.NewNopLogger()))
		client.AssertNumberOfCalls(t, "Ping", 3)
	})

	t.Run("gives up after the configured attempts", func(t *testing.T) {
		client := &mockContract{}
		client.On("Ping").Return(errors.NewIOError("connection refused", nil))

		err := RetryPing(context.Background(), client, options, logging.NewNopLogger())
		assert.True(t, errors.IsIOError(err))
		client.AssertNumberOfCalls(t, "Ping", 3)
	})

	t.Run("does not retry other errors", func(t *testing.T) {
		client := &mockContract{}
		client.On("Ping").Return(errors.NewInternalError("bad response", nil))

		err := RetryPing(context.Background(), client, options, logging.NewNopLogger())
		assert.True(t, errors.IsInternalError(err))
		client.AssertNumberOfCalls(t, "Ping", 1)
	})
}
