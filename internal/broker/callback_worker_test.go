package broker_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"

	"github.com/soilloss/rusle-pipeline/internal/broker"
	"github.com/soilloss/rusle-pipeline/internal/domain"
)

type mockCallbacks struct {
	mock.Mock
}

func (m *mockCallbacks) TaskStarted(ctx context.Context, e domain.TaskStartedEvent) error {
	return m.Called(ctx, e).Error(0)
}

func (m *mockCallbacks) TaskComplete(ctx context.Context, e domain.TaskCompleteEvent) error {
	return m.Called(ctx, e).Error(0)
}

func (m *mockCallbacks) TaskFailed(ctx context.Context, e domain.TaskFailedEvent) error {
	return m.Called(ctx, e).Error(0)
}

func TestCallbackWorker_Name(t *testing.T) {
	w := broker.NewCallbackWorker("erosion-callbacks", "erosion-callback-group", zap.NewNop(), &mockBroker{}, &mockCallbacks{})
	assert.Equal(t, "erosion-callbacks", w.Name())
}
