package broker_test

import (
	"context"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"

	"github.com/soilloss/rusle-pipeline/internal/broker"
	"github.com/soilloss/rusle-pipeline/internal/domain"
	"github.com/soilloss/rusle-pipeline/internal/geometry"
)

type mockBroker struct {
	mock.Mock
}

func (m *mockBroker) Publish(ctx context.Context, stream string, payload interface{}) error {
	args := m.Called(ctx, stream, payload)
	return args.Error(0)
}

func (m *mockBroker) Consume(ctx context.Context, stream, group, consumer string) (<-chan domain.StreamMessage, error) {
	args := m.Called(ctx, stream, group, consumer)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(<-chan domain.StreamMessage), args.Error(1)
}

func (m *mockBroker) Ack(ctx context.Context, stream, group, messageID string) error {
	args := m.Called(ctx, stream, group, messageID)
	return args.Error(0)
}

func (m *mockBroker) CreateConsumerGroup(ctx context.Context, stream, group string) error {
	args := m.Called(ctx, stream, group)
	return args.Error(0)
}

func (m *mockBroker) PendingCount(ctx context.Context, stream, group string) (int64, error) {
	args := m.Called(ctx, stream, group)
	return args.Get(0).(int64), args.Error(1)
}

type mockAreas struct {
	mock.Mock
}

func (m *mockAreas) Find(ctx context.Context, areaType domain.AreaType, areaID int) (orb.Geometry, error) {
	args := m.Called(ctx, areaType, areaID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(orb.Geometry), args.Error(1)
}

func (m *mockAreas) ListAreaIDs(ctx context.Context, areaType domain.AreaType) ([]int, error) {
	args := m.Called(ctx, areaType)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]int), args.Error(1)
}

func testWorker(b broker.Broker, areas *mockAreas) *broker.ComputeWorker {
	analyser := geometry.NewAnalyser(geometry.DefaultThresholds())
	return broker.NewComputeWorker("erosion-compute", "erosion-compute-group", zap.NewNop(), b, analyser, areas, nil, nil, nil, nil)
}

func TestComputeWorker_Name(t *testing.T) {
	w := testWorker(&mockBroker{}, &mockAreas{})
	assert.Equal(t, "erosion-compute", w.Name())
}

func TestComputeWorker_StartFailsWhenConsumerGroupCreationFails(t *testing.T) {
	b := &mockBroker{}
	b.On("CreateConsumerGroup", mock.Anything, domain.StreamErosionCompute, "erosion-compute-group").
		Return(assert.AnError)

	w := testWorker(b, &mockAreas{})
	err := w.Start(context.Background())
	assert.Error(t, err)
	b.AssertExpectations(t)
}
