package orchestrator_test

import (
	"context"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/soilloss/rusle-pipeline/internal/config"
	"github.com/soilloss/rusle-pipeline/internal/domain"
	"github.com/soilloss/rusle-pipeline/internal/geometry"
	"github.com/soilloss/rusle-pipeline/internal/orchestrator"
	"github.com/soilloss/rusle-pipeline/internal/registry"
	"github.com/soilloss/rusle-pipeline/internal/rusleconfig"
	"github.com/soilloss/rusle-pipeline/internal/tiles"
)

type mockRegistry struct {
	mock.Mock
}

func (m *mockRegistry) Find(ctx context.Context, fp domain.Fingerprint) (*domain.PrecomputedMap, error) {
	args := m.Called(ctx, fp)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.PrecomputedMap), args.Error(1)
}

func (m *mockRegistry) FindByTaskID(ctx context.Context, taskID string) (*domain.PrecomputedMap, error) {
	args := m.Called(ctx, taskID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.PrecomputedMap), args.Error(1)
}

func (m *mockRegistry) CreateOrReset(ctx context.Context, fp domain.Fingerprint, payload registry.CreatePayload) (*domain.PrecomputedMap, error) {
	args := m.Called(ctx, fp, payload)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.PrecomputedMap), args.Error(1)
}

func (m *mockRegistry) Transition(ctx context.Context, fp domain.Fingerprint, to domain.Status, fields registry.TransitionFields) (*domain.PrecomputedMap, error) {
	args := m.Called(ctx, fp, to, fields)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.PrecomputedMap), args.Error(1)
}

func (m *mockRegistry) FindStuck(ctx context.Context, statuses []domain.Status, olderThan time.Time) ([]*domain.PrecomputedMap, error) {
	args := m.Called(ctx, statuses, olderThan)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.PrecomputedMap), args.Error(1)
}

type mockBroker struct {
	mock.Mock
}

func (m *mockBroker) Publish(ctx context.Context, stream string, payload interface{}) error {
	args := m.Called(ctx, stream, payload)
	return args.Error(0)
}

func (m *mockBroker) Consume(ctx context.Context, stream, group, consumer string) (<-chan domain.StreamMessage, error) {
	args := m.Called(ctx, stream, group, consumer)
	return nil, args.Error(1)
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

func testService(t *testing.T, reg *mockRegistry, b *mockBroker, areas *mockAreas) *orchestrator.Service {
	t.Helper()
	resolver := rusleconfig.NewResolver(config.RusleConfig{DefaultsVersion: "v1"}, nil)
	analyser := geometry.NewAnalyser(geometry.DefaultThresholds())
	generator := tiles.NewGenerator(t.TempDir())
	return orchestrator.NewService(reg, b, analyser, areas, resolver, generator, zap.NewNop(), "/tiles", 14)
}

func squarePolygon() orb.Geometry {
	return orb.Polygon{orb.Ring{{68.0, 38.0}, {68.1, 38.0}, {68.1, 38.1}, {68.0, 38.1}, {68.0, 38.0}}}
}

func TestGetOrQueue_AbsentRecord_CreatesAndEnqueues(t *testing.T) {
	reg := &mockRegistry{}
	b := &mockBroker{}
	areas := &mockAreas{}
	svc := testService(t, reg, b, areas)

	areas.On("Find", mock.Anything, domain.AreaTypeRegion, 7).Return(squarePolygon(), nil)
	reg.On("Find", mock.Anything, mock.Anything).Return(nil, nil)
	reg.On("CreateOrReset", mock.Anything, mock.Anything, mock.Anything).
		Return(&domain.PrecomputedMap{AreaType: domain.AreaTypeRegion, AreaID: 7, StartYear: 2020, EndYear: 2020}, nil)
	b.On("Publish", mock.Anything, domain.StreamErosionCompute, mock.Anything).Return(nil)

	result, err := svc.GetOrQueue(context.Background(), orchestrator.GetOrQueueRequest{
		AreaType: domain.AreaTypeRegion, AreaID: 7, StartYear: 2020,
	})

	require.NoError(t, err)
	assert.Equal(t, domain.StatusQueued, result.Status)
	assert.NotEmpty(t, result.TaskID)
	reg.AssertExpectations(t)
	b.AssertExpectations(t)
}

func TestGetOrQueue_QueuedRecord_IsIdempotent(t *testing.T) {
	reg := &mockRegistry{}
	b := &mockBroker{}
	areas := &mockAreas{}
	svc := testService(t, reg, b, areas)

	areas.On("Find", mock.Anything, domain.AreaTypeRegion, 7).Return(squarePolygon(), nil)
	reg.On("Find", mock.Anything, mock.Anything).Return(&domain.PrecomputedMap{
		AreaType: domain.AreaTypeRegion, AreaID: 7, StartYear: 2020,
		Status:   domain.StatusQueued,
		Metadata: domain.Metadata{TaskID: "existing-task"},
	}, nil)

	result, err := svc.GetOrQueue(context.Background(), orchestrator.GetOrQueueRequest{
		AreaType: domain.AreaTypeRegion, AreaID: 7, StartYear: 2020,
	})

	require.NoError(t, err)
	assert.Equal(t, "existing-task", result.TaskID)
	b.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything)
}

func TestGetOrQueue_FailedRecord_RetriesWithFreshTaskID(t *testing.T) {
	reg := &mockRegistry{}
	b := &mockBroker{}
	areas := &mockAreas{}
	svc := testService(t, reg, b, areas)

	areas.On("Find", mock.Anything, domain.AreaTypeRegion, 7).Return(squarePolygon(), nil)
	existing := &domain.PrecomputedMap{
		AreaType: domain.AreaTypeRegion, AreaID: 7, StartYear: 2020,
		Status:   domain.StatusFailed,
		Metadata: domain.Metadata{TaskID: "stale-task", ErrorType: "InternalServerError"},
	}
	reg.On("Find", mock.Anything, mock.Anything).Return(existing, nil)
	reg.On("Transition", mock.Anything, mock.Anything, domain.StatusQueued, mock.Anything).
		Return(&domain.PrecomputedMap{AreaType: domain.AreaTypeRegion, AreaID: 7, StartYear: 2020}, nil)
	b.On("Publish", mock.Anything, domain.StreamErosionCompute, mock.Anything).Return(nil)

	result, err := svc.GetOrQueue(context.Background(), orchestrator.GetOrQueueRequest{
		AreaType: domain.AreaTypeRegion, AreaID: 7, StartYear: 2020,
	})

	require.NoError(t, err)
	assert.Equal(t, domain.StatusQueued, result.Status)
	assert.NotEqual(t, "stale-task", result.TaskID)
	reg.AssertExpectations(t)
	b.AssertExpectations(t)
}

func TestGetOrQueue_CompletedRecord_ReturnsStatistics(t *testing.T) {
	reg := &mockRegistry{}
	b := &mockBroker{}
	areas := &mockAreas{}
	svc := testService(t, reg, b, areas)

	areas.On("Find", mock.Anything, domain.AreaTypeRegion, 7).Return(squarePolygon(), nil)
	reg.On("Find", mock.Anything, mock.Anything).Return(&domain.PrecomputedMap{
		AreaType: domain.AreaTypeRegion, AreaID: 7, StartYear: 2020,
		Status:         domain.StatusCompleted,
		TileStorageKey: "region_7",
		Statistics:     domain.StatisticsBundle{Mean: 12.5},
		Metadata:       domain.Metadata{TaskID: "done-task"},
	}, nil)

	result, err := svc.GetOrQueue(context.Background(), orchestrator.GetOrQueueRequest{
		AreaType: domain.AreaTypeRegion, AreaID: 7, StartYear: 2020,
	})

	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, result.Status)
	require.NotNil(t, result.Statistics)
	assert.Equal(t, 12.5, result.Statistics.Mean)
	assert.Contains(t, result.TilesURL, "{z}/{x}/{y}.png")
}

func TestGetOrQueue_NonAdminOverridesAreIgnored(t *testing.T) {
	reg := &mockRegistry{}
	b := &mockBroker{}
	areas := &mockAreas{}
	svc := testService(t, reg, b, areas)

	areas.On("Find", mock.Anything, domain.AreaTypeRegion, 7).Return(squarePolygon(), nil)
	var captured domain.Fingerprint
	reg.On("Find", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { captured = args.Get(1).(domain.Fingerprint) }).
		Return(nil, nil)
	reg.On("CreateOrReset", mock.Anything, mock.Anything, mock.Anything).
		Return(&domain.PrecomputedMap{AreaType: domain.AreaTypeRegion, AreaID: 7, StartYear: 2020}, nil)
	b.On("Publish", mock.Anything, domain.StreamErosionCompute, mock.Anything).Return(nil)

	_, err := svc.GetOrQueue(context.Background(), orchestrator.GetOrQueueRequest{
		AreaType: domain.AreaTypeRegion, AreaID: 7, StartYear: 2020,
		User:      &orchestrator.User{ID: 99, IsAdmin: false},
		Overrides: domain.ConfigOverrides{"r_factor": map[string]interface{}{"coefficient": 999.0}},
	})

	require.NoError(t, err)
	assert.Nil(t, captured.UserID)
	assert.Equal(t, domain.DefaultConfigHash, captured.ConfigHash)
}

func TestTaskStarted_TransitionsToProcessing(t *testing.T) {
	reg := &mockRegistry{}
	svc := testService(t, reg, &mockBroker{}, &mockAreas{})

	reg.On("Transition", mock.Anything, mock.Anything, domain.StatusProcessing, mock.Anything).
		Return(&domain.PrecomputedMap{ID: 42}, nil)

	result, err := svc.TaskStarted(context.Background(), domain.TaskStartedEvent{
		TaskID: "t1", AreaType: domain.AreaTypeRegion, AreaID: 7, StartYear: 2020,
	})

	require.NoError(t, err)
	assert.Equal(t, domain.StatusProcessing, result.Status)
	assert.Equal(t, int64(42), result.MapID)
}

func TestTaskComplete_AbsentRecord_StillAccepted(t *testing.T) {
	reg := &mockRegistry{}
	svc := testService(t, reg, &mockBroker{}, &mockAreas{})

	reg.On("Transition", mock.Anything, mock.Anything, domain.StatusCompleted, mock.Anything).
		Return(&domain.PrecomputedMap{ID: 7}, nil)

	result, err := svc.TaskComplete(context.Background(), domain.TaskCompleteEvent{
		TaskStartedEvent: domain.TaskStartedEvent{TaskID: "t1", AreaType: domain.AreaTypeRegion, AreaID: 7, StartYear: 2020},
		Statistics:       domain.StatisticsBundle{Mean: 9.9},
	})

	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, result.Status)
	assert.Equal(t, 9.9, result.Statistics.Mean)
}

func TestTaskStatus_UnknownTaskID_ReturnsNotFound(t *testing.T) {
	reg := &mockRegistry{}
	svc := testService(t, reg, &mockBroker{}, &mockAreas{})

	reg.On("FindByTaskID", mock.Anything, "ghost").Return(nil, nil)

	_, err := svc.TaskStatus(context.Background(), "ghost")
	assert.Error(t, err)
}

func TestTileServe_MissingFile_ReturnsMissingTileError(t *testing.T) {
	svc := testService(t, &mockRegistry{}, &mockBroker{}, &mockAreas{})

	_, err := svc.TileServe(context.Background(), orchestrator.TileServeRequest{
		AreaType: domain.AreaTypeRegion, AreaID: 7, PeriodLabel: "2020", Z: 6, X: 1, Y: 1,
	})
	assert.Error(t, err)
}

func TestRequeue_StuckProcessingRecord_RoutesThroughFailedFirst(t *testing.T) {
	reg := &mockRegistry{}
	b := &mockBroker{}
	svc := testService(t, reg, b, &mockAreas{})

	fp := domain.Fingerprint{AreaType: domain.AreaTypeRegion, AreaID: 7, StartYear: 2020, ConfigHash: domain.DefaultConfigHash}
	existing := &domain.PrecomputedMap{
		AreaType: domain.AreaTypeRegion, AreaID: 7, StartYear: 2020, EndYear: 2020,
		Status:         domain.StatusProcessing,
		TileStorageKey: "region_7",
		Metadata:       domain.Metadata{TaskID: "stuck-task", MaxZoom: 14},
	}
	reg.On("Find", mock.Anything, fp).Return(existing, nil)
	reg.On("Transition", mock.Anything, fp, domain.StatusFailed, mock.Anything).
		Return(existing, nil)
	reg.On("Transition", mock.Anything, fp, domain.StatusQueued, mock.Anything).
		Return(&domain.PrecomputedMap{AreaType: domain.AreaTypeRegion, AreaID: 7, StartYear: 2020, EndYear: 2020}, nil)
	b.On("Publish", mock.Anything, domain.StreamErosionCompute, mock.Anything).Return(nil)

	result, err := svc.Requeue(context.Background(), fp, "orphan sweep: stuck past threshold")

	require.NoError(t, err)
	assert.Equal(t, domain.StatusQueued, result.Status)
	assert.NotEqual(t, "stuck-task", result.TaskID)
	reg.AssertExpectations(t)
	b.AssertExpectations(t)
}

func TestRequeue_AbsentRecord_ReturnsError(t *testing.T) {
	reg := &mockRegistry{}
	svc := testService(t, reg, &mockBroker{}, &mockAreas{})

	fp := domain.Fingerprint{AreaType: domain.AreaTypeRegion, AreaID: 7, StartYear: 2020}
	reg.On("Find", mock.Anything, fp).Return(nil, nil)

	_, err := svc.Requeue(context.Background(), fp, "forced recompute")
	assert.Error(t, err)
}
