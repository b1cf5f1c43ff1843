package scheduler_test

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
	"github.com/soilloss/rusle-pipeline/internal/scheduler"
	"github.com/soilloss/rusle-pipeline/internal/tiles"
)

type mockRegistry struct{ mock.Mock }

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

type mockBroker struct{ mock.Mock }

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

type mockAreas struct{ mock.Mock }

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

func testService(t *testing.T, reg registry.Registry, b *mockBroker, areas *mockAreas) *orchestrator.Service {
	t.Helper()
	resolver := rusleconfig.NewResolver(config.RusleConfig{DefaultsVersion: "v1"}, nil)
	analyser := geometry.NewAnalyser(geometry.DefaultThresholds())
	generator := tiles.NewGenerator(t.TempDir())
	return orchestrator.NewService(reg, b, analyser, areas, resolver, generator, zap.NewNop(), "/tiles", 14)
}

func TestRefresher_SkipsCompletedWithoutForce(t *testing.T) {
	reg := &mockRegistry{}
	b := &mockBroker{}
	areas := &mockAreas{}
	svc := testService(t, reg, b, areas)
	r := scheduler.NewRefresher(svc, reg, areas, zap.NewNop())

	areas.On("ListAreaIDs", mock.Anything, domain.AreaTypeRegion).Return([]int{1}, nil)
	areas.On("ListAreaIDs", mock.Anything, domain.AreaTypeDistrict).Return([]int{}, nil)
	reg.On("Find", mock.Anything, mock.Anything).Return(&domain.PrecomputedMap{
		AreaType: domain.AreaTypeRegion, AreaID: 1, StartYear: 2026, Status: domain.StatusCompleted,
	}, nil)

	report, err := r.Run(context.Background(), "all", 2026, false)

	require.NoError(t, err)
	assert.Equal(t, 1, report.Skipped)
	assert.Equal(t, 0, report.Queued)
	b.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything)
}

func TestRefresher_ForceRequeuesCompleted(t *testing.T) {
	reg := &mockRegistry{}
	b := &mockBroker{}
	areas := &mockAreas{}
	svc := testService(t, reg, b, areas)
	r := scheduler.NewRefresher(svc, reg, areas, zap.NewNop())

	areas.On("ListAreaIDs", mock.Anything, domain.AreaTypeRegion).Return([]int{1}, nil)
	areas.On("ListAreaIDs", mock.Anything, domain.AreaTypeDistrict).Return([]int{}, nil)
	existing := &domain.PrecomputedMap{
		AreaType: domain.AreaTypeRegion, AreaID: 1, StartYear: 2026, Status: domain.StatusCompleted,
		TileStorageKey: "region_1", Metadata: domain.Metadata{TaskID: "old-task", MaxZoom: 14},
	}
	reg.On("Find", mock.Anything, mock.Anything).Return(existing, nil)
	reg.On("Transition", mock.Anything, mock.Anything, domain.StatusQueued, mock.Anything).
		Return(&domain.PrecomputedMap{AreaType: domain.AreaTypeRegion, AreaID: 1, StartYear: 2026}, nil)
	b.On("Publish", mock.Anything, domain.StreamErosionCompute, mock.Anything).Return(nil)

	report, err := r.Run(context.Background(), "all", 2026, true)

	require.NoError(t, err)
	assert.Equal(t, 1, report.Queued)
	assert.Equal(t, 0, report.Skipped)
	reg.AssertExpectations(t)
	b.AssertExpectations(t)
}

func TestRefresher_AbsentRecordEnqueuesNormally(t *testing.T) {
	reg := &mockRegistry{}
	b := &mockBroker{}
	areas := &mockAreas{}
	svc := testService(t, reg, b, areas)
	r := scheduler.NewRefresher(svc, reg, areas, zap.NewNop())

	areas.On("ListAreaIDs", mock.Anything, domain.AreaTypeRegion).Return([]int{1}, nil)
	areas.On("ListAreaIDs", mock.Anything, domain.AreaTypeDistrict).Return([]int{1}, nil)
	areas.On("Find", mock.Anything, mock.Anything, 1).Return(squarePolygon(), nil)
	reg.On("Find", mock.Anything, mock.Anything).Return(nil, nil)
	reg.On("CreateOrReset", mock.Anything, mock.Anything, mock.Anything).
		Return(&domain.PrecomputedMap{AreaType: domain.AreaTypeRegion, AreaID: 1, StartYear: 2026}, nil)
	b.On("Publish", mock.Anything, domain.StreamErosionCompute, mock.Anything).Return(nil)

	report, err := r.Run(context.Background(), "all", 2026, false)

	require.NoError(t, err)
	assert.Equal(t, 2, report.Queued)
}

func TestOrphanSweeper_RequeuesStuckRecords(t *testing.T) {
	reg := &mockRegistry{}
	b := &mockBroker{}
	areas := &mockAreas{}
	svc := testService(t, reg, b, areas)
	sweeper := scheduler.NewOrphanSweeper(svc, reg, b, "compute-workers", 10*time.Minute, zap.NewNop())

	stuck := &domain.PrecomputedMap{
		AreaType: domain.AreaTypeDistrict, AreaID: 3, StartYear: 2025, ConfigHash: domain.DefaultConfigHash,
		Status: domain.StatusProcessing, TileStorageKey: "district_3", Metadata: domain.Metadata{TaskID: "ghost-task", MaxZoom: 14},
	}
	b.On("PendingCount", mock.Anything, domain.StreamErosionCompute, "compute-workers").Return(int64(0), nil)
	reg.On("FindStuck", mock.Anything, mock.Anything, mock.Anything).Return([]*domain.PrecomputedMap{stuck}, nil)
	reg.On("Find", mock.Anything, mock.Anything).Return(stuck, nil)
	reg.On("Transition", mock.Anything, mock.Anything, domain.StatusFailed, mock.Anything).Return(stuck, nil)
	reg.On("Transition", mock.Anything, mock.Anything, domain.StatusQueued, mock.Anything).
		Return(&domain.PrecomputedMap{AreaType: domain.AreaTypeDistrict, AreaID: 3, StartYear: 2025}, nil)
	b.On("Publish", mock.Anything, domain.StreamErosionCompute, mock.Anything).Return(nil)

	report, err := sweeper.Run(context.Background(), time.Now())

	require.NoError(t, err)
	assert.Equal(t, 1, report.Requeued)
	assert.Equal(t, 0, report.Errored)
}

func squarePolygon() orb.Geometry {
	return orb.Polygon{orb.Ring{{68.0, 38.0}, {68.1, 38.0}, {68.1, 38.1}, {68.0, 38.1}, {68.0, 38.0}}}
}
