package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"go.uber.org/zap"

	"github.com/soilloss/rusle-pipeline/internal/adminarea"
	"github.com/soilloss/rusle-pipeline/internal/domain"
	"github.com/soilloss/rusle-pipeline/internal/export"
	"github.com/soilloss/rusle-pipeline/internal/geometry"
	apperrors "github.com/soilloss/rusle-pipeline/internal/pkg/errors"
	"github.com/soilloss/rusle-pipeline/internal/rusle"
	"github.com/soilloss/rusle-pipeline/internal/tiles"
	"github.com/soilloss/rusle-pipeline/internal/worker"
)

// ComputeWorker consumes stream:erosion:compute tasks and drives C1-C4 for
// each one, publishing task-started/task-complete/task-failed callbacks.
// Modelled on the teacher's LocationEnrichmentWorker: BaseWorker for the
// stop/lifecycle plumbing, a dedicated Start loop over the broker channel.
type ComputeWorker struct {
	*worker.BaseWorker

	broker    Broker
	analyser  *geometry.Analyser
	areas     adminarea.Repository
	engine    *rusle.Engine
	exporter  *export.Exporter
	generator *tiles.Generator
	svc       rusle.RasterService
}

func NewComputeWorker(
	name, consumerGroup string,
	logger *zap.Logger,
	b Broker,
	analyser *geometry.Analyser,
	areas adminarea.Repository,
	engine *rusle.Engine,
	exporter *export.Exporter,
	generator *tiles.Generator,
	svc rusle.RasterService,
) *ComputeWorker {
	return &ComputeWorker{
		BaseWorker: worker.NewBaseWorker(name, consumerGroup, logger),
		broker:     b,
		analyser:   analyser,
		areas:      areas,
		engine:     engine,
		exporter:   exporter,
		generator:  generator,
		svc:        svc,
	}
}

// Start implements worker.Worker: it creates the consumer group if absent,
// then loops over incoming tasks until StopChan fires.
func (w *ComputeWorker) Start(ctx context.Context) error {
	if err := w.broker.CreateConsumerGroup(ctx, domain.StreamErosionCompute, w.ConsumerGroup()); err != nil {
		return fmt.Errorf("create consumer group: %w", err)
	}

	msgs, err := w.broker.Consume(ctx, domain.StreamErosionCompute, w.ConsumerGroup(), w.Name())
	if err != nil {
		return fmt.Errorf("consume compute stream: %w", err)
	}

	for {
		select {
		case <-w.StopChan():
			return nil
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			w.handle(ctx, msg)
		}
	}
}

// handle processes one task with panic recovery: per spec.md §7, a single
// task's failure - however it manifests - must never take the worker pool
// down with it.
func (w *ComputeWorker) handle(ctx context.Context, msg domain.StreamMessage) {
	defer func() {
		if r := recover(); r != nil {
			w.Logger().Error("compute worker recovered from panic",
				zap.String("message_id", msg.ID), zap.Any("panic", r))
		}
	}()

	raw, err := json.Marshal(msg.Data)
	if err != nil {
		w.Logger().Error("remarshal stream message", zap.Error(err))
		return
	}
	var task domain.ComputeTask
	if err := json.Unmarshal(raw, &task); err != nil {
		w.Logger().Error("decode compute task", zap.String("message_id", msg.ID), zap.Error(err))
		return
	}

	started := domain.TaskStartedEvent{
		TaskID: task.TaskID, AreaType: task.AreaType, AreaID: task.AreaID,
		StartYear: task.StartYear, EndYear: task.EndYear, UserID: task.UserID,
		ConfigOverrides: task.ConfigOverrides, DefaultsVersion: task.DefaultsVersion,
		GeometryHash: task.GeometryHash, TilePathKey: task.TilePathKey, MaxZoom: task.MaxZoom,
	}
	if err := w.broker.Publish(ctx, domain.StreamErosionCallback, started); err != nil {
		w.Logger().Error("publish task-started", zap.String("task_id", task.TaskID), zap.Error(err))
	}

	result, err := w.compute(ctx, task)
	if err != nil {
		w.publishFailure(ctx, started, err)
	} else {
		w.publishSuccess(ctx, started, result)
	}

	if err := w.broker.Ack(ctx, domain.StreamErosionCompute, w.ConsumerGroup(), msg.ID); err != nil {
		w.Logger().Error("ack compute task", zap.String("message_id", msg.ID), zap.Error(err))
	}
}

type computeOutcome struct {
	geotiffPath string
	tilesPath   string
	statistics  domain.StatisticsBundle
	components  *domain.ComponentStats
	metadata    domain.Metadata
}

// compute runs C1 (resolve + classify geometry) -> C2 (RUSLE engine) ->
// C3 (geotiff export) -> C4 (tile pyramid), in that order, matching
// spec.md §4.5's task lifecycle exactly.
func (w *ComputeWorker) compute(ctx context.Context, task domain.ComputeTask) (*computeOutcome, error) {
	geom, err := w.resolveGeometry(ctx, task)
	if err != nil {
		return nil, err
	}

	analysis, err := w.analyser.AnalyseGeometry(geom, 0, 0)
	if err != nil {
		return nil, err
	}

	years := domain.YearRange{Start: task.StartYear, End: task.EndYear}
	params := rusle.ComplexityParams{
		RusleScaleM:  analysis.Params.RusleScaleM,
		SampleScaleM: analysis.Params.SampleScaleM,
		GridRows:     analysis.Params.GridRows,
		GridCols:     analysis.Params.GridCols,
		AreaKM2:      analysis.AreaKM2,
	}

	computed, err := w.engine.Compute(ctx, years, analysis.Geometry, task.ConfigOverrides, params)
	if err != nil {
		return nil, err
	}

	periodLabel := years.PeriodLabel()
	geotiffPath, err := w.exporter.Export(ctx, w.svc, export.Request{
		DatasetID:      rusle.DatasetComposite,
		Band:           "mean",
		YearRange:      years,
		Geometry:       analysis.Geometry,
		TileStorageKey: task.TilePathKey,
		PeriodLabel:    periodLabel,
		Params:         params,
	})
	if err != nil {
		return nil, err
	}

	completedZooms, err := w.generator.Generate(ctx, geotiffPath, analysis.Geometry, task.GeometryHash, task.TilePathKey, periodLabel, tiles.ZoomRange{Min: 6, Max: task.MaxZoom})
	if err != nil {
		return nil, err
	}

	raw := domain.RawStatistics{
		Mean: computed.Composite.Mean, Min: computed.Composite.Min,
		Max: computed.Composite.Max, StdDev: computed.Composite.StdDev,
		RusleFactors:         computed.Factors,
		Rainfall:             computed.Rainfall,
		SeverityDistribution: computed.Severity,
	}

	bound := analysis.Geometry.Original.Bound()
	metadata := domain.Metadata{
		TaskID: task.TaskID,
		Bbox: domain.BoundingBox{
			MinLon: bound.Min[0], MinLat: bound.Min[1],
			MaxLon: bound.Max[0], MaxLat: bound.Max[1],
		},
		Period:              domain.PeriodMeta{StartYear: task.StartYear, EndYear: task.EndYear, Label: periodLabel},
		Config:               domain.ConfigMeta{Overrides: task.ConfigOverrides, DefaultsVersion: task.DefaultsVersion},
		UserID:               task.UserID,
		GeometryHash:         task.GeometryHash,
		TilePathKey:          task.TilePathKey,
		MaxZoom:              task.MaxZoom,
		CompletedZoomLevels:  completedZooms,
	}

	return &computeOutcome{
		geotiffPath: geotiffPath,
		tilesPath:   w.generator.TilesPath(task.TilePathKey, periodLabel),
		statistics:  domain.Enrich(raw),
		components: &domain.ComponentStats{
			R: computed.Factors.R, K: computed.Factors.K, LS: computed.Factors.LS,
			C: computed.Factors.C, P: computed.Factors.P,
		},
		metadata: metadata,
	}, nil
}

// resolveGeometry returns the original (un-simplified) polygon for the
// task: custom tasks carry it verbatim as GeoJSON, region/district tasks
// resolve it from the admin boundary store by area_id.
func (w *ComputeWorker) resolveGeometry(ctx context.Context, task domain.ComputeTask) (orb.Geometry, error) {
	if task.AreaType == domain.AreaTypeCustom {
		decoded, err := geojson.UnmarshalGeometry(task.GeometryGeoJSON)
		if err != nil {
			return nil, apperrors.ErrInvalidGeometry.WithMessage("could not decode task geometry: " + err.Error())
		}
		return decoded.Geometry(), nil
	}
	return w.areas.Find(ctx, task.AreaType, task.AreaID)
}

func (w *ComputeWorker) publishSuccess(ctx context.Context, started domain.TaskStartedEvent, outcome *computeOutcome) {
	event := domain.TaskCompleteEvent{
		TaskStartedEvent: started,
		GeotiffPath:      outcome.geotiffPath,
		TilesPath:        outcome.tilesPath,
		Statistics:       outcome.statistics,
		Components:       outcome.components,
		Metadata:         outcome.metadata,
		ComputedAt:       time.Now(),
	}
	if err := w.broker.Publish(ctx, domain.StreamErosionCallback, event); err != nil {
		w.Logger().Error("publish task-complete", zap.String("task_id", started.TaskID), zap.Error(err))
	}
}

func (w *ComputeWorker) publishFailure(ctx context.Context, started domain.TaskStartedEvent, cause error) {
	errorType := "InternalServerError"
	if appErr, ok := cause.(*apperrors.AppError); ok {
		errorType = appErr.Code
	}
	event := domain.TaskFailedEvent{
		TaskStartedEvent: started,
		Error:            cause.Error(),
		ErrorType:        errorType,
	}
	if err := w.broker.Publish(ctx, domain.StreamErosionCallback, event); err != nil {
		w.Logger().Error("publish task-failed", zap.String("task_id", started.TaskID), zap.Error(err))
	}
}
