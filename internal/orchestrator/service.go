// Package orchestrator implements the service API (C7): the synchronous
// request-thread layer that looks up or enqueues a precomputed map, accepts
// worker lifecycle callbacks, and serves finished tiles. It never performs
// GEE work itself - everything here is a database upsert, a broker publish,
// or a filesystem read.
package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/paulmach/orb/geojson"
	"go.uber.org/zap"

	"github.com/soilloss/rusle-pipeline/internal/adminarea"
	"github.com/soilloss/rusle-pipeline/internal/broker"
	"github.com/soilloss/rusle-pipeline/internal/domain"
	"github.com/soilloss/rusle-pipeline/internal/geometry"
	apperrors "github.com/soilloss/rusle-pipeline/internal/pkg/errors"
	"github.com/soilloss/rusle-pipeline/internal/registry"
	"github.com/soilloss/rusle-pipeline/internal/rusleconfig"
	"github.com/soilloss/rusle-pipeline/internal/tiles"
)

// Service is a pure function table over its injected collaborators - no
// framework type appears in any method signature, so the HTTP layer is a
// thin JSON<->Go translator, never a place business rules live.
type Service struct {
	registry  registry.Registry
	broker    broker.Broker
	analyser  *geometry.Analyser
	areas     adminarea.Repository
	resolver  *rusleconfig.Resolver
	generator *tiles.Generator
	logger    *zap.Logger

	tileURLPrefix  string
	defaultMaxZoom int
}

func NewService(
	reg registry.Registry,
	b broker.Broker,
	analyser *geometry.Analyser,
	areas adminarea.Repository,
	resolver *rusleconfig.Resolver,
	generator *tiles.Generator,
	logger *zap.Logger,
	tileURLPrefix string,
	defaultMaxZoom int,
) *Service {
	if tileURLPrefix == "" {
		tileURLPrefix = "/api/erosion/tiles"
	}
	if defaultMaxZoom == 0 {
		defaultMaxZoom = 14
	}
	return &Service{
		registry:       reg,
		broker:         b,
		analyser:       analyser,
		areas:          areas,
		resolver:       resolver,
		generator:      generator,
		logger:         logger,
		tileURLPrefix:  tileURLPrefix,
		defaultMaxZoom: defaultMaxZoom,
	}
}

// effectiveConfig enforces spec.md §4.9's admin-only gating: only an
// authenticated admin's overrides are ever hashed into the fingerprint;
// every other caller collapses onto the default config hash and a nil
// user_id, regardless of what they passed in.
func (s *Service) effectiveConfig(user *User, overrides domain.ConfigOverrides) (userID *int64, configHash string, filtered domain.ConfigOverrides) {
	if user == nil || !user.IsAdmin {
		return nil, domain.DefaultConfigHash, domain.ConfigOverrides{}
	}
	filtered = s.resolver.Filter(overrides)
	hash := s.resolver.Hash(filtered, s.resolver.DefaultsVersion())
	if hash == domain.DefaultConfigHash {
		return nil, hash, filtered
	}
	id := user.ID
	return &id, hash, filtered
}

// GetOrQueue implements get-or-queue for a region/district area_id.
func (s *Service) GetOrQueue(ctx context.Context, req GetOrQueueRequest) (*Result, error) {
	if req.AreaType != domain.AreaTypeRegion && req.AreaType != domain.AreaTypeDistrict {
		return nil, apperrors.ErrInvalidInput.WithMessage("get-or-queue only accepts region/district area types")
	}

	// Validate the area_id exists before touching the registry; the compute
	// worker re-resolves the polygon itself when the task actually runs.
	if _, err := s.areas.Find(ctx, req.AreaType, req.AreaID); err != nil {
		return nil, err
	}

	tileStorageKey := domain.TileStorageKeyFor(req.AreaType, req.AreaID, "")
	return s.getOrQueue(ctx, req.AreaType, req.AreaID, "", nil, tileStorageKey, req.StartYear, req.EndYear, req.User, req.Overrides, req.MaxZoom)
}

// GetOrQueueCustom implements get-or-queue-custom for an ad-hoc polygon.
func (s *Service) GetOrQueueCustom(ctx context.Context, req GetOrQueueCustomRequest) (*Result, error) {
	decoded, err := s.analyser.Analyse(req.GeometryGeoJSON, 0, 0)
	if err != nil {
		return nil, err
	}

	geomHash := domain.HashGeometry(decoded.Geometry.Original)
	tileStorageKey := domain.TileStorageKeyFor(domain.AreaTypeCustom, 0, geomHash)

	return s.getOrQueue(ctx, domain.AreaTypeCustom, 0, geomHash, req.GeometryGeoJSON, tileStorageKey, req.StartYear, req.EndYear, req.User, req.Overrides, req.MaxZoom)
}

// getOrQueue is the shared lookup-or-enqueue core both public entry points
// reduce to once their area has been resolved to a concrete polygon.
func (s *Service) getOrQueue(
	ctx context.Context,
	areaType domain.AreaType, areaID int,
	geometryHash domain.GeometryHash, geometryGeoJSON []byte,
	tileStorageKey string,
	startYear, endYear int,
	user *User, overrides domain.ConfigOverrides,
	maxZoom int,
) (*Result, error) {
	if endYear == 0 {
		endYear = startYear
	}
	if maxZoom == 0 {
		maxZoom = s.defaultMaxZoom
	}

	userID, configHash, filteredOverrides := s.effectiveConfig(user, overrides)

	fp := domain.Fingerprint{
		AreaType: areaType, AreaID: areaID, StartYear: startYear,
		UserID: userID, ConfigHash: configHash, GeometryHash: geometryHash,
	}

	existing, err := s.registry.Find(ctx, fp)
	if err != nil {
		return nil, err
	}

	if existing != nil {
		switch existing.Status {
		case domain.StatusQueued, domain.StatusProcessing:
			return &Result{
				Status: existing.Status, TaskID: existing.Metadata.TaskID,
				PeriodLabel: existing.PeriodLabel(), GeometryHash: existing.GeometryHash,
				MaxZoom: existing.Metadata.MaxZoom,
			}, nil
		case domain.StatusCompleted:
			return s.toResult(existing), nil
		case domain.StatusFailed:
			return s.retry(ctx, fp, existing, areaType, areaID, geometryGeoJSON, tileStorageKey, startYear, endYear, userID, filteredOverrides, maxZoom)
		}
	}

	taskID := uuid.NewString()
	metadata := domain.Metadata{
		TaskID: taskID,
		Period: domain.PeriodMeta{StartYear: startYear, EndYear: endYear, Label: domain.YearRange{Start: startYear, End: endYear}.PeriodLabel()},
		Config: domain.ConfigMeta{Hash: configHash, Overrides: filteredOverrides, DefaultsVersion: s.resolver.DefaultsVersion()},
		UserID: userID, GeometryHash: geometryHash, TilePathKey: tileStorageKey, MaxZoom: maxZoom,
	}

	record, err := s.registry.CreateOrReset(ctx, fp, registry.CreatePayload{
		TaskID: taskID, EndYear: endYear, TileStorageKey: tileStorageKey,
		GeometryHash: geometryHash, Metadata: metadata, ConfigSnapshot: filteredOverrides,
	})
	if err != nil {
		return nil, err
	}

	if err := s.enqueue(ctx, taskID, areaType, areaID, startYear, endYear, userID, filteredOverrides, geometryHash, geometryGeoJSON, tileStorageKey, maxZoom); err != nil {
		return nil, err
	}

	return &Result{
		Status: domain.StatusQueued, TaskID: taskID,
		PeriodLabel: record.PeriodLabel(), GeometryHash: record.GeometryHash, MaxZoom: maxZoom,
	}, nil
}

// retry implements spec.md §4.6's failed->queued retry policy: a fresh
// task_id replaces the stale one, the record flips back to queued, and a
// brand-new task hits the compute stream.
func (s *Service) retry(
	ctx context.Context, fp domain.Fingerprint, existing *domain.PrecomputedMap,
	areaType domain.AreaType, areaID int, geometryGeoJSON []byte, tileStorageKey string,
	startYear, endYear int, userID *int64, overrides domain.ConfigOverrides, maxZoom int,
) (*Result, error) {
	taskID := uuid.NewString()
	metadata := existing.Metadata
	metadata.TaskID = taskID
	metadata.ErrorType = ""
	metadata.FailedAt = nil

	record, err := s.registry.Transition(ctx, fp, domain.StatusQueued, registry.TransitionFields{Metadata: &metadata})
	if err != nil {
		return nil, err
	}
	if record == nil {
		record = existing
	}

	if err := s.enqueue(ctx, taskID, areaType, areaID, startYear, endYear, userID, overrides, existing.GeometryHash, geometryGeoJSON, tileStorageKey, maxZoom); err != nil {
		return nil, err
	}

	return &Result{
		Status: domain.StatusQueued, TaskID: taskID,
		PeriodLabel: record.PeriodLabel(), GeometryHash: record.GeometryHash, MaxZoom: maxZoom,
	}, nil
}

// Requeue forces fp's existing record back to queued with a fresh task_id
// regardless of its current status. The state machine only allows a direct
// path to queued from completed or failed, so a stuck queued/processing
// record is routed through failed first. Used by the scheduler's two
// drivers (C8): forced recompute of a completed record, and the orphan
// sweep of a record stuck past the stuckness threshold.
func (s *Service) Requeue(ctx context.Context, fp domain.Fingerprint, reason string) (*Result, error) {
	existing, err := s.registry.Find(ctx, fp)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, apperrors.ErrRecordNotFound.WithMessage("no record for this fingerprint")
	}

	if existing.Status == domain.StatusQueued || existing.Status == domain.StatusProcessing {
		msg := reason
		if _, err := s.registry.Transition(ctx, fp, domain.StatusFailed, registry.TransitionFields{ErrorMessage: &msg}); err != nil {
			return nil, err
		}
	}

	taskID := uuid.NewString()
	metadata := existing.Metadata
	metadata.TaskID = taskID
	metadata.ErrorType = ""
	metadata.FailedAt = nil

	record, err := s.registry.Transition(ctx, fp, domain.StatusQueued, registry.TransitionFields{Metadata: &metadata})
	if err != nil {
		return nil, err
	}
	if record == nil {
		record = existing
	}

	var geometryGeoJSON []byte
	if fp.AreaType == domain.AreaTypeCustom && existing.GeometrySnapshot != nil {
		geometryGeoJSON, err = geojson.NewGeometry(existing.GeometrySnapshot).MarshalJSON()
		if err != nil {
			return nil, fmt.Errorf("marshal geometry snapshot: %w", err)
		}
	}

	if err := s.enqueue(ctx, taskID, fp.AreaType, fp.AreaID, existing.StartYear, existing.EndYear, fp.UserID,
		existing.ConfigSnapshot, fp.GeometryHash, geometryGeoJSON, existing.TileStorageKey, existing.Metadata.MaxZoom); err != nil {
		return nil, err
	}

	return &Result{
		Status: domain.StatusQueued, TaskID: taskID,
		PeriodLabel: record.PeriodLabel(), GeometryHash: record.GeometryHash, MaxZoom: existing.Metadata.MaxZoom,
	}, nil
}

func (s *Service) enqueue(
	ctx context.Context, taskID string, areaType domain.AreaType, areaID, startYear, endYear int,
	userID *int64, overrides domain.ConfigOverrides, geometryHash domain.GeometryHash,
	geometryGeoJSON []byte, tileStorageKey string, maxZoom int,
) error {
	task := domain.ComputeTask{
		TaskID: taskID, AreaType: areaType, AreaID: areaID,
		StartYear: startYear, EndYear: endYear, UserID: userID,
		ConfigOverrides: overrides, DefaultsVersion: s.resolver.DefaultsVersion(),
		GeometryHash: geometryHash, TilePathKey: tileStorageKey, MaxZoom: maxZoom,
		GeometryGeoJSON: geometryGeoJSON,
	}
	if err := s.broker.Publish(ctx, domain.StreamErosionCompute, task); err != nil {
		return apperrors.ErrBrokerUnavailable.WithMessage(err.Error())
	}
	s.logger.Info("enqueued compute task",
		zap.String("task_id", taskID), zap.String("area_type", string(areaType)), zap.Int("area_id", areaID))
	return nil
}

func (s *Service) toResult(m *domain.PrecomputedMap) *Result {
	stats := m.Statistics
	return &Result{
		Status: m.Status, TaskID: m.Metadata.TaskID,
		TilesURL:     s.tilesURL(m),
		Statistics:   &stats,
		Components:   m.Metadata.Components,
		PeriodLabel:  m.PeriodLabel(),
		GeometryHash: m.GeometryHash,
		MaxZoom:      m.Metadata.MaxZoom,
	}
}

// tilesURL follows spec.md §6.3's front-end scheme:
// {prefix}/{area_type}/{area_id}/{period_label}/{z}/{x}/{y}.png for a
// canonical admin polygon, substituting the truncated geometry hash for
// area_id on a custom/geometry-overridden record (area_id is meaningless
// there, mirroring TileStorageKeyFor's own fallback).
func (s *Service) tilesURL(m *domain.PrecomputedMap) string {
	areaKey := strconv.Itoa(m.AreaID)
	if m.AreaType == domain.AreaTypeCustom {
		areaKey = string(m.GeometryHash)
		if len(areaKey) > 24 {
			areaKey = areaKey[:24]
		}
	}
	return fmt.Sprintf("%s/%s/%s/%s/{z}/{x}/{y}.png", s.tileURLPrefix, m.AreaType, areaKey, m.PeriodLabel())
}

// fingerprintFromEvent reconstructs the fingerprint a started/complete/failed
// callback belongs to. Stream events never carry config_hash directly - the
// orchestrator recomputes it the same deterministic way it was hashed when
// the task was first enqueued.
func (s *Service) fingerprintFromEvent(e domain.TaskStartedEvent) domain.Fingerprint {
	configHash := s.resolver.Hash(e.ConfigOverrides, e.DefaultsVersion)
	return domain.Fingerprint{
		AreaType: e.AreaType, AreaID: e.AreaID, StartYear: e.StartYear,
		UserID: e.UserID, ConfigHash: configHash, GeometryHash: e.GeometryHash,
	}
}

// TaskStarted implements the task-started callback.
func (s *Service) TaskStarted(ctx context.Context, e TaskStartedInput) (*CallbackResult, error) {
	fp := s.fingerprintFromEvent(e)
	record, err := s.registry.Transition(ctx, fp, domain.StatusProcessing, registry.TransitionFields{})
	if err != nil {
		return nil, err
	}
	result := &CallbackResult{Status: domain.StatusProcessing}
	if record != nil {
		result.MapID = record.ID
	}
	return result, nil
}

// TaskComplete implements the task-complete callback.
func (s *Service) TaskComplete(ctx context.Context, e TaskCompleteInput) (*CallbackResult, error) {
	fp := s.fingerprintFromEvent(e.TaskStartedEvent)
	computedAt := e.ComputedAt
	record, err := s.registry.Transition(ctx, fp, domain.StatusCompleted, registry.TransitionFields{
		GeotiffPath: e.GeotiffPath, TilesPath: e.TilesPath,
		Statistics: &e.Statistics, Metadata: &e.Metadata, ComputedAt: &computedAt,
	})
	if err != nil {
		return nil, err
	}
	result := &CallbackResult{Status: domain.StatusCompleted, Statistics: &e.Statistics}
	if record != nil {
		result.MapID = record.ID
	}
	return result, nil
}

// TaskFailed implements the task-failed callback. The metadata column is a
// full replace on write, so the failure markers are grafted onto whatever
// metadata the record already carries rather than onto a blank struct.
func (s *Service) TaskFailed(ctx context.Context, e TaskFailedInput) (*CallbackResult, error) {
	fp := s.fingerprintFromEvent(e.TaskStartedEvent)

	existing, err := s.registry.Find(ctx, fp)
	if err != nil {
		return nil, err
	}

	metadata := domain.Metadata{TaskID: e.TaskID, GeometryHash: e.GeometryHash, TilePathKey: e.TilePathKey, MaxZoom: e.MaxZoom}
	if existing != nil {
		metadata = existing.Metadata
	}
	now := time.Now()
	metadata.ErrorType = e.ErrorType
	metadata.FailedAt = &now

	s.logger.Warn("task failed", zap.String("task_id", e.TaskID), zap.String("error_type", e.ErrorType), zap.String("error", e.Error))

	errMsg := e.Error
	record, err := s.registry.Transition(ctx, fp, domain.StatusFailed, registry.TransitionFields{
		ErrorMessage: &errMsg, Metadata: &metadata,
	})
	if err != nil {
		return nil, err
	}
	result := &CallbackResult{Status: domain.StatusFailed}
	if record != nil {
		result.MapID = record.ID
	}
	return result, nil
}

// TaskStatus implements task-status, the one lookup keyed by task_id rather
// than by the full fingerprint tuple.
func (s *Service) TaskStatus(ctx context.Context, taskID string) (*TaskStatusResult, error) {
	record, err := s.registry.FindByTaskID(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, apperrors.ErrRecordNotFound.WithMessage("no task with id " + taskID)
	}

	step := "queued"
	progress := 0
	switch record.Status {
	case domain.StatusProcessing:
		step, progress = "computing", 50
	case domain.StatusCompleted:
		step, progress = "done", 100
	case domain.StatusFailed:
		step, progress = "failed", 100
	}
	return &TaskStatusResult{Status: record.Status, Step: step, Progress: progress}, nil
}

// StatusProbe implements status-probe: a read-only registry record summary
// keyed by the canonical (default-config, no user override) fingerprint.
func (s *Service) StatusProbe(ctx context.Context, req StatusProbeRequest) (*Result, error) {
	startYear, _, err := parsePeriodLabel(req.PeriodLabel)
	if err != nil {
		return nil, apperrors.ErrInvalidInput.WithMessage(err.Error())
	}

	if req.AreaType == domain.AreaTypeCustom {
		return nil, apperrors.ErrInvalidInput.WithMessage("status-probe only applies to region/district area types")
	}

	fp := domain.Fingerprint{
		AreaType: req.AreaType, AreaID: req.AreaID, StartYear: startYear,
		UserID: nil, ConfigHash: domain.DefaultConfigHash, GeometryHash: "",
	}
	record, err := s.registry.Find(ctx, fp)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, apperrors.ErrRecordNotFound.WithMessage("no precomputed map for this area/period")
	}
	if record.Status != domain.StatusCompleted {
		return &Result{
			Status: record.Status, TaskID: record.Metadata.TaskID,
			PeriodLabel: record.PeriodLabel(), GeometryHash: record.GeometryHash,
			MaxZoom: record.Metadata.MaxZoom, ErrorMessage: derefString(record.ErrorMessage),
		}, nil
	}
	return s.toResult(record), nil
}

// TileServe implements tile-serve: a direct filesystem read of the PNG the
// tile pyramid generator already wrote, no cache layer in front of it.
func (s *Service) TileServe(ctx context.Context, req TileServeRequest) ([]byte, error) {
	if req.AreaType == domain.AreaTypeCustom {
		return nil, apperrors.ErrInvalidInput.WithMessage("tile-serve only applies to region/district area types")
	}
	tileStorageKey := domain.TileStorageKeyFor(req.AreaType, req.AreaID, "")
	root := s.generator.TilesPath(tileStorageKey, req.PeriodLabel)
	path := filepath.Join(root, strconv.Itoa(req.Z), strconv.Itoa(req.X), fmt.Sprintf("%d.png", req.Y))

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apperrors.ErrMissingTile.WithMessage(fmt.Sprintf("no tile at z=%d x=%d y=%d", req.Z, req.X, req.Y))
		}
		return nil, fmt.Errorf("read tile: %w", err)
	}
	return data, nil
}

func parsePeriodLabel(label string) (start, end int, err error) {
	parts := strings.SplitN(label, "-", 2)
	start, err = strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, fmt.Errorf("invalid period label %q", label)
	}
	if len(parts) == 1 {
		return start, start, nil
	}
	end, err = strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, fmt.Errorf("invalid period label %q", label)
	}
	return start, end, nil
}

func derefString(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
