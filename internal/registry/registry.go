// Package registry implements the fingerprint & map registry (C6): the
// single source of truth for whether a given (area, year, user, config,
// geometry) fingerprint has been computed, is in flight, or failed.
package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/paulmach/orb/geojson"
	"go.uber.org/zap"

	"github.com/soilloss/rusle-pipeline/internal/domain"
	apperrors "github.com/soilloss/rusle-pipeline/internal/pkg/errors"
	"github.com/soilloss/rusle-pipeline/internal/repository/postgres"
)

// Registry is the C6 contract: find, create-or-reset, and guarded
// transition over the fingerprint tuple.
type Registry interface {
	Find(ctx context.Context, fp domain.Fingerprint) (*domain.PrecomputedMap, error)
	FindByTaskID(ctx context.Context, taskID string) (*domain.PrecomputedMap, error)
	CreateOrReset(ctx context.Context, fp domain.Fingerprint, payload CreatePayload) (*domain.PrecomputedMap, error)
	Transition(ctx context.Context, fp domain.Fingerprint, to domain.Status, fields TransitionFields) (*domain.PrecomputedMap, error)
	FindStuck(ctx context.Context, statuses []domain.Status, olderThan time.Time) ([]*domain.PrecomputedMap, error)
}

// CreatePayload is what a fresh/reset record needs beyond the fingerprint.
type CreatePayload struct {
	TaskID         string
	EndYear        int
	TileStorageKey string
	GeometryHash   domain.GeometryHash
	Metadata       domain.Metadata
	ConfigSnapshot domain.ConfigOverrides
}

// TransitionFields carries the subset of columns a transition may update;
// zero values leave the existing column untouched except where noted.
type TransitionFields struct {
	GeotiffPath  string
	TilesPath    string
	Statistics   *domain.StatisticsBundle
	Metadata     *domain.Metadata
	ErrorMessage *string
	ComputedAt   *time.Time
}

// allowedTransitions encodes the state machine from spec.md §4.6. Absent
// from-state keys (e.g. an absent record) are handled by the callers of
// Transition, not here.
var allowedTransitions = map[domain.Status]map[domain.Status]bool{
	domain.StatusQueued:     {domain.StatusProcessing: true, domain.StatusFailed: true},
	domain.StatusProcessing: {domain.StatusCompleted: true, domain.StatusFailed: true},
	domain.StatusCompleted:  {domain.StatusQueued: true},
	domain.StatusFailed:     {domain.StatusQueued: true},
}

type registry struct {
	db     *postgres.DB
	logger *zap.Logger
}

func New(db *postgres.DB, logger *zap.Logger) Registry {
	return &registry{db: db, logger: logger}
}

const selectColumns = `
	id, area_type, area_id, start_year, end_year, user_id,
	config_hash, geometry_hash, status, tile_storage_key,
	geotiff_path, tiles_path, statistics, metadata,
	config_snapshot, geometry_snapshot, error_message, computed_at,
	created_at, updated_at
`

func (r *registry) Find(ctx context.Context, fp domain.Fingerprint) (*domain.PrecomputedMap, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM precomputed_erosion_maps
		WHERE area_type = $1 AND area_id = $2 AND start_year = $3
		  AND user_id IS NOT DISTINCT FROM $4
		  AND config_hash = $5 AND geometry_hash = $6
		LIMIT 1
	`, selectColumns)

	var row dbRow
	err := r.db.QueryRowxContext(ctx, query,
		string(fp.AreaType), fp.AreaID, fp.StartYear, fp.UserID, fp.ConfigHash, string(fp.GeometryHash),
	).StructScan(&row)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find precomputed map: %w", err)
	}
	return row.toDomain()
}

// FindByTaskID looks a record up by the task_id carried in its metadata
// JSONB column, used by the orchestrator's task-status operation which
// only has the broker-assigned id to go on.
func (r *registry) FindByTaskID(ctx context.Context, taskID string) (*domain.PrecomputedMap, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM precomputed_erosion_maps
		WHERE metadata->>'task_id' = $1
		LIMIT 1
	`, selectColumns)

	var row dbRow
	err := r.db.QueryRowxContext(ctx, query, taskID).StructScan(&row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find by task id: %w", err)
	}
	return row.toDomain()
}

// CreateOrReset upserts the fingerprint's row: a fresh queued record if
// absent, or the existing row reset to queued with error_message cleared
// if present. This is the single statement that serialises concurrent
// get-or-queue races onto one task_id, per spec.md §4.6's tie-break rule.
func (r *registry) CreateOrReset(ctx context.Context, fp domain.Fingerprint, payload CreatePayload) (*domain.PrecomputedMap, error) {
	metadataJSON, err := json.Marshal(payload.Metadata)
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}
	configJSON, err := json.Marshal(payload.ConfigSnapshot)
	if err != nil {
		return nil, fmt.Errorf("marshal config snapshot: %w", err)
	}

	query := fmt.Sprintf(`
		INSERT INTO precomputed_erosion_maps (
			area_type, area_id, start_year, end_year, user_id,
			config_hash, geometry_hash, status, tile_storage_key,
			metadata, config_snapshot, geometry_snapshot,
			statistics, error_message, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, 'queued', $8,
			$9, $10, $11,
			'{}'::jsonb, NULL, now(), now()
		)
		ON CONFLICT (area_type, area_id, start_year, user_id, config_hash, geometry_hash)
		DO UPDATE SET
			status = 'queued',
			error_message = NULL,
			end_year = EXCLUDED.end_year,
			metadata = EXCLUDED.metadata,
			config_snapshot = EXCLUDED.config_snapshot,
			geometry_snapshot = EXCLUDED.geometry_snapshot,
			updated_at = now()
		RETURNING %s
	`, selectColumns)

	var row dbRow
	err = r.db.QueryRowxContext(ctx, query,
		string(fp.AreaType), fp.AreaID, fp.StartYear, payload.EndYear, fp.UserID,
		fp.ConfigHash, string(fp.GeometryHash), payload.TileStorageKey,
		metadataJSON, configJSON, []byte(nil),
	).StructScan(&row)
	if err != nil {
		return nil, fmt.Errorf("create or reset precomputed map: %w", err)
	}
	return row.toDomain()
}

// Transition applies a guarded state change. Absent records are handled
// per spec.md §4.6: a task-complete/task-failed callback for an absent
// fingerprint creates the record directly in the terminal state instead
// of failing; a task-started callback for an absent record is a no-op.
func (r *registry) Transition(ctx context.Context, fp domain.Fingerprint, to domain.Status, fields TransitionFields) (*domain.PrecomputedMap, error) {
	existing, err := r.Find(ctx, fp)
	if err != nil {
		return nil, err
	}

	switch classifyTransition(existing, to) {
	case transitionCreateTerminal:
		return r.createTerminal(ctx, fp, to, fields)
	case transitionAbsentNoOp:
		r.logger.Warn("transition on absent record is a no-op",
			zap.String("to_state", string(to)))
		return nil, nil
	case transitionDuplicate:
		// A redelivered callback (Redis Streams is at-least-once; a crash
		// between applying a transition and ACKing it, or a consumer-group
		// handoff, redelivers the same event) lands here with the record
		// already in the target state. Per spec.md this must leave the
		// record unchanged rather than error, so it's a no-op, not an
		// illegal transition - the fields carried by the duplicate event
		// are discarded rather than re-applied.
		r.logger.Info("duplicate callback: record already in target state",
			zap.String("state", string(to)))
		return existing, nil
	case transitionIllegal:
		return nil, apperrors.ErrInvalidInput.WithMessage(
			fmt.Sprintf("illegal transition %s -> %s", existing.Status, to))
	default:
		return r.applyTransition(ctx, fp, to, fields)
	}
}

// transitionOutcome classifies what Transition should do for a given
// (existing record, target state) pair, kept as pure data/logic so it is
// testable without a live Postgres connection.
type transitionOutcome int

const (
	transitionApply transitionOutcome = iota
	transitionCreateTerminal
	transitionAbsentNoOp
	transitionDuplicate
	transitionIllegal
)

func classifyTransition(existing *domain.PrecomputedMap, to domain.Status) transitionOutcome {
	if existing == nil {
		if to == domain.StatusCompleted || to == domain.StatusFailed {
			return transitionCreateTerminal
		}
		return transitionAbsentNoOp
	}
	if existing.Status == to {
		return transitionDuplicate
	}
	if !allowedTransitions[existing.Status][to] {
		return transitionIllegal
	}
	return transitionApply
}

func (r *registry) applyTransition(ctx context.Context, fp domain.Fingerprint, to domain.Status, fields TransitionFields) (*domain.PrecomputedMap, error) {
	var statsJSON, metaJSON []byte
	var err error
	if fields.Statistics != nil {
		statsJSON, err = json.Marshal(fields.Statistics)
		if err != nil {
			return nil, fmt.Errorf("marshal statistics: %w", err)
		}
	}
	if fields.Metadata != nil {
		metaJSON, err = json.Marshal(fields.Metadata)
		if err != nil {
			return nil, fmt.Errorf("marshal metadata: %w", err)
		}
	}

	query := fmt.Sprintf(`
		UPDATE precomputed_erosion_maps SET
			status = $7,
			geotiff_path = COALESCE(NULLIF($8, ''), geotiff_path),
			tiles_path = COALESCE(NULLIF($9, ''), tiles_path),
			statistics = COALESCE(NULLIF($10, '')::jsonb, statistics),
			metadata = COALESCE(NULLIF($11, '')::jsonb, metadata),
			error_message = $12,
			computed_at = COALESCE($13, computed_at),
			updated_at = now()
		WHERE area_type = $1 AND area_id = $2 AND start_year = $3
		  AND user_id IS NOT DISTINCT FROM $4
		  AND config_hash = $5 AND geometry_hash = $6
		RETURNING %s
	`, selectColumns)

	var row dbRow
	err = r.db.QueryRowxContext(ctx, query,
		string(fp.AreaType), fp.AreaID, fp.StartYear, fp.UserID, fp.ConfigHash, string(fp.GeometryHash),
		string(to), fields.GeotiffPath, fields.TilesPath, string(statsJSON), string(metaJSON),
		fields.ErrorMessage, fields.ComputedAt,
	).StructScan(&row)
	if err != nil {
		return nil, fmt.Errorf("apply transition: %w", err)
	}
	return row.toDomain()
}

func (r *registry) createTerminal(ctx context.Context, fp domain.Fingerprint, to domain.Status, fields TransitionFields) (*domain.PrecomputedMap, error) {
	var metadata domain.Metadata
	if fields.Metadata != nil {
		metadata = *fields.Metadata
	}
	var statistics domain.StatisticsBundle
	if fields.Statistics != nil {
		statistics = *fields.Statistics
	}

	metaJSON, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}
	statsJSON, err := json.Marshal(statistics)
	if err != nil {
		return nil, fmt.Errorf("marshal statistics: %w", err)
	}

	query := fmt.Sprintf(`
		INSERT INTO precomputed_erosion_maps (
			area_type, area_id, start_year, end_year, user_id,
			config_hash, geometry_hash, status, tile_storage_key,
			geotiff_path, tiles_path, statistics, metadata,
			config_snapshot, geometry_snapshot, error_message, computed_at,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9,
			$10, $11, $12, $13,
			'{}'::jsonb, NULL, $14, $15,
			now(), now()
		)
		ON CONFLICT (area_type, area_id, start_year, user_id, config_hash, geometry_hash)
		DO UPDATE SET status = EXCLUDED.status, updated_at = now()
		RETURNING %s
	`, selectColumns)

	var row dbRow
	err = r.db.QueryRowxContext(ctx, query,
		string(fp.AreaType), fp.AreaID, fp.StartYear, metadata.Period.EndYear, fp.UserID,
		fp.ConfigHash, string(fp.GeometryHash), string(to), fields.TilesPath,
		fields.GeotiffPath, fields.TilesPath, string(statsJSON), string(metaJSON),
		fields.ErrorMessage, fields.ComputedAt,
	).StructScan(&row)
	if err != nil {
		return nil, fmt.Errorf("create terminal record: %w", err)
	}

	r.logger.Warn("late callback created record directly in terminal state",
		zap.String("area_type", string(fp.AreaType)), zap.Int("area_id", fp.AreaID),
		zap.String("to_state", string(to)))
	return row.toDomain()
}

// FindStuck returns records in any of statuses whose updated_at is older
// than olderThan, used by the scheduler's orphan sweep (C8).
func (r *registry) FindStuck(ctx context.Context, statuses []domain.Status, olderThan time.Time) ([]*domain.PrecomputedMap, error) {
	names := make([]string, len(statuses))
	for i, s := range statuses {
		names[i] = string(s)
	}

	query := fmt.Sprintf(`
		SELECT %s FROM precomputed_erosion_maps
		WHERE status = ANY($1) AND updated_at < $2
	`, selectColumns)

	rows, err := r.db.QueryxContext(ctx, query, pq.Array(names), olderThan)
	if err != nil {
		return nil, fmt.Errorf("find stuck records: %w", err)
	}
	defer rows.Close()

	var out []*domain.PrecomputedMap
	for rows.Next() {
		var row dbRow
		if err := rows.StructScan(&row); err != nil {
			return nil, fmt.Errorf("scan stuck record: %w", err)
		}
		m, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// dbRow mirrors the table's column shape for sqlx.StructScan; JSON/JSONB
// columns land as raw bytes and are decoded in toDomain.
type dbRow struct {
	ID               int64          `db:"id"`
	AreaType         string         `db:"area_type"`
	AreaID           int            `db:"area_id"`
	StartYear        int            `db:"start_year"`
	EndYear          int            `db:"end_year"`
	UserID           *int64         `db:"user_id"`
	ConfigHash       string         `db:"config_hash"`
	GeometryHash     string         `db:"geometry_hash"`
	Status           string         `db:"status"`
	TileStorageKey   string         `db:"tile_storage_key"`
	GeotiffPath      sql.NullString `db:"geotiff_path"`
	TilesPath        sql.NullString `db:"tiles_path"`
	Statistics       []byte         `db:"statistics"`
	Metadata         []byte         `db:"metadata"`
	ConfigSnapshot   []byte         `db:"config_snapshot"`
	GeometrySnapshot []byte         `db:"geometry_snapshot"`
	ErrorMessage     sql.NullString `db:"error_message"`
	ComputedAt       sql.NullTime   `db:"computed_at"`
	CreatedAt        time.Time      `db:"created_at"`
	UpdatedAt        time.Time      `db:"updated_at"`
}

func (row *dbRow) toDomain() (*domain.PrecomputedMap, error) {
	m := &domain.PrecomputedMap{
		ID:             row.ID,
		AreaType:       domain.AreaType(row.AreaType),
		AreaID:         row.AreaID,
		StartYear:      row.StartYear,
		EndYear:        row.EndYear,
		UserID:         row.UserID,
		ConfigHash:     row.ConfigHash,
		GeometryHash:   domain.GeometryHash(row.GeometryHash),
		Status:         domain.Status(row.Status),
		TileStorageKey: row.TileStorageKey,
		CreatedAt:      row.CreatedAt,
		UpdatedAt:      row.UpdatedAt,
	}
	if row.GeotiffPath.Valid {
		m.GeotiffPath = row.GeotiffPath.String
	}
	if row.TilesPath.Valid {
		m.TilesPath = row.TilesPath.String
	}
	if row.ErrorMessage.Valid {
		msg := row.ErrorMessage.String
		m.ErrorMessage = &msg
	}
	if row.ComputedAt.Valid {
		t := row.ComputedAt.Time
		m.ComputedAt = &t
	}

	if len(row.Statistics) > 0 {
		if err := json.Unmarshal(row.Statistics, &m.Statistics); err != nil {
			return nil, fmt.Errorf("decode statistics: %w", err)
		}
	}
	if len(row.Metadata) > 0 {
		if err := json.Unmarshal(row.Metadata, &m.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
	}
	if len(row.ConfigSnapshot) > 0 {
		if err := json.Unmarshal(row.ConfigSnapshot, &m.ConfigSnapshot); err != nil {
			return nil, fmt.Errorf("decode config snapshot: %w", err)
		}
	}
	if len(row.GeometrySnapshot) > 0 {
		geom, err := geojson.UnmarshalGeometry(row.GeometrySnapshot)
		if err != nil {
			return nil, fmt.Errorf("decode geometry snapshot: %w", err)
		}
		m.GeometrySnapshot = geom.Geometry()
	}

	return m, nil
}

