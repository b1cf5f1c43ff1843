// Package adminarea resolves the canonical polygon for a region or
// district area_id against the PostGIS-backed admin boundary table. This
// is the piece spec.md's geometry_hash note calls "the canonical admin
// polygon of an area_id" - custom polygons never touch this package since
// their geometry travels with the request/task instead.
package adminarea

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"go.uber.org/zap"

	"github.com/soilloss/rusle-pipeline/internal/domain"
	apperrors "github.com/soilloss/rusle-pipeline/internal/pkg/errors"
	"github.com/soilloss/rusle-pipeline/internal/repository/postgres"
)

const boundaryTable = "tajikistan_admin_boundaries"

// Repository resolves region/district area_ids to their canonical polygon.
type Repository interface {
	Find(ctx context.Context, areaType domain.AreaType, areaID int) (orb.Geometry, error)

	// ListAreaIDs enumerates every area_id on record for a given area type,
	// used by the scheduler's refresh driver to iterate all regions or
	// districts without the caller needing to hardcode Tajikistan's admin
	// roster.
	ListAreaIDs(ctx context.Context, areaType domain.AreaType) ([]int, error)
}

type repository struct {
	db     *postgres.DB
	logger *zap.Logger
}

func NewRepository(db *postgres.DB, logger *zap.Logger) Repository {
	return &repository{db: db, logger: logger}
}

// Find looks up the boundary row keyed by (area_type, area_id) and decodes
// its geometry column, transformed to WGS84, from GeoJSON.
func (r *repository) Find(ctx context.Context, areaType domain.AreaType, areaID int) (orb.Geometry, error) {
	if areaType != domain.AreaTypeRegion && areaType != domain.AreaTypeDistrict {
		return nil, apperrors.ErrInvalidInput.WithMessage("adminarea lookup only applies to region/district area types")
	}

	query := fmt.Sprintf(`
		SELECT ST_AsGeoJSON(ST_Transform(geom, 4326))
		FROM %s
		WHERE area_type = $1 AND area_id = $2
		LIMIT 1
	`, boundaryTable)

	var raw string
	err := r.db.QueryRowxContext(ctx, query, string(areaType), areaID).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, apperrors.ErrRecordNotFound.WithMessage(fmt.Sprintf("no boundary for %s/%d", areaType, areaID))
	}
	if err != nil {
		r.logger.Error("failed to load admin boundary",
			zap.String("area_type", string(areaType)),
			zap.Int("area_id", areaID),
			zap.Error(err))
		return nil, fmt.Errorf("load admin boundary: %w", err)
	}

	geom, err := geojson.UnmarshalGeometry([]byte(raw))
	if err != nil {
		return nil, fmt.Errorf("decode boundary geometry: %w", err)
	}
	return geom.Geometry(), nil
}

// ListAreaIDs returns every distinct area_id recorded for areaType, ordered
// ascending so the scheduler's refresh sweep runs in a stable order.
func (r *repository) ListAreaIDs(ctx context.Context, areaType domain.AreaType) ([]int, error) {
	if areaType != domain.AreaTypeRegion && areaType != domain.AreaTypeDistrict {
		return nil, apperrors.ErrInvalidInput.WithMessage("adminarea lookup only applies to region/district area types")
	}

	query := fmt.Sprintf(`
		SELECT DISTINCT area_id
		FROM %s
		WHERE area_type = $1
		ORDER BY area_id ASC
	`, boundaryTable)

	var ids []int
	if err := r.db.SelectContext(ctx, &ids, query, string(areaType)); err != nil {
		r.logger.Error("failed to list admin area ids", zap.String("area_type", string(areaType)), zap.Error(err))
		return nil, fmt.Errorf("list admin area ids: %w", err)
	}
	return ids, nil
}
