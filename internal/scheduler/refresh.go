// Package scheduler implements the periodic refresh driver and orphan
// recovery tool (C8): two standalone entry points invoked from an external
// cron-like scheduler via cmd/scheduler. Neither driver computes anything
// itself - both are thin loops over C7's orchestrator.Service.
package scheduler

import (
	"context"

	"go.uber.org/zap"

	"github.com/soilloss/rusle-pipeline/internal/adminarea"
	"github.com/soilloss/rusle-pipeline/internal/domain"
	"github.com/soilloss/rusle-pipeline/internal/orchestrator"
	apperrors "github.com/soilloss/rusle-pipeline/internal/pkg/errors"
	"github.com/soilloss/rusle-pipeline/internal/registry"
)

// RefreshReport summarises one refresh run: spec.md §4.8 requires both
// drivers to "report counts of queued/skipped/errored records."
type RefreshReport struct {
	Queued  int
	Skipped int
	Errored int
}

// Refresher drives the latest-year refresh across all regions/districts.
type Refresher struct {
	svc    *orchestrator.Service
	reg    registry.Registry
	areas  adminarea.Repository
	logger *zap.Logger
}

func NewRefresher(svc *orchestrator.Service, reg registry.Registry, areas adminarea.Repository, logger *zap.Logger) *Refresher {
	return &Refresher{svc: svc, reg: reg, areas: areas, logger: logger}
}

// Run refreshes every area_id of the requested admin level for year. When
// areaTypeFilter is "all" (or empty) both regions and districts are swept.
// force unconditionally re-queues existing completed records; without it,
// a completed record for the year is left untouched.
func (r *Refresher) Run(ctx context.Context, areaTypeFilter string, year int, force bool) (RefreshReport, error) {
	var report RefreshReport

	levels := []domain.AreaType{domain.AreaTypeRegion, domain.AreaTypeDistrict}
	switch areaTypeFilter {
	case string(domain.AreaTypeRegion):
		levels = []domain.AreaType{domain.AreaTypeRegion}
	case string(domain.AreaTypeDistrict):
		levels = []domain.AreaType{domain.AreaTypeDistrict}
	case "", "all":
	default:
		return report, apperrors.ErrInvalidInput.WithMessage("area type filter must be region, district, or all")
	}

	for _, areaType := range levels {
		ids, err := r.areas.ListAreaIDs(ctx, areaType)
		if err != nil {
			return report, err
		}
		for _, areaID := range ids {
			r.refreshOne(ctx, areaType, areaID, year, force, &report)
		}
	}
	return report, nil
}

func (r *Refresher) refreshOne(ctx context.Context, areaType domain.AreaType, areaID, year int, force bool, report *RefreshReport) {
	fp := domain.Fingerprint{AreaType: areaType, AreaID: areaID, StartYear: year, ConfigHash: domain.DefaultConfigHash}

	existing, err := r.reg.Find(ctx, fp)
	if err != nil {
		report.Errored++
		r.logger.Warn("refresh lookup failed", zap.String("area_type", string(areaType)), zap.Int("area_id", areaID), zap.Error(err))
		return
	}

	if existing != nil && existing.Status == domain.StatusCompleted {
		if !force {
			report.Skipped++
			return
		}
		if _, err := r.svc.Requeue(ctx, fp, "scheduled forced refresh"); err != nil {
			report.Errored++
			r.logger.Warn("forced refresh failed", zap.String("area_type", string(areaType)), zap.Int("area_id", areaID), zap.Error(err))
			return
		}
		report.Queued++
		return
	}

	if _, err := r.svc.GetOrQueue(ctx, orchestrator.GetOrQueueRequest{
		AreaType: areaType, AreaID: areaID, StartYear: year, EndYear: year,
	}); err != nil {
		report.Errored++
		r.logger.Warn("refresh enqueue failed", zap.String("area_type", string(areaType)), zap.Int("area_id", areaID), zap.Error(err))
		return
	}
	report.Queued++
}
