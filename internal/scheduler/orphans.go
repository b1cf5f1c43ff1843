package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/soilloss/rusle-pipeline/internal/broker"
	"github.com/soilloss/rusle-pipeline/internal/domain"
	"github.com/soilloss/rusle-pipeline/internal/orchestrator"
	"github.com/soilloss/rusle-pipeline/internal/registry"
)

// OrphanReport summarises one sweep run.
type OrphanReport struct {
	Requeued int
	Errored  int
}

// pendingScaleFactor widens the stuckness grace window as the consumer
// group's pending-entries backlog grows, per spec.md §4.8's "adaptive
// detection based on broker depth": a record waiting behind a deep queue
// isn't necessarily orphaned, it just hasn't been reached yet. The broker
// abstraction only exposes an aggregate pending count (XPENDING summary
// form), not per-entry idle time, so this widens the age cutoff rather
// than checking whether a specific task_id is still present in the stream.
const pendingScaleFactor = 50

// maxStucknessMultiple caps how far the baseline threshold can be widened.
const maxStucknessMultiple = 2

// OrphanSweeper recovers registry records stuck in queued/processing past
// an adaptive stuckness threshold.
type OrphanSweeper struct {
	svc           *orchestrator.Service
	reg           registry.Registry
	broker        broker.Broker
	consumerGroup string
	baseThreshold time.Duration
	logger        *zap.Logger
}

func NewOrphanSweeper(
	svc *orchestrator.Service,
	reg registry.Registry,
	b broker.Broker,
	consumerGroup string,
	baseThreshold time.Duration,
	logger *zap.Logger,
) *OrphanSweeper {
	if baseThreshold <= 0 {
		baseThreshold = 10 * time.Minute
	}
	return &OrphanSweeper{svc: svc, reg: reg, broker: b, consumerGroup: consumerGroup, baseThreshold: baseThreshold, logger: logger}
}

// Run enumerates stuck queued/processing records as of now and re-queues
// each one via the orchestrator's forced requeue path.
func (o *OrphanSweeper) Run(ctx context.Context, now time.Time) (OrphanReport, error) {
	var report OrphanReport

	threshold, err := o.stucknessThreshold(ctx)
	if err != nil {
		o.logger.Warn("pending count unavailable, using base stuckness threshold", zap.Error(err))
		threshold = o.baseThreshold
	}

	stuck, err := o.reg.FindStuck(ctx, []domain.Status{domain.StatusQueued, domain.StatusProcessing}, now.Add(-threshold))
	if err != nil {
		return report, err
	}

	for _, record := range stuck {
		fp := domain.Fingerprint{
			AreaType: record.AreaType, AreaID: record.AreaID, StartYear: record.StartYear,
			UserID: record.UserID, ConfigHash: record.ConfigHash, GeometryHash: record.GeometryHash,
		}
		if _, err := o.svc.Requeue(ctx, fp, "orphan sweep: stuck past threshold"); err != nil {
			report.Errored++
			o.logger.Warn("orphan requeue failed", zap.Int64("record_id", record.ID), zap.Error(err))
			continue
		}
		report.Requeued++
	}
	return report, nil
}

// stucknessThreshold widens the base threshold by one unit of it for
// every pendingScaleFactor entries sitting unacked on the consumer group,
// capped at maxStucknessMultiple times the base.
func (o *OrphanSweeper) stucknessThreshold(ctx context.Context) (time.Duration, error) {
	pending, err := o.broker.PendingCount(ctx, domain.StreamErosionCompute, o.consumerGroup)
	if err != nil {
		return o.baseThreshold, err
	}

	widenBy := time.Duration(pending/pendingScaleFactor) * o.baseThreshold
	threshold := o.baseThreshold + widenBy
	if max := o.baseThreshold * maxStucknessMultiple; threshold > max {
		threshold = max
	}
	return threshold, nil
}
