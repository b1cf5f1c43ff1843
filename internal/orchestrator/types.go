package orchestrator

import (
	"github.com/soilloss/rusle-pipeline/internal/domain"
)

// User identifies the caller for admin-only override gating. Persistence of
// who is and isn't an admin is out of scope (spec.md's exclusions); callers
// wire in whatever identity layer they have and pass the result here.
type User struct {
	ID      int64
	IsAdmin bool
}

// GetOrQueueRequest is the input for a region/district lookup-or-compute.
type GetOrQueueRequest struct {
	AreaType  domain.AreaType
	AreaID    int
	StartYear int
	EndYear   int
	User      *User
	Overrides domain.ConfigOverrides
	MaxZoom   int
}

// GetOrQueueCustomRequest is the input for an ad-hoc polygon.
type GetOrQueueCustomRequest struct {
	GeometryGeoJSON []byte
	StartYear       int
	EndYear         int
	User            *User
	Overrides       domain.ConfigOverrides
	MaxZoom         int
}

// Result is the shape shared by get-or-queue, get-or-queue-custom, and
// status-probe, per spec.md §4.7's result-shape rules.
type Result struct {
	Status       domain.Status          `json:"status"`
	TaskID       string                 `json:"task_id,omitempty"`
	TilesURL     string                 `json:"tiles_url,omitempty"`
	Statistics   *domain.StatisticsBundle `json:"statistics,omitempty"`
	Components   *domain.ComponentStats   `json:"components,omitempty"`
	PeriodLabel  string                 `json:"period_label"`
	GeometryHash domain.GeometryHash    `json:"geometry_hash"`
	MaxZoom      int                    `json:"max_zoom"`
	ErrorMessage string                 `json:"error_message,omitempty"`
}

// TaskStartedInput mirrors the broker's TaskStartedEvent; the orchestrator
// accepts it as the callback payload for the task-started operation.
type TaskStartedInput = domain.TaskStartedEvent

// TaskCompleteInput mirrors the broker's TaskCompleteEvent.
type TaskCompleteInput = domain.TaskCompleteEvent

// TaskFailedInput mirrors the broker's TaskFailedEvent.
type TaskFailedInput = domain.TaskFailedEvent

// CallbackResult is the {status, map_id} shape the broker callback
// operations return.
type CallbackResult struct {
	Status     domain.Status            `json:"status"`
	MapID      int64                    `json:"map_id"`
	Statistics *domain.StatisticsBundle `json:"statistics,omitempty"`
}

// TaskStatusResult answers task-status: the broker-facing lifecycle view
// keyed by task_id rather than by fingerprint.
type TaskStatusResult struct {
	Status   domain.Status `json:"status"`
	Step     string        `json:"step"`
	Progress int           `json:"progress"`
}

// StatusProbeRequest is the input for status-probe.
type StatusProbeRequest struct {
	AreaType    domain.AreaType
	AreaID      int
	PeriodLabel string
}

// TileServeRequest is the input for tile-serve.
type TileServeRequest struct {
	AreaType    domain.AreaType
	AreaID      int
	PeriodLabel string
	Z, X, Y     int
}
