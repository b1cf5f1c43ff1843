package domain

import "time"

// Stream names for the two Redis Streams the broker uses: jobs flowing to
// workers, and callbacks flowing back to the orchestrator.
const (
	StreamErosionCompute = "stream:erosion:compute"
	StreamErosionCallback = "stream:erosion:callback"
)

// StreamMessage is a single delivered message: ID is the broker-assigned
// entry id (needed for XACK), Data is the decoded field map (the producer
// side always writes a single "data" field holding a JSON payload, mirroring
// the teacher's XAdd/XReadGroup convention).
type StreamMessage struct {
	ID     string
	Stream string
	Data   map[string]interface{}
}

// ComputeTask is the payload enqueued by the orchestrator and consumed by
// the compute worker.
type ComputeTask struct {
	TaskID          string          `json:"task_id"`
	AreaType        AreaType        `json:"area_type"`
	AreaID          int             `json:"area_id"`
	StartYear       int             `json:"start_year"`
	EndYear         int             `json:"end_year"`
	UserID          *int64          `json:"user_id,omitempty"`
	ConfigOverrides ConfigOverrides `json:"config_overrides,omitempty"`
	DefaultsVersion string          `json:"defaults_version"`
	GeometryHash    GeometryHash    `json:"geometry_hash"`
	TilePathKey     string          `json:"tile_path_key"`
	MaxZoom         int             `json:"max_zoom"`

	// GeometryGeoJSON carries the custom polygon verbatim (area_type=custom);
	// empty for region/district, which resolve their polygon out-of-band.
	GeometryGeoJSON []byte `json:"geometry_geojson,omitempty"`
}

// TaskStartedEvent is published by a worker the instant it acquires a task,
// before any computation happens.
type TaskStartedEvent struct {
	TaskID          string          `json:"task_id"`
	AreaType        AreaType        `json:"area_type"`
	AreaID          int             `json:"area_id"`
	StartYear       int             `json:"start_year"`
	EndYear         int             `json:"end_year"`
	UserID          *int64          `json:"user_id,omitempty"`
	ConfigOverrides ConfigOverrides `json:"config_overrides,omitempty"`
	DefaultsVersion string          `json:"defaults_version"`
	GeometryHash    GeometryHash    `json:"geometry_hash"`
	TilePathKey     string          `json:"tile_path_key"`
	MaxZoom         int             `json:"max_zoom"`
}

// TaskCompleteEvent is published by a worker on success.
type TaskCompleteEvent struct {
	TaskStartedEvent
	GeotiffPath string          `json:"geotiff_path"`
	TilesPath   string          `json:"tiles_path"`
	Statistics  StatisticsBundle `json:"statistics"`
	Components  *ComponentStats `json:"components,omitempty"`
	Metadata    Metadata        `json:"metadata"`
	ComputedAt  time.Time       `json:"computed_at"`
}

// TaskFailedEvent is published by a worker when the task boundary recovers
// an error or panic.
type TaskFailedEvent struct {
	TaskStartedEvent
	Error     string `json:"error"`
	ErrorType string `json:"error_type"`
}
