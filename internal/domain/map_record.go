package domain

import (
	"strconv"
	"time"

	"github.com/paulmach/orb"
)

// Fingerprint is the tuple that uniquely identifies a precomputed map: a
// second call with an identical fingerprint MUST observe the same record.
type Fingerprint struct {
	AreaType    AreaType
	AreaID      int
	StartYear   int
	UserID      *int64
	ConfigHash  string
	GeometryHash GeometryHash
}

// DefaultConfigHash is the sentinel stored when no admin overrides apply.
const DefaultConfigHash = "default"

// ComponentStats is the optional per-factor breakdown retained in metadata
// for records that kept it; absent from older/trimmed records.
type ComponentStats struct {
	R  FactorStats `json:"r"`
	K  FactorStats `json:"k"`
	LS FactorStats `json:"ls"`
	C  FactorStats `json:"c"`
	P  FactorStats `json:"p"`
}

// Metadata is the free-form JSON column on PrecomputedMap. Concrete fields
// are pulled out because every one of them is read by the orchestrator.
type Metadata struct {
	TaskID       string          `json:"task_id"`
	Bbox         BoundingBox     `json:"bbox"`
	Period       PeriodMeta      `json:"period"`
	Config       ConfigMeta      `json:"config"`
	UserID       *int64          `json:"user_id,omitempty"`
	GeometryHash GeometryHash    `json:"geometry_hash"`
	TilePathKey  string          `json:"tile_path_key"`
	MaxZoom      int             `json:"max_zoom"`
	Components   *ComponentStats `json:"components,omitempty"`
	ErrorType    string          `json:"error_type,omitempty"`
	FailedAt     *time.Time      `json:"failed_at,omitempty"`

	// CompletedZoomLevels lists the zoom levels the tile generator wrote for
	// a completed task. A re-run renders every zoom level again.
	CompletedZoomLevels []int `json:"completed_zoom_levels,omitempty"`
}

// PeriodMeta records the requested year range and its stable label.
type PeriodMeta struct {
	StartYear int    `json:"start_year"`
	EndYear   int    `json:"end_year"`
	Label     string `json:"label"`
}

// ConfigMeta records how the effective configuration was derived.
type ConfigMeta struct {
	Hash            string          `json:"hash"`
	Overrides       ConfigOverrides `json:"overrides,omitempty"`
	DefaultsVersion string          `json:"defaults_version"`
}

// PrecomputedMap is the registry record: the single source of truth for
// whether a given fingerprint has been computed, is in flight, or failed.
type PrecomputedMap struct {
	ID int64

	AreaType  AreaType
	AreaID    int
	StartYear int
	EndYear   int
	UserID    *int64

	ConfigHash   string
	GeometryHash GeometryHash

	Status Status

	TileStorageKey string
	GeotiffPath    string
	TilesPath      string

	Statistics StatisticsBundle
	Metadata   Metadata

	ConfigSnapshot   ConfigOverrides
	GeometrySnapshot orb.Geometry

	ErrorMessage *string
	ComputedAt   *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// PeriodLabel is a convenience accessor mirroring YearRange.PeriodLabel.
func (m *PrecomputedMap) PeriodLabel() string {
	return YearRange{Start: m.StartYear, End: m.EndYear}.PeriodLabel()
}

// TileStorageKeyFor derives the filesystem-safe key from area_type and
// either the area_id (canonical admin polygon) or the truncated geometry
// hash (custom or geometry-overridden records).
func TileStorageKeyFor(areaType AreaType, areaID int, geomHash GeometryHash) string {
	if geomHash == "" {
		return string(areaType) + "_" + strconv.Itoa(areaID)
	}
	truncated := string(geomHash)
	if len(truncated) > 24 {
		truncated = truncated[:24]
	}
	return string(areaType) + "_" + truncated
}
