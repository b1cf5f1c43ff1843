// Package rusle implements the RUSLE factor engine (C2): it drives the
// remote raster-compute service through the five fixed soil-loss factors,
// assembles the composite, and extracts statistics.
package rusle

import (
	"context"
	"fmt"
	"math"

	"github.com/alexscott64/go-earthengine"
	"github.com/alexscott64/go-earthengine/helpers"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/soilloss/rusle-pipeline/internal/config"
)

// ZonalResult is the reduced statistic set over a geometry for one band.
type ZonalResult struct {
	Mean   float64
	Min    float64
	Max    float64
	StdDev float64
}

// RasterService is the remote compute dependency the engine drives. It is
// deliberately narrow so factor functions and tests can fake it without a
// network round trip.
type RasterService interface {
	// ZonalStats reduces datasetID/band over [start,end] within geometry at
	// scaleM metres/pixel, returning mean/min/max/stddev.
	ZonalStats(ctx context.Context, datasetID, band, start, end string, geometry orb.Geometry, scaleM float64) (ZonalResult, error)

	// SampleGrid returns a rows x cols grid of per-cell means, used by the
	// exporter's large-bbox sampling path.
	SampleGrid(ctx context.Context, datasetID, band, start, end string, geometry orb.Geometry, rows, cols int, scaleM float64) ([][]float64, error)

	// Thumbnail returns a single aggregate value, used for the exporter's
	// small-bbox thumbnail path.
	Thumbnail(ctx context.Context, datasetID, band, start, end string, geometry orb.Geometry, scaleM float64) (float64, error)

	// HealthCheck verifies every required dataset id is reachable.
	HealthCheck(ctx context.Context) error
}

// Dataset ids for the five required collections, probed by HealthCheck.
// These mirror commonly-used public collection ids for each factor's
// source data. They are fixed constants; EarthEngineConfig carries no
// dataset ids.
const (
	DatasetPrecipitation = "UCSB-CHG/CHIRPS/DAILY"
	DatasetSoilGrids      = "ISDASOIL/Africa/v1/texture_class"
	DatasetDEM            = "USGS/SRTMGL1_003"
	DatasetNDVI           = "MODIS/061/MOD13Q1"
	DatasetLandCover      = "ESA/WorldCover/v200"

	// DatasetComposite is the pseudo dataset id the exporter passes for the
	// soil-loss surface itself (export renders the visual raster, not a
	// single factor band). It is never probed by HealthCheck since there is
	// no backing collection - it fans out to the five real datasets above
	// and multiplies the fixed per-factor conversions in compositeFactorSpec.
	DatasetComposite = "composite"
)

// Client wraps an earthengine.Client behind RasterService.
type Client struct {
	ee      *earthengine.Client
	project string
}

func NewClient(cfg config.EarthEngineConfig) (*Client, error) {
	ee := &earthengine.Client{}
	return &Client{ee: ee, project: cfg.ProjectID}, nil
}

func (c *Client) HealthCheck(ctx context.Context) error {
	for _, datasetID := range []string{DatasetPrecipitation, DatasetSoilGrids, DatasetDEM, DatasetNDVI, DatasetLandCover} {
		if c.ee.ImageCollection(datasetID) == nil {
			return fmt.Errorf("raster service health check: dataset %q unreachable", datasetID)
		}
	}
	return nil
}

func (c *Client) ZonalStats(ctx context.Context, datasetID, band, start, end string, geometry orb.Geometry, scaleM float64) (ZonalResult, error) {
	if datasetID == DatasetComposite {
		return c.compositeZonalStats(ctx, start, end, geometry, scaleM)
	}

	zones, err := zonesFromGeometry(geometry)
	if err != nil {
		return ZonalResult{}, err
	}

	image, err := c.compositeImage(ctx, datasetID, start, end)
	if err != nil {
		return ZonalResult{}, err
	}
	cfg := helpers.ZonalStatsConfig{
		Statistics: []helpers.ZonalStatistic{helpers.Mean, helpers.StdDev, helpers.Min, helpers.Max},
		Scale:      scaleM,
		Bands:      []string{band},
		ZoneIDKey:  "id",
	}

	result, err := helpers.CalculateZonalStats(ctx, c.ee, image, zones, cfg)
	if err != nil {
		return ZonalResult{}, err
	}
	if len(result.Zones) == 0 {
		return ZonalResult{}, fmt.Errorf("zonal stats: no zones returned for %s/%s", datasetID, band)
	}

	stats := result.Zones[0].Stats
	return ZonalResult{
		Mean:   stats[band+"_mean"],
		StdDev: stats[band+"_stdDev"],
		Min:    stats[band+"_min"],
		Max:    stats[band+"_max"],
	}, nil
}

func (c *Client) SampleGrid(ctx context.Context, datasetID, band, start, end string, geometry orb.Geometry, rows, cols int, scaleM float64) ([][]float64, error) {
	if datasetID == DatasetComposite {
		return c.compositeSampleGrid(ctx, start, end, geometry, rows, cols, scaleM)
	}

	bound := geometry.Bound()
	dLon := (bound.Max[0] - bound.Min[0]) / float64(cols)
	dLat := (bound.Max[1] - bound.Min[1]) / float64(rows)

	image, err := c.compositeImage(ctx, datasetID, start, end)
	if err != nil {
		return nil, err
	}
	grid := make([][]float64, rows)
	for r := 0; r < rows; r++ {
		grid[r] = make([]float64, cols)
		for col := 0; col < cols; col++ {
			cellGeom := orb.Bound{
				Min: orb.Point{bound.Min[0] + float64(col)*dLon, bound.Min[1] + float64(r)*dLat},
				Max: orb.Point{bound.Min[0] + float64(col+1)*dLon, bound.Min[1] + float64(r+1)*dLat},
			}.ToPolygon()

			zones, err := zonesFromGeometry(cellGeom)
			if err != nil {
				return nil, err
			}

			cfg := helpers.ZonalStatsConfig{
				Statistics: []helpers.ZonalStatistic{helpers.Mean},
				Scale:      scaleM,
				Bands:      []string{band},
				ZoneIDKey:  "id",
			}
			result, err := helpers.CalculateZonalStats(ctx, c.ee, image, zones, cfg)
			if err != nil {
				return nil, err
			}
			if len(result.Zones) > 0 {
				grid[r][col] = result.Zones[0].Stats[band+"_mean"]
			}
		}
	}
	return grid, nil
}

func (c *Client) Thumbnail(ctx context.Context, datasetID, band, start, end string, geometry orb.Geometry, scaleM float64) (float64, error) {
	stats, err := c.ZonalStats(ctx, datasetID, band, start, end, geometry, scaleM)
	if err != nil {
		return 0, err
	}
	return stats.Mean, nil
}

// compositeImage reduces the filtered collection to a single image via the
// most-recent-clear-pixel method, the simplest of the pack's documented
// composite strategies and adequate for our per-year-range reductions
// (the ZonalStats call itself does the temporal mean/std/min/max).
func (c *Client) compositeImage(ctx context.Context, datasetID, start, end string) (*earthengine.Image, error) {
	collection := c.ee.ImageCollection(datasetID).FilterDate(start, end)
	composite, err := helpers.AdvancedComposite(ctx, c.ee, collection, helpers.CompositeConfig{
		Method: helpers.MostRecentComposite,
	})
	if err != nil {
		return nil, fmt.Errorf("composite %s: %w", datasetID, err)
	}
	return composite.Image, nil
}

// compositeFactorSpec pairs a factor's backing dataset/band with the pure
// conversion used to turn the raw band value into the factor's unitless
// (or near-unitless) contribution. R uses RFactor's default coefficient
// and exponent and C uses CFactor's exp(-2.5*NDVI); K, LS and P are
// simplified proxies (clay/100, elevation/1000 and a constant 0.5), not
// the KFactor, LSFactor and PFactor computations. The visual tile surface
// is rendered from these conversions; the headline statistics always go
// through the effective (possibly admin-overridden) config via Engine.
var compositeFactorSpec = []struct {
	datasetID string
	band      string
	toFactor  func(float64) float64
}{
	{DatasetPrecipitation, "precipitation", func(p float64) float64 {
		if p <= 0 {
			return 0
		}
		return 0.0483 * math.Pow(p, 1.61)
	}},
	{DatasetSoilGrids, "clay", func(v float64) float64 { return clamp(v/100, 0, 1) }},
	{DatasetDEM, "elevation", func(v float64) float64 { return clamp(v/1000, 0, 1) }},
	{DatasetNDVI, "NDVI", func(v float64) float64 { return clamp(math.Exp(-2.5*v), 0, 1) }},
	{DatasetLandCover, "Map", func(v float64) float64 { return 0.5 }},
}

// compositeZonalStats approximates the composite soil-loss surface's
// zonal statistics as the product of the five compositeFactorSpec
// conversions, mirroring Engine.combineFactors' relative-variance propagation.
func (c *Client) compositeZonalStats(ctx context.Context, start, end string, geometry orb.Geometry, scaleM float64) (ZonalResult, error) {
	mean, relVarSum := 1.0, 0.0
	min, max := 1.0, 1.0

	for _, spec := range compositeFactorSpec {
		raw, err := c.ZonalStats(ctx, spec.datasetID, spec.band, start, end, geometry, scaleM)
		if err != nil {
			return ZonalResult{}, err
		}
		if math.IsNaN(raw.Mean) {
			return ZonalResult{}, fmt.Errorf("composite zonal stats: no data for %s", spec.datasetID)
		}

		v := spec.toFactor(raw.Mean)
		mean *= v
		if v != 0 {
			rel := (spec.toFactor(raw.Mean+raw.StdDev) - v) / v
			relVarSum += rel * rel
		}

		lo, hi := spec.toFactor(raw.Min), spec.toFactor(raw.Max)
		if lo > hi {
			lo, hi = hi, lo
		}
		min *= lo
		max *= hi
	}
	if min > max {
		min, max = max, min
	}

	return ZonalResult{
		Mean:   mean,
		Min:    min,
		Max:    max,
		StdDev: mean * math.Sqrt(relVarSum),
	}, nil
}

func (c *Client) compositeSampleGrid(ctx context.Context, start, end string, geometry orb.Geometry, rows, cols int, scaleM float64) ([][]float64, error) {
	grid := make([][]float64, rows)
	for r := range grid {
		grid[r] = make([]float64, cols)
		for col := range grid[r] {
			grid[r][col] = 1.0
		}
	}

	for _, spec := range compositeFactorSpec {
		cellGrid, err := c.SampleGrid(ctx, spec.datasetID, spec.band, start, end, geometry, rows, cols, scaleM)
		if err != nil {
			return nil, err
		}
		for r := 0; r < rows && r < len(cellGrid); r++ {
			for col := 0; col < cols && col < len(cellGrid[r]); col++ {
				grid[r][col] *= spec.toFactor(cellGrid[r][col])
			}
		}
	}

	return grid, nil
}

// zonesFromGeometry wraps a single polygon as the one-feature
// FeatureCollection the zonal-stats helpers expect. The geometry is
// serialised as GeoJSON and handed to the client's geometry constructor;
// the feature id is fixed since every call here reduces over exactly one
// zone.
func zonesFromGeometry(geometry orb.Geometry) (*earthengine.FeatureCollection, error) {
	raw, err := geojson.NewGeometry(geometry).MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("encode zone geometry: %w", err)
	}
	eeGeom, err := earthengine.NewGeometryFromGeoJSON(raw)
	if err != nil {
		return nil, fmt.Errorf("construct zone geometry: %w", err)
	}
	return &earthengine.FeatureCollection{
		Features: []*earthengine.Feature{
			{ID: "0", Geometry: eeGeom, Properties: map[string]interface{}{"id": 0}},
		},
	}, nil
}
