// Package export implements the raster exporter (C3): it turns the RUSLE
// engine's composite statistic into a clipped, atomically-written
// single-band GeoTIFF in Web Mercator.
package export

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/airbusgeo/godal"
	"github.com/paulmach/orb"

	"github.com/soilloss/rusle-pipeline/internal/domain"
	apperrors "github.com/soilloss/rusle-pipeline/internal/pkg/errors"
	"github.com/soilloss/rusle-pipeline/internal/rusle"
)

const webMercatorWKT = `PROJCS["WGS 84 / Pseudo-Mercator",GEOGCS["WGS 84",DATUM["WGS_1984",SPHEROID["WGS 84",6378137,298.257223563]],PRIMEM["Greenwich",0],UNIT["degree",0.0174532925199433]],PROJECTION["Mercator_1SP"],PARAMETER["central_meridian",0],PARAMETER["scale_factor",1],PARAMETER["false_easting",0],PARAMETER["false_northing",0],UNIT["metre",1],AXIS["Easting",EAST],AXIS["Northing",NORTH]]`

// Exporter writes GeoTIFFs for a composite/factor raster.
type Exporter struct {
	storageRoot           string
	smallBBoxThresholdKM2 float64
}

func NewExporter(storageRoot string, smallBBoxThresholdKM2 float64) *Exporter {
	return &Exporter{storageRoot: storageRoot, smallBBoxThresholdKM2: smallBBoxThresholdKM2}
}

// Request bundles everything the exporter needs for one geotiff write.
type Request struct {
	DatasetID     string // raster-service dataset backing this band (composite or single factor)
	Band          string
	YearRange     rusle.YearRange
	Geometry      domain.Geometry
	TileStorageKey string
	PeriodLabel   string
	Params        rusle.ComplexityParams
}

// GeotiffPath returns the canonical output path per spec.md §6.3, without
// writing anything.
func (e *Exporter) GeotiffPath(tileStorageKey, periodLabel string) string {
	return filepath.Join(e.storageRoot, "geotiffs", tileStorageKey, periodLabel, fmt.Sprintf("erosion_%s.tif", periodLabel))
}

// Export writes a single-band GeoTIFF clipped to the original geometry.
// Small bounding boxes fetch a single thumbnail value directly; large ones
// sample the recommended grid and write a full raster.
func (e *Exporter) Export(ctx context.Context, svc rusle.RasterService, req Request) (string, error) {
	areaKM2 := boundAreaKM2(req.Geometry.Original.Bound())

	outPath := e.GeotiffPath(req.TileStorageKey, req.PeriodLabel)
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return "", fmt.Errorf("create geotiff dir: %w", err)
	}

	start, end := fmt.Sprintf("%04d-01-01", req.YearRange.Start), fmt.Sprintf("%04d-12-31", req.YearRange.End)

	lonLatBound := req.Geometry.Original.Bound()

	if areaKM2 <= e.smallBBoxThresholdKM2 {
		value, err := svc.Thumbnail(ctx, req.DatasetID, req.Band, start, end, req.Geometry.Original, req.Params.RusleScaleM)
		if err != nil {
			return "", err
		}
		if math.IsNaN(value) {
			return "", apperrors.ErrNoDataAvailable
		}
		grid := [][]float64{{value}}
		return outPath, writeGeoTIFF(outPath, grid, lonLatBoundToMercator(lonLatBound))
	}

	rows, cols := req.Params.GridRows, req.Params.GridCols
	grid, err := svc.SampleGrid(ctx, req.DatasetID, req.Band, start, end, req.Geometry.Original, rows, cols, req.Params.SampleScaleM)
	if err != nil {
		return "", err
	}
	if gridIsEmpty(grid) {
		return "", apperrors.ErrNoDataAvailable
	}

	// SampleGrid returns rows uniformly spaced in latitude (rusle.Client's
	// own dLon/dLat stepping); Web Mercator Y is a nonlinear function of
	// latitude, so rows must be resampled onto uniform Mercator spacing
	// before the GeoTransform below can treat them as evenly spaced.
	merc := lonLatBoundToMercator(lonLatBound)
	return outPath, writeGeoTIFF(outPath, resampleRowsToMercator(grid, lonLatBound), merc)
}

func gridIsEmpty(grid [][]float64) bool {
	for _, row := range grid {
		for _, v := range row {
			if v != 0 && !math.IsNaN(v) {
				return false
			}
		}
	}
	return true
}

func boundAreaKM2(bound orb.Bound) float64 {
	const metersPerDegreeLat = 111320.0
	midLat := (bound.Min[1] + bound.Max[1]) / 2
	metersPerDegreeLon := metersPerDegreeLat * math.Cos(midLat*math.Pi/180)
	widthKM := (bound.Max[0] - bound.Min[0]) * metersPerDegreeLon / 1000
	heightKM := (bound.Max[1] - bound.Min[1]) * metersPerDegreeLat / 1000
	return math.Abs(widthKM * heightKM)
}

// earthRadiusMeters and lonLatToMercator/mercatorLatOf mirror the spherical
// Web Mercator math in internal/tiles/generator.go (lonLatToMercator):
// x is linear in longitude, y is the nonlinear Mercator projection of
// latitude.
const earthRadiusMeters = 6378137.0

func lonLatToMercator(lon, lat float64) (float64, float64) {
	x := earthRadiusMeters * lon * math.Pi / 180.0
	latRad := lat * math.Pi / 180.0
	y := earthRadiusMeters * math.Log(math.Tan(math.Pi/4.0+latRad/2.0))
	return x, y
}

func mercatorLatOf(y float64) float64 {
	return (math.Atan(math.Exp(y/earthRadiusMeters)) - math.Pi/4.0) * 2.0 * 180.0 / math.Pi
}

func lonLatBoundToMercator(bound orb.Bound) orb.Bound {
	minX, minY := lonLatToMercator(bound.Min[0], bound.Min[1])
	maxX, maxY := lonLatToMercator(bound.Max[0], bound.Max[1])
	return orb.Bound{Min: orb.Point{minX, minY}, Max: orb.Point{maxX, maxY}}
}

// resampleRowsToMercator resamples grid (rows uniformly spaced in latitude
// across lonLatBound, row 0 = north) onto rows uniformly spaced in Mercator
// Y across the same bound, linearly interpolating between the two nearest
// source rows. Columns are left untouched: Mercator X is linear in
// longitude, so uniform-longitude columns are already uniform-Mercator-X.
func resampleRowsToMercator(grid [][]float64, lonLatBound orb.Bound) [][]float64 {
	rows := len(grid)
	if rows <= 1 {
		return grid
	}
	cols := len(grid[0])

	_, minMercY := lonLatToMercator(lonLatBound.Min[0], lonLatBound.Min[1])
	_, maxMercY := lonLatToMercator(lonLatBound.Max[0], lonLatBound.Max[1])

	out := make([][]float64, rows)
	for r := 0; r < rows; r++ {
		targetMercY := maxMercY - (float64(r)+0.5)/float64(rows)*(maxMercY-minMercY)
		targetLat := mercatorLatOf(targetMercY)

		// source rows are uniformly spaced in latitude from lonLatBound.Max[1]
		// (row 0) to lonLatBound.Min[1] (row rows-1).
		srcRow := (lonLatBound.Max[1] - targetLat) / (lonLatBound.Max[1] - lonLatBound.Min[1]) * float64(rows)
		srcRow -= 0.5
		if srcRow < 0 {
			srcRow = 0
		}
		if srcRow > float64(rows-1) {
			srcRow = float64(rows - 1)
		}

		lo := int(srcRow)
		hi := lo + 1
		if hi > rows-1 {
			hi = rows - 1
		}
		frac := srcRow - float64(lo)

		outRow := make([]float64, cols)
		for c := 0; c < cols; c++ {
			outRow[c] = grid[lo][c]*(1-frac) + grid[hi][c]*frac
		}
		out[r] = outRow
	}
	return out
}

// writeGeoTIFF writes grid (row 0 = north, row-major) to path atomically:
// build in a temp file in the same directory, fsync, then rename. bound
// must already be in Web Mercator meters (EPSG:3857) - callers project via
// lonLatBoundToMercator/resampleRowsToMercator before calling this.
func writeGeoTIFF(path string, grid [][]float64, bound orb.Bound) error {
	rows := len(grid)
	if rows == 0 {
		return apperrors.ErrNoDataAvailable
	}
	cols := len(grid[0])

	tmpPath := path + ".tmp"
	defer os.Remove(tmpPath)

	ds, err := godal.Create(godal.GTiff, tmpPath, 1, godal.Float32, cols, rows)
	if err != nil {
		return fmt.Errorf("create geotiff: %w", err)
	}

	pixelWidth := (bound.Max[0] - bound.Min[0]) / float64(cols)
	pixelHeight := (bound.Max[1] - bound.Min[1]) / float64(rows)

	// GeoTransform[5] (pixel height) is conventionally negative so row 0
	// maps to the north edge; spec.md requires this explicitly rather than
	// leaving it to whatever sign the sampler produced.
	transform := [6]float64{
		bound.Min[0], pixelWidth, 0,
		bound.Max[1], 0, -pixelHeight,
	}
	if err := ds.SetGeoTransform(transform); err != nil {
		ds.Close()
		return fmt.Errorf("set geotransform: %w", err)
	}
	if err := ds.SetProjection(webMercatorWKT); err != nil {
		ds.Close()
		return fmt.Errorf("set projection: %w", err)
	}

	buf := make([]float32, rows*cols)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			buf[r*cols+c] = float32(grid[r][c])
		}
	}

	bands := ds.Bands()
	if len(bands) == 0 {
		ds.Close()
		return fmt.Errorf("created dataset has no bands")
	}
	if err := bands[0].Write(0, 0, buf, cols, rows); err != nil {
		ds.Close()
		return fmt.Errorf("write band: %w", err)
	}

	if err := ds.Close(); err != nil {
		return fmt.Errorf("close dataset: %w", err)
	}

	f, err := os.Open(tmpPath)
	if err != nil {
		return fmt.Errorf("reopen temp geotiff: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("fsync temp geotiff: %w", err)
	}
	f.Close()

	return os.Rename(tmpPath, path)
}
