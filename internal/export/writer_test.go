package export_test

import (
	"context"
	"math"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soilloss/rusle-pipeline/internal/domain"
	"github.com/soilloss/rusle-pipeline/internal/export"
	"github.com/soilloss/rusle-pipeline/internal/rusle"
)

type fakeSvc struct {
	thumbnail float64
	grid      [][]float64
}

func (f *fakeSvc) ZonalStats(ctx context.Context, datasetID, band, start, end string, geometry orb.Geometry, scaleM float64) (rusle.ZonalResult, error) {
	return rusle.ZonalResult{}, nil
}

func (f *fakeSvc) SampleGrid(ctx context.Context, datasetID, band, start, end string, geometry orb.Geometry, rows, cols int, scaleM float64) ([][]float64, error) {
	return f.grid, nil
}

func (f *fakeSvc) Thumbnail(ctx context.Context, datasetID, band, start, end string, geometry orb.Geometry, scaleM float64) (float64, error) {
	return f.thumbnail, nil
}

func (f *fakeSvc) HealthCheck(ctx context.Context) error { return nil }

func testGeometry() domain.Geometry {
	ring := orb.Ring{{68.0, 38.0}, {68.1, 38.0}, {68.1, 38.1}, {68.0, 38.1}, {68.0, 38.0}}
	poly := orb.Polygon{ring}
	return domain.Geometry{Original: poly, Simplified: poly}
}

func TestGeotiffPath_MatchesFilesystemLayout(t *testing.T) {
	e := export.NewExporter("/data", 50)
	path := e.GeotiffPath("region_5", "1993_2020")
	assert.Equal(t, "/data/geotiffs/region_5/1993_2020/erosion_1993_2020.tif", path)
}

func TestExport_LargeBBoxFailsWhenGridEmpty(t *testing.T) {
	dir := t.TempDir()
	e := export.NewExporter(dir, 0.0001) // force large-bbox path

	grid := make([][]float64, 3)
	for i := range grid {
		grid[i] = make([]float64, 3)
	}
	svc := &fakeSvc{grid: grid}

	_, err := e.Export(context.Background(), svc, export.Request{
		DatasetID:      "composite",
		Band:           "soil_loss",
		YearRange:      rusle.YearRange{Start: 2015, End: 2020},
		Geometry:       testGeometry(),
		TileStorageKey: "region_1",
		PeriodLabel:    "2015_2020",
		Params:         rusle.ComplexityParams{GridRows: 3, GridCols: 3},
	})
	require.Error(t, err)
}

func TestExport_SmallBBoxRejectsNaNThumbnail(t *testing.T) {
	dir := t.TempDir()
	e := export.NewExporter(dir, 1e9) // force small-bbox path

	svc := &fakeSvc{thumbnail: math.NaN()}

	_, err := e.Export(context.Background(), svc, export.Request{
		DatasetID:      "composite",
		Band:           "soil_loss",
		YearRange:      rusle.YearRange{Start: 2015, End: 2020},
		Geometry:       testGeometry(),
		TileStorageKey: "region_1",
		PeriodLabel:    "2015_2020",
		Params:         rusle.ComplexityParams{RusleScaleM: 200},
	})
	require.Error(t, err)
}
