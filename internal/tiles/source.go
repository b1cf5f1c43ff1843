package tiles

import (
	"fmt"

	"github.com/airbusgeo/godal"
	"github.com/paulmach/orb"
)

// Source is an in-memory, Web-Mercator-aligned raster sampled from a
// GeoTIFF: a row-major float32 grid (row 0 north) plus its geographic
// bounds, ready for per-tile windowing.
type Source struct {
	Data   [][]float32
	Bound  orb.Bound
	Rows   int
	Cols   int
}

// LoadSource opens geotiffPath and reads its single band into memory,
// reprojecting to EPSG:3857 first if its native CRS differs.
func LoadSource(geotiffPath string) (*Source, error) {
	ds, err := godal.Open(geotiffPath)
	if err != nil {
		return nil, fmt.Errorf("open geotiff: %w", err)
	}
	defer ds.Close()

	sr, err := ds.SpatialRef()
	if err != nil {
		return nil, fmt.Errorf("read spatial ref: %w", err)
	}
	defer sr.Close()

	working := ds
	if !sr.IsSame(webMercatorSpatialRef()) {
		reprojected, err := ds.Warp("", []string{"-t_srs", "EPSG:3857"})
		if err != nil {
			return nil, fmt.Errorf("reproject geotiff to EPSG:3857: %w", err)
		}
		defer reprojected.Close()
		working = reprojected
	}

	structure := working.Structure()
	cols, rows := structure.SizeX, structure.SizeY

	transform, err := working.GeoTransform()
	if err != nil {
		return nil, fmt.Errorf("read geotransform: %w", err)
	}

	bands := working.Bands()
	if len(bands) == 0 {
		return nil, fmt.Errorf("geotiff has no bands")
	}

	buf := make([]float32, rows*cols)
	if err := bands[0].Read(0, 0, buf, cols, rows); err != nil {
		return nil, fmt.Errorf("read band: %w", err)
	}

	data := make([][]float32, rows)
	for r := 0; r < rows; r++ {
		data[r] = buf[r*cols : (r+1)*cols]
	}

	minX := transform[0]
	maxY := transform[3]
	maxX := minX + float64(cols)*transform[1]
	minY := maxY + float64(rows)*transform[5] // transform[5] is negative

	return &Source{
		Data:  data,
		Bound: orb.Bound{Min: orb.Point{minX, minY}, Max: orb.Point{maxX, maxY}},
		Rows:  rows,
		Cols:  cols,
	}, nil
}

func webMercatorSpatialRef() *godal.SpatialRef {
	sr, _ := godal.NewSpatialRefFromEPSG(3857)
	return sr
}

// ValueAt samples the source grid at (lon, lat) in the source's own CRS
// units (Web Mercator meters), nearest-neighbour.
func (s *Source) ValueAt(x, y float64) (float64, bool) {
	if x < s.Bound.Min[0] || x > s.Bound.Max[0] || y < s.Bound.Min[1] || y > s.Bound.Max[1] {
		return 0, false
	}
	col := int((x - s.Bound.Min[0]) / (s.Bound.Max[0] - s.Bound.Min[0]) * float64(s.Cols))
	row := int((s.Bound.Max[1] - y) / (s.Bound.Max[1] - s.Bound.Min[1]) * float64(s.Rows))
	if col < 0 || col >= s.Cols || row < 0 || row >= s.Rows {
		return 0, false
	}
	return float64(s.Data[row][col]), true
}
