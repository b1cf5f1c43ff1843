package tiles

import (
	"context"
	"fmt"
	"image"
	"image/draw"
	"math"
	"os"
	"path/filepath"

	"github.com/paulmach/orb"

	"github.com/soilloss/rusle-pipeline/internal/domain"
)

// ZoomRange is the inclusive zoom levels to generate, default [6, MaxZoom].
type ZoomRange struct {
	Min int
	Max int
}

// Metadata is the companion JSON written alongside each zoom pyramid.
type Metadata struct {
	Bounds       [4]float64 `json:"bounds"`
	Scheme       string     `json:"scheme"`
	ZoomMin      int        `json:"zoom_min"`
	ZoomMax      int        `json:"zoom_max"`
	Palette      string     `json:"palette"`
	GeometryHash string     `json:"geometry_hash"`
}

// Generator drives the per-tile render+mask+write loop.
type Generator struct {
	storageRoot string
}

func NewGenerator(storageRoot string) *Generator {
	return &Generator{storageRoot: storageRoot}
}

// TilesPath returns the canonical tile tree root for a record.
func (g *Generator) TilesPath(tileStorageKey, periodLabel string) string {
	return filepath.Join(g.storageRoot, "tiles", tileStorageKey, periodLabel)
}

// Generate reads geotiffPath, colorizes and masks each tile to geometry
// across zoomRange, and writes the pyramid plus metadata.json. The zoom
// levels finished so far are returned, also when a later zoom fails.
func (g *Generator) Generate(ctx context.Context, geotiffPath string, geometry domain.Geometry, geometryHash domain.GeometryHash, tileStorageKey, periodLabel string, zoomRange ZoomRange) (completedZooms []int, err error) {
	source, err := LoadSource(geotiffPath)
	if err != nil {
		return nil, err
	}

	outRoot := g.TilesPath(tileStorageKey, periodLabel)
	if err := os.MkdirAll(outRoot, 0o755); err != nil {
		return nil, fmt.Errorf("create tiles dir: %w", err)
	}

	bound := sourceBoundToLonLat(source.Bound)

	for z := zoomRange.Min; z <= zoomRange.Max; z++ {
		if err := ctx.Err(); err != nil {
			return completedZooms, err
		}

		tiles := TilesInBound(bound, z, z)
		for _, coords := range tiles {
			if err := g.writeTile(source, geometry.Original, coords, outRoot); err != nil {
				return completedZooms, fmt.Errorf("tile %s: %w", coords, err)
			}
		}
		completedZooms = append(completedZooms, z)
	}

	meta := Metadata{
		Bounds:       [4]float64{bound.Min[0], bound.Min[1], bound.Max[0], bound.Max[1]},
		Scheme:       "xyz",
		ZoomMin:      zoomRange.Min,
		ZoomMax:      zoomRange.Max,
		Palette:      "rusle-severity-v1",
		GeometryHash: string(geometryHash),
	}
	if err := writeMetadata(outRoot, meta); err != nil {
		return completedZooms, err
	}

	return completedZooms, nil
}

func (g *Generator) writeTile(source *Source, geom orb.Geometry, coords Coords, outRoot string) error {
	tileBound := coords.Bound()
	img := image.NewNRGBA(image.Rect(0, 0, TileSize, TileSize))

	mercBound := lonLatBoundToMercator(tileBound)
	for y := 0; y < TileSize; y++ {
		mercY := mercBound.Max[1] - (float64(y)+0.5)/TileSize*(mercBound.Max[1]-mercBound.Min[1])
		for x := 0; x < TileSize; x++ {
			mercX := mercBound.Min[0] + (float64(x)+0.5)/TileSize*(mercBound.Max[0]-mercBound.Min[0])
			value, ok := source.ValueAt(mercX, mercY)
			if !ok {
				continue
			}
			img.Set(x, y, ColorForValue(value))
		}
	}

	mask := PolygonMask(geom, tileBound)
	masked := applyMask(img, mask)

	outPath := filepath.Join(outRoot, fmt.Sprintf("%d", coords.Z), fmt.Sprintf("%d", coords.X), fmt.Sprintf("%d.png", coords.Y))
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return err
	}

	return writePNG(outPath, masked)
}

// applyMask clips img's alpha to the minimum of its own alpha and the mask
// value, so non-region pixels become fully transparent per spec.md §6.6.
func applyMask(img *image.NRGBA, mask *image.Gray) *image.NRGBA {
	bounds := img.Bounds()
	out := image.NewNRGBA(bounds)
	draw.Draw(out, bounds, img, image.Point{}, draw.Src)

	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			maskVal := mask.GrayAt(x, y).Y
			i := out.PixOffset(x, y)
			if out.Pix[i+3] > maskVal {
				out.Pix[i+3] = maskVal
			}
		}
	}
	return out
}

func sourceBoundToLonLat(mercBound orb.Bound) orb.Bound {
	minLon, minLat := mercatorToLonLat(mercBound.Min[0], mercBound.Min[1])
	maxLon, maxLat := mercatorToLonLat(mercBound.Max[0], mercBound.Max[1])
	return orb.Bound{Min: orb.Point{minLon, minLat}, Max: orb.Point{maxLon, maxLat}}
}

func lonLatBoundToMercator(bound orb.Bound) orb.Bound {
	minX, minY := lonLatToMercator(bound.Min[0], bound.Min[1])
	maxX, maxY := lonLatToMercator(bound.Max[0], bound.Max[1])
	return orb.Bound{Min: orb.Point{minX, minY}, Max: orb.Point{maxX, maxY}}
}

const earthRadiusMeters = 6378137.0

func lonLatToMercator(lon, lat float64) (float64, float64) {
	x := earthRadiusMeters * lon * math.Pi / 180.0
	latRad := lat * math.Pi / 180.0
	y := earthRadiusMeters * math.Log(math.Tan(math.Pi/4.0+latRad/2.0))
	return x, y
}

func mercatorToLonLat(x, y float64) (float64, float64) {
	lon := (x / earthRadiusMeters) * 180.0 / math.Pi
	lat := (math.Atan(math.Exp(y/earthRadiusMeters)) - math.Pi/4.0) * 2.0 * 180.0 / math.Pi
	return lon, lat
}
