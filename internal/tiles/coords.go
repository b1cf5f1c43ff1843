// Package tiles implements the slippy-map tile pyramid generator (C4): it
// reads the exported raster, colorizes it by severity, masks it to the
// original polygon, and writes a 256x256 PNG tile tree.
package tiles

import (
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
)

const TileSize = 256

// Coords is a single Web Mercator tile address.
type Coords struct {
	Z uint32
	X uint32
	Y uint32
}

func (c Coords) String() string {
	return fmt.Sprintf("z%d_x%d_y%d", c.Z, c.X, c.Y)
}

func (c Coords) Tile() maptile.Tile {
	return maptile.New(c.X, c.Y, maptile.Zoom(c.Z))
}

// Bound returns the tile's WGS84 geographic bounds.
func (c Coords) Bound() orb.Bound {
	return c.Tile().Bound()
}

// TilesInBound enumerates every tile whose bounds intersect bound across
// [zoomMin, zoomMax], computing X/Y independently at each zoom level.
func TilesInBound(bound orb.Bound, zoomMin, zoomMax int) []Coords {
	var tiles []Coords

	minPoint := bound.Min
	maxPoint := bound.Max

	for z := zoomMin; z <= zoomMax; z++ {
		zoom := maptile.Zoom(z)

		minTile := maptile.At(minPoint, zoom)
		maxTile := maptile.At(maxPoint, zoom)

		minX, maxX := minTile.X, maxTile.X
		if minX > maxX {
			minX, maxX = maxX, minX
		}
		minY, maxY := minTile.Y, maxTile.Y
		if minY > maxY {
			minY, maxY = maxY, minY
		}

		for x := minX; x <= maxX; x++ {
			for y := minY; y <= maxY; y++ {
				tiles = append(tiles, Coords{Z: uint32(z), X: x, Y: y})
			}
		}
	}

	return tiles
}
