package tiles

import (
	"image"
	"image/color"

	"github.com/disintegration/gift"
	"github.com/paulmach/orb"
	"golang.org/x/image/vector"
)

// PolygonMask rasterizes geom's rings, anti-aliased, into a TileSize x
// TileSize grayscale alpha mask for the given tile window. Pixels outside
// every ring are 0 (transparent); pixels inside are up to 255.
func PolygonMask(geom orb.Geometry, tileBound orb.Bound) *image.Gray {
	ras := vector.NewRasterizer(TileSize, TileSize)
	mercBound := lonLatBoundToMercator(tileBound)

	for _, poly := range polygonsOf(geom) {
		for _, ring := range poly {
			if len(ring) < 3 {
				continue
			}
			first := true
			for _, pt := range ring {
				x, y := lonLatToTilePx(pt[0], pt[1], mercBound)
				if first {
					ras.MoveTo(float32(x), float32(y))
					first = false
				} else {
					ras.LineTo(float32(x), float32(y))
				}
			}
			ras.ClosePath()
		}
	}

	rgba := image.NewNRGBA(image.Rect(0, 0, TileSize, TileSize))
	src := image.NewUniform(color.NRGBA{A: 255})
	ras.Draw(rgba, rgba.Bounds(), src, image.Point{})

	return extractAlpha(rgba)
}

// SoftenMask applies a Gaussian blur to soften mask edges. Off by default;
// callers opt in when pre-softened coastal-style boundaries are wanted.
func SoftenMask(mask *image.Gray, sigma float64) *image.Gray {
	g := gift.New(gift.GaussianBlur(float32(sigma)))
	dst := image.NewGray(g.Bounds(mask.Bounds()))
	g.Draw(dst, mask)
	return dst
}

func polygonsOf(geom orb.Geometry) []orb.Polygon {
	switch g := geom.(type) {
	case orb.Polygon:
		return []orb.Polygon{g}
	case orb.MultiPolygon:
		return g
	default:
		return nil
	}
}

// lonLatToTilePx maps a WGS84 point to local pixel coordinates within a
// single tile's window, projecting through Web Mercator first so the mask
// agrees with writeTile's raster sampling (which windows in Mercator Y, not
// raw latitude). Y increases downward to match image-space convention (tile
// row 0 is the tile's north edge). mercBound is the tile's own bound,
// already projected via lonLatBoundToMercator.
func lonLatToTilePx(lon, lat float64, mercBound orb.Bound) (float64, float64) {
	mx, my := lonLatToMercator(lon, lat)
	x := (mx - mercBound.Min[0]) / (mercBound.Max[0] - mercBound.Min[0]) * TileSize
	y := (mercBound.Max[1] - my) / (mercBound.Max[1] - mercBound.Min[1]) * TileSize
	return x, y
}

func extractAlpha(img image.Image) *image.Gray {
	bounds := img.Bounds()
	out := image.NewGray(bounds)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			_, _, _, a := img.At(x, y).RGBA()
			out.SetGray(x, y, color.Gray{Y: uint8(a >> 8)})
		}
	}
	return out
}
