// Package geo provides planar geometry helpers for polygon sizing and
// bounding-box partitioning.
package geo

import (
	"math"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"

	"github.com/sells-group/address-harvest/pkg/overpass"
)

// milesPerDegLat is the approximate north-south extent of one degree of
// latitude. East-west extent shrinks with cos(latitude).
const milesPerDegLat = 69.0

// PolygonArea returns the approximate area of a lat/lon ring in square miles.
// It is a planar shoelace approximation scaled by a latitude-dependent
// degrees-to-miles factor, good enough for threshold checks at city scale.
func PolygonArea(ring []overpass.Point) (float64, error) {
	if len(ring) < 3 {
		return 0, eris.New("geo: polygon needs at least three points")
	}

	poly := toPolygon(ring)
	degArea := math.Abs(poly.Area())
	centerLat := (poly.Bounds().Min(1) + poly.Bounds().Max(1)) / 2
	milesPerDegLon := milesPerDegLat * math.Cos(centerLat*math.Pi/180)

	return degArea * milesPerDegLat * milesPerDegLon, nil
}

// BoundsOf returns the bounding box of a lat/lon ring.
func BoundsOf(ring []overpass.Point) (overpass.BBox, error) {
	if len(ring) == 0 {
		return overpass.BBox{}, eris.New("geo: empty ring")
	}

	b := toPolygon(ring).Bounds()
	return overpass.BBox{
		MinLat: b.Min(1),
		MinLon: b.Min(0),
		MaxLat: b.Max(1),
		MaxLon: b.Max(0),
	}, nil
}

// Chunks partitions a bounding box into an n-by-n grid sized so that every
// cell's share of areaSqMi stays at or below ceilingSqMi, with
// n = ceil(sqrt(ceil(area/ceiling))). The rule can over-partition for skewed
// aspect ratios; it is a heuristic, not a contract. The grid cells tile the
// box exactly: the last row and column extend to the box edges so rounding
// never leaves a gap.
func Chunks(box overpass.BBox, areaSqMi, ceilingSqMi float64) []overpass.BBox {
	if ceilingSqMi <= 0 || areaSqMi <= ceilingSqMi {
		return []overpass.BBox{box}
	}

	n := int(math.Ceil(math.Sqrt(math.Ceil(areaSqMi / ceilingSqMi))))
	if n < 1 {
		n = 1
	}

	latStep := (box.MaxLat - box.MinLat) / float64(n)
	lonStep := (box.MaxLon - box.MinLon) / float64(n)

	chunks := make([]overpass.BBox, 0, n*n)
	for row := 0; row < n; row++ {
		minLat := box.MinLat + float64(row)*latStep
		maxLat := minLat + latStep
		if row == n-1 {
			maxLat = box.MaxLat
		}
		for col := 0; col < n; col++ {
			minLon := box.MinLon + float64(col)*lonStep
			maxLon := minLon + lonStep
			if col == n-1 {
				maxLon = box.MaxLon
			}
			chunks = append(chunks, overpass.BBox{
				MinLat: minLat,
				MinLon: minLon,
				MaxLat: maxLat,
				MaxLon: maxLon,
			})
		}
	}
	return chunks
}

// toPolygon builds a closed go-geom polygon from a lat/lon ring.
func toPolygon(ring []overpass.Point) *geom.Polygon {
	coords := make([]float64, 0, (len(ring)+1)*2)
	for _, p := range ring {
		coords = append(coords, p.Lon, p.Lat)
	}
	// Close the ring if the caller didn't.
	if ring[0] != ring[len(ring)-1] {
		coords = append(coords, ring[0].Lon, ring[0].Lat)
	}

	return geom.NewPolygonFlat(geom.XY, coords, []int{len(coords)})
}
