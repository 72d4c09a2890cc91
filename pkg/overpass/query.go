package overpass

import (
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

const milesToMeters = 1609.344

// buildQL renders a Filter into an Overpass QL query. Both nodes and ways
// carrying addr:housenumber are selected; ways are reduced to centroids via
// `out center`.
func buildQL(f Filter, timeout time.Duration) (string, error) {
	secs := int(timeout.Seconds())
	if secs < 1 {
		secs = 1
	}

	var clauses []string
	switch {
	case f.Around != nil:
		if f.Around.RadiusMiles <= 0 {
			return "", eris.New("overpass: radius must be positive")
		}
		sel := fmt.Sprintf("(around:%.0f,%.6f,%.6f)",
			f.Around.RadiusMiles*milesToMeters, f.Around.Center.Lat, f.Around.Center.Lon)
		clauses = []string{
			fmt.Sprintf(`node["addr:housenumber"]%s;`, sel),
			fmt.Sprintf(`way["addr:housenumber"]%s;`, sel),
		}

	case len(f.Polygon) > 0:
		if len(f.Polygon) < 3 {
			return "", eris.New("overpass: polygon needs at least three points")
		}
		pts := make([]string, len(f.Polygon))
		for i, p := range f.Polygon {
			pts[i] = fmt.Sprintf("%.6f %.6f", p.Lat, p.Lon)
		}
		sel := fmt.Sprintf(`(poly:"%s")`, strings.Join(pts, " "))
		clauses = []string{
			fmt.Sprintf(`node["addr:housenumber"]%s;`, sel),
			fmt.Sprintf(`way["addr:housenumber"]%s;`, sel),
		}

	case f.BBox != nil:
		b := f.BBox
		sel := fmt.Sprintf("(%.6f,%.6f,%.6f,%.6f)", b.MinLat, b.MinLon, b.MaxLat, b.MaxLon)
		clauses = []string{
			fmt.Sprintf(`node["addr:housenumber"]%s;`, sel),
			fmt.Sprintf(`way["addr:housenumber"]%s;`, sel),
		}

	case len(f.PostalCodes) > 0:
		for _, zip := range f.PostalCodes {
			clauses = append(clauses,
				fmt.Sprintf(`node["addr:housenumber"]["addr:postcode"="%s"];`, zip),
				fmt.Sprintf(`way["addr:housenumber"]["addr:postcode"="%s"];`, zip),
			)
		}

	default:
		return "", eris.New("overpass: empty filter")
	}

	return fmt.Sprintf("[out:json][timeout:%d];(%s);out center;", secs, strings.Join(clauses, "")), nil
}
