package overpass

import "fmt"

// AddressKind distinguishes point addresses from area-derived centroids.
type AddressKind string

const (
	// KindPoint marks an address taken from an OSM node.
	KindPoint AddressKind = "point"
	// KindCentroid marks an address derived from a way or relation center.
	KindCentroid AddressKind = "centroid"
)

// Address is a single harvested address record. IDs are unique within the
// Overpass namespace but not across overlapping queries of the same area.
type Address struct {
	ID          string      `json:"id"`
	Kind        AddressKind `json:"kind"`
	HouseNumber string      `json:"house_number"`
	Street      string      `json:"street,omitempty"`
	Unit        string      `json:"unit,omitempty"`
	City        string      `json:"city,omitempty"`
	State       string      `json:"state,omitempty"`
	Postcode    string      `json:"postcode,omitempty"`
	Lat         float64     `json:"lat"`
	Lon         float64     `json:"lon"`
	Building    string      `json:"building,omitempty"`
	Name        string      `json:"name,omitempty"`
}

type response struct {
	Remark   string    `json:"remark"`
	Elements []element `json:"elements"`
}

type element struct {
	Type   string            `json:"type"`
	ID     int64             `json:"id"`
	Lat    float64           `json:"lat"`
	Lon    float64           `json:"lon"`
	Center *Point            `json:"center"`
	Tags   map[string]string `json:"tags"`
}

// parseElements converts raw Overpass elements into Address records. Elements
// without a house number or resolvable coordinates are dropped.
func parseElements(elements []element) []Address {
	var addrs []Address
	for _, el := range elements {
		houseNumber := el.Tags["addr:housenumber"]
		if houseNumber == "" {
			continue
		}

		lat, lon := el.Lat, el.Lon
		kind := KindPoint
		if el.Type != "node" {
			if el.Center == nil {
				continue
			}
			lat, lon = el.Center.Lat, el.Center.Lon
			kind = KindCentroid
		}
		if lat == 0 && lon == 0 {
			continue
		}

		addrs = append(addrs, Address{
			ID:          fmt.Sprintf("%s/%d", el.Type, el.ID),
			Kind:        kind,
			HouseNumber: houseNumber,
			Street:      el.Tags["addr:street"],
			Unit:        el.Tags["addr:unit"],
			City:        el.Tags["addr:city"],
			State:       el.Tags["addr:state"],
			Postcode:    el.Tags["addr:postcode"],
			Lat:         lat,
			Lon:         lon,
			Building:    el.Tags["building"],
			Name:        el.Tags["name"],
		})
	}
	return addrs
}
