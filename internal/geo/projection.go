// Package geo projects WGS84/ETRS89 coordinates to ETRS-TM35FIN (EPSG:3067)
// and measures distances on that plane.
package geo

import (
	"fmt"
	"math"
)

// LatLng is a geographic coordinate in degrees
type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Point is a projected EPSG:3067 coordinate in metres
type Point struct {
	X float64 `json:"x"` // easting
	Y float64 `json:"y"` // northing
}

// ETRS-TM35FIN parameters (GRS80 ellipsoid)
const (
	semiMajorAxis   = 6378137.0
	flattening      = 1 / 298.257222101
	scaleFactor     = 0.9996
	centralMeridian = 27.0
	falseEasting    = 500000.0
)

var (
	thirdFlattening = flattening / (2 - flattening)
	rectifyingA     = semiMajorAxis / (1 + thirdFlattening) *
		(1 + math.Pow(thirdFlattening, 2)/4 + math.Pow(thirdFlattening, 4)/64)
	kruger = [3]float64{
		thirdFlattening/2 - 2.0/3*math.Pow(thirdFlattening, 2) + 5.0/16*math.Pow(thirdFlattening, 3),
		13.0/48*math.Pow(thirdFlattening, 2) - 3.0/5*math.Pow(thirdFlattening, 3),
		61.0 / 240 * math.Pow(thirdFlattening, 3),
	}
)

// Validate checks the coordinate is finite and within range
func (p LatLng) Validate() error {
	if math.IsNaN(p.Lat) || math.IsInf(p.Lat, 0) || p.Lat < -90 || p.Lat > 90 {
		return fmt.Errorf("latitude %v out of range", p.Lat)
	}
	if math.IsNaN(p.Lng) || math.IsInf(p.Lng, 0) || p.Lng < -180 || p.Lng > 180 {
		return fmt.Errorf("longitude %v out of range", p.Lng)
	}
	return nil
}

// Project converts p to EPSG:3067 using the Krüger series of the transverse Mercator projection
func Project(p LatLng) Point {
	phi := p.Lat * math.Pi / 180
	lambda := (p.Lng - centralMeridian) * math.Pi / 180

	c := 2 * math.Sqrt(thirdFlattening) / (1 + thirdFlattening)
	t := math.Sinh(math.Atanh(math.Sin(phi)) - c*math.Atanh(c*math.Sin(phi)))
	xi := math.Atan(t / math.Cos(lambda))
	eta := math.Atanh(math.Sin(lambda) / math.Sqrt(1+t*t))

	easting := eta
	northing := xi
	for j, alpha := range kruger {
		k := float64(2 * (j + 1))
		easting += alpha * math.Cos(k*xi) * math.Sinh(k*eta)
		northing += alpha * math.Sin(k*xi) * math.Cosh(k*eta)
	}

	return Point{
		X: falseEasting + scaleFactor*rectifyingA*easting,
		Y: scaleFactor * rectifyingA * northing,
	}
}
