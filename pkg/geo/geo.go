package geo

import "math"

// Point represents a geographic coordinate.
type Point struct {
	Lat float64
	Lon float64
}

// earthRadiusKm is the mean earth radius used by the flat-earth delta and
// offset projections. Must stay consistent between DeltaKm and OffsetKm.
const earthRadiusKm = 6371.0

// DeltaKm decomposes the displacement from (lat1, lon1) to (lat2, lon2) into
// signed north and east components in kilometers, using an equirectangular
// approximation scaled at the mean latitude of the two points. The raw
// longitude difference is wrapped into (-pi, pi] before scaling so a track
// crossing the antimeridian yields the short way around, not ~40000 km.
//
// This is not a great-circle distance; the two components preserve sign and
// decompose the displacement onto local north/east axes.
func DeltaKm(lat1, lon1, lat2, lon2 float64) (dLatKm, dLonKm float64) {
	const degToRad = math.Pi / 180.0

	dLatKm = earthRadiusKm * (lat2 - lat1) * degToRad

	dLonRaw := (lon2 - lon1) * degToRad
	if dLonRaw > math.Pi {
		dLonRaw -= 2 * math.Pi
	} else if dLonRaw <= -math.Pi {
		dLonRaw += 2 * math.Pi
	}
	meanLat := (lat1*degToRad + lat2*degToRad) / 2
	dLonKm = earthRadiusKm * dLonRaw * math.Cos(meanLat)

	return dLatKm, dLonKm
}

// OffsetKm shifts an anchor point by north/east displacements in kilometers
// and returns the resulting coordinate. The east component is scaled by the
// cosine of the anchor latitude only, not the mean latitude of the move.
// DeltaKm scales by the mean; regression models are trained against exactly
// this asymmetric pairing, so it must not be "fixed" here.
func OffsetKm(lat, lon, dLatKm, dLonKm float64) (newLat, newLon float64) {
	const radToDeg = 180.0 / math.Pi

	newLat = lat + (dLatKm/earthRadiusKm)*radToDeg
	newLon = lon + (dLonKm/earthRadiusKm)*radToDeg/math.Cos(lat*math.Pi/180.0)
	return newLat, newLon
}

// Distance calculates the Haversine distance between two points in meters.
func Distance(p1, p2 Point) float64 {
	const R = 6371000 // Earth radius in meters
	dLat := (p2.Lat - p1.Lat) * (math.Pi / 180.0)
	dLon := (p2.Lon - p1.Lon) * (math.Pi / 180.0)
	lat1 := p1.Lat * (math.Pi / 180.0)
	lat2 := p2.Lat * (math.Pi / 180.0)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Sin(dLon/2)*math.Sin(dLon/2)*math.Cos(lat1)*math.Cos(lat2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return R * c
}

// Bearing calculates the initial bearing (forward azimuth) from p1 to p2 in degrees.
func Bearing(p1, p2 Point) float64 {
	lat1 := p1.Lat * (math.Pi / 180.0)
	lat2 := p2.Lat * (math.Pi / 180.0)
	dLon := (p2.Lon - p1.Lon) * (math.Pi / 180.0)

	y := math.Sin(dLon) * math.Cos(lat2)
	x := math.Cos(lat1)*math.Sin(lat2) -
		math.Sin(lat1)*math.Cos(lat2)*math.Cos(dLon)
	brng := math.Atan2(y, x)

	return math.Mod(brng*(180.0/math.Pi)+360.0, 360.0)
}

// NormalizeAngle normalizes an angle difference to the range [-180, 180].
func NormalizeAngle(angleDeg float64) float64 {
	for angleDeg > 180 {
		angleDeg -= 360
	}
	for angleDeg < -180 {
		angleDeg += 360
	}
	return angleDeg
}

// NormalizeLon wraps a longitude into [-180, 180). Feed entries occasionally
// arrive un-normalized after crossing the antimeridian.
func NormalizeLon(lon float64) float64 {
	lon = math.Mod(lon+180.0, 360.0)
	if lon < 0 {
		lon += 360.0
	}
	return lon - 180.0
}
