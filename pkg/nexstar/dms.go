package nexstar

import "math"

// EncodeDMS converts signed decimal degrees into the wire's
// [degrees, minutes, seconds, sign] bytes. Sign is 1 for non-negative values.
// Sub-second precision is lost.
func EncodeDMS(value float64) [4]byte {
	var sign byte
	if value >= 0 {
		sign = 1
	}
	value = math.Abs(value)

	degrees := math.Floor(value)
	minutes := (value - degrees) * 60
	seconds := math.Round((minutes - math.Floor(minutes)) * 60)

	return [4]byte{byte(degrees), byte(math.Floor(minutes)), byte(seconds), sign}
}

// DecodeDMS converts [degrees, minutes, seconds, sign] bytes back into decimal
// degrees. A zero sign byte negates the result.
func DecodeDMS(b [4]byte) float64 {
	value := float64(b[0]) + float64(b[1])/60 + float64(b[2])/3600
	if b[3] == 0x00 {
		return -value
	}
	return value
}

func encodeLocation(loc Location) [8]byte {
	var out [8]byte
	lat := EncodeDMS(loc.Latitude)
	lon := EncodeDMS(loc.Longitude)
	copy(out[:4], lat[:])
	copy(out[4:], lon[:])
	return out
}

func decodeLocation(b [8]byte) Location {
	return Location{
		Latitude:  DecodeDMS([4]byte(b[:4])),
		Longitude: DecodeDMS([4]byte(b[4:])),
	}
}
