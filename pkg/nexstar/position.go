package nexstar

import (
	"fmt"
	"math"
	"strconv"
)

// Position is a pair of axis values read from or sent to the mount.
// For RA/Dec the first axis is right ascension in hours and the second is
// declination in degrees. For Az/Alt both axes are in degrees.
type Position struct {
	Axis1 float64
	Axis2 float64
}

// precise positions are "XXXXXXXX,XXXXXXXX": two 32-bit fractions of a turn.
const positionLen = 17

func turnsToFraction(turns float64) uint32 {
	turns -= math.Floor(turns)
	return uint32(uint64(math.Round(turns * (1 << 32)))) // wraps to 0 at a full turn
}

func fractionToTurns(f uint32) float64 {
	return float64(f) / (1 << 32)
}

func encodePosition(first, second float64) []byte {
	return []byte(fmt.Sprintf("%08X,%08X", turnsToFraction(first), turnsToFraction(second)))
}

func decodePosition(b []byte) (uint32, uint32, error) {
	if len(b) != positionLen || b[8] != ',' {
		return 0, 0, fmt.Errorf("malformed position %q", b)
	}
	first, err := strconv.ParseUint(string(b[:8]), 16, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("malformed position %q: %w", b, err)
	}
	second, err := strconv.ParseUint(string(b[9:]), 16, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("malformed position %q: %w", b, err)
	}
	return uint32(first), uint32(second), nil
}

// signedDegrees maps a fraction of a turn into (-180, 180].
func signedDegrees(f uint32) float64 {
	deg := fractionToTurns(f) * 360
	if deg > 180 {
		deg -= 360
	}
	return deg
}

func encodeRaDec(p Position) []byte {
	return encodePosition(p.Axis1/24, p.Axis2/360)
}

func decodeRaDec(b []byte) (Position, error) {
	ra, dec, err := decodePosition(b)
	if err != nil {
		return Position{}, err
	}
	return Position{Axis1: fractionToTurns(ra) * 24, Axis2: signedDegrees(dec)}, nil
}

func decodeAzAlt(b []byte) (Position, error) {
	az, alt, err := decodePosition(b)
	if err != nil {
		return Position{}, err
	}
	return Position{Axis1: fractionToTurns(az) * 360, Axis2: signedDegrees(alt)}, nil
}
