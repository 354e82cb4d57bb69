package audio

import "math"

// maxVolume is the linear volume alarm sessions play at.
const maxVolume = 1.0

func volumeToPower(vol float64) float64 {
	// beep's effects.Volume with Base 2 adds Volume to the exponent,
	// so unity gain (0) is the loudest undistorted level.
	if vol <= 0.01 {
		return -10 // Silent
	}
	return math.Log2(vol)
}
