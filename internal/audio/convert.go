package audio

import "math"

// Float32ToInt16 appends src converted to signed 16-bit samples to dst[:0].
// Values are scaled by 32768, rounded and saturated; NaN becomes silence.
func Float32ToInt16(dst []int16, src []float32) []int16 {
	dst = dst[:0]
	for _, s := range src {
		v := math.Round(float64(s) * 32768)
		switch {
		case math.IsNaN(v):
			v = 0
		case v > math.MaxInt16:
			v = math.MaxInt16
		case v < math.MinInt16:
			v = math.MinInt16
		}
		dst = append(dst, int16(v))
	}
	return dst
}

// Int32ToInt16 appends src reduced to its upper 16 bits (rounded, saturated) to dst[:0]
func Int32ToInt16(dst []int16, src []int32) []int16 {
	dst = dst[:0]
	for _, s := range src {
		v := (int64(s) + 1<<15) >> 16
		if v > math.MaxInt16 {
			v = math.MaxInt16
		}
		dst = append(dst, int16(v))
	}
	return dst
}

// Int16ToFloat32 is the inverse of Float32ToInt16 for a single sample
func Int16ToFloat32(v int16) float32 {
	return float32(v) / 32768
}

// Int16ToInt32 is the inverse of Int32ToInt16 for a single sample
func Int16ToInt32(v int16) int32 {
	return int32(v) << 16
}
