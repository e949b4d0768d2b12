package am

import "math"

// expClamped and logClamped guard the avg-log computation in iwcd.go against
// math.Exp underflow-to-zero followed by math.Log(0) = -Inf, which would
// otherwise poison the running sum with NaN on the next addition.
func expClamped(x float64) float64 {
	if x < -745 { // math.Exp underflows below this on float64
		return 0
	}
	return math.Exp(x)
}

func logClamped(x float64) float64 {
	if x <= 0 {
		return -745
	}
	return math.Log(x)
}
