package codebook

import "math"

func logOf(x float64) float64 {
	if x <= 0 {
		return -745
	}
	return math.Log(x)
}

func expOf(x float64) float64 {
	if x < -745 {
		return 0
	}
	return math.Exp(x)
}
