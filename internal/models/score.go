package models

import "math"

// ClampScore bounds a heuristic score to [0, 1]. NaN becomes 0.
func ClampScore(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
