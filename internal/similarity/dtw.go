package similarity

import "math"

// BandedDTW computes the Sakoe-Chiba-banded dynamic time warping distance
// between a and b, restricting the warp path to cells within `band` of
// the diagonal.
func BandedDTW(a, b []float64, band int) float64 {
	n, m := len(a), len(b)
	if n == 0 || m == 0 {
		return math.Inf(1)
	}
	if band <= 0 {
		band = maxInt(n, m)
	}

	const inf = math.MaxFloat64
	prev := make([]float64, m+1)
	curr := make([]float64, m+1)
	for j := range prev {
		prev[j] = inf
	}
	prev[0] = 0

	for i := 1; i <= n; i++ {
		for j := range curr {
			curr[j] = inf
		}
		lo := maxInt(1, i-band)
		hi := minInt(m, i+band)
		for j := lo; j <= hi; j++ {
			cost := math.Abs(a[i-1] - b[j-1])
			best := prev[j] // insertion
			if curr[j-1] < best {
				best = curr[j-1] // deletion
			}
			if prev[j-1] < best {
				best = prev[j-1] // match
			}
			curr[j] = cost + best
		}
		prev, curr = curr, prev
	}
	return prev[m]
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
