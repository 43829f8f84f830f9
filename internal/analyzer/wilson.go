package analyzer

import "math"

// WilsonZ95 is the z-score for a 95% Wilson score interval.
const WilsonZ95 = 1.96

// WilsonInterval computes the Wilson score confidence interval for a
// binomial proportion k/n at the given z, per spec.md §4.4/§8. Returns
// (0, 0) for n == 0 — callers must check n before trusting the result.
func WilsonInterval(k, n int, z float64) (low, high float64) {
	if n == 0 {
		return 0, 0
	}

	nf := float64(n)
	phat := float64(k) / nf
	z2 := z * z

	denom := 1 + z2/nf
	center := phat + z2/(2*nf)
	margin := z * math.Sqrt(phat*(1-phat)/nf+z2/(4*nf*nf))

	low = (center - margin) / denom
	high = (center + margin) / denom

	if low < 0 {
		low = 0
	}
	if high > 1 {
		high = 1
	}
	return low, high
}
