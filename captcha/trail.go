package captcha

import "math"

// MaxTrailPoints caps the number of trail samples sent with an attempt.
const MaxTrailPoints = 120

// SampleTrail reduces a raw pointer trail for transmission. Entries that are
// not a pair of finite numbers are dropped first; every other survivor is
// kept, up to MaxTrailPoints. The result is never nil.
func SampleTrail(raw [][]float64) []Point {
	out := make([]Point, 0, min(MaxTrailPoints, (len(raw)+1)/2))
	valid := 0
	for _, p := range raw {
		if len(p) != 2 || !finite(p[0]) || !finite(p[1]) {
			continue
		}
		if valid%2 == 0 {
			out = append(out, Point{p[0], p[1]})
			if len(out) == MaxTrailPoints {
				break
			}
		}
		valid++
	}
	return out
}

func finite(f float64) bool { return !math.IsNaN(f) && !math.IsInf(f, 0) }
