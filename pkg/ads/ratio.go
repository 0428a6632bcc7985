package ads

import "math"

// RatioRange maps popularity inversely onto [Min, Max], then onto the
// integer space [1, Scale] the server stores.
type RatioRange struct {
	Min   float64
	Max   float64
	Scale int
}

// Float returns the display ratio for score given the lowest and highest
// scores among the advertised tags. The most popular tag gets Min, the least
// popular Max, linearly in between. Equal bounds put every tag at the middle.
func (r RatioRange) Float(score, lo, hi float64) float64 {
	t := 0.5
	if hi > lo {
		t = (score - lo) / (hi - lo)
	}
	t = math.Max(0, math.Min(1, t))
	return r.Max - t*(r.Max-r.Min)
}

// Int scales a float ratio into [1, Scale].
func (r RatioRange) Int(f float64) int {
	scale := r.Scale
	if scale <= 0 {
		scale = 100
	}
	n := int(math.Round(f * float64(scale)))
	if n < 1 {
		n = 1
	}
	if n > scale {
		n = scale
	}
	return n
}

// Ratios computes the integer ratio of every key in scores.
func (r RatioRange) Ratios(scores map[string]float64) map[string]int {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, s := range scores {
		lo = math.Min(lo, s)
		hi = math.Max(hi, s)
	}
	out := make(map[string]int, len(scores))
	for k, s := range scores {
		out[k] = r.Int(r.Float(s, lo, hi))
	}
	return out
}
