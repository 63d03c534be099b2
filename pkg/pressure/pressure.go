// Package pressure estimates how far a service is behind its expected
// spending pace for the day.
package pressure

// anchor is a point on the expected cumulative usage curve.
type anchor struct {
	hour     float64
	fraction float64
}

var curve = []anchor{
	{0, 0.02},
	{9, 0.15},
	{12, 0.30},
	{15, 0.50},
	{18, 0.70},
	{21, 0.85},
	{23, 0.95},
}

// ExpectedUsage returns the fraction of the daily limit that should have
// been consumed by the given local hour (fractional hours allowed).
// Values are interpolated linearly between anchors and held flat past the
// last one.
func ExpectedUsage(hour float64) float64 {
	if hour <= curve[0].hour {
		return curve[0].fraction
	}
	for i := 1; i < len(curve); i++ {
		lo, hi := curve[i-1], curve[i]
		if hour <= hi.hour {
			t := (hour - lo.hour) / (hi.hour - lo.hour)
			return lo.fraction + t*(hi.fraction-lo.fraction)
		}
	}
	return curve[len(curve)-1].fraction
}

// Urgency grows linearly from 0 at midnight to 1 at the end of the day.
func Urgency(hour float64) float64 {
	hoursRemaining := HoursRemaining(hour)
	return clamp(1 - hoursRemaining/24)
}

// HoursRemaining returns the hours left in the local day.
func HoursRemaining(hour float64) float64 {
	r := 24 - hour
	if r < 0 {
		return 0
	}
	return r
}

// Pressure returns a value in [0,1] describing how strongly unused quota
// should be spent now. It is 0 when usage is on or ahead of pace, when
// limit is zero, and when used already exceeds limit.
func Pressure(used, limit int64, hour float64) float64 {
	if limit <= 0 || used > limit || used < 0 {
		return 0
	}
	expected := ExpectedUsage(hour) * float64(limit)
	deficit := expected - float64(used)
	if deficit <= 0 {
		return 0
	}
	return clamp(deficit / float64(limit) * Urgency(hour))
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
