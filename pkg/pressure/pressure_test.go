package pressure

import (
	"math"
	"testing"
)

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-3 }

func TestExpectedUsageAnchors(t *testing.T) {
	tests := []struct {
		hour float64
		want float64
	}{
		{0, 0.02},
		{9, 0.15},
		{12, 0.30},
		{15, 0.50},
		{18, 0.70},
		{21, 0.85},
		{23, 0.95},
		{23.9, 0.95},
		{10.5, 0.225},
		{22, 0.90},
	}
	for _, tt := range tests {
		if got := ExpectedUsage(tt.hour); !approx(got, tt.want) {
			t.Errorf("ExpectedUsage(%v) = %v, want %v", tt.hour, got, tt.want)
		}
	}
}

func TestExpectedUsageMonotonic(t *testing.T) {
	prev := ExpectedUsage(0)
	for h := 0.25; h < 24; h += 0.25 {
		cur := ExpectedUsage(h)
		if cur < prev {
			t.Fatalf("curve decreased at %v: %v < %v", h, cur, prev)
		}
		prev = cur
	}
}

func TestPressureLateUnderuse(t *testing.T) {
	// 23:00, 500 of 2000 used: deficit 0.7 scaled by urgency 23/24.
	got := Pressure(500, 2000, 23)
	if !approx(got, 0.6708) {
		t.Errorf("Pressure = %v, want ~0.67", got)
	}
}

func TestPressureAheadOfPace(t *testing.T) {
	if got := Pressure(1900, 2000, 21); got != 0 {
		t.Errorf("Pressure = %v, want 0", got)
	}
}

func TestPressureZeroCases(t *testing.T) {
	tests := []struct {
		name        string
		used, limit int64
		hour        float64
	}{
		{"zero limit", 0, 0, 22},
		{"over limit", 2100, 2000, 23},
		{"on pace", 1700, 2000, 21},
		{"midnight", 0, 2000, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Pressure(tt.used, tt.limit, tt.hour); got != 0 {
				t.Errorf("Pressure = %v, want 0", got)
			}
		})
	}
}

func TestPressureBounds(t *testing.T) {
	for h := 0.0; h < 24; h += 0.5 {
		for used := int64(0); used <= 3000; used += 250 {
			p := Pressure(used, 2000, h)
			if p < 0 || p > 1 {
				t.Fatalf("Pressure(%d, 2000, %v) = %v out of range", used, h, p)
			}
		}
	}
}

func TestPressureMonotonicInUsed(t *testing.T) {
	for h := 1.0; h < 24; h++ {
		prev := Pressure(0, 1000, h)
		for used := int64(10); used <= 1000; used += 10 {
			cur := Pressure(used, 1000, h)
			if cur > prev {
				t.Fatalf("pressure rose with usage at hour %v: %v -> %v", h, prev, cur)
			}
			prev = cur
		}
	}
}

func TestUrgency(t *testing.T) {
	if got := Urgency(12); !approx(got, 0.5) {
		t.Errorf("Urgency(12) = %v", got)
	}
	if got := Urgency(24); got != 1 {
		t.Errorf("Urgency(24) = %v", got)
	}
}
