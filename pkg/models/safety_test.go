package models

import "testing"

func TestSafetyOrdering(t *testing.T) {
	if !(SafetySafe < SafetyModerate && SafetyModerate < SafetyDangerous) {
		t.Fatal("safety levels out of order")
	}
}

func TestAdmits(t *testing.T) {
	tests := []struct {
		ceiling, level SafetyLevel
		want           bool
	}{
		{SafetySafe, SafetySafe, true},
		{SafetySafe, SafetyModerate, false},
		{SafetySafe, SafetyDangerous, false},
		{SafetyModerate, SafetySafe, true},
		{SafetyModerate, SafetyModerate, true},
		{SafetyModerate, SafetyDangerous, false},
		{SafetyDangerous, SafetyDangerous, true},
		{SafetyLevel(0), SafetySafe, false},
	}
	for _, tt := range tests {
		if got := tt.ceiling.Admits(tt.level); got != tt.want {
			t.Errorf("%s.Admits(%s) = %v, want %v", tt.ceiling, tt.level, got, tt.want)
		}
	}
}

func TestParseSafetyLevel(t *testing.T) {
	for _, s := range []string{"safe", "moderate", "dangerous"} {
		lvl, err := ParseSafetyLevel(s)
		if err != nil {
			t.Fatalf("parse %q: %v", s, err)
		}
		if lvl.String() != s {
			t.Errorf("round trip %q -> %q", s, lvl.String())
		}
	}
	if _, err := ParseSafetyLevel("reckless"); err == nil {
		t.Error("expected error for unknown level")
	}
}

func TestRecommendationActionable(t *testing.T) {
	if Hold("x").Actionable() {
		t.Error("hold should not be actionable")
	}
	r := Recommendation{Action: ActionAllocate, Amount: 0}
	if r.Actionable() {
		t.Error("zero allocation should not be actionable")
	}
	r.Amount = 10
	if !r.Actionable() {
		t.Error("allocation should be actionable")
	}
}
