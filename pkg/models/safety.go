package models

import "fmt"

// SafetyLevel classifies how much harm a task can do unattended.
// Levels are strictly ordered: Safe < Moderate < Dangerous.
type SafetyLevel int

const (
	SafetySafe SafetyLevel = iota + 1
	SafetyModerate
	SafetyDangerous
)

func (s SafetyLevel) String() string {
	switch s {
	case SafetySafe:
		return "safe"
	case SafetyModerate:
		return "moderate"
	case SafetyDangerous:
		return "dangerous"
	}
	return fmt.Sprintf("safety(%d)", int(s))
}

// MarshalText implements encoding.TextMarshaler.
func (s SafetyLevel) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *SafetyLevel) UnmarshalText(b []byte) error {
	v, err := ParseSafetyLevel(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// ParseSafetyLevel converts a config string into a SafetyLevel.
func ParseSafetyLevel(s string) (SafetyLevel, error) {
	switch s {
	case "safe":
		return SafetySafe, nil
	case "moderate":
		return SafetyModerate, nil
	case "dangerous":
		return SafetyDangerous, nil
	}
	return 0, fmt.Errorf("unknown safety level %q", s)
}

// Admits reports whether a task classified as level may run under the
// ceiling s. Dangerous is never admitted as a ceiling for autonomous work;
// callers wanting it must go through a direct user command.
func (s SafetyLevel) Admits(level SafetyLevel) bool {
	switch s {
	case SafetySafe:
		return level == SafetySafe
	case SafetyModerate:
		return level == SafetySafe || level == SafetyModerate
	case SafetyDangerous:
		return level == SafetySafe || level == SafetyModerate || level == SafetyDangerous
	}
	return false
}

// NotificationStyle selects how the executor involves a human.
type NotificationStyle string

const (
	StyleProactive     NotificationStyle = "proactive"
	StylePassive       NotificationStyle = "passive"
	StyleAskPermission NotificationStyle = "ask_permission"
)
