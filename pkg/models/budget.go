package models

import (
	"fmt"
	"time"
)

// ServiceType distinguishes how a quota is paid for.
type ServiceType string

const (
	ServicePrepaid   ServiceType = "prepaid_credits"
	ServicePayPerUse ServiceType = "pay_per_use"
)

// ServiceMode controls whether a service may be spent on without a human.
type ServiceMode string

const (
	ModeAuto   ServiceMode = "auto"
	ModeManual ServiceMode = "manual"
)

// ServiceProfile describes one quota-bearing service.
type ServiceProfile struct {
	Name             string      `json:"name" yaml:"-" toml:"-"`
	Type             ServiceType `json:"type" yaml:"type" toml:"type"`
	DailyLimit       int64       `json:"daily_limit,omitempty" yaml:"daily_limit" toml:"daily_limit"`
	CostPerCall      float64     `json:"cost_per_call,omitempty" yaml:"cost_per_call" toml:"cost_per_call"`
	RequiresApproval bool        `json:"requires_approval" yaml:"requires_approval" toml:"requires_approval"`
	DefaultMode      ServiceMode `json:"default_mode" yaml:"default_mode" toml:"default_mode"`
	Timezone         string      `json:"timezone,omitempty" yaml:"timezone" toml:"timezone"`
}

// Location resolves the profile's timezone, falling back to UTC.
func (p ServiceProfile) Location() *time.Location {
	if p.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(p.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// BudgetAllocation records a grant of prompts to the executor.
type BudgetAllocation struct {
	ID          int64     `json:"id"`
	Service     string    `json:"service"`
	Amount      int64     `json:"amount"`
	Purpose     string    `json:"purpose"`
	AllocatedAt time.Time `json:"allocated_at"`
}

// BudgetStatus is a point-in-time view of a service's daily quota.
type BudgetStatus struct {
	Service        string  `json:"service"`
	Used           int64   `json:"used"`
	Limit          int64   `json:"limit"`
	Remaining      int64   `json:"remaining"`
	HoursRemaining float64 `json:"hours_remaining"`
	Pressure       float64 `json:"pressure"`
}

// Action is what the allocator advises.
type Action string

const (
	ActionHold     Action = "hold"
	ActionAllocate Action = "allocate"
)

// Urgency bands a pressure value.
type Urgency int

const (
	UrgencyLow Urgency = iota + 1
	UrgencyModerate
	UrgencyHigh
)

func (u Urgency) String() string {
	switch u {
	case UrgencyLow:
		return "low"
	case UrgencyModerate:
		return "moderate"
	case UrgencyHigh:
		return "high"
	}
	return fmt.Sprintf("urgency(%d)", int(u))
}

// ParseUrgency converts a config string into an Urgency.
func ParseUrgency(s string) (Urgency, error) {
	switch s {
	case "low", "":
		return UrgencyLow, nil
	case "moderate":
		return UrgencyModerate, nil
	case "high":
		return UrgencyHigh, nil
	}
	return 0, fmt.Errorf("unknown urgency %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (u Urgency) MarshalText() ([]byte, error) { return []byte(u.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (u *Urgency) UnmarshalText(b []byte) error {
	v, err := ParseUrgency(string(b))
	if err != nil {
		return err
	}
	*u = v
	return nil
}

// Recommendation is the allocator's advisory output.
type Recommendation struct {
	Action   Action  `json:"action"`
	Service  string  `json:"service,omitempty"`
	Amount   int64   `json:"amount,omitempty"`
	Urgency  Urgency `json:"urgency,omitempty"`
	Pressure float64 `json:"pressure"`
	Reason   string  `json:"reason,omitempty"`
}

// Hold returns a recommendation to do nothing.
func Hold(reason string) Recommendation {
	return Recommendation{Action: ActionHold, Reason: reason}
}

// Actionable reports whether the recommendation grants any budget.
func (r Recommendation) Actionable() bool {
	return r.Action == ActionAllocate && r.Amount > 0
}
