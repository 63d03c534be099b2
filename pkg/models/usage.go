package models

import "time"

// UsageEvent is one debit against a service's daily quota. Events are
// append-only: they are never updated or deleted once written.
type UsageEvent struct {
	ID         int64     `json:"id"`
	Service    string    `json:"service"`
	Model      string    `json:"model,omitempty"`
	Amount     int64     `json:"amount"`
	TokenCount int64     `json:"token_count,omitempty"`
	Cost       float64   `json:"cost,omitempty"`
	Task       string    `json:"task,omitempty"`
	Date       string    `json:"date"`
	CreatedAt  time.Time `json:"created_at"`
}

// UsageSummary aggregates usage for a service on one calendar day.
type UsageSummary struct {
	Service    string  `json:"service"`
	Date       string  `json:"date"`
	Events     int     `json:"events"`
	Prompts    int64   `json:"prompts"`
	Autonomous int64   `json:"autonomous"`
	Tokens     int64   `json:"tokens"`
	Cost       float64 `json:"cost"`
}

// AutonomousTaskPrefix marks usage events charged by background tasks.
const AutonomousTaskPrefix = "autonomous:"
