// Package events publishes refresh summaries to an MQTT broker so other
// systems can react to new radar and observation data.
package events

import (
	"context"
	"time"
)

// RefreshEvent summarises one completed data refresh
type RefreshEvent struct {
	RunID        string         `json:"run_id"`
	Trigger      string         `json:"trigger"`
	StartedAt    time.Time      `json:"started_at"`
	DurationMS   int64          `json:"duration_ms"`
	StrikeCount  int            `json:"strike_count"`
	NewestStrike *time.Time     `json:"newest_strike,omitempty"`
	Stations     map[string]int `json:"stations"`
	Errors       []string       `json:"errors,omitempty"`
}

// Publisher delivers refresh events
type Publisher interface {
	Publish(ctx context.Context, event RefreshEvent) error
	Close()
}

// Nop discards every event; used when no broker is configured
type Nop struct{}

// Publish implements Publisher
func (Nop) Publish(context.Context, RefreshEvent) error { return nil }

// Close implements Publisher
func (Nop) Close() {}
