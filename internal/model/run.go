package model

import "time"

// RunStatus is the lifecycle state of a sync cycle.
type RunStatus string

const (
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// Trigger names what started a sync cycle.
type Trigger string

const (
	TriggerSchedule Trigger = "schedule"
	TriggerHTTP     Trigger = "http"
	TriggerCLI      Trigger = "cli"
)

// RunCounts summarizes the outcome of one sync cycle.
type RunCounts struct {
	AccountsTotal     int `json:"accounts_total" yaml:"accounts_total"`
	AccountsProcessed int `json:"accounts_processed" yaml:"accounts_processed"`
	AccountsSkipped   int `json:"accounts_skipped" yaml:"accounts_skipped"`
	AccountsFailed    int `json:"accounts_failed" yaml:"accounts_failed"`
	AccountsEmpty     int `json:"accounts_empty" yaml:"accounts_empty"`
	FunnelsWritten    int `json:"funnels_written" yaml:"funnels_written"`
	WriteFailures     int `json:"write_failures" yaml:"write_failures"`
}

// Run is one row of the sync run log.
type Run struct {
	ID          string     `json:"id" yaml:"id"`
	Trigger     Trigger    `json:"trigger" yaml:"trigger"`
	Status      RunStatus  `json:"status" yaml:"status"`
	Window      Window     `json:"window" yaml:"window"`
	StartedAt   time.Time  `json:"started_at" yaml:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty" yaml:"completed_at,omitempty"`
	Counts      RunCounts  `json:"counts" yaml:"counts"`
	Error       string     `json:"error,omitempty" yaml:"error,omitempty"`
}
