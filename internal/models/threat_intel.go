package models

import "time"

type RunStatus string

const (
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
)

// ThreatIntelRun is one execution of the indicator query, persisted to
// threat_intel_runs.
type ThreatIntelRun struct {
	ID               string    `json:"id"`
	StartedAt        time.Time `json:"startedAt"`
	FinishedAt       time.Time `json:"finishedAt"`
	Status           RunStatus `json:"status"`
	IPCount          int       `json:"ipCount"`
	ErrorCode        string    `json:"errorCode,omitempty"`
	ErrorMessage     string    `json:"errorMessage,omitempty"`
	ExclusionApplied bool      `json:"exclusionApplied"`
	MinConfidence    int       `json:"minConfidence"`
	RequestedBy      string    `json:"requestedBy,omitempty"`
}

// IPSnapshot is the published hand-off for blocklist consumers.
type IPSnapshot struct {
	RunID            string    `json:"runId"`
	FetchedAt        time.Time `json:"fetchedAt"`
	IPs              []string  `json:"ips"`
	Count            int       `json:"count"`
	ExclusionApplied bool      `json:"exclusionApplied"`
	MinConfidence    int       `json:"minConfidence"`
}
