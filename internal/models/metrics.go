package models

import "time"

// SystemStats is a lightweight aggregate view of runtime health, exposed on
// the admin surface alongside the Prometheus endpoint.
type SystemStats struct {
	RequestsTotal            uint64    `json:"requests_total"`
	AverageRequestDurationMs float64   `json:"average_request_duration_ms"`
	SessionsIssued           uint64    `json:"sessions_issued"`
	TokenRotations           uint64    `json:"token_rotations"`
	RotationConflicts        uint64    `json:"rotation_conflicts"`
	BlacklistHits            uint64    `json:"blacklist_hits"`
	Goroutines               int       `json:"goroutines"`
	GeneratedAt              time.Time `json:"generated_at"`
}
