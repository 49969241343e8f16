package model

import "time"

// Response is the standard API response envelope of the scheduler gateway.
type Response struct {
	Status    string    `json:"status"`
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
	Error     *APIError `json:"error"`
}

// SubmitResponse is returned by the gateway after a job is accepted.
type SubmitResponse struct {
	ID string `json:"id"`
}

// SyncRequest asks the gateway to wait for jobs to finish.
type SyncRequest struct {
	IDs            []string `json:"ids"`
	TimeoutSeconds float64  `json:"timeout_seconds"`
}

// StatusResponse reports the state of one job.
type StatusResponse struct {
	ID    string   `json:"id"`
	State JobState `json:"state"`
}

