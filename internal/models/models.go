package models

import (
	"time"
)

// Run statuses.
const (
	RunRunning   = "running"
	RunSucceeded = "succeeded"
	RunRecovered = "recovered"
	RunFailed    = "failed"
)

// Run records one extraction of one source.
type Run struct {
	ID           string     `db:"id" json:"id"`
	Source       string     `db:"source" json:"source"`
	Engine       string     `db:"engine" json:"engine"`
	Status       string     `db:"status" json:"status"` // running | succeeded | recovered | failed
	Elements     int        `db:"elements" json:"elements"`
	ErrorCode    string     `db:"error_code" json:"error_code,omitempty"`
	ErrorMessage string     `db:"error_message" json:"error_message,omitempty"`
	StorageURL   string     `db:"storage_url" json:"storage_url,omitempty"` // archived upload, if any
	StartedAt    time.Time  `db:"started_at" json:"started_at"`
	FinishedAt   *time.Time `db:"finished_at" json:"finished_at,omitempty"`
}

// ExtractSourceRequest asks the server to resolve and extract a path, URL or bucket prefix.
type ExtractSourceRequest struct {
	Source string `json:"source"`
	Engine string `json:"engine"`
}

// EngineInfo describes one registered engine.
type EngineInfo struct {
	Key    string `json:"key"`
	Mode   string `json:"mode,omitempty"`
	Loaded bool   `json:"loaded"`
	Error  string `json:"error,omitempty"`
}

// TokenRequest exchanges client credentials for a bearer token.
type TokenRequest struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
}

// TokenResponse carries a signed bearer token.
type TokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ErrorResponse is the JSON body of every failed API call.
type ErrorResponse struct {
	Error      string         `json:"error"`
	Code       string         `json:"code,omitempty"`
	Kind       string         `json:"kind,omitempty"`
	Suggestion string         `json:"suggestion,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
}

// Job statuses.
const (
	JobQueued  = "queued"
	JobRunning = "running"
	JobDone    = "done"
	JobFailed  = "failed"
)

// Job is one background extraction of a path, URL or bucket prefix. Results
// are written as NDJSON to ResultURL.
type Job struct {
	ID         string     `json:"id"`
	Source     string     `json:"source"`
	Engine     string     `json:"engine,omitempty"`
	Status     string     `json:"status"`
	Documents  int        `json:"documents"`
	Elements   int        `json:"elements"`
	Errors     int        `json:"errors"`
	ResultURL  string     `json:"result_url,omitempty"`
	Error      string     `json:"error,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}
