package model

import (
	"net/url"
	"strings"
)

// DefaultPlatform is sent when the caller does not name a platform.
const DefaultPlatform = "web"

// JobStatus represents the backend-reported state of an analysis job.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// Terminal reports whether no further transitions are expected.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Rank orders statuses along pending -> processing -> completed|failed.
// Unknown statuses rank with pending.
func (s JobStatus) Rank() int {
	switch s {
	case JobStatusProcessing:
		return 1
	case JobStatusCompleted, JobStatusFailed:
		return 2
	default:
		return 0
	}
}

// AnalysisRequest is the body submitted to start an analysis.
type AnalysisRequest struct {
	URL      string `json:"url"`
	Platform string `json:"platform"`
}

// NewAnalysisRequest builds a request for rawURL, defaulting the platform.
func NewAnalysisRequest(rawURL, platform string) AnalysisRequest {
	if platform == "" {
		platform = DefaultPlatform
	}
	return AnalysisRequest{URL: strings.TrimSpace(rawURL), Platform: platform}
}

// ValidateURL reports whether raw parses as an absolute http(s) URL.
func ValidateURL(raw string) bool {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	return u.Host != ""
}

// IngestResponse is returned by the backend once a job is queued.
type IngestResponse struct {
	JobID     string `json:"jobId"`
	ProductID string `json:"productId"`
}

// Job is a read-only snapshot of a backend analysis job.
type Job struct {
	JobID     string    `json:"jobId,omitempty"`
	ProductID string    `json:"productId,omitempty"`
	Status    JobStatus `json:"status"`
	Progress  int       `json:"progress"`
	Logs      []string  `json:"logs,omitempty"`
	Error     string    `json:"error,omitempty"`
}
