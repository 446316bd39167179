package handler

import "time"

// CreateRequestRequest is the body of POST /api/v1/requests
type CreateRequestRequest struct {
	RequestNumber  string `json:"request_number" binding:"required"`
	PositionNumber string `json:"position_number"`
	Comment        string `json:"comment"`
	CommentAuthor  string `json:"comment_author"`
}

// CreateRequestResponse reports the id of a created request
type CreateRequestResponse struct {
	ID             uint   `json:"id"`
	RequestNumber  string `json:"request_number"`
	PositionNumber string `json:"position_number"`
}

// NotifyRequest is the body of POST /api/v1/delays/notify
type NotifyRequest struct {
	Minutes int  `json:"minutes"`
	DryRun  bool `json:"dry_run"`
}

// ProcessMailboxRequest is the body of POST /api/v1/mailbox/process
type ProcessMailboxRequest struct {
	Backend     string `json:"backend"`
	UseFixtures bool   `json:"use_fixtures"`
}

// ResultsResponse carries outcome or notification lines
type ResultsResponse struct {
	Count   int      `json:"count"`
	Results []string `json:"results"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Database  string            `json:"database"`
	Scheduler map[string]string `json:"scheduler,omitempty"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}
