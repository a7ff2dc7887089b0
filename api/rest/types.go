package rest

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// SuccessResponse represents a generic success response.
type SuccessResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// HealthResponse represents a health check response.
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// RunsResponse lists the IDs of the active runs.
type RunsResponse struct {
	Runs []string `json:"runs"`
}

// PatchStatusRequest mirrors k6's PATCH /v1/status body.
type PatchStatusRequest struct {
	Stopped *bool `json:"stopped,omitempty"`
}
