package models

// ResolveResponse is the response for POST /api/v1/resolve.
type ResolveResponse struct {
	// Success indicates whether the resolution completed without a hard error.
	Success bool `json:"success"`

	// OriginalURL echoes the normalized request URL.
	OriginalURL string `json:"originalUrl,omitempty"`

	// FinalURL is the resolved destination.
	FinalURL string `json:"finalUrl,omitempty"`

	// Metadata is the best-effort title/description of the final page.
	Metadata *PageMetadata `json:"metadata,omitempty"`

	// Warnings lists soft anomalies in detection order.
	Warnings []string `json:"warnings,omitempty"`

	// Timing provides the duration of the operation.
	Timing TimingInfo `json:"timing"`

	// Error is populated only when Success is false.
	Error *ErrorDetail `json:"error,omitempty"`
}

// PageMetadata holds page-level information read from the loaded document.
// Empty fields mean "not found".
type PageMetadata struct {
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
}

// IsZero reports whether neither field was found.
func (m PageMetadata) IsZero() bool {
	return m.Title == "" && m.Description == ""
}

// TimingInfo breaks down the time spent on a request.
type TimingInfo struct {
	// TotalMs is the end-to-end duration in milliseconds.
	TotalMs int64 `json:"totalMs"`
}

// HealthResponse is the response for GET /api/v1/health.
type HealthResponse struct {
	Status   string `json:"status"` // "healthy" or "degraded"
	Uptime   string `json:"uptime"`
	Backend  string `json:"backend"`
	InFlight int    `json:"inFlight"`
	Version  string `json:"version"`
}
