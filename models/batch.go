package models

// BatchRequest is the payload for POST /api/v1/resolve/batch.
type BatchRequest struct {
	// URLs is the list of links to resolve. Required.
	URLs []string `json:"urls" binding:"required,min=1"`

	// WebhookURL receives a batch.completed event when the job finishes.
	WebhookURL string `json:"webhookUrl,omitempty" binding:"omitempty,url"`

	// WebhookSecret signs the webhook body with HMAC-SHA256.
	WebhookSecret string `json:"webhookSecret,omitempty"`
}

// BatchResponse is the immediate response for POST /api/v1/resolve/batch.
type BatchResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Total  int    `json:"total"`
}

// BatchStatusResponse is the response for GET /api/v1/resolve/batch/:id.
type BatchStatusResponse struct {
	ID        string             `json:"id"`
	Status    string             `json:"status"`
	Completed int                `json:"completed"`
	Total     int                `json:"total"`
	Results   []*ResolveResponse `json:"results,omitempty"`
}

// Batch job states.
const (
	BatchProcessing = "processing"
	BatchCompleted  = "completed"
	BatchPartial    = "partial"
	BatchFailed     = "failed"
)
