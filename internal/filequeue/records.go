package filequeue

// Detection statuses, per the data model.
const (
	DetectionPending    = "pending"
	DetectionProcessing = "processing"
	DetectionProcessed  = "processed"
	DetectionFailed     = "failed"
)

// Explanation statuses, per the data model.
const (
	ExplanationReadyForDelivery = "ready_for_delivery"
	ExplanationDelivered        = "delivered"
	ExplanationFailed           = "failed"
)

// Explanation message types.
const (
	MessageTypeExplanationNew   = "explanation.new"
	MessageTypeExplanationRetry = "explanation.retry"
)

// DetectionRecord is one candidate term extracted from transcribed
// speech, pending explanation.
type DetectionRecord struct {
	ID                string  `json:"id"`
	Term              string  `json:"term"`
	Context           string  `json:"context"`
	Confidence        float64 `json:"confidence"`
	Timestamp         float64 `json:"timestamp"`
	ClientID          string  `json:"client_id"`
	UserSessionID     string  `json:"user_session_id,omitempty"`
	OriginalMessageID string  `json:"original_message_id"`
	Status            string  `json:"status"`
	Explanation       string  `json:"explanation,omitempty"`
	FailureReason     string  `json:"failure_reason,omitempty"`
}

// ExplanationRecord is a short natural-language definition produced by
// the heavier LLM, awaiting delivery to connected clients.
type ExplanationRecord struct {
	ID                 string  `json:"id"`
	Term               string  `json:"term"`
	Explanation        string  `json:"explanation"`
	Context            string  `json:"context"`
	Confidence         float64 `json:"confidence"`
	Timestamp          float64 `json:"timestamp"`
	ClientID           string  `json:"client_id"`
	UserSessionID      string  `json:"user_session_id,omitempty"`
	OriginalDetectionID string `json:"original_detection_id"`
	Status             string  `json:"status"`
	DeliveredAt        *float64 `json:"delivered_at,omitempty"`
	MessageType        string  `json:"message_type"`
}

// NewDetectionQueue opens the detections file queue.
func NewDetectionQueue(path string) *FileQueue[DetectionRecord] {
	return New(path,
		func(r DetectionRecord) string { return r.ID },
		func(r DetectionRecord) string { return r.Status },
	)
}

// NewExplanationQueue opens the explanations file queue.
func NewExplanationQueue(path string) *FileQueue[ExplanationRecord] {
	return New(path,
		func(r ExplanationRecord) string { return r.ID },
		func(r ExplanationRecord) string { return r.Status },
	)
}
