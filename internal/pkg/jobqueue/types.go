package jobqueue

import (
	"encoding/json"
	"time"
)

// JobType selects the processor that runs a job
type JobType string

const (
	JobTypeSendEmail     JobType = "send_email"
	JobTypeGrantPurchase JobType = "grant_purchase"
)

// JobStatus defines the status of a job
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusRetrying   JobStatus = "retrying"
)

// Job is a unit of background work stored as JSON under JobKeyPrefix+ID.
type Job struct {
	ID          string                 `json:"id"`
	Type        JobType                `json:"type"`
	Status      JobStatus              `json:"status"`
	Payload     map[string]interface{} `json:"payload"`
	CreatedAt   time.Time              `json:"created_at"`
	UpdatedAt   time.Time              `json:"updated_at"`
	ProcessedAt *time.Time             `json:"processed_at,omitempty"`
	ErrorMsg    string                 `json:"error_msg,omitempty"`
	RetryCount  int                    `json:"retry_count"`
	MaxRetries  int                    `json:"max_retries"`
}

// SendEmailJobPayload contains the payload for notification mails
type SendEmailJobPayload struct {
	To               string `json:"to"`
	Subject          string `json:"subject"`
	Body             string `json:"body"`
	PaymentRequestID uint   `json:"payment_request_id,omitempty"`
}

// ToMap converts the payload to a map for storage
func (p SendEmailJobPayload) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"to":                 p.To,
		"subject":            p.Subject,
		"body":               p.Body,
		"payment_request_id": p.PaymentRequestID,
	}
}

// SendEmailJobPayloadFromMap creates a payload from a map
func SendEmailJobPayloadFromMap(data map[string]interface{}) (*SendEmailJobPayload, error) {
	var payload SendEmailJobPayload
	err := decodePayload(data, &payload)
	return &payload, err
}

// GrantPurchaseJobPayload retries adding a paid item to a buyer's library
type GrantPurchaseJobPayload struct {
	UserID           uint   `json:"user_id"`
	ItemType         string `json:"item_type"`
	ItemID           uint   `json:"item_id"`
	PaymentRequestID uint   `json:"payment_request_id"`
}

// ToMap converts the payload to a map for storage
func (p GrantPurchaseJobPayload) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"user_id":            p.UserID,
		"item_type":          p.ItemType,
		"item_id":            p.ItemID,
		"payment_request_id": p.PaymentRequestID,
	}
}

// GrantPurchaseJobPayloadFromMap creates a payload from a map
func GrantPurchaseJobPayloadFromMap(data map[string]interface{}) (*GrantPurchaseJobPayload, error) {
	var payload GrantPurchaseJobPayload
	err := decodePayload(data, &payload)
	return &payload, err
}

func decodePayload(data map[string]interface{}, dest interface{}) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return json.Unmarshal(jsonData, dest)
}

// CanRetry reports whether another attempt is allowed after a failure
func (j *Job) CanRetry() bool {
	return j.RetryCount < j.MaxRetries
}

// Begin marks the start of an attempt
func (j *Job) Begin(at time.Time) {
	j.Status = JobStatusProcessing
	j.UpdatedAt = at
	j.ProcessedAt = &at
}

// Fail records a failed attempt. The job moves to retrying while attempts
// remain and to failed otherwise; the return value tells which.
func (j *Job) Fail(at time.Time, reason string) (retry bool) {
	j.RetryCount++
	j.ErrorMsg = reason
	j.UpdatedAt = at
	if j.CanRetry() {
		j.Status = JobStatusRetrying
		return true
	}
	j.Status = JobStatusFailed
	return false
}

// RetryDelay is the backoff before the next attempt
func (j *Job) RetryDelay() time.Duration {
	return time.Minute * time.Duration(j.RetryCount)
}
