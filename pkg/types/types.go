// Package types holds the gateway's wire-level request and response shapes.
package types

import "encoding/json"

// ToolRequest invokes one lifecycle stage against a claim. Payload is the
// stage's partial input; fields may arrive over several requests.
type ToolRequest struct {
	ClaimID string          `json:"claim_id"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Response status codes. Recoverable conditions keep the claim workable;
// terminal ones require the caller to change course.
const (
	StatusOK                   = "ok"
	StatusValidationIncomplete = "validation_incomplete"
	StatusHandlerFailed        = "handler_failed"
	StatusIllegalTransition    = "illegal_transition"
	StatusPreconditionFailed   = "precondition_failed"
	StatusConflict             = "conflict"
	StatusNotFound             = "not_found"
	StatusUnknownStage         = "unknown_stage"
)

// AuditEntry is one transition attempt as exposed over the API.
type AuditEntry struct {
	AuditID     string `json:"audit_id"`
	Seq         int64  `json:"seq"`
	Stage       string `json:"stage"`
	Result      string `json:"result"`
	Detail      string `json:"detail"`
	PrevDigest  string `json:"prev_digest"`
	Digest      string `json:"digest"`
	AttemptedAt string `json:"attempted_at"`
}

// ToolResponse reports the claim's state after a tool call, on rejected
// attempts as well as successful ones.
type ToolResponse struct {
	ClaimID       string      `json:"claim_id"`
	Tool          string      `json:"tool"`
	Status        string      `json:"status"`
	Stage         string      `json:"stage,omitempty"`
	Detail        string      `json:"detail,omitempty"`
	MissingFields []string    `json:"missing_fields,omitempty"`
	Duplicates    []string    `json:"duplicates,omitempty"`
	PaymentStatus string      `json:"payment_status,omitempty"`
	Error         string      `json:"error,omitempty"`
	Audit         *AuditEntry `json:"audit,omitempty"`
}

// ClaimResponse returns the stored claim body with its concurrency version.
type ClaimResponse struct {
	ClaimID string          `json:"claim_id"`
	Stage   string          `json:"stage"`
	Version int64           `json:"version"`
	Claim   json.RawMessage `json:"claim"`
}

// AuditResponse returns a claim's full audit trail plus the result of
// re-verifying its digest chain.
type AuditResponse struct {
	ClaimID    string       `json:"claim_id"`
	Entries    []AuditEntry `json:"entries"`
	ChainValid bool         `json:"chain_valid"`
	ChainError string       `json:"chain_error,omitempty"`
}
