package api

import (
	"fmt"
	"time"
)

// RequestEvent is the inbound message on the request queue. The intake
// boundary publishes one per accepted HTTP request; the orchestrator's
// consumer is its only reader.
//
// FolderID and CitizenID carry the claims the intake boundary already
// extracted. When both are absent the orchestrator re-extracts them from
// RawToken, honoring BypassSignatureCheck.
type RequestEvent struct {
	DocumentID           string `json:"documentId"`
	DocumentTitle        string `json:"documentTitle"`
	FolderID             string `json:"folderId,omitempty"`
	CitizenID            int64  `json:"citizenId,omitempty"`
	BypassSignatureCheck bool   `json:"bypassSignatureCheck,omitempty"`
	OverridePresignedURL string `json:"overridePresignedUrl,omitempty"`
	RawToken             string `json:"rawToken"`
}

// Validate checks the fields required for processing. A validation
// failure means the message is malformed and must be rejected to the
// broker's dead-letter path, not converted into an outcome.
func (e *RequestEvent) Validate() error {
	if e.DocumentID == "" {
		return fmt.Errorf("requestEvent: missing documentId")
	}
	if e.DocumentTitle == "" {
		return fmt.Errorf("requestEvent: missing documentTitle")
	}
	if e.RawToken == "" {
		return fmt.Errorf("requestEvent: missing rawToken")
	}
	return nil
}

// OutcomeEvent is the outbound message on the outcome queue.
//
// The wire schema is canonically camelCase with RecordedAt rendered as
// an ISO-8601 (RFC 3339) timestamp. StatusCode is a string per the
// Status enumeration.
type OutcomeEvent struct {
	DocumentID string `json:"documentId"`
	FolderID   string `json:"folderId"`
	StatusCode Status `json:"statusCode"`
	Message    string `json:"message"`
	RecordedAt string `json:"recordedAt"`
}

// NewOutcomeEvent converts an AuthenticationOutcome into its wire form.
func NewOutcomeEvent(o AuthenticationOutcome) OutcomeEvent {
	return OutcomeEvent{
		DocumentID: o.DocumentID,
		FolderID:   o.FolderID,
		StatusCode: o.StatusCode,
		Message:    o.Message,
		RecordedAt: o.RecordedAt.UTC().Format(time.RFC3339),
	}
}
