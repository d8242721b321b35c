package api

import "time"

// Status is the closed enumeration of authentication result codes
// carried on the outcome queue. The values mirror the external
// authority's HTTP status codes, transmitted as strings.
type Status string

const (
	// StatusAccepted is returned synchronously by the intake boundary.
	// It never appears on the outcome queue.
	StatusAccepted Status = "202"

	// StatusSuccess means the authority authenticated the document.
	StatusSuccess Status = "200"

	// StatusNoContent means the authority answered with no body.
	StatusNoContent Status = "204"

	// StatusInternalError covers authority application errors and every
	// failure the orchestrator recovers from.
	StatusInternalError Status = "500"

	// StatusWrongParameters means the authority rejected the call input.
	StatusWrongParameters Status = "501"

	// StatusServiceUnavailable is reserved for downstream consumers that
	// distinguish unavailability from application errors.
	StatusServiceUnavailable Status = "503"
)

// Valid reports whether s is one of the publishable outcome codes.
func (s Status) Valid() bool {
	switch s {
	case StatusSuccess, StatusNoContent, StatusInternalError,
		StatusWrongParameters, StatusServiceUnavailable:
		return true
	}
	return false
}

// Standard outcome messages.
const (
	MessageAccepted           = "Accepted"
	MessageNoContent          = "No Content"
	MessageApplicationError   = "Application Error"
	MessageWrongParameters    = "Wrong Parameters"
	MessageServiceUnavailable = "External authority service unavailable"
)

// ClaimSet is the normalized identity extracted from a bearer token.
//
// Upstream token producers use inconsistent field names, so FolderID and
// CitizenID are resolved through ordered fallback lists at extraction
// time. A ClaimSet is therefore always fully populated: FolderID falls
// back to "unknown" and CitizenID to 0 rather than failing.
type ClaimSet struct {
	// FolderID identifies the citizen's document folder.
	FolderID string

	// CitizenID is the citizen's identification number.
	CitizenID int64

	// Subject is the token subject, kept for logging and as the last
	// folder fallback.
	Subject string

	// Expiry is the token expiration as a Unix timestamp, zero when the
	// token carries no exp claim.
	Expiry int64
}

// AuthenticationRequest describes one document to authenticate.
// Immutable once created at the intake boundary.
type AuthenticationRequest struct {
	// DocumentID is the document identifier (required).
	DocumentID string `json:"documentId"`

	// DocumentTitle is the human-readable document title (required).
	DocumentTitle string `json:"documentTitle"`

	// BypassSignatureCheck skips token signature verification.
	// Trust-reducing, intended for testing only.
	BypassSignatureCheck bool `json:"bypassSignatureCheck,omitempty"`

	// OverridePresignedURL, when set, is used as the document URL
	// directly instead of calling the folder service.
	OverridePresignedURL string `json:"overridePresignedUrl,omitempty"`
}

// AuthenticationOutcome is the terminal result of one authentication
// attempt. Exactly one outcome is produced per accepted request and it
// is never mutated after publication.
type AuthenticationOutcome struct {
	DocumentID string
	FolderID   string
	StatusCode Status
	Message    string
	RecordedAt time.Time
}
