// Package domain provides the canonical types and error types shared by every
// stage of the governance pipeline.
package domain

import (
	"fmt"
	"net/http"
)

// ProviderErrorKind categorizes a normalized provider failure.
type ProviderErrorKind string

const (
	// ProviderErrRateLimit indicates the provider rejected the call for
	// rate limiting. Retryable.
	ProviderErrRateLimit ProviderErrorKind = "rate_limit"

	// ProviderErrTimeout indicates the call exceeded its deadline or the
	// provider reported an upstream timeout. Retryable.
	ProviderErrTimeout ProviderErrorKind = "timeout"

	// ProviderErrAuth indicates the credentials were rejected.
	ProviderErrAuth ProviderErrorKind = "auth"

	// ProviderErrMalformed indicates the provider returned a response the
	// adapter could not parse, or rejected the request as invalid.
	ProviderErrMalformed ProviderErrorKind = "malformed"

	// ProviderErrUnknown covers everything else.
	ProviderErrUnknown ProviderErrorKind = "unknown"
)

// ProviderError is a provider failure normalized into the shared vocabulary.
// Adapters translate wire-level errors into this type; nothing downstream ever
// sees a provider-specific error shape.
type ProviderError struct {
	// Kind is the failure category
	Kind ProviderErrorKind `json:"kind"`

	// Provider names the adapter that produced the error
	Provider string `json:"provider"`

	// Message is the human-readable detail, provider text included
	Message string `json:"message"`

	// StatusCode is the upstream HTTP status, when one was received
	StatusCode int `json:"status_code,omitempty"`

	// Retryable says whether the gateway may retry the call
	Retryable bool `json:"retryable"`
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: %s (%d): %s", e.Provider, e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", e.Provider, e.Kind, e.Message)
}

// NewProviderError creates a provider error with retryability derived from
// the kind.
func NewProviderError(kind ProviderErrorKind, provider, message string) *ProviderError {
	return &ProviderError{
		Kind:      kind,
		Provider:  provider,
		Message:   message,
		Retryable: kind == ProviderErrRateLimit || kind == ProviderErrTimeout,
	}
}

// WithStatusCode records the upstream HTTP status.
func (e *ProviderError) WithStatusCode(code int) *ProviderError {
	e.StatusCode = code
	return e
}

// KindForStatus maps an upstream HTTP status onto an error kind.
func KindForStatus(status int) ProviderErrorKind {
	switch {
	case status == http.StatusTooManyRequests:
		return ProviderErrRateLimit
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ProviderErrAuth
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return ProviderErrTimeout
	case status >= 400 && status < 500:
		return ProviderErrMalformed
	default:
		return ProviderErrUnknown
	}
}

// PolicyConfigError reports an invalid policy document. It is fatal at load
// time; the engine refuses to start or reload with a policy that fails
// validation.
type PolicyConfigError struct {
	RuleID string
	Reason string
}

func (e *PolicyConfigError) Error() string {
	if e.RuleID != "" {
		return fmt.Sprintf("policy config: rule %q: %s", e.RuleID, e.Reason)
	}
	return fmt.Sprintf("policy config: %s", e.Reason)
}

// AuditWriteError reports a failure to append to the audit trail after
// retries were exhausted. It is never swallowed: in strict mode it fails the
// interaction, in best-effort mode it is surfaced as a degraded-audit warning.
type AuditWriteError struct {
	InteractionID string
	Err           error
}

func (e *AuditWriteError) Error() string {
	return fmt.Sprintf("audit write for %s: %v", e.InteractionID, e.Err)
}

func (e *AuditWriteError) Unwrap() error {
	return e.Err
}

// DetectorUnavailableError reports that one detector could not evaluate an
// interaction. The assessment proceeds with that category scored zero.
type DetectorUnavailableError struct {
	Detector string
	Err      error
}

func (e *DetectorUnavailableError) Error() string {
	return fmt.Sprintf("detector %s unavailable: %v", e.Detector, e.Err)
}

func (e *DetectorUnavailableError) Unwrap() error {
	return e.Err
}

// CostComputationError reports that usage was missing or inconsistent and the
// cost had to be estimated from text.
type CostComputationError struct {
	InteractionID string
	Reason        string
}

func (e *CostComputationError) Error() string {
	return fmt.Sprintf("cost computation for %s: %s", e.InteractionID, e.Reason)
}

// DuplicateInteractionError is returned by audit stores when an entry for the
// interaction already exists. Appends are idempotent by interaction ID.
type DuplicateInteractionError struct {
	InteractionID string
	Seq           uint64
}

func (e *DuplicateInteractionError) Error() string {
	return fmt.Sprintf("audit entry for %s already exists at seq %d", e.InteractionID, e.Seq)
}
