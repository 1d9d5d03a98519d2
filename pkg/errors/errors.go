package errors

import "fmt"

// ErrorType classifies failures across the auth, scrape, data and storage layers.
type ErrorType string

const (
	// Auth failures.
	ErrorTypeCredentialsMissing    ErrorType = "credentials_missing"
	ErrorTypeLoginFailed           ErrorType = "login_failed"
	ErrorTypePasswordResetDetected ErrorType = "password_reset_detected"
	ErrorTypeVerificationRequired  ErrorType = "verification_required"
	ErrorTypeVerificationUncertain ErrorType = "verification_uncertain"
	ErrorTypeCookieTransferFailed  ErrorType = "cookie_transfer_failed"

	// Scrape failures.
	ErrorTypeRateLimited      ErrorType = "rate_limited"
	ErrorTypeSelectorNotFound ErrorType = "selector_not_found"
	ErrorTypeTimeout          ErrorType = "timeout"
	ErrorTypeNetwork          ErrorType = "network"
	ErrorTypeServerError      ErrorType = "server_error"

	// Data failures.
	ErrorTypeDuplicate       ErrorType = "duplicate"
	ErrorTypeMalformedRecord ErrorType = "malformed_record"
	ErrorTypeParsing         ErrorType = "parsing"

	// Storage failures.
	ErrorTypeWriteFailure ErrorType = "write_failure"

	ErrorTypeUnknown ErrorType = "unknown"
)

// Error carries the failure class plus enough context (state name, strategy
// attempted, HTTP code) to diagnose a session failure without re-running it.
type Error struct {
	Type     ErrorType
	Message  string
	Code     int
	State    string // browser FSM state or pipeline stage, when applicable
	Strategy string // cookie-transfer strategy or selector that was attempted
}

func (e *Error) Error() string {
	if e.State != "" {
		return fmt.Sprintf("%s error in %s: %s", e.Type, e.State, e.Message)
	}
	if e.Code != 0 {
		return fmt.Sprintf("%s error (code %d): %s", e.Type, e.Code, e.Message)
	}
	return fmt.Sprintf("%s error: %s", e.Type, e.Message)
}

// New builds an Error with just a type and message.
func New(t ErrorType, msg string) *Error {
	return &Error{Type: t, Message: msg}
}

// Newf builds an Error with a formatted message.
func Newf(t ErrorType, format string, args ...interface{}) *Error {
	return &Error{Type: t, Message: fmt.Sprintf(format, args...)}
}

// InState builds an Error annotated with the FSM state it originated from.
func InState(t ErrorType, state, msg string) *Error {
	return &Error{Type: t, Message: msg, State: state}
}

// IsRetryable reports whether a failure of this class may succeed on retry.
// Password resets and verification challenges are always terminal: retrying
// an already-flagged account worsens detection risk.
func IsRetryable(t ErrorType) bool {
	switch t {
	case ErrorTypeNetwork, ErrorTypeRateLimited, ErrorTypeServerError, ErrorTypeTimeout:
		return true
	default:
		return false
	}
}

// TypeForStatusCode maps an HTTP status to a failure class.
func TypeForStatusCode(code int) ErrorType {
	switch {
	case code == 429:
		return ErrorTypeRateLimited
	case code == 401 || code == 403:
		return ErrorTypeLoginFailed
	case code >= 500:
		return ErrorTypeServerError
	default:
		return ErrorTypeUnknown
	}
}
