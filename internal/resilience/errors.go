package resilience

import (
	"errors"
	"net"
	"strings"
	"syscall"

	"github.com/aws/smithy-go"
)

// TransientError marks an upstream failure that is safe to retry: throttling,
// 5xx responses, timeouts or an open circuit. Callers treat it as the
// "upstream unavailable" condition.
type TransientError struct {
	Err        error
	Service    string
	StatusCode int
}

func (e *TransientError) Error() string {
	if e.Service == "" {
		return e.Err.Error()
	}
	return e.Service + " unavailable: " + e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// NewTransientError wraps an error as transient with an optional HTTP status code.
func NewTransientError(err error, statusCode int) *TransientError {
	return &TransientError{Err: err, StatusCode: statusCode}
}

// Unavailable wraps err as a transient failure of the named upstream service.
func Unavailable(service string, err error) *TransientError {
	return &TransientError{Err: err, Service: service}
}

// AsTransient returns the first TransientError in err's chain.
func AsTransient(err error) (*TransientError, bool) {
	var te *TransientError
	if errors.As(err, &te) {
		return te, true
	}
	return nil, false
}

// throttlingCodes are AWS error codes that signal back-pressure rather than a bad request.
var throttlingCodes = map[string]bool{
	"Throttling":                             true,
	"ThrottlingException":                    true,
	"ThrottledException":                     true,
	"TooManyRequestsException":               true,
	"RequestLimitExceeded":                   true,
	"ProvisionedThroughputExceededException": true,
	"ServiceUnavailable":                     true,
	"ServiceUnavailableException":            true,
	"InternalFailure":                        true,
	"InternalServerError":                    true,
	"RequestTimeout":                         true,
	"RequestTimeoutException":                true,
}

// IsTransient returns true if the error (or any error in its chain) is a
// TransientError, an AWS throttling or server fault, or a common network
// failure (timeouts, resets, DNS).
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	if _, ok := AsTransient(err); ok {
		return true
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return throttlingCodes[apiErr.ErrorCode()] || apiErr.ErrorFault() == smithy.FaultServer
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, p := range []string{
		"connection reset by peer",
		"broken pipe",
		"temporary failure in name resolution",
		"no such host",
		"tls handshake timeout",
		"i/o timeout",
		"server closed idle connection",
	} {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// Classify converts retryable upstream errors into a TransientError tagged
// with the service name. Other errors are returned unchanged.
func Classify(service string, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := AsTransient(err); ok {
		return err
	}
	if IsTransient(err) {
		return Unavailable(service, err)
	}
	return err
}

// APIErrorCode returns the AWS error code carried by err, or "".
func APIErrorCode(err error) string {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode()
	}
	return ""
}

// IsTransientHTTPStatus returns true if the HTTP status code indicates a
// transient server-side issue that is safe to retry.
func IsTransientHTTPStatus(statusCode int) bool {
	switch statusCode {
	case 408, 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}
