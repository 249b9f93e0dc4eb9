package resilience

import (
	"errors"
	"fmt"
	"net"
	"syscall"
	"testing"

	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
)

type fakeAPIError struct {
	code  string
	fault smithy.ErrorFault
}

func (e fakeAPIError) Error() string                 { return e.code }
func (e fakeAPIError) ErrorCode() string             { return e.code }
func (e fakeAPIError) ErrorMessage() string          { return e.code + " message" }
func (e fakeAPIError) ErrorFault() smithy.ErrorFault { return e.fault }

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"explicit", NewTransientError(errors.New("overloaded"), 503), true},
		{"wrapped explicit", fmt.Errorf("call: %w", Unavailable("sagemaker", errors.New("x"))), true},
		{"plain", errors.New("invalid input: missing field"), false},
		{"conn reset", fmt.Errorf("write tcp: %w", syscall.ECONNRESET), true},
		{"conn refused", fmt.Errorf("dial tcp: %w", syscall.ECONNREFUSED), true},
		{"dns timeout", &net.DNSError{IsTimeout: true, Err: "timeout"}, true},
		{"string pattern", errors.New("read: connection reset by peer"), true},
		{"aws throttling", fakeAPIError{code: "ThrottlingException", fault: smithy.FaultClient}, true},
		{"aws server fault", fakeAPIError{code: "SomethingBroke", fault: smithy.FaultServer}, true},
		{"aws validation", fakeAPIError{code: "ValidationException", fault: smithy.FaultClient}, false},
		{"aws wrapped throttling", fmt.Errorf("sns: %w", fakeAPIError{code: "Throttling"}), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

func TestClassify(t *testing.T) {
	assert.NoError(t, Classify("cloudwatch", nil))

	plain := errors.New("bad request")
	assert.Same(t, plain, Classify("cloudwatch", plain))

	err := Classify("cloudwatch", fakeAPIError{code: "Throttling"})
	te, ok := AsTransient(err)
	if assert.True(t, ok) {
		assert.Equal(t, "cloudwatch", te.Service)
		assert.Contains(t, err.Error(), "cloudwatch unavailable")
	}

	already := Unavailable("influx", errors.New("down"))
	assert.Same(t, already, Classify("cloudwatch", already))
}

func TestAPIErrorCode(t *testing.T) {
	assert.Equal(t, "ValidationException", APIErrorCode(fmt.Errorf("x: %w", fakeAPIError{code: "ValidationException"})))
	assert.Equal(t, "", APIErrorCode(errors.New("plain")))
}

func TestIsTransientHTTPStatus(t *testing.T) {
	for _, code := range []int{408, 429, 500, 502, 503, 504} {
		assert.True(t, IsTransientHTTPStatus(code), code)
	}
	for _, code := range []int{200, 400, 401, 403, 404, 422} {
		assert.False(t, IsTransientHTTPStatus(code), code)
	}
}

func TestTransientError_Unwrap(t *testing.T) {
	inner := errors.New("root cause")
	te := NewTransientError(inner, 502)
	assert.ErrorIs(t, te, inner)
	assert.Equal(t, "root cause", te.Error())
	assert.Equal(t, 502, te.StatusCode)
}
