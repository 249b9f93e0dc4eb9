package dispatch

import (
	"context"
	"net/http"
	"time"

	"github.com/rotisserie/eris"

	"github.com/PeterSoManLung/FindDinning/internal/model"
	"github.com/PeterSoManLung/FindDinning/internal/resilience"
)

// Response is the envelope every entry point returns.
type Response struct {
	StatusCode int  `json:"statusCode"`
	Body       Body `json:"body"`
}

// Body carries either Data or Error.
type Body struct {
	Success bool       `json:"success"`
	Data    any        `json:"data,omitempty"`
	Error   *ErrorBody `json:"error,omitempty"`
}

// ErrorBody describes a failed command.
type ErrorBody struct {
	Message string `json:"message"`
	Code    int    `json:"code"`
	// RetryAfterSecs is set when an upstream was unavailable.
	RetryAfterSecs int `json:"retry_after_secs,omitempty"`
}

// RetryAfter is the back-off suggested to callers when an upstream is down.
const RetryAfter = 30 * time.Second

// OK wraps a successful result.
func OK(data any) Response {
	return Response{StatusCode: http.StatusOK, Body: Body{Success: true, Data: data}}
}

// Failure maps err onto the error taxonomy.
func Failure(err error) Response {
	code := StatusFor(err)
	body := &ErrorBody{Message: messageFor(err, code), Code: code}
	if code == http.StatusServiceUnavailable {
		body.RetryAfterSecs = int(RetryAfter.Seconds())
	}
	return Response{StatusCode: code, Body: Body{Error: body}}
}

// StatusFor returns the HTTP status for err: 400 for invalid input, 404 for
// missing records, 503 for an unavailable upstream and 500 otherwise.
func StatusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case eris.Is(err, model.ErrInvalidInput):
		return http.StatusBadRequest
	case eris.Is(err, model.ErrNotFound):
		return http.StatusNotFound
	case resilience.IsTransient(err), eris.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	case eris.Is(err, ErrNotConfigured):
		return http.StatusNotImplemented
	}
	return http.StatusInternalServerError
}

// messageFor hides internal error detail from callers.
func messageFor(err error, code int) string {
	switch code {
	case http.StatusInternalServerError:
		return "Internal server error"
	case http.StatusServiceUnavailable:
		return "Upstream service unavailable, retry later"
	}
	return err.Error()
}

// Execute runs cmd and wraps the outcome in the response envelope.
func (d *Dispatcher) Execute(ctx context.Context, cmd Command) Response {
	out, err := d.Handle(ctx, cmd)
	if err != nil {
		return Failure(err)
	}
	return OK(out)
}

// HandleEvent decodes a raw event for fn and executes it.
func (d *Dispatcher) HandleEvent(ctx context.Context, fn Function, payload []byte) Response {
	cmd, err := Decode(fn, payload)
	if err != nil {
		return Failure(err)
	}
	return d.Execute(ctx, cmd)
}
