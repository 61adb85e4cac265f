package llm

import (
	"context"
	stderrors "errors"
	"net"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/openai/openai-go"
)

// failureClass determines whether and how fast an attempt is retried.
type failureClass int

const (
	// failureFatal aborts the backend immediately (bad request, auth)
	failureFatal failureClass = iota
	failureRateLimit
	failureServer
	failureTimeout
	failureConnection
)

func (f failureClass) retryable() bool {
	return f != failureFatal
}

// backoffBase returns the first retry delay for the class. Rate limits and
// timeouts back off harder than generic server or connection errors.
func (f failureClass) backoffBase() time.Duration {
	switch f {
	case failureRateLimit, failureTimeout:
		return 5 * time.Second
	default:
		return time.Second
	}
}

// classifyError maps an SDK or transport error onto a failure class.
func classifyError(err error) failureClass {
	if err == nil {
		return failureFatal
	}

	if stderrors.Is(err, context.DeadlineExceeded) {
		return failureTimeout
	}
	var netErr net.Error
	if stderrors.As(err, &netErr) && netErr.Timeout() {
		return failureTimeout
	}

	if status, ok := apiStatusCode(err); ok {
		switch {
		case status == 429:
			return failureRateLimit
		case status >= 500:
			return failureServer
		default:
			return failureFatal
		}
	}

	var opErr *net.OpError
	if stderrors.As(err, &opErr) {
		return failureConnection
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "no such host") ||
		strings.Contains(msg, "unexpected eof") {
		return failureConnection
	}

	return failureFatal
}

func apiStatusCode(err error) (int, bool) {
	var openaiErr *openai.Error
	if stderrors.As(err, &openaiErr) {
		return openaiErr.StatusCode, true
	}
	var anthropicErr *anthropic.Error
	if stderrors.As(err, &anthropicErr) {
		return anthropicErr.StatusCode, true
	}
	return 0, false
}
