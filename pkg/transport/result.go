package transport

import (
	"fmt"
	"net/http"
)

// ResultType classifies a send outcome for the reliability layer.
type ResultType int

const (
	// Success: the receiver accepted the message.
	Success ResultType = iota
	// RetryableFail: a transient failure, reception awareness may retry.
	RetryableFail
	// FatalFail: the receiver rejected the message, retrying cannot help.
	FatalFail
)

func (t ResultType) String() string {
	switch t {
	case Success:
		return "success"
	case RetryableFail:
		return "retryable-fail"
	case FatalFail:
		return "fatal-fail"
	default:
		return fmt.Sprintf("result-type(%d)", int(t))
	}
}

// SendResult is the outcome of one HTTP exchange.
type SendResult struct {
	Type        ResultType
	StatusCode  int
	ContentType string
	Body        []byte
	Err         error
}

// IsSuccess reports whether the exchange succeeded.
func (r *SendResult) IsSuccess() bool { return r.Type == Success }

// HasBody reports whether the receiver returned a response document.
func (r *SendResult) HasBody() bool { return len(r.Body) > 0 }

// ClassifyStatusCode maps an HTTP status to a result type. 2xx is
// success, 408/429 and every 5xx are worth retrying, anything else is
// a permanent rejection.
func ClassifyStatusCode(status int) ResultType {
	switch {
	case status >= 200 && status < 300:
		return Success
	case status == http.StatusRequestTimeout, status == http.StatusTooManyRequests:
		return RetryableFail
	case status >= 500 && status < 600:
		return RetryableFail
	default:
		return FatalFail
	}
}
