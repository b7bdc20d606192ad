package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/openas4/msh/pkg/pmode"
)

// MethodHTTP is the deliver/notify method type posting payloads to an
// HTTP endpoint.
const MethodHTTP = "HTTP"

// PayloadSendError reports a failed HTTP payload hand-off together with
// its transport classification, so the caller can tell transient
// endpoint trouble from a permanent rejection.
type PayloadSendError struct {
	URL        string
	StatusCode int
	Type       ResultType
	Err        error
}

func (e *PayloadSendError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("transport: posting payload to %s: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("transport: posting payload to %s: status %d (%s)", e.URL, e.StatusCode, e.Type)
}

func (e *PayloadSendError) Unwrap() error { return e.Err }

// Retryable reports whether the failure is worth retrying.
func (e *PayloadSendError) Retryable() bool { return e.Type == RetryableFail }

// HTTPSender posts payloads to the URL named by the method's "location"
// parameter. The payload name travels in the Content-Disposition
// header.
type HTTPSender struct {
	// Client is the HTTP client to post with. The zero value uses
	// http.DefaultClient.
	Client *http.Client
}

func (s HTTPSender) SendPayload(ctx context.Context, method *pmode.Method, name, contentType string, data []byte) error {
	location := method.Parameter("location")
	if location == "" {
		return fmt.Errorf("transport: HTTP method requires a location parameter")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, location, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("creating request for %s: %w", location, err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))

	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return &PayloadSendError{URL: location, Type: RetryableFail, Err: err}
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if outcome := ClassifyStatusCode(resp.StatusCode); outcome != Success {
		return &PayloadSendError{URL: location, StatusCode: resp.StatusCode, Type: outcome}
	}
	return nil
}
