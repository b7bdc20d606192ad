package steps

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/openas4/msh/pkg/message"
	"github.com/openas4/msh/pkg/mime"
	"github.com/openas4/msh/pkg/pipeline"
	"github.com/openas4/msh/pkg/transport"
)

// SendError is a failed exchange, carrying the transport classification
// so the reliability layer can decide whether to retry.
type SendError struct {
	PModeID    string
	MessageIds []string
	Result     *transport.SendResult
}

func (e *SendError) Error() string {
	return fmt.Sprintf("sending message(s) %s with pmode %s failed: %s (status %d)",
		strings.Join(e.MessageIds, ", "), e.PModeID, e.Result.Type, e.Result.StatusCode)
}

func (e *SendError) Unwrap() error { return e.Result.Err }

// Retryable reports whether the failure is worth retrying.
func (e *SendError) Retryable() bool { return e.Result.Type == transport.RetryableFail }

// SendMessage posts the context message to the sending PMode's push
// URL. An AS4 response body (receipt, error or pulled user message)
// becomes the new context message; an empty 2xx response ends the flow.
type SendMessage struct {
	client *transport.Client
}

func NewSendMessage(client *transport.Client) *SendMessage {
	return &SendMessage{client: client}
}

func (s *SendMessage) Name() string { return "send-message" }

func (s *SendMessage) Execute(ctx context.Context, mc *pipeline.MessagingContext) (*pipeline.StepResult, error) {
	msg := mc.AS4Message
	if mc.SendingPMode == nil || mc.SendingPMode.PushConfiguration == nil {
		return nil, fmt.Errorf("steps: sending pmode has no push URL")
	}
	endpoint := mc.SendingPMode.PushConfiguration.URL

	var buf bytes.Buffer
	contentType, err := mime.Serialize(msg, &buf)
	if err != nil {
		return nil, fmt.Errorf("serializing message: %w", err)
	}

	result, err := s.client.Send(ctx, endpoint, buf.Bytes(), contentType)
	if err != nil {
		return nil, err
	}

	if !result.IsSuccess() {
		return nil, &SendError{
			PModeID:    mc.SendingPMode.ID,
			MessageIds: msg.MessageIds(),
			Result:     result,
		}
	}

	if !result.HasBody() {
		// Receiver accepted without a response document. Nothing left
		// to process in this flow.
		return pipeline.Stop(mc.CloneWith(mc.Mode, message.NewAS4Message())), nil
	}

	response, err := mime.Parse(result.ContentType, bytes.NewReader(result.Body))
	if err != nil {
		return nil, fmt.Errorf("parsing response from %s: %w", endpoint, err)
	}
	response.ContentType = result.ContentType

	return pipeline.Proceed(mc.CloneWith(mc.Mode, response)), nil
}
