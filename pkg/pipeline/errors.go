package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/openas4/msh/pkg/message"
)

// Error is a flow error that maps onto an ebMS error signal. Steps
// return it (wrapped or bare) when a failure must be reported to the
// remote party rather than only logged.
type Error struct {
	Code           message.ErrorCode
	RefToMessageID string
	Detail         string
	Cause          error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code.Code, e.Detail, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code.Code, e.Detail)
}

func (e *Error) Unwrap() error { return e.Cause }

// NewError builds a flow error for the given ebMS error code.
func NewError(code message.ErrorCode, refToMessageID, detail string, cause error) *Error {
	return &Error{Code: code, RefToMessageID: refToMessageID, Detail: detail, Cause: cause}
}

// Signal converts the error into an ebMS error signal message.
func (e *Error) Signal() *message.SignalMessage {
	return message.NewErrorSignal(e.Code, e.RefToMessageID, e.Detail)
}

// ExceptionSink persists failed flows so operators can inspect and the
// notify flow can inform the producer. Implemented by the datastore.
type ExceptionSink interface {
	StoreException(ctx context.Context, mc *MessagingContext, err error) error
}

// Catching wraps a pipeline so that flow errors are persisted through
// the sink and, for receive flows, converted into an error signal on
// the returned context instead of propagating.
type Catching struct {
	inner  *Pipeline
	sink   ExceptionSink
	logger *slog.Logger
}

// NewCatching decorates p. sink may be nil, in which case exceptions
// are only logged.
func NewCatching(p *Pipeline, sink ExceptionSink, logger *slog.Logger) *Catching {
	if logger == nil {
		logger = slog.Default()
	}
	return &Catching{inner: p, sink: sink, logger: logger}
}

// Execute runs the inner pipeline. A *Error in the error chain is
// absorbed: it is recorded via the sink and, when the flow is a receive
// flow with a message attached, an ebMS error signal referencing the
// failed message is placed on the context for the response.
func (c *Catching) Execute(ctx context.Context, mc *MessagingContext) (*MessagingContext, error) {
	out, err := c.inner.Execute(ctx, mc)
	if err == nil {
		return out, nil
	}

	var flowErr *Error
	if !errors.As(err, &flowErr) {
		return out, err
	}

	if c.sink != nil {
		if serr := c.sink.StoreException(ctx, out, err); serr != nil {
			c.logger.Error("storing exception failed", "error", serr, "cause", err)
		}
	}
	c.logger.Warn("flow error",
		"mode", out.Mode.String(),
		"code", flowErr.Code.Code,
		"detail", flowErr.Detail,
		"error", err)

	if out.Mode == ModeReceive && out.AS4Message != nil {
		signal := flowErr.Signal()
		response := message.NewAS4Message()
		response.AddSignalMessage(signal)
		return out.CloneWith(ModeReceive, response), nil
	}
	return out, err
}
