// Package pipeline provides the step based processing framework that
// all message flows (submit, send, receive, deliver, notify) run on.
package pipeline

import (
	"github.com/openas4/msh/pkg/message"
	"github.com/openas4/msh/pkg/pmode"
)

// Mode identifies the flow a MessagingContext travels through.
type Mode int

const (
	ModeUnknown Mode = iota
	ModeSubmit
	ModeSend
	ModeReceive
	ModeDeliver
	ModeNotify
)

func (m Mode) String() string {
	switch m {
	case ModeSubmit:
		return "submit"
	case ModeSend:
		return "send"
	case ModeReceive:
		return "receive"
	case ModeDeliver:
		return "deliver"
	case ModeNotify:
		return "notify"
	default:
		return "unknown"
	}
}

// MessagingContext carries one unit of work through a pipeline. Exactly
// one of the message fields is the subject of the flow, selected by Mode.
type MessagingContext struct {
	Mode Mode

	AS4Message     *message.AS4Message
	SubmitMessage  *message.SubmitMessage
	DeliverMessage *message.DeliverMessageEnvelope
	NotifyMessage  *message.NotifyMessageEnvelope

	SendingPMode   *pmode.SendingProcessingMode
	ReceivingPMode *pmode.ReceivingProcessingMode

	// ReceiptReference holds the id of the user message a generated
	// receipt acknowledges, set while building response signals.
	ReceiptReference string
}

// NewContext returns a context for the given flow mode.
func NewContext(mode Mode) *MessagingContext {
	return &MessagingContext{Mode: mode}
}

// WithAS4Message returns the context with msg attached, for chaining.
func (mc *MessagingContext) WithAS4Message(msg *message.AS4Message) *MessagingContext {
	mc.AS4Message = msg
	return mc
}

// mustMessage panics when no AS4 message is attached. Steps that
// require one are wired after a step that attaches it, so a nil here
// is a programming error and failing loudly beats a silent nil deref
// three calls deeper.
func (mc *MessagingContext) mustMessage() *message.AS4Message {
	if mc.AS4Message == nil {
		panic("pipeline: context has no AS4 message in mode " + mc.Mode.String())
	}
	return mc.AS4Message
}

// MessageIds returns the ids of the attached AS4 message, user messages
// first. Panics when no message is attached.
func (mc *MessagingContext) MessageIds() []string {
	return mc.mustMessage().MessageIds()
}

// HasAttachments reports whether the attached AS4 message carries
// attachments. Panics when no message is attached.
func (mc *MessagingContext) HasAttachments() bool {
	return mc.mustMessage().HasAttachments()
}

// FirstUserMessage returns the primary user message of the attached AS4
// message, nil when it carries none. Panics when no message is attached.
func (mc *MessagingContext) FirstUserMessage() *message.UserMessage {
	return mc.mustMessage().FirstUserMessage()
}

// PrimarySignalMessage returns the primary signal message of the
// attached AS4 message, nil when it carries none. Panics when no
// message is attached.
func (mc *MessagingContext) PrimarySignalMessage() *message.SignalMessage {
	return mc.mustMessage().PrimarySignalMessage()
}

// CloneWith returns a new context in the given mode carrying msg, with
// the processing modes of the original preserved.
func (mc *MessagingContext) CloneWith(mode Mode, msg *message.AS4Message) *MessagingContext {
	return &MessagingContext{
		Mode:           mode,
		AS4Message:     msg,
		SendingPMode:   mc.SendingPMode,
		ReceivingPMode: mc.ReceivingPMode,
	}
}

// Close releases attachment resources of the attached message, if any.
func (mc *MessagingContext) Close() error {
	if mc.AS4Message == nil {
		return nil
	}
	return mc.AS4Message.Close()
}
