package message

import "time"

// DeliverMessageEnvelope is the outbound business payload handed to a
// configured deliver sender once a received UserMessage passed security and
// decompression.
type DeliverMessageEnvelope struct {
	MessageID   string
	ContentType string
	Content     []byte
}

// NotifyStatus classifies what a notification reports.
type NotifyStatus string

const (
	NotifyDelivered NotifyStatus = "Delivered"
	NotifyError     NotifyStatus = "Error"
	NotifyExhausted NotifyStatus = "Exception"
)

// NotifyMessageEnvelope reports a message's fate (delivered, errored,
// retry-exhausted) to the business application via a notify sender.
type NotifyMessageEnvelope struct {
	MessageID   string
	Status      NotifyStatus
	StatusTime  time.Time
	ContentType string
	Content     []byte
}
