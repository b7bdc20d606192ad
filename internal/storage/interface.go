// Package storage defines the datastore boundary of the MSH: message
// metadata, retry bookkeeping, processing exceptions and raw message
// bodies.
//
// All implementations must be safe for concurrent use. The out-message
// claim is the single serialization point between submit, the retry
// poller and the pull responder: a message moves ToBeSent -> Sending
// exactly once no matter how many workers race for it.
package storage

import (
	"context"
	"errors"
	"io"
	"time"
)

var (
	ErrNotFound           = errors.New("storage: not found")
	ErrNoMessageAvailable = errors.New("storage: no message available")
	ErrDuplicateMessage   = errors.New("storage: duplicate ebms message id")
)

// Operation tracks where a stored message sits in its flow.
type Operation string

const (
	OperationNotApplicable  Operation = "NOT_APPLICABLE"
	OperationToBeProcessed  Operation = "TO_BE_PROCESSED"
	OperationProcessing     Operation = "PROCESSING"
	OperationProcessed      Operation = "PROCESSED"
	OperationToBeSent       Operation = "TO_BE_SENT"
	OperationSending        Operation = "SENDING"
	OperationSent           Operation = "SENT"
	OperationToBeDelivered  Operation = "TO_BE_DELIVERED"
	OperationDelivering     Operation = "DELIVERING"
	OperationDelivered      Operation = "DELIVERED"
	OperationToBeNotified   Operation = "TO_BE_NOTIFIED"
	OperationNotifying      Operation = "NOTIFYING"
	OperationNotified       Operation = "NOTIFIED"
	OperationDeadLettered   Operation = "DEAD_LETTERED"
	OperationNotDownloaded  Operation = "NOT_DOWNLOADED"
)

// MessageType distinguishes user messages from signals in storage.
type MessageType string

const (
	MessageTypeUserMessage MessageType = "UserMessage"
	MessageTypeReceipt     MessageType = "Receipt"
	MessageTypeError       MessageType = "Error"
	MessageTypePullRequest MessageType = "PullRequest"
)

// OutMessage is the stored record of an outgoing message.
type OutMessage struct {
	EbmsMessageID  string      `bson:"_id"`
	RefToMessageID string      `bson:"ref_to_message_id,omitempty"`
	MessageType    MessageType `bson:"message_type"`
	PModeID        string      `bson:"pmode_id"`
	Mpc            string      `bson:"mpc"`
	ContentType    string      `bson:"content_type"`
	Operation      Operation   `bson:"operation"`
	BodyID         string      `bson:"body_id,omitempty"`
	InsertedAt     time.Time   `bson:"inserted_at"`
	ModifiedAt     time.Time   `bson:"modified_at"`
}

// InMessage is the stored record of a received message.
type InMessage struct {
	EbmsMessageID  string      `bson:"_id"`
	RefToMessageID string      `bson:"ref_to_message_id,omitempty"`
	MessageType    MessageType `bson:"message_type"`
	PModeID        string      `bson:"pmode_id,omitempty"`
	Mpc            string      `bson:"mpc"`
	ContentType    string      `bson:"content_type"`
	Operation      Operation   `bson:"operation"`
	BodyID         string      `bson:"body_id,omitempty"`
	InsertedAt     time.Time   `bson:"inserted_at"`
	ModifiedAt     time.Time   `bson:"modified_at"`
}

// RetryStatus is the reception awareness state of an out message.
type RetryStatus string

const (
	RetryStatusPending   RetryStatus = "PENDING"
	RetryStatusCompleted RetryStatus = "COMPLETED"
	RetryStatusExhausted RetryStatus = "EXHAUSTED"
)

// IsTerminal reports whether the status allows no further retries.
func (s RetryStatus) IsTerminal() bool {
	return s == RetryStatusCompleted || s == RetryStatusExhausted
}

// RetryRecord tracks reception awareness retries for one out message.
// CurrentRetryCount never exceeds MaxRetryCount while Pending.
type RetryRecord struct {
	EbmsMessageID     string      `bson:"_id"`
	CurrentRetryCount int         `bson:"current_retry_count"`
	MaxRetryCount     int         `bson:"max_retry_count"`
	RetryInterval     time.Duration `bson:"retry_interval"`
	Status            RetryStatus `bson:"status"`
	LastRetryTime     time.Time   `bson:"last_retry_time"`
	NextRetryTime     time.Time   `bson:"next_retry_time"`
	InsertedAt        time.Time   `bson:"inserted_at"`
}

// ExceptionDirection marks which flow produced an exception record.
type ExceptionDirection string

const (
	ExceptionIn  ExceptionDirection = "in"
	ExceptionOut ExceptionDirection = "out"
)

// Exception records a failed flow for operator inspection and producer
// or consumer notification.
type Exception struct {
	ID             string             `bson:"_id"`
	Direction      ExceptionDirection `bson:"direction"`
	RefToMessageID string             `bson:"ref_to_message_id,omitempty"`
	PModeID        string             `bson:"pmode_id,omitempty"`
	Detail         string             `bson:"detail"`
	Operation      Operation          `bson:"operation"`
	InsertedAt     time.Time          `bson:"inserted_at"`
}

// Repository is the datastore boundary for message metadata.
type Repository interface {
	// InsertOutMessage stores a new outgoing message record. A record
	// with the same ebms message id yields ErrDuplicateMessage.
	InsertOutMessage(ctx context.Context, m *OutMessage) error

	// GetOutMessage returns the record for an ebms message id.
	GetOutMessage(ctx context.Context, ebmsMessageID string) (*OutMessage, error)

	// UpdateOutMessageOperation moves a record to a new operation.
	UpdateOutMessageOperation(ctx context.Context, ebmsMessageID string, op Operation) error

	// ClaimOutMessage atomically claims the oldest message on the given
	// MPC whose operation is ToBeSent, moving it to Sending. Returns
	// ErrNoMessageAvailable when nothing is ready.
	ClaimOutMessage(ctx context.Context, mpc string) (*OutMessage, error)

	// InsertInMessage stores a received message record.
	InsertInMessage(ctx context.Context, m *InMessage) error

	// GetInMessage returns the record for a received ebms message id.
	GetInMessage(ctx context.Context, ebmsMessageID string) (*InMessage, error)

	// UpdateInMessageOperation moves a received record to a new operation.
	UpdateInMessageOperation(ctx context.Context, ebmsMessageID string, op Operation) error

	// IsDuplicate reports whether a received ebms message id was seen
	// before.
	IsDuplicate(ctx context.Context, ebmsMessageID string) (bool, error)

	// InsertRetryRecord starts reception awareness tracking for an out
	// message.
	InsertRetryRecord(ctx context.Context, r *RetryRecord) error

	// GetRetryRecord returns the retry record for an ebms message id.
	GetRetryRecord(ctx context.Context, ebmsMessageID string) (*RetryRecord, error)

	// UpdateRetryRecord persists counter, timestamps and status changes.
	UpdateRetryRecord(ctx context.Context, r *RetryRecord) error

	// DueRetries returns pending retry records whose next retry time is
	// at or before now, oldest first, at most limit.
	DueRetries(ctx context.Context, now time.Time, limit int) ([]*RetryRecord, error)

	// InsertException records a failed flow.
	InsertException(ctx context.Context, e *Exception) error

	// ExceptionsToNotify returns exceptions with operation ToBeNotified.
	ExceptionsToNotify(ctx context.Context, direction ExceptionDirection, limit int) ([]*Exception, error)

	// UpdateExceptionOperation moves an exception record to a new
	// operation.
	UpdateExceptionOperation(ctx context.Context, id string, op Operation) error

	// Ping checks datastore connectivity.
	Ping(ctx context.Context) error

	// Close releases datastore resources.
	Close(ctx context.Context) error
}

// BodyStore stores serialized message bodies separately from metadata,
// large payloads do not belong in metadata documents.
type BodyStore interface {
	// SaveBody stores a message body and returns its storage id.
	SaveBody(ctx context.Context, name, contentType string, body io.Reader) (string, error)

	// LoadBody returns the stored body and its content type.
	LoadBody(ctx context.Context, bodyID string) ([]byte, string, error)

	// DeleteBody removes a stored body.
	DeleteBody(ctx context.Context, bodyID string) error
}
