package reliability

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openas4/msh/internal/storage"
	"github.com/openas4/msh/internal/storage/memory"
	"github.com/openas4/msh/pkg/message"
	"github.com/openas4/msh/pkg/mime"
)

type fakeResender struct {
	calls []string
	err   error
}

func (r *fakeResender) Resend(ctx context.Context, stored *storage.OutMessage, msg *message.AS4Message) error {
	r.calls = append(r.calls, stored.EbmsMessageID)
	return r.err
}

type permanentError struct{}

func (permanentError) Error() string   { return "endpoint rejected the message" }
func (permanentError) Retryable() bool { return false }

type transientError struct{}

func (transientError) Error() string   { return "endpoint unavailable" }
func (transientError) Retryable() bool { return true }

func storeMessageWithRetry(t *testing.T, store *memory.Store, currentRetry, maxRetry int) string {
	t.Helper()
	ctx := context.Background()

	um := message.NewUserMessageWithID()
	um.CollaborationInfo = &message.CollaborationInfo{
		Service: message.Service{Value: "urn:test:service"},
		Action:  "Submit",
	}
	msg := message.NewAS4Message()
	msg.AddUserMessage(um)
	id := um.MessageInfo.MessageId

	var buf bytes.Buffer
	contentType, err := mime.Serialize(msg, &buf)
	require.NoError(t, err)
	bodyID, err := store.SaveBody(ctx, id, contentType, &buf)
	require.NoError(t, err)

	require.NoError(t, store.InsertOutMessage(ctx, &storage.OutMessage{
		EbmsMessageID: id,
		MessageType:   storage.MessageTypeUserMessage,
		Mpc:           message.DefaultMpc,
		ContentType:   contentType,
		Operation:     storage.OperationSent,
		BodyID:        bodyID,
	}))

	past := time.Now().Add(-time.Minute)
	require.NoError(t, store.InsertRetryRecord(ctx, &storage.RetryRecord{
		EbmsMessageID:     id,
		CurrentRetryCount: currentRetry,
		MaxRetryCount:     maxRetry,
		RetryInterval:     30 * time.Second,
		Status:            storage.RetryStatusPending,
		NextRetryTime:     past,
	}))
	return id
}

func TestProcessDueResendsAndReschedules(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	resender := &fakeResender{}
	poller := NewRetryPoller(store, store, resender, nil, nil)

	id := storeMessageWithRetry(t, store, 0, 3)
	before := time.Now()

	poller.ProcessDue(ctx)
	require.Equal(t, []string{id}, resender.calls)

	record, err := store.GetRetryRecord(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 1, record.CurrentRetryCount)
	assert.Equal(t, storage.RetryStatusPending, record.Status)
	assert.True(t, record.NextRetryTime.After(before), "next retry must move forward")

	// No longer due until the interval elapses.
	poller.ProcessDue(ctx)
	assert.Len(t, resender.calls, 1)
}

func TestProcessDueExhaustsBudget(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	resender := &fakeResender{err: transientError{}}
	poller := NewRetryPoller(store, store, resender, nil, nil)

	id := storeMessageWithRetry(t, store, 3, 3)

	poller.ProcessDue(ctx)
	assert.Empty(t, resender.calls, "an exhausted record must not be resent")

	record, err := store.GetRetryRecord(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, storage.RetryStatusExhausted, record.Status)

	stored, err := store.GetOutMessage(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, storage.OperationDeadLettered, stored.Operation)

	exceptions, err := store.ExceptionsToNotify(ctx, storage.ExceptionOut, 10)
	require.NoError(t, err)
	require.Len(t, exceptions, 1)
	assert.Equal(t, id, exceptions[0].RefToMessageID)
}

func TestProcessDuePermanentFailure(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	resender := &fakeResender{err: permanentError{}}
	poller := NewRetryPoller(store, store, resender, nil, nil)

	id := storeMessageWithRetry(t, store, 0, 3)

	poller.ProcessDue(ctx)
	require.Len(t, resender.calls, 1)

	record, err := store.GetRetryRecord(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, storage.RetryStatusExhausted, record.Status)
}

func TestProcessDueTransientFailureKeepsPending(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	resender := &fakeResender{err: transientError{}}
	poller := NewRetryPoller(store, store, resender, nil, nil)

	id := storeMessageWithRetry(t, store, 0, 3)

	poller.ProcessDue(ctx)
	require.Len(t, resender.calls, 1)

	record, err := store.GetRetryRecord(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, storage.RetryStatusPending, record.Status)
	assert.Equal(t, 1, record.CurrentRetryCount)
}

func TestOnReceiptCompletesRecord(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	poller := NewRetryPoller(store, store, &fakeResender{}, nil, nil)

	id := storeMessageWithRetry(t, store, 1, 3)

	require.NoError(t, poller.OnReceipt(ctx, id))

	record, err := store.GetRetryRecord(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, storage.RetryStatusCompleted, record.Status)

	stored, err := store.GetOutMessage(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, storage.OperationSent, stored.Operation)

	// A completed record never comes due again.
	poller.ProcessDue(ctx)
	record, err = store.GetRetryRecord(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, storage.RetryStatusCompleted, record.Status)
}

func TestOnReceiptUnknownReference(t *testing.T) {
	store := memory.NewStore()
	poller := NewRetryPoller(store, store, &fakeResender{}, nil, nil)
	assert.NoError(t, poller.OnReceipt(context.Background(), "never-sent@openas4.org"))
}

func TestOnReceiptIgnoresTerminalRecord(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	poller := NewRetryPoller(store, store, &fakeResender{}, nil, nil)

	id := storeMessageWithRetry(t, store, 3, 3)
	record, err := store.GetRetryRecord(ctx, id)
	require.NoError(t, err)
	record.Status = storage.RetryStatusExhausted
	require.NoError(t, store.UpdateRetryRecord(ctx, record))

	require.NoError(t, poller.OnReceipt(ctx, id))

	record, err = store.GetRetryRecord(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, storage.RetryStatusExhausted, record.Status)
}
