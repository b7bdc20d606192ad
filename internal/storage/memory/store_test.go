package memory

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openas4/msh/internal/storage"
	"github.com/openas4/msh/pkg/message"
)

func TestOutMessageLifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	m := &storage.OutMessage{
		EbmsMessageID: "msg-1@sender.example",
		MessageType:   storage.MessageTypeUserMessage,
		PModeID:       "pm-push",
		Mpc:           message.DefaultMpc,
		Operation:     storage.OperationToBeSent,
	}
	require.NoError(t, s.InsertOutMessage(ctx, m))

	err := s.InsertOutMessage(ctx, &storage.OutMessage{EbmsMessageID: m.EbmsMessageID})
	assert.ErrorIs(t, err, storage.ErrDuplicateMessage)

	got, err := s.GetOutMessage(ctx, m.EbmsMessageID)
	require.NoError(t, err)
	assert.Equal(t, storage.OperationToBeSent, got.Operation)
	assert.False(t, got.InsertedAt.IsZero())

	require.NoError(t, s.UpdateOutMessageOperation(ctx, m.EbmsMessageID, storage.OperationSent))
	got, err = s.GetOutMessage(ctx, m.EbmsMessageID)
	require.NoError(t, err)
	assert.Equal(t, storage.OperationSent, got.Operation)

	_, err = s.GetOutMessage(ctx, "unknown")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestClaimOutMessageOldestFirst(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	base := time.Now().UTC()
	for i, id := range []string{"second", "first"} {
		require.NoError(t, s.InsertOutMessage(ctx, &storage.OutMessage{
			EbmsMessageID: id,
			Mpc:           message.DefaultMpc,
			Operation:     storage.OperationToBeSent,
			InsertedAt:    base.Add(time.Duration(1-i) * time.Minute),
		}))
	}

	claimed, err := s.ClaimOutMessage(ctx, message.DefaultMpc)
	require.NoError(t, err)
	assert.Equal(t, "first", claimed.EbmsMessageID)
	assert.Equal(t, storage.OperationSending, claimed.Operation)

	claimed, err = s.ClaimOutMessage(ctx, message.DefaultMpc)
	require.NoError(t, err)
	assert.Equal(t, "second", claimed.EbmsMessageID)

	_, err = s.ClaimOutMessage(ctx, message.DefaultMpc)
	assert.ErrorIs(t, err, storage.ErrNoMessageAvailable)
}

func TestClaimOutMessageIgnoresOtherMpcs(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	require.NoError(t, s.InsertOutMessage(ctx, &storage.OutMessage{
		EbmsMessageID: "msg-1",
		Mpc:           "urn:example:mpc:priority",
		Operation:     storage.OperationToBeSent,
	}))

	_, err := s.ClaimOutMessage(ctx, message.DefaultMpc)
	assert.ErrorIs(t, err, storage.ErrNoMessageAvailable)

	claimed, err := s.ClaimOutMessage(ctx, "urn:example:mpc:priority")
	require.NoError(t, err)
	assert.Equal(t, "msg-1", claimed.EbmsMessageID)
}

func TestClaimOutMessageConcurrent(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	require.NoError(t, s.InsertOutMessage(ctx, &storage.OutMessage{
		EbmsMessageID: "contested",
		Mpc:           message.DefaultMpc,
		Operation:     storage.OperationToBeSent,
	}))

	const claimants = 16
	var wg sync.WaitGroup
	winners := make(chan string, claimants)
	for i := 0; i < claimants; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m, err := s.ClaimOutMessage(ctx, message.DefaultMpc)
			if err == nil {
				winners <- m.EbmsMessageID
			}
		}()
	}
	wg.Wait()
	close(winners)

	var claimed []string
	for id := range winners {
		claimed = append(claimed, id)
	}
	require.Len(t, claimed, 1, "exactly one claimant must win")
	assert.Equal(t, "contested", claimed[0])
}

func TestInMessageDuplicateDetection(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	dup, err := s.IsDuplicate(ctx, "msg-1@peer.example")
	require.NoError(t, err)
	assert.False(t, dup)

	require.NoError(t, s.InsertInMessage(ctx, &storage.InMessage{
		EbmsMessageID: "msg-1@peer.example",
		MessageType:   storage.MessageTypeUserMessage,
		Operation:     storage.OperationToBeDelivered,
	}))

	dup, err = s.IsDuplicate(ctx, "msg-1@peer.example")
	require.NoError(t, err)
	assert.True(t, dup)
}

func TestDueRetries(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	now := time.Now().UTC()

	require.NoError(t, s.InsertRetryRecord(ctx, &storage.RetryRecord{
		EbmsMessageID: "due-later",
		MaxRetryCount: 3,
		Status:        storage.RetryStatusPending,
		NextRetryTime: now.Add(time.Hour),
	}))
	require.NoError(t, s.InsertRetryRecord(ctx, &storage.RetryRecord{
		EbmsMessageID: "due-now",
		MaxRetryCount: 3,
		Status:        storage.RetryStatusPending,
		NextRetryTime: now.Add(-time.Second),
	}))
	require.NoError(t, s.InsertRetryRecord(ctx, &storage.RetryRecord{
		EbmsMessageID: "done",
		MaxRetryCount: 3,
		Status:        storage.RetryStatusCompleted,
		NextRetryTime: now.Add(-time.Hour),
	}))

	due, err := s.DueRetries(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "due-now", due[0].EbmsMessageID)

	due[0].Status = storage.RetryStatusExhausted
	require.NoError(t, s.UpdateRetryRecord(ctx, due[0]))

	got, err := s.GetRetryRecord(ctx, "due-now")
	require.NoError(t, err)
	assert.Equal(t, storage.RetryStatusExhausted, got.Status)
	assert.True(t, got.Status.IsTerminal())
}

func TestExceptionsToNotify(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	require.NoError(t, s.InsertException(ctx, &storage.Exception{
		Direction: storage.ExceptionOut,
		Detail:    "send failed",
		Operation: storage.OperationToBeNotified,
	}))
	require.NoError(t, s.InsertException(ctx, &storage.Exception{
		Direction: storage.ExceptionIn,
		Detail:    "decrypt failed",
		Operation: storage.OperationToBeNotified,
	}))

	out, err := s.ExceptionsToNotify(ctx, storage.ExceptionOut, 10)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "send failed", out[0].Detail)
	assert.NotEmpty(t, out[0].ID)

	require.NoError(t, s.UpdateExceptionOperation(ctx, out[0].ID, storage.OperationNotified))
	out, err = s.ExceptionsToNotify(ctx, storage.ExceptionOut, 10)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestBodyStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	id, err := s.SaveBody(ctx, "msg-1", "multipart/related", bytes.NewReader([]byte("soap envelope")))
	require.NoError(t, err)
	require.NotEmpty(t, id)

	data, contentType, err := s.LoadBody(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []byte("soap envelope"), data)
	assert.Equal(t, "multipart/related", contentType)

	require.NoError(t, s.DeleteBody(ctx, id))
	_, _, err = s.LoadBody(ctx, id)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
