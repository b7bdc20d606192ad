package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openas4/msh/pkg/message"
)

func step(name string, fn func(mc *MessagingContext) (*StepResult, error)) Step {
	return StepFunc{StepName: name, Fn: func(_ context.Context, mc *MessagingContext) (*StepResult, error) {
		return fn(mc)
	}}
}

func TestPipelineRunsStepsInOrder(t *testing.T) {
	var order []string
	p := New("test", nil,
		step("one", func(mc *MessagingContext) (*StepResult, error) {
			order = append(order, "one")
			return Proceed(mc), nil
		}),
		step("two", func(mc *MessagingContext) (*StepResult, error) {
			order = append(order, "two")
			return Proceed(mc), nil
		}),
	)
	_, err := p.Execute(context.Background(), NewContext(ModeSend))
	require.NoError(t, err)
	assert.Equal(t, []string{"one", "two"}, order)
}

func TestPipelineStopsWithoutError(t *testing.T) {
	ran := false
	p := New("test", nil,
		step("halt", func(mc *MessagingContext) (*StepResult, error) {
			return Stop(mc), nil
		}),
		step("unreached", func(mc *MessagingContext) (*StepResult, error) {
			ran = true
			return Proceed(mc), nil
		}),
	)
	_, err := p.Execute(context.Background(), NewContext(ModeSend))
	require.NoError(t, err)
	assert.False(t, ran)
}

func TestPipelineAbortsOnError(t *testing.T) {
	boom := errors.New("boom")
	ran := false
	p := New("test", nil,
		step("failing", func(mc *MessagingContext) (*StepResult, error) {
			return nil, boom
		}),
		step("unreached", func(mc *MessagingContext) (*StepResult, error) {
			ran = true
			return Proceed(mc), nil
		}),
	)
	_, err := p.Execute(context.Background(), NewContext(ModeReceive))
	assert.ErrorIs(t, err, boom)
	assert.False(t, ran)
}

func TestPipelineHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ran := false
	p := New("test", nil,
		step("unreached", func(mc *MessagingContext) (*StepResult, error) {
			ran = true
			return Proceed(mc), nil
		}),
	)
	_, err := p.Execute(ctx, NewContext(ModeSend))
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, ran)
}

func TestStepCanReplaceContext(t *testing.T) {
	replacement := NewContext(ModeDeliver)
	p := New("test", nil,
		step("swap", func(mc *MessagingContext) (*StepResult, error) {
			return Proceed(replacement), nil
		}),
	)
	out, err := p.Execute(context.Background(), NewContext(ModeReceive))
	require.NoError(t, err)
	assert.Same(t, replacement, out)
}

func TestContextPanicsWithoutMessage(t *testing.T) {
	mc := NewContext(ModeSend)
	assert.Panics(t, func() { mc.MessageIds() })
	assert.Panics(t, func() { mc.HasAttachments() })
	assert.PanicsWithValue(t, "pipeline: context has no AS4 message in mode send",
		func() { mc.PrimarySignalMessage() })

	mc.AS4Message = message.NewAS4Message()
	assert.NotPanics(t, func() { mc.MessageIds() })
	assert.Nil(t, mc.PrimarySignalMessage())
}

func TestCloneWithPreservesPModes(t *testing.T) {
	mc := NewContext(ModeReceive)
	msg := message.NewAS4Message()
	clone := mc.CloneWith(ModeDeliver, msg)
	assert.Equal(t, ModeDeliver, clone.Mode)
	assert.Same(t, msg, clone.AS4Message)
}

type recordingSink struct {
	calls int
	last  error
}

func (s *recordingSink) StoreException(_ context.Context, _ *MessagingContext, err error) error {
	s.calls++
	s.last = err
	return nil
}

func TestCatchingAbsorbsFlowErrors(t *testing.T) {
	flowErr := NewError(message.ErrorFailedAuthentication, "msg-1", "signature did not verify", nil)
	p := New("receive", nil,
		step("verify", func(mc *MessagingContext) (*StepResult, error) {
			return nil, flowErr
		}),
	)
	sink := &recordingSink{}
	c := NewCatching(p, sink, nil)

	in := NewContext(ModeReceive).WithAS4Message(message.NewAS4Message())
	out, err := c.Execute(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, 1, sink.calls)

	sig := out.AS4Message.PrimarySignalMessage()
	require.NotNil(t, sig)
	require.True(t, sig.IsError())
	assert.Equal(t, "EBMS:0101", sig.Error.ErrorCode)
	assert.Equal(t, "msg-1", sig.Error.RefToMessageInError)
}

func TestCatchingPropagatesUnknownErrors(t *testing.T) {
	boom := errors.New("datastore down")
	p := New("receive", nil,
		step("load", func(mc *MessagingContext) (*StepResult, error) {
			return nil, boom
		}),
	)
	c := NewCatching(p, &recordingSink{}, nil)
	_, err := c.Execute(context.Background(), NewContext(ModeReceive))
	assert.ErrorIs(t, err, boom)
}
