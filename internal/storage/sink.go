package storage

import (
	"context"
	"errors"

	"github.com/openas4/msh/pkg/pipeline"
)

// ExceptionRecorder persists pipeline flow errors as exception records.
// It implements pipeline.ExceptionSink on top of a Repository.
type ExceptionRecorder struct {
	repo Repository
}

// NewExceptionRecorder wraps repo as an exception sink.
func NewExceptionRecorder(repo Repository) *ExceptionRecorder {
	return &ExceptionRecorder{repo: repo}
}

func (r *ExceptionRecorder) StoreException(ctx context.Context, mc *pipeline.MessagingContext, err error) error {
	e := &Exception{
		Detail:    err.Error(),
		Operation: OperationToBeNotified,
	}

	var flowErr *pipeline.Error
	if errors.As(err, &flowErr) {
		e.RefToMessageID = flowErr.RefToMessageID
	}

	if mc != nil {
		switch mc.Mode {
		case pipeline.ModeReceive, pipeline.ModeDeliver:
			e.Direction = ExceptionIn
		default:
			e.Direction = ExceptionOut
		}
		if mc.SendingPMode != nil {
			e.PModeID = mc.SendingPMode.ID
		} else if mc.ReceivingPMode != nil {
			e.PModeID = mc.ReceivingPMode.ID
		}
		if e.RefToMessageID == "" && mc.AS4Message != nil {
			if um := mc.AS4Message.FirstUserMessage(); um != nil {
				e.RefToMessageID = um.MessageInfo.MessageId
			}
		}
	}

	return r.repo.InsertException(ctx, e)
}
