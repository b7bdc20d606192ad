package steps

import (
	"context"
	"fmt"

	"github.com/openas4/msh/internal/storage"
	"github.com/openas4/msh/pkg/pipeline"
)

// EliminateDuplicates stops the receive flow for a user message whose
// id was processed before, when the receiving PMode asks for duplicate
// elimination. The retransmission is answered with a fresh receipt but
// not delivered again.
type EliminateDuplicates struct {
	repo storage.Repository
}

func NewEliminateDuplicates(repo storage.Repository) *EliminateDuplicates {
	return &EliminateDuplicates{repo: repo}
}

func (s *EliminateDuplicates) Name() string { return "eliminate-duplicates" }

func (s *EliminateDuplicates) Execute(ctx context.Context, mc *pipeline.MessagingContext) (*pipeline.StepResult, error) {
	if mc.ReceivingPMode == nil || !mc.ReceivingPMode.DuplicateElimination {
		return pipeline.Proceed(mc), nil
	}
	um := mc.AS4Message.FirstUserMessage()
	if um == nil {
		return pipeline.Proceed(mc), nil
	}

	duplicate, err := s.repo.IsDuplicate(ctx, um.MessageInfo.MessageId)
	if err != nil {
		return nil, fmt.Errorf("checking duplicate %s: %w", um.MessageInfo.MessageId, err)
	}
	if duplicate {
		if next := receiptResponse(mc); next != nil {
			return pipeline.Stop(next), nil
		}
		return pipeline.Stop(mc), nil
	}
	return pipeline.Proceed(mc), nil
}
