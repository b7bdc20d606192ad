package steps

import (
	"context"
	"fmt"
	"time"

	"github.com/openas4/msh/internal/storage"
	"github.com/openas4/msh/pkg/pipeline"
)

// SetReceptionAwareness starts retry tracking for every user message
// just sent, when the sending PMode enables reception awareness. The
// records stay Pending until a receipt arrives or the retry budget is
// spent.
type SetReceptionAwareness struct {
	repo storage.Repository
	now  func() time.Time
}

func NewSetReceptionAwareness(repo storage.Repository) *SetReceptionAwareness {
	return &SetReceptionAwareness{repo: repo, now: time.Now}
}

func (s *SetReceptionAwareness) Name() string { return "set-reception-awareness" }

func (s *SetReceptionAwareness) Execute(ctx context.Context, mc *pipeline.MessagingContext) (*pipeline.StepResult, error) {
	if mc.SendingPMode == nil {
		return pipeline.Proceed(mc), nil
	}
	ra := mc.SendingPMode.Reliability.ReceptionAwareness
	if !ra.IsEnabled {
		return pipeline.Proceed(mc), nil
	}
	interval, err := ra.Interval()
	if err != nil {
		return nil, fmt.Errorf("pmode %s: %w", mc.SendingPMode.ID, err)
	}

	now := s.now().UTC()
	for _, um := range mc.AS4Message.UserMessages {
		record := &storage.RetryRecord{
			EbmsMessageID: um.MessageInfo.MessageId,
			MaxRetryCount: ra.RetryCount,
			RetryInterval: interval,
			Status:        storage.RetryStatusPending,
			LastRetryTime: now,
			NextRetryTime: now.Add(interval),
		}
		if err := s.repo.InsertRetryRecord(ctx, record); err != nil {
			return nil, fmt.Errorf("tracking %s: %w", um.MessageInfo.MessageId, err)
		}
	}
	return pipeline.Proceed(mc), nil
}
