package steps

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/openas4/msh/internal/storage"
	"github.com/openas4/msh/pkg/message"
	"github.com/openas4/msh/pkg/mime"
	"github.com/openas4/msh/pkg/pipeline"
)

// SelectUserMessageToSend answers a PullRequest by claiming the oldest
// waiting message on the requested MPC. The claim is atomic in the
// store; an empty channel yields the EBMS:0006 warning signal and halts
// the flow.
type SelectUserMessageToSend struct {
	repo   storage.Repository
	bodies storage.BodyStore
}

func NewSelectUserMessageToSend(repo storage.Repository, bodies storage.BodyStore) *SelectUserMessageToSend {
	return &SelectUserMessageToSend{repo: repo, bodies: bodies}
}

func (s *SelectUserMessageToSend) Name() string { return "select-user-message-to-send" }

func (s *SelectUserMessageToSend) Execute(ctx context.Context, mc *pipeline.MessagingContext) (*pipeline.StepResult, error) {
	pull := mc.PrimarySignalMessage()
	if pull == nil || pull.PullRequest == nil {
		return nil, fmt.Errorf("steps: context message is not a pull request")
	}
	mpc := pull.PullRequest.Mpc
	if mpc == "" {
		mpc = message.DefaultMpc
	}

	claimed, err := s.repo.ClaimOutMessage(ctx, mpc)
	if errors.Is(err, storage.ErrNoMessageAvailable) {
		response := message.NewAS4Message()
		response.AddSignalMessage(message.NewErrorSignal(
			message.ErrorEmptyMessagePartition, pull.MessageID(),
			fmt.Sprintf("no message available on MPC %s", mpc)))
		result := pipeline.Stop(mc.CloneWith(pipeline.ModeSend, response))
		return result, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claiming message on MPC %s: %w", mpc, err)
	}

	body, contentType, err := s.bodies.LoadBody(ctx, claimed.BodyID)
	if err != nil {
		return nil, fmt.Errorf("loading body of %s: %w", claimed.EbmsMessageID, err)
	}
	response, err := mime.Parse(contentType, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parsing stored message %s: %w", claimed.EbmsMessageID, err)
	}
	response.ContentType = contentType

	return pipeline.Proceed(mc.CloneWith(pipeline.ModeSend, response)), nil
}
