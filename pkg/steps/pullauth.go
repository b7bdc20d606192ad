package steps

import (
	"context"
	"crypto/subtle"

	"github.com/beevik/etree"

	"github.com/openas4/msh/pkg/message"
	"github.com/openas4/msh/pkg/pipeline"
	"github.com/openas4/msh/pkg/pmode"
)

// AuthorizationMap holds the pull credentials expected per MPC. An MPC
// without an entry is open for anonymous pulling.
type AuthorizationMap map[string]pmode.PullAuth

// VerifyPullRequestAuthorization checks the UsernameToken of an
// incoming PullRequest against the credentials configured for the
// requested MPC. A bad or missing token is a FailedAuthentication
// error, not a silent stop, so the requester learns why the pull was
// refused.
type VerifyPullRequestAuthorization struct {
	authorization AuthorizationMap
}

func NewVerifyPullRequestAuthorization(authorization AuthorizationMap) *VerifyPullRequestAuthorization {
	return &VerifyPullRequestAuthorization{authorization: authorization}
}

func (s *VerifyPullRequestAuthorization) Name() string { return "verify-pull-authorization" }

func (s *VerifyPullRequestAuthorization) Execute(ctx context.Context, mc *pipeline.MessagingContext) (*pipeline.StepResult, error) {
	msg := mc.AS4Message
	if msg == nil || !msg.IsPullRequest() {
		return pipeline.Proceed(mc), nil
	}

	pull := msg.PrimarySignalMessage()
	mpc := pull.PullRequest.Mpc
	if mpc == "" {
		mpc = message.DefaultMpc
	}

	expected, restricted := s.authorization[mpc]
	if !restricted {
		return pipeline.Proceed(mc), nil
	}

	username, password := usernameToken(msg.EnvelopeXML)
	if subtle.ConstantTimeCompare([]byte(username), []byte(expected.Username)) != 1 ||
		subtle.ConstantTimeCompare([]byte(password), []byte(expected.Password)) != 1 {
		return nil, pipeline.NewError(message.ErrorFailedAuthentication, pull.MessageID(),
			"pull request not authorized for MPC "+mpc, nil)
	}
	return pipeline.Proceed(mc), nil
}

// usernameToken extracts the wsse:UsernameToken credentials from the
// security header, empty strings when absent.
func usernameToken(envelopeXML []byte) (username, password string) {
	if len(envelopeXML) == 0 {
		return "", ""
	}
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(envelopeXML); err != nil {
		return "", ""
	}
	token := doc.FindElement("//*[local-name()='UsernameToken']")
	if token == nil {
		return "", ""
	}
	if el := token.FindElement("./*[local-name()='Username']"); el != nil {
		username = el.Text()
	}
	if el := token.FindElement("./*[local-name()='Password']"); el != nil {
		password = el.Text()
	}
	return username, password
}
