package steps

import (
	"context"
	"crypto/x509"
	"errors"

	"github.com/openas4/msh/pkg/message"
	"github.com/openas4/msh/pkg/pipeline"
	"github.com/openas4/msh/pkg/pmode"
	"github.com/openas4/msh/pkg/security"
)

// VerifySignature checks the WS-Security signature of a received
// message against the receiving PMode's verification policy. A failed
// verification, a missing required signature and a forbidden signature
// all become ebMS errors; only the inability to reach a trust decision
// propagates as a plain error.
type VerifySignature struct {
	roots *x509.CertPool

	// revocation is shared across executions so OCSP and CRL results
	// stay cached between messages.
	revocation security.RevocationChecker
}

func NewVerifySignature(roots *x509.CertPool) *VerifySignature {
	return &VerifySignature{roots: roots, revocation: security.NewOCSPChecker(nil)}
}

func (s *VerifySignature) Name() string { return "verify-signature" }

func (s *VerifySignature) Execute(ctx context.Context, mc *pipeline.MessagingContext) (*pipeline.StepResult, error) {
	msg := mc.AS4Message
	if msg == nil || len(msg.EnvelopeXML) == 0 {
		return pipeline.Proceed(mc), nil
	}

	policy := pmode.VerifyAllowed
	allowUnknownRoots := false
	checkRevocation := false
	if mc.ReceivingPMode != nil {
		cfg := mc.ReceivingPMode.Security.SigningVerification
		if cfg.Signature != "" {
			policy = cfg.Signature
		}
		allowUnknownRoots = cfg.AllowUnknownRoots
		checkRevocation = cfg.CheckRevocation
	}
	if policy == pmode.VerifyIgnored {
		return pipeline.Proceed(mc), nil
	}

	ref := ""
	if um := msg.FirstUserMessage(); um != nil {
		ref = um.MessageInfo.MessageId
	}

	attachments, err := attachmentData(msg)
	if err != nil {
		return nil, err
	}

	base := security.NewDefaultCertificateValidator(s.roots)
	if allowUnknownRoots {
		base = base.WithAllowUnknownRoots()
	}
	var validator security.CertificateValidator = base
	if checkRevocation {
		validator = security.NewRevocationAwareValidator(base, s.revocation)
	}
	verifier := security.NewVerifier(validator)

	result, err := verifier.Verify(msg.EnvelopeXML, attachments)
	switch {
	case errors.Is(err, security.ErrNoSignature):
		if policy == pmode.VerifyRequired {
			return nil, pipeline.NewError(message.ErrorPolicyNoncompliance, ref, "message is not signed but the pmode requires a signature", err)
		}
		return pipeline.Proceed(mc), nil
	case err != nil:
		return nil, err
	}

	if policy == pmode.VerifyNotAllowed {
		return nil, pipeline.NewError(message.ErrorPolicyNoncompliance, ref, "message is signed but the pmode forbids signatures", nil)
	}
	if !result.Valid {
		return nil, pipeline.NewError(message.ErrorFailedAuthentication, ref, result.FailureReason, nil)
	}

	msg.SecurityHeader.IsSigned = true
	return pipeline.Proceed(mc), nil
}
