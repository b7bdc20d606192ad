package steps

import (
	"context"
	"fmt"

	"github.com/openas4/msh/internal/keystore"
	"github.com/openas4/msh/pkg/message"
	"github.com/openas4/msh/pkg/pipeline"
	"github.com/openas4/msh/pkg/security"
)

// SignMessage signs the outgoing envelope and attachments with the key
// pair the sending PMode's certificate criteria select. A missing
// private key is fatal, the operator has to fix the keystore.
type SignMessage struct {
	certs keystore.CertificateRepository
}

func NewSignMessage(certs keystore.CertificateRepository) *SignMessage {
	return &SignMessage{certs: certs}
}

func (s *SignMessage) Name() string { return "sign-message" }

func (s *SignMessage) Execute(ctx context.Context, mc *pipeline.MessagingContext) (*pipeline.StepResult, error) {
	msg := mc.AS4Message
	if msg == nil || msg.IsEmpty() {
		return pipeline.Proceed(mc), nil
	}
	if mc.SendingPMode == nil {
		return pipeline.Proceed(mc), nil
	}
	cfg := mc.SendingPMode.Security.Signing
	if !cfg.IsEnabled {
		return pipeline.Proceed(mc), nil
	}

	pair, err := s.certs.GetKeyPair(ctx, cfg.Certificate)
	if err != nil {
		return nil, fmt.Errorf("resolving signing key for pmode %s: %w", mc.SendingPMode.ID, err)
	}

	envelope, err := message.BuildEnvelope(msg)
	if err != nil {
		return nil, err
	}
	attachments, err := attachmentData(msg)
	if err != nil {
		return nil, err
	}

	signer, err := security.NewSigner(pair.PrivateKey, pair.Certificate, cfg.HashFunction.CryptoHash(), cfg.TokenReference)
	if err != nil {
		return nil, fmt.Errorf("building signer for pmode %s: %w", mc.SendingPMode.ID, err)
	}
	signed, err := signer.Sign(envelope, attachments)
	if err != nil {
		return nil, fmt.Errorf("signing message: %w", err)
	}

	msg.EnvelopeXML = signed
	msg.SecurityHeader.IsSigned = true
	return pipeline.Proceed(mc), nil
}
