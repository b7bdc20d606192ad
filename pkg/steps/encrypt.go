package steps

import (
	"context"
	"fmt"

	"github.com/openas4/msh/internal/keystore"
	"github.com/openas4/msh/pkg/message"
	"github.com/openas4/msh/pkg/pipeline"
	"github.com/openas4/msh/pkg/security"
)

// EncryptMessage seals the attachments of an outgoing message for the
// receiver named by the sending PMode's encryption certificate.
type EncryptMessage struct {
	certs keystore.CertificateRepository
}

func NewEncryptMessage(certs keystore.CertificateRepository) *EncryptMessage {
	return &EncryptMessage{certs: certs}
}

func (s *EncryptMessage) Name() string { return "encrypt-message" }

func (s *EncryptMessage) Execute(ctx context.Context, mc *pipeline.MessagingContext) (*pipeline.StepResult, error) {
	msg := mc.AS4Message
	if msg == nil || !msg.HasAttachments() {
		return pipeline.Proceed(mc), nil
	}
	if mc.SendingPMode == nil {
		return pipeline.Proceed(mc), nil
	}
	cfg := mc.SendingPMode.Security.Encryption
	if !cfg.IsEnabled {
		return pipeline.Proceed(mc), nil
	}

	cert, err := s.certs.GetCertificate(ctx, cfg.Certificate)
	if err != nil {
		return nil, fmt.Errorf("resolving encryption certificate for pmode %s: %w", mc.SendingPMode.ID, err)
	}

	envelope, err := message.BuildEnvelope(msg)
	if err != nil {
		return nil, err
	}
	attachments, err := attachmentData(msg)
	if err != nil {
		return nil, err
	}

	encryptor, err := security.NewEncryptor(cert, string(cfg.Algorithm))
	if err != nil {
		return nil, fmt.Errorf("building encryptor for pmode %s: %w", mc.SendingPMode.ID, err)
	}
	result, err := encryptor.Encrypt(envelope, attachments)
	if err != nil {
		return nil, fmt.Errorf("encrypting message: %w", err)
	}

	msg.EnvelopeXML = result.EnvelopeXML
	applyAttachmentData(msg, result.Attachments)
	msg.SecurityHeader.IsEncrypted = true
	return pipeline.Proceed(mc), nil
}
