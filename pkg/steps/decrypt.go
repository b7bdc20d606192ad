package steps

import (
	"context"
	"fmt"

	"github.com/openas4/msh/internal/keystore"
	"github.com/openas4/msh/pkg/message"
	"github.com/openas4/msh/pkg/pipeline"
	"github.com/openas4/msh/pkg/security"
)

// DecryptMessage restores the attachments of a received encrypted
// message using the receiving PMode's key pair. Failures become ebMS
// FailedDecryption errors on the response.
type DecryptMessage struct {
	certs keystore.CertificateRepository
}

func NewDecryptMessage(certs keystore.CertificateRepository) *DecryptMessage {
	return &DecryptMessage{certs: certs}
}

func (s *DecryptMessage) Name() string { return "decrypt-message" }

func (s *DecryptMessage) Execute(ctx context.Context, mc *pipeline.MessagingContext) (*pipeline.StepResult, error) {
	msg := mc.AS4Message
	if msg == nil || len(msg.EnvelopeXML) == 0 {
		return pipeline.Proceed(mc), nil
	}

	ref := ""
	if um := msg.FirstUserMessage(); um != nil {
		ref = um.MessageInfo.MessageId
	}

	encrypted, err := security.IsEncrypted(msg.EnvelopeXML)
	if err != nil {
		return nil, pipeline.NewError(message.ErrorFailedDecryption, ref, "inspecting security header", err)
	}
	if !encrypted {
		return pipeline.Proceed(mc), nil
	}

	if mc.ReceivingPMode == nil || !mc.ReceivingPMode.Security.Decryption.IsEnabled {
		return nil, pipeline.NewError(message.ErrorFailedDecryption, ref, "message is encrypted but decryption is not configured", nil)
	}
	cfg := mc.ReceivingPMode.Security.Decryption

	pair, err := s.certs.GetKeyPair(ctx, cfg.Certificate)
	if err != nil {
		return nil, fmt.Errorf("resolving decryption key for pmode %s: %w", mc.ReceivingPMode.ID, err)
	}

	attachments, err := attachmentData(msg)
	if err != nil {
		return nil, err
	}

	decryptor, err := security.NewDecryptor(pair.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("building decryptor for pmode %s: %w", mc.ReceivingPMode.ID, err)
	}
	result, err := decryptor.Decrypt(msg.EnvelopeXML, attachments)
	if err != nil {
		return nil, pipeline.NewError(message.ErrorFailedDecryption, ref, "decrypting message", err)
	}

	msg.EnvelopeXML = result.EnvelopeXML
	applyAttachmentData(msg, result.Attachments)
	msg.SecurityHeader.IsEncrypted = false
	return pipeline.Proceed(mc), nil
}
