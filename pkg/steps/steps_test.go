package steps

import (
	"bytes"
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openas4/msh/internal/keystore"
	"github.com/openas4/msh/internal/storage"
	"github.com/openas4/msh/internal/storage/memory"
	"github.com/openas4/msh/pkg/message"
	"github.com/openas4/msh/pkg/mime"
	"github.com/openas4/msh/pkg/pipeline"
	"github.com/openas4/msh/pkg/pmode"
	"github.com/openas4/msh/pkg/security"
	"github.com/openas4/msh/pkg/transport"
)

// fakeCertRepo serves one key pair regardless of criteria.
type fakeCertRepo struct {
	pair  *keystore.KeyPair
	roots *x509.CertPool
}

func (r *fakeCertRepo) GetCertificate(ctx context.Context, criteria pmode.CertCriteria) (*x509.Certificate, error) {
	return r.pair.Certificate, nil
}

func (r *fakeCertRepo) GetKeyPair(ctx context.Context, criteria pmode.CertCriteria) (*keystore.KeyPair, error) {
	return r.pair, nil
}

func (r *fakeCertRepo) TrustedRoots() *x509.CertPool { return r.roots }
func (r *fakeCertRepo) Close() error                 { return nil }

func newTestRepo(t *testing.T) *fakeCertRepo {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	template := &x509.Certificate{
		SerialNumber: big.NewInt(time.Now().UnixNano()),
		Subject:      pkix.Name{CommonName: "steps-test"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)

	roots := x509.NewCertPool()
	roots.AddCert(cert)
	return &fakeCertRepo{pair: &keystore.KeyPair{Certificate: cert, PrivateKey: key}, roots: roots}
}

func newOutboundContext(t *testing.T, pm *pmode.SendingProcessingMode, payload []byte) *pipeline.MessagingContext {
	t.Helper()
	um := message.NewUserMessageWithID()
	um.CollaborationInfo = &message.CollaborationInfo{
		Service: message.Service{Value: "urn:test:service"},
		Action:  "Submit",
	}
	msg := message.NewAS4Message()
	msg.AddUserMessage(um)
	if payload != nil {
		att := message.NewAttachment("payload-1@test.local", "application/xml", payload)
		um.PayloadInfo = &message.PayloadInfo{
			PartInfo: []message.PartInfo{{Href: att.CidReference()}},
		}
		msg.AddAttachment(att)
	}

	mc := pipeline.NewContext(pipeline.ModeSend).WithAS4Message(msg)
	mc.SendingPMode = pm
	return mc
}

func TestCompressAttachmentsRespectsPMode(t *testing.T) {
	ctx := context.Background()
	step := NewCompressAttachments()

	pm := &pmode.SendingProcessingMode{ID: "pm-plain"}
	mc := newOutboundContext(t, pm, bytes.Repeat([]byte("data"), 200))
	result, err := step.Execute(ctx, mc)
	require.NoError(t, err)
	assert.True(t, result.CanProceed)
	assert.Equal(t, "application/xml", mc.AS4Message.Attachments[0].ContentType)

	pm.MessagePackaging.UseAS4Compression = true
	mc = newOutboundContext(t, pm, bytes.Repeat([]byte("data"), 200))
	_, err = step.Execute(ctx, mc)
	require.NoError(t, err)
	assert.Equal(t, "application/gzip", mc.AS4Message.Attachments[0].ContentType)
}

func TestDecompressAttachmentsCorruptPayload(t *testing.T) {
	ctx := context.Background()
	mc := newOutboundContext(t, &pmode.SendingProcessingMode{ID: "pm"}, []byte("not gzip"))
	mc.Mode = pipeline.ModeReceive

	// Mark the part compressed without actually compressing it.
	um := mc.AS4Message.FirstUserMessage()
	um.PayloadInfo.PartInfo[0].PartProperties = &message.PartProperties{
		Property: []message.Property{
			{Name: "CompressionType", Value: "application/gzip"},
			{Name: "MimeType", Value: "application/xml"},
		},
	}

	_, err := NewDecompressAttachments().Execute(ctx, mc)
	var flowErr *pipeline.Error
	require.ErrorAs(t, err, &flowErr)
	assert.Equal(t, "EBMS:0303", flowErr.Code.Code)
}

func TestSignThenVerify(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	pm := &pmode.SendingProcessingMode{ID: "pm-signed"}
	pm.Security.Signing.IsEnabled = true
	pm.Security.Signing.Certificate = pmode.CertCriteria{FindType: pmode.FindByAlias, FindValue: "any"}

	mc := newOutboundContext(t, pm, []byte("<invoice/>"))
	_, err := NewSignMessage(repo).Execute(ctx, mc)
	require.NoError(t, err)
	assert.True(t, mc.AS4Message.SecurityHeader.IsSigned)
	assert.Contains(t, string(mc.AS4Message.EnvelopeXML), "SignatureValue")

	rpm := &pmode.ReceivingProcessingMode{ID: "rpm"}
	rpm.Security.SigningVerification.Signature = pmode.VerifyRequired
	mc.Mode = pipeline.ModeReceive
	mc.ReceivingPMode = rpm

	result, err := NewVerifySignature(repo.roots).Execute(ctx, mc)
	require.NoError(t, err)
	assert.True(t, result.CanProceed)
}

func TestVerifyRejectsTamperedEnvelope(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	pm := &pmode.SendingProcessingMode{ID: "pm-signed"}
	pm.Security.Signing.IsEnabled = true

	mc := newOutboundContext(t, pm, nil)
	_, err := NewSignMessage(repo).Execute(ctx, mc)
	require.NoError(t, err)

	tampered := bytes.Replace(mc.AS4Message.EnvelopeXML, []byte("Submit"), []byte("Replace"), 1)
	mc.AS4Message.EnvelopeXML = tampered
	mc.Mode = pipeline.ModeReceive
	mc.ReceivingPMode = &pmode.ReceivingProcessingMode{ID: "rpm"}

	_, err = NewVerifySignature(repo.roots).Execute(ctx, mc)
	var flowErr *pipeline.Error
	require.ErrorAs(t, err, &flowErr)
	assert.Equal(t, "EBMS:0101", flowErr.Code.Code)
}

func TestVerifyRequiredButUnsigned(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	mc := newOutboundContext(t, &pmode.SendingProcessingMode{ID: "pm"}, nil)
	envelope, err := message.BuildEnvelope(mc.AS4Message)
	require.NoError(t, err)
	mc.AS4Message.EnvelopeXML = envelope
	mc.Mode = pipeline.ModeReceive

	rpm := &pmode.ReceivingProcessingMode{ID: "rpm"}
	rpm.Security.SigningVerification.Signature = pmode.VerifyRequired
	mc.ReceivingPMode = rpm

	_, err = NewVerifySignature(repo.roots).Execute(ctx, mc)
	var flowErr *pipeline.Error
	require.ErrorAs(t, err, &flowErr)
	assert.Equal(t, "EBMS:0103", flowErr.Code.Code)
}

func TestVerifyRevokedCertificate(t *testing.T) {
	ctx := context.Background()

	var crlDER []byte
	crlServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(crlDER)
	}))
	defer crlServer.Close()

	caKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	caTemplate := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "steps-test-ca"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
	}
	caDER, err := x509.CreateCertificate(rand.Reader, caTemplate, caTemplate, &caKey.PublicKey, caKey)
	require.NoError(t, err)
	caCert, err := x509.ParseCertificate(caDER)
	require.NoError(t, err)

	leafKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	leafTemplate := &x509.Certificate{
		SerialNumber:          big.NewInt(42),
		Subject:               pkix.Name{CommonName: "steps-test-signer"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		CRLDistributionPoints: []string{crlServer.URL},
	}
	leafDER, err := x509.CreateCertificate(rand.Reader, leafTemplate, caCert, &leafKey.PublicKey, caKey)
	require.NoError(t, err)
	leafCert, err := x509.ParseCertificate(leafDER)
	require.NoError(t, err)

	revoked := &x509.RevocationList{
		Number:     big.NewInt(1),
		ThisUpdate: time.Now().Add(-time.Minute),
		NextUpdate: time.Now().Add(time.Hour),
		RevokedCertificateEntries: []x509.RevocationListEntry{
			{SerialNumber: leafCert.SerialNumber, RevocationTime: time.Now().Add(-time.Minute)},
		},
	}
	crlDER, err = x509.CreateRevocationList(rand.Reader, revoked, caCert, caKey)
	require.NoError(t, err)

	mc := newOutboundContext(t, nil, nil)
	envelope, err := message.BuildEnvelope(mc.AS4Message)
	require.NoError(t, err)
	signer, err := security.NewSigner(leafKey, leafCert, crypto.SHA256, pmode.TokenRefBinarySecurityToken)
	require.NoError(t, err)
	mc.AS4Message.EnvelopeXML, err = signer.Sign(envelope, nil)
	require.NoError(t, err)
	mc.Mode = pipeline.ModeReceive

	rpm := &pmode.ReceivingProcessingMode{ID: "rpm"}
	rpm.Security.SigningVerification.Signature = pmode.VerifyRequired
	rpm.Security.SigningVerification.CheckRevocation = true
	mc.ReceivingPMode = rpm

	roots := x509.NewCertPool()
	roots.AddCert(caCert)
	step := NewVerifySignature(roots)

	_, err = step.Execute(ctx, mc)
	var flowErr *pipeline.Error
	require.ErrorAs(t, err, &flowErr)
	assert.Equal(t, "EBMS:0101", flowErr.Code.Code)

	// Without the flag the same chain verifies.
	rpm.Security.SigningVerification.CheckRevocation = false
	result, err := step.Execute(ctx, mc)
	require.NoError(t, err)
	assert.True(t, result.CanProceed)
}

func TestEncryptThenDecrypt(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	payload := []byte("confidential business document")

	pm := &pmode.SendingProcessingMode{ID: "pm-enc"}
	pm.Security.Encryption.IsEnabled = true

	mc := newOutboundContext(t, pm, payload)
	_, err := NewEncryptMessage(repo).Execute(ctx, mc)
	require.NoError(t, err)
	assert.True(t, mc.AS4Message.SecurityHeader.IsEncrypted)

	sealed, err := mc.AS4Message.Attachments[0].Bytes()
	require.NoError(t, err)
	assert.NotEqual(t, payload, sealed)

	rpm := &pmode.ReceivingProcessingMode{ID: "rpm-enc"}
	rpm.Security.Decryption.IsEnabled = true
	mc.Mode = pipeline.ModeReceive
	mc.ReceivingPMode = rpm

	_, err = NewDecryptMessage(repo).Execute(ctx, mc)
	require.NoError(t, err)
	assert.False(t, mc.AS4Message.SecurityHeader.IsEncrypted)

	restored, err := mc.AS4Message.Attachments[0].Bytes()
	require.NoError(t, err)
	assert.Equal(t, payload, restored)
}

func TestDecryptWithoutConfiguration(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	pm := &pmode.SendingProcessingMode{ID: "pm-enc"}
	pm.Security.Encryption.IsEnabled = true
	mc := newOutboundContext(t, pm, []byte("secret"))
	_, err := NewEncryptMessage(repo).Execute(ctx, mc)
	require.NoError(t, err)

	mc.Mode = pipeline.ModeReceive
	mc.ReceivingPMode = &pmode.ReceivingProcessingMode{ID: "rpm-plain"}

	_, err = NewDecryptMessage(repo).Execute(ctx, mc)
	var flowErr *pipeline.Error
	require.ErrorAs(t, err, &flowErr)
	assert.Equal(t, "EBMS:0102", flowErr.Code.Code)
}

func TestDecryptSkipsUnencryptedMessage(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	mc := newOutboundContext(t, nil, []byte("<invoice/>"))
	envelope, err := message.BuildEnvelope(mc.AS4Message)
	require.NoError(t, err)
	mc.AS4Message.EnvelopeXML = envelope
	mc.Mode = pipeline.ModeReceive
	mc.ReceivingPMode = &pmode.ReceivingProcessingMode{ID: "rpm"}

	result, err := NewDecryptMessage(repo).Execute(ctx, mc)
	require.NoError(t, err)
	assert.True(t, result.CanProceed)
	assert.False(t, mc.AS4Message.SecurityHeader.IsEncrypted)
}

func TestDecryptMalformedEnvelope(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	mc := newOutboundContext(t, nil, []byte("<invoice/>"))
	mc.AS4Message.EnvelopeXML = []byte("<Envelope><unclosed>")
	mc.Mode = pipeline.ModeReceive
	mc.ReceivingPMode = &pmode.ReceivingProcessingMode{ID: "rpm"}

	_, err := NewDecryptMessage(repo).Execute(ctx, mc)
	var flowErr *pipeline.Error
	require.ErrorAs(t, err, &flowErr)
	assert.Equal(t, "EBMS:0102", flowErr.Code.Code)
}

func storeOutMessage(t *testing.T, store *memory.Store, mpc string) string {
	t.Helper()
	ctx := context.Background()

	um := message.NewUserMessageWithID()
	um.Mpc = mpc
	um.CollaborationInfo = &message.CollaborationInfo{
		Service: message.Service{Value: "urn:test:service"},
		Action:  "Submit",
	}
	msg := message.NewAS4Message()
	msg.AddUserMessage(um)

	var buf bytes.Buffer
	contentType, err := mime.Serialize(msg, &buf)
	require.NoError(t, err)

	bodyID, err := store.SaveBody(ctx, um.MessageInfo.MessageId, contentType, &buf)
	require.NoError(t, err)

	require.NoError(t, store.InsertOutMessage(ctx, &storage.OutMessage{
		EbmsMessageID: um.MessageInfo.MessageId,
		MessageType:   storage.MessageTypeUserMessage,
		Mpc:           mpc,
		ContentType:   contentType,
		Operation:     storage.OperationToBeSent,
		BodyID:        bodyID,
	}))
	return um.MessageInfo.MessageId
}

func TestSelectUserMessageToSend(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	waitingID := storeOutMessage(t, store, message.DefaultMpc)

	pullMsg := message.NewAS4Message()
	pullMsg.AddSignalMessage(message.NewPullRequestSignal(message.DefaultMpc))
	mc := pipeline.NewContext(pipeline.ModeSend).WithAS4Message(pullMsg)

	step := NewSelectUserMessageToSend(store, store)
	result, err := step.Execute(ctx, mc)
	require.NoError(t, err)
	assert.True(t, result.CanProceed)

	um := result.Context.AS4Message.FirstUserMessage()
	require.NotNil(t, um)
	assert.Equal(t, waitingID, um.MessageInfo.MessageId)

	stored, err := store.GetOutMessage(ctx, waitingID)
	require.NoError(t, err)
	assert.Equal(t, storage.OperationSending, stored.Operation)
}

func TestSelectUserMessageEmptyChannel(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()

	pullMsg := message.NewAS4Message()
	pullMsg.AddSignalMessage(message.NewPullRequestSignal("urn:test:mpc:empty"))
	mc := pipeline.NewContext(pipeline.ModeSend).WithAS4Message(pullMsg)

	result, err := NewSelectUserMessageToSend(store, store).Execute(ctx, mc)
	require.NoError(t, err)
	assert.False(t, result.CanProceed)

	sig := result.Context.AS4Message.PrimarySignalMessage()
	require.NotNil(t, sig)
	require.NotNil(t, sig.Error)
	assert.Equal(t, "EBMS:0006", sig.Error.ErrorCode)
	assert.Equal(t, message.SeverityWarning, sig.Error.Severity)
}

func TestSendMessageReceivesResponse(t *testing.T) {
	receipt := message.NewAS4Message()
	receipt.AddSignalMessage(message.NewReceiptSignal("msg-1@test.local", nil))
	var responseBody bytes.Buffer
	responseType, err := mime.Serialize(receipt, &responseBody)
	require.NoError(t, err)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", responseType)
		w.Write(responseBody.Bytes())
	}))
	defer server.Close()

	pm := &pmode.SendingProcessingMode{
		ID:                "pm-push",
		PushConfiguration: &pmode.PushConfiguration{URL: server.URL},
	}
	mc := newOutboundContext(t, pm, nil)

	result, err := NewSendMessage(transport.NewClient(nil)).Execute(context.Background(), mc)
	require.NoError(t, err)
	assert.True(t, result.CanProceed)

	sig := result.Context.AS4Message.PrimarySignalMessage()
	require.NotNil(t, sig)
	assert.True(t, sig.IsReceipt())
	assert.Equal(t, "msg-1@test.local", sig.RefToMessageID())
}

func TestSendMessageEmptyAccepted(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	pm := &pmode.SendingProcessingMode{
		ID:                "pm-push",
		PushConfiguration: &pmode.PushConfiguration{URL: server.URL},
	}
	mc := newOutboundContext(t, pm, nil)

	result, err := NewSendMessage(transport.NewClient(nil)).Execute(context.Background(), mc)
	require.NoError(t, err)
	assert.False(t, result.CanProceed)
	assert.True(t, result.Context.AS4Message.IsEmpty())
}

func TestSendMessageRetryableFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "busy", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	pm := &pmode.SendingProcessingMode{
		ID:                "pm-push",
		PushConfiguration: &pmode.PushConfiguration{URL: server.URL},
	}
	mc := newOutboundContext(t, pm, nil)

	_, err := NewSendMessage(transport.NewClient(nil)).Execute(context.Background(), mc)
	var sendErr *SendError
	require.True(t, errors.As(err, &sendErr))
	assert.True(t, sendErr.Retryable())
	assert.Equal(t, "pm-push", sendErr.PModeID)
	assert.NotEmpty(t, sendErr.MessageIds)
}

func TestSetReceptionAwareness(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()

	pm := &pmode.SendingProcessingMode{ID: "pm-ra"}
	pm.Reliability.ReceptionAwareness = pmode.ReceptionAwareness{
		IsEnabled:     true,
		RetryCount:    3,
		RetryInterval: "30s",
	}
	mc := newOutboundContext(t, pm, nil)

	_, err := NewSetReceptionAwareness(store).Execute(ctx, mc)
	require.NoError(t, err)

	id := mc.AS4Message.FirstUserMessage().MessageInfo.MessageId
	record, err := store.GetRetryRecord(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, storage.RetryStatusPending, record.Status)
	assert.Equal(t, 3, record.MaxRetryCount)
	assert.Equal(t, 0, record.CurrentRetryCount)
	assert.Equal(t, 30*time.Second, record.RetryInterval)
}

func TestSetReceptionAwarenessDisabled(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	mc := newOutboundContext(t, &pmode.SendingProcessingMode{ID: "pm"}, nil)

	_, err := NewSetReceptionAwareness(store).Execute(ctx, mc)
	require.NoError(t, err)

	id := mc.AS4Message.FirstUserMessage().MessageInfo.MessageId
	_, err = store.GetRetryRecord(ctx, id)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

const pullEnvelopeWithToken = `<?xml version="1.0" encoding="UTF-8"?>
<env:Envelope xmlns:env="http://www.w3.org/2003/05/soap-envelope">
  <env:Header>
    <wsse:Security xmlns:wsse="http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-wssecurity-secext-1.0.xsd">
      <wsse:UsernameToken>
        <wsse:Username>puller</wsse:Username>
        <wsse:Password>secret</wsse:Password>
      </wsse:UsernameToken>
    </wsse:Security>
  </env:Header>
  <env:Body/>
</env:Envelope>`

func TestVerifyPullRequestAuthorization(t *testing.T) {
	ctx := context.Background()
	auth := AuthorizationMap{
		"urn:test:mpc:restricted": {Username: "puller", Password: "secret"},
	}
	step := NewVerifyPullRequestAuthorization(auth)

	makeContext := func(mpc string, envelope []byte) *pipeline.MessagingContext {
		msg := message.NewAS4Message()
		msg.AddSignalMessage(message.NewPullRequestSignal(mpc))
		msg.EnvelopeXML = envelope
		return pipeline.NewContext(pipeline.ModeReceive).WithAS4Message(msg)
	}

	// Correct credentials pass.
	result, err := step.Execute(ctx, makeContext("urn:test:mpc:restricted", []byte(pullEnvelopeWithToken)))
	require.NoError(t, err)
	assert.True(t, result.CanProceed)

	// Missing token on a restricted MPC is refused.
	_, err = step.Execute(ctx, makeContext("urn:test:mpc:restricted", nil))
	var flowErr *pipeline.Error
	require.ErrorAs(t, err, &flowErr)
	assert.Equal(t, "EBMS:0101", flowErr.Code.Code)

	// Unrestricted MPC needs no credentials.
	result, err = step.Execute(ctx, makeContext("urn:test:mpc:open", nil))
	require.NoError(t, err)
	assert.True(t, result.CanProceed)
}

func TestCreateReceipt(t *testing.T) {
	ctx := context.Background()
	mc := newOutboundContext(t, nil, nil)
	mc.Mode = pipeline.ModeReceive
	umID := mc.AS4Message.FirstUserMessage().MessageInfo.MessageId

	result, err := NewCreateReceipt().Execute(ctx, mc)
	require.NoError(t, err)

	sig := result.Context.AS4Message.PrimarySignalMessage()
	require.NotNil(t, sig)
	assert.True(t, sig.IsReceipt())
	assert.Equal(t, umID, sig.RefToMessageID())
	assert.Equal(t, umID, result.Context.ReceiptReference)
}

func TestEliminateDuplicates(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()

	rpm := &pmode.ReceivingProcessingMode{ID: "rpm", DuplicateElimination: true}
	mc := newOutboundContext(t, nil, nil)
	mc.Mode = pipeline.ModeReceive
	mc.ReceivingPMode = rpm
	umID := mc.AS4Message.FirstUserMessage().MessageInfo.MessageId

	step := NewEliminateDuplicates(store)
	result, err := step.Execute(ctx, mc)
	require.NoError(t, err)
	assert.True(t, result.CanProceed)

	require.NoError(t, store.InsertInMessage(ctx, &storage.InMessage{
		EbmsMessageID: umID,
		MessageType:   storage.MessageTypeUserMessage,
		Operation:     storage.OperationToBeDelivered,
	}))

	result, err = step.Execute(ctx, mc)
	require.NoError(t, err)
	assert.False(t, result.CanProceed)
}

func TestOutboundSecurityTwoPayloads(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	pm := &pmode.SendingProcessingMode{ID: "pm-secured"}
	pm.MessagePackaging.UseAS4Compression = true
	pm.Security.Signing.IsEnabled = true
	pm.Security.Signing.Certificate = pmode.CertCriteria{FindType: pmode.FindByAlias, FindValue: "any"}

	submission := &message.SubmitMessage{
		PModeID: pm.ID,
		CollaborationInfo: &message.CollaborationInfo{
			Service: message.Service{Value: "urn:test:service"},
			Action:  "Submit",
		},
		Payloads: []message.SubmitPayload{
			{Id: "order@test.local", ContentType: "application/xml", Data: bytes.Repeat([]byte("<order/>"), 50)},
			{Id: "invoice@test.local", ContentType: "application/xml", Data: bytes.Repeat([]byte("<invoice/>"), 50)},
		},
	}
	um, attachments := submission.ToUserMessage()
	msg := message.NewAS4Message()
	msg.AddUserMessage(um)
	for _, att := range attachments {
		msg.AddAttachment(att)
	}

	mc := pipeline.NewContext(pipeline.ModeSubmit).WithAS4Message(msg)
	mc.SendingPMode = pm

	flow := pipeline.New("outbound-security", nil,
		NewCompressAttachments(),
		NewSignMessage(repo),
		NewEncryptMessage(repo),
	)
	out, err := flow.Execute(ctx, mc)
	require.NoError(t, err)

	require.Len(t, out.AS4Message.UserMessages, 1)
	require.Len(t, out.AS4Message.Attachments, 2)
	require.NotNil(t, um.PayloadInfo)
	require.Len(t, um.PayloadInfo.PartInfo, 2)

	for _, att := range out.AS4Message.Attachments {
		assert.Equal(t, "application/gzip", att.ContentType)
	}
	for _, part := range um.PayloadInfo.PartInfo {
		require.NotNil(t, part.PartProperties)
		props := map[string]string{}
		for _, p := range part.PartProperties.Property {
			props[p.Name] = p.Value
		}
		assert.Equal(t, "application/gzip", props["CompressionType"])
		assert.Equal(t, "application/xml", props["MimeType"])
	}

	assert.True(t, out.AS4Message.SecurityHeader.IsSigned)
	assert.False(t, out.AS4Message.SecurityHeader.IsEncrypted, "encryption is off in this pmode")
}
