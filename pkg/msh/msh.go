// Package msh ties the message service handler together: the pipelines
// for submitting, receiving and pulling messages, the HTTPS transport,
// the pull scheduler, the retry poller and the notification worker.
//
// # Flows
//
// Submit packages a business submission into a UserMessage, secures it
// (compression, signature, encryption per the sending PMode), persists
// the wire form, and either pushes it immediately or leaves it on its
// MPC for a pull request.
//
// Received messages run through verification, decryption, decompression
// and duplicate elimination; surviving user messages are persisted,
// handed to the configured deliver sender and answered with a receipt.
// Flow errors become ebMS error signals on the response.
//
// Pull requests from partners are authorized by UsernameToken, answered
// with the oldest waiting message on the requested MPC, or with an
// EBMS:0006 warning when the channel is empty.
package msh

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/beevik/etree"

	"github.com/openas4/msh/internal/keystore"
	"github.com/openas4/msh/internal/storage"
	"github.com/openas4/msh/pkg/message"
	"github.com/openas4/msh/pkg/mime"
	"github.com/openas4/msh/pkg/pipeline"
	"github.com/openas4/msh/pkg/pmode"
	"github.com/openas4/msh/pkg/reliability"
	"github.com/openas4/msh/pkg/scheduler"
	"github.com/openas4/msh/pkg/steps"
	"github.com/openas4/msh/pkg/transport"
)

// ErrUnknownPullChannel is returned when a pull fires on an MPC without
// a configured target.
var ErrUnknownPullChannel = errors.New("no pull target configured for MPC")

// EndpointResolver resolves the partner endpoint for sending pmodes
// that defer it to dynamic discovery. *discovery.Resolver implements
// it over BDXL.
type EndpointResolver interface {
	Resolve(ctx context.Context, partyID string) (string, error)
}

// PullTarget names the partner endpoint a pull channel is served by.
type PullTarget struct {
	Mpc string `yaml:"mpc"`
	URL string `yaml:"url"`

	// Auth is included as a UsernameToken on outgoing pull requests.
	Auth *pmode.PullAuth `yaml:"auth,omitempty"`
}

// Options configures an MSH instance beyond its collaborators.
type Options struct {
	Logger *slog.Logger

	// ServerAddress and ServerPath bind the receiving endpoint.
	ServerAddress string
	ServerPath    string
	HTTPS         *transport.HTTPSConfig

	// PullChannels drive the scheduler; PullTargets name where each
	// channel's pull requests go.
	PullChannels []scheduler.ChannelConfig
	PullTargets  []PullTarget

	// PullAuthorization restricts incoming pull requests per MPC.
	PullAuthorization steps.AuthorizationMap

	// Endpoints serves pmodes with dynamic_discovery enabled. Nil makes
	// such pmodes fail at send time.
	Endpoints EndpointResolver

	Reliability *reliability.Config

	// NotifyMethod receives producer notifications for dead lettered
	// and failed messages. Nil disables the notify worker.
	NotifyMethod *pmode.Method

	// NotifyInterval is the notify worker poll interval.
	NotifyInterval time.Duration
}

// MSH is the message service handler orchestrator.
type MSH struct {
	repo   storage.Repository
	bodies storage.BodyStore
	certs  keystore.CertificateRepository
	pmodes *pmode.Registry
	logger *slog.Logger

	client    *transport.Client
	server    *transport.Server
	senders   *transport.SenderRegistry
	scheduler *scheduler.Scheduler
	poller    *reliability.RetryPoller

	outboundSecurity *pipeline.Pipeline
	receiveFlow      *pipeline.Catching
	pullFlow         *pipeline.Catching

	pullTargets map[string]PullTarget
	endpoints   EndpointResolver

	notifyMethod   *pmode.Method
	notifyInterval time.Duration

	// closers release backends opened by FromConfig.
	closers []func(context.Context) error

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New assembles an MSH from its collaborators.
func New(repo storage.Repository, bodies storage.BodyStore, certs keystore.CertificateRepository, pmodes *pmode.Registry, opts Options) *MSH {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	m := &MSH{
		repo:           repo,
		bodies:         bodies,
		certs:          certs,
		pmodes:         pmodes,
		logger:         logger,
		client:         transport.NewClient(opts.HTTPS),
		senders:        transport.NewSenderRegistry(),
		pullTargets:    map[string]PullTarget{},
		endpoints:      opts.Endpoints,
		notifyMethod:   opts.NotifyMethod,
		notifyInterval: opts.NotifyInterval,
	}
	if m.notifyInterval <= 0 {
		m.notifyInterval = 30 * time.Second
	}
	for _, target := range opts.PullTargets {
		m.pullTargets[target.Mpc] = target
	}

	sink := storage.NewExceptionRecorder(repo)

	m.outboundSecurity = pipeline.New("outbound-security", logger,
		steps.NewCompressAttachments(),
		steps.NewSignMessage(certs),
		steps.NewEncryptMessage(certs),
	)

	m.receiveFlow = pipeline.NewCatching(pipeline.New("receive", logger,
		steps.NewVerifySignature(certs.TrustedRoots()),
		steps.NewDecryptMessage(certs),
		steps.NewDecompressAttachments(),
		steps.NewEliminateDuplicates(repo),
		steps.NewCreateReceipt(),
	), sink, logger)

	m.pullFlow = pipeline.NewCatching(pipeline.New("pull-respond", logger,
		steps.NewVerifyPullRequestAuthorization(opts.PullAuthorization),
		steps.NewSelectUserMessageToSend(repo, bodies),
	), sink, logger)

	m.server = transport.NewServer(opts.ServerAddress, opts.ServerPath, opts.HTTPS, m)
	m.scheduler = scheduler.New(m, opts.PullChannels, logger)
	m.poller = reliability.NewRetryPoller(repo, bodies, m, opts.Reliability, logger)
	return m
}

// Start brings up the receiving server and the background workers.
// It blocks until the server stops.
func (m *MSH) Start(ctx context.Context) error {
	m.ctx, m.cancel = context.WithCancel(ctx)

	m.scheduler.Start(m.ctx)
	m.poller.Start(m.ctx)
	if m.notifyMethod != nil {
		m.wg.Add(1)
		go m.runNotifyWorker()
	}

	m.logger.Info("msh started")
	return m.server.Start()
}

// Shutdown stops the background workers and drains the server.
func (m *MSH) Shutdown(ctx context.Context) error {
	if m.cancel != nil {
		m.cancel()
	}
	m.scheduler.Stop()
	m.poller.Stop()
	m.wg.Wait()

	err := m.server.Shutdown(ctx)
	for _, closer := range m.closers {
		if cerr := closer(ctx); cerr != nil && err == nil {
			err = cerr
		}
	}
	m.logger.Info("msh stopped")
	return err
}

// Submit packages and dispatches a business submission. The returned id
// is the ebMS MessageId of the created UserMessage.
func (m *MSH) Submit(ctx context.Context, submission *message.SubmitMessage) (string, error) {
	pm, err := m.pmodes.Sending(submission.PModeID)
	if err != nil {
		return "", err
	}

	um, attachments := submission.ToUserMessage()
	um.Mpc = pm.MessagePackaging.Mpc
	msg := message.NewAS4Message()
	msg.AddUserMessage(um)
	for _, att := range attachments {
		msg.AddAttachment(att)
	}
	messageID := um.MessageInfo.MessageId

	mc := pipeline.NewContext(pipeline.ModeSubmit).WithAS4Message(msg)
	mc.SendingPMode = pm

	mc, err = m.outboundSecurity.Execute(ctx, mc)
	if err != nil {
		return messageID, fmt.Errorf("securing message %s: %w", messageID, err)
	}

	stored, err := m.persistOutbound(ctx, mc.AS4Message, pm)
	if err != nil {
		return messageID, err
	}

	if pm.IsPulling() {
		// The message waits on its MPC for a partner pull.
		m.logger.Info("message staged for pulling",
			"message_id", messageID, "mpc", stored.Mpc)
		return messageID, nil
	}

	mc.Mode = pipeline.ModeSend
	if err := m.push(ctx, mc, stored); err != nil {
		return messageID, err
	}
	return messageID, nil
}

// persistOutbound stores the secured wire form so pulls and retries can
// replay it byte for byte.
func (m *MSH) persistOutbound(ctx context.Context, msg *message.AS4Message, pm *pmode.SendingProcessingMode) (*storage.OutMessage, error) {
	um := msg.FirstUserMessage()

	var buf bytes.Buffer
	contentType, err := mime.Serialize(msg, &buf)
	if err != nil {
		return nil, fmt.Errorf("serializing message %s: %w", um.MessageID(), err)
	}
	bodyID, err := m.bodies.SaveBody(ctx, um.MessageID(), contentType, &buf)
	if err != nil {
		return nil, fmt.Errorf("storing body of %s: %w", um.MessageID(), err)
	}

	stored := &storage.OutMessage{
		EbmsMessageID: um.MessageID(),
		MessageType:   storage.MessageTypeUserMessage,
		PModeID:       pm.ID,
		Mpc:           pm.Mpc(),
		ContentType:   contentType,
		Operation:     storage.OperationToBeSent,
		BodyID:        bodyID,
	}
	if err := m.repo.InsertOutMessage(ctx, stored); err != nil {
		return nil, fmt.Errorf("storing message %s: %w", um.MessageID(), err)
	}
	return stored, nil
}

// push sends an outbound context and processes the synchronous answer.
func (m *MSH) push(ctx context.Context, mc *pipeline.MessagingContext, stored *storage.OutMessage) error {
	pm, err := m.resolveEndpoint(ctx, mc.SendingPMode, mc.AS4Message.FirstUserMessage())
	if err != nil {
		m.deadLetter(ctx, stored.EbmsMessageID, err.Error())
		return err
	}
	mc.SendingPMode = pm

	if err := m.repo.UpdateOutMessageOperation(ctx, stored.EbmsMessageID, storage.OperationSending); err != nil {
		return err
	}

	sendFlow := pipeline.New("send", m.logger,
		steps.NewSetReceptionAwareness(m.repo),
		steps.NewSendMessage(m.client),
	)
	response, err := sendFlow.Execute(ctx, mc)
	if err != nil {
		var sendErr *steps.SendError
		if errors.As(err, &sendErr) && sendErr.Retryable() {
			// Reception awareness picks the message up again.
			if uerr := m.repo.UpdateOutMessageOperation(ctx, stored.EbmsMessageID, storage.OperationToBeSent); uerr != nil {
				return uerr
			}
			m.logger.Warn("push failed, message scheduled for retry",
				"message_id", stored.EbmsMessageID, "error", err)
			return nil
		}
		m.deadLetter(ctx, stored.EbmsMessageID, err.Error())
		return err
	}

	if err := m.repo.UpdateOutMessageOperation(ctx, stored.EbmsMessageID, storage.OperationSent); err != nil {
		return err
	}
	return m.processReply(ctx, response.AS4Message)
}

// Resend replays a stored message for the retry poller.
func (m *MSH) Resend(ctx context.Context, stored *storage.OutMessage, msg *message.AS4Message) error {
	pm, err := m.pmodes.Sending(stored.PModeID)
	if err != nil {
		return err
	}
	pm, err = m.resolveEndpoint(ctx, pm, msg.FirstUserMessage())
	if err != nil {
		return err
	}

	mc := pipeline.NewContext(pipeline.ModeSend).WithAS4Message(msg)
	mc.SendingPMode = pm

	sendFlow := pipeline.New("resend", m.logger, steps.NewSendMessage(m.client))
	response, err := sendFlow.Execute(ctx, mc)
	if err != nil {
		return err
	}
	return m.processReply(ctx, response.AS4Message)
}

// resolveEndpoint fills in a dynamically discovered push URL. The
// pmode is copied so the registry entry stays untouched.
func (m *MSH) resolveEndpoint(ctx context.Context, pm *pmode.SendingProcessingMode, um *message.UserMessage) (*pmode.SendingProcessingMode, error) {
	pc := pm.PushConfiguration
	if pc == nil || !pc.DynamicDiscovery || pc.URL != "" {
		return pm, nil
	}
	if m.endpoints == nil {
		return nil, fmt.Errorf("pmode %s uses dynamic discovery but no resolver is configured", pm.ID)
	}
	partyID := receiverPartyID(pm, um)
	if partyID == "" {
		return nil, fmt.Errorf("pmode %s has no receiver party id to discover an endpoint for", pm.ID)
	}

	url, err := m.endpoints.Resolve(ctx, partyID)
	if err != nil {
		return nil, fmt.Errorf("discovering endpoint for pmode %s: %w", pm.ID, err)
	}
	m.logger.Info("discovered partner endpoint",
		"pmode", pm.ID, "party_id", partyID, "url", url)

	resolved := *pm
	resolvedPush := *pc
	resolvedPush.URL = url
	resolved.PushConfiguration = &resolvedPush
	return &resolved, nil
}

// receiverPartyID picks the party identifier the BDXL lookup hashes:
// the pmode's configured receiver, falling back to the To party of the
// message being sent.
func receiverPartyID(pm *pmode.SendingProcessingMode, um *message.UserMessage) string {
	to := pm.PartyInfo.ToParty
	if (to == nil || len(to.PartyId) == 0) && um != nil && um.PartyInfo != nil {
		to = um.PartyInfo.To
	}
	if to == nil || len(to.PartyId) == 0 {
		return ""
	}
	return to.PartyId[0].Value
}

// processReply consumes the signals of a synchronous answer: receipts
// complete retry records, error signals dead letter the referenced
// message.
func (m *MSH) processReply(ctx context.Context, reply *message.AS4Message) error {
	if reply == nil || reply.IsEmpty() {
		return nil
	}
	for _, sig := range reply.SignalMessages {
		switch {
		case sig.IsReceipt():
			if err := m.poller.OnReceipt(ctx, sig.RefToMessageID()); err != nil {
				return err
			}
		case sig.IsError():
			m.handleErrorSignal(ctx, sig)
		}
	}
	return nil
}

func (m *MSH) handleErrorSignal(ctx context.Context, sig *message.SignalMessage) {
	ref := sig.RefToMessageID()
	detail := sig.Error.ErrorDetail
	if detail == "" {
		detail = sig.Error.ShortDescription
	}
	m.logger.Warn("partner reported an error",
		"ref_to_message_id", ref,
		"code", sig.Error.ErrorCode,
		"detail", detail)

	if sig.Error.Severity == message.SeverityWarning {
		return
	}
	m.deadLetter(ctx, ref, fmt.Sprintf("%s: %s", sig.Error.ErrorCode, detail))
}

// deadLetter marks an outbound message failed and queues a producer
// notification.
func (m *MSH) deadLetter(ctx context.Context, messageID, reason string) {
	if err := m.repo.UpdateOutMessageOperation(ctx, messageID, storage.OperationDeadLettered); err != nil && !errors.Is(err, storage.ErrNotFound) {
		m.logger.Error("dead lettering failed", "message_id", messageID, "error", err)
		return
	}
	exc := &storage.Exception{
		Direction:      storage.ExceptionOut,
		RefToMessageID: messageID,
		Detail:         reason,
		Operation:      storage.OperationToBeNotified,
	}
	if err := m.repo.InsertException(ctx, exc); err != nil {
		m.logger.Error("recording exception failed", "message_id", messageID, "error", err)
	}
}

// HandleMessage implements transport.Handler for the receiving endpoint.
func (m *MSH) HandleMessage(ctx context.Context, contentType string, body []byte) ([]byte, string, error) {
	msg, err := mime.Parse(contentType, bytes.NewReader(body))
	if err != nil {
		return nil, "", fmt.Errorf("parsing inbound message: %w", err)
	}
	defer msg.Close()

	switch {
	case msg.IsPullRequest():
		return m.respondToPull(ctx, msg)
	case msg.FirstUserMessage() != nil:
		return m.receiveUserMessage(ctx, msg)
	default:
		// A bare signal exchange: receipts and errors for earlier pushes.
		if err := m.processReply(ctx, msg); err != nil {
			return nil, "", err
		}
		return nil, "", nil
	}
}

// respondToPull answers a partner's pull request.
func (m *MSH) respondToPull(ctx context.Context, msg *message.AS4Message) ([]byte, string, error) {
	mc := pipeline.NewContext(pipeline.ModeReceive).WithAS4Message(msg)

	out, err := m.pullFlow.Execute(ctx, mc)
	if err != nil {
		return nil, "", err
	}
	if out.AS4Message == nil || out.AS4Message.IsEmpty() {
		return nil, "", nil
	}
	return m.serializeResponse(out.AS4Message)
}

// receiveUserMessage runs the receive flow and answers per the receiving
// PMode's reply pattern.
func (m *MSH) receiveUserMessage(ctx context.Context, msg *message.AS4Message) ([]byte, string, error) {
	um := msg.FirstUserMessage()
	rpm, err := m.pmodes.MatchReceiving(um)
	if err != nil {
		return nil, "", fmt.Errorf("no receiving pmode for %s: %w", um.MessageID(), err)
	}

	mc := pipeline.NewContext(pipeline.ModeReceive).WithAS4Message(msg)
	mc.ReceivingPMode = rpm

	out, err := m.receiveFlow.Execute(ctx, mc)
	if err != nil {
		return nil, "", err
	}

	// A receipt on the outcome means the message was accepted; persist
	// and deliver it. An error signal response skips both.
	if out.ReceiptReference != "" {
		if err := m.acceptUserMessage(ctx, msg, rpm); err != nil {
			return nil, "", err
		}
	}

	// Respond only with a generated signal message. A flow stopped
	// before the receipt step leaves the inbound message on the
	// context; echoing that back would be wrong.
	if out.AS4Message == nil || out.AS4Message.FirstUserMessage() != nil || out.AS4Message.PrimarySignalMessage() == nil {
		return nil, "", nil
	}
	return m.respondPerReplyPattern(ctx, out, rpm)
}

// acceptUserMessage persists a received message and hands its payloads
// to the configured deliver sender.
func (m *MSH) acceptUserMessage(ctx context.Context, msg *message.AS4Message, rpm *pmode.ReceivingProcessingMode) error {
	um := msg.FirstUserMessage()

	record := &storage.InMessage{
		EbmsMessageID: um.MessageID(),
		MessageType:   storage.MessageTypeUserMessage,
		PModeID:       rpm.ID,
		Mpc:           um.GetMpc(),
		ContentType:   msg.ContentType,
		Operation:     storage.OperationToBeDelivered,
	}
	if err := m.repo.InsertInMessage(ctx, record); err != nil {
		if errors.Is(err, storage.ErrDuplicateMessage) {
			// Retransmission of an already accepted message.
			return nil
		}
		return fmt.Errorf("storing received message %s: %w", um.MessageID(), err)
	}

	if !rpm.Deliver.IsEnabled {
		return nil
	}
	if err := m.deliver(ctx, msg, rpm); err != nil {
		m.recordInException(ctx, um.MessageID(), rpm.ID, err)
		return m.repo.UpdateInMessageOperation(ctx, um.MessageID(), storage.OperationToBeDelivered)
	}
	return m.repo.UpdateInMessageOperation(ctx, um.MessageID(), storage.OperationDelivered)
}

func (m *MSH) deliver(ctx context.Context, msg *message.AS4Message, rpm *pmode.ReceivingProcessingMode) error {
	sender, err := m.senders.For(&rpm.Deliver.Method)
	if err != nil {
		return err
	}

	um := msg.FirstUserMessage()
	for _, att := range msg.Attachments {
		data, err := att.Bytes()
		if err != nil {
			return err
		}
		envelope := message.DeliverMessageEnvelope{
			MessageID:   um.MessageID(),
			ContentType: att.ContentType,
			Content:     data,
		}
		name := fmt.Sprintf("%s.%s", envelope.MessageID, att.Id)
		if err := sender.SendPayload(ctx, &rpm.Deliver.Method, name, envelope.ContentType, envelope.Content); err != nil {
			return fmt.Errorf("delivering payload %s of %s: %w", att.Id, um.MessageID(), err)
		}
	}
	return nil
}

func (m *MSH) recordInException(ctx context.Context, messageID, pmodeID string, cause error) {
	exc := &storage.Exception{
		Direction:      storage.ExceptionIn,
		RefToMessageID: messageID,
		PModeID:        pmodeID,
		Detail:         cause.Error(),
		Operation:      storage.OperationToBeNotified,
	}
	if err := m.repo.InsertException(ctx, exc); err != nil {
		m.logger.Error("recording exception failed", "message_id", messageID, "error", err)
	}
}

// respondPerReplyPattern returns the signal response synchronously or
// posts it to the partner's callback endpoint.
func (m *MSH) respondPerReplyPattern(ctx context.Context, out *pipeline.MessagingContext, rpm *pmode.ReceivingProcessingMode) ([]byte, string, error) {
	pattern := rpm.ReplyPatternOrDefault()
	if pattern != pmode.ReplyPatternCallback {
		return m.serializeResponse(out.AS4Message)
	}

	callbackURL := rpm.ReplyHandling.ReceiptHandling.CallbackURL
	if callbackURL == "" {
		m.logger.Warn("callback reply pattern without callback url, answering synchronously",
			"pmode", rpm.ID)
		return m.serializeResponse(out.AS4Message)
	}

	body, contentType, err := m.serializeResponse(out.AS4Message)
	if err != nil {
		return nil, "", err
	}
	result, err := m.client.Send(ctx, callbackURL, body, contentType)
	if err != nil {
		return nil, "", err
	}
	if !result.IsSuccess() {
		m.logger.Error("callback delivery failed",
			"url", callbackURL, "status", result.StatusCode)
	}
	return nil, "", nil
}

func (m *MSH) serializeResponse(msg *message.AS4Message) ([]byte, string, error) {
	var buf bytes.Buffer
	contentType, err := mime.Serialize(msg, &buf)
	if err != nil {
		return nil, "", fmt.Errorf("serializing response: %w", err)
	}
	return buf.Bytes(), contentType, nil
}

// Pull implements scheduler.Puller: it sends one pull request on mpc and
// feeds a returned user message through the receive flow.
func (m *MSH) Pull(ctx context.Context, mpc string) (bool, error) {
	target, ok := m.pullTargets[mpc]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownPullChannel, mpc)
	}

	body, contentType, err := m.buildPullRequest(mpc, target.Auth)
	if err != nil {
		return false, err
	}

	result, err := m.client.Send(ctx, target.URL, body, contentType)
	if err != nil {
		return false, err
	}
	if !result.IsSuccess() {
		return false, fmt.Errorf("pulling %s: status %d", mpc, result.StatusCode)
	}
	if !result.HasBody() {
		return false, nil
	}

	reply, err := mime.Parse(result.ContentType, bytes.NewReader(result.Body))
	if err != nil {
		return false, fmt.Errorf("parsing pull response: %w", err)
	}
	defer reply.Close()

	um := reply.FirstUserMessage()
	if um == nil {
		// Empty channel warning or another signal.
		return false, m.processReply(ctx, reply)
	}

	if _, _, err := m.receiveUserMessage(ctx, reply); err != nil {
		return false, err
	}
	return true, nil
}

// buildPullRequest serializes a PullRequest signal, adding a WS-Security
// UsernameToken when the channel requires credentials.
func (m *MSH) buildPullRequest(mpc string, auth *pmode.PullAuth) ([]byte, string, error) {
	msg := message.NewAS4Message()
	msg.AddSignalMessage(message.NewPullRequestSignal(mpc))

	envelope, err := message.BuildEnvelope(msg)
	if err != nil {
		return nil, "", fmt.Errorf("building pull request: %w", err)
	}
	if auth != nil {
		envelope, err = addUsernameToken(envelope, auth)
		if err != nil {
			return nil, "", err
		}
	}
	msg.EnvelopeXML = envelope

	var buf bytes.Buffer
	contentType, err := mime.Serialize(msg, &buf)
	if err != nil {
		return nil, "", fmt.Errorf("serializing pull request: %w", err)
	}
	return buf.Bytes(), contentType, nil
}

const nsWsse = "http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-wssecurity-secext-1.0.xsd"

// addUsernameToken inserts a wsse:UsernameToken into the SOAP header.
func addUsernameToken(envelope []byte, auth *pmode.PullAuth) ([]byte, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(envelope); err != nil {
		return nil, fmt.Errorf("parsing envelope for username token: %w", err)
	}
	header := doc.FindElement("//*[local-name()='Envelope']/*[local-name()='Header']")
	if header == nil {
		return nil, errors.New("envelope has no SOAP header")
	}

	security := header.CreateElement("wsse:Security")
	security.CreateAttr("xmlns:wsse", nsWsse)
	token := security.CreateElement("wsse:UsernameToken")
	token.CreateElement("wsse:Username").SetText(auth.Username)
	token.CreateElement("wsse:Password").SetText(auth.Password)

	return doc.WriteToBytes()
}

// Notify worker

func (m *MSH) runNotifyWorker() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.notifyInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.ProcessNotifications(m.ctx)
		}
	}
}

// ProcessNotifications hands queued exception notifications to the
// configured notify method.
func (m *MSH) ProcessNotifications(ctx context.Context) {
	for _, direction := range []storage.ExceptionDirection{storage.ExceptionOut, storage.ExceptionIn} {
		exceptions, err := m.repo.ExceptionsToNotify(ctx, direction, 20)
		if err != nil {
			m.logger.Error("listing exceptions failed", "error", err)
			return
		}
		for _, exc := range exceptions {
			if err := m.notify(ctx, exc); err != nil {
				m.logger.Error("notification failed",
					"exception_id", exc.ID, "error", err)
				continue
			}
			if err := m.repo.UpdateExceptionOperation(ctx, exc.ID, storage.OperationNotified); err != nil {
				m.logger.Error("marking exception notified failed",
					"exception_id", exc.ID, "error", err)
			}
		}
	}
}

func (m *MSH) notify(ctx context.Context, exc *storage.Exception) error {
	sender, err := m.senders.For(m.notifyMethod)
	if err != nil {
		return err
	}

	envelope := message.NotifyMessageEnvelope{
		MessageID:   exc.RefToMessageID,
		Status:      message.NotifyExhausted,
		StatusTime:  time.Now().UTC(),
		ContentType: "text/plain",
		Content:     []byte(exc.Detail),
	}
	name := fmt.Sprintf("notify.%s", exc.ID)
	return sender.SendPayload(ctx, m.notifyMethod, name, envelope.ContentType, envelope.Content)
}
