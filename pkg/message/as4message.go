package message

import (
	"bytes"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
)

// Content types for the two AS4 wire shapes.
const (
	ContentTypeSOAP = "application/soap+xml; charset=utf-8"
	ContentTypeMime = "multipart/related"
)

// AS4Message is the wire-level envelope aggregate: the ordered UserMessages
// and SignalMessages of the ebMS3 Messaging header, the MIME attachments
// they reference, and the security state of the SOAP envelope.
type AS4Message struct {
	UserMessages   []*UserMessage
	SignalMessages []*SignalMessage
	Attachments    []*Attachment

	SecurityHeader SecurityHeader

	// ContentType is the outer wire content type: ContentTypeSOAP for a
	// bare envelope, a full multipart/related type once serialized with
	// attachments.
	ContentType string

	// EnvelopeXML holds the serialized SOAP envelope once a security
	// strategy has produced one. Empty until then; BuildEnvelope
	// regenerates it from the header structures.
	EnvelopeXML []byte
}

// SecurityHeader tracks the cryptographic state of the envelope. The
// WS-Security elements themselves live in EnvelopeXML, where the security
// strategies write them.
type SecurityHeader struct {
	IsSigned    bool
	IsEncrypted bool
}

// NewAS4Message creates an empty AS4 message with the SOAP-only content type.
func NewAS4Message() *AS4Message {
	return &AS4Message{ContentType: ContentTypeSOAP}
}

// NewUserMessageWithID creates a UserMessage with a generated message id
// and the current timestamp.
func NewUserMessageWithID() *UserMessage {
	return &UserMessage{
		MessageInfo: &MessageInfo{
			MessageId: GenerateMessageID(),
			Timestamp: time.Now().UTC(),
		},
	}
}

// AddUserMessage appends a user message, generating a message id when the
// caller supplied none.
func (m *AS4Message) AddUserMessage(u *UserMessage) {
	if u.MessageInfo == nil {
		u.MessageInfo = &MessageInfo{Timestamp: time.Now().UTC()}
	}
	if u.MessageInfo.MessageId == "" {
		u.MessageInfo.MessageId = GenerateMessageID()
	}
	m.UserMessages = append(m.UserMessages, u)
}

// AddSignalMessage appends a signal message, generating a message id when
// the caller supplied none.
func (m *AS4Message) AddSignalMessage(s *SignalMessage) {
	if s.MessageInfo == nil {
		s.MessageInfo = &MessageInfo{Timestamp: time.Now().UTC()}
	}
	if s.MessageInfo.MessageId == "" {
		s.MessageInfo.MessageId = GenerateMessageID()
	}
	m.SignalMessages = append(m.SignalMessages, s)
}

// AddAttachment appends a MIME attachment and switches the content type to
// multipart.
func (m *AS4Message) AddAttachment(a *Attachment) {
	m.Attachments = append(m.Attachments, a)
	m.ContentType = ContentTypeMime
}

// FirstUserMessage returns the first user message or nil when there is none.
func (m *AS4Message) FirstUserMessage() *UserMessage {
	if len(m.UserMessages) == 0 {
		return nil
	}
	return m.UserMessages[0]
}

// PrimarySignalMessage returns the first signal message or nil when there
// is none.
func (m *AS4Message) PrimarySignalMessage() *SignalMessage {
	if len(m.SignalMessages) == 0 {
		return nil
	}
	return m.SignalMessages[0]
}

// MessageIds returns all message ids, user messages first then signals, in
// collection order. Never nil; empty when both collections are empty.
func (m *AS4Message) MessageIds() []string {
	ids := make([]string, 0, len(m.UserMessages)+len(m.SignalMessages))
	for _, u := range m.UserMessages {
		ids = append(ids, u.MessageID())
	}
	for _, s := range m.SignalMessages {
		ids = append(ids, s.MessageID())
	}
	return ids
}

// HasAttachments reports whether the message carries MIME attachments.
func (m *AS4Message) HasAttachments() bool { return len(m.Attachments) > 0 }

// IsEmpty reports whether the message carries neither user nor signal
// messages.
func (m *AS4Message) IsEmpty() bool {
	return len(m.UserMessages) == 0 && len(m.SignalMessages) == 0
}

// IsPullRequest reports whether the primary signal message is a PullRequest.
func (m *AS4Message) IsPullRequest() bool {
	sig := m.PrimarySignalMessage()
	return sig != nil && sig.IsPullRequest()
}

// AttachmentByID finds an attachment by its Content-ID, ignoring cid:
// prefixes and angle brackets.
func (m *AS4Message) AttachmentByID(id string) *Attachment {
	want := NormalizeContentID(id)
	for _, a := range m.Attachments {
		if NormalizeContentID(a.Id) == want {
			return a
		}
	}
	return nil
}

// Close releases every attachment's content stream.
func (m *AS4Message) Close() error {
	var firstErr error
	for _, a := range m.Attachments {
		if err := a.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Attachment is a MIME payload part referenced from the envelope by a
// cid: URI matching its Id.
type Attachment struct {
	// Id is the Content-ID without cid: prefix or angle brackets.
	Id          string
	ContentType string

	// Content is the payload stream. Signing and encryption consume the
	// stream and must reset it afterwards; ResetContent does that.
	Content io.ReadSeeker

	// Properties carries MIME part properties such as the original
	// MimeType and CompressionType.
	Properties map[string]string
}

// NewAttachment creates an attachment over an in-memory payload. An empty
// id gets a generated Content-ID.
func NewAttachment(id, contentType string, data []byte) *Attachment {
	if id == "" {
		id = uuid.New().String() + "@openas4.org"
	}
	return &Attachment{
		Id:          NormalizeContentID(id),
		ContentType: contentType,
		Content:     bytes.NewReader(data),
		Properties:  map[string]string{},
	}
}

// Bytes reads the full attachment content and resets the stream position.
func (a *Attachment) Bytes() ([]byte, error) {
	if a.Content == nil {
		return nil, fmt.Errorf("attachment %s has no content", a.Id)
	}
	if _, err := a.Content.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("seeking attachment %s: %w", a.Id, err)
	}
	data, err := io.ReadAll(a.Content)
	if err != nil {
		return nil, fmt.Errorf("reading attachment %s: %w", a.Id, err)
	}
	if _, err := a.Content.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("resetting attachment %s: %w", a.Id, err)
	}
	return data, nil
}

// Replace swaps the content stream and content type; the previous stream is
// closed if closable. Used by compression and encryption, both one-way
// transforms of the payload.
func (a *Attachment) Replace(data []byte, contentType string) {
	if c, ok := a.Content.(io.Closer); ok {
		c.Close()
	}
	a.Content = bytes.NewReader(data)
	a.ContentType = contentType
}

// ResetContent rewinds the content stream to the start.
func (a *Attachment) ResetContent() error {
	if a.Content == nil {
		return nil
	}
	_, err := a.Content.Seek(0, io.SeekStart)
	return err
}

// Close releases the content stream when it is closable.
func (a *Attachment) Close() error {
	if c, ok := a.Content.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// CidReference returns the cid: URI form of the attachment id.
func (a *Attachment) CidReference() string { return "cid:" + a.Id }

// GenerateMessageID creates a unique ebMS3 message identifier.
func GenerateMessageID() string {
	return uuid.New().String() + "@openas4.org"
}
