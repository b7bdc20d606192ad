package message

import (
	"encoding/xml"
	"fmt"
	"strings"
)

// BuildEnvelope serializes the message's header structures into a SOAP 1.2
// envelope. When a security strategy already produced a (signed/encrypted)
// envelope, that XML is returned untouched.
func BuildEnvelope(m *AS4Message) ([]byte, error) {
	if len(m.EnvelopeXML) > 0 {
		return m.EnvelopeXML, nil
	}

	env := &Envelope{
		Header: &Header{Messaging: &Messaging{}},
		Body:   &Body{},
	}
	for _, s := range m.SignalMessages {
		env.Header.Messaging.SignalMessages = append(env.Header.Messaging.SignalMessages, *s)
	}
	for _, u := range m.UserMessages {
		env.Header.Messaging.UserMessages = append(env.Header.Messaging.UserMessages, *u)
	}

	// Compact output: indentation adds whitespace text nodes that break
	// canonicalization at the receiver.
	data, err := xml.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshalling SOAP envelope: %w", err)
	}
	return append([]byte(xml.Header), data...), nil
}

// ParseEnvelope decodes a SOAP envelope into an AS4 message. The raw XML is
// retained on the message so signature verification sees the exact bytes
// that came off the wire.
func ParseEnvelope(data []byte) (*AS4Message, error) {
	var env Envelope
	if err := xml.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("unmarshalling SOAP envelope: %w", err)
	}
	if env.Header == nil || env.Header.Messaging == nil {
		return nil, fmt.Errorf("envelope has no ebMS3 Messaging header")
	}

	m := NewAS4Message()
	m.EnvelopeXML = data
	for i := range env.Header.Messaging.SignalMessages {
		m.SignalMessages = append(m.SignalMessages, &env.Header.Messaging.SignalMessages[i])
	}
	for i := range env.Header.Messaging.UserMessages {
		m.UserMessages = append(m.UserMessages, &env.Header.Messaging.UserMessages[i])
	}
	if env.Header.Security != nil {
		inner := string(env.Header.Security.Any)
		m.SecurityHeader.IsSigned = strings.Contains(inner, "Signature")
		m.SecurityHeader.IsEncrypted = strings.Contains(inner, "EncryptedKey")
	}
	return m, nil
}

// NormalizeContentID strips the cid: prefix and angle brackets from a
// Content-ID so the various wire spellings compare equal.
func NormalizeContentID(contentID string) string {
	contentID = strings.TrimPrefix(contentID, "cid:")
	contentID = strings.TrimPrefix(contentID, "<")
	contentID = strings.TrimSuffix(contentID, ">")
	return contentID
}
