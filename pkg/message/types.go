// Package message provides the AS4 message aggregate and ebMS3 header structures.
package message

import (
	"encoding/xml"
	"time"
)

// Namespace constants for AS4/ebMS3
const (
	NsSOAPEnv = "http://www.w3.org/2003/05/soap-envelope"
	NsEbMS    = "http://docs.oasis-open.org/ebxml-msg/ebms/v3.0/ns/core/200704/"
	NsWSSE    = "http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-wssecurity-secext-1.0.xsd"
	NsWSU     = "http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-wssecurity-utility-1.0.xsd"
	NsDS      = "http://www.w3.org/2000/09/xmldsig#"
	NsXENC    = "http://www.w3.org/2001/04/xmlenc#"
	NsXENC11  = "http://www.w3.org/2009/xmlenc11#"
	NsDS11    = "http://www.w3.org/2009/xmldsig11#"
)

// MEP constants for Message Exchange Patterns
const (
	MEPOneWay      = "http://docs.oasis-open.org/ebxml-msg/ebms/v3.0/ns/core/200704/oneWay"
	MEPTwoWay      = "http://docs.oasis-open.org/ebxml-msg/ebms/v3.0/ns/core/200704/twoWay"
	MEPBindingPush = "http://docs.oasis-open.org/ebxml-msg/ebms/v3.0/ns/core/200704/push"
	MEPBindingPull = "http://docs.oasis-open.org/ebxml-msg/ebms/v3.0/ns/core/200704/pull"
)

// DefaultMpc is the well-known default Message Partition Channel URI.
// UserMessages and PullRequests without an explicit mpc use this channel.
const DefaultMpc = "http://docs.oasis-open.org/ebxml-msg/ebms/v3.0/ns/core/200704/defaultMPC"

// DefaultRole is the default party role URI.
const DefaultRole = "http://docs.oasis-open.org/ebxml-msg/ebms/v3.0/ns/core/200704/defaultRole"

// Test Service constants
const (
	TestService = "http://docs.oasis-open.org/ebxml-msg/ebms/v3.0/ns/core/200704/service"
	TestAction  = "http://docs.oasis-open.org/ebxml-msg/ebms/v3.0/ns/core/200704/test"
)

// Envelope represents a SOAP 1.2 envelope
type Envelope struct {
	XMLName xml.Name `xml:"http://www.w3.org/2003/05/soap-envelope Envelope"`
	Header  *Header  `xml:"Header"`
	Body    *Body    `xml:"Body"`
}

// Header represents the SOAP header containing the ebMS3 Messaging header
type Header struct {
	Messaging *Messaging `xml:"http://docs.oasis-open.org/ebxml-msg/ebms/v3.0/ns/core/200704/ Messaging"`
	Security  *Security  `xml:"http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-wssecurity-secext-1.0.xsd Security,omitempty"`
}

// Body represents the SOAP body (empty for AS4 as payloads travel as MIME attachments)
type Body struct {
	XMLName xml.Name `xml:"http://www.w3.org/2003/05/soap-envelope Body"`
}

// Messaging represents the ebMS3 Messaging header. An AS4 message may carry
// several UserMessages and SignalMessages; order is preserved on the wire.
type Messaging struct {
	XMLName        xml.Name        `xml:"http://docs.oasis-open.org/ebxml-msg/ebms/v3.0/ns/core/200704/ Messaging"`
	SignalMessages []SignalMessage `xml:"SignalMessage,omitempty"`
	UserMessages   []UserMessage   `xml:"UserMessage,omitempty"`
}

// UserMessage represents an ebMS3 UserMessage
type UserMessage struct {
	XMLName           xml.Name           `xml:"http://docs.oasis-open.org/ebxml-msg/ebms/v3.0/ns/core/200704/ UserMessage"`
	Mpc               string             `xml:"mpc,attr,omitempty"`
	MessageInfo       *MessageInfo       `xml:"MessageInfo"`
	PartyInfo         *PartyInfo         `xml:"PartyInfo"`
	CollaborationInfo *CollaborationInfo `xml:"CollaborationInfo"`
	MessageProperties *MessageProperties `xml:"MessageProperties,omitempty"`
	PayloadInfo       *PayloadInfo       `xml:"PayloadInfo,omitempty"`
}

// MessageID returns the message id, empty when MessageInfo is absent.
func (u *UserMessage) MessageID() string {
	if u.MessageInfo == nil {
		return ""
	}
	return u.MessageInfo.MessageId
}

// GetMpc returns the message partition channel, falling back to the
// well-known default MPC when unset.
func (u *UserMessage) GetMpc() string {
	if u.Mpc == "" {
		return DefaultMpc
	}
	return u.Mpc
}

// MessageInfo contains message identification and timestamps
type MessageInfo struct {
	Timestamp      time.Time `xml:"Timestamp"`
	MessageId      string    `xml:"MessageId"`
	RefToMessageId string    `xml:"RefToMessageId,omitempty"`
}

// PartyInfo contains sender and receiver party information
type PartyInfo struct {
	From *Party `xml:"From"`
	To   *Party `xml:"To"`
}

// Party represents a messaging party
type Party struct {
	PartyId []PartyId `xml:"PartyId"`
	Role    string    `xml:"Role"`
}

// Equal reports structural equality: same role and the same ordered
// sequence of party ids. A nil other party is never equal.
func (p *Party) Equal(other *Party) bool {
	if other == nil {
		return false
	}
	if p.Role != other.Role || len(p.PartyId) != len(other.PartyId) {
		return false
	}
	for i := range p.PartyId {
		if !p.PartyId[i].Equal(&other.PartyId[i]) {
			return false
		}
	}
	return true
}

// PartyId represents a party identifier with type
type PartyId struct {
	Type  string `xml:"type,attr,omitempty"`
	Value string `xml:",chardata"`
}

// Equal reports value equality on id and type.
func (p *PartyId) Equal(other *PartyId) bool {
	if other == nil {
		return false
	}
	return p.Value == other.Value && p.Type == other.Type
}

// CollaborationInfo contains service and action information
type CollaborationInfo struct {
	AgreementRef   *AgreementRef `xml:"AgreementRef,omitempty"`
	Service        Service       `xml:"Service"`
	Action         string        `xml:"Action"`
	ConversationId string        `xml:"ConversationId"`
}

// AgreementRef references a business agreement
type AgreementRef struct {
	Type  string `xml:"type,attr,omitempty"`
	Pmode string `xml:"pmode,attr,omitempty"`
	Value string `xml:",chardata"`
}

// Service identifies the service
type Service struct {
	Type  string `xml:"type,attr,omitempty"`
	Value string `xml:",chardata"`
}

// Equal reports value equality on service value and type.
func (s *Service) Equal(other *Service) bool {
	if other == nil {
		return false
	}
	return s.Value == other.Value && s.Type == other.Type
}

// MessageProperties contains custom message properties
type MessageProperties struct {
	Property []Property `xml:"Property"`
}

// Property represents a message property
type Property struct {
	Name  string `xml:"name,attr"`
	Type  string `xml:"type,attr,omitempty"`
	Value string `xml:",chardata"`
}

// PayloadInfo contains references to payload parts
type PayloadInfo struct {
	PartInfo []PartInfo `xml:"PartInfo"`
}

// PartInfo describes a payload part
type PartInfo struct {
	Href           string          `xml:"href,attr,omitempty"`
	PartProperties *PartProperties `xml:"PartProperties,omitempty"`
}

// PartProperties contains properties for a payload part
type PartProperties struct {
	Property []Property `xml:"Property"`
}

// SignalMessage represents an ebMS3 SignalMessage
// (Receipt, Error or PullRequest).
type SignalMessage struct {
	XMLName     xml.Name     `xml:"http://docs.oasis-open.org/ebxml-msg/ebms/v3.0/ns/core/200704/ SignalMessage"`
	MessageInfo *MessageInfo `xml:"MessageInfo"`
	Receipt     *Receipt     `xml:"Receipt,omitempty"`
	Error       *Error       `xml:"Error,omitempty"`
	PullRequest *PullRequest `xml:"PullRequest,omitempty"`
}

// MessageID returns the signal's message id, empty when MessageInfo is absent.
func (s *SignalMessage) MessageID() string {
	if s.MessageInfo == nil {
		return ""
	}
	return s.MessageInfo.MessageId
}

// RefToMessageID returns the id of the message this signal acknowledges.
func (s *SignalMessage) RefToMessageID() string {
	if s.MessageInfo == nil {
		return ""
	}
	return s.MessageInfo.RefToMessageId
}

// IsReceipt reports whether the signal is a Receipt.
func (s *SignalMessage) IsReceipt() bool { return s.Receipt != nil }

// IsError reports whether the signal is an Error.
func (s *SignalMessage) IsError() bool { return s.Error != nil }

// IsPullRequest reports whether the signal is a PullRequest.
func (s *SignalMessage) IsPullRequest() bool { return s.PullRequest != nil }

// Receipt represents a receipt acknowledgment
type Receipt struct {
	XMLName xml.Name `xml:"http://docs.oasis-open.org/ebxml-msg/ebms/v3.0/ns/core/200704/ Receipt"`
	// Can contain NonRepudiationInformation or a simple ack
	Any []byte `xml:",innerxml"`
}

// Error represents an ebMS3 error
type Error struct {
	XMLName             xml.Name `xml:"http://docs.oasis-open.org/ebxml-msg/ebms/v3.0/ns/core/200704/ Error"`
	ErrorCode           string   `xml:"errorCode,attr"`
	Severity            string   `xml:"severity,attr"`
	ShortDescription    string   `xml:"shortDescription,attr"`
	Category            string   `xml:"category,attr,omitempty"`
	Description         string   `xml:"Description,omitempty"`
	ErrorDetail         string   `xml:"ErrorDetail,omitempty"`
	RefToMessageInError string   `xml:"refToMessageInError,attr,omitempty"`
}

// PullRequest represents an ebMS3 PullRequest signal. The mpc attribute
// names the message partition channel being pulled.
type PullRequest struct {
	XMLName xml.Name `xml:"http://docs.oasis-open.org/ebxml-msg/ebms/v3.0/ns/core/200704/ PullRequest"`
	Mpc     string   `xml:"mpc,attr,omitempty"`
}

// GetMpc returns the pulled channel, falling back to the default MPC.
func (p *PullRequest) GetMpc() string {
	if p.Mpc == "" {
		return DefaultMpc
	}
	return p.Mpc
}

// Security represents the WS-Security header on the wire. Its contents
// (Signature, EncryptedKey, EncryptedData) are produced and consumed by
// the security package.
type Security struct {
	XMLName        xml.Name `xml:"http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-wssecurity-secext-1.0.xsd Security"`
	MustUnderstand string   `xml:"http://www.w3.org/2003/05/soap-envelope mustUnderstand,attr"`
	Any            []byte   `xml:",innerxml"`
}
