package pmode

import (
	"errors"
	"fmt"
	"time"

	"github.com/openas4/msh/pkg/message"
)

var (
	ErrMissingID          = errors.New("pmode: missing id")
	ErrMissingPushURL     = errors.New("pmode: push configuration requires a url")
	ErrInvalidRetryConfig = errors.New("pmode: invalid reception awareness configuration")
	ErrMissingCertInfo    = errors.New("pmode: certificate criteria incomplete")
)

// CertFindType names the keystore lookup strategy for a certificate.
type CertFindType string

const (
	FindBySubjectName    CertFindType = "SubjectName"
	FindByThumbprint     CertFindType = "Thumbprint"
	FindBySerialNumber   CertFindType = "SerialNumber"
	FindByIssuerSerial   CertFindType = "IssuerSerial"
	FindByAlias          CertFindType = "Alias"
	FindByCertificateRef CertFindType = "CertificateRef"
)

// CertCriteria locates a certificate or key pair in the certificate repository.
type CertCriteria struct {
	FindType  CertFindType `yaml:"find_type" json:"findType"`
	FindValue string       `yaml:"find_value" json:"findValue"`
}

// IsEmpty reports whether no lookup value has been configured.
func (c CertCriteria) IsEmpty() bool { return c.FindValue == "" }

func (c CertCriteria) validate() error {
	if c.IsEmpty() {
		return ErrMissingCertInfo
	}
	return nil
}

// Method configures an outbound sender for deliver or notify operations.
// Type selects the sender implementation (FILE, HTTP, ...), Parameters
// carry sender specific settings such as location or url.
type Method struct {
	Type       string            `yaml:"type" json:"type"`
	Parameters map[string]string `yaml:"parameters,omitempty" json:"parameters,omitempty"`
}

// Parameter returns the named parameter value or "" when absent.
func (m *Method) Parameter(name string) string {
	if m == nil || m.Parameters == nil {
		return ""
	}
	return m.Parameters[name]
}

// SigningConfig describes how outgoing messages are signed.
type SigningConfig struct {
	IsEnabled            bool                       `yaml:"is_enabled" json:"isEnabled"`
	Certificate          CertCriteria               `yaml:"certificate" json:"certificate"`
	TokenReference       TokenReferenceMethod       `yaml:"token_reference,omitempty" json:"tokenReference,omitempty"`
	Algorithm            SignatureAlgorithm         `yaml:"algorithm,omitempty" json:"algorithm,omitempty"`
	HashFunction         HashAlgorithm              `yaml:"hash_function,omitempty" json:"hashFunction,omitempty"`
	C14NAlgorithm        CanonicalizationAlgorithm  `yaml:"c14n_algorithm,omitempty" json:"c14nAlgorithm,omitempty"`
}

// EncryptionConfig describes how outgoing messages are encrypted for the receiver.
type EncryptionConfig struct {
	IsEnabled               bool                    `yaml:"is_enabled" json:"isEnabled"`
	Certificate             CertCriteria            `yaml:"certificate" json:"certificate"`
	Algorithm               DataEncryptionAlgorithm `yaml:"algorithm,omitempty" json:"algorithm,omitempty"`
	KeyTransport            KeyEncryptionAlgorithm  `yaml:"key_transport,omitempty" json:"keyTransport,omitempty"`
	KeyTransportMgf         MgfAlgorithm            `yaml:"key_transport_mgf,omitempty" json:"keyTransportMgf,omitempty"`
	KeyTransportDigest      HashAlgorithm           `yaml:"key_transport_digest,omitempty" json:"keyTransportDigest,omitempty"`
}

// DecryptionConfig describes the receiving side key pair used to decrypt.
type DecryptionConfig struct {
	IsEnabled   bool         `yaml:"is_enabled" json:"isEnabled"`
	Certificate CertCriteria `yaml:"certificate" json:"certificate"`
}

// SigningVerification describes signature verification on received messages.
type SigningVerification struct {
	Signature         string `yaml:"signature,omitempty" json:"signature,omitempty"`
	AllowUnknownRoots bool   `yaml:"allow_unknown_roots,omitempty" json:"allowUnknownRoots,omitempty"`

	// CheckRevocation enables OCSP checking with CRL fallback on the
	// signing certificate chain.
	CheckRevocation bool `yaml:"check_revocation,omitempty" json:"checkRevocation,omitempty"`
}

// Verification policy values for SigningVerification.Signature.
const (
	VerifyAllowed  = "Allowed"
	VerifyNotAllowed = "Not allowed"
	VerifyRequired = "Required"
	VerifyIgnored  = "Ignored"
)

// SendSecurity bundles the security settings of a sending pmode.
type SendSecurity struct {
	Signing    SigningConfig    `yaml:"signing" json:"signing"`
	Encryption EncryptionConfig `yaml:"encryption" json:"encryption"`
}

// ReceiveSecurity bundles the security settings of a receiving pmode.
type ReceiveSecurity struct {
	SigningVerification SigningVerification `yaml:"signing_verification" json:"signingVerification"`
	Decryption          DecryptionConfig    `yaml:"decryption" json:"decryption"`
}

// TLSConfig selects the client certificate presented on outbound TLS connections.
type TLSConfig struct {
	IsEnabled         bool         `yaml:"is_enabled" json:"isEnabled"`
	ClientCertificate CertCriteria `yaml:"client_certificate" json:"clientCertificate"`
}

// PushConfiguration holds the endpoint for pushed messages.
type PushConfiguration struct {
	URL string    `yaml:"url" json:"url"`
	TLS TLSConfig `yaml:"tls" json:"tls"`

	// DynamicDiscovery defers the endpoint to a BDXL lookup on the
	// receiver party id when URL is empty.
	DynamicDiscovery bool `yaml:"dynamic_discovery,omitempty" json:"dynamicDiscovery,omitempty"`
}

// PullConfiguration authorizes outgoing pull requests on an MPC.
type PullConfiguration struct {
	Mpc           string       `yaml:"mpc,omitempty" json:"mpc,omitempty"`
	Authorization *PullAuth    `yaml:"authorization,omitempty" json:"authorization,omitempty"`
	Certificate   CertCriteria `yaml:"certificate,omitempty" json:"certificate,omitempty"`
}

// PullAuth carries username token credentials for pull request authorization.
type PullAuth struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// ReceptionAwareness configures retries of unacknowledged pushed messages.
type ReceptionAwareness struct {
	IsEnabled     bool   `yaml:"is_enabled" json:"isEnabled"`
	RetryCount    int    `yaml:"retry_count" json:"retryCount"`
	RetryInterval string `yaml:"retry_interval" json:"retryInterval"`
}

// Interval parses RetryInterval, defaulting to one minute when unset.
func (r ReceptionAwareness) Interval() (time.Duration, error) {
	if r.RetryInterval == "" {
		return time.Minute, nil
	}
	d, err := time.ParseDuration(r.RetryInterval)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidRetryConfig, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%w: interval must be positive", ErrInvalidRetryConfig)
	}
	return d, nil
}

func (r ReceptionAwareness) validate() error {
	if !r.IsEnabled {
		return nil
	}
	if r.RetryCount <= 0 {
		return fmt.Errorf("%w: retry count must be positive", ErrInvalidRetryConfig)
	}
	_, err := r.Interval()
	return err
}

// Reliability groups reliability related settings of a sending pmode.
type Reliability struct {
	ReceptionAwareness ReceptionAwareness `yaml:"reception_awareness" json:"receptionAwareness"`
}

// ReceiptHandling configures receipt generation on the receiving side.
type ReceiptHandling struct {
	ReplyPattern            ReplyPattern `yaml:"reply_pattern,omitempty" json:"replyPattern,omitempty"`
	UseNRRFormat            bool         `yaml:"use_nrr_format,omitempty" json:"useNrrFormat,omitempty"`
	CallbackURL             string       `yaml:"callback_url,omitempty" json:"callbackUrl,omitempty"`
}

// ErrorHandling configures error signal delivery and notification.
type ErrorHandling struct {
	ReplyPattern    ReplyPattern `yaml:"reply_pattern,omitempty" json:"replyPattern,omitempty"`
	CallbackURL     string       `yaml:"callback_url,omitempty" json:"callbackUrl,omitempty"`
	NotifyProducer  bool         `yaml:"notify_producer,omitempty" json:"notifyProducer,omitempty"`
	NotifyConsumer  bool         `yaml:"notify_consumer,omitempty" json:"notifyConsumer,omitempty"`
}

// PartyInfo identifies the sending and receiving parties of a pmode.
type PartyInfo struct {
	FromParty *message.Party `yaml:"from_party,omitempty" json:"fromParty,omitempty"`
	ToParty   *message.Party `yaml:"to_party,omitempty" json:"toParty,omitempty"`
}

// CollaborationInfo carries the default business context for messages
// exchanged under a pmode.
type CollaborationInfo struct {
	AgreementRef string           `yaml:"agreement_ref,omitempty" json:"agreementRef,omitempty"`
	Service      *message.Service `yaml:"service,omitempty" json:"service,omitempty"`
	Action       string           `yaml:"action,omitempty" json:"action,omitempty"`
	ConversationID string         `yaml:"conversation_id,omitempty" json:"conversationId,omitempty"`
}

// MessagePackaging controls how user messages are packaged on the wire.
type MessagePackaging struct {
	Mpc               string `yaml:"mpc,omitempty" json:"mpc,omitempty"`
	UseAS4Compression bool   `yaml:"use_as4_compression,omitempty" json:"useAs4Compression,omitempty"`
	UseMultiHop       bool   `yaml:"use_multi_hop,omitempty" json:"useMultiHop,omitempty"`
	IncludePModeID    bool   `yaml:"include_pmode_id,omitempty" json:"includePmodeId,omitempty"`
}

// Mep constants for ProcessingMode.Mep.
const (
	MepOneWay = message.MEPOneWay
	MepTwoWay = message.MEPTwoWay
)

// MepBinding constants for ProcessingMode.MepBinding.
const (
	MepBindingPush = "push"
	MepBindingPull = "pull"
)

// SendingProcessingMode governs how a message is sent to a partner.
type SendingProcessingMode struct {
	ID          string `yaml:"id" json:"id"`
	Mep         string `yaml:"mep,omitempty" json:"mep,omitempty"`
	MepBinding  string `yaml:"mep_binding,omitempty" json:"mepBinding,omitempty"`

	PartyInfo         PartyInfo         `yaml:"party_info,omitempty" json:"partyInfo,omitempty"`
	CollaborationInfo CollaborationInfo `yaml:"collaboration_info,omitempty" json:"collaborationInfo,omitempty"`
	MessagePackaging  MessagePackaging  `yaml:"message_packaging,omitempty" json:"messagePackaging,omitempty"`

	PushConfiguration *PushConfiguration `yaml:"push_configuration,omitempty" json:"pushConfiguration,omitempty"`
	PullConfiguration *PullConfiguration `yaml:"pull_configuration,omitempty" json:"pullConfiguration,omitempty"`

	Reliability Reliability  `yaml:"reliability,omitempty" json:"reliability,omitempty"`
	Security    SendSecurity `yaml:"security,omitempty" json:"security,omitempty"`

	ErrorHandling ErrorHandling `yaml:"error_handling,omitempty" json:"errorHandling,omitempty"`
}

// Mpc returns the configured partition channel, defaulting to the ebMS default MPC.
func (p *SendingProcessingMode) Mpc() string {
	if p != nil && p.MessagePackaging.Mpc != "" {
		return p.MessagePackaging.Mpc
	}
	return message.DefaultMpc
}

// IsPulling reports whether this pmode sends by answering pull requests.
func (p *SendingProcessingMode) IsPulling() bool {
	return p != nil && p.MepBinding == MepBindingPull
}

// Validate checks the pmode for configuration errors that would only
// surface mid exchange otherwise.
func (p *SendingProcessingMode) Validate() error {
	if p.ID == "" {
		return ErrMissingID
	}
	if p.MepBinding != MepBindingPull {
		if p.PushConfiguration == nil {
			return fmt.Errorf("%w: pmode %s", ErrMissingPushURL, p.ID)
		}
		if p.PushConfiguration.URL == "" && !p.PushConfiguration.DynamicDiscovery {
			return fmt.Errorf("%w: pmode %s", ErrMissingPushURL, p.ID)
		}
		if p.PushConfiguration.TLS.IsEnabled {
			if err := p.PushConfiguration.TLS.ClientCertificate.validate(); err != nil {
				return fmt.Errorf("pmode %s: tls client certificate: %w", p.ID, err)
			}
		}
	}
	if err := p.Reliability.ReceptionAwareness.validate(); err != nil {
		return fmt.Errorf("pmode %s: %w", p.ID, err)
	}
	if p.Security.Signing.IsEnabled {
		if err := p.Security.Signing.Certificate.validate(); err != nil {
			return fmt.Errorf("pmode %s: signing certificate: %w", p.ID, err)
		}
	}
	if p.Security.Encryption.IsEnabled {
		if err := p.Security.Encryption.Certificate.validate(); err != nil {
			return fmt.Errorf("pmode %s: encryption certificate: %w", p.ID, err)
		}
	}
	return nil
}

// ReceivingProcessingMode governs how a received message is processed
// and handed to the consuming business application.
type ReceivingProcessingMode struct {
	ID         string `yaml:"id" json:"id"`
	Mep        string `yaml:"mep,omitempty" json:"mep,omitempty"`
	MepBinding string `yaml:"mep_binding,omitempty" json:"mepBinding,omitempty"`

	PartyInfo         PartyInfo         `yaml:"party_info,omitempty" json:"partyInfo,omitempty"`
	CollaborationInfo CollaborationInfo `yaml:"collaboration_info,omitempty" json:"collaborationInfo,omitempty"`
	MessagePackaging  MessagePackaging  `yaml:"message_packaging,omitempty" json:"messagePackaging,omitempty"`

	Security ReceiveSecurity `yaml:"security,omitempty" json:"security,omitempty"`

	ReplyHandling struct {
		ReceiptHandling ReceiptHandling `yaml:"receipt_handling,omitempty" json:"receiptHandling,omitempty"`
		ErrorHandling   ErrorHandling   `yaml:"error_handling,omitempty" json:"errorHandling,omitempty"`
	} `yaml:"reply_handling,omitempty" json:"replyHandling,omitempty"`

	// Deliver configures handoff of received payloads to the consumer.
	Deliver struct {
		IsEnabled bool   `yaml:"is_enabled" json:"isEnabled"`
		Method    Method `yaml:"method,omitempty" json:"method,omitempty"`
	} `yaml:"deliver,omitempty" json:"deliver,omitempty"`

	// DuplicateElimination rejects user messages whose id was seen before.
	DuplicateElimination bool `yaml:"duplicate_elimination,omitempty" json:"duplicateElimination,omitempty"`
}

// Validate checks the receiving pmode for configuration errors.
func (p *ReceivingProcessingMode) Validate() error {
	if p.ID == "" {
		return ErrMissingID
	}
	if p.Security.Decryption.IsEnabled {
		if err := p.Security.Decryption.Certificate.validate(); err != nil {
			return fmt.Errorf("pmode %s: decryption certificate: %w", p.ID, err)
		}
	}
	if p.Deliver.IsEnabled && p.Deliver.Method.Type == "" {
		return fmt.Errorf("pmode %s: deliver method requires a type", p.ID)
	}
	return nil
}

// ReplyPatternOrDefault returns the configured receipt reply pattern,
// defaulting to Response.
func (p *ReceivingProcessingMode) ReplyPatternOrDefault() ReplyPattern {
	if p != nil && p.ReplyHandling.ReceiptHandling.ReplyPattern != "" {
		return p.ReplyHandling.ReceiptHandling.ReplyPattern
	}
	return ReplyPatternResponse
}
