package security

import (
	"bytes"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/beevik/etree"
	"github.com/leifj/signedxml"
)

// Verifier checks WS-Security signatures on received envelopes. The
// signing certificate is taken from the BinarySecurityToken in the
// Security header and validated through the configured
// CertificateValidator before the XML signature itself is checked.
type Verifier struct {
	validator CertificateValidator
}

// NewVerifier builds a verifier. validator may be nil, in which case
// only the cryptographic signature is checked, not certificate trust.
func NewVerifier(validator CertificateValidator) *Verifier {
	return &Verifier{validator: validator}
}

// VerifyResult reports the outcome of a signature verification.
type VerifyResult struct {
	// Valid is false when the signature or an attachment digest does
	// not verify. A false result is a protocol outcome, not an error.
	Valid bool

	// SignerCertificate is the certificate the signature was made with,
	// nil when none could be extracted.
	SignerCertificate *x509.Certificate

	// FailureReason describes why Valid is false.
	FailureReason string
}

// Verify checks the envelope signature and, for every cid: reference in
// SignedInfo, the digest of the matching attachment. A missing
// referenced attachment is an error, a wrong digest or bad signature
// yields Valid=false.
func (v *Verifier) Verify(envelopeXML []byte, attachments []AttachmentData) (*VerifyResult, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(envelopeXML); err != nil {
		return nil, fmt.Errorf("security: parsing envelope: %w", err)
	}
	security := doc.FindElement("//*[local-name()='Security']")
	if security == nil {
		return nil, ErrNoSecurityHeader
	}
	if security.FindElement("./*[local-name()='Signature']") == nil {
		return nil, ErrNoSignature
	}

	cert, err := extractSignerCertificate(security)
	if err != nil {
		return nil, err
	}
	if v.validator != nil {
		if err := v.validator.ValidateCertificate(cert, nil, "signing"); err != nil {
			return &VerifyResult{
				Valid:             false,
				SignerCertificate: cert,
				FailureReason:     fmt.Sprintf("certificate validation: %v", err),
			}, nil
		}
	}

	// Verify attachment digests against the cid: references first, the
	// XML signature only covers the digest values inside SignedInfo.
	if ok, reason, err := verifyAttachmentDigests(doc, attachments); err != nil {
		return nil, err
	} else if !ok {
		return &VerifyResult{Valid: false, SignerCertificate: cert, FailureReason: reason}, nil
	}

	validator, err := signedxml.NewValidator(string(envelopeXML))
	if err != nil {
		return nil, fmt.Errorf("security: creating validator: %w", err)
	}
	validator.Certificates = append(validator.Certificates, *cert)
	validator.SetReferenceIDAttribute("wsu:Id")

	if _, err := validator.ValidateReferences(); err != nil {
		return &VerifyResult{
			Valid:             false,
			SignerCertificate: cert,
			FailureReason:     fmt.Sprintf("signature validation: %v", err),
		}, nil
	}
	return &VerifyResult{Valid: true, SignerCertificate: cert}, nil
}

// extractSignerCertificate pulls the X.509 certificate out of the
// BinarySecurityToken element.
func extractSignerCertificate(security *etree.Element) (*x509.Certificate, error) {
	bst := security.FindElement("./*[local-name()='BinarySecurityToken']")
	if bst == nil {
		return nil, fmt.Errorf("security: no BinarySecurityToken in Security header")
	}
	der, err := base64.StdEncoding.DecodeString(strings.TrimSpace(bst.Text()))
	if err != nil {
		return nil, fmt.Errorf("security: decoding BinarySecurityToken: %w", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("security: parsing signer certificate: %w", err)
	}
	return cert, nil
}

// verifyAttachmentDigests checks every cid: reference in SignedInfo
// against the supplied attachment bytes.
func verifyAttachmentDigests(doc *etree.Document, attachments []AttachmentData) (bool, string, error) {
	byID := make(map[string][]byte, len(attachments))
	for _, att := range attachments {
		byID[att.ContentID] = att.Data
	}

	refs := doc.FindElements("//*[local-name()='SignedInfo']/*[local-name()='Reference']")
	for _, ref := range refs {
		uri := ref.SelectAttrValue("URI", "")
		if !strings.HasPrefix(uri, "cid:") {
			continue
		}
		contentID := strings.TrimPrefix(uri, "cid:")
		data, ok := byID[contentID]
		if !ok {
			return false, "", fmt.Errorf("%w: %s", ErrMissingAttachment, contentID)
		}
		digestElem := ref.FindElement("./*[local-name()='DigestValue']")
		if digestElem == nil {
			return false, fmt.Sprintf("attachment %s: no DigestValue", contentID), nil
		}
		want, err := base64.StdEncoding.DecodeString(strings.TrimSpace(digestElem.Text()))
		if err != nil {
			return false, fmt.Sprintf("attachment %s: malformed DigestValue", contentID), nil
		}
		got := sha256.Sum256(data)
		if !bytes.Equal(want, got[:]) {
			return false, fmt.Sprintf("attachment %s: digest mismatch", contentID), nil
		}
	}
	return true, "", nil
}
