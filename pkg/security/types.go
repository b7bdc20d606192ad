// Package security implements WS-Security for AS4 messages: XML digital
// signatures over the SOAP envelope and SwA attachments, and XML
// encryption with RSA-OAEP key transport and AES-GCM payload encryption.
//
// XML signature operations are delegated to the signedxml package,
// envelope manipulation uses etree.
package security

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
)

// Algorithm URIs for XML signature and encryption
const (
	AlgorithmRSASHA256 = "http://www.w3.org/2001/04/xmldsig-more#rsa-sha256"
	AlgorithmRSASHA384 = "http://www.w3.org/2001/04/xmldsig-more#rsa-sha384"
	AlgorithmRSASHA512 = "http://www.w3.org/2001/04/xmldsig-more#rsa-sha512"

	AlgorithmSHA256 = "http://www.w3.org/2001/04/xmlenc#sha256"
	AlgorithmSHA384 = "http://www.w3.org/2001/04/xmlenc#sha384"
	AlgorithmSHA512 = "http://www.w3.org/2001/04/xmlenc#sha512"

	AlgorithmC14N = "http://www.w3.org/2001/10/xml-exc-c14n#"

	AlgorithmRSAOAEP   = "http://www.w3.org/2001/04/xmlenc#rsa-oaep-mgf1p"
	AlgorithmAES128GCM = "http://www.w3.org/2009/xmlenc11#aes128-gcm"
	AlgorithmAES256GCM = "http://www.w3.org/2009/xmlenc11#aes256-gcm"

	// SwA Profile transforms for attachment signing and encryption
	TransformAttachmentContent    = "http://docs.oasis-open.org/wss/oasis-wss-SwAProfile-1.1#Attachment-Content-Signature-Transform"
	TransformAttachmentCiphertext = "http://docs.oasis-open.org/wss/oasis-wss-SwAProfile-1.1#Attachment-Ciphertext-Transform"
)

// WS-Security namespaces
const (
	NSSecurityExt  = "http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-wssecurity-secext-1.0.xsd"
	NSSecurityUtil = "http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-wssecurity-utility-1.0.xsd"
	NSXMLDSig      = "http://www.w3.org/2000/09/xmldsig#"
	NSXMLEnc       = "http://www.w3.org/2001/04/xmlenc#"
	NSXMLEnc11     = "http://www.w3.org/2009/xmlenc11#"
	NSSOAP12       = "http://www.w3.org/2003/05/soap-envelope"
)

var (
	ErrNoSecurityHeader   = errors.New("security: no Security header in envelope")
	ErrNoSignature        = errors.New("security: no Signature in Security header")
	ErrNoEncryptedKey     = errors.New("security: no EncryptedKey in Security header")
	ErrMissingAttachment  = errors.New("security: referenced attachment not present")
	ErrUntrustedSigner    = errors.New("security: signing certificate is not trusted")
	ErrUnsupportedKeyType = errors.New("security: unsupported key type")
)

// AttachmentData carries one MIME part through signing, verification,
// encryption and decryption. ContentID is the bare id without the cid:
// scheme or angle brackets.
type AttachmentData struct {
	ContentID string
	MimeType  string
	Data      []byte
}

// generateID generates a random ID for XML elements using hex encoding
// to avoid characters like '=' that trip up XPointer processing.
func generateID() string {
	b := make([]byte, 16)
	rand.Read(b)
	return hex.EncodeToString(b)
}
