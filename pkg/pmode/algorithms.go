// Package pmode implements Processing Mode configuration for AS4.
package pmode

import "crypto"

// Signature algorithms
type SignatureAlgorithm string

const (
	AlgoRSASHA256 SignatureAlgorithm = "http://www.w3.org/2001/04/xmldsig-more#rsa-sha256"
	AlgoRSASHA384 SignatureAlgorithm = "http://www.w3.org/2001/04/xmldsig-more#rsa-sha384"
	AlgoRSASHA512 SignatureAlgorithm = "http://www.w3.org/2001/04/xmldsig-more#rsa-sha512"
)

// Hash algorithms for digest calculation
type HashAlgorithm string

const (
	HashSHA256 HashAlgorithm = "http://www.w3.org/2001/04/xmlenc#sha256"
	HashSHA384 HashAlgorithm = "http://www.w3.org/2001/04/xmlenc#sha384"
	HashSHA512 HashAlgorithm = "http://www.w3.org/2001/04/xmlenc#sha512"
)

// CryptoHash maps the digest URI onto the stdlib hash, defaulting to
// SHA-256 when unset or unknown.
func (h HashAlgorithm) CryptoHash() crypto.Hash {
	switch h {
	case HashSHA384:
		return crypto.SHA384
	case HashSHA512:
		return crypto.SHA512
	default:
		return crypto.SHA256
	}
}

// Key transport algorithms
type KeyEncryptionAlgorithm string

const (
	KeyAlgoRSAOAEP    KeyEncryptionAlgorithm = "http://www.w3.org/2001/04/xmlenc#rsa-oaep-mgf1p"
	KeyAlgoRSAOAEP256 KeyEncryptionAlgorithm = "http://www.w3.org/2009/xmlenc11#rsa-oaep"
)

// MGF algorithms for RSA-OAEP (xmlenc11 key transport)
type MgfAlgorithm string

const (
	MgfSHA1   MgfAlgorithm = "http://www.w3.org/2009/xmlenc11#mgf1sha1"
	MgfSHA256 MgfAlgorithm = "http://www.w3.org/2009/xmlenc11#mgf1sha256"
)

// Data encryption algorithms
type DataEncryptionAlgorithm string

const (
	DataAlgoAES128GCM DataEncryptionAlgorithm = "http://www.w3.org/2009/xmlenc11#aes128-gcm"
	DataAlgoAES256GCM DataEncryptionAlgorithm = "http://www.w3.org/2009/xmlenc11#aes256-gcm"
)

// Canonicalization algorithms
type CanonicalizationAlgorithm string

const (
	C14NExclusive CanonicalizationAlgorithm = "http://www.w3.org/2001/10/xml-exc-c14n#"
	C14NInclusive CanonicalizationAlgorithm = "http://www.w3.org/TR/2001/REC-xml-c14n-20010315"
)

// Token reference methods for the signing token
type TokenReferenceMethod string

const (
	TokenRefBinarySecurityToken TokenReferenceMethod = "BinarySecurityToken"
	TokenRefKeyIdentifier       TokenReferenceMethod = "KeyIdentifier"
	TokenRefIssuerSerial        TokenReferenceMethod = "IssuerSerial"
)

// ReplyPattern selects how receipts and errors travel back to the sender.
type ReplyPattern string

const (
	ReplyPatternResponse  ReplyPattern = "Response"
	ReplyPatternCallback  ReplyPattern = "Callback"
	ReplyPatternPiggyBack ReplyPattern = "PiggyBack"
)
