// Package keystore provides certificate and private key access for the MSH.
//
// It defines a repository interface that processing mode certificate
// criteria resolve against, with backends for PEM files on disk and for
// PKCS#11 tokens (behind the pkcs11 build tag).
package keystore

import (
	"context"
	"crypto"
	"crypto/x509"
	"errors"

	"github.com/openas4/msh/pkg/pmode"
)

var (
	ErrCertificateNotFound = errors.New("keystore: certificate not found")
	ErrPrivateKeyMissing   = errors.New("keystore: no private key for certificate")
)

// CertificateRepository resolves processing mode certificate criteria
// to certificates and key pairs.
//
// Implementations must be safe for concurrent use.
type CertificateRepository interface {
	// GetCertificate returns the certificate matching the criteria.
	// Used for encryption to a partner and signature trust checks.
	GetCertificate(ctx context.Context, criteria pmode.CertCriteria) (*x509.Certificate, error)

	// GetKeyPair returns the certificate matching the criteria together
	// with its private key. Used for signing and decryption.
	GetKeyPair(ctx context.Context, criteria pmode.CertCriteria) (*KeyPair, error)

	// TrustedRoots returns the CA pool signature chains are validated
	// against, nil when the system pool should be used.
	TrustedRoots() *x509.CertPool

	// Close releases resources held by the repository.
	Close() error
}

// KeyPair bundles a certificate with its private key.
type KeyPair struct {
	Certificate *x509.Certificate
	PrivateKey  crypto.Signer
}

// matches reports whether cert satisfies the lookup criteria, with the
// alias (used by file backends as the base file name) handled by the
// caller.
func matches(cert *x509.Certificate, criteria pmode.CertCriteria) bool {
	switch criteria.FindType {
	case pmode.FindBySubjectName:
		return cert.Subject.String() == criteria.FindValue ||
			cert.Subject.CommonName == criteria.FindValue
	case pmode.FindBySerialNumber:
		return cert.SerialNumber.String() == criteria.FindValue
	case pmode.FindByThumbprint:
		return thumbprint(cert) == normalizeHex(criteria.FindValue)
	case pmode.FindByIssuerSerial:
		return cert.Issuer.String()+"/"+cert.SerialNumber.String() == criteria.FindValue
	default:
		return false
	}
}
