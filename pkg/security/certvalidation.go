package security

import (
	"crypto/x509"
	"errors"
	"fmt"
	"time"
)

var (
	ErrCertificateExpired     = errors.New("certificate has expired")
	ErrCertificateNotYetValid = errors.New("certificate is not yet valid")
	ErrCertificateUntrusted   = errors.New("certificate is not trusted")
	ErrCertificateRevoked     = errors.New("certificate has been revoked")
	ErrInvalidCertificate     = errors.New("certificate validation failed")
)

// CertificateValidator decides whether a certificate may be used for a
// given purpose. Implementations range from full PKI chain validation
// to pinning for test exchanges.
type CertificateValidator interface {
	// ValidateCertificate validates cert, with intermediates holding
	// any chain certificates. purpose is "signing", "encryption",
	// "tls-server" or "tls-client".
	ValidateCertificate(cert *x509.Certificate, intermediates []*x509.Certificate, purpose string) error

	// ValidateCertificateChain validates chain[0] with the rest of the
	// chain as intermediates.
	ValidateCertificateChain(chain []*x509.Certificate, purpose string) error
}

// DefaultCertificateValidator implements PKI validation against a root
// pool. With AllowUnknownRoots set, an untrusted chain passes as long
// as the certificate itself is within its validity window, which is how
// self signed test exchanges run.
type DefaultCertificateValidator struct {
	roots             *x509.CertPool
	allowUnknownRoots bool
}

// NewDefaultCertificateValidator creates a validator. A nil roots pool
// falls back to the system pool.
func NewDefaultCertificateValidator(roots *x509.CertPool) *DefaultCertificateValidator {
	return &DefaultCertificateValidator{roots: roots}
}

// WithAllowUnknownRoots disables chain trust failure for self signed
// partner certificates.
func (v *DefaultCertificateValidator) WithAllowUnknownRoots() *DefaultCertificateValidator {
	v.allowUnknownRoots = true
	return v
}

func (v *DefaultCertificateValidator) ValidateCertificate(cert *x509.Certificate, intermediates []*x509.Certificate, purpose string) error {
	now := time.Now()
	if now.Before(cert.NotBefore) {
		return ErrCertificateNotYetValid
	}
	if now.After(cert.NotAfter) {
		return ErrCertificateExpired
	}

	opts := x509.VerifyOptions{
		Roots:         v.roots,
		CurrentTime:   now,
		Intermediates: x509.NewCertPool(),
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
	}
	for _, intermediate := range intermediates {
		opts.Intermediates.AddCert(intermediate)
	}
	switch purpose {
	case "tls-server":
		opts.KeyUsages = []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth}
	case "tls-client":
		opts.KeyUsages = []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth}
	}

	if _, err := cert.Verify(opts); err != nil {
		if v.allowUnknownRoots {
			var unknownAuthority x509.UnknownAuthorityError
			if errors.As(err, &unknownAuthority) {
				return nil
			}
		}
		return fmt.Errorf("%w: %v", ErrCertificateUntrusted, err)
	}
	return nil
}

func (v *DefaultCertificateValidator) ValidateCertificateChain(chain []*x509.Certificate, purpose string) error {
	if len(chain) == 0 {
		return fmt.Errorf("%w: empty chain", ErrInvalidCertificate)
	}
	return v.ValidateCertificate(chain[0], chain[1:], purpose)
}
