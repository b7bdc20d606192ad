//go:build !pkcs11

package keystore

import (
	"context"
	"crypto/x509"
	"errors"

	"github.com/openas4/msh/pkg/pmode"
)

// ErrPKCS11NotSupported is returned when PKCS#11 operations are
// attempted but the binary was not compiled with the pkcs11 tag.
var ErrPKCS11NotSupported = errors.New("PKCS#11 support not compiled in (build with -tags pkcs11)")

// PKCS11Repository is a stub that errors when PKCS#11 support is not
// compiled in.
type PKCS11Repository struct{}

// PKCS11Config holds configuration for the PKCS#11 repository.
type PKCS11Config struct {
	ModulePath string
	SlotID     *uint
	SlotLabel  string
	PIN        string
}

func NewPKCS11Repository(cfg *PKCS11Config, roots *x509.CertPool) (*PKCS11Repository, error) {
	return nil, ErrPKCS11NotSupported
}

func (r *PKCS11Repository) GetCertificate(ctx context.Context, criteria pmode.CertCriteria) (*x509.Certificate, error) {
	return nil, ErrPKCS11NotSupported
}

func (r *PKCS11Repository) GetKeyPair(ctx context.Context, criteria pmode.CertCriteria) (*KeyPair, error) {
	return nil, ErrPKCS11NotSupported
}

func (r *PKCS11Repository) TrustedRoots() *x509.CertPool { return nil }

func (r *PKCS11Repository) Close() error { return nil }
