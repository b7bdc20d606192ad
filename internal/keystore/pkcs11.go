//go:build pkcs11

package keystore

import (
	"context"
	"crypto/x509"
	"fmt"
	"sync"

	"github.com/ThalesGroup/crypto11"

	"github.com/openas4/msh/pkg/pmode"
)

// PKCS11Repository implements CertificateRepository over a PKCS#11
// token (HSM or smart card). Private keys never leave the token, the
// returned KeyPair wraps a handle implementing crypto.Signer.
type PKCS11Repository struct {
	ctx   *crypto11.Context
	roots *x509.CertPool

	mu    sync.Mutex
	pairs map[string]*KeyPair
}

// PKCS11Config holds configuration for the PKCS#11 repository.
type PKCS11Config struct {
	// ModulePath is the path to the PKCS#11 library (.so/.dylib/.dll).
	ModulePath string

	// SlotID is the slot number to use (optional if SlotLabel is set).
	SlotID *uint

	// SlotLabel is the token label to search for.
	SlotLabel string

	// PIN is the user PIN for authentication.
	PIN string
}

// NewPKCS11Repository opens a session against the configured token.
func NewPKCS11Repository(cfg *PKCS11Config, roots *x509.CertPool) (*PKCS11Repository, error) {
	config := &crypto11.Config{
		Path: cfg.ModulePath,
		Pin:  cfg.PIN,
	}
	if cfg.SlotID != nil {
		slotID := int(*cfg.SlotID)
		config.SlotNumber = &slotID
	}
	if cfg.SlotLabel != "" {
		config.TokenLabel = cfg.SlotLabel
	}
	ctx, err := crypto11.Configure(config)
	if err != nil {
		return nil, fmt.Errorf("keystore: configuring PKCS#11: %w", err)
	}
	return &PKCS11Repository{ctx: ctx, roots: roots, pairs: make(map[string]*KeyPair)}, nil
}

func (r *PKCS11Repository) TrustedRoots() *x509.CertPool { return r.roots }

// GetCertificate looks up a certificate by token label. Only alias
// criteria map onto PKCS#11 object labels.
func (r *PKCS11Repository) GetCertificate(_ context.Context, criteria pmode.CertCriteria) (*x509.Certificate, error) {
	if criteria.IsEmpty() {
		return nil, ErrCertificateNotFound
	}
	cert, err := r.ctx.FindCertificate(nil, []byte(criteria.FindValue), nil)
	if err != nil {
		return nil, fmt.Errorf("keystore: finding certificate: %w", err)
	}
	if cert == nil {
		return nil, fmt.Errorf("%w: label %s", ErrCertificateNotFound, criteria.FindValue)
	}
	return cert, nil
}

// GetKeyPair returns the token resident key pair for the label. The
// mutex serializes token sessions, some HSM modules misbehave under
// concurrent key lookup.
func (r *PKCS11Repository) GetKeyPair(ctx context.Context, criteria pmode.CertCriteria) (*KeyPair, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if kp, ok := r.pairs[criteria.FindValue]; ok {
		return kp, nil
	}
	key, err := r.ctx.FindKeyPair(nil, []byte(criteria.FindValue))
	if err != nil {
		return nil, fmt.Errorf("keystore: finding key pair: %w", err)
	}
	if key == nil {
		return nil, fmt.Errorf("%w: label %s", ErrPrivateKeyMissing, criteria.FindValue)
	}
	cert, err := r.GetCertificate(ctx, criteria)
	if err != nil {
		return nil, err
	}
	kp := &KeyPair{Certificate: cert, PrivateKey: key}
	r.pairs[criteria.FindValue] = kp
	return kp, nil
}

func (r *PKCS11Repository) Close() error {
	return r.ctx.Close()
}
