package security

import (
	"bytes"
	"context"
	"crypto"
	"crypto/x509"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/crypto/ocsp"
)

// RevocationChecker reports whether a certificate has been revoked.
type RevocationChecker interface {
	// CheckRevocation returns nil when the certificate is not revoked,
	// ErrCertificateRevoked when it is, other errors for check failures.
	CheckRevocation(ctx context.Context, cert, issuer *x509.Certificate) error
}

// RevocationConfig configures OCSP checking with CRL fallback.
type RevocationConfig struct {
	HTTPClient   *http.Client
	Timeout      time.Duration
	CRLFallback  bool
	CacheTimeout time.Duration
	// StrictMode fails when revocation status cannot be determined.
	StrictMode bool
}

// DefaultRevocationConfig returns the default checker configuration.
func DefaultRevocationConfig() *RevocationConfig {
	return &RevocationConfig{
		Timeout:      10 * time.Second,
		CRLFallback:  true,
		CacheTimeout: time.Hour,
	}
}

// OCSPChecker implements RevocationChecker over OCSP with CRL fallback.
// Results are cached per certificate serial, CRLs per distribution URL.
type OCSPChecker struct {
	config     *RevocationConfig
	httpClient *http.Client

	mu        sync.Mutex
	ocspCache map[string]revocationEntry
	crlCache  map[string]crlEntry
}

type revocationEntry struct {
	err       error
	checkedAt time.Time
}

type crlEntry struct {
	crl       *x509.RevocationList
	fetchedAt time.Time
}

// NewOCSPChecker creates a revocation checker. A nil config uses
// DefaultRevocationConfig.
func NewOCSPChecker(config *RevocationConfig) *OCSPChecker {
	if config == nil {
		config = DefaultRevocationConfig()
	}
	client := config.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: config.Timeout}
	}
	return &OCSPChecker{
		config:     config,
		httpClient: client,
		ocspCache:  make(map[string]revocationEntry),
		crlCache:   make(map[string]crlEntry),
	}
}

func (c *OCSPChecker) CheckRevocation(ctx context.Context, cert, issuer *x509.Certificate) error {
	if cert == nil {
		return fmt.Errorf("security: certificate is required")
	}

	// OCSP requests must be signed towards the issuer; without one only
	// the CRL path is available.
	ocspErr := fmt.Errorf("no issuer certificate for OCSP")
	if issuer != nil {
		ocspErr = c.checkOCSP(ctx, cert, issuer)
		if ocspErr == nil || errors.Is(ocspErr, ErrCertificateRevoked) {
			return ocspErr
		}
	}

	if c.config.CRLFallback {
		crlErr := c.checkCRL(ctx, cert)
		if crlErr == nil || errors.Is(crlErr, ErrCertificateRevoked) {
			return crlErr
		}
		if c.config.StrictMode {
			return fmt.Errorf("security: revocation check failed: OCSP: %v, CRL: %v", ocspErr, crlErr)
		}
	}
	if c.config.StrictMode {
		return fmt.Errorf("security: OCSP check failed: %w", ocspErr)
	}
	return nil
}

func (c *OCSPChecker) checkOCSP(ctx context.Context, cert, issuer *x509.Certificate) error {
	serial := cert.SerialNumber.String()
	c.mu.Lock()
	if entry, ok := c.ocspCache[serial]; ok && time.Since(entry.checkedAt) < c.config.CacheTimeout {
		c.mu.Unlock()
		return entry.err
	}
	c.mu.Unlock()

	if len(cert.OCSPServer) == 0 {
		return fmt.Errorf("no OCSP server URL in certificate")
	}
	req, err := ocsp.CreateRequest(cert, issuer, &ocsp.RequestOptions{Hash: crypto.SHA256})
	if err != nil {
		return fmt.Errorf("creating OCSP request: %w", err)
	}
	body, err := c.doOCSPRequest(ctx, cert.OCSPServer[0], req)
	if err != nil {
		return fmt.Errorf("OCSP request failed: %w", err)
	}
	resp, err := ocsp.ParseResponse(body, issuer)
	if err != nil {
		return fmt.Errorf("parsing OCSP response: %w", err)
	}

	var result error
	switch resp.Status {
	case ocsp.Good:
		result = nil
	case ocsp.Revoked:
		result = ErrCertificateRevoked
	default:
		result = fmt.Errorf("OCSP status unknown")
	}
	c.mu.Lock()
	c.ocspCache[serial] = revocationEntry{err: result, checkedAt: time.Now()}
	c.mu.Unlock()
	return result
}

func (c *OCSPChecker) doOCSPRequest(ctx context.Context, ocspURL string, request []byte) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, ocspURL, bytes.NewReader(request))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/ocsp-request")
	httpReq.Header.Set("Accept", "application/ocsp-response")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return c.doOCSPGet(ctx, ocspURL, request)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return c.doOCSPGet(ctx, ocspURL, request)
	}
	return io.ReadAll(resp.Body)
}

func (c *OCSPChecker) doOCSPGet(ctx context.Context, ocspURL string, request []byte) ([]byte, error) {
	reqURL := ocspURL + "/" + url.PathEscape(base64.StdEncoding.EncodeToString(request))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Accept", "application/ocsp-response")
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("OCSP server returned status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func (c *OCSPChecker) checkCRL(ctx context.Context, cert *x509.Certificate) error {
	if len(cert.CRLDistributionPoints) == 0 {
		return fmt.Errorf("no CRL distribution points in certificate")
	}
	var lastErr error
	for _, dp := range cert.CRLDistributionPoints {
		crl, err := c.fetchCRL(ctx, dp)
		if err != nil {
			lastErr = err
			continue
		}
		for _, revoked := range crl.RevokedCertificateEntries {
			if revoked.SerialNumber.Cmp(cert.SerialNumber) == 0 {
				return ErrCertificateRevoked
			}
		}
		return nil
	}
	return fmt.Errorf("checking CRL: %w", lastErr)
}

func (c *OCSPChecker) fetchCRL(ctx context.Context, crlURL string) (*x509.RevocationList, error) {
	c.mu.Lock()
	if entry, ok := c.crlCache[crlURL]; ok && time.Since(entry.fetchedAt) < c.config.CacheTimeout {
		c.mu.Unlock()
		return entry.crl, nil
	}
	c.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, crlURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("CRL server returned status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	crl, err := x509.ParseRevocationList(body)
	if err != nil {
		return nil, fmt.Errorf("parsing CRL: %w", err)
	}
	c.mu.Lock()
	c.crlCache[crlURL] = crlEntry{crl: crl, fetchedAt: time.Now()}
	c.mu.Unlock()
	return crl, nil
}

// RevocationAwareValidator layers revocation checking on top of a base
// CertificateValidator.
type RevocationAwareValidator struct {
	base    CertificateValidator
	checker RevocationChecker
}

func NewRevocationAwareValidator(base CertificateValidator, checker RevocationChecker) *RevocationAwareValidator {
	return &RevocationAwareValidator{base: base, checker: checker}
}

func (v *RevocationAwareValidator) ValidateCertificate(cert *x509.Certificate, intermediates []*x509.Certificate, purpose string) error {
	if err := v.base.ValidateCertificate(cert, intermediates, purpose); err != nil {
		return err
	}
	if v.checker != nil {
		var issuer *x509.Certificate
		if len(intermediates) > 0 {
			issuer = intermediates[0]
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := v.checker.CheckRevocation(ctx, cert, issuer); err != nil {
			return err
		}
	}
	return nil
}

func (v *RevocationAwareValidator) ValidateCertificateChain(chain []*x509.Certificate, purpose string) error {
	if len(chain) == 0 {
		return fmt.Errorf("%w: empty chain", ErrInvalidCertificate)
	}
	return v.ValidateCertificate(chain[0], chain[1:], purpose)
}
