package keystore

import (
	"context"
	"crypto"
	"crypto/sha1"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/openas4/msh/pkg/pmode"
)

// FileRepository implements CertificateRepository over PEM files on disk.
//
// Key files are expected at {dir}/{alias}.key, certificates at
// {dir}/{alias}.crt. Partner certificates without a key are matched by
// subject, serial or thumbprint across every .crt in the directory.
type FileRepository struct {
	dir string

	mu    sync.Mutex
	pairs map[string]*KeyPair
	roots *x509.CertPool
}

// NewFileRepository opens a PEM directory backed repository. When
// rootsFile is non empty it is loaded as the trusted CA bundle.
func NewFileRepository(dir, rootsFile string) (*FileRepository, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("keystore: checking directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("keystore: not a directory: %s", dir)
	}
	r := &FileRepository{dir: dir, pairs: make(map[string]*KeyPair)}
	if rootsFile != "" {
		data, err := os.ReadFile(rootsFile)
		if err != nil {
			return nil, fmt.Errorf("keystore: reading roots: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(data) {
			return nil, fmt.Errorf("keystore: no certificates in %s", rootsFile)
		}
		r.roots = pool
	}
	return r, nil
}

func (r *FileRepository) TrustedRoots() *x509.CertPool { return r.roots }

// GetCertificate resolves the criteria against the .crt files in the
// directory. An alias lookup is a direct file read, other find types
// scan the directory.
func (r *FileRepository) GetCertificate(_ context.Context, criteria pmode.CertCriteria) (*x509.Certificate, error) {
	if criteria.IsEmpty() {
		return nil, ErrCertificateNotFound
	}
	if criteria.FindType == pmode.FindByAlias || criteria.FindType == "" {
		return loadCertificate(filepath.Join(r.dir, criteria.FindValue+".crt"))
	}
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return nil, fmt.Errorf("keystore: reading directory: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".crt" {
			continue
		}
		cert, err := loadCertificate(filepath.Join(r.dir, e.Name()))
		if err != nil {
			continue
		}
		if matches(cert, criteria) {
			return cert, nil
		}
	}
	return nil, fmt.Errorf("%w: %s=%s", ErrCertificateNotFound, criteria.FindType, criteria.FindValue)
}

// GetKeyPair loads the certificate and its private key. Loaded pairs
// are cached, the mutex also serializes the disk reads so a burst of
// flows does not parse the same key file concurrently.
func (r *FileRepository) GetKeyPair(ctx context.Context, criteria pmode.CertCriteria) (*KeyPair, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cacheKey := string(criteria.FindType) + ":" + criteria.FindValue
	if kp, ok := r.pairs[cacheKey]; ok {
		return kp, nil
	}

	cert, err := r.GetCertificate(ctx, criteria)
	if err != nil {
		return nil, err
	}
	alias := criteria.FindValue
	if criteria.FindType != pmode.FindByAlias && criteria.FindType != "" {
		alias, err = r.aliasFor(cert)
		if err != nil {
			return nil, err
		}
	}
	keyPEM, err := os.ReadFile(filepath.Join(r.dir, alias+".key"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: alias %s", ErrPrivateKeyMissing, alias)
		}
		return nil, fmt.Errorf("keystore: reading key file: %w", err)
	}
	key, err := parsePrivateKey(keyPEM)
	if err != nil {
		return nil, fmt.Errorf("keystore: parsing private key: %w", err)
	}
	kp := &KeyPair{Certificate: cert, PrivateKey: key}
	r.pairs[cacheKey] = kp
	return kp, nil
}

// aliasFor finds the base file name whose certificate matches cert.
func (r *FileRepository) aliasFor(cert *x509.Certificate) (string, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return "", fmt.Errorf("keystore: reading directory: %w", err)
	}
	want := thumbprint(cert)
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".crt" {
			continue
		}
		c, err := loadCertificate(filepath.Join(r.dir, e.Name()))
		if err != nil {
			continue
		}
		if thumbprint(c) == want {
			return strings.TrimSuffix(e.Name(), ".crt"), nil
		}
	}
	return "", fmt.Errorf("%w: no alias for certificate %s", ErrPrivateKeyMissing, cert.Subject)
}

func (r *FileRepository) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pairs = make(map[string]*KeyPair)
	return nil
}

func loadCertificate(path string) (*x509.Certificate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrCertificateNotFound, path)
		}
		return nil, fmt.Errorf("keystore: reading certificate: %w", err)
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("keystore: no PEM block in %s", path)
	}
	return x509.ParseCertificate(block.Bytes)
}

func parsePrivateKey(pemData []byte) (crypto.Signer, error) {
	block, _ := pem.Decode(pemData)
	if block == nil {
		return nil, fmt.Errorf("no PEM block found")
	}
	switch block.Type {
	case "RSA PRIVATE KEY":
		return x509.ParsePKCS1PrivateKey(block.Bytes)
	case "EC PRIVATE KEY":
		return x509.ParseECPrivateKey(block.Bytes)
	case "PRIVATE KEY":
		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, err
		}
		signer, ok := key.(crypto.Signer)
		if !ok {
			return nil, fmt.Errorf("key is not a signer")
		}
		return signer, nil
	default:
		return nil, fmt.Errorf("unsupported key type: %s", block.Type)
	}
}

func thumbprint(cert *x509.Certificate) string {
	sum := sha1.Sum(cert.Raw)
	return hex.EncodeToString(sum[:])
}

func normalizeHex(s string) string {
	return strings.ToLower(strings.ReplaceAll(strings.ReplaceAll(s, ":", ""), " ", ""))
}
