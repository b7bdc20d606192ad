// Package discovery resolves AS4 endpoints dynamically through BDXL.
//
// A party identifier is hashed, encoded and looked up as a DNS U-NAPTR
// record under the configured lookup domain; the record's regexp field
// carries the metadata service URL. Sending pmodes without a configured
// push URL fall back to this resolution.
package discovery

import (
	"context"
	"crypto/sha256"
	"encoding/base32"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/miekg/dns"
)

var (
	// ErrNoRecords is returned when the lookup domain has no U-NAPTR records.
	ErrNoRecords = errors.New("no BDXL records found for party identifier")
	// ErrEmptyPartyID is returned for an empty party identifier.
	ErrEmptyPartyID = errors.New("empty party identifier")
	// ErrNoMatchingService is returned when no record matches the accepted services.
	ErrNoMatchingService = errors.New("no matching metadata service in BDXL records")
	// ErrMalformedRecord is returned when a record's regexp field cannot be parsed.
	ErrMalformedRecord = errors.New("malformed NAPTR record")
)

// Metadata service tags accepted in U-NAPTR records.
const (
	ServiceSMP1 = "Meta:SMP"
	ServiceSMP2 = "oasis-bdxr-smp-2"
)

// Config configures the BDXL resolver.
type Config struct {
	// LookupDomain is the base domain the hashed identifiers live under,
	// for example "edelivery.tech.ec.europa.eu".
	LookupDomain string `yaml:"lookup_domain"`

	// EnvironmentLabel is inserted between hash and domain for
	// non-production infrastructures. Empty for production.
	EnvironmentLabel string `yaml:"environment_label,omitempty"`

	// DNSServer overrides the system resolver, as "ip:port". Empty uses
	// the first server from /etc/resolv.conf.
	DNSServer string `yaml:"dns_server,omitempty"`
}

// Resolver performs BDXL endpoint lookups over DNS.
type Resolver struct {
	config Config
	client *dns.Client
}

// NewResolver creates a resolver for the given lookup domain.
func NewResolver(config Config) *Resolver {
	return &Resolver{config: config, client: new(dns.Client)}
}

// Resolve returns the metadata service URL registered for partyID.
func (r *Resolver) Resolve(ctx context.Context, partyID string) (string, error) {
	hashed, err := hashPartyID(partyID)
	if err != nil {
		return "", err
	}
	return r.lookup(ctx, r.queryDomain(hashed))
}

// hashPartyID maps a party identifier to its DNS label: unpadded BASE32
// over the SHA256 of the identifier.
func hashPartyID(partyID string) (string, error) {
	if partyID == "" {
		return "", ErrEmptyPartyID
	}
	sum := sha256.Sum256([]byte(partyID))
	return strings.TrimRight(base32.StdEncoding.EncodeToString(sum[:]), "="), nil
}

func (r *Resolver) queryDomain(hashed string) string {
	if r.config.EnvironmentLabel == "" {
		return hashed + "." + r.config.LookupDomain
	}
	return hashed + "." + r.config.EnvironmentLabel + "." + r.config.LookupDomain
}

func (r *Resolver) lookup(ctx context.Context, domain string) (string, error) {
	server := r.config.DNSServer
	if server == "" {
		cfg, err := dns.ClientConfigFromFile("/etc/resolv.conf")
		if err != nil {
			return "", fmt.Errorf("reading resolver config: %w", err)
		}
		if len(cfg.Servers) == 0 {
			return "", errors.New("no DNS servers configured")
		}
		server = cfg.Servers[0] + ":" + cfg.Port
	}

	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(domain), dns.TypeNAPTR)
	msg.RecursionDesired = true

	resp, _, err := r.client.ExchangeContext(ctx, msg, server)
	if err != nil {
		return "", fmt.Errorf("DNS lookup for %s: %w", domain, err)
	}
	if resp.Rcode == dns.RcodeNameError {
		return "", fmt.Errorf("%w: %s", ErrNoRecords, domain)
	}
	if resp.Rcode != dns.RcodeSuccess {
		return "", fmt.Errorf("DNS lookup for %s: rcode %d", domain, resp.Rcode)
	}

	var records []*dns.NAPTR
	for _, rr := range resp.Answer {
		if naptr, ok := rr.(*dns.NAPTR); ok {
			records = append(records, naptr)
		}
	}
	if len(records) == 0 {
		return "", fmt.Errorf("%w: %s", ErrNoRecords, domain)
	}
	return selectRecord(records)
}

// selectRecord picks the U-NAPTR record with the lowest order/preference
// among records advertising a known SMP service.
func selectRecord(records []*dns.NAPTR) (string, error) {
	var best *dns.NAPTR
	bestRank := -1

	for _, record := range records {
		if !strings.EqualFold(record.Flags, "U") || !acceptedService(record.Service) {
			continue
		}
		rank := int(record.Order)<<16 | int(record.Preference)
		if best == nil || rank < bestRank {
			best = record
			bestRank = rank
		}
	}
	if best == nil {
		return "", ErrNoMatchingService
	}
	return endpointFromRegexp(best.Regexp)
}

func acceptedService(service string) bool {
	return strings.EqualFold(service, ServiceSMP1) || strings.EqualFold(service, ServiceSMP2)
}

// endpointFromRegexp extracts the replacement URL from a U-NAPTR regexp
// field, which has the form "!<pattern>!<replacement>!".
func endpointFromRegexp(field string) (string, error) {
	parts := strings.Split(field, "!")
	if len(parts) < 3 || parts[2] == "" {
		return "", fmt.Errorf("%w: %q", ErrMalformedRecord, field)
	}

	parsed, err := url.Parse(parts[2])
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}
	if parsed.Scheme != "https" && parsed.Scheme != "http" {
		return "", fmt.Errorf("%w: scheme %q", ErrMalformedRecord, parsed.Scheme)
	}
	return parts[2], nil
}

// EbCorePartyID formats an ebCore party identifier for lookup.
func EbCorePartyID(catalog, scheme, identifier string) string {
	return fmt.Sprintf("urn:oasis:names:tc:ebcore:partyid-type:%s:%s:%s", catalog, scheme, identifier)
}
