// Package transport implements the HTTPS transport layer for AS4 with
// TLS 1.2/1.3 and classifies exchange outcomes for the reliability
// layer.
package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"io"
	"net/http"
	"time"
)

// TLS version constants.
const (
	TLS12 = tls.VersionTLS12
	TLS13 = tls.VersionTLS13
)

// RecommendedTLS12CipherSuites are the TLS 1.2 cipher suites suitable
// for AS4 exchanges.
var RecommendedTLS12CipherSuites = []uint16{
	tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
	tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
}

// HTTPSConfig contains HTTPS client/server configuration.
type HTTPSConfig struct {
	MinTLSVersion   uint16
	MaxTLSVersion   uint16
	CipherSuites    []uint16
	ClientAuth      tls.ClientAuthType
	Certificates    []tls.Certificate
	RootCAs         *x509.CertPool
	ClientCAs       *x509.CertPool
	Timeout         time.Duration
	IdleConnTimeout time.Duration
}

// DefaultHTTPSConfig returns a default HTTPS configuration.
func DefaultHTTPSConfig() *HTTPSConfig {
	return &HTTPSConfig{
		MinTLSVersion:   TLS12,
		MaxTLSVersion:   TLS13,
		CipherSuites:    RecommendedTLS12CipherSuites,
		ClientAuth:      tls.NoClientCert,
		Timeout:         30 * time.Second,
		IdleConnTimeout: 90 * time.Second,
	}
}

// Client sends AS4 messages over HTTP(S) and classifies the outcome.
type Client struct {
	client *http.Client
	config *HTTPSConfig
}

// NewClient creates a transport client. A nil config gets defaults.
func NewClient(config *HTTPSConfig) *Client {
	if config == nil {
		config = DefaultHTTPSConfig()
	}

	tlsConfig := &tls.Config{
		MinVersion:   config.MinTLSVersion,
		MaxVersion:   config.MaxTLSVersion,
		CipherSuites: config.CipherSuites,
		Certificates: config.Certificates,
		RootCAs:      config.RootCAs,
	}

	transport := &http.Transport{
		TLSClientConfig:     tlsConfig,
		IdleConnTimeout:     config.IdleConnTimeout,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
	}

	return &Client{
		client: &http.Client{
			Transport: transport,
			Timeout:   config.Timeout,
		},
		config: config,
	}
}

// Send posts a serialized AS4 message to the endpoint. Network level
// failures come back as a RetryableFail result carrying the error, the
// caller never has to distinguish transport errors from 5xx responses.
func (c *Client) Send(ctx context.Context, endpoint string, body []byte, contentType string) (*SendResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request for %s: %w", endpoint, err)
	}

	req.Header.Set("Content-Type", contentType)
	req.Header.Set("User-Agent", "openas4-msh/1.0")
	req.Header.Set("SOAPAction", "") // empty for AS4

	resp, err := c.client.Do(req)
	if err != nil {
		return &SendResult{Type: RetryableFail, Err: err}, nil
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &SendResult{Type: RetryableFail, StatusCode: resp.StatusCode, Err: err}, nil
	}

	return &SendResult{
		Type:        ClassifyStatusCode(resp.StatusCode),
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        responseBody,
	}, nil
}

// Handler processes incoming AS4 requests. The response body and
// content type are written back verbatim; an empty response body means
// HTTP 202 with no content.
type Handler interface {
	HandleMessage(ctx context.Context, contentType string, body []byte) (responseBody []byte, responseContentType string, err error)
}

// Server receives AS4 messages over HTTPS.
type Server struct {
	server  *http.Server
	config  *HTTPSConfig
	handler Handler
}

// NewServer creates a receiving server listening on addr with the AS4
// endpoint at path (default "/as4").
func NewServer(addr, path string, config *HTTPSConfig, handler Handler) *Server {
	if config == nil {
		config = DefaultHTTPSConfig()
	}
	if path == "" {
		path = "/as4"
	}

	tlsConfig := &tls.Config{
		MinVersion:   config.MinTLSVersion,
		MaxVersion:   config.MaxTLSVersion,
		CipherSuites: config.CipherSuites,
		Certificates: config.Certificates,
		ClientCAs:    config.ClientCAs,
		ClientAuth:   config.ClientAuth,
	}

	s := &Server{config: config, handler: handler}

	mux := http.NewServeMux()
	mux.HandleFunc(path, s.handleAS4)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      mux,
		TLSConfig:    tlsConfig,
		ReadTimeout:  config.Timeout,
		WriteTimeout: config.Timeout,
		IdleTimeout:  config.IdleConnTimeout,
	}

	return s
}

func (s *Server) handleAS4(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	defer r.Body.Close()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}

	response, contentType, err := s.handler.HandleMessage(r.Context(), r.Header.Get("Content-Type"), body)
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to process message: %v", err), http.StatusInternalServerError)
		return
	}

	if len(response) == 0 {
		w.WriteHeader(http.StatusAccepted)
		return
	}

	if contentType == "" {
		contentType = "application/soap+xml; charset=utf-8"
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	w.Write(response)
}

// Start serves TLS when certificates are configured, plain HTTP
// otherwise. Plain HTTP is for tests and reverse proxy setups.
func (s *Server) Start() error {
	if len(s.config.Certificates) == 0 {
		return s.server.ListenAndServe()
	}
	return s.server.ListenAndServeTLS("", "")
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
