// Package config handles configuration loading for the message service
// handler.
//
// Configuration is loaded from a YAML file with support for environment
// variable expansion (${VAR} or $VAR syntax). This allows sensitive values
// like database credentials and HSM PINs to be injected at runtime.
//
// # Configuration Sections
//
//   - server: HTTP server settings (address, path, TLS)
//   - storage: datastore connection (MongoDB URI, database, GridFS bucket)
//   - keystore: certificate repository (file or pkcs11 mode)
//   - pmodes: directory of processing mode documents
//   - pulling: pull scheduler channels
//   - reliability: retry poller settings
//   - discovery: BDXL endpoint resolution
//
// # Example Configuration
//
//	server:
//	  address: ":8443"
//	  path: /as4
//	  tls:
//	    cert_file: /etc/ssl/msh.crt
//	    key_file: /etc/ssl/msh.key
//
//	storage:
//	  mongodb:
//	    uri: ${MONGODB_URI}
//	    database: msh
//
//	keystore:
//	  mode: file
//	  file:
//	    dir: /etc/msh/keys
//
//	pmodes:
//	  dir: /etc/msh/pmodes
//
// See [Load] for loading configuration from a file.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/openas4/msh/internal/keystore"
	"github.com/openas4/msh/internal/storage/mongodb"
	"github.com/openas4/msh/pkg/discovery"
	"github.com/openas4/msh/pkg/pmode"
)

// Config is the root configuration structure.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Storage     StorageConfig     `yaml:"storage"`
	Keystore    keystore.Config   `yaml:"keystore"`
	PModes      PModesConfig      `yaml:"pmodes"`
	Pulling     PullingConfig     `yaml:"pulling"`
	Reliability ReliabilityConfig `yaml:"reliability"`
	Discovery   discovery.Config  `yaml:"discovery"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Address string `yaml:"address"`
	Path    string `yaml:"path"`
	TLS     struct {
		CertFile string `yaml:"cert_file"`
		KeyFile  string `yaml:"key_file"`
	} `yaml:"tls"`
}

// StorageConfig holds datastore settings.
type StorageConfig struct {
	MongoDB mongodb.Config `yaml:"mongodb"`
}

// PModesConfig locates the processing mode documents.
type PModesConfig struct {
	// Dir holds one YAML document per processing mode.
	Dir string `yaml:"dir"`
}

// PullingConfig configures the pull scheduler and incoming pull
// authorization.
type PullingConfig struct {
	Channels []PullChannel `yaml:"channels"`

	// Authorization holds the UsernameToken credentials incoming pull
	// requests must present, keyed by MPC.
	Authorization map[string]pmode.PullAuth `yaml:"authorization,omitempty"`
}

// PullChannel configures one scheduled pull channel and the partner
// endpoint its pull requests go to.
type PullChannel struct {
	Mpc         string          `yaml:"mpc"`
	URL         string          `yaml:"url"`
	MinInterval time.Duration   `yaml:"min_interval,omitempty"`
	MaxInterval time.Duration   `yaml:"max_interval,omitempty"`
	Auth        *pmode.PullAuth `yaml:"auth,omitempty"`
}

// ReliabilityConfig configures the retry poller.
type ReliabilityConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
	BatchSize    int           `yaml:"batch_size"`
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse reads configuration from YAML bytes with environment expansion.
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Address == "" {
		c.Server.Address = ":8443"
	}
	if c.Server.Path == "" {
		c.Server.Path = "/as4"
	}
	if c.Storage.MongoDB.Database == "" {
		c.Storage.MongoDB.Database = "msh"
	}
	if c.Storage.MongoDB.GridFSBucket == "" {
		c.Storage.MongoDB.GridFSBucket = "message_bodies"
	}
	if c.Storage.MongoDB.ChunkSizeBytes == 0 {
		c.Storage.MongoDB.ChunkSizeBytes = 261120 // 255KB
	}
	if c.Keystore.Mode == "" {
		c.Keystore.Mode = "file"
	}
	if c.Reliability.PollInterval == 0 {
		c.Reliability.PollInterval = 10 * time.Second
	}
	if c.Reliability.BatchSize == 0 {
		c.Reliability.BatchSize = 10
	}
}

func (c *Config) validate() error {
	if c.Storage.MongoDB.URI == "" {
		return fmt.Errorf("storage.mongodb.uri is required")
	}

	switch c.Keystore.Mode {
	case "file", "pkcs11":
	default:
		return fmt.Errorf("keystore.mode must be 'file' or 'pkcs11', got '%s'", c.Keystore.Mode)
	}
	if c.Keystore.Mode == "pkcs11" && c.Keystore.PKCS11.ModulePath == "" {
		return fmt.Errorf("keystore.pkcs11.module_path is required when mode is 'pkcs11'")
	}

	if (c.Server.TLS.CertFile == "") != (c.Server.TLS.KeyFile == "") {
		return fmt.Errorf("server.tls requires both cert_file and key_file")
	}

	for _, ch := range c.Pulling.Channels {
		if ch.Mpc == "" {
			return fmt.Errorf("pulling.channels entries require an mpc")
		}
		if ch.URL == "" {
			return fmt.Errorf("pulling.channels entry %s requires a url", ch.Mpc)
		}
	}
	return nil
}
