package keystore

import "fmt"

// Config selects and configures a repository backend.
type Config struct {
	// Mode is "file" or "pkcs11".
	Mode string `yaml:"mode"`

	File struct {
		// Dir holds {alias}.crt / {alias}.key PEM files.
		Dir string `yaml:"dir"`
		// Roots is an optional PEM bundle of trusted CA certificates.
		Roots string `yaml:"roots"`
	} `yaml:"file"`

	PKCS11 struct {
		ModulePath string `yaml:"module_path"`
		SlotID     uint   `yaml:"slot_id"`
		SlotLabel  string `yaml:"slot_label"`
		PIN        string `yaml:"pin"`
	} `yaml:"pkcs11"`
}

// NewRepository creates a CertificateRepository from configuration.
func NewRepository(cfg *Config) (CertificateRepository, error) {
	switch cfg.Mode {
	case "file", "":
		dir := cfg.File.Dir
		if dir == "" {
			dir = "./keys"
		}
		return NewFileRepository(dir, cfg.File.Roots)
	case "pkcs11":
		p11cfg := &PKCS11Config{
			ModulePath: cfg.PKCS11.ModulePath,
			SlotLabel:  cfg.PKCS11.SlotLabel,
			PIN:        cfg.PKCS11.PIN,
		}
		if cfg.PKCS11.SlotID > 0 {
			slotID := cfg.PKCS11.SlotID
			p11cfg.SlotID = &slotID
		}
		return NewPKCS11Repository(p11cfg, nil)
	default:
		return nil, fmt.Errorf("keystore: unknown mode: %s", cfg.Mode)
	}
}
