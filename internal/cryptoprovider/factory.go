package cryptoprovider

import "fmt"

// Config describes where an AgeProvider's key material lives on disk.
type Config struct {
	Type           string `toml:"type"` // "age" (default)
	PublicKeyPath  string `toml:"public_key_path"`
	PrivateKeyPath string `toml:"private_key_path"`
	MACKeyPath     string `toml:"mac_key_path"`
}

// New constructs a CryptoProvider from cfg.
func New(cfg Config) (*AgeProvider, error) {
	switch cfg.Type {
	case "age", "":
		return NewAgeProvider(cfg.PublicKeyPath, cfg.PrivateKeyPath, cfg.MACKeyPath), nil
	default:
		return nil, fmt.Errorf("cryptoprovider: unknown type %q", cfg.Type)
	}
}
