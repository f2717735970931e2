package blockauth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"gopkg.in/yaml.v3"
)

const defaultTTL = time.Hour

var networks = map[string]*chaincfg.Params{
	"mainnet":  &chaincfg.MainNetParams,
	"testnet3": &chaincfg.TestNet3Params,
	"regtest":  &chaincfg.RegressionNetParams,
	"simnet":   &chaincfg.SimNetParams,
}

// Config controls token issuance and verification.
type Config struct {
	// ClockSkew widens the iat and exp comparisons. Zero means exact.
	ClockSkew time.Duration
	// TTL is added to the construction time when no expiry is given.
	TTL time.Duration
	// Network selects the address version used for did:btc-addr identifiers.
	Network *chaincfg.Params
	// Checks overrides the message type's default check list.
	Checks []CheckID
}

type fileConfig struct {
	ClockSkew time.Duration `yaml:"clock_skew"`
	TTL       time.Duration `yaml:"ttl"`
	Network   string        `yaml:"network"`
	Checks    []string      `yaml:"checks"`
}

// ParseConfig reads a YAML document such as:
//
//	clock_skew: 5s
//	ttl: 30m
//	network: testnet3
//	checks: [expiration, issuance, signature_keys]
func ParseConfig(data []byte) (Config, error) {
	var raw fileConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Config{}, newError(ErrCodeInvalidConfig, fmt.Errorf("parse yaml: %w", err))
	}
	cfg := Config{
		ClockSkew: raw.ClockSkew,
		TTL:       raw.TTL,
	}
	if raw.Network != "" {
		net, ok := networks[strings.ToLower(raw.Network)]
		if !ok {
			return Config{}, newError(ErrCodeInvalidConfig, fmt.Errorf("unknown network %q", raw.Network))
		}
		cfg.Network = net
	}
	for _, id := range raw.Checks {
		cfg.Checks = append(cfg.Checks, CheckID(id))
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	if _, err := resolveChecks(cfg.Checks, builtinChecks); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// normalize sets default values for optional fields.
func (c *Config) normalize() {
	if c.TTL <= 0 {
		c.TTL = defaultTTL
	}
	if c.Network == nil {
		c.Network = &chaincfg.MainNetParams
	}
	if len(c.Checks) > 0 {
		c.Checks = append([]CheckID(nil), c.Checks...)
	}
}

// validate ensures the configuration is usable.
func (c Config) validate() error {
	switch {
	case c.ClockSkew < 0:
		return newError(ErrCodeInvalidConfig, errors.New("clock skew must not be negative"))
	case c.TTL < 0:
		return newError(ErrCodeInvalidConfig, errors.New("ttl must not be negative"))
	}
	seen := make(map[CheckID]struct{}, len(c.Checks))
	for _, id := range c.Checks {
		if _, dup := seen[id]; dup {
			return newError(ErrCodeInvalidConfig, fmt.Errorf("duplicate check %q", id))
		}
		seen[id] = struct{}{}
	}
	return nil
}
