package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// configDoc mirrors the on-disk JSON schema:
//
//	{
//	  "port": 3333,
//	  "subnets": [
//	     { "Proxy": { "ip_range": "...", "proxy_host": "...", "proxy_port": 8888, "no_proxy": [...] } }
//	     | "Direct",
//	     ...
//	  ]
//	}
type configDoc struct {
	Port    uint32            `json:"port"`
	Subnets []json.RawMessage `json:"subnets"`
}

type proxySubnetDoc struct {
	Proxy *proxyEntryDoc `json:"Proxy"`
}

type proxyEntryDoc struct {
	IPRange   string   `json:"ip_range"`
	ProxyHost string   `json:"proxy_host"`
	ProxyPort uint32   `json:"proxy_port"`
	NoProxy   []string `json:"no_proxy"`
}

// Load reads and parses the JSON config file at path. A "Direct" array
// literal entry produces a (Default, Direct) rule; anything else must
// be a {"Proxy": {...}} object.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file %q: %w", path, err)
	}

	var doc configDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing config file %q: %w", path, err)
	}

	cfg := &Config{Port: doc.Port}

	for i, raw := range doc.Subnets {
		rule, err := parseSubnetEntry(raw)
		if err != nil {
			return nil, fmt.Errorf("config file %q, subnets[%d]: %w", path, i, err)
		}
		cfg.Subnets = append(cfg.Subnets, rule)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func parseSubnetEntry(raw json.RawMessage) (SubnetRule, error) {
	var literal string
	if err := json.Unmarshal(raw, &literal); err == nil {
		if literal == "Direct" {
			return SubnetRule{Key: DefaultSubnetKey(), Policy: Direct()}, nil
		}
		return SubnetRule{}, fmt.Errorf("unrecognized subnet literal %q", literal)
	}

	var entry proxySubnetDoc
	if err := json.Unmarshal(raw, &entry); err != nil {
		return SubnetRule{}, fmt.Errorf("invalid subnet entry: %w", err)
	}
	if entry.Proxy == nil {
		return SubnetRule{}, fmt.Errorf("subnet entry must be \"Direct\" or a {\"Proxy\": {...}} object")
	}

	key, err := SubnetKeyFromCIDR(entry.Proxy.IPRange)
	if err != nil {
		return SubnetRule{}, err
	}

	noProxy := make([]NoProxyValue, 0, len(entry.Proxy.NoProxy))
	for _, s := range entry.Proxy.NoProxy {
		v, err := ParseNoProxyValue(s)
		if err != nil {
			return SubnetRule{}, err
		}
		noProxy = append(noProxy, v)
	}

	policy := ProxyConfig{
		Host:    entry.Proxy.ProxyHost,
		Port:    entry.Proxy.ProxyPort,
		NoProxy: noProxy,
	}

	return SubnetRule{Key: key, Policy: policy}, nil
}

// Validate checks the loaded configuration for obvious mistakes and
// returns a single joined error message covering all of them.
func (c *Config) Validate() error {
	var errs []string

	if c.Port == 0 {
		errs = append(errs, "port must be set")
	}

	sawDefault := false
	for i, rule := range c.Subnets {
		if rule.Key.IsDefault {
			sawDefault = true
			continue
		}
		if sawDefault {
			errs = append(errs, fmt.Sprintf("subnets[%d]: rule follows the \"Direct\" catch-all and can never match", i))
		}
		if !rule.Policy.Direct {
			if rule.Policy.Host == "" {
				errs = append(errs, fmt.Sprintf("subnets[%d]: proxy_host is required", i))
			}
			if rule.Policy.Port == 0 {
				errs = append(errs, fmt.Sprintf("subnets[%d]: proxy_port is required", i))
			}
		}
	}

	if len(errs) == 0 {
		return nil
	}

	msg := "config validation failed:"
	for _, e := range errs {
		msg += "\n  - " + e
	}
	return fmt.Errorf("%s", msg)
}
