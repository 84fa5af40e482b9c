// Package config holds the proxy's immutable-after-load configuration:
// the listening port and the ordered subnet-to-policy table.
package config

import (
	"fmt"
	"net"
	"strings"
)

// SubnetKey identifies one entry in Config.Subnets. Default matches any
// interface address; Subnet matches only when an interface address falls
// inside the given IPv4 CIDR.
type SubnetKey struct {
	IsDefault bool
	Net       *net.IPNet
}

// DefaultSubnetKey is the catch-all rule. Recommended placement is last.
func DefaultSubnetKey() SubnetKey {
	return SubnetKey{IsDefault: true}
}

// SubnetKeyFromCIDR parses "a.b.c.d/n" into a Subnet SubnetKey.
func SubnetKeyFromCIDR(cidr string) (SubnetKey, error) {
	_, ipnet, err := net.ParseCIDR(cidr)
	if err != nil {
		return SubnetKey{}, fmt.Errorf("invalid subnet %q: %w", cidr, err)
	}
	if ipnet.IP.To4() == nil {
		return SubnetKey{}, fmt.Errorf("subnet %q is not IPv4", cidr)
	}
	return SubnetKey{Net: ipnet}, nil
}

func (k SubnetKey) String() string {
	if k.IsDefault {
		return "Default"
	}
	return k.Net.String()
}

// Matches reports whether ip (an IPv4 address) falls inside this subnet.
// Default always matches.
func (k SubnetKey) Matches(ip net.IP) bool {
	if k.IsDefault {
		return true
	}
	return subnetContainsIPv4(k.Net, ip)
}

// subnetContainsIPv4 masks ip with the subnet's mask and compares it to
// the subnet's network address directly, rather than going through
// net.IPNet.Contains, to keep the containment check explicit.
func subnetContainsIPv4(n *net.IPNet, ip net.IP) bool {
	ip4 := ip.To4()
	if ip4 == nil {
		return false
	}
	network := n.IP.To4()
	mask := net.IP(n.Mask).To4()
	if network == nil || mask == nil {
		return false
	}
	for i := 0; i < 4; i++ {
		if ip4[i]&mask[i] != network[i]&mask[i] {
			return false
		}
	}
	return true
}

// ProxyConfig is the effective network policy for a subnet: dial origins
// directly, or tunnel through an upstream proxy unless NoProxy matches.
type ProxyConfig struct {
	Direct   bool
	Host     string
	Port     uint32
	NoProxy  []NoProxyValue
}

// Direct is the zero-ish Direct policy value.
func Direct() ProxyConfig {
	return ProxyConfig{Direct: true}
}

// Equal reports deep equality, used by the Policy Watcher to suppress
// duplicate adjacent publishes.
func (p ProxyConfig) Equal(o ProxyConfig) bool {
	if p.Direct != o.Direct {
		return false
	}
	if p.Direct {
		return true
	}
	if p.Host != o.Host || p.Port != o.Port || len(p.NoProxy) != len(o.NoProxy) {
		return false
	}
	for i := range p.NoProxy {
		if p.NoProxy[i] != o.NoProxy[i] {
			return false
		}
	}
	return true
}

func (p ProxyConfig) String() string {
	if p.Direct {
		return "Direct"
	}
	return fmt.Sprintf("Proxy{%s:%d, no_proxy=%d}", p.Host, p.Port, len(p.NoProxy))
}

// UpstreamAddr returns "host:port" for dialing the upstream proxy.
func (p ProxyConfig) UpstreamAddr() string {
	return fmt.Sprintf("%s:%d", p.Host, p.Port)
}

// NoProxyKind tags which variant a NoProxyValue holds.
type NoProxyKind int

const (
	// NoProxyHost matches when the target host contains this substring.
	NoProxyHost NoProxyKind = iota
	// NoProxySubnet matches when the target host is a bare IPv4 literal
	// contained in this CIDR. DNS is never performed.
	NoProxySubnet
)

// NoProxyValue is one entry of a ProxyConfig's no_proxy list.
//
// Host entries match by substring, not suffix or exact match — "com"
// matches "badcom.example.com". This is preserved intentionally (it's
// what the upstream system does) even though it reads like a bug.
type NoProxyValue struct {
	Kind NoProxyKind
	Host string
	Net  *net.IPNet
}

// ParseNoProxyValue parses one no_proxy entry. A value containing "/" is
// treated as a CIDR; anything else is a hostname substring.
func ParseNoProxyValue(s string) (NoProxyValue, error) {
	if strings.Contains(s, "/") {
		_, ipnet, err := net.ParseCIDR(s)
		if err != nil {
			return NoProxyValue{}, fmt.Errorf("invalid no_proxy subnet %q: %w", s, err)
		}
		if ipnet.IP.To4() == nil {
			return NoProxyValue{}, fmt.Errorf("no_proxy subnet %q is not IPv4", s)
		}
		return NoProxyValue{Kind: NoProxySubnet, Net: ipnet}, nil
	}
	return NoProxyValue{Kind: NoProxyHost, Host: s}, nil
}

func (v NoProxyValue) String() string {
	if v.Kind == NoProxySubnet {
		return v.Net.String()
	}
	return v.Host
}

// Matches reports whether this no_proxy entry matches the target
// "host:port" (or bare host) string.
func (v NoProxyValue) Matches(target string) bool {
	switch v.Kind {
	case NoProxyHost:
		return strings.Contains(target, v.Host)
	case NoProxySubnet:
		host := target
		if h, _, err := net.SplitHostPort(target); err == nil {
			host = h
		}
		ip := net.ParseIP(host)
		if ip == nil {
			return false
		}
		return subnetContainsIPv4(v.Net, ip)
	default:
		return false
	}
}

// SubnetRule is one ordered (key, policy) pair from Config.Subnets.
type SubnetRule struct {
	Key    SubnetKey
	Policy ProxyConfig
}

// Config is the proxy's full, immutable-after-load configuration.
type Config struct {
	Port    uint32
	Subnets []SubnetRule
}

// SelectPolicy walks Subnets in order and returns the first rule whose
// key matches any of the given interface IPv4 addresses. Default always
// matches, so callers should place it last.
func (c *Config) SelectPolicy(ipv4Addrs []net.IP) ProxyConfig {
	for _, rule := range c.Subnets {
		if rule.Key.IsDefault {
			return rule.Policy
		}
		for _, ip := range ipv4Addrs {
			if rule.Key.Matches(ip) {
				return rule.Policy
			}
		}
	}
	return Direct()
}
