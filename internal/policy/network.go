package policy

import (
	"net/netip"
	"strings"

	"github.com/buildgate/buildgate/internal/config"
	"github.com/buildgate/buildgate/internal/model"
)

// blockedRanges are never valid targets regardless of configuration.
var blockedRanges = []struct {
	Name   string
	prefix netip.Prefix
}{
	{"link-local", netip.MustParsePrefix("169.254.0.0/16")},
	{"multicast", netip.MustParsePrefix("224.0.0.0/4")},
}

// NetworkPolicy validates caller addresses and remote execution targets.
type NetworkPolicy struct {
	callers       []netip.Prefix
	restricted    bool
	allowLoopback bool
}

// NewNetworkPolicy builds a NetworkPolicy. Caller allowlist entries may be
// bare addresses or CIDR prefixes. A malformed entry is dropped but still
// marks the allowlist as restricted, so a typo fails closed instead of
// admitting every caller.
func NewNetworkPolicy(allowedIPs []string, remote config.RemoteConfig) *NetworkPolicy {
	p := &NetworkPolicy{allowLoopback: remote.AllowLoopback}
	for _, entry := range allowedIPs {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		p.restricted = true
		if pfx, err := netip.ParsePrefix(entry); err == nil {
			p.callers = append(p.callers, pfx.Masked())
			continue
		}
		if addr, err := netip.ParseAddr(entry); err == nil {
			p.callers = append(p.callers, netip.PrefixFrom(addr, addr.BitLen()))
		}
	}
	return p
}

// ValidateIP parses an address and rejects the always-blocked ranges.
func ValidateIP(raw string) (netip.Addr, error) {
	addr, err := netip.ParseAddr(strings.TrimSpace(raw))
	if err != nil {
		return netip.Addr{}, model.NewViolation(model.KindInvalidIPFormat,
			"%q is not a valid IP address", raw)
	}
	addr = addr.Unmap()
	for _, r := range blockedRanges {
		if r.prefix.Contains(addr) {
			return netip.Addr{}, model.NewViolation(model.KindIPRangeBlocked,
				"address %s is in the blocked %s range", addr, r.Name)
		}
	}
	return addr, nil
}

// CallerAllowed checks a caller address against the configured allowlist.
// An empty allowlist admits every caller.
func (p *NetworkPolicy) CallerAllowed(raw string) error {
	if !p.restricted {
		return nil
	}
	addr, err := ValidateIP(raw)
	if err != nil {
		return err
	}
	for _, pfx := range p.callers {
		if pfx.Contains(addr) {
			return nil
		}
	}
	return model.NewViolation(model.KindIPRangeBlocked,
		"caller %s is not in the allowed IP list", addr)
}

// ValidateRemoteTarget accepts an IP address or a hostname. Loopback
// targets are refused unless remote.allow_loopback is set.
func (p *NetworkPolicy) ValidateRemoteTarget(raw string) error {
	target := strings.TrimSpace(raw)
	if target == "" {
		return model.NewViolation(model.KindInvalidInput, "remote host is empty")
	}
	if addr, err := netip.ParseAddr(target); err == nil {
		addr = addr.Unmap()
		for _, r := range blockedRanges {
			if r.prefix.Contains(addr) {
				return model.NewViolation(model.KindIPRangeBlocked,
					"address %s is in the blocked %s range", addr, r.Name)
			}
		}
		if addr.IsLoopback() && !p.allowLoopback {
			return model.NewViolation(model.KindIPRangeBlocked,
				"loopback target %s is disabled; set remote.allow_loopback to permit it", addr)
		}
		return nil
	}
	if !validHostname(target) {
		return model.NewViolation(model.KindInvalidIPFormat,
			"%q is not a valid IP address or hostname", target)
	}
	if strings.EqualFold(target, "localhost") && !p.allowLoopback {
		return model.NewViolation(model.KindIPRangeBlocked,
			"loopback target %s is disabled; set remote.allow_loopback to permit it", target)
	}
	return nil
}

// validHostname applies RFC 1123 label rules without resolving the name.
func validHostname(s string) bool {
	if len(s) == 0 || len(s) > 253 {
		return false
	}
	for _, label := range strings.Split(s, ".") {
		if len(label) == 0 || len(label) > 63 {
			return false
		}
		for i := 0; i < len(label); i++ {
			c := label[i]
			switch {
			case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
			case c == '-' && i > 0 && i < len(label)-1:
			default:
				return false
			}
		}
	}
	return true
}
