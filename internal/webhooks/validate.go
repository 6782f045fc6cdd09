package webhooks

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"net/url"
	"strings"

	"moltguard/internal/config"
	"moltguard/internal/domain"
)

// ValidationError reports a rejected subscription field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// Resolver looks up the addresses behind a hostname. *net.Resolver satisfies it.
type Resolver interface {
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

var (
	cgnatPrefix   = netip.MustParsePrefix("100.64.0.0/10")
	thisNetPrefix = netip.MustParsePrefix("0.0.0.0/8")
	metadataAddrs = map[netip.Addr]struct{}{
		netip.MustParseAddr("169.254.169.254"): {},
		netip.MustParseAddr("fd00:ec2::254"):   {},
		netip.MustParseAddr("100.100.100.200"): {},
	}

	// IPv6 ranges that carry an IPv4 address.
	nat64Prefix      = netip.MustParsePrefix("64:ff9b::/96")
	nat64LocalPrefix = netip.MustParsePrefix("64:ff9b:1::/48")
	ipv4CompatPrefix = netip.MustParsePrefix("::/96")
	sixToFourPrefix  = netip.MustParsePrefix("2002::/16")
	teredoPrefix     = netip.MustParsePrefix("2001::/32")
)

// embeddedIPv4 extracts the IPv4 address behind an IPv6 transition address.
func embeddedIPv4(addr netip.Addr) (netip.Addr, bool) {
	if !addr.Is6() || addr.IsLoopback() || addr.IsUnspecified() {
		return netip.Addr{}, false
	}
	b := addr.As16()
	switch {
	case nat64Prefix.Contains(addr), ipv4CompatPrefix.Contains(addr):
		return netip.AddrFrom4([4]byte{b[12], b[13], b[14], b[15]}), true
	case sixToFourPrefix.Contains(addr):
		return netip.AddrFrom4([4]byte{b[2], b[3], b[4], b[5]}), true
	case teredoPrefix.Contains(addr):
		// the client address is stored inverted
		return netip.AddrFrom4([4]byte{^b[12], ^b[13], ^b[14], ^b[15]}), true
	}
	return netip.Addr{}, false
}

// classifyAddr returns why addr may not be used as a webhook target.
func classifyAddr(addr netip.Addr) (string, bool) {
	addr = addr.Unmap()
	if _, ok := metadataAddrs[addr]; ok {
		return "cloud metadata address", true
	}
	if inner, ok := embeddedIPv4(addr); ok {
		if reason, blocked := classifyAddr(inner); blocked {
			return reason, true
		}
		if ipv4CompatPrefix.Contains(addr) {
			return "IPv4-compatible address", true
		}
	}
	switch {
	case nat64LocalPrefix.Contains(addr):
		return "translated address", true
	case addr.IsLoopback():
		return "loopback address", true
	case addr.IsLinkLocalUnicast(), addr.IsLinkLocalMulticast():
		return "link-local address", true
	case addr.IsPrivate():
		return "private address", true
	case addr.IsUnspecified(), thisNetPrefix.Contains(addr):
		return "unspecified address", true
	case addr.IsMulticast(), addr.IsInterfaceLocalMulticast():
		return "multicast address", true
	case cgnatPrefix.Contains(addr):
		return "shared address space", true
	}
	return "", false
}

// URLValidator rejects URLs that are not https or that point at internal
// infrastructure.
type URLValidator struct {
	resolver Resolver
}

func NewURLValidator(resolver Resolver) *URLValidator {
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	return &URLValidator{resolver: resolver}
}

// Validate returns the normalized URL. Target checks run before the scheme
// check so an internal address is always reported as such.
func (v *URLValidator) Validate(ctx context.Context, raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", invalid("url", "is required")
	}

	parsed, err := url.Parse(trimmed)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return "", invalid("url", "must be an absolute URL")
	}
	if parsed.User != nil {
		return "", invalid("url", "must not contain credentials")
	}

	host := strings.Trim(strings.ToLower(parsed.Hostname()), ".")
	if host == "" {
		return "", invalid("url", "must include a host")
	}
	if config.IsHostBlocked(host) {
		return "", invalid("url", "host %s is not allowed", host)
	}

	if addr, err := netip.ParseAddr(host); err == nil {
		if reason, blocked := classifyAddr(addr); blocked {
			return "", invalid("url", "resolves to a %s", reason)
		}
	} else {
		addrs, err := v.resolver.LookupIPAddr(ctx, host)
		if err != nil || len(addrs) == 0 {
			return "", invalid("url", "host %s does not resolve", host)
		}
		for _, ipAddr := range addrs {
			addr, ok := netip.AddrFromSlice(ipAddr.IP)
			if !ok {
				return "", invalid("url", "host %s resolves to an unusable address", host)
			}
			if reason, blocked := classifyAddr(addr); blocked {
				return "", invalid("url", "resolves to a %s", reason)
			}
		}
	}

	if !strings.EqualFold(parsed.Scheme, "https") {
		return "", invalid("url", "must use https")
	}
	parsed.Scheme = "https"
	parsed.Fragment = ""

	return parsed.String(), nil
}

// NormalizeEventFilter accepts the wildcard alone or a non-empty list of
// known event names. Duplicates are dropped and order is kept.
func NormalizeEventFilter(events []string) (domain.StringList, error) {
	if len(events) == 0 {
		return nil, invalid("events", "must list at least one event")
	}

	seen := make(map[string]struct{}, len(events))
	filter := make(domain.StringList, 0, len(events))
	wildcard := false

	for _, raw := range events {
		name := strings.TrimSpace(raw)
		if name == domain.WildcardEvent {
			wildcard = true
			continue
		}
		if !domain.IsKnownEvent(name) {
			return nil, invalid("events", "unknown event %q", name)
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		filter = append(filter, name)
	}

	if wildcard {
		if len(filter) > 0 {
			return nil, invalid("events", "wildcard cannot be combined with event names")
		}
		return domain.StringList{domain.WildcardEvent}, nil
	}
	return filter, nil
}
