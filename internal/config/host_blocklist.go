package config

import (
	"net/url"
	"strings"
	"sync/atomic"
)

// hostBlocklistSet holds normalized hostnames that webhooks may never target.
var hostBlocklistSet atomic.Value

// NormalizeHostBlocklist trims, lowercases, and deduplicates host entries.
func NormalizeHostBlocklist(entries []string) []string {
	return normalizeHostEntries(entries)
}

func updateHostBlocklist(entries []string) {
	hostBlocklistSet.Store(buildHostBlocklist(normalizeHostEntries(entries)))
}

// IsHostBlocked reports whether the URL or hostname is, or is a subdomain of,
// a configured blocked host.
func IsHostBlocked(rawURL string) bool {
	return isHostBlockedIn(rawURL, hostBlocklistSet.Load().(map[string]struct{}))
}

func isHostBlockedIn(rawURL string, blockedSet map[string]struct{}) bool {
	if len(blockedSet) == 0 {
		return false
	}

	host := normalizeHostname(rawURL)
	if host == "" {
		return false
	}

	if _, ok := blockedSet[host]; ok {
		return true
	}

	for blocked := range blockedSet {
		if strings.HasSuffix(host, "."+blocked) {
			return true
		}
	}

	return false
}

func buildHostBlocklist(entries []string) map[string]struct{} {
	set := make(map[string]struct{}, len(entries))
	for _, host := range entries {
		if host == "" {
			continue
		}
		set[host] = struct{}{}
	}
	return set
}

func normalizeHostEntries(entries []string) []string {
	unique := make(map[string]struct{}, len(entries))
	normalized := make([]string, 0, len(entries))

	for _, raw := range entries {
		host := normalizeHostname(raw)
		if host == "" {
			continue
		}
		if _, exists := unique[host]; exists {
			continue
		}
		unique[host] = struct{}{}
		normalized = append(normalized, host)
	}

	return normalized
}

func normalizeHostname(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ""
	}

	// Allow bare hostnames by prefixing a scheme for URL parsing.
	if !strings.Contains(trimmed, "://") {
		trimmed = "https://" + trimmed
	}

	parsed, err := url.Parse(trimmed)
	if err != nil {
		return ""
	}

	host := strings.ToLower(parsed.Hostname())
	return strings.Trim(host, ".")
}
