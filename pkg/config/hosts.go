// SPDX-License-Identifier: MIT

package config

import (
	"net"
	"strings"
)

// HostPatterns is an allowlist of host patterns. Three pattern forms are
// understood: a bare "*" matches any host; "*.example.com" matches any host
// ending in ".example.com" with a non-empty label in front of the suffix;
// anything else (hostnames, IP literals) matches literally. Matching is
// case-insensitive and ignores a port.
type HostPatterns []string

// Matches reports whether host is allowed by any pattern in the list.
func (ps HostPatterns) Matches(host string) bool {
	host = canonicalHost(host)
	for _, p := range ps {
		if matchHostPattern(p, host) {
			return true
		}
	}
	return false
}

// HasWildcard reports whether the list contains the bare "*" entry.
// Wildcard domains do not count.
func (ps HostPatterns) HasWildcard() bool {
	for _, p := range ps {
		if p == "*" {
			return true
		}
	}
	return false
}

func matchHostPattern(pattern, host string) bool {
	pattern = strings.ToLower(pattern)
	switch {
	case pattern == "*":
		return true
	case strings.HasPrefix(pattern, "*."):
		suffix := pattern[1:] // keep the leading dot
		return strings.HasSuffix(host, suffix) && len(host) > len(suffix)
	default:
		return host == pattern
	}
}

// canonicalHost strips an optional port and IPv6 brackets and lowercases.
func canonicalHost(host string) string {
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return strings.ToLower(strings.Trim(host, "[]"))
}
