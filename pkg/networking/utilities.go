// SPDX-License-Identifier: MIT

// Package networking provides the outbound HTTP plumbing shared by the
// upstream adapters: a validating client builder and generic JSON fetch
// helpers.
package networking

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// HttpsScheme is the URL scheme required for non-loopback endpoints.
const HttpsScheme = "https"

// loopbackHosts are the hostnames treated as loopback everywhere host
// security decisions are made.
var loopbackHosts = []string{"localhost", "127.0.0.1", "::1"}

// IsLocalhost reports whether host (optionally host:port, optionally
// bracketed IPv6) refers to the local machine.
func IsLocalhost(host string) bool {
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.Trim(host, "[]")
	for _, l := range loopbackHosts {
		if strings.EqualFold(host, l) {
			return true
		}
	}
	return false
}

// ValidateEndpointURL checks that a configured endpoint is an absolute
// http(s) URL with a host. Plain HTTP is only permitted for loopback hosts.
func ValidateEndpointURL(endpoint string) error {
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return fmt.Errorf("invalid endpoint URL %q: %w", endpoint, err)
	}
	if parsed.Host == "" {
		return fmt.Errorf("endpoint URL %q has no host", endpoint)
	}
	switch parsed.Scheme {
	case HttpsScheme:
		return nil
	case "http":
		if IsLocalhost(parsed.Host) {
			return nil
		}
		return fmt.Errorf("endpoint URL %q must use HTTPS", endpoint)
	default:
		return fmt.Errorf("endpoint URL %q has unsupported scheme %q", endpoint, parsed.Scheme)
	}
}
