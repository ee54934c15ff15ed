package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHostPatternsMatches(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		patterns HostPatterns
		host     string
		want     bool
	}{
		{name: "literal match", patterns: HostPatterns{"takagi.example"}, host: "takagi.example", want: true},
		{name: "literal match ignores port", patterns: HostPatterns{"takagi.example"}, host: "takagi.example:8443", want: true},
		{name: "literal match is case-insensitive", patterns: HostPatterns{"Takagi.Example"}, host: "takagi.EXAMPLE", want: true},
		{name: "literal mismatch", patterns: HostPatterns{"takagi.example"}, host: "other.example", want: false},
		{name: "wildcard domain matches one label", patterns: HostPatterns{"*.example.com"}, host: "auth.example.com", want: true},
		{name: "wildcard domain matches nested labels", patterns: HostPatterns{"*.example.com"}, host: "a.b.example.com", want: true},
		{name: "wildcard domain rejects bare suffix", patterns: HostPatterns{"*.example.com"}, host: "example.com", want: false},
		{name: "wildcard domain rejects empty label", patterns: HostPatterns{"*.example.com"}, host: ".example.com", want: false},
		{name: "wildcard domain rejects lookalike suffix", patterns: HostPatterns{"*.example.com"}, host: "evilexample.com", want: false},
		{name: "bare star matches anything", patterns: HostPatterns{"*"}, host: "whatever.invalid", want: true},
		{name: "ip literal", patterns: HostPatterns{"192.0.2.10"}, host: "192.0.2.10:9090", want: true},
		{name: "ipv6 literal with brackets", patterns: HostPatterns{"::1"}, host: "[::1]:8000", want: true},
		{name: "empty list", patterns: nil, host: "takagi.example", want: false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, tc.patterns.Matches(tc.host))
		})
	}
}

func TestHostPatternsHasWildcard(t *testing.T) {
	t.Parallel()

	assert.True(t, HostPatterns{"a.example", "*"}.HasWildcard())
	// A wildcard domain is not the bare wildcard.
	assert.False(t, HostPatterns{"*.example.com"}.HasWildcard())
	assert.False(t, HostPatterns{}.HasWildcard())
}
