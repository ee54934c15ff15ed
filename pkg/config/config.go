// SPDX-License-Identifier: MIT

// Package config loads and validates the environment-driven settings for a
// service persona. All defaulting is explicit, every validator is fatal at
// startup, and the resulting Settings record is immutable afterwards.
package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/celsiusnarhwal/takagi/pkg/logger"
)

// RootRedirect selects the behavior of GET /.
type RootRedirect string

// Recognized ROOT_REDIRECT values.
const (
	RootRedirectRepo     RootRedirect = "repo"
	RootRedirectSettings RootRedirect = "settings"
	RootRedirectDocs     RootRedirect = "docs"
	RootRedirectOff      RootRedirect = "off"
)

// MinTokenLifetime is the smallest TOKEN_LIFETIME accepted when one is set.
const MinTokenLifetime = 60 * time.Second

// DefaultTransactionTTL bounds how long an authorization may sit between
// /authorize and the upstream callback.
const DefaultTransactionTTL = 10 * time.Minute

// loopbacks are always appended to ALLOWED_HOSTS.
var loopbacks = []string{"localhost", "127.0.0.1", "::1"}

// Settings is the typed configuration record built once at startup.
type Settings struct {
	Service Service

	// AllowedHosts is the Host-header allowlist. Loopbacks are always
	// present; a bare "*" admits any host.
	AllowedHosts HostPatterns

	// AllowedClients restricts which client_ids may use /authorize and
	// /token. Contains "*" by default.
	AllowedClients []string

	// BasePath is the URL prefix under which the service is mounted,
	// normalized to either "" (root) or "/prefix" with no trailing slash.
	BasePath string

	// FixRedirectURIs rewrites non-/r/ redirect URIs into /r/<uri> at
	// /authorize instead of rejecting them.
	FixRedirectURIs bool

	// TokenLifetime bounds issued tokens. Zero means non-expiring.
	TokenLifetime time.Duration

	// TransactionTTL bounds the /authorize → callback window.
	TransactionTTL time.Duration

	RootRedirect          RootRedirect
	TreatLoopbackAsSecure bool
	ReturnToReferrer      bool

	// AllowedWebfingerHosts gates WebFinger acct: lookups. Empty means
	// WebFinger matches nothing. Bare "*" is a configuration error.
	AllowedWebfingerHosts HostPatterns

	// Keyset is an externally supplied JWK Set JSON. Mutually exclusive
	// with KeysetFile.
	Keyset     string
	KeysetFile string

	// DataDir holds the managed keyset when no external keyset is given.
	DataDir string

	EnableDocs bool

	// RedisURL switches the transaction store to Redis when set.
	RedisURL string
}

// Load reads the service's environment (prefix TAKAGI_ or SNOWFLAKE_) into a
// validated Settings record. Any validation failure is fatal to startup.
func Load(service Service) (*Settings, error) {
	v := viper.New()
	v.SetEnvPrefix(service.EnvPrefix)
	v.AutomaticEnv()

	v.SetDefault("allowed_hosts", "")
	v.SetDefault("allowed_clients", "*")
	v.SetDefault("base_path", "/")
	v.SetDefault("fix_redirect_uris", false)
	v.SetDefault("token_lifetime", "")
	v.SetDefault("transaction_ttl", "")
	v.SetDefault("root_redirect", string(RootRedirectRepo))
	v.SetDefault("treat_loopback_as_secure", true)
	v.SetDefault("return_to_referrer", false)
	v.SetDefault("allowed_webfinger_hosts", "")
	v.SetDefault("keyset", "")
	v.SetDefault("keyset_file", "")
	v.SetDefault("data_dir", "data")
	v.SetDefault("enable_docs", false)
	v.SetDefault("redis_url", "")

	s := &Settings{
		Service:               service,
		AllowedHosts:          HostPatterns(splitCSV(v.GetString("allowed_hosts"))),
		AllowedClients:        splitCSV(v.GetString("allowed_clients")),
		FixRedirectURIs:       v.GetBool("fix_redirect_uris"),
		TreatLoopbackAsSecure: v.GetBool("treat_loopback_as_secure"),
		ReturnToReferrer:      v.GetBool("return_to_referrer"),
		AllowedWebfingerHosts: HostPatterns(splitCSV(v.GetString("allowed_webfinger_hosts"))),
		Keyset:                v.GetString("keyset"),
		KeysetFile:            v.GetString("keyset_file"),
		DataDir:               v.GetString("data_dir"),
		EnableDocs:            v.GetBool("enable_docs"),
		RedisURL:              v.GetString("redis_url"),
	}

	s.BasePath = normalizeBasePath(v.GetString("base_path"))

	lifetime, err := parseLifetime(v.GetString("token_lifetime"))
	if err != nil {
		return nil, err
	}
	s.TokenLifetime = lifetime

	ttl, err := parseTransactionTTL(v.GetString("transaction_ttl"))
	if err != nil {
		return nil, err
	}
	s.TransactionTTL = ttl

	rr, err := parseRootRedirect(v.GetString("root_redirect"))
	if err != nil {
		return nil, err
	}
	s.RootRedirect = rr
	if s.RootRedirect == RootRedirectDocs {
		s.EnableDocs = true
	}

	for _, l := range loopbacks {
		if !slices.Contains(s.AllowedHosts, l) {
			s.AllowedHosts = append(s.AllowedHosts, l)
		}
	}
	// The warning fires only for the bare "*" entry; wildcard domains are a
	// routine deployment shape and stay quiet.
	if s.AllowedHosts.HasWildcard() {
		logger.Warnf("%s will accept requests for any host; set %s_ALLOWED_HOSTS to restrict it", service.Name, service.EnvPrefix)
	}

	if len(s.AllowedClients) == 0 {
		s.AllowedClients = []string{"*"}
	}

	if err := s.validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Settings) validate() error {
	if s.Keyset != "" && s.KeysetFile != "" {
		return errors.New("KEYSET and KEYSET_FILE are mutually exclusive; set at most one")
	}
	if s.AllowedWebfingerHosts.HasWildcard() {
		return errors.New("ALLOWED_WEBFINGER_HOSTS must not contain a bare \"*\"; list domains or wildcard domains explicitly")
	}
	return nil
}

// ClientAllowed reports whether a client_id passes the allowlist.
func (s *Settings) ClientAllowed(clientID string) bool {
	return slices.Contains(s.AllowedClients, "*") || slices.Contains(s.AllowedClients, clientID)
}

func parseLifetime(raw string) (time.Duration, error) {
	if raw == "" {
		return 0, nil
	}
	d, err := ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("TOKEN_LIFETIME: %w", err)
	}
	if d < MinTokenLifetime {
		return 0, fmt.Errorf("TOKEN_LIFETIME must be at least %s, got %s", MinTokenLifetime, d)
	}
	return d, nil
}

func parseTransactionTTL(raw string) (time.Duration, error) {
	if raw == "" {
		return DefaultTransactionTTL, nil
	}
	d, err := ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("TRANSACTION_TTL: %w", err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("TRANSACTION_TTL must be positive, got %s", d)
	}
	return d, nil
}

func parseRootRedirect(raw string) (RootRedirect, error) {
	switch RootRedirect(strings.ToLower(raw)) {
	case RootRedirectRepo:
		return RootRedirectRepo, nil
	case RootRedirectSettings:
		return RootRedirectSettings, nil
	case RootRedirectDocs:
		return RootRedirectDocs, nil
	case RootRedirectOff:
		return RootRedirectOff, nil
	default:
		return "", fmt.Errorf("ROOT_REDIRECT must be one of repo, settings, docs, off; got %q", raw)
	}
}

func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" || p == "/" {
		return ""
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return strings.TrimRight(p, "/")
}

func splitCSV(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
