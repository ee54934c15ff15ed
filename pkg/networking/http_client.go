// SPDX-License-Identifier: MIT

package networking

import (
	"fmt"
	"net/http"
	"time"
)

// HttpTimeout is the default timeout for outgoing HTTP requests.
const HttpTimeout = 30 * time.Second

// HTTPClient is the minimal client surface the fetch helpers need.
// *http.Client satisfies it; tests may substitute their own.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// ValidatingTransport rejects plain-HTTP requests to non-loopback hosts
// before they leave the process.
type ValidatingTransport struct {
	Transport http.RoundTripper
}

// RoundTrip validates the request URL prior to forwarding.
func (t *ValidatingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.URL.Scheme != HttpsScheme && !IsLocalhost(req.URL.Host) {
		return nil, fmt.Errorf("the URL %s is not HTTPS and not loopback", req.URL.Redacted())
	}
	return t.Transport.RoundTrip(req)
}

// userAgentTransport stamps a User-Agent header on every request.
// GitHub's API rejects requests without one.
type userAgentTransport struct {
	transport http.RoundTripper
	userAgent string
}

// RoundTrip adds the User-Agent header and forwards the request.
func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	// Clone the request to avoid modifying the original.
	newReq := req.Clone(req.Context())
	newReq.Header.Set("User-Agent", t.userAgent)
	return t.transport.RoundTrip(newReq)
}

// HttpClientBuilder provides a fluent interface for building HTTP clients.
type HttpClientBuilder struct {
	clientTimeout         time.Duration
	tlsHandshakeTimeout   time.Duration
	responseHeaderTimeout time.Duration
	userAgent             string
}

// NewHttpClientBuilder returns a new HttpClientBuilder.
func NewHttpClientBuilder() *HttpClientBuilder {
	return &HttpClientBuilder{
		clientTimeout:         HttpTimeout,
		tlsHandshakeTimeout:   10 * time.Second,
		responseHeaderTimeout: 10 * time.Second,
	}
}

// WithTimeout sets the overall client timeout.
func (b *HttpClientBuilder) WithTimeout(timeout time.Duration) *HttpClientBuilder {
	b.clientTimeout = timeout
	return b
}

// WithUserAgent sets the User-Agent header for all requests.
func (b *HttpClientBuilder) WithUserAgent(userAgent string) *HttpClientBuilder {
	b.userAgent = userAgent
	return b
}

// Build creates the configured HTTP client.
func (b *HttpClientBuilder) Build() *http.Client {
	var transport http.RoundTripper = &ValidatingTransport{
		Transport: &http.Transport{
			TLSHandshakeTimeout:   b.tlsHandshakeTimeout,
			ResponseHeaderTimeout: b.responseHeaderTimeout,
		},
	}

	if b.userAgent != "" {
		transport = &userAgentTransport{
			transport: transport,
			userAgent: b.userAgent,
		}
	}

	return &http.Client{
		Transport: transport,
		Timeout:   b.clientTimeout,
	}
}
