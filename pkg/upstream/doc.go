// SPDX-License-Identifier: MIT

// Package upstream adapts the OAuth2 providers Takagi and Snowflake sit in
// front of. A Provider knows how to build an authorization URL, redeem and
// refresh codes and tokens, fetch a normalized identity snapshot, and revoke
// tokens. The service itself holds no upstream credentials: relying parties
// authenticate with their own GitHub or Discord application credentials,
// which pass through to the upstream token endpoint on every exchange.
package upstream
