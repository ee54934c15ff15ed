// SPDX-License-Identifier: MIT

// Package crypto holds the PKCE primitives used on both legs of the flow:
// the service generates its own verifier/challenge pair for the upstream
// authorization, and verifies relying-party challenges at the token endpoint.
package crypto

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"

	"golang.org/x/oauth2"
)

// PKCE challenge methods per RFC 7636. S256 is recommended; plain is accepted
// for clients that cannot hash.
const (
	PKCEChallengeMethodS256  = "S256"
	PKCEChallengeMethodPlain = "plain"
)

// GeneratePKCEVerifier generates a cryptographically random code_verifier
// per RFC 7636 Section 4.1: 43 characters from the base64url alphabet.
// It delegates to oauth2.GenerateVerifier, which panics on crypto/rand
// failure.
func GeneratePKCEVerifier() string {
	return oauth2.GenerateVerifier()
}

// ComputePKCEChallenge computes the S256 code_challenge for a code_verifier
// per RFC 7636 Section 4.2: BASE64URL(SHA256(code_verifier)).
func ComputePKCEChallenge(verifier string) string {
	return oauth2.S256ChallengeFromVerifier(verifier)
}

// VerifyPKCE checks a code_verifier against a recorded challenge under the
// recorded method, per RFC 7636 Section 4.6. An empty method means plain, as
// the RFC defaults it.
func VerifyPKCE(verifier, challenge, method string) error {
	var derived string
	switch method {
	case PKCEChallengeMethodS256:
		sum := sha256.Sum256([]byte(verifier))
		derived = base64.RawURLEncoding.EncodeToString(sum[:])
	case PKCEChallengeMethodPlain, "":
		derived = verifier
	default:
		return fmt.Errorf("unsupported code_challenge_method %q", method)
	}
	if subtle.ConstantTimeCompare([]byte(derived), []byte(challenge)) != 1 {
		return fmt.Errorf("code_verifier does not match the recorded challenge")
	}
	return nil
}
