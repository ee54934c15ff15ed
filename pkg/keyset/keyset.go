// SPDX-License-Identifier: MIT

// Package keyset maintains the service's signing and encryption keys: an RSA
// RS256 key that signs every issued token and whose public half is served at
// the JWKS endpoint, and a 256-bit A256GCM key that seals upstream tokens
// into JWE claims. Keysets are either managed (generated on first run and
// persisted under the data directory) or supplied externally, and are
// replaced atomically on rotation.
package keyset

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-jose/go-jose/v4"
)

const (
	// SigningAlgorithm is the JWS algorithm for all issued tokens.
	SigningAlgorithm = jose.RS256

	// EncryptionAlgorithm is the JWE content encryption for sealed claims.
	EncryptionAlgorithm = jose.A256GCM

	// rsaKeyBits is the modulus size for generated signing keys.
	rsaKeyBits = 2048

	// encKeyBytes is the size of the symmetric encryption key.
	encKeyBytes = 32
)

// ErrNoKeyset is returned when an operation needs a keyset before one loaded.
var ErrNoKeyset = errors.New("no keyset loaded")

// Keyset is one generation of key material: exactly one RSA signing key and
// one symmetric encryption key. A Keyset is immutable once built; rotation
// replaces the whole value.
type Keyset struct {
	// Signing is the RSA private key (kty=RSA, use=sig, alg=RS256).
	Signing jose.JSONWebKey

	// Encryption is the symmetric key (kty=oct, use=enc, alg=A256GCM).
	Encryption jose.JSONWebKey
}

// Generate creates a fresh keyset. Key IDs are the RFC 7638 thumbprints,
// base64url-encoded.
func Generate() (*Keyset, error) {
	rsaKey, err := rsa.GenerateKey(rand.Reader, rsaKeyBits)
	if err != nil {
		return nil, fmt.Errorf("failed to generate signing key: %w", err)
	}
	signing := jose.JSONWebKey{
		Key:       rsaKey,
		Algorithm: string(SigningAlgorithm),
		Use:       "sig",
	}
	if signing.KeyID, err = thumbprintKeyID(signing); err != nil {
		return nil, err
	}

	encKey := make([]byte, encKeyBytes)
	if _, err := rand.Read(encKey); err != nil {
		return nil, fmt.Errorf("failed to generate encryption key: %w", err)
	}
	encryption := jose.JSONWebKey{
		Key:       encKey,
		Algorithm: string(EncryptionAlgorithm),
		Use:       "enc",
	}
	if encryption.KeyID, err = thumbprintKeyID(encryption); err != nil {
		return nil, err
	}

	return &Keyset{Signing: signing, Encryption: encryption}, nil
}

// Parse reads a JWK Set JSON document into a validated Keyset.
func Parse(data []byte) (*Keyset, error) {
	var set jose.JSONWebKeySet
	if err := json.Unmarshal(data, &set); err != nil {
		return nil, fmt.Errorf("keyset is not valid JWK Set JSON: %w", err)
	}

	ks := &Keyset{}
	for _, key := range set.Keys {
		switch key.Use {
		case "sig":
			if ks.Signing.Key != nil {
				return nil, errors.New("keyset must contain exactly one use=sig key")
			}
			ks.Signing = key
		case "enc":
			if ks.Encryption.Key != nil {
				return nil, errors.New("keyset must contain exactly one use=enc key")
			}
			ks.Encryption = key
		default:
			return nil, fmt.Errorf("keyset contains a key with unsupported use %q", key.Use)
		}
	}

	if err := ks.Validate(); err != nil {
		return nil, err
	}
	return ks, nil
}

// Validate enforces the shape an externally supplied keyset must have:
// one private RSA RS256 signing key and one 32-byte oct A256GCM encryption
// key, each carrying a non-empty kid.
func (ks *Keyset) Validate() error {
	sig := ks.Signing
	if sig.Key == nil {
		return errors.New("keyset is missing its use=sig key")
	}
	if sig.Algorithm != string(SigningAlgorithm) {
		return fmt.Errorf("signing key must have alg=%s, got %q", SigningAlgorithm, sig.Algorithm)
	}
	if _, ok := sig.Key.(*rsa.PrivateKey); !ok {
		return errors.New("signing key must be a private RSA key")
	}
	if sig.KeyID == "" {
		return errors.New("signing key must have a non-empty kid")
	}

	enc := ks.Encryption
	if enc.Key == nil {
		return errors.New("keyset is missing its use=enc key")
	}
	if enc.Algorithm != string(EncryptionAlgorithm) {
		return fmt.Errorf("encryption key must have alg=%s, got %q", EncryptionAlgorithm, enc.Algorithm)
	}
	raw, ok := enc.Key.([]byte)
	if !ok {
		return errors.New("encryption key must be a symmetric (oct) key")
	}
	if len(raw) != encKeyBytes {
		return fmt.Errorf("encryption key must be %d bytes, got %d", encKeyBytes, len(raw))
	}
	if enc.KeyID == "" {
		return errors.New("encryption key must have a non-empty kid")
	}

	return nil
}

// JSON serializes the full keyset, private material included, as an
// indented JWK Set document. This is the format keygen prints and the
// managed keyset file stores.
func (ks *Keyset) JSON() ([]byte, error) {
	set := jose.JSONWebKeySet{Keys: []jose.JSONWebKey{ks.Signing, ks.Encryption}}
	return json.MarshalIndent(set, "", "  ")
}

// PublicJWKS returns the key set served at /.well-known/jwks.json: the
// public parameters of the signing key and nothing else.
func (ks *Keyset) PublicJWKS() jose.JSONWebKeySet {
	return jose.JSONWebKeySet{Keys: []jose.JSONWebKey{ks.Signing.Public()}}
}

// Sign produces a compact JWS over payload with the signing key. The kid
// header identifies the key for later verification.
func (ks *Keyset) Sign(payload []byte) (string, error) {
	signer, err := jose.NewSigner(
		jose.SigningKey{Algorithm: SigningAlgorithm, Key: ks.Signing},
		(&jose.SignerOptions{}).WithType("JWT"),
	)
	if err != nil {
		return "", fmt.Errorf("failed to construct signer: %w", err)
	}
	jws, err := signer.Sign(payload)
	if err != nil {
		return "", fmt.Errorf("failed to sign payload: %w", err)
	}
	return jws.CompactSerialize()
}

// Verify checks a compact JWS against the signing key and returns its
// payload. It is the low-level primitive; bearer-token verification with
// claim checks lives in the tokens package.
func (ks *Keyset) Verify(raw string) ([]byte, error) {
	jws, err := jose.ParseSigned(raw, []jose.SignatureAlgorithm{SigningAlgorithm})
	if err != nil {
		return nil, fmt.Errorf("malformed JWS: %w", err)
	}
	payload, err := jws.Verify(ks.Signing.Public())
	if err != nil {
		return nil, fmt.Errorf("signature verification failed: %w", err)
	}
	return payload, nil
}

// Encrypt seals plaintext into a compact JWE under the encryption key
// (dir + A256GCM).
func (ks *Keyset) Encrypt(plaintext []byte) (string, error) {
	encrypter, err := jose.NewEncrypter(
		EncryptionAlgorithm,
		jose.Recipient{Algorithm: jose.DIRECT, Key: ks.Encryption},
		nil,
	)
	if err != nil {
		return "", fmt.Errorf("failed to construct encrypter: %w", err)
	}
	jwe, err := encrypter.Encrypt(plaintext)
	if err != nil {
		return "", fmt.Errorf("failed to encrypt payload: %w", err)
	}
	return jwe.CompactSerialize()
}

// Decrypt opens a compact JWE produced by Encrypt.
func (ks *Keyset) Decrypt(raw string) ([]byte, error) {
	jwe, err := jose.ParseEncrypted(raw,
		[]jose.KeyAlgorithm{jose.DIRECT},
		[]jose.ContentEncryption{EncryptionAlgorithm},
	)
	if err != nil {
		return nil, fmt.Errorf("malformed JWE: %w", err)
	}
	plaintext, err := jwe.Decrypt(ks.Encryption)
	if err != nil {
		return nil, fmt.Errorf("decryption failed: %w", err)
	}
	return plaintext, nil
}

// VerificationKey returns the public signing key when kid names it. Token
// verification resolves the kid header through this.
func (ks *Keyset) VerificationKey(kid string) (*rsa.PublicKey, error) {
	if kid == "" || kid != ks.Signing.KeyID {
		return nil, fmt.Errorf("unknown signing key %q", kid)
	}
	priv, ok := ks.Signing.Key.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("signing key is not RSA")
	}
	return &priv.PublicKey, nil
}

func thumbprintKeyID(key jose.JSONWebKey) (string, error) {
	tp, err := key.Thumbprint(crypto.SHA256)
	if err != nil {
		return "", fmt.Errorf("failed to compute key thumbprint: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(tp), nil
}
