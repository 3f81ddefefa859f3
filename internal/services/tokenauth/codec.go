// Package tokenauth implements shared-token device authorization: the
// sealed access token, the grant ledger, and the owner approval flow.
package tokenauth

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base32"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrSealedTokenInvalid is returned when a sealed value cannot be
	// decoded or fails authentication under the current key.
	ErrSealedTokenInvalid = errors.New("sealed token invalid")
)

// SecretCodec seals shared access tokens for storage. Sealing is
// deterministic: the nonce is derived from the plaintext with HMAC, so
// the same token always seals to the same ciphertext and a presented
// token can be resolved by equality on the sealed form. The cost is
// that equal tokens produce equal ciphertexts, so the sealed form leaks
// equality at rest. Accepted: the lookup depends on it, and tokens carry
// enough random material that two accounts never share one.
type SecretCodec struct {
	aead   cipher.AEAD
	macKey []byte
}

// NewSecretCodec derives the encryption and nonce keys from the
// configured key material.
func NewSecretCodec(keyMaterial string) (*SecretCodec, error) {
	if keyMaterial == "" {
		return nil, fmt.Errorf("token seal key is empty")
	}

	encKey := deriveKey(keyMaterial, "seal-enc")
	macKey := deriveKey(keyMaterial, "seal-mac")

	block, err := aes.NewCipher(encKey)
	if err != nil {
		return nil, fmt.Errorf("failed to init cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to init GCM: %w", err)
	}

	return &SecretCodec{aead: aead, macKey: macKey}, nil
}

func deriveKey(material, label string) []byte {
	sum := sha256.Sum256([]byte(label + ":" + material))
	return sum[:]
}

// Seal encrypts a token for storage. Deterministic for a given key.
func (c *SecretCodec) Seal(token string) (string, error) {
	if token == "" {
		return "", fmt.Errorf("token is empty")
	}

	nonce := c.syntheticNonce(token)
	sealed := c.aead.Seal(nil, nonce, []byte(token), nil)

	out := make([]byte, 0, len(nonce)+len(sealed))
	out = append(out, nonce...)
	out = append(out, sealed...)
	return base64.RawURLEncoding.EncodeToString(out), nil
}

// Unseal decrypts a stored sealed token.
func (c *SecretCodec) Unseal(sealed string) (string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(sealed)
	if err != nil {
		return "", ErrSealedTokenInvalid
	}
	nonceSize := c.aead.NonceSize()
	if len(raw) <= nonceSize {
		return "", ErrSealedTokenInvalid
	}

	plain, err := c.aead.Open(nil, raw[:nonceSize], raw[nonceSize:], nil)
	if err != nil {
		return "", ErrSealedTokenInvalid
	}
	return string(plain), nil
}

// syntheticNonce derives the GCM nonce from the plaintext so sealing is
// repeatable. Nonce reuse across distinct plaintexts cannot occur
// because the nonce is a function of the plaintext itself.
func (c *SecretCodec) syntheticNonce(token string) []byte {
	mac := hmac.New(sha256.New, c.macKey)
	mac.Write([]byte(token))
	return mac.Sum(nil)[:c.aead.NonceSize()]
}

// NewAccessToken mints a fresh shared access token in grouped base32
// form, e.g. "7ZQK4-M3XP9-W2NRT-5FHJC". 100 bits of randomness.
func NewAccessToken() (string, error) {
	raw := make([]byte, 13)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("failed to read randomness: %w", err)
	}

	enc := base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(raw)
	enc = enc[:20]

	groups := make([]string, 0, 4)
	for i := 0; i < 20; i += 5 {
		groups = append(groups, enc[i:i+5])
	}
	return strings.Join(groups, "-"), nil
}
