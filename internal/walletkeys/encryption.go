// Package walletkeys wraps mnemonics at rest and derives the signing key
// material the Escrow Provisioner and Escrow Lifecycle Service need,
// grounded on spec.md §6 ("Encryption at rest") and §9's note that key
// derivation is pure and synchronous.
package walletkeys

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"io"

	"github.com/go-errors/errors"
	"github.com/tyler-smith/go-bip39"
)

// envelope is the JSON shape serialized (then base64-encoded) at rest,
// per spec.md §6: base64(JSON({iv, tag, ciphertext})).
type envelope struct {
	IV         string `json:"iv"`
	Tag        string `json:"tag"`
	Ciphertext string `json:"ciphertext"`
}

// ErrDecryptionFailed is returned when the stored ciphertext fails to
// authenticate against the derived key.
var ErrDecryptionFailed = errors.New("walletkeys: decryption failed")

// deriveKey derives the AES-256 key from the process-wide secret via
// SHA-256, per spec.md §6.
func deriveKey(secret string) []byte {
	sum := sha256.Sum256([]byte(secret))
	return sum[:]
}

// Encrypt seals plaintext (a BIP-39 mnemonic) with AES-GCM under a key
// derived from secret, returning the base64(JSON(...)) envelope.
func Encrypt(secret, plaintext string) (string, error) {
	block, err := aes.NewCipher(deriveKey(secret))
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, 16)
	if err != nil {
		return "", err
	}

	iv := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", err
	}

	sealed := gcm.Seal(nil, iv, []byte(plaintext), nil)
	// The GCM tag is the trailing 16 bytes of the sealed output; split it
	// out so the envelope mirrors the original {iv, tag, ciphertext}
	// shape exactly.
	tagStart := len(sealed) - gcm.Overhead()
	ciphertext, tag := sealed[:tagStart], sealed[tagStart:]

	env := envelope{
		IV:         base64.StdEncoding.EncodeToString(iv),
		Tag:        base64.StdEncoding.EncodeToString(tag),
		Ciphertext: base64.StdEncoding.EncodeToString(ciphertext),
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// Decrypt reverses Encrypt, returning the original mnemonic.
func Decrypt(secret, encoded string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", errors.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return "", errors.Errorf("%w: %v", ErrDecryptionFailed, err)
	}

	iv, err := base64.StdEncoding.DecodeString(env.IV)
	if err != nil {
		return "", errors.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	tag, err := base64.StdEncoding.DecodeString(env.Tag)
	if err != nil {
		return "", errors.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(env.Ciphertext)
	if err != nil {
		return "", errors.Errorf("%w: %v", ErrDecryptionFailed, err)
	}

	block, err := aes.NewCipher(deriveKey(secret))
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, 16)
	if err != nil {
		return "", err
	}

	sealed := append(ciphertext, tag...)
	plaintext, err := gcm.Open(nil, iv, sealed, nil)
	if err != nil {
		return "", errors.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	return string(plaintext), nil
}

// NewMnemonic generates a fresh 12-word BIP-39 mnemonic, the escrow's own
// key per spec.md §4.2.
func NewMnemonic() (string, error) {
	entropy, err := bip39.NewEntropy(128)
	if err != nil {
		return "", err
	}
	return bip39.NewMnemonic(entropy)
}
