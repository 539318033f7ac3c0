// Package seal wraps and unwraps stored payloads with authenticated
// encryption (AES-256-GCM).
//
// The blob backends persist the record set as a JSON document in shared
// object storage. When an encryption secret is configured, the document is
// sealed before upload and opened after download. A payload that fails to
// open (wrong key after rotation, or plaintext where a sealed envelope was
// expected) is reported with ErrDecryptionFailed so the caller can degrade
// to an empty set instead of hard-locking the service.
//
// A nil *Codec (no secret configured) is valid and means plaintext mode.
// This is an explicit, discoverable state: Disabled() reports it and backends
// log it at construction, so a missing key across deployments surfaces in
// logs rather than silently storing plaintext.
package seal

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"golang.org/x/crypto/sha3"
)

// Algorithm identifier stored in every envelope. Checked on open so a future
// algorithm change can coexist with old payloads.
const AlgAESGCM = "aes-256-gcm"

// KeySize is the required key length in bytes (AES-256).
const KeySize = 32

// NonceSize is the GCM nonce length in bytes.
const NonceSize = 12

// Sentinel errors.
var (
	// ErrDecryptionFailed is returned when an envelope cannot be opened:
	// authentication tag mismatch, malformed fields, or a payload that is
	// not a sealed envelope at all.
	ErrDecryptionFailed = errors.New("seal: decryption failed")

	// ErrInvalidKey is returned when a derived or supplied key is not
	// exactly KeySize bytes.
	ErrInvalidKey = errors.New("seal: invalid key")
)

// Envelope is the serialized form of a sealed payload. Data carries the
// ciphertext with the 16-byte GCM authentication tag appended, as produced
// by cipher.AEAD.Seal.
type Envelope struct {
	Alg   string `json:"alg"`
	Nonce []byte `json:"nonce"`
	Data  []byte `json:"data"`
}

// Codec seals and opens payloads under a fixed key.
type Codec struct {
	key []byte
}

// New creates a codec from a raw 32-byte key.
func New(key []byte) (*Codec, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: got %d bytes, want %d", ErrInvalidKey, len(key), KeySize)
	}
	k := make([]byte, KeySize)
	copy(k, key)
	return &Codec{key: k}, nil
}

// NewFromSecret creates a codec from a configured secret string using
// DeriveKey. An empty secret returns (nil, nil): plaintext mode.
func NewFromSecret(secret string) (*Codec, error) {
	if secret == "" {
		return nil, nil
	}
	return New(DeriveKey(secret))
}

// DeriveKey turns a configured secret into exactly KeySize bytes.
// A secret that decodes as base64 or hex to exactly 32 bytes is used
// directly; anything else is digested with SHA3-256.
func DeriveKey(secret string) []byte {
	if b, err := base64.StdEncoding.DecodeString(secret); err == nil && len(b) == KeySize {
		return b
	}
	if b, err := hex.DecodeString(secret); err == nil && len(b) == KeySize {
		return b
	}
	sum := sha3.Sum256([]byte(secret))
	return sum[:]
}

// Disabled reports whether the codec is in plaintext mode.
// Safe to call on a nil codec.
func (c *Codec) Disabled() bool {
	return c == nil
}

// Seal encrypts plaintext into an envelope with a fresh random nonce.
// On a nil codec, Seal must not be called; callers check Disabled() and
// write plaintext directly.
func (c *Codec) Seal(plaintext []byte) (*Envelope, error) {
	aead, err := c.aead()
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("seal: generate nonce: %w", err)
	}
	return &Envelope{
		Alg:   AlgAESGCM,
		Nonce: nonce,
		Data:  aead.Seal(nil, nonce, plaintext, nil),
	}, nil
}

// Open decrypts an envelope. Any verification or shape failure maps to
// ErrDecryptionFailed, never a panic or an unrelated parse error.
func (c *Codec) Open(env *Envelope) ([]byte, error) {
	if env == nil || env.Alg != AlgAESGCM || len(env.Nonce) != NonceSize {
		return nil, ErrDecryptionFailed
	}
	aead, err := c.aead()
	if err != nil {
		return nil, err
	}
	plaintext, err := aead.Open(nil, env.Nonce, env.Data, nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}

// SealJSON seals plaintext and returns the JSON-serialized envelope,
// the exact bytes the blob backends upload.
func (c *Codec) SealJSON(plaintext []byte) ([]byte, error) {
	env, err := c.Seal(plaintext)
	if err != nil {
		return nil, err
	}
	return json.Marshal(env)
}

// OpenJSON parses a serialized envelope and opens it. A payload that does
// not parse as an envelope is ErrDecryptionFailed: it usually means a
// plaintext document is sitting where a sealed one was expected.
func (c *Codec) OpenJSON(data []byte) ([]byte, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, ErrDecryptionFailed
	}
	return c.Open(&env)
}

func (c *Codec) aead() (cipher.AEAD, error) {
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return cipher.NewGCM(block)
}
