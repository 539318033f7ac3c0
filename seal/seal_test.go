package seal

import (
	"bytes"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"testing"
)

func testKey(t *testing.T) []byte {
	t.Helper()
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return key
}

func TestSealOpenRoundTrip(t *testing.T) {
	codec, err := New(testKey(t))
	if err != nil {
		t.Fatalf("new codec: %v", err)
	}

	plaintext := []byte(`[{"id":"1","email":"a@example.com"}]`)
	env, err := codec.Seal(plaintext)
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if env.Alg != AlgAESGCM {
		t.Errorf("alg = %q, want %q", env.Alg, AlgAESGCM)
	}
	if len(env.Nonce) != NonceSize {
		t.Errorf("nonce length = %d, want %d", len(env.Nonce), NonceSize)
	}
	if bytes.Contains(env.Data, []byte("example.com")) {
		t.Error("ciphertext contains plaintext")
	}

	got, err := codec.Open(env)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Errorf("round trip mismatch: got %q", got)
	}
}

func TestOpenWrongKey(t *testing.T) {
	codec, err := New(testKey(t))
	if err != nil {
		t.Fatalf("new codec: %v", err)
	}
	other, err := New(testKey(t))
	if err != nil {
		t.Fatalf("new codec: %v", err)
	}

	env, err := codec.Seal([]byte("secret payload"))
	if err != nil {
		t.Fatalf("seal: %v", err)
	}

	if _, err := other.Open(env); !errors.Is(err, ErrDecryptionFailed) {
		t.Errorf("open with wrong key: got %v, want ErrDecryptionFailed", err)
	}
}

func TestOpenMalformedEnvelope(t *testing.T) {
	codec, err := New(testKey(t))
	if err != nil {
		t.Fatalf("new codec: %v", err)
	}

	tests := []struct {
		name string
		env  *Envelope
	}{
		{"nil envelope", nil},
		{"wrong algorithm", &Envelope{Alg: "rot13", Nonce: make([]byte, NonceSize)}},
		{"short nonce", &Envelope{Alg: AlgAESGCM, Nonce: make([]byte, 4)}},
		{"empty data", &Envelope{Alg: AlgAESGCM, Nonce: make([]byte, NonceSize)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := codec.Open(tt.env); !errors.Is(err, ErrDecryptionFailed) {
				t.Errorf("got %v, want ErrDecryptionFailed", err)
			}
		})
	}
}

func TestOpenJSONPlaintextPayload(t *testing.T) {
	codec, err := New(testKey(t))
	if err != nil {
		t.Fatalf("new codec: %v", err)
	}

	// A plaintext record document where a sealed envelope was expected
	// must map to ErrDecryptionFailed, not a parse error.
	if _, err := codec.OpenJSON([]byte(`[{"email":"a@b.com"}]`)); !errors.Is(err, ErrDecryptionFailed) {
		t.Errorf("got %v, want ErrDecryptionFailed", err)
	}
	if _, err := codec.OpenJSON([]byte(`not json at all`)); !errors.Is(err, ErrDecryptionFailed) {
		t.Errorf("got %v, want ErrDecryptionFailed", err)
	}
}

func TestSealJSONRoundTrip(t *testing.T) {
	codec, err := New(testKey(t))
	if err != nil {
		t.Fatalf("new codec: %v", err)
	}

	plaintext := []byte(`{"records":[]}`)
	sealed, err := codec.SealJSON(plaintext)
	if err != nil {
		t.Fatalf("seal json: %v", err)
	}
	got, err := codec.OpenJSON(sealed)
	if err != nil {
		t.Fatalf("open json: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Errorf("round trip mismatch: got %q", got)
	}
}

func TestDeriveKey(t *testing.T) {
	raw := testKey(t)

	tests := []struct {
		name   string
		secret string
		want   []byte
	}{
		{"base64 32 bytes", base64.StdEncoding.EncodeToString(raw), raw},
		{"hex 32 bytes", hex.EncodeToString(raw), raw},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DeriveKey(tt.secret)
			if !bytes.Equal(got, tt.want) {
				t.Errorf("derived key mismatch")
			}
		})
	}

	t.Run("raw passphrase is digested", func(t *testing.T) {
		got := DeriveKey("correct horse battery staple")
		if len(got) != KeySize {
			t.Fatalf("key length = %d, want %d", len(got), KeySize)
		}
		// Deterministic: same secret, same key.
		if !bytes.Equal(got, DeriveKey("correct horse battery staple")) {
			t.Error("derivation is not deterministic")
		}
		if bytes.Equal(got, DeriveKey("a different passphrase")) {
			t.Error("different secrets derived the same key")
		}
	})
}

func TestNewFromSecret(t *testing.T) {
	codec, err := NewFromSecret("")
	if err != nil {
		t.Fatalf("empty secret: %v", err)
	}
	if !codec.Disabled() {
		t.Error("empty secret should yield a disabled (nil) codec")
	}

	codec, err = NewFromSecret("some-secret")
	if err != nil {
		t.Fatalf("new from secret: %v", err)
	}
	if codec.Disabled() {
		t.Error("non-empty secret should yield an enabled codec")
	}
}

func TestNewRejectsBadKeyLength(t *testing.T) {
	if _, err := New(make([]byte, 16)); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("got %v, want ErrInvalidKey", err)
	}
}
