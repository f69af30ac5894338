package crypto

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func newTestCipher(t *testing.T) *Cipher {
	t.Helper()
	key, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}
	c, err := NewCipher(key, nil)
	if err != nil {
		t.Fatalf("NewCipher failed: %v", err)
	}
	return c
}

// TestEncryptDecrypt проверяет базовый цикл шифрования/расшифровки
func TestEncryptDecrypt(t *testing.T) {
	c := newTestCipher(t)

	tests := []struct {
		name      string
		plaintext string
	}{
		{"empty string", ""},
		{"api secret", "2f1c0d9e8b7a6f5e4d3c2b1a0f9e8d7c"},
		{"unicode text", "Привет мир 你好世界"},
		{"special chars", "!@#$%^&*()_+-=[]{}|;':\",./<>?"},
		{"long text", strings.Repeat("a", 1000)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sealed, err := c.Encrypt(tt.plaintext)
			if err != nil {
				t.Fatalf("Encrypt failed: %v", err)
			}

			if len(sealed) != MinSealedSize+len(tt.plaintext) {
				t.Errorf("sealed length = %d, want %d", len(sealed), MinSealedSize+len(tt.plaintext))
			}

			decrypted, err := c.Decrypt(sealed)
			if err != nil {
				t.Fatalf("Decrypt failed: %v", err)
			}
			if decrypted != tt.plaintext {
				t.Errorf("Decrypted text mismatch: got %q, want %q", decrypted, tt.plaintext)
			}
		})
	}
}

// TestEncryptDifferentResults - каждый вызов использует новый IV
func TestEncryptDifferentResults(t *testing.T) {
	c := newTestCipher(t)

	sealed1, err := c.Encrypt("same text")
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	sealed2, err := c.Encrypt("same text")
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}

	if bytes.Equal(sealed1, sealed2) {
		t.Error("two encryptions of the same text should differ")
	}
	if bytes.Equal(sealed1[:IVSize], sealed2[:IVSize]) {
		t.Error("IV must be fresh for every encryption")
	}
}

// TestDecryptTampered - изменение любого бита должно ломать расшифровку
func TestDecryptTampered(t *testing.T) {
	c := newTestCipher(t)

	sealed, err := c.Encrypt("top secret value")
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}

	regions := []struct {
		name  string
		index int
	}{
		{"iv", 0},
		{"tag", IVSize + 3},
		{"ciphertext", MinSealedSize + 1},
		{"last byte", len(sealed) - 1},
	}

	for _, r := range regions {
		t.Run(r.name, func(t *testing.T) {
			tampered := make([]byte, len(sealed))
			copy(tampered, sealed)
			tampered[r.index] ^= 0x01

			_, err := c.Decrypt(tampered)
			if !errors.Is(err, ErrDecryptionFailed) {
				t.Errorf("expected ErrDecryptionFailed, got %v", err)
			}
		})
	}
}

// TestDecryptTooShort - ввод короче IV+Tag отклоняется
func TestDecryptTooShort(t *testing.T) {
	c := newTestCipher(t)

	for _, n := range []int{0, 1, IVSize, MinSealedSize - 1} {
		_, err := c.Decrypt(make([]byte, n))
		if !errors.Is(err, ErrDecryptionFailed) {
			t.Errorf("len=%d: expected ErrDecryptionFailed, got %v", n, err)
		}
	}
}

// TestDecryptWrongKey - чужой ключ не расшифровывает
func TestDecryptWrongKey(t *testing.T) {
	c1 := newTestCipher(t)
	c2 := newTestCipher(t)

	sealed, _ := c1.Encrypt("secret")
	if _, err := c2.Decrypt(sealed); !errors.Is(err, ErrDecryptionFailed) {
		t.Errorf("expected ErrDecryptionFailed, got %v", err)
	}
}

// TestDecryptKnownLayout проверяет порядок IV ‖ Tag ‖ Ciphertext
func TestDecryptKnownLayout(t *testing.T) {
	key := bytes.Repeat([]byte{0x11}, KeySize)
	c, err := NewCipher(key, nil)
	if err != nil {
		t.Fatalf("NewCipher failed: %v", err)
	}

	iv := bytes.Repeat([]byte{0x22}, IVSize)
	raw := c.aead.Seal(nil, iv, []byte("abc"), nil) // ct ‖ tag
	ct, tag := raw[:3], raw[3:]

	sealed := append(append(append([]byte{}, iv...), tag...), ct...)
	plain, err := c.Decrypt(sealed)
	if err != nil {
		t.Fatalf("Decrypt failed: %v", err)
	}
	if plain != "abc" {
		t.Errorf("got %q, want %q", plain, "abc")
	}
}

func TestParseKey(t *testing.T) {
	valid := strings.Repeat("ab", KeySize)

	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"valid", valid, false},
		{"valid with spaces", "  " + valid + "\n", false},
		{"too short", valid[:62], true},
		{"too long", valid + "00", true},
		{"not hex", strings.Repeat("zz", KeySize), true},
		{"empty", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key, err := ParseKey(tt.input)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidKeyEncoding) {
					t.Errorf("expected ErrInvalidKeyEncoding, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(key) != KeySize {
				t.Errorf("key length = %d, want %d", len(key), KeySize)
			}
		})
	}
}

func TestNewCipherInvalidKeyLength(t *testing.T) {
	for _, n := range []int{0, 16, 24, 31, 33} {
		if _, err := NewCipher(make([]byte, n), nil); !errors.Is(err, ErrInvalidKeyLength) {
			t.Errorf("len=%d: expected ErrInvalidKeyLength, got %v", n, err)
		}
	}
}

func TestHealthCheck(t *testing.T) {
	c := newTestCipher(t)
	if err := c.HealthCheck(); err != nil {
		t.Errorf("HealthCheck failed: %v", err)
	}
}

// BenchmarkEncrypt бенчмарк шифрования
func BenchmarkEncrypt(b *testing.B) {
	key, _ := GenerateKey()
	c, _ := NewCipher(key, nil)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = c.Encrypt("benchmark test api secret")
	}
}
