package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"io"
	"strings"

	"go.uber.org/zap"
)

// Ошибки шифрования
var (
	ErrInvalidKeyLength   = errors.New("encryption key must be exactly 32 bytes for AES-256")
	ErrInvalidKeyEncoding = errors.New("encryption key must be a 64-character hex string")
	ErrCiphertextTooShort = errors.New("ciphertext too short")
	ErrDecryptionFailed   = errors.New("decryption failed")
)

// Размеры частей зашифрованного секрета: IV(12) ‖ Tag(16) ‖ Ciphertext
const (
	KeySize       = 32
	IVSize        = 12
	TagSize       = 16
	MinSealedSize = IVSize + TagSize
)

// healthProbe - синтетическое значение для проверки ключа
const healthProbe = "firisync-cipher-health-probe"

// Cipher шифрует секреты бирж с использованием AES-256-GCM
//
// Формат результата: IV(12 байт) ‖ AuthTag(16 байт) ‖ Ciphertext.
// IV генерируется заново на каждый вызов Encrypt.
// Ключ и открытый текст никогда не попадают в лог - только длины.
type Cipher struct {
	aead   cipher.AEAD
	logger *zap.Logger
}

// ParseKey декодирует ключ из hex строки (64 символа → 32 байта)
func ParseKey(hexKey string) ([]byte, error) {
	hexKey = strings.TrimSpace(hexKey)
	if len(hexKey) != KeySize*2 {
		return nil, ErrInvalidKeyEncoding
	}
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, ErrInvalidKeyEncoding
	}
	return key, nil
}

// NewCipher создаёт шифратор из 32-байтного ключа
func NewCipher(key []byte, logger *zap.Logger) (*Cipher, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	// Явно фиксируем размеры IV и тега - формат хранения от них зависит
	aead, err := cipher.NewGCMWithNonceSize(block, IVSize)
	if err != nil {
		return nil, err
	}

	return &Cipher{aead: aead, logger: logger.Named("cipher")}, nil
}

// NewCipherFromHex - вспомогательный конструктор для ключа из конфигурации
func NewCipherFromHex(hexKey string, logger *zap.Logger) (*Cipher, error) {
	key, err := ParseKey(hexKey)
	if err != nil {
		return nil, err
	}
	return NewCipher(key, logger)
}

// Encrypt шифрует plaintext, возвращает IV ‖ Tag ‖ Ciphertext
func (c *Cipher) Encrypt(plaintext string) ([]byte, error) {
	iv := make([]byte, IVSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, err
	}

	// GCM возвращает ciphertext ‖ tag, переставляем тег перед шифротекстом
	sealed := c.aead.Seal(nil, iv, []byte(plaintext), nil)
	ctLen := len(sealed) - TagSize

	out := make([]byte, 0, IVSize+len(sealed))
	out = append(out, iv...)
	out = append(out, sealed[ctLen:]...)
	out = append(out, sealed[:ctLen]...)

	c.logger.Debug("secret encrypted", zap.Int("sealed_len", len(out)))
	return out, nil
}

// Decrypt расшифровывает IV ‖ Tag ‖ Ciphertext и проверяет тег
//
// Любая ошибка сводится к ErrDecryptionFailed: вызывающий не должен
// различать подмену тега и испорченный ввод.
func (c *Cipher) Decrypt(sealed []byte) (string, error) {
	if len(sealed) < MinSealedSize {
		c.logger.Warn("secret rejected", zap.Int("sealed_len", len(sealed)))
		return "", ErrDecryptionFailed
	}

	iv := sealed[:IVSize]
	tag := sealed[IVSize:MinSealedSize]
	ct := sealed[MinSealedSize:]

	buf := make([]byte, 0, len(ct)+TagSize)
	buf = append(buf, ct...)
	buf = append(buf, tag...)

	plaintext, err := c.aead.Open(nil, iv, buf, nil)
	if err != nil {
		c.logger.Warn("secret decryption failed", zap.Int("sealed_len", len(sealed)))
		return "", ErrDecryptionFailed
	}

	c.logger.Debug("secret decrypted", zap.Int("sealed_len", len(sealed)))
	return string(plaintext), nil
}

// HealthCheck прогоняет синтетическое значение через Encrypt/Decrypt
// Используется endpoint'ом мониторинга, не путём синхронизации
func (c *Cipher) HealthCheck() error {
	sealed, err := c.Encrypt(healthProbe)
	if err != nil {
		return err
	}
	plain, err := c.Decrypt(sealed)
	if err != nil {
		return err
	}
	if plain != healthProbe {
		return ErrDecryptionFailed
	}
	return nil
}

// GenerateKey генерирует криптографически стойкий случайный ключ (32 байта для AES-256)
func GenerateKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, err
	}
	return key, nil
}

// ValidateKey проверяет, что ключ имеет правильную длину
func ValidateKey(key []byte) error {
	if len(key) != KeySize {
		return ErrInvalidKeyLength
	}
	return nil
}
