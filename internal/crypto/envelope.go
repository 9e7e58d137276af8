package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
)

// Envelope шифрует чувствительные поля (секреты агентов, конфиг-блобы)
// аутентифицированным шифром AES-256-GCM. Формат конверта: hex(nonce || ciphertext).
// GCM дает и конфиденциальность, и целостность — подмена конверта ловится на Open.
type Envelope struct {
	aead cipher.AEAD
}

// NewEnvelope принимает 32-байтовый ключ (64 hex-символа в конфиге).
func NewEnvelope(key []byte) (*Envelope, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("envelope: invalid key: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("envelope: gcm init: %w", err)
	}
	return &Envelope{aead: aead}, nil
}

// Encrypt упаковывает открытый текст в конверт.
func (e *Envelope) Encrypt(plain string) (string, error) {
	nonce := make([]byte, e.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("envelope: nonce generation: %w", err)
	}
	sealed := e.aead.Seal(nonce, nonce, []byte(plain), nil)
	return hex.EncodeToString(sealed), nil
}

// Decrypt разворачивает конверт. Ошибка — если конверт поврежден или ключ не тот.
func (e *Envelope) Decrypt(envelope string) (string, error) {
	raw, err := hex.DecodeString(envelope)
	if err != nil {
		return "", fmt.Errorf("envelope: not valid hex: %w", err)
	}
	ns := e.aead.NonceSize()
	if len(raw) < ns {
		return "", fmt.Errorf("envelope: ciphertext too short")
	}
	plain, err := e.aead.Open(nil, raw[:ns], raw[ns:], nil)
	if err != nil {
		return "", fmt.Errorf("envelope: decrypt failed: %w", err)
	}
	return string(plain), nil
}

// Result — ответ неблокирующего варианта.
type Result struct {
	Plain string
	Err   error
}

// DecryptAsync — неблокирующий вариант для вызовов из hot path.
// Канал буферизован: результат не потеряется, даже если читатель уже ушел.
func (e *Envelope) DecryptAsync(envelope string) <-chan Result {
	out := make(chan Result, 1)
	go func() {
		plain, err := e.Decrypt(envelope)
		out <- Result{Plain: plain, Err: err}
		close(out)
	}()
	return out
}
