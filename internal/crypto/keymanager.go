// Package crypto protects follower signing keys at rest. Keys live in the
// database only in sealed form; the vault opens them just before a
// transaction is signed.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// pbkdf2Iterations is the OWASP-recommended minimum for HMAC-SHA256.
	pbkdf2Iterations = 480_000
	// saltLen is the random salt length in bytes.
	saltLen = 16
	// aesKeyLen is the derived AES-256 key length.
	aesKeyLen = 32
	// currentVersion is the sealed-key JSON schema version.
	currentVersion = 1
)

// sealedKeyJSON is the stored form of a sealed signing key.
type sealedKeyJSON struct {
	Version    int    `json:"version"`
	Salt       string `json:"salt"`       // base64 standard encoding
	Nonce      string `json:"nonce"`      // base64 standard encoding
	Ciphertext string `json:"ciphertext"` // base64 standard encoding
}

// Vault seals and opens follower signing keys with a single master
// password, using PBKDF2-HMAC-SHA256 key derivation and AES-256-GCM. Each
// sealed key carries its own random salt and nonce, so the same key sealed
// twice produces different blobs.
type Vault struct {
	password string
}

// NewVault creates a vault from the master password. An empty password is
// rejected here rather than at first use.
func NewVault(password string) (*Vault, error) {
	if password == "" {
		return nil, errors.New("crypto: vault password must not be empty")
	}
	return &Vault{password: password}, nil
}

// Seal encrypts a hex-encoded secp256k1 private key and returns a JSON blob
// suitable for a database column.
func (v *Vault) Seal(privateKeyHex string) (string, error) {
	keyHex := strings.TrimPrefix(privateKeyHex, "0x")
	keyBytes, err := hex.DecodeString(keyHex)
	if err != nil {
		return "", fmt.Errorf("crypto: invalid private key hex: %w", err)
	}
	if len(keyBytes) != 32 {
		return "", fmt.Errorf("crypto: expected 32-byte key, got %d bytes", len(keyBytes))
	}

	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("crypto: generating salt: %w", err)
	}

	gcm, err := v.cipherFor(salt)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("crypto: generating nonce: %w", err)
	}

	ciphertext := gcm.Seal(nil, nonce, keyBytes, nil)

	out, err := json.Marshal(sealedKeyJSON{
		Version:    currentVersion,
		Salt:       base64.StdEncoding.EncodeToString(salt),
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(ciphertext),
	})
	if err != nil {
		return "", fmt.Errorf("crypto: encoding sealed key: %w", err)
	}
	return string(out), nil
}

// Open decrypts a blob produced by Seal, returning the hex-encoded private
// key without 0x prefix.
func (v *Vault) Open(sealed string) (string, error) {
	var stored sealedKeyJSON
	if err := json.Unmarshal([]byte(sealed), &stored); err != nil {
		return "", fmt.Errorf("crypto: parsing sealed key: %w", err)
	}
	if stored.Version != currentVersion {
		return "", fmt.Errorf("crypto: unsupported sealed-key version %d", stored.Version)
	}

	salt, err := base64.StdEncoding.DecodeString(stored.Salt)
	if err != nil {
		return "", fmt.Errorf("crypto: decoding salt: %w", err)
	}
	nonce, err := base64.StdEncoding.DecodeString(stored.Nonce)
	if err != nil {
		return "", fmt.Errorf("crypto: decoding nonce: %w", err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(stored.Ciphertext)
	if err != nil {
		return "", fmt.Errorf("crypto: decoding ciphertext: %w", err)
	}

	gcm, err := v.cipherFor(salt)
	if err != nil {
		return "", err
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("crypto: opening sealed key (wrong password?): %w", err)
	}
	return hex.EncodeToString(plaintext), nil
}

// cipherFor derives the AES key for the given salt and builds the GCM mode.
func (v *Vault) cipherFor(salt []byte) (cipher.AEAD, error) {
	derivedKey := pbkdf2.Key([]byte(v.password), salt, pbkdf2Iterations, aesKeyLen, sha256.New)

	block, err := aes.NewCipher(derivedKey)
	if err != nil {
		return nil, fmt.Errorf("crypto: creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: creating GCM: %w", err)
	}
	return gcm, nil
}
