package auth

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"strconv"
	"time"

	"golang.org/x/crypto/nacl/box"
)

// Envelope constants.
const (
	envelopeVersion = 0x01
	// FormatVersion is the password format tag the browser login uses.
	FormatVersion = 10
	passwordTag   = "#PWD_INSTAGRAM_BROWSER"
	gcmTagSize    = 16
)

// PublicKey is the upstream's published password-encryption key.
type PublicKey struct {
	ID  uint8
	Key [32]byte
}

// ParsePublicKey parses the key id and hex-encoded Curve25519 public key
// as published in response headers.
func ParsePublicKey(id, hexKey string) (PublicKey, error) {
	n, err := strconv.ParseUint(id, 10, 8)
	if err != nil {
		return PublicKey{}, fmt.Errorf("%w: key id %q", ErrInvalidPublicKey, id)
	}
	raw, err := hex.DecodeString(hexKey)
	if err != nil || len(raw) != 32 {
		return PublicKey{}, fmt.Errorf("%w: expected 32-byte hex key", ErrInvalidPublicKey)
	}
	pk := PublicKey{ID: uint8(n)}
	copy(pk.Key[:], raw)
	return pk, nil
}

// EncryptPassword packages password for submission:
//
//	#PWD_INSTAGRAM_BROWSER:10:<unix time>:<base64 envelope>
//
// The envelope is, in order: version byte 0x01, key id byte, little-endian
// uint16 sealed-key length, the AES key sealed to the public key, the
// 16-byte GCM tag, then the ciphertext. The password is encrypted with a
// fresh AES-256-GCM key, a zero nonce and the timestamp as additional
// data.
func EncryptPassword(password string, key PublicKey, now time.Time) (string, error) {
	return encryptPassword(rand.Reader, password, key, now)
}

func encryptPassword(rnd io.Reader, password string, key PublicKey, now time.Time) (string, error) {
	ts := strconv.FormatInt(now.Unix(), 10)

	aesKey := make([]byte, 32)
	if _, err := io.ReadFull(rnd, aesKey); err != nil {
		return "", fmt.Errorf("failed to generate key: %w", err)
	}

	block, err := aes.NewCipher(aesKey)
	if err != nil {
		return "", fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("failed to create GCM: %w", err)
	}
	// The key is single-use; the nonce is fixed at zero.
	nonce := make([]byte, gcm.NonceSize())
	sealed := gcm.Seal(nil, nonce, []byte(password), []byte(ts))
	ciphertext, tag := sealed[:len(sealed)-gcmTagSize], sealed[len(sealed)-gcmTagSize:]

	sealedKey, err := box.SealAnonymous(nil, aesKey, &key.Key, rnd)
	if err != nil {
		return "", fmt.Errorf("failed to seal key: %w", err)
	}

	env := make([]byte, 0, 4+len(sealedKey)+len(tag)+len(ciphertext))
	env = append(env, envelopeVersion, key.ID)
	env = binary.LittleEndian.AppendUint16(env, uint16(len(sealedKey)))
	env = append(env, sealedKey...)
	env = append(env, tag...)
	env = append(env, ciphertext...)

	return fmt.Sprintf("%s:%d:%s:%s", passwordTag, FormatVersion, ts, base64.StdEncoding.EncodeToString(env)), nil
}
