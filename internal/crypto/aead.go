// Package crypto implements the optional per-block compression and
// authenticated encryption layered onto RES_FILE payloads: zlib compression
// followed by scrypt-derived AES-GCM encryption, in that order on the
// sender and reversed on the receiver.
package crypto

import (
	"bytes"
	"compress/zlib"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"io"

	"golang.org/x/crypto/scrypt"
)

const (
	saltSize  = 16
	nonceSize = 12
	keySize   = 32

	scryptN = 1 << 14
	scryptR = 8
	scryptP = 1
)

// ErrDecrypt is returned on any AEAD tag mismatch or malformed sealed
// record. The source's policy is: abort the transfer, log, do not retry.
var ErrDecrypt = errors.New("crypto: decryption failed")

// Sealed is the on-wire record for an encrypted block: {salt, nonce,
// ciphertext, tag}. The GCM tag is appended to ciphertext by Seal, matching
// how crypto/cipher.AEAD normally returns it.
type Sealed struct {
	Salt       [saltSize]byte
	Nonce      [nonceSize]byte
	Ciphertext []byte // includes the trailing GCM tag
}

// deriveKey runs scrypt(psk, salt, N=2^14, r=8, p=1, dkLen=32).
func deriveKey(psk, salt []byte) ([]byte, error) {
	return scrypt.Key(psk, salt, scryptN, scryptR, scryptP, keySize)
}

// Encrypt derives a fresh key from psk and a random salt, then seals
// plaintext under AES-GCM with a fresh random nonce.
func Encrypt(psk, plaintext []byte) (Sealed, error) {
	var s Sealed
	if _, err := rand.Read(s.Salt[:]); err != nil {
		return Sealed{}, err
	}
	if _, err := rand.Read(s.Nonce[:]); err != nil {
		return Sealed{}, err
	}

	key, err := deriveKey(psk, s.Salt[:])
	if err != nil {
		return Sealed{}, err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return Sealed{}, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return Sealed{}, err
	}

	s.Ciphertext = gcm.Seal(nil, s.Nonce[:], plaintext, nil)
	return s, nil
}

// Decrypt reverses Encrypt. Any tampering with salt, nonce or ciphertext
// (which carries the tag) causes it to fail with ErrDecrypt.
func Decrypt(psk []byte, s Sealed) ([]byte, error) {
	key, err := deriveKey(psk, s.Salt[:])
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	plaintext, err := gcm.Open(nil, s.Nonce[:], s.Ciphertext, nil)
	if err != nil {
		return nil, ErrDecrypt
	}
	return plaintext, nil
}

// EncodeSealed serializes a Sealed record for the wire: salt || nonce ||
// ciphertext (ciphertext length is implicit — it runs to the end of the
// RES_FILE payload).
func EncodeSealed(s Sealed) []byte {
	out := make([]byte, 0, saltSize+nonceSize+len(s.Ciphertext))
	out = append(out, s.Salt[:]...)
	out = append(out, s.Nonce[:]...)
	out = append(out, s.Ciphertext...)
	return out
}

// DecodeSealed parses a payload produced by EncodeSealed.
func DecodeSealed(payload []byte) (Sealed, error) {
	if len(payload) < saltSize+nonceSize {
		return Sealed{}, ErrDecrypt
	}
	var s Sealed
	copy(s.Salt[:], payload[:saltSize])
	copy(s.Nonce[:], payload[saltSize:saltSize+nonceSize])
	s.Ciphertext = payload[saltSize+nonceSize:]
	return s, nil
}

// Compress zlib-compresses raw bytes.
func Compress(raw []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	if _, err := w.Write(raw); err != nil {
		w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decompress reverses Compress.
func Decompress(compressed []byte) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}
