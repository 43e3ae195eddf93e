// Package cryptox is the crypto facade (C1): derive_keys, encrypt, decrypt,
// exposed as opaque byte-to-byte operations. Nothing outside this package
// should know which KDF or AEAD is behind these calls.
package cryptox

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"secure-proxy-ws/internal/errs"
)

const KeySize = 32

// sendInfo/recvInfo domain-separate the two subkeys HKDF produces from the
// same (psk, salt) pair so send_key != recv_key even when both peers derive
// from identical inputs in opposite roles.
var (
	sendInfo = []byte("secure-proxy-ws send")
	recvInfo = []byte("secure-proxy-ws recv")
)

// DeriveKeys expands (psk, salt) into two domain-separated 32-byte AEAD keys.
// Deterministic: identical inputs always yield identical outputs.
func DeriveKeys(psk, salt []byte) (sendKey, recvKey []byte, err error) {
	sendKey = make([]byte, KeySize)
	if err = expand(psk, salt, sendInfo, sendKey); err != nil {
		return nil, nil, err
	}
	recvKey = make([]byte, KeySize)
	if err = expand(psk, salt, recvInfo, recvKey); err != nil {
		return nil, nil, err
	}
	return sendKey, recvKey, nil
}

func expand(psk, salt, info, out []byte) error {
	r := hkdf.New(sha256.New, psk, salt, info)
	_, err := io.ReadFull(r, out)
	return err
}

// Encrypt authenticates and encrypts plaintext under key. A fresh random
// nonce is generated per call and prepended to the returned ciphertext, so
// the AEAD tag covers both nonce and payload and identical plaintexts never
// produce identical ciphertexts.
func Encrypt(key, plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(nonce)+len(plaintext)+aead.Overhead())
	out = append(out, nonce...)
	out = aead.Seal(out, nonce, plaintext, nil)
	return out, nil
}

// Decrypt reverses Encrypt. A tampered ciphertext or wrong key returns a
// *errs.Error of kind CryptoAuthFailed.
func Decrypt(key, ciphertext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < aead.NonceSize() {
		return nil, errs.New(errs.KindCryptoAuthFailed, "ciphertext too short", nil)
	}
	nonce := ciphertext[:aead.NonceSize()]
	body := ciphertext[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, body, nil)
	if err != nil {
		return nil, errs.New(errs.KindCryptoAuthFailed, "authentication failed", err)
	}
	return plaintext, nil
}

// ConstantTimeEqual compares two byte slices without leaking timing
// information, used to check the server's HMAC("ok") reply.
func ConstantTimeEqual(a, b []byte) bool {
	return len(a) == len(b) && subtle.ConstantTimeCompare(a, b) == 1
}
