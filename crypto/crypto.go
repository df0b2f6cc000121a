// Copyright (c) nano Authors. All Rights Reserved.
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

// Package crypto is the encryption boundary every outbound message crosses
// once: symmetric authenticated encryption keyed by a shared secret, plus a
// standalone integrity-hash utility.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

// deploymentSalt is fixed per deployment rather than per-session or per-peer.
// Documented hazard: every Handler sharing this binary derives keys from the
// same salt, so a leaked shared key compromises every session at once. A
// redesign should carry a salt per peer pair instead.
var deploymentSalt = []byte("agentmesh_salt")

const (
	pbkdf2Iterations = 100000
	keyLength        = 32
)

// Handler derives an AES-256-GCM key from a shared secret and uses it to
// encrypt and decrypt single messages. It does not stream; each call is a
// complete, independent AEAD operation.
type Handler struct {
	sharedKey string
	aead      cipher.AEAD
}

// NewHandler derives the AEAD key from sharedKey immediately. An empty
// sharedKey produces a Handler with no key set; Encrypt/Decrypt then fail.
func NewHandler(sharedKey string) *Handler {
	h := &Handler{}
	if sharedKey != "" {
		h.SetSharedKey(sharedKey)
	}
	return h
}

// SetSharedKey (re)derives the AEAD key for sharedKey.
func (h *Handler) SetSharedKey(sharedKey string) {
	h.sharedKey = sharedKey
	derived := pbkdf2.Key([]byte(sharedKey), deploymentSalt, pbkdf2Iterations, keyLength, sha256.New)
	block, err := aes.NewCipher(derived)
	if err != nil {
		// keyLength is fixed at 32, a valid AES key size; this cannot fail.
		panic(err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		panic(err)
	}
	h.aead = aead
}

// Encrypt returns (true, ciphertext) on success, or (false, error message)
// on failure, matching the source's boolean-tuple convention.
func (h *Handler) Encrypt(plaintext string) (bool, string) {
	if h.aead == nil {
		return false, "no encryption key set"
	}
	nonce := make([]byte, h.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return false, fmt.Sprintf("encryption failed: %v", err)
	}
	sealed := h.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return true, base64.URLEncoding.EncodeToString(sealed)
}

// Decrypt reverses Encrypt.
func (h *Handler) Decrypt(ciphertext string) (bool, string) {
	if h.aead == nil {
		return false, "no encryption key set"
	}
	raw, err := base64.URLEncoding.DecodeString(ciphertext)
	if err != nil {
		return false, fmt.Sprintf("decryption failed: %v", err)
	}
	nonceSize := h.aead.NonceSize()
	if len(raw) < nonceSize {
		return false, "decryption failed: ciphertext too short"
	}
	nonce, sealed := raw[:nonceSize], raw[nonceSize:]
	plaintext, err := h.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return false, fmt.Sprintf("decryption failed: %v", err)
	}
	return true, string(plaintext)
}

// MessageHash returns the hex-encoded SHA-256 digest of message, independent
// of any key.
func MessageHash(message string) string {
	sum := sha256.Sum256([]byte(message))
	return hex.EncodeToString(sum[:])
}

// VerifyMessageHash reports whether message hashes to expected.
func VerifyMessageHash(message, expected string) bool {
	return MessageHash(message) == expected
}

// SecureSessionKey derives a session-scoped key from the handler's shared
// key and sessionID. With no shared key set, it falls back to a random key.
func (h *Handler) SecureSessionKey(sessionID string) (string, error) {
	if h.sharedKey == "" {
		buf := make([]byte, keyLength)
		if _, err := rand.Read(buf); err != nil {
			return "", err
		}
		return base64.URLEncoding.EncodeToString(buf), nil
	}
	combined := h.sharedKey + ":" + sessionID
	sum := sha256.Sum256([]byte(combined))
	return hex.EncodeToString(sum[:]), nil
}
