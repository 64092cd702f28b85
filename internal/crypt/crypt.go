// Package crypt decrypts tenant secrets stored as AES-256-CBC envelopes,
// tolerating key rotation by trying each configured key in order.
package crypt

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
)

const keySize = 32 // AES-256

var (
	// ErrMalformedEnvelope means the payload could not be decoded into a
	// well-formed {iv, value} envelope satisfying the cipher's block
	// constraints.
	ErrMalformedEnvelope = errors.New("crypt: malformed envelope")
	// ErrDecryptionFailed means no configured key produced padding-valid
	// plaintext.
	ErrDecryptionFailed = errors.New("crypt: could not decrypt the data")
	// ErrPayloadNotStructured means decryption succeeded but the plaintext
	// is not the structured document the caller asked for.
	ErrPayloadNotStructured = errors.New("crypt: decrypted payload is not structured")
)

// envelope is the encrypted-at-rest representation: both fields are base64
// inside a base64-encoded JSON document.
type envelope struct {
	IV    string `json:"iv"`
	Value string `json:"value"`
}

// Decryptor holds the ordered ring of candidate keys. The current key should
// be first so rotation only costs extra cipher runs for payloads sealed with
// an older key.
type Decryptor struct {
	keys [][]byte
}

// NewDecryptor validates the key ring and returns a Decryptor. Every key must
// be exactly 32 bytes.
func NewDecryptor(keys [][]byte) (*Decryptor, error) {
	if len(keys) == 0 {
		return nil, errors.New("crypt: at least one key is required")
	}
	for i, k := range keys {
		if len(k) != keySize {
			return nil, fmt.Errorf("crypt: key %d has length %d, want %d", i, len(k), keySize)
		}
	}
	return &Decryptor{keys: keys}, nil
}

// Decrypt opens the envelope and tries each key in order, returning the
// plaintext from the first key that yields padding-valid output. It never
// returns partially decrypted data.
func (d *Decryptor) Decrypt(payload string) (string, error) {
	env, err := decodeEnvelope(payload)
	if err != nil {
		return "", err
	}
	for _, key := range d.keys {
		plain, ok := tryKey(key, env.iv, env.value)
		if ok {
			return string(plain), nil
		}
	}
	return "", ErrDecryptionFailed
}

// DecryptJSON decrypts the payload and unmarshals the plaintext into out.
// A parse failure after successful decryption is reported as
// ErrPayloadNotStructured so callers can tell "wrong key" from "wrong shape".
func (d *Decryptor) DecryptJSON(payload string, out any) error {
	plain, err := d.Decrypt(payload)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(plain), out); err != nil {
		return fmt.Errorf("%w: %v", ErrPayloadNotStructured, err)
	}
	return nil
}

type decodedEnvelope struct {
	iv    []byte
	value []byte
}

func decodeEnvelope(payload string) (decodedEnvelope, error) {
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return decodedEnvelope{}, fmt.Errorf("%w: payload is not base64", ErrMalformedEnvelope)
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return decodedEnvelope{}, fmt.Errorf("%w: payload is not an envelope document", ErrMalformedEnvelope)
	}
	iv, err := base64.StdEncoding.DecodeString(env.IV)
	if err != nil {
		return decodedEnvelope{}, fmt.Errorf("%w: iv is not base64", ErrMalformedEnvelope)
	}
	value, err := base64.StdEncoding.DecodeString(env.Value)
	if err != nil {
		return decodedEnvelope{}, fmt.Errorf("%w: value is not base64", ErrMalformedEnvelope)
	}
	if len(iv) != aes.BlockSize {
		return decodedEnvelope{}, fmt.Errorf("%w: iv length %d, want %d", ErrMalformedEnvelope, len(iv), aes.BlockSize)
	}
	if len(value) == 0 || len(value)%aes.BlockSize != 0 {
		return decodedEnvelope{}, fmt.Errorf("%w: ciphertext length %d is not a positive multiple of the block size", ErrMalformedEnvelope, len(value))
	}
	return decodedEnvelope{iv: iv, value: value}, nil
}

// tryKey runs one CBC decryption and strips PKCS#7 padding. A wrong key is
// detected by invalid padding; the garbage intermediate buffer is discarded.
func tryKey(key, iv, value []byte) ([]byte, bool) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, false
	}
	buf := make([]byte, len(value))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(buf, value)
	return stripPKCS7(buf)
}

func stripPKCS7(buf []byte) ([]byte, bool) {
	if len(buf) == 0 {
		return nil, false
	}
	pad := int(buf[len(buf)-1])
	if pad == 0 || pad > aes.BlockSize || pad > len(buf) {
		return nil, false
	}
	for _, b := range buf[len(buf)-pad:] {
		if int(b) != pad {
			return nil, false
		}
	}
	return buf[:len(buf)-pad], true
}
