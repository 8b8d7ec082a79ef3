// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package zippkg

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"crypto/subtle"
	"fmt"
	"hash/crc32"

	"golang.org/x/crypto/pbkdf2"
)

// EncryptionMethod represents the encryption algorithm used for file protection.
type EncryptionMethod uint16

// Supported encryption methods
const (
	NotEncrypted EncryptionMethod = 0 // No encryption - file stored in plaintext
	ZipCrypto    EncryptionMethod = 1 // Legacy encryption. Vulnerable to brute force attacks
	AES128       EncryptionMethod = 2 // WinZip AES with a 128-bit key
	AES192       EncryptionMethod = 3 // WinZip AES with a 192-bit key
	AES256       EncryptionMethod = 4 // WinZip AES with a 256-bit key
)

func (m EncryptionMethod) String() string {
	switch m {
	case NotEncrypted:
		return "none"
	case ZipCrypto:
		return "zipcrypto"
	case AES128:
		return "aes-128"
	case AES192:
		return "aes-192"
	case AES256:
		return "aes-256"
	}
	return fmt.Sprintf("encryption(%d)", uint16(m))
}

// IsAES reports whether m is one of the WinZip AES strengths.
func (m EncryptionMethod) IsAES() bool {
	_, ok := aesParams[m]
	return ok
}

const zipCryptoHeaderSize = 12

// decryptZipCrypto checks the 12-byte header against checkByte before
// decrypting the payload that follows it.
func decryptZipCrypto(data, password []byte, checkByte byte) ([]byte, error) {
	if len(data) < zipCryptoHeaderSize {
		return nil, fmt.Errorf("%w: encrypted data shorter than its %d-byte header", ErrFormat, zipCryptoHeaderSize)
	}
	z := newZipCipher(password)

	var header [zipCryptoHeaderSize]byte
	copy(header[:], data)
	z.Decrypt(header[:])
	if header[zipCryptoHeaderSize-1] != checkByte {
		return nil, ErrBadPassword
	}

	out := make([]byte, len(data)-zipCryptoHeaderSize)
	copy(out, data[zipCryptoHeaderSize:])
	z.Decrypt(out)
	return out, nil
}

// encryptZipCrypto prefixes plain with a random header ending in checkByte.
func encryptZipCrypto(plain, password []byte, checkByte byte) ([]byte, error) {
	out := make([]byte, zipCryptoHeaderSize+len(plain))
	if _, err := rand.Read(out[:zipCryptoHeaderSize-1]); err != nil {
		return nil, fmt.Errorf("crypto rand failed: %w", err)
	}
	out[zipCryptoHeaderSize-1] = checkByte
	copy(out[zipCryptoHeaderSize:], plain)

	newZipCipher(password).Encrypt(out)
	return out, nil
}

const cipherMagic = 134775813

// zipCipher implements the legacy ZipCrypto algorithm.
// A cipher is seeded for one entry and discarded afterwards.
type zipCipher struct {
	k0, k1, k2 uint32
}

func newZipCipher(password []byte) *zipCipher {
	z := &zipCipher{
		k0: 0x12345678,
		k1: 0x23456789,
		k2: 0x34567890,
	}
	for _, b := range password {
		z.updateKeys(b)
	}
	return z
}

func (z *zipCipher) updateKeys(b byte) {
	// Key0: crc32(key0, b)
	z.k0 = crc32.IEEETable[(z.k0^uint32(b))&0xff] ^ (z.k0 >> 8)

	// Key1: (key1 + (key0 & 0xff)) * 134775813 + 1
	z.k1 = (z.k1+(z.k0&0xff))*cipherMagic + 1

	// Key2: crc32(key2, key1 >> 24)
	z.k2 = crc32.IEEETable[(z.k2^(z.k1>>24))&0xff] ^ (z.k2 >> 8)
}

func (z *zipCipher) keystreamByte() byte {
	t := z.k2 | 2
	return byte((t * (t ^ 1)) >> 8)
}

// Encrypt feeds each plaintext byte into the key schedule after use.
func (z *zipCipher) Encrypt(buf []byte) {
	for i, b := range buf {
		buf[i] = b ^ z.keystreamByte()
		z.updateKeys(b)
	}
}

// Decrypt feeds each recovered plaintext byte into the key schedule.
func (z *zipCipher) Decrypt(buf []byte) {
	for i, c := range buf {
		b := c ^ z.keystreamByte()
		z.updateKeys(b)
		buf[i] = b
	}
}

// AES Constants
const (
	aesMacSize    = 10   // HMAC-SHA1 truncated to 10 bytes
	aesPvvSize    = 2    // Password Verification Value
	aesIterations = 1000 // PBKDF2 rounds fixed by the WinZip format
)

// aesParam describes one WinZip AES strength.
type aesParam struct {
	strength uint8 // value stored in the AES extra field
	keyLen   int
	saltLen  int
}

// aesParams and aesByStrength form the strength table in both directions.
var (
	aesParams = map[EncryptionMethod]aesParam{
		AES128: {strength: 1, keyLen: 16, saltLen: 8},
		AES192: {strength: 2, keyLen: 24, saltLen: 12},
		AES256: {strength: 3, keyLen: 32, saltLen: 16},
	}
	aesByStrength = func() map[uint8]EncryptionMethod {
		m := make(map[uint8]EncryptionMethod, len(aesParams))
		for method, p := range aesParams {
			m[p.strength] = method
		}
		return m
	}()
)

// aesMethodForStrength maps the extra-field strength byte to a method.
func aesMethodForStrength(strength uint8) (EncryptionMethod, error) {
	m, ok := aesByStrength[strength]
	if !ok {
		return NotEncrypted, fmt.Errorf("%w: aes strength %d", ErrUnsupportedEncryption, strength)
	}
	return m, nil
}

// aesKeys holds keys derived from the password.
type aesKeys struct {
	encKey []byte // AES encryption key
	macKey []byte // HMAC signing key
	pvv    []byte // Password verification value
}

// deriveAESKeys generates keys using PBKDF2-HMAC-SHA1 (RFC 2898).
func deriveAESKeys(password, salt []byte, keyLen int) aesKeys {
	dk := pbkdf2.Key(password, salt, aesIterations, 2*keyLen+aesPvvSize, sha1.New)
	return aesKeys{
		encKey: dk[:keyLen],
		macKey: dk[keyLen : 2*keyLen],
		pvv:    dk[2*keyLen:],
	}
}

// decryptAES unpacks [salt][pvv][ciphertext][mac]. The password and the
// authentication code are both verified before any byte is decrypted.
func decryptAES(data, password []byte, method EncryptionMethod) ([]byte, error) {
	p, ok := aesParams[method]
	if !ok {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedEncryption, method)
	}
	overhead := p.saltLen + aesPvvSize + aesMacSize
	if len(data) < overhead {
		return nil, fmt.Errorf("%w: aes payload of %d bytes is smaller than its %d-byte envelope",
			ErrFormat, len(data), overhead)
	}

	salt := data[:p.saltLen]
	pvv := data[p.saltLen : p.saltLen+aesPvvSize]
	body := data[p.saltLen+aesPvvSize : len(data)-aesMacSize]
	mac := data[len(data)-aesMacSize:]

	keys := deriveAESKeys(password, salt, p.keyLen)
	if subtle.ConstantTimeCompare(pvv, keys.pvv) != 1 {
		return nil, ErrBadPassword
	}

	h := hmac.New(sha1.New, keys.macKey)
	h.Write(body)
	if !hmac.Equal(h.Sum(nil)[:aesMacSize], mac) {
		return nil, ErrAuthentication
	}

	block, err := aes.NewCipher(keys.encKey)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(body))
	newWinZipCounter(block).XORKeyStream(out, body)
	return out, nil
}

// encryptAES produces the same envelope with a fresh random salt.
func encryptAES(plain, password []byte, method EncryptionMethod) ([]byte, error) {
	p, ok := aesParams[method]
	if !ok {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedEncryption, method)
	}
	salt := make([]byte, p.saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("aes rand: %w", err)
	}
	return sealAES(plain, password, method, salt)
}

// sealAES builds the envelope around a caller-chosen salt.
func sealAES(plain, password []byte, method EncryptionMethod, salt []byte) ([]byte, error) {
	p, ok := aesParams[method]
	if !ok {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedEncryption, method)
	}
	if len(salt) != p.saltLen {
		return nil, fmt.Errorf("%w: %v needs a %d-byte salt, got %d", ErrConfig, method, p.saltLen, len(salt))
	}

	out := make([]byte, p.saltLen+aesPvvSize+len(plain)+aesMacSize)
	copy(out, salt)

	keys := deriveAESKeys(password, salt, p.keyLen)
	copy(out[p.saltLen:], keys.pvv)

	block, err := aes.NewCipher(keys.encKey)
	if err != nil {
		return nil, err
	}
	body := out[p.saltLen+aesPvvSize : len(out)-aesMacSize]
	newWinZipCounter(block).XORKeyStream(body, plain)

	// WinZip AES: Encrypt-then-MAC (HMAC is computed on ciphertext)
	h := hmac.New(sha1.New, keys.macKey)
	h.Write(body)
	copy(out[len(out)-aesMacSize:], h.Sum(nil))
	return out, nil
}

// winZipCounter implements cipher.Stream for WinZip AES-CTR mode.
// Note: WinZip uses Little Endian increment for the 128-bit counter,
// whereas standard Go cipher.NewCTR uses Big Endian.
type winZipCounter struct {
	block   cipher.Block
	counter [aes.BlockSize]byte
	buffer  [aes.BlockSize]byte
	pos     int
}

var _ cipher.Stream = (*winZipCounter)(nil)

func newWinZipCounter(block cipher.Block) *winZipCounter {
	c := &winZipCounter{block: block}
	c.counter[0] = 1 // Initial counter value
	return c
}

func (c *winZipCounter) XORKeyStream(dst, src []byte) {
	for i := range src {
		if c.pos == 0 {
			c.block.Encrypt(c.buffer[:], c.counter[:])

			// Increment counter (Little Endian 128-bit)
			for j := range c.counter {
				c.counter[j]++
				if c.counter[j] != 0 {
					break
				}
			}
		}
		dst[i] = src[i] ^ c.buffer[c.pos]
		c.pos = (c.pos + 1) % aes.BlockSize
	}
}
