// Package pgcrypto implements the symmetric crypto component (C6): six
// AES modes, buffer and file encrypt/decrypt, and the legacy
// password-to-key derivation needed to stay compatible with existing
// persisted user files.
package pgcrypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha1"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pgvictoria/pgvictoria/pgerr"
)

// Mode names one of the six supported ciphers.
type Mode int

const (
	AES128CBC Mode = iota
	AES192CBC
	AES256CBC
	AES128CTR
	AES192CTR
	AES256CTR
)

func (m Mode) keyLen() int {
	switch m {
	case AES128CBC, AES128CTR:
		return 16
	case AES192CBC, AES192CTR:
		return 24
	default:
		return 32
	}
}

func (m Mode) isCTR() bool {
	return m == AES128CTR || m == AES192CTR || m == AES256CTR
}

const ivLen = aes.BlockSize

// fileChunkSize is the read/write chunk size used by the file API,
// matching the source's 1 MiB buffer.
const fileChunkSize = 1024 * 1024

// fileMode is the fixed cipher used by the file API regardless of the
// mode requested for buffer operations — a file format compatibility
// constraint, not a default.
const fileMode = AES256CBC

// deriveKeyIV reproduces EVP_BytesToKey(cipher, SHA-1, salt=nil, count=1):
// repeatedly hash the previous digest concatenated with the password,
// concatenating digests until there are enough bytes for the key and
// IV. This is not a KDF suitable for cold-storage passwords — it exists
// only so this engine can decrypt files written by the legacy tool that
// used OpenSSL's EVP_BytesToKey the same way. Do not substitute a modern
// KDF; that would silently break compatibility with existing user files.
func deriveKeyIV(password string, mode Mode) (key, iv []byte) {
	need := mode.keyLen() + ivLen
	var out []byte
	var prev []byte
	for len(out) < need {
		h := sha1.New()
		h.Write(prev)
		h.Write([]byte(password))
		prev = h.Sum(nil)
		out = append(out, prev...)
	}
	return out[:mode.keyLen()], out[mode.keyLen() : mode.keyLen()+ivLen]
}

func newStream(key, iv []byte, mode Mode, encrypt bool) (cipher.BlockMode, cipher.Stream, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, nil, err
	}
	if mode.isCTR() {
		return nil, cipher.NewCTR(block, iv), nil
	}
	if encrypt {
		return cipher.NewCBCEncrypter(block, iv), nil, nil
	}
	return cipher.NewCBCDecrypter(block, iv), nil, nil
}

// EncryptBuffer encrypts plain with password under mode. CBC modes pad
// to the cipher's block size; CTR modes need no padding. The returned
// buffer holds only the ciphertext, sized input+blocksize at most, not
// input+blocksize exactly, mirroring the source's allocation headroom
// without exposing the unused tail.
func EncryptBuffer(plain []byte, password string, mode Mode) ([]byte, error) {
	key, iv := deriveKeyIV(password, mode)

	if mode.isCTR() {
		_, stream, err := newStream(key, iv, mode, true)
		if err != nil {
			return nil, pgerr.CryptoError("init cipher: %v", err)
		}
		out := make([]byte, len(plain))
		stream.XORKeyStream(out, plain)
		return out, nil
	}

	padded := pkcs7Pad(plain, aes.BlockSize)
	blockMode, _, err := newStream(key, iv, mode, true)
	if err != nil {
		return nil, pgerr.CryptoError("init cipher: %v", err)
	}
	out := make([]byte, len(padded))
	blockMode.CryptBlocks(out, padded)
	return out, nil
}

// DecryptBuffer decrypts cipher with password under mode. The returned
// slice ends with one NUL byte appended after the plaintext (counted in
// its length) so callers may treat it as a C-style string, matching the
// legacy buffer API.
func DecryptBuffer(ciphertext []byte, password string, mode Mode) ([]byte, error) {
	key, iv := deriveKeyIV(password, mode)

	var plain []byte
	if mode.isCTR() {
		_, stream, err := newStream(key, iv, mode, false)
		if err != nil {
			return nil, pgerr.CryptoError("init cipher: %v", err)
		}
		plain = make([]byte, len(ciphertext))
		stream.XORKeyStream(plain, ciphertext)
	} else {
		if len(ciphertext)%aes.BlockSize != 0 {
			return nil, pgerr.CryptoError("ciphertext is not a multiple of the block size")
		}
		blockMode, _, err := newStream(key, iv, mode, false)
		if err != nil {
			return nil, pgerr.CryptoError("init cipher: %v", err)
		}
		padded := make([]byte, len(ciphertext))
		blockMode.CryptBlocks(padded, ciphertext)
		unpadded, err := pkcs7Unpad(padded)
		if err != nil {
			return nil, pgerr.CryptoError("unpad plaintext: %v", err)
		}
		plain = unpadded
	}

	return append(plain, 0), nil
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padLen := blockSize - len(data)%blockSize
	padded := make([]byte, len(data)+padLen)
	copy(padded, data)
	for i := len(data); i < len(padded); i++ {
		padded[i] = byte(padLen)
	}
	return padded
}

func pkcs7Unpad(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty buffer")
	}
	padLen := int(data[len(data)-1])
	if padLen == 0 || padLen > len(data) || padLen > aes.BlockSize {
		return nil, fmt.Errorf("invalid padding")
	}
	return data[:len(data)-padLen], nil
}

// EncryptFile encrypts from into to in fileChunkSize chunks using the
// fixed file-format cipher, deleting the source on success. If to is
// empty, the destination is from with a ".aes" suffix appended.
func EncryptFile(from, to, masterKey string) (string, error) {
	if to == "" {
		to = from + ".aes"
	}
	if err := streamFile(from, to, masterKey, true); err != nil {
		return "", err
	}
	os.Remove(from)
	return to, nil
}

// DecryptFile decrypts from into to, deleting the source on success. If
// to is empty, the destination strips one trailing extension from from.
func DecryptFile(from, to, masterKey string) (string, error) {
	if to == "" {
		ext := filepath.Ext(from)
		to = strings.TrimSuffix(from, ext)
	}
	if err := streamFile(from, to, masterKey, false); err != nil {
		return "", err
	}
	os.Remove(from)
	return to, nil
}

func streamFile(from, to, masterKey string, encrypt bool) error {
	key, iv := deriveKeyIV(masterKey, fileMode)
	blockMode, _, err := newStream(key, iv, fileMode, encrypt)
	if err != nil {
		return pgerr.CryptoError("init cipher: %v", err)
	}

	in, err := os.Open(from)
	if err != nil {
		return pgerr.TransportError("open %s: %v", from, err)
	}
	defer in.Close()

	out, err := os.Create(to)
	if err != nil {
		return pgerr.TransportError("create %s: %v", to, err)
	}
	defer out.Close()

	buf := make([]byte, fileChunkSize)
	var carry []byte
	for {
		n, readErr := in.Read(buf)
		if n > 0 {
			chunk := append(carry, buf[:n]...)
			whole := len(chunk) - len(chunk)%aes.BlockSize
			// decrypting must never process what might be the final
			// block before EOF is confirmed, since only the true final
			// block carries padding to strip
			if !encrypt && whole == len(chunk) && whole > 0 {
				whole -= aes.BlockSize
			}
			if whole > 0 {
				encoded := make([]byte, whole)
				blockMode.CryptBlocks(encoded, chunk[:whole])
				if _, err := out.Write(encoded); err != nil {
					return pgerr.CryptoError("write chunk: %v", err)
				}
			}
			carry = append([]byte{}, chunk[whole:]...)
		}
		if readErr != nil {
			if !errors.Is(readErr, io.EOF) {
				return pgerr.CryptoError("read %s: %v", from, readErr)
			}
			break
		}
	}

	if encrypt {
		final := pkcs7Pad(carry, aes.BlockSize)
		encoded := make([]byte, len(final))
		blockMode.CryptBlocks(encoded, final)
		if _, err := out.Write(encoded); err != nil {
			return pgerr.CryptoError("write final block: %v", err)
		}
	} else {
		if len(carry)%aes.BlockSize != 0 {
			return pgerr.CryptoError("ciphertext is not a multiple of the block size")
		}
		decoded := make([]byte, len(carry))
		blockMode.CryptBlocks(decoded, carry)
		unpadded, err := pkcs7Unpad(decoded)
		if err != nil {
			return pgerr.CryptoError("unpad final block: %v", err)
		}
		if _, err := out.Write(unpadded); err != nil {
			return pgerr.CryptoError("write final block: %v", err)
		}
	}

	return nil
}
