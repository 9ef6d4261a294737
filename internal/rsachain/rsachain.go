// Package rsachain implements the block-chained RSA encryption the CMS login
// form uses for credentials longer than a single RSA block.
package rsachain

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"io"
	"strings"
	"unicode"

	apperrors "github.com/cmsauto/autologin-server-go/internal/errors"
)

// pkcs1Overhead is the padding PKCS#1 v1.5 adds to every block.
const pkcs1Overhead = 11

// LoadKey parses an RSA public key given as PEM, base64 DER or hex DER,
// tried in that order. The error is a KEY_ERROR AppError naming each failure.
func LoadKey(material string) (*rsa.PublicKey, error) {
	material = strings.TrimSpace(material)
	if material == "" {
		return nil, apperrors.KeyError(fmt.Errorf("empty key material"))
	}

	if strings.Contains(material, "-----BEGIN") {
		block, _ := pem.Decode([]byte(material))
		if block == nil {
			return nil, apperrors.KeyError(fmt.Errorf("pem: no block found"))
		}
		key, err := parseDER(block.Bytes)
		if err != nil {
			return nil, apperrors.KeyError(fmt.Errorf("pem: %w", err))
		}
		return key, nil
	}

	der, b64Err := base64.StdEncoding.DecodeString(material)
	if b64Err == nil {
		key, err := parseDER(der)
		if err == nil {
			return key, nil
		}
		b64Err = err
	}

	key, hexErr := parseHex(material)
	if hexErr == nil {
		return key, nil
	}
	return nil, apperrors.KeyError(fmt.Errorf("base64: %v; hex: %v", b64Err, hexErr))
}

func parseHex(material string) (*rsa.PublicKey, error) {
	compact := strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, material)
	if len(compact)%2 != 0 {
		compact = "0" + compact
	}
	der, err := hex.DecodeString(compact)
	if err != nil {
		return nil, err
	}
	return parseDER(der)
}

func parseDER(der []byte) (*rsa.PublicKey, error) {
	if pub, err := x509.ParsePKIXPublicKey(der); err == nil {
		key, ok := pub.(*rsa.PublicKey)
		if !ok {
			return nil, fmt.Errorf("not an RSA public key: %T", pub)
		}
		return key, nil
	}
	return x509.ParsePKCS1PublicKey(der)
}

// BlockSize is the largest plaintext chunk a single block can carry.
func BlockSize(key *rsa.PublicKey) int {
	return key.Size() - pkcs1Overhead
}

// BlockCount is the number of blocks EncryptChained produces for n bytes.
func BlockCount(n int, key *rsa.PublicKey) int {
	size := BlockSize(key)
	return (n + size - 1) / size
}

// EncryptChained splits plaintext into BlockSize chunks, encrypts each with
// PKCS#1 v1.5 and returns the base64 of the concatenated blocks.
func EncryptChained(plaintext []byte, key *rsa.PublicKey) (string, error) {
	return encryptChained(rand.Reader, plaintext, key)
}

func encryptChained(random io.Reader, plaintext []byte, key *rsa.PublicKey) (string, error) {
	size := BlockSize(key)
	if size <= 0 {
		return "", apperrors.KeyError(fmt.Errorf("key of %d bytes is too small", key.Size()))
	}

	out := make([]byte, 0, BlockCount(len(plaintext), key)*key.Size())
	for start := 0; start < len(plaintext); start += size {
		end := min(start+size, len(plaintext))
		block, err := rsa.EncryptPKCS1v15(random, key, plaintext[start:end])
		if err != nil {
			return "", apperrors.KeyError(fmt.Errorf("encrypt block at %d: %w", start, err))
		}
		out = append(out, block...)
	}
	return base64.StdEncoding.EncodeToString(out), nil
}

// EncryptString loads material and encrypts s under it.
func EncryptString(s, material string) (string, error) {
	key, err := LoadKey(material)
	if err != nil {
		return "", err
	}
	return EncryptChained([]byte(s), key)
}
