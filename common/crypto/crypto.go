// Package crypto provides the request-signing primitives shared by
// venue authenticators.
package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"hash"
)

// Hash types accepted by GetHMAC.
const (
	HashSHA256 = iota
	HashSHA512
)

// GetHMAC returns a keyed-hash message authentication code of input
// under key using the requested hash.
func GetHMAC(hashType int, input, key []byte) []byte {
	var hasher func() hash.Hash
	switch hashType {
	case HashSHA256:
		hasher = sha256.New
	case HashSHA512:
		hasher = sha512.New
	}
	h := hmac.New(hasher, key)
	h.Write(input)
	return h.Sum(nil)
}

// HexEncodeToString returns the lowercase hex encoding of input.
func HexEncodeToString(input []byte) string {
	return hex.EncodeToString(input)
}

// Base64Encode returns the standard base64 encoding of input.
func Base64Encode(input []byte) string {
	return base64.StdEncoding.EncodeToString(input)
}

// Base64Decode decodes a standard base64 string.
func Base64Decode(input string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(input)
}
