package utils

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
)

func RandomString(length int) string {
	bytes := make([]byte, length)
	_, err := rand.Read(bytes)
	if err != nil {
		panic(err) // Handle error appropriately in production
	}
	return hex.EncodeToString(bytes)[:length]
}

// RandomSecureToken returns a URL-safe bearer token with byteLen bytes of
// entropy. Both trustee confirmation links and vault access tokens use this;
// neither may be guessable or sequential.
func RandomSecureToken(byteLen int) string {
	bytes := make([]byte, byteLen)
	if _, err := rand.Read(bytes); err != nil {
		panic(err)
	}
	return base64.RawURLEncoding.EncodeToString(bytes)
}
