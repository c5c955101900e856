// Package token genera y hashea secretos opacos (tokens de API, códigos OAuth).
package token

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
)

// SecretBytes es la entropía por defecto de un secreto (256 bits).
const SecretBytes = 32

// PrefixLen es la cantidad de caracteres del secreto que se guardan en claro
// para que el usuario pueda identificar sus tokens.
const PrefixLen = 4

// GenerateOpaqueToken genera un token opaco aleatorio (base64url sin padding).
func GenerateOpaqueToken(nBytes int) (string, error) {
	b := make([]byte, nBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// NewSecret genera un secreto con la entropía por defecto.
func NewSecret() (string, error) {
	return GenerateOpaqueToken(SecretBytes)
}

// SHA256Base64URL devuelve sha256(input) en base64url sin padding (para guardar en DB).
// El secreto tiene entropía completa, así que un hash rápido sin salt es suficiente
// y permite el lookup O(1) por hash.
func SHA256Base64URL(s string) string {
	sum := sha256.Sum256([]byte(s))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// Prefix retorna los primeros PrefixLen caracteres del secreto.
func Prefix(secret string) string {
	if len(secret) <= PrefixLen {
		return secret
	}
	return secret[:PrefixLen]
}

// Equal compara dos secretos en tiempo constante.
func Equal(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
