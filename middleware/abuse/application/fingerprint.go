package application

import (
	"crypto/sha256"
	"encoding/hex"

	"abuse-gateway/middleware/abuse/domain"
)

const keySeparator = "|"

// Fingerprint deriva a Key do cliente: endereço + user-agent truncado em
// uaLimit caracteres. Com hashed=true devolve o SHA-256 (hex) do mesmo valor.
func Fingerprint(req domain.Request, uaLimit int, hashed bool) domain.Key {
	addr := req.Addr
	if addr == "" {
		addr = "unknown"
	}
	ua := truncateRunes(req.UserAgent, uaLimit)

	raw := addr + keySeparator + ua
	if !hashed {
		return domain.Key(raw)
	}
	sum := sha256.Sum256([]byte(raw))
	return domain.Key(hex.EncodeToString(sum[:]))
}

// truncateRunes corta s em no máximo n runas, sem partir um caractere multibyte.
func truncateRunes(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
