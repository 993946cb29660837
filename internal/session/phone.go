package session

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode"

	errx "github.com/clinic-agent/server/internal/core/error"
)

var chatSuffixes = []string{"@c.us", "@s.whatsapp.net"}

// E.164 allows at most 15 digits; anything under 8 is not a dialable number.
const (
	minPhoneDigits = 8
	maxPhoneDigits = 15
)

// NormalizePhone turns a WhatsApp chat id into an E.164-like phone number.
func NormalizePhone(chatID string) (string, error) {
	s := strings.TrimSpace(chatID)
	for _, suffix := range chatSuffixes {
		s = strings.TrimSuffix(s, suffix)
	}
	s = strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
	digits := strings.TrimPrefix(s, "+")
	if digits == "" {
		return "", errx.Validation("chat_id no contiene un número de teléfono")
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return "", errx.Validation("chat_id contiene caracteres no válidos")
		}
	}
	if n := len(digits); n < minPhoneDigits || n > maxPhoneDigits {
		return "", errx.Validation("chat_id no es un número de teléfono válido")
	}
	return "+" + digits, nil
}

// UserIDFor derives the stable user id used by sessions and episodic memory.
func UserIDFor(phone string) string {
	sum := sha256.Sum256([]byte(phone))
	return "user_" + hex.EncodeToString(sum[:])[:12]
}
