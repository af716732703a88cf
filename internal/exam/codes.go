package exam

import (
	"crypto/rand"
	"fmt"
	"strings"
)

// Crockford's base32 alphabet: no I, L, O or U.
const crockford = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"

const codeLength = 12

// NewVerificationCode returns 12 random Crockford base32 characters
// formatted as XXXX-XXXX-XXXX.
func NewVerificationCode() (string, error) {
	buf := make([]byte, codeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	var b strings.Builder
	for i, v := range buf {
		if i > 0 && i%4 == 0 {
			b.WriteByte('-')
		}
		b.WriteByte(crockford[v&31])
	}
	return b.String(), nil
}

// CertificateNumber formats a human-readable certificate number such as
// GO-PRO-2026-000042.
func CertificateNumber(code string, year int, serial int64) string {
	return fmt.Sprintf("%s-%d-%06d", strings.ToUpper(code), year, serial)
}

func normalizeKey(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}
