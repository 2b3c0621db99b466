package service

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"math"
	"math/big"
	"strings"
	"time"
)

const (
	DefaultCodeTTL = 10 * time.Minute
	codeMin        = 1000
	codeMax        = 9999
)

// OneTimeCodeGenerator produce los códigos 2FA de 4 dígitos y su vencimiento.
type OneTimeCodeGenerator struct {
	ttl time.Duration
	now func() time.Time
}

func NewOneTimeCodeGenerator(ttl time.Duration) *OneTimeCodeGenerator {
	if ttl <= 0 {
		ttl = DefaultCodeTTL
	}
	return &OneTimeCodeGenerator{ttl: ttl, now: func() time.Time { return time.Now().UTC() }}
}

func (g *OneTimeCodeGenerator) TTL() time.Duration {
	return g.ttl
}

// Generate devuelve un código uniforme en [1000, 9999].
func (g *OneTimeCodeGenerator) Generate() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(codeMax-codeMin+1))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%04d", n.Int64()+codeMin), nil
}

func (g *OneTimeCodeGenerator) ExpiryFromNow() time.Time {
	return g.now().Add(g.ttl)
}

func (g *OneTimeCodeGenerator) IsExpired(expiry time.Time) bool {
	return !g.now().Before(expiry)
}

// TimeRemaining devuelve minutos completos restantes, redondeando hacia arriba; nunca negativo.
func (g *OneTimeCodeGenerator) TimeRemaining(expiry time.Time) int {
	left := expiry.Sub(g.now())
	if left <= 0 {
		return 0
	}
	return int(math.Ceil(left.Minutes()))
}

// HashCode guarda el código como salt:sha256(salt:code), nunca en claro.
func HashCode(code string) (string, error) {
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	saltStr := base64.StdEncoding.EncodeToString(salt)
	return saltStr + ":" + digestCode(saltStr, code), nil
}

func MatchCode(code, stored string) bool {
	parts := strings.Split(stored, ":")
	if len(parts) != 2 {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(digestCode(parts[0], code)), []byte(parts[1])) == 1
}

func digestCode(salt, code string) string {
	sum := sha256.Sum256([]byte(salt + ":" + code))
	return base64.StdEncoding.EncodeToString(sum[:])
}

func isValidCodeFormat(code string) bool {
	if len(code) != 4 {
		return false
	}
	for i := 0; i < len(code); i++ {
		if code[i] < '0' || code[i] > '9' {
			return false
		}
	}
	return true
}
