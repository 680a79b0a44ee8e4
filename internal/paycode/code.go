// Package paycode issues pending-payment codes, confirms them from the bank
// webhook and reports them to staff by referral code.
package paycode

import (
	"crypto/rand"
	"math/big"
	"regexp"
	"strings"
	"time"
)

const (
	DefaultPrefix = "NE"
	// KeyLength is the stored part of a code: YYMMDDHHMM plus the random suffix.
	KeyLength    = 16
	suffixLength = 6
	suffixChars  = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	stampLayout  = "0601021504"
)

var keyRegex = regexp.MustCompile(`^\d{10}[A-Z0-9]{6}$`)

// Format renders and parses the customer-facing code, which is Prefix followed by the key.
type Format struct {
	Prefix string
	// Location is the clock used for the timestamp part. Nil means UTC.
	Location *time.Location
}

func (f Format) prefix() string {
	if f.Prefix == "" {
		return DefaultPrefix
	}
	return f.Prefix
}

// Generate returns a fresh key stamped with now. Callers show Code(key) to the buyer.
func (f Format) Generate(now time.Time) (string, error) {
	loc := f.Location
	if loc == nil {
		loc = time.UTC
	}

	var b strings.Builder
	b.Grow(KeyLength)
	b.WriteString(now.In(loc).Format(stampLayout))

	max := big.NewInt(int64(len(suffixChars)))
	for i := 0; i < suffixLength; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(suffixChars[n.Int64()])
	}
	return b.String(), nil
}

func (f Format) Code(key string) string {
	return f.prefix() + key
}

// Key strips the prefix from code. It reports false when code is not a
// well-formed pay code, so malformed input never reaches storage.
func (f Format) Key(code string) (string, bool) {
	code = strings.ToUpper(strings.TrimSpace(code))
	prefix := f.prefix()
	if len(code) != len(prefix)+KeyLength || !strings.HasPrefix(code, prefix) {
		return "", false
	}
	key := code[len(prefix):]
	if !keyRegex.MatchString(key) {
		return "", false
	}
	return key, true
}
