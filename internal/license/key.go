package license

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// MinFingerprintLength is the shortest accepted device fingerprint.
const MinFingerprintLength = 10

const (
	keyAlphabet    = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	keyRandomChars = 12
	keyGroupSize   = 4
)

var keyPattern = regexp.MustCompile(`^LIC(-[A-Z0-9]{4}){3}$`)

// ValidKey reports whether key has the LIC-XXXX-XXXX-XXXX shape.
func ValidKey(key string) bool {
	return keyPattern.MatchString(key)
}

// ValidFingerprint reports whether fp is well-formed UTF-8 and long enough to
// identify a device. Invalid byte sequences would not survive the JSON
// round trip through storage, so they never compare equal once bound.
func ValidFingerprint(fp string) bool {
	return utf8.ValidString(fp) && utf8.RuneCountInString(fp) >= MinFingerprintLength
}

// GenerateKey builds a fresh license key. The base-36 timestamp prefix only
// seeds the candidate; the last twelve characters form the key groups.
// Uniqueness is left to the database index.
func GenerateKey(now time.Time) (string, error) {
	var b strings.Builder
	b.WriteString(strings.ToUpper(strconv.FormatInt(now.UnixMilli(), 36)))

	limit := big.NewInt(int64(len(keyAlphabet)))
	for i := 0; i < keyRandomChars; i++ {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", fmt.Errorf("license: generate key: %w", err)
		}
		b.WriteByte(keyAlphabet[n.Int64()])
	}

	raw := b.String()
	tail := raw[len(raw)-keyRandomChars:]
	groups := make([]string, 0, keyRandomChars/keyGroupSize)
	for i := 0; i < len(tail); i += keyGroupSize {
		groups = append(groups, tail[i:i+keyGroupSize])
	}
	return "LIC-" + strings.Join(groups, "-"), nil
}
