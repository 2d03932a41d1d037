package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// nullToken stands in for nil and missing values in the canonical form.
const nullToken = "null"

// Hash returns the hex SHA-256 digest of the fingerprint's canonical serialization.
func Hash(fp Fingerprint) string {
	return HashValue(fp.Map())
}

// SaltedHash mixes the registering user and a timestamp into the digest so a
// fingerprint already owned by another user can be stored without a unique-hash clash.
func SaltedHash(fp Fingerprint, userID uuid.UUID, at time.Time) string {
	return HashValue(map[string]any{
		"fingerprint": fp.Map(),
		"userId":      userID.String(),
		"salt":        at.UTC().Format(time.RFC3339Nano),
	})
}

// HashValue digests any JSON-like value independent of map key order.
func HashValue(v any) string {
	sum := sha256.Sum256([]byte(CanonicalString(v)))
	return hex.EncodeToString(sum[:])
}

// CanonicalString serializes v with object keys sorted at every level.
// Arrays keep their order, strings are quoted and nil becomes the null token.
func CanonicalString(v any) string {
	var b strings.Builder
	writeCanonical(&b, v)
	return b.String()
}

func writeCanonical(b *strings.Builder, v any) {
	switch val := v.(type) {
	case nil:
		b.WriteString(nullToken)
	case map[string]any:
		keys := maps.Keys(val)
		slices.Sort(keys)
		b.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteString(strconv.Quote(k))
			b.WriteByte(':')
			writeCanonical(b, val[k])
		}
		b.WriteByte('}')
	case []any:
		b.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				b.WriteByte(',')
			}
			writeCanonical(b, item)
		}
		b.WriteByte(']')
	case []string:
		b.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteString(strconv.Quote(item))
		}
		b.WriteByte(']')
	case string:
		b.WriteString(strconv.Quote(val))
	case bool:
		b.WriteString(strconv.FormatBool(val))
	case int:
		b.WriteString(strconv.Itoa(val))
	case int64:
		b.WriteString(strconv.FormatInt(val, 10))
	case float64:
		b.WriteString(strconv.FormatFloat(val, 'g', -1, 64))
	case json.Number:
		if f, err := val.Float64(); err == nil {
			b.WriteString(strconv.FormatFloat(f, 'g', -1, 64))
		} else {
			b.WriteString(val.String())
		}
	default:
		b.WriteString(strconv.Quote(fmt.Sprint(val)))
	}
}
