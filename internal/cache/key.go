// internal/cache/key.go
package cache

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/text/unicode/norm"
)

// keyEscaper escapes the separator inside key parts so that distinct
// (namespace, identifier) pairs never build the same key.
var keyEscaper = strings.NewReplacer(`\`, `\\`, ":", `\:`)

// Key builds the composite cache key namespace:identifier[:digest]. Colons
// and backslashes inside namespace and identifier are backslash-escaped. The
// digest is only appended when params is non-empty.
func Key(namespace, identifier string, params map[string]any) string {
	var b strings.Builder
	b.Grow(len(namespace) + len(identifier) + 18)
	keyEscaper.WriteString(&b, namespace)
	b.WriteByte(':')
	keyEscaper.WriteString(&b, norm.NFC.String(identifier))
	if len(params) > 0 {
		b.WriteByte(':')
		b.WriteString(Digest(params))
	}
	return b.String()
}

// Digest returns a 16 hex character xxhash64 of v's canonical form. Map keys
// are serialized in sorted order, so two maps with the same contents always
// produce the same digest.
func Digest(v any) string {
	return fmt.Sprintf("%016x", xxhash.Sum64(Canonical(v)))
}

// Canonical returns the canonical JSON encoding of v. Values that JSON cannot
// represent fall back to fmt's %#v, which also prints map keys sorted.
func Canonical(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		return []byte(fmt.Sprintf("%#v", v))
	}
	return data
}

// estimateSize approximates the retained size of a cached value in bytes.
func estimateSize(v any) int {
	switch val := v.(type) {
	case nil:
		return 0
	case []byte:
		return len(val)
	case string:
		return len(val)
	case interface{ Size() int }:
		return val.Size()
	case bool, int8, uint8:
		return 1
	case int, int64, uint64, float64, uint:
		return 8
	case int32, uint32, float32:
		return 4
	default:
		return 64
	}
}
