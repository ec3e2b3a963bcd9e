package querykit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"querykit/internal/utils"
)

// Key identifies one cached query: an ordered tuple such as
// Key{"post", "42", filters}. Order is significant. Equality is structural
// (deep value equality via canonical serialization), never identity: two
// keys built independently from equal values share one cache entry.
//
// Elements should be JSON-serializable primitives, slices or maps.
type Key []any

// Canonical returns the canonical serialization of the key tuple: values are
// round-tripped through JSON and map keys sorted, so structurally equal keys
// always produce identical bytes.
func (k Key) Canonical() string {
	if len(k) == 0 {
		return "[]"
	}
	raw, err := json.Marshal([]any(k))
	if err != nil {
		log.Printf("ERROR: Failed to marshal query key for canonicalization: %v", err)
		return fmt.Sprintf("unmarshalable_key_%d", time.Now().UnixNano())
	}
	var decoded []any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return string(raw)
	}
	normalized, err := json.Marshal(utils.NormalizeValue(decoded))
	if err != nil {
		return string(raw)
	}
	return string(normalized)
}

// Hash returns a short digest of the canonical form, used as the suffix of
// CacheStore keys.
func (k Key) Hash() string {
	hasher := sha256.New()
	hasher.Write([]byte(k.Canonical()))
	fullHash := hex.EncodeToString(hasher.Sum(nil))
	// First 16 hex characters keep store keys readable.
	return fullHash[:16]
}

// Equal reports structural equality of two keys.
func (k Key) Equal(other Key) bool {
	return k.Canonical() == other.Canonical()
}

// HasPrefix reports whether the first len(prefix) elements of k structurally
// equal prefix. Invalidation uses prefix matching: invalidating
// Key{"user"} marks Key{"user", "me"} stale as well.
func (k Key) HasPrefix(prefix Key) bool {
	if len(prefix) > len(k) {
		return false
	}
	return k[:len(prefix)].Canonical() == prefix.Canonical()
}

// storeKey derives the CacheStore key for a query key.
func storeKey(k Key) string {
	label := "query"
	if len(k) > 0 {
		if s, ok := k[0].(string); ok && s != "" {
			label = s
		}
	}
	return fmt.Sprintf("query:%s:%s", label, k.Hash())
}
