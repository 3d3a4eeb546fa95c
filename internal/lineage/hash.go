package lineage

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
)

// Hash computes the canonical SHA-256 hex digest of a value. Strings and
// byte slices hash as-is; any other value is first serialized to canonical
// JSON with sorted keys, so logically equal values always hash equal.
func Hash(value interface{}) string {
	var data []byte
	switch v := value.(type) {
	case string:
		data = []byte(v)
	case []byte:
		data = v
	default:
		data = canonicalJSON(v)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// canonicalJSON serializes v deterministically. encoding/json already sorts
// map[string]X keys, so the only extra work is normalizing arbitrary maps
// through an intermediate decode.
func canonicalJSON(v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		// Unserializable values fall back to their formatted representation.
		return []byte(fmt.Sprintf("%#v", v))
	}
	var norm interface{}
	if err := json.Unmarshal(data, &norm); err != nil {
		return data
	}
	out, err := json.Marshal(norm)
	if err != nil {
		return data
	}
	return out
}

// chainHash derives the chain hash binding content to its ancestry. Parent
// hashes are sorted first, so recording order never changes the result.
func chainHash(contentHash string, parentHashes []string, timestamp string) string {
	if len(parentHashes) == 0 {
		return contentHash
	}
	sorted := make([]string, len(parentHashes))
	copy(sorted, parentHashes)
	sort.Strings(sorted)

	payload := contentHash
	for _, p := range sorted {
		payload += p
	}
	payload += timestamp

	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}
