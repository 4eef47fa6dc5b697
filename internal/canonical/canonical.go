// Package canonical produces deterministic hashes of structured content.
//
// Two payloads that differ only in key order or in non-semantic fields
// (row identifiers, timestamps, foreign keys, per-entry hashes) must hash
// identically; any semantic change must change the hash. That digest is the
// content address of a registry version: audit tooling proves replay equality
// by comparing digests, never by diffing rows.
package canonical

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
)

// strippedFields are non-semantic by definition: they vary per row or per
// environment without changing what a formula computes.
var strippedFields = map[string]struct{}{
	"id":                {},
	"registryVersionId": {},
	"definitionHash":    {},
	"contentHash":       {},
	"createdAt":         {},
	"updatedAt":         {},
	"publishedAt":       {},
	"createdBy":         {},
}

// Canonicalize returns the canonical form of v: objects with stripped fields
// removed and remaining keys recursed, arrays preserved in order, scalars
// passed through. v may be any JSON-marshalable value; structs are first
// flattened to their JSON shape so tags decide field names.
func Canonicalize(v any) (any, error) {
	generic, err := toGeneric(v)
	if err != nil {
		return nil, err
	}
	return scrub(generic), nil
}

// Hash returns the hex SHA-256 digest of the canonical JSON encoding of v.
func Hash(v any) (string, error) {
	canon, err := Canonicalize(v)
	if err != nil {
		return "", err
	}
	// encoding/json sorts map keys alphabetically, which together with the
	// generic map shape from toGeneric yields a deterministic byte stream.
	encoded, err := json.Marshal(canon)
	if err != nil {
		return "", fmt.Errorf("encode canonical form: %w", err)
	}
	sum := sha256.Sum256(encoded)
	return hex.EncodeToString(sum[:]), nil
}

// EntryContent is the semantic content of one registry entry: its metric key
// and its formula definition. Everything else on an entry row is addressing.
type EntryContent struct {
	MetricKey  string `json:"metricKey"`
	Definition any    `json:"definition"`
}

// HashEntry hashes a single formula definition.
func HashEntry(definition any) (string, error) {
	return Hash(definition)
}

// HashRegistry hashes the full entry set of a version. Entries are sorted by
// metric key first so insertion order never influences the content address.
func HashRegistry(entries []EntryContent) (string, error) {
	sorted := append([]EntryContent{}, entries...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].MetricKey < sorted[j].MetricKey })
	return Hash(sorted)
}

// HashOutputs hashes an arbitrary result payload for replay proofs.
func HashOutputs(v any) (string, error) {
	return Hash(v)
}

// toGeneric flattens v to the generic JSON shape (map[string]any, []any,
// json.Number, string, bool, nil). json.Number keeps numeric literals verbatim
// so re-encoding cannot drift into exponent notation.
func toGeneric(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("flatten value: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("reshape value: %w", err)
	}
	return generic, nil
}

func scrub(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, child := range val {
			if _, stripped := strippedFields[k]; stripped {
				continue
			}
			out[k] = scrub(child)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, child := range val {
			out[i] = scrub(child)
		}
		return out
	default:
		return v
	}
}
