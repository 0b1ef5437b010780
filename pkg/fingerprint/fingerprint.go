// Package fingerprint computes deterministic fingerprints of MCP capability
// surfaces. Two servers advertising the same logical surface in different
// orders produce identical fingerprints; any addition, removal, rename, or
// schema change of an advertised capability changes the hash.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/gowebpki/jcs"
)

// Filter removes fields that should not affect the fingerprint from a single
// capability item. The default pipeline applies no filtering: no known MCP
// upstream emits volatile per-response noise in its capability lists.
type Filter func(item map[string]any) map[string]any

// Option configures fingerprint computation.
type Option func(*computer)

// WithFilter installs a volatile-field filter applied to every item of every
// family before canonicalization.
func WithFilter(f Filter) Option {
	return func(c *computer) { c.filter = f }
}

type computer struct {
	filter Filter
}

// Compute builds the four-family fingerprint and returns its RFC 8785 (JCS)
// canonical JSON together with the lower-case hex SHA-256 of the canonical
// UTF-8 bytes.
//
// Each family is sorted by its identity key before canonicalization: tools
// and prompts by "name", resources by "uri", resource templates by
// "uriTemplate". Items missing the key sort as the empty string. Ordering
// inside each item is handled by JCS.
func Compute(tools, resources, resourceTemplates, prompts []map[string]any, opts ...Option) (canonical string, hash string, err error) {
	c := &computer{}
	for _, opt := range opts {
		opt(c)
	}

	fp := map[string]any{
		"tools":              c.sorted(tools, "name"),
		"resources":          c.sorted(resources, "uri"),
		"resource_templates": c.sorted(resourceTemplates, "uriTemplate"),
		"prompts":            c.sorted(prompts, "name"),
	}

	plain, err := json.Marshal(fp)
	if err != nil {
		return "", "", fmt.Errorf("marshal fingerprint: %w", err)
	}
	canonicalBytes, err := jcs.Transform(plain)
	if err != nil {
		return "", "", fmt.Errorf("canonicalize fingerprint: %w", err)
	}

	sum := sha256.Sum256(canonicalBytes)
	return string(canonicalBytes), hex.EncodeToString(sum[:]), nil
}

// Hash returns the lower-case hex SHA-256 of a canonical JSON document.
func Hash(canonical string) string {
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])
}

// Canonicalize re-canonicalizes a JSON document. Canonicalization is
// idempotent: Canonicalize(Canonicalize(x)) == Canonicalize(x).
func Canonicalize(doc []byte) ([]byte, error) {
	return jcs.Transform(doc)
}

// sorted returns a stably sorted copy of items, filtered if a filter is
// configured. A nil slice normalizes to an empty one so absent capability
// families canonicalize to [] rather than null.
func (c *computer) sorted(items []map[string]any, key string) []map[string]any {
	out := make([]map[string]any, 0, len(items))
	for _, item := range items {
		if c.filter != nil {
			item = c.filter(item)
		}
		out = append(out, item)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return itemKey(out[i], key) < itemKey(out[j], key)
	})
	return out
}

// itemKey extracts the string form of the sort key; missing or non-string
// keys sort as the empty string.
func itemKey(item map[string]any, key string) string {
	v, ok := item[key]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return s
}
