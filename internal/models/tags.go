// internal/models/tags.go
package models

import (
	"sort"
	"strconv"
	"strings"
)

// Tags are the parameters distinguishing sibling tasks produced by the same rule
type Tags map[string]string

// Clone returns an independent copy; a nil receiver yields an empty map
func (t Tags) Clone() Tags {
	out := make(Tags, len(t))
	for k, v := range t {
		out[k] = v
	}
	return out
}

// Subset returns the tags restricted to keys. Missing keys are reported by name.
func (t Tags) Subset(keys []string) (Tags, []string) {
	out := make(Tags, len(keys))
	var missing []string
	for _, k := range keys {
		v, ok := t[k]
		if !ok {
			missing = append(missing, k)
			continue
		}
		out[k] = v
	}
	return out, missing
}

// Key encodes the values of keys, in the given key order, as a grouping key.
// Values are quoted so distinct tuples never share a key.
func (t Tags) Key(keys []string) string {
	var b strings.Builder
	for _, k := range keys {
		b.WriteString(strconv.Quote(t[k]))
	}
	return b.String()
}

// String renders the tags sorted by key, e.g. "chr=1,sample=A"
func (t Tags) String() string {
	keys := make([]string, 0, len(t))
	for k := range t {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+t[k])
	}
	return strings.Join(parts, ",")
}
