package domain

import (
	"strconv"
	"strings"
)

// idSeparator separates the type name from the numeric part in a qualified id.
const idSeparator = "@"

// EntityID is the composite identity of a persisted entity.
// Numeric is always a bare decimal string, or empty when the id could not be parsed.
type EntityID struct {
	TypeName string
	Numeric  string
}

// ParseEntityID parses a bare ("12") or qualified ("user@12") identifier.
// Anything after the last separator must be a non-negative integer; leading
// zeros and surrounding whitespace are dropped.
func ParseEntityID(raw string) EntityID {
	raw = strings.TrimSpace(raw)

	var typeName string
	if i := strings.LastIndex(raw, idSeparator); i >= 0 {
		typeName = raw[:i]
		raw = raw[i+len(idSeparator):]
	}

	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n < 0 {
		return EntityID{TypeName: typeName}
	}

	return EntityID{TypeName: typeName, Numeric: strconv.FormatInt(n, 10)}
}

// Qualified builds an EntityID for typeName from a bare or qualified raw id.
// The type name embedded in raw, if any, is replaced.
func Qualified(typeName, raw string) EntityID {
	return EntityID{TypeName: typeName, Numeric: NormalizeID(raw)}
}

// NormalizeID returns the bare numeric form of raw, or "" if raw is not an id.
func NormalizeID(raw string) string {
	return ParseEntityID(raw).Numeric
}

// SameID reports whether two raw ids name the same numeric identity.
// Empty or unparseable ids never match.
func SameID(a, b string) bool {
	na := NormalizeID(a)
	return na != "" && na == NormalizeID(b)
}

// IsZero reports whether the id has no numeric part.
func (id EntityID) IsZero() bool {
	return id.Numeric == ""
}

// Int64 returns the numeric part as an integer, or 0 for a zero id.
func (id EntityID) Int64() int64 {
	n, _ := strconv.ParseInt(id.Numeric, 10, 64)
	return n
}

// String renders the id as "type@n", or the bare number when no type is set.
func (id EntityID) String() string {
	if id.TypeName == "" {
		return id.Numeric
	}
	return id.TypeName + idSeparator + id.Numeric
}

// CompareIDs orders two raw ids numerically. Unparseable ids sort first.
func CompareIDs(a, b string) int {
	na, nb := ParseEntityID(a).Int64(), ParseEntityID(b).Int64()
	switch {
	case na < nb:
		return -1
	case na > nb:
		return 1
	default:
		return 0
	}
}

// =============================================================================
// ID sets
// =============================================================================

// NormalizeIDs normalizes every id in ids, dropping unparseable entries and
// duplicates while keeping first-seen order. It always returns a non-nil slice.
func NormalizeIDs(ids []string) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, raw := range ids {
		id := NormalizeID(raw)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// containsID reports whether ids contains the normalized form of id.
func containsID(ids []string, id string) bool {
	n := NormalizeID(id)
	if n == "" {
		return false
	}
	for _, existing := range ids {
		if NormalizeID(existing) == n {
			return true
		}
	}
	return false
}

// addID appends the normalized id unless already present.
func addID(ids []string, id string) ([]string, bool) {
	n := NormalizeID(id)
	if n == "" || containsID(ids, n) {
		return ids, false
	}
	return append(ids, n), true
}

// removeID removes every occurrence of id.
func removeID(ids []string, id string) ([]string, bool) {
	n := NormalizeID(id)
	if n == "" {
		return ids, false
	}
	out := ids[:0:0]
	removed := false
	for _, existing := range ids {
		if NormalizeID(existing) == n {
			removed = true
			continue
		}
		out = append(out, existing)
	}
	if out == nil {
		out = []string{}
	}
	return out, removed
}
