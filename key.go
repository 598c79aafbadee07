package oxcache

import "strings"

// QualifiedKey joins a service prefix and a logical key into the fully
// qualified key used throughout L1, L2, and the WAL: "{service}:{logical}".
// Per §3 the result is never mutated once created.
func QualifiedKey(servicePrefix, logical string) string {
	var b strings.Builder
	b.Grow(len(servicePrefix) + len(logical) + 1)
	b.WriteString(servicePrefix)
	b.WriteByte(':')
	b.WriteString(logical)
	return b.String()
}

// versionKey returns the sibling key L2 stores the entry's version
// stamp under, per §4.3 ("{k}.v").
func versionKey(qualified string) string {
	return qualified + ".v"
}

// l2Key applies the configured key_prefix ahead of a fully qualified
// "{service}:{logical}" key, per the L2 key convention in §6:
// "{key_prefix}:{service}:{logical_key}".
func l2Key(keyPrefix, qualified string) string {
	if keyPrefix == "" {
		return qualified
	}
	var b strings.Builder
	b.Grow(len(keyPrefix) + len(qualified) + 1)
	b.WriteString(keyPrefix)
	b.WriteByte(':')
	b.WriteString(qualified)
	return b.String()
}
