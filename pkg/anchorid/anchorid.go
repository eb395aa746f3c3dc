// Package anchorid derives the numeric on-ledger identifier for a report
// from its opaque textual record ID.
//
// The derivation is the 32-bit rolling hash the deployed ledger program was
// seeded with: per UTF-16 code unit, h = (h << 5) - h + unit, truncated to
// 32-bit signed semantics at every step, with the absolute value of the
// final word widened to uint64. Already-anchored reports depend on these
// exact values, so the algorithm is frozen.
//
// The hash is deliberately not collision-resistant: distinct record IDs can
// map to the same numeric ID. That is an accepted property of the deployed
// key space, not something to repair here.
package anchorid

import "unicode/utf16"

// Derive maps a record ID to its numeric ledger identifier.
func Derive(recordID string) uint64 {
	var h int32
	for _, unit := range utf16.Encode([]rune(recordID)) {
		h = (h << 5) - h + int32(unit)
	}
	v := int64(h)
	if v < 0 {
		v = -v
	}
	return uint64(v)
}
