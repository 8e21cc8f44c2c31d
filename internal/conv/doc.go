// Package conv provides checked integer conversions.
//
// Use cases:
//   - Point counts that must fit the int32 identifiers of match tables
//   - Counts decoded from untrusted column headers
//
// For conversions that are provably safe by construction (loop indices
// bounded by an already checked count), use direct casts instead.
package conv
