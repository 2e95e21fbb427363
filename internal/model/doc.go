// Package model provides the canonical order types shared by every other
// package.
//
// model imports nothing internal. Untyped upstream payloads never reach
// these types directly; they pass through package normalize first.
//
// Key constraints:
//   - Money is decimal.Decimal, never float
//   - Order ids are unique within a store
//   - A Selection references at most one Course
//   - Course fire status only moves forward (PENDING < FIRED < READY)
//     unless an explicit hold/reset command rewinds it
package model
