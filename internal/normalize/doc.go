// Package normalize turns loosely-typed upstream payloads into canonical
// model values.
//
// This is the single ingestion boundary: untyped maps stop here. Nothing
// in this package returns an error for malformed input. Every field has a
// default (parse-or-zero for numbers, RECEIVED for unknown statuses, NEW or
// HOLD for unknown item statuses), and each defaulted field is recorded as
// a MappingDefect that callers may inspect or ignore.
//
// Keys are accepted in camelCase and snake_case. Strings are trimmed and
// NFC-normalized so that names compare byte-for-byte.
package normalize
