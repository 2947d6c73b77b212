// Package canonical produces byte-stable JSON for manifests and digests.
//
// Two values that are equal as data always serialize to the same bytes:
//   - Object keys are sorted by UTF-16 code units (RFC 8785 ordering)
//   - No insignificant whitespace
//   - No HTML escaping (<, >, & are written literally)
//   - Floats and nulls are rejected
//
// Manifest change detection compares these bytes directly, so every
// serialization that feeds HasChanged or Digest must go through Marshal.
package canonical
