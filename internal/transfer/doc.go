// Package transfer moves reports between storages and files.
//
// A single report travels as a bundle: a versioned JSON document in RFC 8785
// canonical form, compressed as one LZ4 frame. The document is produced from
// a static table of field descriptors (schema.go) and omits fields holding
// their default value, so equal reports always produce identical bytes.
// Bundles are validated against an embedded JSON Schema before decoding.
//
// Several reports travel as a zip archive of bundles. File extensions
// select the format: ".ttr" for one bundle, ".zip" for an archive.
package transfer
