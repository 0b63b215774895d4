// Package message converts application values to and from the text stored in
// a checkpoint.
//
// Every captured value becomes an Encoded triple: the message text, an
// encoding tag (empty for plain text, a charset name, or Base64) and the name
// of the value's declared type. Decoding uses the type name to rebuild the
// value. Booleans, integers, dates and Node trees round-trip without loss.
//
// Decoding never fails the caller. Text that cannot be rebuilt is returned as
// an Undecoded value carrying the literal text and the reason.
package message
