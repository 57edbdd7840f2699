// Package wire encapsulates the schema used to publish a unit's
// rolling-operation state into the shared key-value exchange, as well as the
// functions for reading and writing records in that schema.
//
// The exchange only stores flat string-to-string maps, so a record is encoded
// as a handful of well-known keys rather than a single blob. The schema is
// versioned and self-describing: every record carries a "v" key, and decoding
// ignores keys it does not recognize. This lets peers running different
// library versions coexist in one fleet; a newer peer's extra keys are simply
// invisible to an older one.
//
// Decoding is deliberately strict about the keys it does understand. A record
// with an unparseable status, attempt counter, or timestamp is reported as a
// DecodeError and the observing unit treats that peer as absent. Malformed
// peer data must never take down the fleet; the worst it can do is make its
// author invisible.
package wire
