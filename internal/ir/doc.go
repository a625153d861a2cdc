// Package ir provides the value model and content addressing shared by every
// other package in the replica.
//
// ir imports nothing internal. It defines:
//   - Value: a sealed JSON value (null, string, int, bool, array, object).
//     There is no float variant; numbers are int64 so that hashing is exact.
//   - MarshalCanonical: RFC 8785 canonical JSON with NFC-normalized strings.
//     This is the only encoding used for bytes that get hashed.
//   - Hash: hex SHA-256 with domain separation, the sole address of a chunk.
package ir
