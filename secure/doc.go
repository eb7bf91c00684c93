// Package secure implements the secure FOTA session.
//
// A secure session starts with a handshake on the public-key characteristic:
// the host reads the device session key, answers with its own ephemeral public
// key signed by the root key, and reads the control status. Once the device
// accepts, both sides derive the same symmetric key from the ECDH shared secret.
//
// Pages and metadata are then signed with the ephemeral key (over the
// plaintext) and encrypted with the symmetric key before transmission.
// Devices without the public-key characteristic use Plain, which passes data
// through unchanged.
//
// The cryptographic primitives are reached through the Suite interface.
// P256 provides the suite the device firmware expects.
package secure
