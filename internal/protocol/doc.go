// Package protocol defines the JSON messages exchanged with clients.
//
// Every message is a JSON object with a "type" discriminator. Inbound
// messages are decoded lazily: Decode only extracts the type and keeps the
// remaining fields raw so that handlers can ask for exactly the fields they
// require and report a missing one as a protocol error.
package protocol
