// Package protocol owns the instrument wire contract and its parsing
// primitives.
//
// Ownership boundary:
// - bus addressing (Address)
// - wire/ integer and string primitives
// - param/ self-describing typed parameters
// - packet/ the five nested packet shapes
// - message/ builders for init, registration, command
// - session/ connection state, sequencing, request correlation
package protocol
