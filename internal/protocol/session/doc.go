// Package session owns per-connection protocol state.
//
// Ownership boundary:
// - transport dial/framing (plain TCP or via ssh gateway tunnel)
// - client address assignment, per-destination sequence counters
// - pending-request correlation and timeout eviction
// - the init -> discover -> invoke connection flow
package session
