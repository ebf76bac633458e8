// Package upstream provides HTTP clients for the four backing resource
// stores the gateway fronts: user records, membership records, the
// generated-content store, and the powerplay workflow store.
//
// Each store is independently addressable. A 404 from any lookup is mapped to
// ErrNotFound — the single expected, recoverable error. Every other non-2xx
// answer becomes an *Error carrying the store's status and message, which the
// dispatch layer surfaces as an upstream failure.
package upstream
