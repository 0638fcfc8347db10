// Package audit records metadata about every execution: who ran it, how it
// ended, how long it took and a digest of the code. Guest state (output,
// bindings, source text) is never recorded, and nothing in this package is
// consulted by the harness, so no state flows between runs.
//
// Store adapters live in the memory and postgres subpackages. This package
// holds the record type, the Store interface, sentinel errors, tenant context
// helpers and ID generation.
package audit
