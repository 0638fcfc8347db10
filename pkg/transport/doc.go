// Package transport holds the HTTP middleware shared by the starbox
// network surfaces: request ID assignment (X-Request-ID), panic recovery
// and structured access logging via log/slog.
//
// Middleware composes with Chain. The first middleware in the chain is the
// outermost wrapper.
package transport
