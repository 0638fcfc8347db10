// Package auth guards the HTTP transport of starbox.
//
// Authentication uses a chain of responsibility with three-outcome voting:
// each authenticator returns Yes (identity found), No (credentials invalid)
// or Abstain (credentials not recognised). The chain's default decides when
// every authenticator abstains.
//
// The middleware stores the identity and its tenant in the request context,
// so execution audit records are attributed and scoped per tenant, and
// optionally enforces a per-tier request rate and a required scope.
package auth
