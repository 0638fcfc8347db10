// Package apikey authenticates callers with static API keys. Keys are kept
// only as SHA-256 digests and compared in constant time.
package apikey

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/rhuss/starbox/pkg/auth"
)

// HeaderName is the alternative header carrying a raw key.
const HeaderName = "X-API-Key"

// Key is the configuration of one API key.
type Key struct {
	Key      string
	Identity auth.Identity
}

type entry struct {
	digest   [sha256.Size]byte
	identity auth.Identity
}

// Authenticator validates keys sent as a bearer token or in X-API-Key.
type Authenticator struct {
	entries []entry
}

var _ auth.Authenticator = (*Authenticator)(nil)

// New hashes keys immediately; plaintext keys are not retained. Keys with an
// empty value are ignored.
func New(keys []Key) *Authenticator {
	a := &Authenticator{}
	for _, k := range keys {
		if k.Key == "" {
			continue
		}
		a.entries = append(a.entries, entry{
			digest:   sha256.Sum256([]byte(k.Key)),
			identity: k.Identity,
		})
	}
	return a
}

// Authenticate abstains when no key is presented, votes No for an unknown
// key and Yes with a copy of the key's identity otherwise.
func (a *Authenticator) Authenticate(_ context.Context, r *http.Request) auth.Result {
	token, ok := auth.BearerToken(r)
	if !ok {
		token = strings.TrimSpace(r.Header.Get(HeaderName))
		if token == "" {
			return auth.Result{Decision: auth.Abstain}
		}
	}
	if token == "" {
		return auth.Result{Decision: auth.No, Err: auth.ErrUnauthenticated}
	}

	digest := sha256.Sum256([]byte(token))
	match := -1
	// Every entry is compared so timing does not reveal the matching index.
	for i := range a.entries {
		if subtle.ConstantTimeCompare(digest[:], a.entries[i].digest[:]) == 1 && match < 0 {
			match = i
		}
	}
	if match < 0 {
		return auth.Result{Decision: auth.No, Err: auth.ErrUnauthenticated}
	}

	id := a.entries[match].identity
	id.Scopes = append([]string(nil), id.Scopes...)
	return auth.Result{Decision: auth.Yes, Identity: &id}
}

// Len returns the number of configured keys.
func (a *Authenticator) Len() int {
	return len(a.entries)
}
