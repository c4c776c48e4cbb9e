package dialog

import (
	"errors"
	"fmt"
	"sync"

	"github.com/icholy/digest"

	"github.com/sipuacore/imsstack/sip"
)

// ErrBadNonce is returned by the challenge store when a realm already has
// a challenge on file, the new challenge for it is not marked stale, and
// the caller did not accept a new authentication vector for it.
var ErrBadNonce = errors.New("dialog: challenge rejected, neither stale nor a new vector")

// Challenge is one digest challenge on file for the dialog, keyed by realm
// and whether it came from a proxy (WWW-Authenticate vs Proxy-Authenticate).
// A realm holds at most one challenge at a time; replacing it with a new
// nonce preserves its identity rather than creating a second entry.
type Challenge struct {
	Realm     string
	Nonce     string
	Opaque    string
	Algorithm string
	QOP       string
	Stale     bool
	Proxy     bool

	// CK/IK carry the 3GPP AKA cipher/integrity keys alongside the digest
	// fields so an AKA-capable caller can populate and replay them. This
	// package only stores them; it does not compute AKA vectors.
	CK string
	IK string

	raw *digest.Challenge
}

type challengeStore struct {
	mu    sync.Mutex
	www   map[string]*Challenge
	proxy map[string]*Challenge
}

func newChallengeStore() *challengeStore {
	return &challengeStore{
		www:   make(map[string]*Challenge),
		proxy: make(map[string]*Challenge),
	}
}

// update applies a single WWW-Authenticate or Proxy-Authenticate header
// value to the store: find an existing challenge with the same realm; if
// found and (stale OR acceptNewVector), replace its
// nonce/opaque/algorithm/qop; if no match, add it as new; otherwise fail
// with ErrBadNonce.
func (cs *challengeStore) update(headerValue string, proxy bool, acceptNewVector bool) (*Challenge, error) {
	chal, err := digest.ParseChallenge(headerValue)
	if err != nil {
		return nil, fmt.Errorf("dialog: parse challenge: %w", err)
	}

	store := cs.www
	if proxy {
		store = cs.proxy
	}

	cs.mu.Lock()
	defer cs.mu.Unlock()

	existing, found := store[chal.Realm]
	if !found {
		c := newChallengeFrom(chal, proxy)
		store[chal.Realm] = c
		return c, nil
	}

	if !chal.Stale && !acceptNewVector {
		return nil, fmt.Errorf("%w: realm=%q", ErrBadNonce, chal.Realm)
	}

	existing.Nonce = chal.Nonce
	existing.Opaque = chal.Opaque
	existing.Algorithm = chal.Algorithm
	existing.QOP = firstQOP(chal.QOP)
	existing.Stale = chal.Stale
	existing.raw = chal
	return existing, nil
}

func newChallengeFrom(chal *digest.Challenge, proxy bool) *Challenge {
	return &Challenge{
		Realm:     chal.Realm,
		Nonce:     chal.Nonce,
		Opaque:    chal.Opaque,
		Algorithm: chal.Algorithm,
		QOP:       firstQOP(chal.QOP),
		Stale:     chal.Stale,
		Proxy:     proxy,
		raw:       chal,
	}
}

func firstQOP(qop []string) string {
	if len(qop) == 0 {
		return ""
	}
	return qop[0]
}

// all returns every stored challenge, www before proxy, so request
// construction can emit one Authorization/Proxy-Authorization per entry.
func (cs *challengeStore) all() []*Challenge {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	out := make([]*Challenge, 0, len(cs.www)+len(cs.proxy))
	for _, c := range cs.www {
		out = append(out, c)
	}
	for _, c := range cs.proxy {
		out = append(out, c)
	}
	return out
}

func (cs *challengeStore) empty() bool {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return len(cs.www) == 0 && len(cs.proxy) == 0
}

// authorizationHeader builds the Authorization/Proxy-Authorization header
// for this challenge against method/uri/credentials, via icholy/digest.
func (c *Challenge) authorizationHeader(method, uri, username, password string) (sip.Header, error) {
	cred, err := digest.Digest(c.raw, digest.Options{
		Method:   method,
		URI:      uri,
		Username: username,
		Password: password,
	})
	if err != nil {
		return nil, fmt.Errorf("dialog: build digest credentials: %w", err)
	}

	if c.Proxy {
		h := sip.ProxyAuthorizationHeader(cred.String())
		return &h, nil
	}
	h := sip.AuthorizationHeader(cred.String())
	return &h, nil
}
