// Package oauth2token implements the scope-keyed token provider: a single
// method, "give me an access token valid for this set of scopes", backed by
// an in-memory cache with at most one slow-path refresh-or-PKCE flow in
// flight per provider instance at a time.
package oauth2token

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/oauth2"

	"github.com/tonimelisma/fsync/internal/fserrors"
)

// entry is one cached token, keyed by its scope set.
type entry struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	Expiry       time.Time `json:"expiry,omitempty"`
}

func (e entry) expired() bool {
	return !e.Expiry.IsZero() && !time.Now().Before(e.Expiry)
}

// Provider serves tokens for arbitrary scope sets against a single OAuth2
// application registration.
type Provider struct {
	cfg     *oauth2.Config
	openURL func(string) error

	persist  Persist
	diskPath string

	mu     sync.RWMutex
	tokens map[string]entry

	// slowMu serializes every refresh-or-PKCE flow: at most one runs at once
	// per provider instance, regardless of which scope set triggered it.
	slowMu sync.Mutex

	httpClient *http.Client
}

// New constructs a Provider. When persist is MemoryAndDisk, diskPath is
// loaded immediately; a missing or unreadable file yields an empty cache
// rather than an error.
func New(cfg *oauth2.Config, openURL func(string) error, persist Persist, diskPath string) *Provider {
	p := &Provider{
		cfg:        cfg,
		openURL:    openURL,
		persist:    persist,
		diskPath:   diskPath,
		tokens:     make(map[string]entry),
		httpClient: http.DefaultClient,
	}

	if persist == PersistMemoryAndDisk {
		if loaded, err := loadDisk(diskPath); err == nil {
			p.tokens = loaded
		}
	}

	return p
}

// scopeKey hashes the sorted scope list into a stable cache key.
func scopeKey(scopes []string) string {
	sorted := append([]string(nil), scopes...)
	sort.Strings(sorted)

	sum := sha256.Sum256([]byte(strings.Join(sorted, "\x00")))

	return hex.EncodeToString(sum[:])
}

// GetToken returns an access token valid for scopes, refreshing or running
// the PKCE flow as needed. Two concurrent calls (for the same or different
// scopes) invoke at most one slow path at a time.
func (p *Provider) GetToken(ctx context.Context, scopes []string) (string, error) {
	key := scopeKey(scopes)

	if tok, ok := p.cached(key); ok {
		return tok.AccessToken, nil
	}

	p.slowMu.Lock()
	defer p.slowMu.Unlock()

	// Re-check: another goroutine may have refreshed while we waited.
	if tok, ok := p.cached(key); ok {
		return tok.AccessToken, nil
	}

	prior, hadPrior := p.lookupRaw(key)

	if hadPrior && prior.RefreshToken != "" {
		tok, err := p.refresh(ctx, prior.RefreshToken)
		if err == nil {
			p.store(key, tok)

			return tok.AccessToken, nil
		}

		if isNetworkError(err) {
			return "", fserrors.New(fserrors.ClassAuth, "refreshing token", err)
		}
		// Non-network refresh failure: fall through to PKCE.
	}

	tok, err := p.runPKCE(ctx, scopes)
	if err != nil {
		return "", err
	}

	p.store(key, tok)

	return tok.AccessToken, nil
}

func (p *Provider) cached(key string) (entry, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	e, ok := p.tokens[key]
	if !ok || e.expired() {
		return entry{}, false
	}

	return e, true
}

// lookupRaw returns whatever is cached for key, expired or not — used to
// decide whether a refresh token is available to try before falling back
// to PKCE.
func (p *Provider) lookupRaw(key string) (entry, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	e, ok := p.tokens[key]

	return e, ok
}

func (p *Provider) store(key string, e entry) {
	p.mu.Lock()
	p.tokens[key] = e
	p.mu.Unlock()
}

func (p *Provider) refresh(ctx context.Context, refreshToken string) (entry, error) {
	src := p.cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})

	op := func() (entry, error) {
		tok, err := src.Token()
		if err != nil {
			return entry{}, err
		}

		return entry{AccessToken: tok.AccessToken, RefreshToken: tok.RefreshToken, Expiry: tok.Expiry}, nil
	}

	return backoff.Retry(ctx, op, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxTries(3))
}

// isNetworkError reports whether err looks like a transient network failure
// (worth surfacing to the caller) as opposed to a permanent auth rejection
// (worth falling through to PKCE for).
func isNetworkError(err error) bool {
	var netErr net.Error

	return errors.As(err, &netErr)
}

// Invalidate evicts the cached entry for scopes, forcing the next GetToken
// call to take the refresh-or-PKCE slow path. Intended for a caller that
// received an Auth error from a downstream call made with a token this
// provider issued, and suspects it was revoked server-side before its
// recorded expiry.
func (p *Provider) Invalidate(scopes []string) {
	key := scopeKey(scopes)

	p.mu.Lock()
	delete(p.tokens, key)
	p.mu.Unlock()
}

// PersistCache writes the in-memory token map to disk, if persistence is
// configured as MemoryAndDisk. No-op otherwise.
func (p *Provider) PersistCache() error {
	if p.persist != PersistMemoryAndDisk {
		return nil
	}

	p.mu.RLock()
	snapshot := make(map[string]entry, len(p.tokens))

	for k, v := range p.tokens {
		snapshot[k] = v
	}
	p.mu.RUnlock()

	return saveDisk(p.diskPath, snapshot)
}
