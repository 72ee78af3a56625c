package oauth2token

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func tokenServer(t *testing.T) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "access-1",
			"refresh_token": "refresh-1",
			"token_type":    "Bearer",
			"expires_in":    3600,
		})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return srv
}

// fakeBrowser drives the PKCE loopback callback synchronously: it parses
// the authorization URL's redirect_uri and state, dials the listener, and
// sends a minimal HTTP/1.1 GET carrying a fixed authorization code.
func fakeBrowser() func(string) error {
	return func(authURL string) error {
		u, err := url.Parse(authURL)
		if err != nil {
			return err
		}

		redirect, err := url.Parse(u.Query().Get("redirect_uri"))
		if err != nil {
			return err
		}

		state := u.Query().Get("state")

		conn, err := net.Dial("tcp", redirect.Host)
		if err != nil {
			return err
		}
		defer conn.Close()

		req := fmt.Sprintf("GET %s?code=auth-code-1&state=%s HTTP/1.1\r\nHost: %s\r\n\r\n",
			redirect.Path, state, redirect.Host)

		if _, err := conn.Write([]byte(req)); err != nil {
			return err
		}

		_, _ = bufio.NewReader(conn).ReadString('\n')

		return nil
	}
}

func TestGetTokenRunsPKCEOnFirstCall(t *testing.T) {
	srv := tokenServer(t)

	cfg := &oauth2.Config{
		ClientID: "test-client",
		Endpoint: oauth2.Endpoint{AuthURL: srv.URL + "/authorize", TokenURL: srv.URL + "/token"},
	}

	p := New(cfg, fakeBrowser(), PersistNone, "")

	tok, err := p.GetToken(t.Context(), []string{"scope.a", "scope.b"})
	require.NoError(t, err)
	assert.Equal(t, "access-1", tok)
}

func TestGetTokenCachesWithinScopeSet(t *testing.T) {
	srv := tokenServer(t)

	var pkceRuns int32

	cfg := &oauth2.Config{
		ClientID: "test-client",
		Endpoint: oauth2.Endpoint{AuthURL: srv.URL + "/authorize", TokenURL: srv.URL + "/token"},
	}

	browser := fakeBrowser()
	p := New(cfg, func(u string) error {
		atomic.AddInt32(&pkceRuns, 1)

		return browser(u)
	}, PersistNone, "")

	_, err := p.GetToken(t.Context(), []string{"scope.a"})
	require.NoError(t, err)

	_, err = p.GetToken(t.Context(), []string{"scope.a"})
	require.NoError(t, err)

	assert.EqualValues(t, 1, atomic.LoadInt32(&pkceRuns))
}

func TestGetTokenDifferentScopesRunPKCEIndependently(t *testing.T) {
	srv := tokenServer(t)

	cfg := &oauth2.Config{
		ClientID: "test-client",
		Endpoint: oauth2.Endpoint{AuthURL: srv.URL + "/authorize", TokenURL: srv.URL + "/token"},
	}

	p := New(cfg, fakeBrowser(), PersistNone, "")

	_, err := p.GetToken(t.Context(), []string{"scope.a"})
	require.NoError(t, err)

	_, err = p.GetToken(t.Context(), []string{"scope.b"})
	require.NoError(t, err)
}

func TestPersistMemoryAndDiskRoundtrip(t *testing.T) {
	srv := tokenServer(t)

	cfg := &oauth2.Config{
		ClientID: "test-client",
		Endpoint: oauth2.Endpoint{AuthURL: srv.URL + "/authorize", TokenURL: srv.URL + "/token"},
	}

	path := filepath.Join(t.TempDir(), "token_cache.json")

	p := New(cfg, fakeBrowser(), PersistMemoryAndDisk, path)
	_, err := p.GetToken(t.Context(), []string{"scope.a"})
	require.NoError(t, err)
	require.NoError(t, p.PersistCache())

	p2 := New(cfg, fakeBrowser(), PersistMemoryAndDisk, path)
	tok, err := p2.GetToken(t.Context(), []string{"scope.a"})
	require.NoError(t, err)
	assert.Equal(t, "access-1", tok)
}

func TestScopeKeyIsOrderIndependent(t *testing.T) {
	assert.Equal(t, scopeKey([]string{"a", "b"}), scopeKey([]string{"b", "a"}))
	assert.NotEqual(t, scopeKey([]string{"a", "b"}), scopeKey([]string{"a", "c"}))
}

func TestEntryExpired(t *testing.T) {
	assert.False(t, entry{}.expired())
	assert.True(t, entry{Expiry: time.Now().Add(-time.Minute)}.expired())
	assert.False(t, entry{Expiry: time.Now().Add(time.Minute)}.expired())
}
