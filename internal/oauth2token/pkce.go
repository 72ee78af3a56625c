package oauth2token

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"

	"golang.org/x/oauth2"

	"github.com/tonimelisma/fsync/internal/fserrors"
)

const stateTokenBytes = 16

// runPKCE performs the loopback-redirect PKCE authorization code flow
// (spec.md §4.7.1): bind an ephemeral local listener, send the user to the
// provider's authorization page, accept exactly one callback connection,
// parse it by hand (a minimal HTTP/1.1 subset — no net/http involved, since
// this is a one-shot single-connection server, not a long-lived service),
// and exchange the code for tokens.
func (p *Provider) runPKCE(ctx context.Context, scopes []string) (entry, error) {
	lc := net.ListenConfig{}

	listener, err := lc.Listen(ctx, "tcp", "127.0.0.1:0")
	if err != nil {
		return entry{}, fserrors.New(fserrors.ClassAuth, "binding PKCE callback listener", err)
	}
	defer listener.Close()

	port := listener.Addr().(*net.TCPAddr).Port

	verifier := oauth2.GenerateVerifier()

	state, err := generateState()
	if err != nil {
		return entry{}, fserrors.New(fserrors.ClassAuth, "generating PKCE state", err)
	}

	cfg := *p.cfg
	cfg.Scopes = scopes
	cfg.RedirectURL = fmt.Sprintf("http://127.0.0.1:%d/callback", port)

	authURL := cfg.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.S256ChallengeOption(verifier))

	launchBrowser(p.openURL, authURL)

	code, err := acceptCallback(ctx, listener, state)
	if err != nil {
		return entry{}, err
	}

	tok, err := cfg.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		return entry{}, fserrors.New(fserrors.ClassAuth, "exchanging PKCE code", err)
	}

	return entry{AccessToken: tok.AccessToken, RefreshToken: tok.RefreshToken, Expiry: tok.Expiry}, nil
}

func launchBrowser(openURL func(string) error, authURL string) {
	if openURL == nil {
		fmt.Fprintf(os.Stderr, "Open this URL in your browser:\n%s\n", authURL)

		return
	}

	if err := openURL(authURL); err != nil {
		fmt.Fprintf(os.Stderr, "Open this URL in your browser:\n%s\n", authURL)
	}
}

// acceptCallback accepts exactly one inbound connection, parses the request
// line and headers, validates the CSRF state, and returns the authorization
// code.
func acceptCallback(ctx context.Context, listener net.Listener, wantState string) (string, error) {
	type result struct {
		conn net.Conn
		err  error
	}

	accepted := make(chan result, 1)

	go func() {
		conn, err := listener.Accept()
		accepted <- result{conn: conn, err: err}
	}()

	var res result

	select {
	case res = <-accepted:
	case <-ctx.Done():
		return "", fserrors.New(fserrors.ClassAuth, "PKCE callback wait canceled", ctx.Err())
	}

	if res.err != nil {
		return "", fserrors.New(fserrors.ClassAuth, "accepting PKCE callback", res.err)
	}

	conn := res.conn
	defer conn.Close()

	target, _, err := readRequest(conn)
	if err != nil {
		writeResponse(conn, 400, "Bad Request")

		return "", fserrors.New(fserrors.ClassAuth, "parsing PKCE callback request", err)
	}

	u, err := url.ParseRequestURI(target)
	if err != nil {
		writeResponse(conn, 400, "Bad Request")

		return "", fserrors.New(fserrors.ClassAuth, "parsing PKCE callback target", err)
	}

	q := u.Query()

	if q.Get("state") != wantState {
		writeResponse(conn, 401, "Unauthorized")

		return "", fserrors.New(fserrors.ClassAuth, "PKCE callback state mismatch", nil)
	}

	if msg := q.Get("error"); msg != "" {
		writeResponse(conn, 400, "Bad Request")

		return "", fserrors.New(fserrors.ClassAuth, "authorization denied: "+msg, nil)
	}

	code := q.Get("code")
	if code == "" {
		writeResponse(conn, 400, "Bad Request")

		return "", fserrors.New(fserrors.ClassAuth, "PKCE callback missing code", nil)
	}

	writeResponse(conn, 200, "Authentication successful, you may close this window.")

	return code, nil
}

// readRequest parses a minimal HTTP/1.1 subset off conn: the request line
// and headers terminated by a blank line. Content-Length bodies are read
// and discarded; Transfer-Encoding is rejected (chunked bodies are not
// supported by this one-shot server).
func readRequest(conn net.Conn) (target string, headers map[string]string, err error) {
	r := bufio.NewReader(conn)

	line, err := r.ReadString('\n')
	if err != nil {
		return "", nil, fmt.Errorf("reading request line: %w", err)
	}

	parts := strings.Fields(line)
	if len(parts) != 3 {
		return "", nil, fmt.Errorf("malformed request line %q", strings.TrimSpace(line))
	}

	target = parts[1]
	headers = make(map[string]string)

	for {
		hl, err := r.ReadString('\n')
		if err != nil {
			return "", nil, fmt.Errorf("reading headers: %w", err)
		}

		hl = strings.TrimRight(hl, "\r\n")
		if hl == "" {
			break
		}

		name, value, ok := strings.Cut(hl, ":")
		if !ok {
			continue
		}

		headers[strings.ToLower(strings.TrimSpace(name))] = strings.TrimSpace(value)
	}

	if _, ok := headers["transfer-encoding"]; ok {
		return "", nil, fmt.Errorf("chunked transfer-encoding not supported")
	}

	if cl, ok := headers["content-length"]; ok {
		n, err := strconv.Atoi(cl)
		if err != nil {
			return "", nil, fmt.Errorf("malformed content-length: %w", err)
		}

		if n > 0 {
			if _, err := io.CopyN(io.Discard, r, int64(n)); err != nil {
				return "", nil, fmt.Errorf("reading body: %w", err)
			}
		}
	}

	return target, headers, nil
}

func writeResponse(conn net.Conn, status int, body string) {
	statusText := "OK"

	switch status {
	case 400:
		statusText = "Bad Request"
	case 401:
		statusText = "Unauthorized"
	}

	fmt.Fprintf(conn, "HTTP/1.1 %d %s\r\nContent-Type: text/html; charset=utf-8\r\nContent-Length: %d\r\nConnection: close\r\n\r\n%s",
		status, statusText, len(body), body)
}

func generateState() (string, error) {
	b := make([]byte, stateTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}

	return hex.EncodeToString(b), nil
}
