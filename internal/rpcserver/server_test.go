package rpcserver

import (
	"context"
	"net"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/fsync/internal/difftree"
	"github.com/tonimelisma/fsync/internal/engine"
	"github.com/tonimelisma/fsync/internal/metacache"
	"github.com/tonimelisma/fsync/internal/storage/localcloud"
	"github.com/tonimelisma/fsync/internal/storage/localfs"
)

// startTestServer builds an engine over a fresh local/remote pair, starts a
// Server against it, and returns its advertised port plus a shutdown func.
func startTestServer(t *testing.T) (port int, shutdown func()) {
	t.Helper()

	local := localfs.New(t.TempDir(), nil)
	remoteBackend := localcloud.New(t.TempDir())
	remote := metacache.New(remoteBackend, nil)
	require.NoError(t, remote.Enumerate(t.Context()))

	tr, err := difftree.Build(t.Context(), local, remote, nil)
	require.NoError(t, err)

	eng := engine.New(tr, local, remote, nil, nil)
	srv := New(eng, nil)

	ctx, cancel := context.WithCancel(context.Background())
	portFile := filepath.Join(t.TempDir(), "test.port")

	done := make(chan struct{})

	go func() {
		_ = srv.Serve(ctx, portFile)
		close(done)
	}()

	require.Eventually(t, func() bool {
		srv.mu.Lock()
		defer srv.mu.Unlock()

		return srv.listener != nil
	}, time.Second, 10*time.Millisecond)

	srv.mu.Lock()
	addr := srv.listener.Addr().(*net.TCPAddr)
	srv.mu.Unlock()

	return addr.Port, func() {
		cancel()
		<-done
	}
}

func dial(t *testing.T, port int) net.Conn {
	t.Helper()

	conn, err := net.Dial("tcp", "127.0.0.1:"+strconv.Itoa(port))
	require.NoError(t, err)

	return conn
}

func call(t *testing.T, conn net.Conn, req Request) Response {
	t.Helper()

	require.NoError(t, writeFrame(conn, req))

	var resp Response
	require.NoError(t, readFrame(conn, &resp))

	return resp
}

func TestServerDispatchesEntryNodeForRootPath(t *testing.T) {
	port, shutdown := startTestServer(t)
	defer shutdown()

	conn := dial(t, port)
	defer conn.Close()

	resp := call(t, conn, Request{Verb: VerbEntryNode, Path: "/"})
	require.Empty(t, resp.Err)
	require.NotNil(t, resp.Node)
	require.Equal(t, "/", resp.Node.Path)
}

func TestServerDispatchesSyncOnMissingPathReturnsError(t *testing.T) {
	port, shutdown := startTestServer(t)
	defer shutdown()

	conn := dial(t, port)
	defer conn.Close()

	resp := call(t, conn, Request{Verb: VerbSync, Path: "/missing.txt"})
	require.NotEmpty(t, resp.Err)
}

func TestServerDispatchesConflictsOnEmptyTree(t *testing.T) {
	port, shutdown := startTestServer(t)
	defer shutdown()

	conn := dial(t, port)
	defer conn.Close()

	resp := call(t, conn, Request{Verb: VerbConflicts, Prefix: "/", Limit: 10})
	require.Empty(t, resp.Err)
	require.Empty(t, resp.Conflicts)
}

func TestServerDispatchesProgressForUnknownPath(t *testing.T) {
	port, shutdown := startTestServer(t)
	defer shutdown()

	conn := dial(t, port)
	defer conn.Close()

	resp := call(t, conn, Request{Verb: VerbProgress, Path: "/a.txt"})
	require.NotEmpty(t, resp.Err)
	require.Nil(t, resp.Progress)
}

func TestServerUnknownVerbReturnsError(t *testing.T) {
	port, shutdown := startTestServer(t)
	defer shutdown()

	conn := dial(t, port)
	defer conn.Close()

	resp := call(t, conn, Request{Verb: Verb("bogus")})
	require.NotEmpty(t, resp.Err)
	require.True(t, strings.Contains(resp.Err, "bogus"))
}

func TestServerPersistsMultipleRequestsOnOneConnection(t *testing.T) {
	port, shutdown := startTestServer(t)
	defer shutdown()

	conn := dial(t, port)
	defer conn.Close()

	for i := 0; i < 3; i++ {
		resp := call(t, conn, Request{Verb: VerbEntryNode, Path: "/"})
		require.Empty(t, resp.Err)
		require.NotNil(t, resp.Node)
	}
}

func TestServerRejectsSecondConnectionFromSamePeer(t *testing.T) {
	port, shutdown := startTestServer(t)
	defer shutdown()

	first := dial(t, port)
	defer first.Close()

	// Keep the first channel alive by not closing it, then try a second
	// connection; since both dial from the loopback address with ephemeral
	// source ports that share the same peer IP, the per-IP limit rejects
	// whichever connection the server admits second.
	resp1 := call(t, first, Request{Verb: VerbEntryNode, Path: "/"})
	require.Empty(t, resp1.Err)

	second, err := net.Dial("tcp", "127.0.0.1:"+strconv.Itoa(port))
	require.NoError(t, err)
	defer second.Close()

	// The server accepted the TCP handshake for bookkeeping symmetry with
	// net.Listener but closes non-admitted connections immediately; a
	// subsequent read observes EOF rather than a valid response.
	_ = second.SetReadDeadline(time.Now().Add(2 * time.Second))

	err = writeFrame(second, Request{Verb: VerbEntryNode, Path: "/"})
	if err != nil {
		return
	}

	var resp Response
	err = readFrame(second, &resp)
	require.Error(t, err)
}

func TestServerShutdownRemovesPortFileAndStopsAcceptingConnections(t *testing.T) {
	local := localfs.New(t.TempDir(), nil)
	remoteBackend := localcloud.New(t.TempDir())
	remote := metacache.New(remoteBackend, nil)
	require.NoError(t, remote.Enumerate(t.Context()))

	tr, err := difftree.Build(t.Context(), local, remote, nil)
	require.NoError(t, err)

	eng := engine.New(tr, local, remote, nil, nil)
	srv := New(eng, nil)

	ctx, cancel := context.WithCancel(context.Background())
	portFile := filepath.Join(t.TempDir(), "inst.port")

	var wg sync.WaitGroup

	wg.Add(1)

	go func() {
		defer wg.Done()

		_ = srv.Serve(ctx, portFile)
	}()

	require.Eventually(t, func() bool {
		srv.mu.Lock()
		defer srv.mu.Unlock()

		return srv.listener != nil
	}, time.Second, 10*time.Millisecond)

	require.FileExists(t, portFile)

	cancel()
	wg.Wait()

	require.NoFileExists(t, portFile)
}
