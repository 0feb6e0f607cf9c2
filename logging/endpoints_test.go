package logging

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/require"
)

func TestEndpointDefaultsToConsole(t *testing.T) {
	var console bytes.Buffer
	eps := Open(nil, WithConsole(&console))

	ep, err := eps.Get("request-logs")
	require.NoError(t, err)
	require.Equal(t, "request-logs", ep.Name())

	require.NoError(t, ep.WriteLine([]byte(`{"V1":{}}`)))
	require.Equal(t, "{\"V1\":{}}\n", console.String())
}

func TestEndpointGetIsCached(t *testing.T) {
	eps := Open(nil, WithConsole(io.Discard))

	a, err := eps.Get("service-logs")
	require.NoError(t, err)
	b, err := eps.Get("service-logs")
	require.NoError(t, err)
	require.Same(t, a, b)
}

func TestEndpointWriteLineAddsSingleNewline(t *testing.T) {
	var console bytes.Buffer
	eps := Open(nil, WithConsole(&console))
	ep, err := eps.Get("x")
	require.NoError(t, err)

	require.NoError(t, ep.WriteLine([]byte("one\n")))
	require.NoError(t, ep.WriteLine([]byte("two")))
	require.Equal(t, "one\ntwo\n", console.String())
}

func TestEndpointFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "requests.log")
	eps := Open(map[string]string{"request-logs": path}, WithConsole(io.Discard))

	ep, err := eps.Get("request-logs")
	require.NoError(t, err)
	require.NoError(t, ep.WriteLine([]byte("line 1")))
	require.NoError(t, ep.WriteLine([]byte("line 2")))
	require.NoError(t, eps.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "line 1\nline 2\n", string(data))
}

func TestEndpointFileURL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "service.log")
	eps := Open(map[string]string{"service-logs": "file://" + path}, WithConsole(io.Discard))

	ep, err := eps.Get("service-logs")
	require.NoError(t, err)
	require.NoError(t, ep.WriteLine([]byte("hello")))
	require.NoError(t, eps.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "hello\n", string(data))
}

func TestEndpointZstdFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "requests.log.zst")
	eps := Open(map[string]string{"request-logs": path}, WithConsole(io.Discard))

	ep, err := eps.Get("request-logs")
	require.NoError(t, err)
	for i := 0; i < 100; i++ {
		require.NoError(t, ep.WriteLine([]byte(`{"V1":{"status":200}}`)))
	}
	require.NoError(t, eps.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	dec, err := zstd.NewReader(f)
	require.NoError(t, err)
	defer dec.Close()

	data, err := io.ReadAll(dec)
	require.NoError(t, err)
	require.Equal(t, 100, strings.Count(string(data), "\n"))
}

func TestEndpointsShareFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "all.log")
	eps := Open(map[string]string{"a": path, "b": path}, WithConsole(io.Discard))

	a, err := eps.Get("a")
	require.NoError(t, err)
	b, err := eps.Get("b")
	require.NoError(t, err)
	require.Same(t, a, b)

	require.NoError(t, a.WriteLine([]byte("from a")))
	require.NoError(t, b.WriteLine([]byte("from b")))
	require.NoError(t, eps.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "from a\nfrom b\n", string(data))
}

func TestEndpointEcho(t *testing.T) {
	var console bytes.Buffer
	path := filepath.Join(t.TempDir(), "requests.log")
	eps := Open(map[string]string{"request-logs": path, "quiet": DestDiscard}, WithConsole(&console), WithEcho(true))

	ep, err := eps.Get("request-logs")
	require.NoError(t, err)
	require.NoError(t, ep.WriteLine([]byte("echoed")))

	quiet, err := eps.Get("quiet")
	require.NoError(t, err)
	require.NoError(t, quiet.WriteLine([]byte("also echoed")))

	require.Equal(t, "echoed\nalso echoed\n", console.String())
	require.NoError(t, eps.Close())
}

func TestEndpointStdoutNotEchoedTwice(t *testing.T) {
	var console bytes.Buffer
	eps := Open(nil, WithConsole(&console), WithEcho(true))

	ep, err := eps.Get("request-logs")
	require.NoError(t, err)
	require.NoError(t, ep.WriteLine([]byte("once")))
	require.Equal(t, "once\n", console.String())
}

func TestEndpointConcurrentWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "requests.log")
	eps := Open(map[string]string{"request-logs": path}, WithConsole(io.Discard))
	ep, err := eps.Get("request-logs")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_ = ep.WriteLine([]byte("0123456789"))
			}
		}()
	}
	wg.Wait()
	require.NoError(t, eps.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
	require.Len(t, lines, 1000)
	for _, l := range lines {
		require.Equal(t, "0123456789", l)
	}
}

func TestEndpointOpenError(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0o600))

	eps := Open(map[string]string{"bad": filepath.Join(blocker, "nested", "x.log")})
	_, err := eps.Get("bad")
	require.Error(t, err)
}

func TestEndpointDestination(t *testing.T) {
	dir := t.TempDir()
	eps := Open(map[string]string{
		"service-logs": "stderr",
		"traces":       "file://" + dir + "/sub/../traces.log",
		"quiet":        "discard",
	}, WithConsole(io.Discard))

	require.Equal(t, DestStdout, eps.Destination("request-logs"))
	require.Equal(t, DestStderr, eps.Destination("service-logs"))
	require.Equal(t, DestDiscard, eps.Destination("quiet"))
	require.Equal(t, filepath.Join(dir, "traces.log"), eps.Destination("traces"))
}

func TestGetDistinctRefusesSharedDestination(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name  string
		dests map[string]string
	}{
		{name: "both default to stdout", dests: nil},
		{name: "explicit stdout", dests: map[string]string{"traces": "stdout"}},
		{name: "same file", dests: map[string]string{
			"traces":       filepath.Join(dir, "out.log"),
			"request-logs": "file://" + filepath.Join(dir, "out.log"),
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var console bytes.Buffer
			eps := Open(tt.dests, WithConsole(&console))

			_, err := eps.GetDistinct("traces", "request-logs")
			require.ErrorIs(t, err, ErrSharedDestination)
			require.Empty(t, console.String())
		})
	}
}

func TestGetDistinctAllowsSeparateDestinations(t *testing.T) {
	var console bytes.Buffer
	eps := Open(map[string]string{"traces": "stderr"}, WithConsole(&console))

	ep, err := eps.GetDistinct("traces", "request-logs")
	require.NoError(t, err)
	require.Equal(t, "traces", ep.Name())

	eps = Open(map[string]string{"traces": "discard", "request-logs": "discard"}, WithConsole(&console))
	_, err = eps.GetDistinct("traces", "request-logs")
	require.NoError(t, err)
}
