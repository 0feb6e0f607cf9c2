// Package logging provides the named log endpoints the edge router writes to,
// and the service logger built on top of them.
package logging

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// Destination names understood by Open.
const (
	DestStdout  = "stdout"
	DestStderr  = "stderr"
	DestDiscard = "discard"
)

// ErrSharedDestination is returned by GetDistinct when two endpoints resolve to
// the same destination.
var ErrSharedDestination = errors.New("endpoints share a destination")

// Endpoint is a named, line-oriented log output.
// It is safe for concurrent use.
type Endpoint struct {
	name string

	mu     sync.Mutex
	w      io.Writer
	closer io.Closer
	echo   io.Writer
}

// Name returns the endpoint name.
func (e *Endpoint) Name() string {
	return e.name
}

// WriteLine writes line followed by a newline.
func (e *Endpoint) WriteLine(line []byte) error {
	line = bytes.TrimRight(line, "\n")

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := writeLine(e.w, line); err != nil {
		return fmt.Errorf("writing to endpoint %s: %w", e.name, err)
	}
	if e.echo != nil {
		_ = writeLine(e.echo, line)
	}
	return nil
}

// Write implements io.Writer so an Endpoint can back an slog handler.
// Each call is expected to carry whole lines.
func (e *Endpoint) Write(p []byte) (int, error) {
	if err := e.WriteLine(p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func writeLine(w io.Writer, line []byte) error {
	buf := make([]byte, 0, len(line)+1)
	buf = append(buf, line...)
	buf = append(buf, '\n')
	_, err := w.Write(buf)
	return err
}

// Close flushes and closes the underlying destination.
func (e *Endpoint) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closer == nil {
		return nil
	}
	err := e.closer.Close()
	e.closer = nil
	return err
}

// Endpoints is the set of named log endpoints.
type Endpoints struct {
	mu        sync.Mutex
	byName    map[string]*Endpoint
	dests     map[string]string
	console   io.Writer
	echo      bool
	openFiles map[string]*Endpoint
}

// Option configures Endpoints.
type Option func(*Endpoints)

// WithEcho copies every line written to a non-console endpoint to the console.
func WithEcho(echo bool) Option {
	return func(e *Endpoints) {
		e.echo = echo
	}
}

// WithConsole sets the writer used for the stdout destination and for echo.
func WithConsole(w io.Writer) Option {
	return func(e *Endpoints) {
		e.console = w
	}
}

// Open creates the endpoint set. dests maps endpoint names to destinations;
// endpoints are opened lazily on first use.
func Open(dests map[string]string, opts ...Option) *Endpoints {
	e := &Endpoints{
		byName:    make(map[string]*Endpoint),
		dests:     dests,
		console:   os.Stdout,
		openFiles: make(map[string]*Endpoint),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Get returns the endpoint with the given name, opening its destination if needed.
func (e *Endpoints) Get(name string) (*Endpoint, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if ep, ok := e.byName[name]; ok {
		return ep, nil
	}

	ep, err := e.open(name, e.destination(name))
	if err != nil {
		return nil, err
	}
	e.byName[name] = ep
	return ep, nil
}

func (e *Endpoints) open(name, dest string) (*Endpoint, error) {
	switch dest {
	case DestStdout:
		return &Endpoint{name: name, w: e.console}, nil
	case DestStderr:
		return &Endpoint{name: name, w: os.Stderr, echo: e.echoWriter()}, nil
	case DestDiscard:
		return &Endpoint{name: name, w: io.Discard, echo: e.echoWriter()}, nil
	}

	path := dest

	// Two endpoints pointing at the same file share one writer.
	if shared, ok := e.openFiles[path]; ok {
		return shared, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating directory for endpoint %s: %w", name, err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening endpoint %s: %w", name, err)
	}

	ep := &Endpoint{name: name, w: f, closer: f, echo: e.echoWriter()}

	if strings.HasSuffix(path, ".zst") {
		enc, err := zstd.NewWriter(f)
		if err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("creating zstd writer for endpoint %s: %w", name, err)
		}
		ep.w = enc
		ep.closer = &zstdFile{enc: enc, f: f}
	}

	e.openFiles[path] = ep
	return ep, nil
}

// Destination returns where the named endpoint writes: stdout, stderr,
// discard or a cleaned file path.
func (e *Endpoints) Destination(name string) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.destination(name)
}

func (e *Endpoints) destination(name string) string {
	dest := e.dests[name]
	switch dest {
	case "":
		return DestStdout
	case DestStdout, DestStderr, DestDiscard:
		return dest
	}
	return filepath.Clean(strings.TrimPrefix(dest, "file://"))
}

// GetDistinct returns the endpoint called name, refusing it with
// ErrSharedDestination when it would write to the same stdout, stderr or file
// as the endpoint called other.
func (e *Endpoints) GetDistinct(name, other string) (*Endpoint, error) {
	dest := e.Destination(name)
	if dest != DestDiscard && dest == e.Destination(other) {
		return nil, fmt.Errorf("%w: %s and %s both write to %s", ErrSharedDestination, name, other, dest)
	}
	return e.Get(name)
}

func (e *Endpoints) echoWriter() io.Writer {
	if e.echo {
		return e.console
	}
	return nil
}

// Close closes all opened endpoints.
func (e *Endpoints) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	var errs []error
	for _, ep := range e.byName {
		if err := ep.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// zstdFile closes the encoder (flushing the final frame) before the file.
type zstdFile struct {
	enc *zstd.Encoder
	f   *os.File
}

func (z *zstdFile) Close() error {
	return errors.Join(z.enc.Close(), z.f.Close())
}
