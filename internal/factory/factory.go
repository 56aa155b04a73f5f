// Package factory selects the replica-create transfer strategy named by
// the worker's configured technology, replacing the original deep
// WorkerReplicationRequest -> POSIX/FS subclass hierarchy with a single
// request type plus a pluggable stat/open/read capability chosen once at
// submit time.
package factory

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/lsst-qserv/worker-replicad/internal/fileclient"
)

// ErrFileMissing is wrapped into the error a strategy's Stat/Open returns
// when the peer's data directory does not contain the named file at all,
// distinguishing a genuinely missing input from a mechanical stat/open
// failure against a reachable file server.
var ErrFileMissing = errors.New("factory: file not found")

// ErrFileSize is wrapped into the error returned when a stat succeeds but
// the entry's reported size cannot be trusted for a data transfer, e.g.
// because the path names something other than a regular file.
var ErrFileSize = errors.New("factory: file size unavailable")

// PeerFile is a handle to one remote partitioned file, whether reached
// over the network (FS), the local filesystem (POSIX), or synthesized
// (TEST).
type PeerFile interface {
	Size() int64
	Mtime() int64
	Read(buf []byte) (int, error)
	Close() error
}

// TransferStrategy resolves and reads partitioned files belonging to a
// peer worker. Stat-only handles reject Read.
type TransferStrategy interface {
	Stat(ctx context.Context, worker, database, file string) (PeerFile, error)
	Open(ctx context.Context, worker, database, file string) (PeerFile, error)
}

// New selects a strategy by technology name. fsAddr resolves a worker
// name to its file-server TCP address for FS; posixDataDir resolves a
// worker name to the root of its data directory for POSIX. Both
// resolvers may be nil when the corresponding technology will not be
// used.
func New(technology string, fsAddr func(worker string) (string, error), posixDataDir func(worker string) (string, error)) (TransferStrategy, error) {
	switch technology {
	case "TEST":
		return testStrategy{}, nil
	case "POSIX":
		if posixDataDir == nil {
			return nil, fmt.Errorf("factory: POSIX technology requires a data-dir resolver")
		}
		return posixStrategy{dataDir: posixDataDir}, nil
	case "FS":
		if fsAddr == nil {
			return nil, fmt.Errorf("factory: FS technology requires a file-server address resolver")
		}
		return fsStrategy{addr: fsAddr}, nil
	default:
		return nil, fmt.Errorf("factory: unknown technology %q", technology)
	}
}

// --- FS: the general case, via the file client wire protocol. ---

type fsStrategy struct {
	addr func(worker string) (string, error)
}

type fsPeerFile struct{ c *fileclient.Client }

func (f fsPeerFile) Size() int64             { return f.c.Size() }
func (f fsPeerFile) Mtime() int64            { return f.c.Mtime() }
func (f fsPeerFile) Read(buf []byte) (int, error) { return f.c.Read(buf) }
func (f fsPeerFile) Close() error            { return f.c.Close() }

func (s fsStrategy) Stat(ctx context.Context, worker, database, file string) (PeerFile, error) {
	addr, err := s.addr(worker)
	if err != nil {
		return nil, err
	}
	c, err := fileclient.Stat(addr, database, file)
	if err != nil {
		return nil, err
	}
	return fsPeerFile{c: c}, nil
}

func (s fsStrategy) Open(ctx context.Context, worker, database, file string) (PeerFile, error) {
	addr, err := s.addr(worker)
	if err != nil {
		return nil, err
	}
	c, err := fileclient.Open(addr, database, file)
	if err != nil {
		return nil, err
	}
	return fsPeerFile{c: c}, nil
}

// --- POSIX: the peer's data directory is visible on the local filesystem. ---

type posixStrategy struct {
	dataDir func(worker string) (string, error)
}

type posixPeerFile struct {
	f           *os.File
	size, mtime int64
	readContent bool
}

func (p posixPeerFile) Size() int64  { return p.size }
func (p posixPeerFile) Mtime() int64 { return p.mtime }
func (p posixPeerFile) Read(buf []byte) (int, error) {
	if !p.readContent {
		return 0, fmt.Errorf("factory: posix handle opened in stat mode")
	}
	return p.f.Read(buf)
}
func (p posixPeerFile) Close() error {
	if p.f != nil {
		return p.f.Close()
	}
	return nil
}

func (s posixStrategy) open(ctx context.Context, worker, database, file string, readContent bool) (PeerFile, error) {
	dir, err := s.dataDir(worker)
	if err != nil {
		return nil, err
	}
	path := dir + "/" + database + "/" + file
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("factory: %w: %s", ErrFileMissing, path)
		}
		return nil, fmt.Errorf("factory: stat %s: %w", path, err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("factory: %w: %s is not a regular file", ErrFileSize, path)
	}
	pf := posixPeerFile{size: info.Size(), mtime: info.ModTime().Unix(), readContent: readContent}
	if readContent {
		f, err := os.Open(path)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, fmt.Errorf("factory: %w: %s", ErrFileMissing, path)
			}
			return nil, fmt.Errorf("factory: open %s: %w", path, err)
		}
		pf.f = f
	}
	return pf, nil
}

func (s posixStrategy) Stat(ctx context.Context, worker, database, file string) (PeerFile, error) {
	return s.open(ctx, worker, database, file, false)
}

func (s posixStrategy) Open(ctx context.Context, worker, database, file string) (PeerFile, error) {
	return s.open(ctx, worker, database, file, true)
}

// --- TEST: no-op side effects, deterministic synthetic content. ---

type testStrategy struct{}

type testPeerFile struct {
	size, mtime int64
	remaining   int64
	readContent bool
}

func (t *testPeerFile) Size() int64  { return t.size }
func (t *testPeerFile) Mtime() int64 { return t.mtime }
func (t *testPeerFile) Read(buf []byte) (int, error) {
	if !t.readContent {
		return 0, fmt.Errorf("factory: test handle opened in stat mode")
	}
	if t.remaining <= 0 {
		return 0, nil
	}
	n := int64(len(buf))
	if n > t.remaining {
		n = t.remaining
	}
	for i := int64(0); i < n; i++ {
		buf[i] = 0
	}
	t.remaining -= n
	return int(n), nil
}
func (t *testPeerFile) Close() error { return nil }

func (testStrategy) newHandle(readContent bool) PeerFile {
	const syntheticSize = 16
	return &testPeerFile{size: syntheticSize, mtime: time.Now().Unix(), remaining: syntheticSize, readContent: readContent}
}

func (s testStrategy) Stat(ctx context.Context, worker, database, file string) (PeerFile, error) {
	return s.newHandle(false), nil
}

func (s testStrategy) Open(ctx context.Context, worker, database, file string) (PeerFile, error) {
	return s.newHandle(true), nil
}
