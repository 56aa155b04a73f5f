package replicamaint

import (
	"context"
	"os"
	"path/filepath"

	"github.com/lsst-qserv/worker-replicad/internal/catalog"
	"github.com/lsst-qserv/worker-replicad/internal/fsname"
	"github.com/lsst-qserv/worker-replicad/internal/protocol"
	"github.com/lsst-qserv/worker-replicad/internal/replica"
	"github.com/lsst-qserv/worker-replicad/internal/request"
)

// checksumSliceBytes bounds the amount of file content one Execute call
// processes, keeping the request responsive to cancellation while it
// drives the incremental checksum engine.
const checksumSliceBytes = 1 << 20

// FindParams is the caller-supplied payload for replica-find.
type FindParams struct {
	Database  string
	Chunk     int
	ComputeCS bool
}

type findFile struct {
	name  string
	path  string
	size  int64
	mtime int64

	f    *os.File
	sum  uint64
	done bool
}

// FindRequest inspects one (database, chunk) and, optionally, checksums
// every present file using a re-entrant incremental engine that consumes
// a bounded slice of bytes per Execute call.
type FindRequest struct {
	*request.Base

	params  FindParams
	cat     *catalog.Catalog
	worker  string
	dataDir string

	names   []string
	files   []*findFile
	cursor  int
	started bool

	result *replica.Descriptor
}

// NewFind constructs a replica-find request.
func NewFind(base *request.Base, params FindParams, cat *catalog.Catalog, worker, dataDir string) *FindRequest {
	return &FindRequest{Base: base, params: params, cat: cat, worker: worker, dataDir: dataDir}
}

// Execute implements request.Executable.
func (r *FindRequest) Execute(ctx context.Context) (bool, error) {
	if err := r.CheckCancelling(); err != nil {
		return false, err
	}

	if !r.started {
		if err := r.scan(); err != nil {
			r.Finish(protocol.StatusFailed, protocol.ExtInvalidParam)
			return true, err
		}
		r.started = true
		if !r.params.ComputeCS || len(r.files) == 0 {
			return r.finish()
		}
	}

	if r.cursor >= len(r.files) {
		return r.finish()
	}

	fw := r.files[r.cursor]
	if fw.f == nil {
		f, err := os.Open(fw.path)
		if err != nil {
			r.Finish(protocol.StatusFailed, protocol.ExtFileOpen)
			return true, err
		}
		fw.f = f
	}

	buf := make([]byte, checksumSliceBytes)
	n, err := fw.f.Read(buf)
	if n > 0 {
		fw.sum = addChecksum(fw.sum, buf[:n])
	}
	if err != nil {
		fw.f.Close()
		fw.f = nil
		fw.done = true
		r.cursor++
		return false, nil
	}
	return false, nil
}

func (r *FindRequest) scan() error {
	names, err := r.cat.PartitionedFiles(r.params.Database, r.params.Chunk)
	if err != nil {
		return err
	}
	r.names = names
	r.result = replica.NewDescriptor(r.worker, r.params.Database, r.params.Chunk)
	dbDir, err := fsname.DatabaseDir(r.dataDir, r.params.Database)
	if err != nil {
		return err
	}

	for _, name := range names {
		path := filepath.Join(dbDir, name)
		info, statErr := os.Stat(path)
		if statErr != nil {
			continue
		}
		r.files = append(r.files, &findFile{name: name, path: path, size: info.Size(), mtime: info.ModTime().Unix()})
	}
	return nil
}

func (r *FindRequest) finish() (bool, error) {
	for _, fw := range r.files {
		r.result.Files[fw.name] = replica.FileInfo{Name: fw.name, Size: fw.size, MtimeUnix: fw.mtime, CS: fw.sum}
	}
	r.result.SetStatusFromCounts(len(r.files), len(r.names))
	r.Finish(protocol.StatusSuccess, protocol.ExtNone)
	return true, nil
}

// Result implements request.Executable.
func (r *FindRequest) Result() any { return r.result }

func addChecksum(running uint64, buf []byte) uint64 {
	for _, b := range buf {
		running += uint64(b)
	}
	return running
}
