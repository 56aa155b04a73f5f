package replicamaint

import (
	"context"
	"os"
	"regexp"
	"strconv"

	"github.com/lsst-qserv/worker-replicad/internal/fsname"
	"github.com/lsst-qserv/worker-replicad/internal/namedmutex"
	"github.com/lsst-qserv/worker-replicad/internal/protocol"
	"github.com/lsst-qserv/worker-replicad/internal/replica"
	"github.com/lsst-qserv/worker-replicad/internal/request"
)

// partitionedFileName matches "<table>_<chunk>.tsv" and its
// full-overlap companion "<table>FullOverlap_<chunk>.tsv". Temporary
// files (leading "_") also match it; the scan skips them explicitly.
var partitionedFileName = regexp.MustCompile(`^(.+?)_(\d+)\.tsv$`)

// FindAllParams is the caller-supplied payload for replica-find-all.
type FindAllParams struct {
	Database string
}

// FindAllRequest scans a database's data directory and groups its files
// by chunk, reporting each chunk's completeness against the canonical
// per-chunk file count derived from chunk 0.
type FindAllRequest struct {
	*request.Base

	params  FindAllParams
	mutexes *namedmutex.Registry
	worker  string
	dataDir string

	results []*replica.Descriptor
}

// NewFindAll constructs a replica-find-all request.
func NewFindAll(base *request.Base, params FindAllParams, mutexes *namedmutex.Registry, worker, dataDir string) *FindAllRequest {
	return &FindAllRequest{Base: base, params: params, mutexes: mutexes, worker: worker, dataDir: dataDir}
}

// Execute implements request.Executable. The directory scan is cheap
// enough to run to completion in a single call.
func (r *FindAllRequest) Execute(ctx context.Context) (bool, error) {
	if err := r.CheckCancelling(); err != nil {
		return false, err
	}

	dbDir, err := fsname.DatabaseDir(r.dataDir, r.params.Database)
	if err != nil {
		r.Finish(protocol.StatusFailed, protocol.ExtInvalidParam)
		return true, err
	}

	byChunk := make(map[int][]replica.FileInfo)
	var scanErr error
	r.mutexes.WithLock(namedmutex.DataFolderKey(r.worker), func() {
		entries, err := os.ReadDir(dbDir)
		if err != nil {
			scanErr = err
			return
		}
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			name := entry.Name()
			if len(name) > 0 && name[0] == '_' {
				continue
			}
			m := partitionedFileName.FindStringSubmatch(name)
			if m == nil {
				continue
			}
			chunk, convErr := strconv.Atoi(m[2])
			if convErr != nil {
				continue
			}
			info, statErr := entry.Info()
			if statErr != nil {
				continue
			}
			byChunk[chunk] = append(byChunk[chunk], replica.FileInfo{Name: name, Size: info.Size(), MtimeUnix: info.ModTime().Unix()})
		}
	})
	if scanErr != nil {
		r.Finish(protocol.StatusFailed, protocol.ExtFolderRead)
		return true, scanErr
	}

	canonical := len(byChunk[0])

	for chunk, files := range byChunk {
		d := replica.NewDescriptor(r.worker, r.params.Database, chunk)
		for _, fi := range files {
			d.Files[fi.Name] = fi
		}
		if canonical > 0 && len(files) == canonical {
			d.Status = protocol.ReplicaComplete
		} else {
			d.Status = protocol.ReplicaIncomplete
		}
		r.results = append(r.results, d)
	}

	r.Finish(protocol.StatusSuccess, protocol.ExtNone)
	return true, nil
}

// Result implements request.Executable.
func (r *FindAllRequest) Result() any { return r.results }
