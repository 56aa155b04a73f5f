// Package replicamaint implements replica-delete, replica-find, and
// replica-find-all: the three read-mostly counterparts to
// internal/replicacreate, all scanning or mutating
// <data-dir>/<database-fs-safe>/.
package replicamaint

import (
	"context"
	"os"
	"path/filepath"

	"github.com/lsst-qserv/worker-replicad/internal/catalog"
	"github.com/lsst-qserv/worker-replicad/internal/fsname"
	"github.com/lsst-qserv/worker-replicad/internal/namedmutex"
	"github.com/lsst-qserv/worker-replicad/internal/protocol"
	"github.com/lsst-qserv/worker-replicad/internal/replica"
	"github.com/lsst-qserv/worker-replicad/internal/request"
)

// DeleteParams is the caller-supplied payload for replica-delete.
type DeleteParams struct {
	Database string
	Chunk    int
}

// DeleteRequest removes every partitioned file of one (database, chunk)
// under the data-folder mutex. A replica that was never present is a
// legitimate NOT_FOUND result, not a failure.
type DeleteRequest struct {
	*request.Base

	params  DeleteParams
	cat     *catalog.Catalog
	mutexes *namedmutex.Registry
	worker  string
	dataDir string

	result *replica.Descriptor
}

// NewDelete constructs a replica-delete request.
func NewDelete(base *request.Base, params DeleteParams, cat *catalog.Catalog, mutexes *namedmutex.Registry, worker, dataDir string) *DeleteRequest {
	return &DeleteRequest{Base: base, params: params, cat: cat, mutexes: mutexes, worker: worker, dataDir: dataDir}
}

// Execute implements request.Executable. Replica-delete completes in a
// single call: there is no suspension point worth slicing across
// multiple Execute invocations.
func (r *DeleteRequest) Execute(ctx context.Context) (bool, error) {
	if err := r.CheckCancelling(); err != nil {
		return false, err
	}

	names, err := r.cat.PartitionedFiles(r.params.Database, r.params.Chunk)
	if err != nil {
		r.Finish(protocol.StatusFailed, protocol.ExtInvalidParam)
		return true, err
	}
	r.result = replica.NewDescriptor(r.worker, r.params.Database, r.params.Chunk)

	dbDir, err := fsname.DatabaseDir(r.dataDir, r.params.Database)
	if err != nil {
		r.Finish(protocol.StatusFailed, protocol.ExtInvalidParam)
		return true, err
	}
	present := 0
	var firstErr error
	var firstExt protocol.ExtendedStatus

	r.mutexes.WithLock(namedmutex.DataFolderKey(r.worker), func() {
		if _, statErr := os.Stat(dbDir); statErr != nil {
			return
		}
		for _, name := range names {
			path := filepath.Join(dbDir, name)
			info, statErr := os.Stat(path)
			if statErr != nil {
				continue
			}
			present++
			r.result.Files[name] = replica.FileInfo{Name: name, Size: info.Size(), MtimeUnix: info.ModTime().Unix()}
			if removeErr := os.Remove(path); removeErr != nil && firstErr == nil {
				firstErr = removeErr
				firstExt = protocol.ExtFileDelete
			}
		}
	})

	if firstErr != nil {
		r.Finish(protocol.StatusFailed, firstExt)
		return true, firstErr
	}

	r.result.SetStatusFromCounts(present, len(names))
	r.Finish(protocol.StatusSuccess, protocol.ExtNone)
	return true, nil
}

// Result implements request.Executable.
func (r *DeleteRequest) Result() any { return r.result }
