// Package replicacreate implements the hardest stateful request: pull
// every partitioned file belonging to (database, chunk) from a peer
// worker's file server (or an equivalent local/synthetic source selected
// by internal/factory) into the local data directory, under the
// data-folder mutex discipline that makes the rename sweep observable by
// a concurrent find-all as all-or-nothing.
package replicacreate

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/lsst-qserv/worker-replicad/internal/catalog"
	"github.com/lsst-qserv/worker-replicad/internal/factory"
	"github.com/lsst-qserv/worker-replicad/internal/fsname"
	"github.com/lsst-qserv/worker-replicad/internal/namedmutex"
	"github.com/lsst-qserv/worker-replicad/internal/protocol"
	"github.com/lsst-qserv/worker-replicad/internal/replica"
	"github.com/lsst-qserv/worker-replicad/internal/request"
)

// classifyStrategyErr maps a factory.TransferStrategy Stat/Open failure to
// the extended status that names the cause: a peer-reported missing input
// file, an untrustworthy size on an irregular path, or — the general
// case, covering both FS file-server failures and any other POSIX
// stat/open error — a remote open failure.
func classifyStrategyErr(err error) protocol.ExtendedStatus {
	switch {
	case errors.Is(err, factory.ErrFileMissing):
		return protocol.ExtNoFile
	case errors.Is(err, factory.ErrFileSize):
		return protocol.ExtFileSize
	default:
		return protocol.ExtFileROpen
	}
}

type phase int

const (
	phaseInit phase = iota
	phaseCopy
	phaseFinalize
	phaseDone
)

// fileWork tracks one partitioned file through its temp-then-rename
// lifecycle.
type fileWork struct {
	name      string
	tempPath  string
	finalPath string
	size      int64
	mtime     int64

	peer  factory.PeerFile
	local *os.File

	inSize, outSize int64
	checksum        uint64
	beginMs, endMs  int64
}

// Params is the caller-supplied payload.
type Params struct {
	SourceWorker string
	Database     string
	Chunk        int
}

// Request implements the replica-create lifecycle.
type Request struct {
	*request.Base

	params   Params
	cat      *catalog.Catalog
	strategy factory.TransferStrategy
	mutexes  *namedmutex.Registry
	worker   string // this worker's own name, used as the data-folder mutex scope
	dataDir  string
	bufSize  int

	phase  phase
	files  []*fileWork
	cursor int
	total  int64

	result *replica.Descriptor
}

// New constructs a replica-create request in the CREATED state.
func New(base *request.Base, params Params, cat *catalog.Catalog, strategy factory.TransferStrategy, mutexes *namedmutex.Registry, worker, dataDir string, bufSize int) *Request {
	if bufSize <= 0 {
		bufSize = 1024 * 1024
	}
	return &Request{
		Base:     base,
		params:   params,
		cat:      cat,
		strategy: strategy,
		mutexes:  mutexes,
		worker:   worker,
		dataDir:  dataDir,
		bufSize:  bufSize,
	}
}

// Execute implements request.Executable.
func (r *Request) Execute(ctx context.Context) (bool, error) {
	if err := r.CheckCancelling(); err != nil {
		r.releaseAll()
		return false, err
	}

	switch r.phase {
	case phaseInit:
		if err := r.init(ctx); err != nil {
			r.releaseAll()
			r.Finish(protocol.StatusFailed, r.extendedStatusFor(err))
			return true, err
		}
		r.phase = phaseCopy
		if len(r.files) == 0 {
			r.phase = phaseFinalize
		}
		return false, nil

	case phaseCopy:
		done, err := r.copyStep(ctx)
		if err != nil {
			r.releaseAll()
			r.Finish(protocol.StatusFailed, r.extendedStatusFor(err))
			return true, err
		}
		if done {
			r.phase = phaseFinalize
		}
		return false, nil

	case phaseFinalize:
		if err := r.finalize(); err != nil {
			r.Finish(protocol.StatusFailed, r.extendedStatusFor(err))
			return true, err
		}
		r.phase = phaseDone
		r.result.Status = protocol.ReplicaComplete
		r.Finish(protocol.StatusSuccess, protocol.ExtNone)
		return true, nil

	default:
		return true, nil
	}
}

// Result implements request.Executable.
func (r *Request) Result() any { return r.result }

func (r *Request) extendedStatusFor(err error) protocol.ExtendedStatus {
	if es, ok := err.(extendedStatusError); ok {
		return es.ExtendedStatus()
	}
	return protocol.ExtOtherException
}

type extendedStatusError interface {
	error
	ExtendedStatus() protocol.ExtendedStatus
}

type fileErr struct {
	ext protocol.ExtendedStatus
	msg string
}

func (e fileErr) Error() string                         { return e.msg }
func (e fileErr) ExtendedStatus() protocol.ExtendedStatus { return e.ext }

func (r *Request) init(ctx context.Context) error {
	db, err := r.cat.Database(r.params.Database)
	if err != nil {
		return fileErr{protocol.ExtInvalidParam, err.Error()}
	}
	names, err := r.cat.PartitionedFiles(r.params.Database, r.params.Chunk)
	if err != nil {
		return fileErr{protocol.ExtInvalidParam, err.Error()}
	}
	_ = db

	outDir, err := fsname.DatabaseDir(r.dataDir, r.params.Database)
	if err != nil {
		return fileErr{protocol.ExtInvalidParam, err.Error()}
	}
	r.result = replica.NewDescriptor(r.worker, r.params.Database, r.params.Chunk)

	var initErr error
	r.mutexes.WithLock(namedmutex.DataFolderKey(r.worker), func() {
		for _, name := range names {
			peer, statErr := r.strategy.Stat(ctx, r.params.SourceWorker, r.params.Database, name)
			if statErr != nil {
				initErr = fileErr{classifyStrategyErr(statErr), statErr.Error()}
				return
			}
			fw := &fileWork{
				name:      name,
				tempPath:  filepath.Join(outDir, "_"+name),
				finalPath: filepath.Join(outDir, name),
				size:      peer.Size(),
				mtime:     peer.Mtime(),
			}
			peer.Close()
			r.files = append(r.files, fw)
			r.total += fw.size
		}
		if initErr != nil {
			return
		}

		info, statErr := os.Stat(outDir)
		if statErr != nil || !info.IsDir() {
			initErr = fileErr{protocol.ExtNoFolder, "output directory does not exist: " + outDir}
			return
		}

		for _, fw := range r.files {
			if _, statErr := os.Stat(fw.finalPath); statErr == nil {
				initErr = fileErr{protocol.ExtFileExists, "final file already exists: " + fw.finalPath}
				return
			}
			if _, statErr := os.Stat(fw.tempPath); statErr == nil {
				os.Remove(fw.tempPath)
			}
		}

		if initErr = checkSpace(outDir, r.total); initErr != nil {
			return
		}

		for _, fw := range r.files {
			f, createErr := os.Create(fw.tempPath)
			if createErr != nil {
				initErr = fileErr{protocol.ExtFileCreate, createErr.Error()}
				return
			}
			if truncErr := f.Truncate(fw.size); truncErr != nil {
				f.Close()
				initErr = fileErr{protocol.ExtFileResize, truncErr.Error()}
				return
			}
			f.Close()
		}
	})
	if initErr != nil {
		return initErr
	}

	if len(r.files) > 0 {
		if err := r.openPair(ctx, 0); err != nil {
			return err
		}
	}
	return nil
}

func (r *Request) openPair(ctx context.Context, idx int) error {
	fw := r.files[idx]
	peer, err := r.strategy.Open(ctx, r.params.SourceWorker, r.params.Database, fw.name)
	if err != nil {
		return fileErr{classifyStrategyErr(err), err.Error()}
	}
	local, err := os.OpenFile(fw.tempPath, os.O_WRONLY, 0644)
	if err != nil {
		peer.Close()
		return fileErr{protocol.ExtFileOpen, err.Error()}
	}
	fw.peer = peer
	fw.local = local
	fw.beginMs = time.Now().UnixMilli()
	r.cursor = idx
	return nil
}

func (r *Request) copyStep(ctx context.Context) (bool, error) {
	fw := r.files[r.cursor]
	buf := make([]byte, r.bufSize)
	n, err := fw.peer.Read(buf)
	if err != nil {
		return false, fileErr{protocol.ExtFileRead, err.Error()}
	}
	if n > 0 {
		if _, err := fw.local.Write(buf[:n]); err != nil {
			return false, fileErr{protocol.ExtFileWrite, err.Error()}
		}
		fw.outSize += int64(n)
		fw.inSize += int64(n)
		fw.checksum = addChecksum(fw.checksum, buf[:n])
		fw.endMs = time.Now().UnixMilli()
		return false, nil
	}

	// n == 0: either clean EOF at the expected size, or a short read.
	if fw.outSize != fw.size {
		return false, fileErr{protocol.ExtFileRead, "short read on " + fw.name}
	}
	fw.local.Close()
	fw.peer.Close()
	r.result.Files[fw.name] = replica.FileInfo{
		Name: fw.name, Size: fw.outSize, MtimeUnix: fw.mtime, CS: fw.checksum,
		BeginTransferMs: fw.beginMs, EndTransferMs: fw.endMs,
	}

	next := r.cursor + 1
	if next >= len(r.files) {
		return true, nil
	}
	if err := r.openPair(ctx, next); err != nil {
		return false, err
	}
	return false, nil
}

func (r *Request) finalize() error {
	var finalErr error
	r.mutexes.WithLock(namedmutex.DataFolderKey(r.worker), func() {
		for _, fw := range r.files {
			if err := os.Rename(fw.tempPath, fw.finalPath); err != nil {
				finalErr = fileErr{protocol.ExtFileRename, err.Error()}
				return
			}
			mtime := time.Unix(fw.mtime, 0)
			if err := os.Chtimes(fw.finalPath, mtime, mtime); err != nil {
				finalErr = fileErr{protocol.ExtFileMtime, err.Error()}
				return
			}
		}
	})
	return finalErr
}

func (r *Request) releaseAll() {
	for _, fw := range r.files {
		if fw.local != nil {
			fw.local.Close()
			fw.local = nil
		}
		if fw.peer != nil {
			fw.peer.Close()
			fw.peer = nil
		}
	}
}

// addChecksum folds buf into an unsigned 64-bit wrap-around running sum.
func addChecksum(running uint64, buf []byte) uint64 {
	for _, b := range buf {
		running += uint64(b)
	}
	return running
}

func checkSpace(dir string, needed int64) error {
	available, err := freeBytes(dir)
	if err != nil {
		return fileErr{protocol.ExtSpaceRequest, err.Error()}
	}
	if available < needed {
		return fileErr{protocol.ExtNoSpace, fmt.Sprintf("only %d bytes free, need %d", available, needed)}
	}
	return nil
}
