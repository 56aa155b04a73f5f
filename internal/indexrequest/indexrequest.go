// Package indexrequest extracts a (primary-key, chunk-id, sub-chunk-id)
// tuple stream from one director table into a server-side TSV file via
// SELECT ... INTO OUTFILE, then streams that file back to the caller in
// size-capped slices across successive Execute calls.
package indexrequest

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-sql-driver/mysql"

	"github.com/lsst-qserv/worker-replicad/internal/catalog"
	"github.com/lsst-qserv/worker-replicad/internal/dbconn"
	"github.com/lsst-qserv/worker-replicad/internal/protocol"
	"github.com/lsst-qserv/worker-replicad/internal/request"
	"github.com/lsst-qserv/worker-replicad/internal/txscope"
)

// Params is the caller-supplied payload.
type Params struct {
	Database      string
	Table         string
	Chunk         int
	HasTransID    bool
	TransactionID int64

	Offset     int64
	RecordSize int
}

// Result is the slice of file content returned by one Execute call, plus
// the total file size so the caller can compute remaining offsets.
type Result struct {
	Data     []byte
	FileSize int64
}

// Request implements request.Executable. The first Execute call (offset
// 0) drives the OUTFILE extraction under a fresh transaction scope; every
// call (including the first) then reads one record-sized slice starting
// at the requested offset and completes synchronously, matching the
// single-shot read contract described for this request type.
type Request struct {
	*request.Base

	params  Params
	cat     *catalog.Catalog
	pool    *dbconn.Pool
	tmpDir  string

	result Result
}

// New constructs a director-index request.
func New(base *request.Base, params Params, cat *catalog.Catalog, pool *dbconn.Pool, tmpDir string) *Request {
	return &Request{Base: base, params: params, cat: cat, pool: pool, tmpDir: tmpDir}
}

// Result implements request.Executable.
func (r *Request) Result() any { return &r.result }

// Execute implements request.Executable.
func (r *Request) Execute(ctx context.Context) (bool, error) {
	if err := r.CheckCancelling(); err != nil {
		return false, err
	}

	table, err := r.validateTable()
	if err != nil {
		r.Finish(protocol.StatusFailed, protocol.ExtInvalidParam)
		return true, err
	}

	path := r.outfilePath()

	if r.params.Offset == 0 {
		if err := os.MkdirAll(r.tmpDir, 0755); err != nil {
			r.Finish(protocol.StatusFailed, protocol.ExtFolderCreate)
			return true, err
		}
		os.Remove(path)
		if err := r.extract(ctx, table, path); err != nil {
			r.Finish(protocol.StatusFailed, classify(err))
			return true, err
		}
	}

	info, statErr := os.Stat(path)
	if statErr != nil {
		r.Finish(protocol.StatusFailed, protocol.ExtFileStat)
		return true, statErr
	}
	size := info.Size()

	if r.params.Offset > size {
		r.Finish(protocol.StatusFailed, protocol.ExtInvalidParam)
		return true, fmt.Errorf("indexrequest: offset %d exceeds file size %d", r.params.Offset, size)
	}

	if r.params.Offset == size {
		os.Remove(path)
		r.result = Result{Data: nil, FileSize: size}
		r.Finish(protocol.StatusSuccess, protocol.ExtNone)
		return true, nil
	}

	data, err := r.readSlice(path, size)
	if err != nil {
		r.Finish(protocol.StatusFailed, classifyReadSliceErr(err))
		return true, err
	}
	r.result = Result{Data: data, FileSize: size}
	r.Finish(protocol.StatusSuccess, protocol.ExtNone)
	return true, nil
}

func (r *Request) validateTable() (catalog.TableInfo, error) {
	db, err := r.cat.Database(r.params.Database)
	if err != nil {
		return catalog.TableInfo{}, err
	}
	table, err := db.FindTable(r.params.Table)
	if err != nil {
		return catalog.TableInfo{}, err
	}
	if !table.IsDirector || table.DirectorTable.PrimaryKeyColumn == "" {
		return catalog.TableInfo{}, fmt.Errorf("indexrequest: %q is not a configured director table", r.params.Table)
	}
	pk := table.DirectorTable.PrimaryKeyColumn
	if table.ColumnType(pk) == "" {
		return catalog.TableInfo{}, fmt.Errorf("indexrequest: primary key column %q not present", pk)
	}
	if table.ColumnType(catalog.SubChunkColumn) == "" {
		return catalog.TableInfo{}, fmt.Errorf("indexrequest: sub-chunk column %q not present", catalog.SubChunkColumn)
	}
	if r.params.HasTransID && table.ColumnType("qserv_trans_id") == "" {
		return catalog.TableInfo{}, fmt.Errorf("indexrequest: qserv_trans_id column not present")
	}
	return table, nil
}

func (r *Request) outfilePath() string {
	return filepath.Join(r.tmpDir, fmt.Sprintf("%s-%s-%d-%s.tsv", r.params.Database, r.params.Table, r.params.Chunk, r.ID()))
}

func (r *Request) extract(ctx context.Context, table catalog.TableInfo, path string) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Return()

	pk := table.DirectorTable.PrimaryKeyColumn
	orderBy := pk
	selectCols := fmt.Sprintf("%s, %d AS chunkId, %s", pk, r.params.Chunk, catalog.SubChunkColumn)
	if r.params.HasTransID {
		selectCols = "qserv_trans_id, " + selectCols
		orderBy = "qserv_trans_id, " + orderBy
	}

	where := ""
	if r.params.HasTransID {
		where = fmt.Sprintf(" WHERE qserv_trans_id = %d", r.params.TransactionID)
	}

	query := fmt.Sprintf(
		"SELECT %s FROM `%s`.`%s`%s ORDER BY %s INTO OUTFILE '%s'",
		selectCols, r.params.Database, r.params.Table, where, orderBy, path,
	)

	scope, err := txscope.New(ctx, conn.Raw(), r.params.Database)
	if err != nil {
		return err
	}
	defer scope.Close()
	if _, err := dbconn.Execute(ctx, conn, query); err != nil {
		return err
	}
	return scope.Commit()
}

// errReadSliceOpen wraps a readSlice open failure so its caller can tell
// it apart from a short or failed read against an already-open file.
var errReadSliceOpen = errors.New("indexrequest: opening outfile slice")

func (r *Request) readSlice(path string, size int64) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errReadSliceOpen, err)
	}
	defer f.Close()

	n := int64(r.params.RecordSize)
	if n <= 0 || r.params.Offset+n > size {
		n = size - r.params.Offset
	}
	buf := make([]byte, n)
	if _, err := f.ReadAt(buf, r.params.Offset); err != nil {
		return nil, err
	}
	return buf, nil
}

// classifyReadSliceErr distinguishes a readSlice open failure from a read
// failure against an already-open file: the former is the file going
// missing between the stat above and the open here, the latter is a
// short or failed read.
func classifyReadSliceErr(err error) protocol.ExtendedStatus {
	if errors.Is(err, errReadSliceOpen) {
		return protocol.ExtFileROpen
	}
	return protocol.ExtFileRead
}

// classify maps a MySQL driver error to the extended status taxonomy this
// request type uses.
func classify(err error) protocol.ExtendedStatus {
	var merr *mysql.MySQLError
	if errors.As(err, &merr) {
		switch merr.Number {
		case 1146:
			return protocol.ExtNoSuchTable
		case 1505:
			return protocol.ExtNotPartitionedTable
		case 1526:
			return protocol.ExtNoSuchPartition
		default:
			return protocol.ExtMysqlError
		}
	}
	if errors.Is(err, sql.ErrNoRows) {
		return protocol.ExtNoSuchTable
	}
	return protocol.ExtMysqlError
}
