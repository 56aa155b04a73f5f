package sqlrequest

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"

	"github.com/lsst-qserv/worker-replicad/internal/dbconn"
	"github.com/lsst-qserv/worker-replicad/internal/namedmutex"
	"github.com/lsst-qserv/worker-replicad/internal/protocol"
	"github.com/lsst-qserv/worker-replicad/internal/request"
	"github.com/lsst-qserv/worker-replicad/internal/txscope"
)

// mysqlBatchRecoverable maps a driver error number to the extended status
// that lets batch mode continue on to the next table rather than failing
// the whole request.
var mysqlBatchRecoverable = map[uint16]protocol.ExtendedStatus{
	1146: protocol.ExtNoSuchTable,         // ER_NO_SUCH_TABLE
	1505: protocol.ExtNotPartitionedTable, // ER_PARTITION_MGMT_ON_NONPARTITIONED
	1062: protocol.ExtDuplicateKey,        // ER_DUP_ENTRY
	1553: protocol.ExtCantDropKey,         // ER_DROP_INDEX_FK / FK-referenced key
}

// batchRecoverableStatus reports whether ext is one of the per-table error
// classes batch mode may absorb and continue past, rather than aborting
// the remaining tables outright.
func batchRecoverableStatus(ext protocol.ExtendedStatus) bool {
	switch ext {
	case protocol.ExtNoSuchTable, protocol.ExtNotPartitionedTable, protocol.ExtDuplicateKey, protocol.ExtCantDropKey:
		return true
	default:
		return false
	}
}

// Row is one row of a result set, one text value per column in column
// order, with a parallel null marker since every column is serialized as text
// regardless of its declared SQL type.
type Row struct {
	Values []string
	IsNull []bool
}

// TableResult is the outcome of running the request's statement(s) for
// a single table (or, for SubQuery, the one implicit "table").
type TableResult struct {
	Table      string
	Columns    []string
	Rows       []Row
	RowsAffected int64
	Status       protocol.ExtendedStatus // ExtNone on success
	Error        string
}

// Result is returned by Request.Result().
type Result struct {
	Tables []TableResult
}

// Request executes one SubType's statement(s), either once against
// Params.Table or, in batch mode, once per entry of Params.Tables under
// an independent transaction scope per table.
type Request struct {
	*request.Base

	params  Params
	pool    *dbconn.Pool
	mutexes *namedmutex.Registry

	result Result
}

// New constructs a SQL request.
func New(base *request.Base, params Params, pool *dbconn.Pool, mutexes *namedmutex.Registry) *Request {
	return &Request{Base: base, params: params, pool: pool, mutexes: mutexes}
}

// Execute implements request.Executable. The whole statement set runs to
// completion within one call; SQL execution isn't suspended mid-statement,
// so cancellation is only observed between tables.
func (r *Request) Execute(ctx context.Context) (bool, error) {
	if err := r.CheckCancelling(); err != nil {
		return false, err
	}

	tables := r.params.Tables
	batch := len(tables) > 0
	if !batch {
		tables = []string{r.params.Table}
	}

	failures := 0
	for _, table := range tables {
		if err := r.CheckCancelling(); err != nil {
			return false, err
		}
		tr := r.runOneTable(ctx, table)
		r.result.Tables = append(r.result.Tables, tr)
		if tr.Status == protocol.ExtNone {
			continue
		}
		failures++
		if !batch || !batchRecoverableStatus(tr.Status) {
			r.Finish(protocol.StatusFailed, tr.Status)
			return true, fmt.Errorf("sqlrequest: %s", tr.Error)
		}
	}

	switch failures {
	case 0:
		r.Finish(protocol.StatusSuccess, protocol.ExtNone)
	case 1:
		r.Finish(protocol.StatusFailed, firstFailureStatus(r.result.Tables))
	default:
		r.Finish(protocol.StatusFailed, protocol.ExtMultiple)
	}
	return true, nil
}

// firstFailureStatus returns the extended status of the first failed
// table, used when exactly one table in a batch failed so the request's
// own extended status reflects that specific cause rather than the
// generic ExtMultiple code.
func firstFailureStatus(tables []TableResult) protocol.ExtendedStatus {
	for _, tr := range tables {
		if tr.Status != protocol.ExtNone {
			return tr.Status
		}
	}
	return protocol.ExtNone
}

// Result implements request.Executable.
func (r *Request) Result() any { return &r.result }

func (r *Request) runOneTable(ctx context.Context, table string) TableResult {
	tr := TableResult{Table: table}

	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		tr.Status = protocol.ExtMysqlError
		tr.Error = err.Error()
		return tr
	}
	defer conn.Return()

	scope, err := txscope.New(ctx, conn.Raw(), r.params.Database)
	if err != nil {
		tr.Status = protocol.ExtMysqlError
		tr.Error = err.Error()
		return tr
	}
	defer scope.Close()

	if r.params.SubType == SubTableRowStats {
		if err := r.execRowStats(ctx, conn, table, &tr); err != nil {
			tr.Status = classify(err)
			tr.Error = err.Error()
			return tr
		}
	} else {
		stmts, err := Generate(r.params, table)
		if err != nil {
			tr.Status = protocol.ExtInvalidParam
			tr.Error = err.Error()
			return tr
		}
		for _, stmt := range stmts {
			if err := r.execStatement(ctx, conn, stmt, &tr); err != nil {
				tr.Status = classify(err)
				tr.Error = err.Error()
				return tr
			}
		}
	}

	if err := scope.Commit(); err != nil {
		tr.Status = protocol.ExtMysqlError
		tr.Error = err.Error()
		return tr
	}
	return tr
}

func (r *Request) execStatement(ctx context.Context, conn *dbconn.Conn, stmt Statement, tr *TableResult) error {
	run := func() error {
		if isSelectLike(stmt.SQL) {
			return r.runSelect(ctx, conn, stmt.SQL, tr)
		}
		n, err := dbconn.Execute(ctx, conn, stmt.SQL)
		if err != nil {
			return err
		}
		tr.RowsAffected += n
		return nil
	}
	if stmt.MutexName == "" {
		return run()
	}
	var runErr error
	r.mutexes.WithLock(stmt.MutexName, func() { runErr = run() })
	return runErr
}

func (r *Request) runSelect(ctx context.Context, conn *dbconn.Conn, query string, tr *TableResult) error {
	rows, err := dbconn.Query(ctx, conn, query)
	if err != nil {
		return err
	}
	defer rows.Close()

	cols, err := dbconn.ColumnNames(rows)
	if err != nil {
		return err
	}
	tr.Columns = cols

	for rows.Next() {
		if r.params.RowCap > 0 && int64(len(tr.Rows)) >= r.params.RowCap {
			return fmt.Errorf("sqlrequest: result exceeds row cap %d", r.params.RowCap)
		}
		values, isNull, err := dbconn.ScanRowToStrings(rows, len(cols))
		if err != nil {
			return err
		}
		tr.Rows = append(tr.Rows, Row{Values: values, IsNull: isNull})
	}
	return rows.Err()
}

func (r *Request) execRowStats(ctx context.Context, conn *dbconn.Conn, table string, tr *TableResult) error {
	var count int
	row := conn.Raw().QueryRowContext(ctx, TransIDProbeSQL(r.params.Database, table))
	if err := row.Scan(&count); err != nil {
		return err
	}
	return r.runSelect(ctx, conn, TableRowStatsSQL(r.params.Database, table, count > 0), tr)
}

func isSelectLike(stmt string) bool {
	for _, prefix := range []string{"SELECT", "SHOW"} {
		if len(stmt) >= len(prefix) && stmt[:len(prefix)] == prefix {
			return true
		}
	}
	return false
}

// classify maps a driver-level error to an extended status, recognizing
// the handful of MySQL error numbers that batch mode treats as a
// per-table failure rather than aborting the remaining tables.
func classify(err error) protocol.ExtendedStatus {
	if err == nil {
		return protocol.ExtNone
	}
	if strings.Contains(err.Error(), "exceeds row cap") {
		return protocol.ExtLargeResult
	}
	var merr *mysql.MySQLError
	if errors.As(err, &merr) {
		if ext, ok := mysqlBatchRecoverable[merr.Number]; ok {
			return ext
		}
		return protocol.ExtMysqlError
	}
	if errors.Is(err, sql.ErrNoRows) {
		return protocol.ExtNoSuchTable
	}
	return protocol.ExtMysqlError
}
