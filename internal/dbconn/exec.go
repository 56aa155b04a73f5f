package dbconn

import (
	"context"
	"database/sql"
)

// Execute runs a statement that does not return rows and reports the
// affected row count, mirroring the mysql_affected_rows() accessor the
// query generator's callers need after DML.
func Execute(ctx context.Context, c *Conn, query string, args ...any) (int64, error) {
	res, err := c.raw.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Query runs a statement that returns rows. Callers are responsible for
// closing the returned *sql.Rows.
func Query(ctx context.Context, c *Conn, query string, args ...any) (*sql.Rows, error) {
	return c.raw.QueryContext(ctx, query, args...)
}

// ColumnNames returns the field names of an open result set, the
// equivalent of walking a MYSQL_RES's field array.
func ColumnNames(rows *sql.Rows) ([]string, error) {
	return rows.Columns()
}

// ScanRowToStrings reads one row into string cells, converting NULL to an
// empty string with a reported null flag. This is the shape the SQL
// request's result-set serializer and the director-index extractor both
// need: every value rendered as text regardless of its declared SQL type.
func ScanRowToStrings(rows *sql.Rows, numCols int) (values []string, isNull []bool, err error) {
	raw := make([]sql.NullString, numCols)
	dest := make([]any, numCols)
	for i := range raw {
		dest[i] = &raw[i]
	}
	if err := rows.Scan(dest...); err != nil {
		return nil, nil, err
	}
	values = make([]string, numCols)
	isNull = make([]bool, numCols)
	for i, v := range raw {
		values[i] = v.String
		isNull[i] = !v.Valid
	}
	return values, isNull, nil
}
