// Package sqlrequest executes one or more SQL statements on the worker's
// database on behalf of an admin request: raw queries, database and
// table DDL, index management, and row-count statistics, with a
// dedicated batch mode that runs one table at a time under its own
// transaction scope.
package sqlrequest

// SubType is the closed set of SQL request sub-types.
type SubType int

const (
	SubQuery SubType = iota
	SubCreateDatabase
	SubDropDatabase
	SubEnableDatabase
	SubDisableDatabase
	SubGrantAccess
	SubCreateTable
	SubDropTable
	SubCreateTableIndex
	SubDropTableIndex
	SubGetTableIndex
	SubRemoveTablePartitioning
	SubDropTablePartition
	SubAlterTable
	SubTableRowStats
)

func (s SubType) String() string {
	switch s {
	case SubQuery:
		return "QUERY"
	case SubCreateDatabase:
		return "CREATE_DATABASE"
	case SubDropDatabase:
		return "DROP_DATABASE"
	case SubEnableDatabase:
		return "ENABLE_DATABASE"
	case SubDisableDatabase:
		return "DISABLE_DATABASE"
	case SubGrantAccess:
		return "GRANT_ACCESS"
	case SubCreateTable:
		return "CREATE_TABLE"
	case SubDropTable:
		return "DROP_TABLE"
	case SubCreateTableIndex:
		return "CREATE_TABLE_INDEX"
	case SubDropTableIndex:
		return "DROP_TABLE_INDEX"
	case SubGetTableIndex:
		return "GET_TABLE_INDEX"
	case SubRemoveTablePartitioning:
		return "REMOVE_TABLE_PARTITIONING"
	case SubDropTablePartition:
		return "DROP_TABLE_PARTITION"
	case SubAlterTable:
		return "ALTER_TABLE"
	case SubTableRowStats:
		return "TABLE_ROW_STATS"
	default:
		return "UNKNOWN"
	}
}

// IndexColumn describes one column participating in an index definition.
type IndexColumn struct {
	Name      string
	KeyLength int // 0 means "no prefix length clause"
	Ascending bool
}

// Params is the full tagged payload a SQL request may carry. Only the
// fields relevant to the chosen SubType are consulted.
type Params struct {
	SubType SubType

	User     string
	Password string

	Database string
	Table    string   // single-table sub-types
	Tables   []string // batch mode

	Query string // raw SQL, SubQuery only

	Columns           []ColumnDef
	Engine            string
	Charset           string
	Collation         string
	Comment           string
	PartitionByColumn string

	IndexName    string
	IndexUnique  bool
	IndexColumns []IndexColumn

	PartitionID int

	AlterSpec string // the literal clause following ALTER TABLE <t>

	RowCap int64
}

// ColumnDef is one column of a CREATE_TABLE definition.
type ColumnDef struct {
	Name string
	Type string
}
