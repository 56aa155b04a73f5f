package sqlrequest

import (
	"fmt"
	"strings"

	"github.com/lsst-qserv/worker-replicad/internal/namedmutex"
)

// Statement is one generated SQL text paired with the name of the
// process-wide mutex, if any, that must be held while it runs. An empty
// MutexName means no serialization is required.
type Statement struct {
	SQL       string
	MutexName string
}

// Generate maps (SubType, Params, table) to the deterministic sequence
// of statements the original query generator would produce. table
// overrides Params.Table for batch-mode iterations; callers in
// non-batch mode pass p.Table.
//
// SubTableRowStats is handled separately by the caller because it
// requires a runtime probe of information_schema before the final
// statement can be chosen; Generate rejects it here.
func Generate(p Params, table string) ([]Statement, error) {
	switch p.SubType {
	case SubQuery:
		return []Statement{{SQL: p.Query}}, nil

	case SubCreateDatabase:
		return []Statement{{SQL: fmt.Sprintf("CREATE DATABASE IF NOT EXISTS `%s`", p.Database)}}, nil

	case SubDropDatabase:
		return []Statement{{SQL: fmt.Sprintf("DROP DATABASE IF EXISTS `%s`", p.Database)}}, nil

	case SubEnableDatabase:
		return []Statement{{SQL: fmt.Sprintf("REPLACE INTO `qservw_worker`.`Dbs` (`db`) VALUES ('%s')", p.Database)}}, nil

	case SubDisableDatabase:
		return []Statement{
			{SQL: fmt.Sprintf("DELETE FROM `qservw_worker`.`Chunks` WHERE `db` = '%s'", p.Database)},
			{SQL: fmt.Sprintf("DELETE FROM `qservw_worker`.`Dbs` WHERE `db` = '%s'", p.Database)},
		}, nil

	case SubGrantAccess:
		return []Statement{{SQL: fmt.Sprintf("GRANT ALL ON `%s`.* TO '%s'@'localhost'", p.Database, p.User)}}, nil

	case SubCreateTable:
		return []Statement{{SQL: createTableSQL(p, table)}}, nil

	case SubDropTable:
		return []Statement{{SQL: fmt.Sprintf("DROP TABLE IF EXISTS `%s`.`%s`", p.Database, table)}}, nil

	case SubCreateTableIndex:
		return []Statement{{
			SQL:       createIndexSQL(p, table),
			MutexName: namedmutex.SchemaKey(p.Database, table),
		}}, nil

	case SubDropTableIndex:
		return []Statement{{
			SQL:       fmt.Sprintf("ALTER TABLE `%s`.`%s` DROP INDEX `%s`", p.Database, table, p.IndexName),
			MutexName: namedmutex.SchemaKey(p.Database, table),
		}}, nil

	case SubGetTableIndex:
		return []Statement{{SQL: fmt.Sprintf("SHOW INDEXES FROM `%s`.`%s`", p.Database, table)}}, nil

	case SubRemoveTablePartitioning:
		return []Statement{{
			SQL:       fmt.Sprintf("ALTER TABLE `%s`.`%s` REMOVE PARTITIONING", p.Database, table),
			MutexName: namedmutex.SchemaKey(p.Database, table),
		}}, nil

	case SubDropTablePartition:
		return []Statement{{
			SQL:       fmt.Sprintf("ALTER TABLE `%s`.`%s` DROP PARTITION `p%d`", p.Database, table, p.PartitionID),
			MutexName: namedmutex.SchemaKey(p.Database, table),
		}}, nil

	case SubAlterTable:
		return []Statement{{
			SQL:       fmt.Sprintf("ALTER TABLE `%s`.`%s` %s", p.Database, table, p.AlterSpec),
			MutexName: namedmutex.SchemaKey(p.Database, table),
		}}, nil

	case SubTableRowStats:
		return nil, fmt.Errorf("sqlrequest: TABLE_ROW_STATS requires a runtime probe, not handled by Generate")

	default:
		return nil, fmt.Errorf("sqlrequest: unknown sub-type %d", p.SubType)
	}
}

func createTableSQL(p Params, table string) string {
	cols := make([]string, 0, len(p.Columns))
	for _, c := range p.Columns {
		cols = append(cols, fmt.Sprintf("`%s` %s", c.Name, c.Type))
	}
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE `%s`.`%s` (%s)", p.Database, table, strings.Join(cols, ", "))
	if p.Engine != "" {
		fmt.Fprintf(&b, " ENGINE=%s", p.Engine)
	}
	if p.Charset != "" {
		fmt.Fprintf(&b, " DEFAULT CHARSET=%s", p.Charset)
	}
	if p.Collation != "" {
		fmt.Fprintf(&b, " COLLATE=%s", p.Collation)
	}
	if p.Comment != "" {
		fmt.Fprintf(&b, " COMMENT='%s'", p.Comment)
	}
	if p.PartitionByColumn != "" {
		fmt.Fprintf(&b, " PARTITION BY LIST(`%s`) (PARTITION p0 VALUES IN (0))", p.PartitionByColumn)
	}
	return b.String()
}

func createIndexSQL(p Params, table string) string {
	cols := make([]string, 0, len(p.IndexColumns))
	for _, c := range p.IndexColumns {
		col := "`" + c.Name + "`"
		if c.KeyLength > 0 {
			col = fmt.Sprintf("%s(%d)", col, c.KeyLength)
		}
		if !c.Ascending {
			col += " DESC"
		}
		cols = append(cols, col)
	}
	unique := ""
	if p.IndexUnique {
		unique = "UNIQUE "
	}
	return fmt.Sprintf("CREATE %sINDEX `%s` ON `%s`.`%s` (%s)", unique, p.IndexName, p.Database, table, strings.Join(cols, ", "))
}

// TableRowStatsSQL returns the statement for SubTableRowStats once the
// caller has probed information_schema.COLUMNS for a qserv_trans_id
// column.
func TableRowStatsSQL(database, table string, hasTransID bool) string {
	if hasTransID {
		return fmt.Sprintf("SELECT `qserv_trans_id`, COUNT(*) AS `num_rows` FROM `%s`.`%s` GROUP BY `qserv_trans_id`", database, table)
	}
	return fmt.Sprintf("SELECT 0 AS `qserv_trans_id`, COUNT(*) AS `num_rows` FROM `%s`.`%s`", database, table)
}

// TransIDProbeSQL returns the information_schema probe that decides
// which TableRowStatsSQL form applies.
func TransIDProbeSQL(database, table string) string {
	return fmt.Sprintf(
		"SELECT COUNT(*) FROM `information_schema`.`COLUMNS` WHERE `TABLE_SCHEMA` = '%s' AND `TABLE_NAME` = '%s' AND `COLUMN_NAME` = 'qserv_trans_id'",
		database, table,
	)
}
