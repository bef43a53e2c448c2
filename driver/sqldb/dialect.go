package sqldb

import (
	"fmt"
	"strings"
)

type Dialect string

const (
	Postgres  Dialect = "postgres"
	MySQL     Dialect = "mysql"
	SQLite    Dialect = "sqlite"
	SQLServer Dialect = "sqlserver"
)

type dialectSyntax struct {
	quote       func(ident string) string
	placeholder func(n int) string
	createTable string
}

var dialects = map[Dialect]dialectSyntax{ //nolint:gochecknoglobals
	Postgres: {
		quote:       quoteDouble,
		placeholder: func(n int) string { return fmt.Sprintf("$%d", n) },
		createTable: "CREATE TABLE IF NOT EXISTS %s (" +
			"id             bigserial primary key, " +
			"version        bigint not null, " +
			"migration_name varchar(255) not null, " +
			"file_name      varchar(255) not null, " +
			"applied_at     bigint not null" +
			")",
	},
	MySQL: {
		quote:       quoteBacktick,
		placeholder: func(int) string { return "?" },
		createTable: "CREATE TABLE IF NOT EXISTS %s (" +
			"id             int not null auto_increment, " +
			"version        bigint not null, " +
			"migration_name varchar(255) not null, " +
			"file_name      varchar(255) not null, " +
			"applied_at     bigint not null, " +
			"primary key (id)" +
			") default charset utf8mb4",
	},
	SQLite: {
		quote:       quoteDouble,
		placeholder: func(int) string { return "?" },
		createTable: "CREATE TABLE IF NOT EXISTS %s (" +
			"id             integer primary key autoincrement, " +
			"version        integer not null, " +
			"migration_name text not null, " +
			"file_name      text not null, " +
			"applied_at     integer not null" +
			")",
	},
	SQLServer: {
		quote:       quoteBracket,
		placeholder: func(n int) string { return fmt.Sprintf("@p%d", n) },
		createTable: "IF OBJECT_ID(N'%[1]s', N'U') IS NULL CREATE TABLE %[1]s (" +
			"id             int identity(1,1) primary key, " +
			"version        bigint not null, " +
			"migration_name nvarchar(255) not null, " +
			"file_name      nvarchar(255) not null, " +
			"applied_at     bigint not null" +
			")",
	},
}

func quoteDouble(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

func quoteBacktick(ident string) string {
	return "`" + escapeMysqlString(ident) + "`"
}

func quoteBracket(ident string) string {
	return "[" + strings.ReplaceAll(ident, "]", "]]") + "]"
}

// originally from https://gist.github.com/siddontang/8875771
func escapeMysqlString(sql string) string { //nolint:cyclop
	const prealloc = 2
	dest := make([]rune, 0, prealloc*len(sql))

	for _, character := range sql {
		var escape rune

		switch character {
		case 0:
			escape = '0'
		case '\n':
			escape = 'n'
		case '\r':
			escape = 'r'
		case '\\':
			escape = '\\'
		case '\'':
			escape = '\''
		case '"':
			escape = '"'
		case '`':
			escape = '`'
		case '\032':
			escape = 'Z'
		}

		if escape != 0 {
			dest = append(dest, '\\', escape)
		} else {
			dest = append(dest, character)
		}
	}

	return string(dest)
}
