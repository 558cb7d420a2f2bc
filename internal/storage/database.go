package storage

import (
	"database/sql"
	"fmt"
	"strings"

	"videoinsight/internal/config"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"
)

const defaultMySQLParams = "parseTime=true&charset=utf8mb4&loc=UTC"

// Open connects to the history database configured under databases[dbType].
func Open(dbType string, cfg *config.Config) (*sql.DB, error) {
	dbType = strings.ToLower(dbType)
	dbCfg, ok := cfg.Databases[dbType]
	if !ok && dbType == "sqlite" {
		dbCfg, ok = cfg.Databases["sqlite3"]
	}
	if !ok {
		return nil, fmt.Errorf("database config for %s not found", dbType)
	}

	var (
		db  *sql.DB
		err error
	)

	switch dbType {
	case "sqlite", "sqlite3":
		if dbCfg.DSN == "" {
			return nil, fmt.Errorf("sqlite dsn must be provided")
		}
		db, err = sql.Open("sqlite3", dbCfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("open sqlite database: %w", err)
		}
		// single writer; also keeps ":memory:" databases on one connection
		db.SetMaxOpenConns(1)
	case "mysql":
		db, err = sql.Open("mysql", mysqlDSN(dbCfg))
		if err != nil {
			return nil, fmt.Errorf("open mysql database: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported driver: %s", dbType)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

func mysqlDSN(dbCfg config.DatabaseConfig) string {
	if dbCfg.DSN != "" {
		return dbCfg.DSN
	}
	params := dbCfg.Params
	if params == "" {
		params = defaultMySQLParams
	}
	port := dbCfg.Port
	if port == 0 {
		port = 3306
	}
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?%s",
		dbCfg.Username,
		dbCfg.Password,
		dbCfg.Host,
		port,
		dbCfg.DBName,
		params,
	)
}

// Migrate ensures the required tables are present.
func Migrate(db *sql.DB, driver string) error {
	var stmts []string
	switch strings.ToLower(driver) {
	case "sqlite", "sqlite3":
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS analyses (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				run_id TEXT NOT NULL UNIQUE,
				file_name TEXT NOT NULL,
				extension TEXT NOT NULL,
				size INTEGER NOT NULL,
				query TEXT NOT NULL,
				state TEXT NOT NULL,
				result TEXT NOT NULL DEFAULT '',
				error_kind TEXT NOT NULL DEFAULT '',
				error_message TEXT NOT NULL DEFAULT '',
				remote_name TEXT NOT NULL DEFAULT '',
				created_at DATETIME NOT NULL,
				finished_at DATETIME NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_analyses_created_at ON analyses(created_at DESC)`,
		}
	case "mysql":
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS analyses (
				id BIGINT UNSIGNED NOT NULL AUTO_INCREMENT,
				run_id VARCHAR(64) NOT NULL,
				file_name VARCHAR(255) NOT NULL,
				extension VARCHAR(16) NOT NULL,
				size BIGINT NOT NULL,
				query TEXT NOT NULL,
				state VARCHAR(32) NOT NULL,
				result MEDIUMTEXT NOT NULL,
				error_kind VARCHAR(32) NOT NULL DEFAULT '',
				error_message TEXT NOT NULL,
				remote_name VARCHAR(255) NOT NULL DEFAULT '',
				created_at DATETIME NOT NULL,
				finished_at DATETIME NOT NULL,
				PRIMARY KEY (id),
				UNIQUE KEY uniq_analyses_run (run_id),
				INDEX idx_analyses_created_at (created_at)
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
		}
	default:
		return fmt.Errorf("unsupported driver: %s", driver)
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
