// internal/common/database/migrate.go
package database

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"

	"notification-engine/internal/common/logger"

	"github.com/pressly/goose/v3"
)

const migrationsTable = "notification_engine_migrations"

// Migrate applies the embedded goose migrations found at the root of fsys.
func Migrate(ctx context.Context, db *sql.DB, fsys fs.FS, log logger.Logger) error {
	goose.SetBaseFS(fsys)
	defer goose.SetBaseFS(nil)

	goose.SetLogger(&gooseLogger{log: log})
	goose.SetTableName(migrationsTable)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, "."); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// gooseLogger routes goose's printf-style output through the structured logger.
type gooseLogger struct {
	log logger.Logger
}

func (g *gooseLogger) Fatalf(format string, v ...interface{}) {
	g.log.Error(fmt.Sprintf(format, v...), map[string]interface{}{"component": "migrations"})
}

func (g *gooseLogger) Printf(format string, v ...interface{}) {
	g.log.Info(fmt.Sprintf(format, v...), map[string]interface{}{"component": "migrations"})
}
