package db

import (
	"context"
	"database/sql"
	"fmt"

	"acquiring-service/internal/config"
	"acquiring-service/migrations"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/pressly/goose/v3"
)

func GetConnStr(cfg config.Database) string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", cfg.User, cfg.Password, cfg.Host, cfg.Port,
		cfg.Name, cfg.SSLMode)
}

// RunMigrations applies the embedded goose migrations.
func RunMigrations(connStr string) error {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return errors.Wrap(err, "open database")
	}
	defer db.Close()

	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("postgres"); err != nil {
		return errors.Wrap(err, "set goose dialect")
	}

	if err := goose.Up(db, "."); err != nil {
		return errors.Wrap(err, "apply migrations")
	}
	return nil
}

func GetPool(ctx context.Context, connStr string) (*pgxpool.Pool, error) {
	dbpool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, errors.Wrap(err, "create pool")
	}
	if err := dbpool.Ping(ctx); err != nil {
		dbpool.Close()
		return nil, errors.Wrap(err, "ping database")
	}
	return dbpool, nil
}
