package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"fulfillment-sync/internal/common/logger"
	"fulfillment-sync/internal/config"
)

type RetryPolicy struct {
	Attempts int
	Delay    time.Duration
	PingTTL  time.Duration
}

var DefaultRetry = RetryPolicy{Attempts: 10, Delay: 2 * time.Second, PingTTL: 5 * time.Second}

func DSN(cfg config.DatabaseConfig) string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database)
}

// ConnectDB opens the pool and waits until PostgreSQL answers a ping.
func ConnectDB(ctx context.Context, cfg config.DatabaseConfig, lg *logger.Logger) (*sql.DB, error) {
	return connect(ctx, "pgx", DSN(cfg), DefaultRetry, lg)
}

func connect(ctx context.Context, driver, dsn string, rp RetryPolicy, lg *logger.Logger) (*sql.DB, error) {
	var err error
	for i := 1; i <= rp.Attempts; i++ {
		var db *sql.DB
		db, err = sql.Open(driver, dsn)
		if err == nil {
			pctx, cancel := context.WithTimeout(ctx, rp.PingTTL)
			err = db.PingContext(pctx)
			cancel()
			if err == nil {
				db.SetMaxOpenConns(10)
				db.SetConnMaxIdleTime(5 * time.Minute)
				return db, nil
			}
			_ = db.Close()
		}
		lg.Warn("db_connect_retry", err, map[string]any{"attempt": i, "max_attempts": rp.Attempts})

		// ждём и пробуем снова
		select {
		case <-time.After(rp.Delay):
		case <-ctx.Done():
			return nil, fmt.Errorf("db connect canceled: %w", ctx.Err())
		}
	}
	return nil, fmt.Errorf("database unreachable after %d attempts: %w", rp.Attempts, err)
}
