package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"smartclock/common/config"

	_ "github.com/lib/pq"
)

// 闹钟表很小，连接池按单实例的轻量负载设置
const (
	defaultMaxConns  = 5
	defaultMaxIdle   = 2
	connMaxLifetime  = 30 * time.Minute
	postgresPingWait = 5 * time.Second
)

// NewPostgresDB 打开 STORE_DRIVER=postgres 时的闹钟库，并确认可连通
func NewPostgresDB(ctx context.Context, cfg *config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.GetDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open alarms database: %w", err)
	}

	maxConns, maxIdle := cfg.MaxConns, cfg.MaxIdle
	if maxConns <= 0 {
		maxConns = defaultMaxConns
	}
	if maxIdle <= 0 {
		maxIdle = defaultMaxIdle
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(connMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, postgresPingWait)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("alarms database %s:%d unreachable: %w", cfg.Host, cfg.Port, err)
	}

	return db, nil
}
