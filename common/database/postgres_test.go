package database

import (
	"context"
	"net"
	"testing"

	"smartclock/common/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPostgresDB_Unreachable(t *testing.T) {
	// 占用一个端口后立即释放，保证没有服务在监听
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	cfg := &config.DatabaseConfig{
		Host:     "127.0.0.1",
		Port:     port,
		User:     "postgres",
		Password: "postgres",
		Database: "smartclock",
		SSLMode:  "disable",
	}
	db, err := NewPostgresDB(context.Background(), cfg)
	assert.Nil(t, db)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unreachable")
}
