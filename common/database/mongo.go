package database

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"smartclock/common/config"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"
)

// ErrProviderClosed 连接已释放后再次获取
var ErrProviderClosed = errors.New("mongo provider closed")

// MongoProvider 进程级 MongoDB 连接：首次使用时建立，Close 时释放。
// 建连失败不会被缓存，下一次调用会重新尝试。
type MongoProvider struct {
	cfg    config.MongoConfig
	logger *zap.Logger

	mu     sync.Mutex
	client *mongo.Client
	closed bool
}

// NewMongoProvider 创建 MongoProvider（不会立即建连）
func NewMongoProvider(cfg *config.MongoConfig, logger *zap.Logger) *MongoProvider {
	return &MongoProvider{cfg: *cfg, logger: logger}
}

// Database 获取数据库句柄，必要时建立连接
func (p *MongoProvider) Database(ctx context.Context) (*mongo.Database, error) {
	client, err := p.acquire(ctx)
	if err != nil {
		return nil, err
	}
	return client.Database(p.cfg.Database), nil
}

// Collection 获取集合句柄
func (p *MongoProvider) Collection(ctx context.Context, name string) (*mongo.Collection, error) {
	db, err := p.Database(ctx)
	if err != nil {
		return nil, err
	}
	return db.Collection(name), nil
}

func (p *MongoProvider) acquire(ctx context.Context) (*mongo.Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, ErrProviderClosed
	}
	if p.client != nil {
		return p.client, nil
	}

	timeout := p.cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	opts := options.Client().ApplyURI(p.cfg.URI).SetConnectTimeout(timeout)
	if p.cfg.MaxPoolSize > 0 {
		opts.SetMaxPoolSize(p.cfg.MaxPoolSize)
	}

	connectCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := mongo.Connect(connectCtx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}
	if err := client.Ping(connectCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}

	p.logger.Info("MongoDB connected",
		zap.String("database", p.cfg.Database),
	)
	p.client = client
	return client, nil
}

// Close 释放连接（可重复调用）
func (p *MongoProvider) Close(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.closed = true
	if p.client == nil {
		return nil
	}
	err := p.client.Disconnect(ctx)
	p.client = nil
	return err
}
