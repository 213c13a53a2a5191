package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"smartclock/common/database"
	"smartclock/common/logger"
	commonredis "smartclock/common/redis"
	"smartclock/internal/config"
	"smartclock/internal/devicetime"
	httpapi "smartclock/internal/http"
	"smartclock/internal/metrics"
	"smartclock/internal/monitor"
	"smartclock/internal/repository"
	"smartclock/internal/service"
	"smartclock/internal/store"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, logger.DefaultServiceName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	metrics.Init()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 闹钟存储
	var (
		alarmsRepo repository.AlarmsRepository
		mongo      *database.MongoProvider
		db         *sql.DB
	)
	switch cfg.Store.Driver {
	case config.StorePostgres:
		db, err = database.NewPostgresDB(ctx, &cfg.Database)
		if err != nil {
			log.Fatal("Failed to connect to PostgreSQL", zap.Error(err))
		}
		pg := repository.NewPostgresAlarmsRepo(db)
		if err := pg.EnsureSchema(ctx); err != nil {
			log.Fatal("Failed to ensure alarms schema", zap.Error(err))
		}
		alarmsRepo = pg
	case config.StoreMemory:
		log.Warn("Using in-memory alarm store, data is lost on restart")
		alarmsRepo = repository.NewMemoryAlarmsRepo()
	default:
		// 懒连接：首次请求时建立，失败不缓存
		mongo = database.NewMongoProvider(&cfg.Mongo, log)
		alarmsRepo = repository.NewMongoAlarmsRepo(mongo, cfg.Mongo.Collection)
	}
	log.Info("Alarm store selected", zap.String("driver", cfg.Store.Driver))

	// KV：Redis 或内存
	var (
		kv          store.KV
		redisClient *redis.Client
	)
	if cfg.Redis.Enabled {
		redisClient = commonredis.NewRedisClient(&cfg.Redis.RedisConfig)
		if err := commonredis.Ping(ctx, redisClient); err != nil {
			log.Warn("Redis unreachable, falling back to memory KV", zap.Error(err))
			_ = redisClient.Close()
			redisClient = nil
			kv = store.NewMemoryKV()
		} else {
			kv = store.NewRedisKV(redisClient)
		}
	} else {
		kv = store.NewMemoryKV()
	}

	bridge := devicetime.NewBridge(devicetime.Config{
		BrokerURL:      cfg.MQTT.Broker,
		Username:       cfg.MQTT.Username,
		Password:       cfg.MQTT.Password,
		ClientIDPrefix: cfg.MQTT.ClientID,
		ConnectTimeout: cfg.MQTT.ConnectTimeout(),
		ReplyTimeout:   cfg.MQTT.ReplyTimeout(),
		TimeTopic:      cfg.MQTT.TimeTopic,
		CommandTopic:   cfg.MQTT.CommandTopic,
		QoS:            cfg.MQTT.QoS,
	}, nil, log.Named("devicetime"))

	var clockMonitor httpapi.ClockMonitor
	monitorDone := make(chan struct{})
	if cfg.Monitor.Enabled {
		m := monitor.New(monitor.Config{
			BrokerURLs:     cfg.Monitor.BrokerURLs,
			Username:       cfg.MQTT.Username,
			Password:       cfg.MQTT.Password,
			ConnectTimeout: time.Duration(cfg.Monitor.ConnectTimeoutMs) * time.Millisecond,
			KeepAlive:      60 * time.Second,
			ErrorBackoff:   time.Duration(cfg.Monitor.ErrorBackoffMs) * time.Millisecond,
			CloseBackoff:   time.Duration(cfg.Monitor.CloseBackoffMs) * time.Millisecond,
			Freshness:      time.Duration(cfg.Monitor.FreshnessMs) * time.Millisecond,
			TimeTopic:      cfg.MQTT.TimeTopic,
			CommandTopic:   cfg.MQTT.CommandTopic,
			QoS:            cfg.MQTT.QoS,
		}, nil, kv, log.Named("monitor"))
		clockMonitor = m
		go func() {
			defer close(monitorDone)
			m.Run(ctx)
		}()
	} else {
		close(monitorDone)
	}

	alarmService := service.NewAlarmService(alarmsRepo, log)
	settingsService := service.NewDeviceSettingsService(kv, cfg.Device.Timezone, log)

	router := httpapi.NewRouter(log)
	router.RegisterAlarmRoutes(httpapi.NewAlarmHandler(alarmService, settingsService, log))
	router.RegisterDeviceRoutes(httpapi.NewDeviceHandler(bridge, clockMonitor, settingsService, log))
	router.RegisterOpsRoutes(metrics.Handler())

	srv := service.NewServer(cfg.HTTP.Addr, router, log)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("Shutting down", zap.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			log.Error("HTTP server stopped", zap.Error(err))
		}
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = srv.Stop(shutdownCtx)
	<-monitorDone
	if mongo != nil {
		if err := mongo.Close(shutdownCtx); err != nil {
			log.Warn("Failed to close MongoDB client", zap.Error(err))
		}
	}
	if db != nil {
		_ = db.Close()
	}
	if redisClient != nil {
		_ = redisClient.Close()
	}
}
