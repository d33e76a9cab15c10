package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "chat_relay_service/cmd/relay_service/docs" // swagger 文档
	"chat_relay_service/internal/relay/app"
	"chat_relay_service/internal/relay/domain"
	"chat_relay_service/internal/relay/repository"
	"chat_relay_service/internal/relay/router"
	"chat_relay_service/pkg/config"
	"chat_relay_service/pkg/database"
	"chat_relay_service/pkg/logger"
	testtool "chat_relay_service/pkg/test_tool"
	"chat_relay_service/pkg/token"
	"chat_relay_service/pkg/workerpool"

	"github.com/go-redis/redis/v8"
	"github.com/gofiber/fiber/v2"
	fiber_log "github.com/gofiber/fiber/v2/middleware/logger"
	"go.uber.org/zap"
)

func main() {
	logger.Log = logger.Initialize(config.EnvConfig.RelayService, config.EnvConfig.RelayLogPath)
	defer logger.Log.Sync()

	cfg := config.LoadConfig[config.Relay](config.EnvConfig.RelayService, config.EnvConfig.RelayYAMLPath)
	cfg.ApplyDefaults()
	if config.EnvConfig.RelayServicePort != "" {
		cfg.Port = config.EnvConfig.RelayServicePort
	}
	if cfg.NodeID == "" {
		cfg.NodeID, _ = os.Hostname()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	testtool.StartPprof(cfg.EnablePprof)

	// 1. gRPC health, NOT_SERVING 直到 store 都連上
	var healthSrv *database.HealthServer
	if cfg.Health.Port != "" {
		var err error
		healthSrv, err = database.StartHealthServer(cfg.Health.Port, cfg.Health.Name)
		if err != nil {
			logger.Log.Fatal("start health server", zap.Error(err))
		}
		defer healthSrv.Stop()
	}

	// 2. Redis (presence / bridge)
	var redisClient *redis.Client
	if cfg.Presence.Backend == "redis" || cfg.Bridge.Enabled {
		masterName, sentinel := config.GetRedisSetting()
		var err error
		redisClient, err = database.NewRedisClient(cfg.Redis.Addr, masterName, sentinel, cfg.Redis.RedisDB)
		if err != nil {
			logger.Log.Fatal("connect redis", zap.Error(err))
		}
		defer redisClient.Close()
	}

	// 3. Presence store
	var presence repository.PresenceStore
	switch cfg.Presence.Backend {
	case "redis":
		presence = repository.NewRedisPresenceStore(
			database.NewRedisRepository[domain.PresenceRecord](redisClient),
			cfg.Presence.TTL, cfg.Presence.KeyPrefix, cfg.NodeID)
	default:
		mem := repository.NewMemoryPresenceStore(cfg.Presence.TTL, cfg.NodeID)
		go mem.RunSweeper(ctx, cfg.Presence.SweepInterval)
		presence = mem
	}

	// 4. Message store
	messages, closeMessages := openMessageStore(ctx, cfg.MessageStore)
	defer closeMessages()

	// 5. User directory / lifecycle events
	directory, closeDirectory := openDirectory(cfg.Directory)
	defer closeDirectory()

	events := openEventPublisher(cfg.Events)
	defer events.Close()

	// 6. Relay
	pool := workerpool.New(cfg.Worker.Workers, cfg.Worker.QueueSize)
	defer pool.Shutdown()

	relay := app.NewRelay(app.NewRegistry(), presence, messages, events, pool, app.RelayOptions{
		PresenceTTL:         cfg.Presence.TTL,
		NodeID:              cfg.NodeID,
		RedeliverOnRegister: cfg.RedeliverOnReg,
	})

	if cfg.Bridge.Enabled {
		bridge := repository.NewRedisPubSub(redisClient, cfg.Bridge.Prefix)
		err := bridge.Subscribe(ctx, func(identity string, env domain.BridgeEnvelope) {
			relay.HandleBridge(ctx, identity, env)
		})
		if err != nil {
			logger.Log.Fatal("subscribe relay bridge", zap.Error(err))
		}
		relay.WithBridge(bridge)
	}

	var verifier *token.Verifier
	if cfg.Auth.Enabled {
		verifier = token.NewVerifier(cfg.Auth.Secret)
	}

	// 7. 啟動 Fiber
	r := fiber.New(fiber.Config{DisableStartupMessage: config.IsProduction()})
	file, err := os.OpenFile(fmt.Sprintf("%s/access.log", config.EnvConfig.RelayLogPath), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0666)
	if err != nil {
		log.Fatalf("Failed to open log file: %v", err)
	}
	defer file.Close()

	r.Use(fiber_log.New(fiber_log.Config{
		Output: file, // 将日志输出到文件
	}))

	router.RegisterRoutes(r,
		app.NewRelayWebsocketHandler(relay, cfg.PingInterval, cfg.OutboundQueue),
		app.NewHistoryHandler(relay, directory),
		verifier,
	)

	if healthSrv != nil {
		healthSrv.SetServing(true)
	}

	go func() {
		port := ":" + cfg.Port
		logger.Log.Info("Relay Service listening", zap.String("port", port), zap.String("node", cfg.NodeID))
		if err := r.Listen(port); err != nil {
			logger.Log.Error("fiber listen", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Log.Info("shutting down relay service")
	if healthSrv != nil {
		healthSrv.SetServing(false)
	}
	if err := r.ShutdownWithTimeout(10 * time.Second); err != nil {
		logger.Log.Error("fiber shutdown", zap.Error(err))
	}
}

func openMessageStore(ctx context.Context, c config.MessageStoreConfig) (repository.MessageRepository, func()) {
	switch c.Backend {
	case "postgres":
		db, err := database.NewGormConnection(database.Connection{
			ConnectStr:    postgresDSN(c.Postgres),
			RetryCount:    c.Postgres.RetryCount,
			RetryInterval: time.Duration(c.Postgres.RetryInterval),
		})
		if err != nil {
			logger.Log.Fatal("Unable to connect to postgres message store", zap.Error(err))
		}
		if err := repository.AutoMigrateMessages(db); err != nil {
			logger.Log.Fatal("migrate messages", zap.Error(err))
		}
		return repository.NewGormMessageRepository(db), func() {
			if sqlDB, err := db.DB(); err == nil {
				sqlDB.Close()
			}
		}

	case "sqlite":
		db, err := database.NewSQLConnection("sqlite3", database.Connection{ConnectStr: c.SQLite})
		if err != nil {
			logger.Log.Fatal("open sqlite message store", zap.String("path", c.SQLite), zap.Error(err))
		}
		repo, err := repository.NewSQLiteMessageRepository(db)
		if err != nil {
			logger.Log.Fatal("sqlite message store", zap.Error(err))
		}
		return repo, func() { db.Close() }

	case "memory":
		logger.Log.Warn("memory message store: history is lost on restart")
		return repository.NewMemoryMessageRepository(), func() {}

	default:
		uri := fmt.Sprintf("mongodb://%s:%s@%s:%d", c.Mongo.User, c.Mongo.Password, c.Mongo.Host, c.Mongo.Port)
		mongo, err := database.NewMongoDB(ctx, database.Connection{
			ConnectStr:    uri,
			RetryCount:    c.Mongo.RetryCount,
			RetryInterval: time.Duration(c.Mongo.RetryInterval),
		}, c.Mongo.Database)
		if err != nil {
			logger.Log.Fatal(
				"Unable to connect to mongoDB database after retries",
				zap.String("address", fmt.Sprintf("[%s:%d]", c.Mongo.Host, c.Mongo.Port)),
				zap.Error(err),
			)
		}
		if err := repository.EnsureMessageIndexes(ctx, mongo.Database); err != nil {
			logger.Log.Warn("ensure message indexes", zap.Error(err))
		}
		return repository.NewMongoMessageRepository(mongo.Database), func() {
			mongo.Close(context.Background())
		}
	}
}

func openDirectory(c config.DirectoryConfig) (repository.UserDirectory, func()) {
	d := c.Database
	switch c.Backend {
	case "postgres":
		pool, err := database.NewDatabaseConnection(database.Connection{
			ConnectStr:    postgresDSN(d),
			RetryCount:    d.RetryCount,
			RetryInterval: time.Duration(d.RetryInterval),
		})
		if err != nil {
			logger.Log.Fatal("Unable to connect to user directory", zap.Error(err))
		}
		return repository.NewPostgresDirectory(pool), pool.Close

	case "mysql":
		db, err := database.NewSQLConnection("mysql", database.Connection{
			ConnectStr:    fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true", d.User, d.Password, d.Host, d.Port, d.Database),
			RetryCount:    d.RetryCount,
			RetryInterval: time.Duration(d.RetryInterval),
		})
		if err != nil {
			logger.Log.Fatal("Unable to connect to user directory", zap.Error(err))
		}
		return repository.NewMySQLDirectory(db), func() { db.Close() }

	default:
		return nil, func() {}
	}
}

func openEventPublisher(c config.EventsConfig) repository.EventPublisher {
	conn := database.Connection{
		ConnectStr:    c.URL,
		RetryCount:    c.RetryCount,
		RetryInterval: time.Duration(c.RetryInterval),
	}

	switch c.Sink {
	case "kafka":
		w, err := database.NewKafkaWriterWithRetry(database.KafkaConnection{
			Brokers:       c.Brokers,
			Topic:         c.Topic,
			RetryCount:    c.RetryCount,
			RetryInterval: time.Duration(c.RetryInterval),
		})
		if err != nil {
			logger.Log.Fatal("kafka event sink", zap.Error(err))
		}
		return repository.NewKafkaEventPublisher(w)

	case "rabbitmq":
		mq, err := database.ConnectRabbitMQWithRetry(conn)
		if err != nil {
			logger.Log.Fatal("rabbitmq event sink", zap.Error(err))
		}
		ch, err := database.OpenTopicExchange(mq, c.Topic)
		if err != nil {
			logger.Log.Fatal("rabbitmq event sink", zap.Error(err))
		}
		return repository.NewRabbitEventPublisher(ch, c.Topic)

	case "nats":
		nc, err := database.ConnectNATS(conn, config.EnvConfig.RelayService)
		if err != nil {
			logger.Log.Fatal("nats event sink", zap.Error(err))
		}
		return repository.NewNatsEventPublisher(nc, c.Topic)

	default:
		return repository.NewNoopEventPublisher()
	}
}

func postgresDSN(d config.DatabaseConfig) string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable", d.User, d.Password, d.Host, d.Port, d.Database)
}
