package main

import (
	"context"
	"log"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
	"sealdrop/internal/auth"
	"sealdrop/internal/config"
	"sealdrop/internal/delivery"
	"sealdrop/internal/identity"
	"sealdrop/internal/ledger"
	"sealdrop/internal/mailer"
	"sealdrop/internal/registry"
	"sealdrop/internal/server"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal(err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	gin.SetMode(cfg.GinMode)

	var led ledger.Ledger
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			logger.Fatal("redis unreachable", zap.String("addr", cfg.RedisAddr), zap.Error(err))
		}
		led = ledger.NewRedisLedger(rdb, cfg.Retention)
		logger.Info("using redis ledger", zap.String("addr", cfg.RedisAddr))
	} else {
		led = ledger.NewMemoryLedger()
		logger.Warn("REDIS_ADDR unset, using in-memory ledger; pending messages do not survive restarts")
	}

	var ids identity.Store
	if cfg.MongoURI != "" {
		client, err := connectMongo(cfg.MongoURI)
		if err != nil {
			logger.Fatal("mongo unreachable", zap.Error(err))
		}
		store := identity.NewMongoStore(client.Database(cfg.MongoDatabase))
		if err := store.EnsureIndexes(context.Background()); err != nil {
			logger.Fatal("mongo index setup failed", zap.Error(err))
		}
		ids = store
		logger.Info("using mongo identity store", zap.String("database", cfg.MongoDatabase))
	} else {
		ids = identity.NewMemoryStore()
		logger.Warn("MONGO_URI unset, using in-memory identity store")
	}

	reg := registry.New()
	engine := delivery.NewEngine(led, reg, logger)

	sweepCtx, cancelSweep := context.WithCancel(context.Background())
	defer cancelSweep()
	go engine.RunSweeper(sweepCtx, cfg.SweepInterval, cfg.Retention)

	tokenCfg := auth.TokenConfig{
		Secret: cfg.MasterSecret,
		Expiry: cfg.TokenExpiry,
		Issuer: "sealdrop",
	}

	router := server.NewRouter(server.Deps{
		Identities:   ids,
		Engine:       engine,
		Registry:     reg,
		Codes:        auth.NewCodeIssuer(10 * time.Minute),
		Mailer:       &mailer.LogMailer{Log: logger},
		TokenConfig:  tokenCfg,
		PingInterval: cfg.PingInterval,
		Log:          logger,
	})

	logger.Info("listening", zap.Int("port", cfg.Port))
	logger.Fatal("server stopped", zap.Error(server.Run(cfg, router)))
}

func connectMongo(uri string) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	return client, client.Ping(ctx, nil)
}
