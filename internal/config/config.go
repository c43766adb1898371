package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port         int
	MasterSecret string
	GinMode      string
	TLSCertFile  string
	TLSKeyFile   string
	TokenExpiry  time.Duration

	RedisAddr     string
	RedisPassword string
	MongoURI      string
	MongoDatabase string

	// Retention bounds how long an undelivered envelope stays in the ledger
	// before the sweeper deletes it. SweepInterval is how often the sweeper
	// runs. PingInterval drives the websocket liveness probe; a connection
	// that misses one probe is closed.
	Retention     time.Duration
	SweepInterval time.Duration
	PingInterval  time.Duration
}

type Env interface {
	Getenv(key string) string
}

type osEnv struct{}

func (osEnv) Getenv(key string) string { return os.Getenv(key) }

func LoadConfig() (Config, error) {
	return LoadConfigFromEnv(osEnv{})
}

func LoadConfigFromEnv(env Env) (Config, error) {
	cfg := Config{
		Port:          3000,
		GinMode:       "release",
		TokenExpiry:   7 * 24 * time.Hour,
		MongoDatabase: "sealdrop",
		Retention:     14 * 24 * time.Hour,
		SweepInterval: 10 * time.Minute,
		PingInterval:  30 * time.Second,
	}

	if raw := env.Getenv("PORT"); raw != "" {
		port, err := strconv.Atoi(raw)
		if err != nil || port <= 0 || port > 65535 {
			return Config{}, fmt.Errorf("invalid PORT")
		}
		cfg.Port = port
	}

	cfg.MasterSecret = env.Getenv("MASTER_SECRET")
	if cfg.MasterSecret == "" {
		return Config{}, fmt.Errorf("MASTER_SECRET is required")
	}

	if raw := env.Getenv("GIN_MODE"); raw != "" {
		cfg.GinMode = raw
	}

	cfg.TLSCertFile = env.Getenv("TLS_CERT_FILE")
	cfg.TLSKeyFile = env.Getenv("TLS_KEY_FILE")

	cfg.RedisAddr = env.Getenv("REDIS_ADDR")
	cfg.RedisPassword = env.Getenv("REDIS_PASSWORD")
	cfg.MongoURI = env.Getenv("MONGO_URI")
	if raw := env.Getenv("MONGO_DATABASE"); raw != "" {
		cfg.MongoDatabase = raw
	}

	if raw := env.Getenv("TOKEN_EXPIRY_SECONDS"); raw != "" {
		seconds, err := strconv.Atoi(raw)
		if err != nil || seconds <= 0 {
			return Config{}, fmt.Errorf("invalid TOKEN_EXPIRY_SECONDS")
		}
		cfg.TokenExpiry = time.Duration(seconds) * time.Second
	}

	if raw := env.Getenv("RETENTION_HOURS"); raw != "" {
		hours, err := strconv.Atoi(raw)
		if err != nil || hours <= 0 {
			return Config{}, fmt.Errorf("invalid RETENTION_HOURS")
		}
		cfg.Retention = time.Duration(hours) * time.Hour
	}

	if raw := env.Getenv("SWEEP_INTERVAL_SECONDS"); raw != "" {
		seconds, err := strconv.Atoi(raw)
		if err != nil || seconds <= 0 {
			return Config{}, fmt.Errorf("invalid SWEEP_INTERVAL_SECONDS")
		}
		cfg.SweepInterval = time.Duration(seconds) * time.Second
	}

	if raw := env.Getenv("PING_INTERVAL_SECONDS"); raw != "" {
		seconds, err := strconv.Atoi(raw)
		if err != nil || seconds <= 0 {
			return Config{}, fmt.Errorf("invalid PING_INTERVAL_SECONDS")
		}
		cfg.PingInterval = time.Duration(seconds) * time.Second
	}

	return cfg, nil
}
