package config

import (
	"strings"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

const (
	defaultDBPath   = "./dev.db"
	defaultPort     = "8080"
	defaultEnv      = "development"
	defaultLogLevel = "info"
)

// Config holds application configuration sourced from environment variables.
type Config struct {
	AppEnv        string
	Port          string
	DBPath        string
	SessionSecret string
	RedisAddr     string
	RedisPassword string
	LogLevel      string
	SeedDemo      bool
}

// IsDev reports whether the server runs in a development environment.
func (c Config) IsDev() bool {
	switch strings.ToLower(c.AppEnv) {
	case "", "dev", "development", "local":
		return true
	}
	return false
}

// Load reads .env (if present) and the process environment.
func Load() Config {
	return load(".env")
}

func load(dotenvPath string) Config {
	// Best-effort: a missing file is normal outside local development.
	// Real environment variables always win over the file.
	_ = godotenv.Load(dotenvPath)

	v := viper.New()
	v.AutomaticEnv()
	v.SetDefault("APP_ENV", defaultEnv)
	v.SetDefault("PORT", defaultPort)
	v.SetDefault("DB_PATH", defaultDBPath)
	v.SetDefault("LOG_LEVEL", defaultLogLevel)
	v.SetDefault("SEED_DEMO", false)

	cfg := Config{
		AppEnv:        v.GetString("APP_ENV"),
		Port:          v.GetString("PORT"),
		DBPath:        v.GetString("DB_PATH"),
		SessionSecret: v.GetString("SESSION_SECRET"),
		RedisAddr:     v.GetString("REDIS_ADDR"),
		RedisPassword: v.GetString("REDIS_PASSWORD"),
		LogLevel:      v.GetString("LOG_LEVEL"),
		SeedDemo:      v.GetBool("SEED_DEMO"),
	}

	// Empty env values count as unset.
	if cfg.Port == "" {
		cfg.Port = defaultPort
	}
	if cfg.DBPath == "" {
		cfg.DBPath = defaultDBPath
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = defaultLogLevel
	}

	if cfg.SessionSecret == "" {
		logrus.Warn("SESSION_SECRET is not set")
	}

	return cfg
}

// NewLogger builds the process logger: text output in development, JSON
// otherwise.
func (c Config) NewLogger() *logrus.Logger {
	log := logrus.New()
	if c.IsDev() {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		log.SetFormatter(&logrus.JSONFormatter{})
	}

	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		log.WithField("log_level", c.LogLevel).Warn("unknown log level, using info")
		level = logrus.InfoLevel
	}
	log.SetLevel(level)
	return log
}
