package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/npezzotti/go-storechat/internal/api"
	"github.com/npezzotti/go-storechat/internal/audience"
	"github.com/npezzotti/go-storechat/internal/auth"
	"github.com/npezzotti/go-storechat/internal/config"
	"github.com/npezzotti/go-storechat/internal/database"
	"github.com/npezzotti/go-storechat/internal/server"
	"github.com/npezzotti/go-storechat/internal/stats"
	"github.com/redis/go-redis/v9"
)

const defaultSigningKey = "wT0phFUusHZIrDhL9bUKPUhwaxKhpi/SaI6PtgB+MgU="

type stringSliceFlag []string

func (s *stringSliceFlag) String() string {
	return strings.Join(*s, ",")
}

func (s *stringSliceFlag) Set(value string) error {
	*s = append(*s, strings.Split(value, ",")...)
	return nil
}

func envOr(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

var (
	addr           string
	dsn            string
	signingKey     string
	redisAddr      string
	authTimeout    time.Duration
	audienceTTL    time.Duration
	tokenTTL       time.Duration
	migrate        bool
	allowedOrigins stringSliceFlag
)

func main() {
	// .env is optional
	_ = godotenv.Load()

	flag.StringVar(&addr, "addr", envOr("STORECHAT_ADDR", "localhost:8000"), "server address")
	flag.StringVar(&dsn, "dsn", envOr("STORECHAT_DSN", "host=localhost user=postgres password=postgres dbname=postgres sslmode=disable"), "database connection string")
	flag.StringVar(&signingKey, "signing-key", envOr("STORECHAT_SIGNING_KEY", defaultSigningKey), "base64 encoded signing key")
	flag.StringVar(&redisAddr, "redis-addr", envOr("STORECHAT_REDIS_ADDR", ""), "redis address for the audience cache; empty disables caching")
	flag.DurationVar(&authTimeout, "auth-timeout", envDuration("STORECHAT_AUTH_TIMEOUT", config.DefaultAuthTimeout), "upper bound on credential verification")
	flag.DurationVar(&audienceTTL, "audience-ttl", envDuration("STORECHAT_AUDIENCE_TTL", config.DefaultAudienceTTL), "audience cache entry lifetime")
	flag.DurationVar(&tokenTTL, "token-ttl", envDuration("STORECHAT_TOKEN_TTL", config.DefaultTokenTTL), "lifetime of tokens issued at login")
	flag.BoolVar(&migrate, "migrate", envOr("STORECHAT_MIGRATE", "true") == "true", "apply database migrations at startup")
	flag.Var(&allowedOrigins, "allowed-origins", "comma-separated list of allowed origins for CORS")
	flag.Parse()

	if len(allowedOrigins) == 0 {
		if v := os.Getenv("STORECHAT_ALLOWED_ORIGINS"); v != "" {
			allowedOrigins.Set(v)
		}
	}

	logger := log.New(os.Stderr, "[storechat] ", log.LstdFlags)

	cfg, err := config.NewConfig(addr, dsn, signingKey, allowedOrigins)
	if err != nil {
		logger.Fatal("config:", err)
	}
	if err := cfg.SetTimeouts(authTimeout, audienceTTL, tokenTTL); err != nil {
		logger.Fatal("config:", err)
	}
	cfg.RedisAddr = redisAddr
	cfg.Migrate = migrate

	dbConn, err := database.NewPgRepository(cfg.DatabaseDSN)
	if err != nil {
		logger.Fatal("db open:", err)
	}
	defer func() {
		if err := dbConn.Close(); err != nil {
			logger.Fatal("db close:", err)
		}
	}()

	if cfg.Migrate {
		if err := dbConn.Migrate(); err != nil {
			logger.Fatal("db migrate:", err)
		}
	}

	// nobody is connected yet, whatever the last run left behind
	if err := dbConn.ResetPresence(context.Background()); err != nil {
		logger.Println("reset presence:", err)
	}

	var cache audience.Cache
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()

		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			logger.Println("redis unavailable, audience cache disabled:", err)
		} else {
			cache = audience.NewRedisCache(rdb, cfg.AudienceTTL)
		}
		cancel()
	}
	resolver := audience.NewResolver(logger, dbConn, cache)

	mux := http.NewServeMux()

	statsUpdater := stats.NewStatsUpdater(mux)

	chatServer, err := server.NewChatServer(logger, dbConn, resolver, statsUpdater)
	if err != nil {
		logger.Fatal("new chat server:", err)
	}

	gate := auth.NewGate(logger, dbConn, dbConn, cfg.SigningKey, cfg.AuthTimeout)

	srv := api.NewApp(mux, logger, chatServer, dbConn, gate, resolver, cfg)

	statsUpdater.Run()
	defer statsUpdater.Stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigs:
		logger.Printf("received signal: %s\n", sig)
	case err := <-errCh:
		logger.Println("server:", err)
	}

	shutDownCtx, cancel := context.WithTimeout(
		context.Background(),
		10*time.Second,
	)
	defer cancel()

	if err := srv.Shutdown(shutDownCtx); err != nil {
		logger.Fatalln("HTTP server shutdown:", err)
	}

	logger.Println("shutting down chat server...")
	if err := chatServer.Shutdown(shutDownCtx); err != nil {
		logger.Fatalln("chat server shutdown:", err)
	}

	logger.Println("shutdown complete")
}
