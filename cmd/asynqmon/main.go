package main

import (
	"net/http"
	"os"
	"time"

	"github.com/hibiken/asynq"
	"github.com/hibiken/asynqmon"

	"github.com/fixmart-dev/fixmart/internal/logger"
)

// The dashboard only needs Redis, so it reads its settings directly instead
// of loading the full API configuration.
func main() {
	logger.Init(getEnv("LOG_LEVEL", "info"), getEnv("LOG_FORMAT", "console"))
	log := logger.GetLogger()

	redisAddr := getEnv("REDIS_ADDRESS", "localhost:6379")
	port := getEnv("ASYNQMON_PORT", "8090")

	h := asynqmon.New(asynqmon.Options{
		RootPath:     "/asynqmon",
		RedisConnOpt: asynq.RedisClientOpt{Addr: redisAddr},
		ReadOnly:     os.Getenv("ASYNQMON_READ_ONLY") == "true",
	})
	defer h.Close()

	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Info().Str("port", port).Str("redis", redisAddr).Msg("Starting Asynqmon")
	if err := srv.ListenAndServe(); err != nil {
		log.Fatal().Err(err).Msg("Asynqmon stopped")
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
