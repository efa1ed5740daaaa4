package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

type Config struct {
	Port                  string
	AllowedOrigin         string
	DatabaseURL           string
	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	DefaultCurrency       string
	QuoteTTLSeconds       int
	AuthSecret            string
	AccessTokenTTLMinutes int
	SyncCron              string
	SyncWorkers           int
	CommissionPercent     float64
	TouristTaxAllGuests   bool
}

func Load() Config {
	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	quoteTTL, err := strconv.Atoi(getEnv("QUOTE_TTL_SECONDS", "30"))
	if err != nil || quoteTTL < 1 {
		quoteTTL = 30
	}
	tokenTTL, err := strconv.Atoi(getEnv("ACCESS_TOKEN_TTL_MINUTES", "480"))
	if err != nil || tokenTTL < 1 {
		tokenTTL = 480
	}
	workers, err := strconv.Atoi(getEnv("SYNC_WORKERS", "4"))
	if err != nil || workers < 1 {
		workers = 4
	}
	commission, err := strconv.ParseFloat(getEnv("COMMISSION_PCT", "15"), 64)
	if err != nil || commission < 0 || commission > 100 {
		commission = 15
	}

	cfg := Config{
		Port:                  getEnv("PORT", "8080"),
		AllowedOrigin:         getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		DatabaseURL:           os.Getenv("DATABASE_URL"),
		RedisAddr:             os.Getenv("REDIS_ADDR"),
		RedisPassword:         os.Getenv("REDIS_PASSWORD"),
		RedisDB:               redisDB,
		DefaultCurrency:       getEnv("DEFAULT_CURRENCY", "EUR"),
		QuoteTTLSeconds:       quoteTTL,
		AuthSecret:            strings.TrimSpace(os.Getenv("AUTH_SECRET")),
		AccessTokenTTLMinutes: tokenTTL,
		SyncCron:              getEnv("SYNC_CRON", "@every 30m"),
		SyncWorkers:           workers,
		CommissionPercent:     commission,
		TouristTaxAllGuests:   getEnv("TOURIST_TAX_ALL_GUESTS", "true") == "true",
	}

	return cfg
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}
