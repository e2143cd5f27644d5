package config

import (
	"os"
	"strconv"

	"crowdprop/internal/domain"
	"crowdprop/internal/logger"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

type Config struct {
	AppPort     string
	DatabaseURL string
	JWTSecret   string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Referral reward constants per currency
	Rewards domain.RewardTable

	// API limits
	APIRateLimit  int
	APIRateWindow int
}

// Load reads configuration from the environment (.env honored in dev).
func Load() *Config {
	_ = godotenv.Load()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		logger.Fatal("DATABASE_URL is not set")
	}

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		logger.Fatal("JWT_SECRET is not set")
	}

	port := os.Getenv("APP_PORT")
	if port == "" {
		port = "8080"
	}

	redisDB := 0
	if v := os.Getenv("REDIS_DB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			redisDB = n
		}
	}

	apiRateLimit := 60
	if v := os.Getenv("API_RATE_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			apiRateLimit = n
		}
	}

	apiRateWindow := 60
	if v := os.Getenv("API_RATE_WINDOW_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			apiRateWindow = n
		}
	}

	return &Config{
		AppPort:       port,
		DatabaseURL:   dbURL,
		JWTSecret:     jwtSecret,
		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       redisDB,
		Rewards:       loadRewardTable(),
		APIRateLimit:  apiRateLimit,
		APIRateWindow: apiRateWindow,
	}
}

// loadRewardTable starts from the platform defaults and applies env
// overrides of the form REFERRAL_REWARD_TND=25, REFERRAL_MIN_INVEST_TND=2000.
func loadRewardTable() domain.RewardTable {
	table := domain.DefaultRewardTable()
	for cur, tier := range table {
		if v := envDecimal("REFERRAL_REWARD_" + string(cur)); v != nil {
			tier.ReferrerReward = *v
			tier.RefereeReward = *v
		}
		if v := envDecimal("REFERRAL_MIN_INVEST_" + string(cur)); v != nil {
			tier.MinInvestment = *v
		}
		table[cur] = tier
	}
	return table
}

func envDecimal(key string) *decimal.Decimal {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := decimal.NewFromString(v)
	if err != nil || d.Sign() <= 0 {
		logger.Warn("ignoring invalid decimal env value", "key", key, "value", v)
		return nil
	}
	return &d
}
