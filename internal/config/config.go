package config

import (
	"log"
	"os"
	"strconv"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
)

type Config struct {
	DBUrl               string
	Port                string
	JWTSecret           string
	RedisURL            string
	LogLevel            string
	OptOutCredit        int64
	AllowCreditOverride bool
	Location            *time.Location
	RateLimit           float64
	RateBurst           int
}

func LoadConfig() Config {
	err := godotenv.Load()
	if err != nil {
		log.Println(".env file not found, using defaults")
	}

	return Config{
		DBUrl:               os.Getenv("DB_URL"),
		Port:                getEnv("PORT", "8080"),
		JWTSecret:           os.Getenv("JWT_SECRET"),
		RedisURL:            os.Getenv("REDIS_URL"),
		LogLevel:            getEnv("LOG_LEVEL", "info"),
		OptOutCredit:        getEnvInt64("OPT_OUT_CREDIT", 50),
		AllowCreditOverride: getEnvBool("ALLOW_CREDIT_OVERRIDE", false),
		Location:            getEnvLocation("MESS_TIMEZONE"),
		RateLimit:           getEnvFloat("RATE_LIMIT", 10),
		RateBurst:           int(getEnvInt64("RATE_BURST", 20)),
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt64(key string, def int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n <= 0 {
		log.Printf("invalid %s=%q, using %d", key, v, def)
		return def
	}
	return n
}

func getEnvFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f <= 0 {
		log.Printf("invalid %s=%q, using %g", key, v, def)
		return def
	}
	return f
}

func getEnvBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.Printf("invalid %s=%q, using %t", key, v, def)
		return def
	}
	return b
}

func getEnvLocation(key string) *time.Location {
	v := os.Getenv(key)
	if v == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(v)
	if err != nil {
		log.Printf("unknown time zone %s=%q, using local time", key, v)
		return time.Local
	}
	return loc
}
