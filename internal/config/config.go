package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	DBDSN    string
	RedisDSN string
	HTTPAddr string
	LogLevel string

	// raw secret kept in-memory only; never log this
	TokenSecret string

	// seed the snowflake generator; each running process needs a distinct
	// (worker, process) pair
	WorkerID  uint64
	ProcessID uint64

	S3Endpoint string
	S3Bucket   string
	S3Region   string

	GatewayQueueDepth int
	GatewayPongWait   time.Duration

	CORSOrigins []string
}

func Load() (Config, error) {
	cfg := Config{
		DBDSN:       os.Getenv("DB_DSN"),
		RedisDSN:    getenvDefault("REDIS_DSN", "redis://localhost:6379/0"),
		HTTPAddr:    getenvDefault("HTTP_ADDR", ":8080"),
		LogLevel:    getenvDefault("LOG_LEVEL", "info"),
		TokenSecret: os.Getenv("TOKEN_SECRET"),
		S3Endpoint:  getenvDefault("S3_ENDPOINT", ""),
		S3Bucket:    getenvDefault("S3_BUCKET", ""),
		S3Region:    getenvDefault("S3_REGION", "auto"),
	}

	if cfg.DBDSN == "" {
		return Config{}, errors.New("missing DB_DSN")
	}
	if cfg.TokenSecret == "" {
		return Config{}, errors.New("missing TOKEN_SECRET")
	}

	var err error
	if cfg.WorkerID, err = getenvUint("WORKER_ID", 0); err != nil {
		return Config{}, err
	}
	if cfg.ProcessID, err = getenvUint("PROCESS_ID", 0); err != nil {
		return Config{}, err
	}

	depth, err := getenvUint("GATEWAY_QUEUE_DEPTH", 128)
	if err != nil {
		return Config{}, err
	}
	cfg.GatewayQueueDepth = int(depth)

	if cfg.GatewayPongWait, err = getenvDuration("GATEWAY_PONG_WAIT", 60*time.Second); err != nil {
		return Config{}, err
	}

	// parse CORS origins
	corsOrigins := getenvDefault("CORS_ORIGINS", "")
	if corsOrigins != "" {
		cfg.CORSOrigins = strings.Split(corsOrigins, ",")
		for i := range cfg.CORSOrigins {
			cfg.CORSOrigins[i] = strings.TrimSpace(cfg.CORSOrigins[i])
		}
	} else {
		cfg.CORSOrigins = []string{"http://localhost:3000"} // default
	}

	return cfg, nil
}

func getenvDefault(k, def string) string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	return v
}

func getenvUint(k string, def uint64) (uint64, error) {
	v := os.Getenv(k)
	if v == "" {
		return def, nil
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be a non-negative integer", k)
	}
	return n, nil
}

func getenvDuration(k string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(k)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("%s must be a positive duration", k)
	}
	return d, nil
}
