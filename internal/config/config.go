package config

import (
	"errors"
	"os"
	"strconv"
)

type Config struct {
	PickBackendURL      string
	WSPath              string
	WSScheme            string
	BuildNumber         string
	Env                 string
	KeepAliveSeconds    int
	ReconnectStepMillis int
	MaxReconnectStep    int
}

func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func getint(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func Load() Config {
	return Config{
		PickBackendURL:      getenv("PICK_BACKEND_URL", "http://localhost:8080/pick_backend"),
		WSPath:              getenv("WS_PATH", "/ws_entry"),
		WSScheme:            getenv("WS_SCHEME", "ws"),
		BuildNumber:         getenv("BUILD_NUMBER", "1"),
		Env:                 getenv("APP_ENV", "dev"),
		KeepAliveSeconds:    getint("KEEPALIVE_SECONDS", 5),
		ReconnectStepMillis: getint("RECONNECT_STEP_MILLIS", 3000),
		MaxReconnectStep:    getint("MAX_RECONNECT_STEP", 10),
	}
}

func Validate(cfg Config) error {
	if cfg.PickBackendURL == "" {
		return errors.New("config: PickBackendURL is required")
	}
	if cfg.WSScheme != "ws" && cfg.WSScheme != "wss" {
		return errors.New("config: WSScheme must be ws or wss")
	}
	if cfg.WSPath == "" || cfg.WSPath[0] != '/' {
		return errors.New("config: WSPath must start with /")
	}
	if cfg.BuildNumber == "" {
		return errors.New("config: BuildNumber is required")
	}
	if cfg.KeepAliveSeconds <= 0 || cfg.ReconnectStepMillis <= 0 || cfg.MaxReconnectStep <= 0 {
		return errors.New("config: intervals must be positive")
	}
	return nil
}
