package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"time"

	"github.com/joho/godotenv"
)

// Environment variables read by Load.
const (
	EnvHost             = "DB_HOST"
	EnvPort             = "DB_PORT"
	EnvName             = "DB_NAME"
	EnvUser             = "DB_USER"
	EnvPassword         = "DB_PASSWORD"
	EnvStatementTimeout = "ISOLAB_STATEMENT_TIMEOUT"
)

// Config holds the connection settings for the PostgreSQL backend.
type Config struct {
	Host     string
	Port     string
	Name     string
	User     string
	Password string

	// StatementTimeout bounds every statement on a session connection.
	// Zero leaves the server default in place.
	StatementTimeout time.Duration
}

// Load reads the connection settings from the process environment after
// merging in envFile. A missing envFile is not an error; variables already
// set in the environment win over the file.
func Load(envFile string) (Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("config: loading %s: %w", envFile, err)
		}
	}
	cfg := Config{
		Host:     getenv(EnvHost, "localhost"),
		Port:     getenv(EnvPort, "5432"),
		Name:     getenv(EnvName, "postgres"),
		User:     getenv(EnvUser, "postgres"),
		Password: os.Getenv(EnvPassword),
	}
	if raw := os.Getenv(EnvStatementTimeout); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return Config{}, fmt.Errorf("config: %s: %w", EnvStatementTimeout, err)
		}
		cfg.StatementTimeout = d
	}
	return cfg, nil
}

// DSN renders the settings as a PostgreSQL connection URL.
func (c Config) DSN() string {
	u := url.URL{
		Scheme:   "postgres",
		Host:     net.JoinHostPort(c.Host, c.Port),
		Path:     "/" + c.Name,
		RawQuery: "sslmode=disable",
	}
	if c.Password != "" {
		u.User = url.UserPassword(c.User, c.Password)
	} else {
		u.User = url.User(c.User)
	}
	return u.String()
}

func getenv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}
