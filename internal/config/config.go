package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the bot.
type Config struct {
	App      AppConfig
	Store    StoreConfig
	Postgres PostgresConfig
	Redis    RedisConfig
	Logger   LoggerConfig
	Auth     AuthConfig
	Gateway  GatewayConfig
	Verify   VerifyConfig
}

// AppConfig controls server level behavior.
type AppConfig struct {
	Name                  string
	Env                   string
	Host                  string
	Port                  string
	Version               string
	RequestTimeoutSeconds int
}

// StoreConfig selects and configures the remote record store.
type StoreConfig struct {
	// Driver is one of "github", "postgres", "memory".
	Driver       string
	RosterPath   string
	RegistryPath string
	GitHub       GitHubConfig
}

// GitHubConfig holds hosted-repository store values.
type GitHubConfig struct {
	APIBaseURL string
	Token      string
	Owner      string
	Repo       string
	Branch     string
}

// PostgresConfig holds DB connection values for the postgres store driver.
type PostgresConfig struct {
	DSN            string
	MaxConns       int32
	MinConns       int32
	RunMigrations  bool
	ConnMaxIdleSec int32
	ConnMaxLifeSec int32
}

// RedisConfig holds Redis connection values.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level string
}

// AuthConfig defines parameters for webhook and admin bearer tokens.
type AuthConfig struct {
	JWTSecret            string
	AdminTokenTTLMinutes int
}

// GatewayConfig configures the outbound chat-platform client.
type GatewayConfig struct {
	APIBaseURL     string
	Token          string
	DedupeTTL      time.Duration
	RequestTimeout time.Duration
}

// VerifyConfig carries the interview policy: question predicates, the
// channel/role names the orchestrator touches and the teardown delays.
type VerifyConfig struct {
	CommandToken        string
	CommandChannel      string
	VerifiedRole        string
	ChannelPrefix       string
	NamePattern         string
	RegistrationPattern string
	EmailPattern        string
	SuccessDelay        time.Duration
	FailureDelay        time.Duration
	// SessionTimeout bounds how long an interview may wait for answers.
	// Zero preserves the historical unbounded wait.
	SessionTimeout time.Duration
	// OperatorChannelID receives persistence failure notices when set.
	OperatorChannelID string
}

// Load reads configuration from environment variables, applying defaults where possible.
func Load() (*Config, error) {
	_ = godotenv.Load()

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	maxConns := int32(getEnvAsInt("POSTGRES_MAX_CONNS", 10))
	minConns := int32(getEnvAsInt("POSTGRES_MIN_CONNS", 2))
	runMigrations := getEnvAsBool("POSTGRES_RUN_MIGRATIONS", true)
	connMaxIdle := int32(getEnvAsInt("POSTGRES_CONN_MAX_IDLE_SECONDS", 30))
	connMaxLife := int32(getEnvAsInt("POSTGRES_CONN_MAX_LIFE_SECONDS", 300))

	cfg := &Config{
		App: AppConfig{
			Name:                  getEnv("APP_NAME", "membership-bot"),
			Env:                   getEnv("APP_ENV", "development"),
			Host:                  getEnv("APP_HOST", "0.0.0.0"),
			Port:                  getEnv("APP_PORT", "8080"),
			Version:               getEnv("APP_VERSION", "dev"),
			RequestTimeoutSeconds: getEnvAsInt("HTTP_REQUEST_TIMEOUT_SECONDS", 30),
		},
		Store: StoreConfig{
			Driver:       getEnv("STORE_DRIVER", "github"),
			RosterPath:   getEnv("STORE_ROSTER_PATH", "students.csv"),
			RegistryPath: getEnv("STORE_REGISTRY_PATH", "members.csv"),
			GitHub: GitHubConfig{
				APIBaseURL: getEnv("GITHUB_API_BASE_URL", "https://api.github.com"),
				Token:      os.Getenv("GITHUB_TOKEN"),
				Owner:      os.Getenv("GITHUB_OWNER"),
				Repo:       os.Getenv("GITHUB_REPO"),
				Branch:     getEnv("GITHUB_BRANCH", "main"),
			},
		},
		Postgres: PostgresConfig{
			DSN:            os.Getenv("POSTGRES_DSN"),
			MaxConns:       maxConns,
			MinConns:       minConns,
			RunMigrations:  runMigrations,
			ConnMaxIdleSec: connMaxIdle,
			ConnMaxLifeSec: connMaxLife,
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "127.0.0.1:6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       redisDB,
		},
		Logger: LoggerConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Auth: AuthConfig{
			JWTSecret:            getEnv("AUTH_JWT_SECRET", "dev-secret"),
			AdminTokenTTLMinutes: getEnvAsInt("AUTH_ADMIN_TOKEN_TTL_MINUTES", 60),
		},
		Gateway: GatewayConfig{
			APIBaseURL:     getEnv("GATEWAY_API_BASE_URL", ""),
			Token:          os.Getenv("GATEWAY_TOKEN"),
			DedupeTTL:      getEnvAsDuration("GATEWAY_DEDUPE_TTL", 10*time.Minute),
			RequestTimeout: getEnvAsDuration("GATEWAY_REQUEST_TIMEOUT", 10*time.Second),
		},
		Verify: VerifyConfig{
			CommandToken:        getEnv("VERIFY_COMMAND_TOKEN", "$verify"),
			CommandChannel:      getEnv("VERIFY_COMMAND_CHANNEL", "membership-verification"),
			VerifiedRole:        getEnv("VERIFY_ROLE_NAME", "member"),
			ChannelPrefix:       getEnv("VERIFY_CHANNEL_PREFIX", "verify-"),
			NamePattern:         getEnv("VERIFY_NAME_PATTERN", `^[a-zA-Z0-9\s]+$`),
			RegistrationPattern: getEnv("VERIFY_REGISTRATION_PATTERN", `^(CSE|ECE|ME|CE|EE)/20/[0-4][0-9]$`),
			EmailPattern:        getEnv("VERIFY_EMAIL_PATTERN", `^[A-Za-z0-9.]+[@]nitap.ac.in$`),
			SuccessDelay:        getEnvAsDuration("VERIFY_SUCCESS_DELAY", 5*time.Second),
			FailureDelay:        getEnvAsDuration("VERIFY_FAILURE_DELAY", 60*time.Second),
			SessionTimeout:      getEnvAsDuration("VERIFY_SESSION_TIMEOUT", 0),
			OperatorChannelID:   os.Getenv("VERIFY_OPERATOR_CHANNEL_ID"),
		},
	}

	return cfg, nil
}

// Addr returns the HTTP bind address.
func (a AppConfig) Addr() string {
	return fmt.Sprintf("%s:%s", a.Host, a.Port)
}

// RequestTimeout returns the configured request timeout duration.
func (a AppConfig) RequestTimeout() time.Duration {
	if a.RequestTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(a.RequestTimeoutSeconds) * time.Second
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(val)
	if err != nil {
		return fallback
	}
	return parsed
}
