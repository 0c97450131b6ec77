package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application.
type Config struct {
	// Environment
	RunMode string // Set via flag, not env

	// MongoDB
	MongoURI    string
	MongoDbName string

	// Redis
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Server
	ApiPort        string
	ServiceApiPort string

	// Payment facilitator (x402)
	FacilitatorURL     string
	FacilitatorTimeout time.Duration

	// Signature verification
	SigningDomainName    string
	SigningDomainVersion string
	OwnerAuthWindow      time.Duration // max age of a mutation signature nonce
	ReadAuthFutureSkew   time.Duration // clock-skew grace for read-auth timestamps
	ChainRPCURLs         map[int64]string

	// Notifications
	DiscordWebhookURL string

	// App Defaults
	AppName        string
	DefaultChainID int64
	GetCacheTTL    time.Duration

	// Rate Limiting Defaults
	RateLimitBucketSize int
	RateLimitRefillRate int // tokens per second
}

// Load configuration from environment variables.
// RunMode needs to be passed in as it comes from command-line flags.
func Load(runMode string) (*Config, error) {
	// Load .env file, ignoring errors if it doesn't exist
	godotenv.Load()

	cfg := &Config{
		RunMode: runMode, // Set from flag
	}

	var err error

	// Helper function to get env var or default
	getEnv := func(key, defaultValue string) string {
		if value, exists := os.LookupEnv(key); exists {
			return value
		}
		return defaultValue
	}

	// Helper function to get required env var
	getRequiredEnv := func(key string) (string, error) {
		value, exists := os.LookupEnv(key)
		if !exists {
			return "", fmt.Errorf("missing required environment variable: %s", key)
		}
		return value, nil
	}

	cfg.MongoURI, err = getRequiredEnv("MONGO_URI")
	if err != nil {
		return nil, err
	}
	cfg.MongoDbName = getEnv("MONGO_DB_NAME", "invitemarkets")
	cfg.RedisAddr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.RedisPassword = getEnv("REDIS_PASSWORD", "")
	cfg.ApiPort = getEnv("API_PORT", "8080")
	cfg.ServiceApiPort = getEnv("SERVICE_API_PORT", "12345")
	cfg.FacilitatorURL = getEnv("FACILITATOR_URL", "https://x402.org/facilitator")
	cfg.SigningDomainName = getEnv("SIGNING_DOMAIN_NAME", "Invite Markets")
	cfg.SigningDomainVersion = getEnv("SIGNING_DOMAIN_VERSION", "1")
	cfg.DiscordWebhookURL = getEnv("DISCORD_WEBHOOK_URL", "")
	cfg.AppName = getEnv("APP_NAME", "Invite Markets")

	cfg.RedisDB, err = strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	cfg.DefaultChainID, err = strconv.ParseInt(getEnv("DEFAULT_CHAIN_ID", "8453"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid DEFAULT_CHAIN_ID: %w", err)
	}

	facilitatorTimeoutSeconds, err := strconv.ParseInt(getEnv("FACILITATOR_TIMEOUT_SECONDS", "30"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid FACILITATOR_TIMEOUT_SECONDS: %w", err)
	}
	cfg.FacilitatorTimeout = time.Duration(facilitatorTimeoutSeconds) * time.Second

	ownerAuthWindowSeconds, err := strconv.ParseInt(getEnv("OWNER_AUTH_WINDOW_SECONDS", "300"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid OWNER_AUTH_WINDOW_SECONDS: %w", err)
	}
	cfg.OwnerAuthWindow = time.Duration(ownerAuthWindowSeconds) * time.Second

	readAuthFutureSkewSeconds, err := strconv.ParseInt(getEnv("READ_AUTH_FUTURE_SKEW_SECONDS", "30"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid READ_AUTH_FUTURE_SKEW_SECONDS: %w", err)
	}
	cfg.ReadAuthFutureSkew = time.Duration(readAuthFutureSkewSeconds) * time.Second

	getCacheTTLSeconds, err := strconv.ParseInt(getEnv("GET_CACHE_TTL_SECONDS", "60"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid GET_CACHE_TTL_SECONDS: %w", err)
	}
	cfg.GetCacheTTL = time.Duration(getCacheTTLSeconds) * time.Second

	cfg.RateLimitBucketSize, err = strconv.Atoi(getEnv("RATE_LIMIT_BUCKET_SIZE", "8"))
	if err != nil {
		return nil, fmt.Errorf("invalid RATE_LIMIT_BUCKET_SIZE: %w", err)
	}
	cfg.RateLimitRefillRate, err = strconv.Atoi(getEnv("RATE_LIMIT_REFILL_RATE", "4"))
	if err != nil {
		return nil, fmt.Errorf("invalid RATE_LIMIT_REFILL_RATE: %w", err)
	}

	cfg.ChainRPCURLs, err = parseChainRPCURLs(getEnv("CHAIN_RPC_URLS", ""))
	if err != nil {
		return nil, err
	}

	return cfg, nil
}

// parseChainRPCURLs parses a comma-separated "chainId=url" list, e.g.
// "8453=https://mainnet.base.org,84532=https://sepolia.base.org".
func parseChainRPCURLs(raw string) (map[int64]string, error) {
	urls := make(map[int64]string)
	if raw == "" {
		return urls, nil
	}
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		parts := strings.SplitN(pair, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid CHAIN_RPC_URLS entry: %s", pair)
		}
		chainID, err := strconv.ParseInt(parts[0], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid chain ID in CHAIN_RPC_URLS entry %s: %w", pair, err)
		}
		urls[chainID] = parts[1]
	}
	return urls, nil
}
