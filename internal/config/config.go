package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server configuration
	Port string
	Mode string

	// Database configuration
	DatabaseURL string

	// Redis configuration
	RedisURL string

	// Logging configuration
	LogLevel string
	LogJSON  bool

	// Bearer tokens issued by the auth provider are HS256 signed with this secret
	AuthJWTSecret string

	// App Store receipt verification
	AppleSharedSecret       string
	AppleProductID          string
	VerifyReceiptURL        string
	VerifyReceiptSandboxURL string
	UpstreamTimeout         time.Duration
	BreakerFailureThreshold int
	BreakerOpenTimeout      time.Duration

	// App Store notification signing keys
	AppleJWKSURL        string
	AppleJWKSSandboxURL string
	AppleJWKSCacheTTL   time.Duration

	// Developer assertion used as bearer token for the key endpoints
	AppleIssuerID   string
	AppleKeyID      string
	ApplePrivateKey string
	AppleBundleID   string

	// Notification dedupe window
	NotificationTTL time.Duration

	// Optional callback to the app backend on entitlement changes
	EntitlementCallbackURL    string
	EntitlementCallbackSecret string
}

var AppConfig *Config

func InitConfig() error {
	// Load .env file
	if err := godotenv.Load(); err != nil {
		// Ignore error if .env file doesn't exist
	}

	AppConfig = &Config{
		Port:                      getEnv("PORT", "8080"),
		Mode:                      getEnv("GIN_MODE", "debug"),
		DatabaseURL:               getEnv("DATABASE_URL", ""),
		RedisURL:                  getEnv("REDIS_URL", ""),
		LogLevel:                  getEnv("LOG_LEVEL", "info"),
		LogJSON:                   getEnvBool("LOG_JSON", false),
		AuthJWTSecret:             getEnv("AUTH_JWT_SECRET", ""),
		AppleSharedSecret:         getEnv("APPLE_IAP_SHARED_SECRET", ""),
		AppleProductID:            getEnv("APPLE_IAP_PRODUCT_ID", ""),
		VerifyReceiptURL:          getEnv("APPLE_VERIFY_RECEIPT_URL", "https://buy.itunes.apple.com/verifyReceipt"),
		VerifyReceiptSandboxURL:   getEnv("APPLE_VERIFY_RECEIPT_SANDBOX_URL", "https://sandbox.itunes.apple.com/verifyReceipt"),
		UpstreamTimeout:           getEnvDuration("UPSTREAM_TIMEOUT", 15*time.Second),
		BreakerFailureThreshold:   getEnvInt("BREAKER_FAILURE_THRESHOLD", 5),
		BreakerOpenTimeout:        getEnvDuration("BREAKER_OPEN_TIMEOUT", 30*time.Second),
		AppleJWKSURL:              getEnv("APPLE_JWKS_URL", "https://api.storekit.itunes.apple.com/inApps/v1/notifications/jwsPublicKeys"),
		AppleJWKSSandboxURL:       getEnv("APPLE_JWKS_SANDBOX_URL", "https://api.storekit-sandbox.itunes.apple.com/inApps/v1/notifications/jwsPublicKeys"),
		AppleJWKSCacheTTL:         getEnvDuration("APPLE_JWKS_CACHE_TTL", 5*time.Minute),
		AppleIssuerID:             getEnv("APPLE_ISSUER_ID", ""),
		AppleKeyID:                getEnv("APPLE_KEY_ID", ""),
		ApplePrivateKey:           strings.ReplaceAll(getEnv("APPLE_PRIVATE_KEY", ""), `\n`, "\n"),
		AppleBundleID:             getEnv("APPLE_BUNDLE_ID", ""),
		NotificationTTL:           getEnvDuration("NOTIFICATION_TTL", 24*time.Hour),
		EntitlementCallbackURL:    getEnv("ENTITLEMENT_CALLBACK_URL", ""),
		EntitlementCallbackSecret: getEnv("ENTITLEMENT_CALLBACK_SECRET", ""),
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go duration strings ("90s", "5m") or plain seconds.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		return time.Duration(seconds) * time.Second
	}
	return defaultValue
}
