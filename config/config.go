package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

type Config struct {
	HTTPAddr      string
	PublicBaseURL string

	DB    DBConfig
	Redis RedisConfig
	Kafka KafkaConfig

	LiqPayPrivateKey      string
	FondyMerchantPassword string

	TelegramBotToken string
	TelegramChatIDs  string

	AdminUser     string
	AdminPass     string
	SessionSecret string
	SessionTTL    time.Duration

	TracingEnabled bool
	JaegerEndpoint string
}

type DBConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
}

type KafkaConfig struct {
	Enabled bool
	Broker  string
	Topic   string
}

// Load reads an optional .env file and then the process environment.
func Load(logger *zap.Logger) Config {
	if err := godotenv.Load(); err != nil {
		logger.Debug("No .env file loaded", zap.Error(err))
	}

	cfg := Config{
		HTTPAddr:      getEnv("HTTP_ADDR", ":8080"),
		PublicBaseURL: strings.TrimRight(getEnv("PUBLIC_BASE_URL", ""), "/"),
		DB: DBConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			Name:     getEnv("DB_NAME", "shopdb"),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
		},
		Kafka: KafkaConfig{
			Enabled: getBool("KAFKA_ENABLED", false),
			Broker:  getEnv("KAFKA_BROKER", "localhost:9092"),
			Topic:   getEnv("KAFKA_TOPIC", "order_events"),
		},
		LiqPayPrivateKey:      os.Getenv("LIQPAY_PRIVATE_KEY"),
		FondyMerchantPassword: os.Getenv("FONDY_MERCHANT_PASSWORD"),
		TelegramBotToken:      os.Getenv("TELEGRAM_BOT_TOKEN"),
		TelegramChatIDs:       os.Getenv("TELEGRAM_CHAT_ID"),
		AdminUser:             getEnv("ADMIN_USER", "admin"),
		AdminPass:             getEnv("ADMIN_PASS", "admin"),
		SessionSecret:         os.Getenv("SESSION_SECRET"),
		SessionTTL:            getDuration("SESSION_TTL", 8*time.Hour),
		TracingEnabled:        getBool("TRACING_ENABLED", false),
		JaegerEndpoint:        getEnv("JAEGER_ENDPOINT", "http://localhost:14268/api/traces"),
	}

	if cfg.SessionSecret == "" {
		cfg.SessionSecret = randomSecret()
		logger.Warn("SESSION_SECRET is not set, using a random secret; admin sessions will not survive a restart")
	}
	return cfg
}

func randomSecret() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("failed to generate session secret: %v", err))
	}
	return hex.EncodeToString(b)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBool(key string, defaultValue bool) bool {
	v, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return v
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	d, err := time.ParseDuration(os.Getenv(key))
	if err != nil || d <= 0 {
		return defaultValue
	}
	return d
}
