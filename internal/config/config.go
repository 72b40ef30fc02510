package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Configはアプリ全体の設定
// ゲートウェイや配送業者の認証情報はここではなく設定ストア(settings)に置く。
type Config struct {
	Port string // サーバーポート（8080）

	DatabaseURL      string // あれば最優先
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresHost     string
	PostgresPort     int
	PostgresSSLMode  string

	JWTSecret string // JWT署名シークレット
	GoEnv     string // dev/prod
	LogFile   string // 空ならstdoutのみ

	ShippingFee           int64 // 配送料（VND）
	FreeShippingThreshold int64 // この小計以上は送料無料（0なら無効）

	GatewayTimeout       time.Duration // 外部決済/配送APIのタイムアウト
	ShipmentPollInterval string        // cron式（@every 10m）

	EventBus     string   // memory / kafka
	KafkaBrokers []string //
	KafkaGroupID string

	PublicBaseURL string // ゲートウェイに渡すコールバックURLの基点
}

// Loadは環境変数
func Load() (Config, error) {
	cfg := Config{
		Port: getenv("PORT", "8080"),

		DatabaseURL:      os.Getenv("DATABASE_URL"),
		PostgresUser:     os.Getenv("POSTGRES_USER"),
		PostgresPassword: os.Getenv("POSTGRES_PASSWORD"),
		PostgresDB:       os.Getenv("POSTGRES_DB"),
		PostgresHost:     os.Getenv("POSTGRES_HOST"),
		PostgresSSLMode:  getenv("POSTGRES_SSLMODE", "disable"),

		JWTSecret: os.Getenv("JWT_SECRET"),
		GoEnv:     os.Getenv("GO_ENV"),
		LogFile:   os.Getenv("LOG_FILE"),

		ShipmentPollInterval: getenv("SHIPMENT_POLL_INTERVAL", "@every 10m"),
		EventBus:             strings.ToLower(getenv("EVENT_BUS", "memory")),
		KafkaGroupID:         getenv("KAFKA_GROUP_ID", "ordercore"),
		PublicBaseURL:        strings.TrimRight(os.Getenv("PUBLIC_BASE_URL"), "/"),
	}

	var err error
	if cfg.PostgresPort, err = atoiDefault("POSTGRES_PORT", 5432); err != nil {
		return Config{}, err
	}
	if cfg.ShippingFee, err = atoi64Default("SHIPPING_FEE", 30000); err != nil {
		return Config{}, err
	}
	if cfg.FreeShippingThreshold, err = atoi64Default("FREE_SHIPPING_THRESHOLD", 0); err != nil {
		return Config{}, err
	}

	cfg.GatewayTimeout = 10 * time.Second
	if v := os.Getenv("GATEWAY_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, fmt.Errorf("GATEWAY_TIMEOUT must be a positive duration: %q", v)
		}
		cfg.GatewayTimeout = d
	}

	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		for _, b := range strings.Split(v, ",") {
			if b = strings.TrimSpace(b); b != "" {
				cfg.KafkaBrokers = append(cfg.KafkaBrokers, b)
			}
		}
	}

	//必須チェック
	if cfg.DatabaseURL == "" {
		if cfg.PostgresUser == "" {
			return Config{}, fmt.Errorf("POSTGRES_USER is required")
		}
		if cfg.PostgresPassword == "" {
			return Config{}, fmt.Errorf("POSTGRES_PASSWORD is required")
		}
		if cfg.PostgresDB == "" {
			return Config{}, fmt.Errorf("POSTGRES_DB is required")
		}
		if cfg.PostgresHost == "" {
			return Config{}, fmt.Errorf("POSTGRES_HOST is required")
		}
	}
	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("JWT_SECRET is required")
	}
	if cfg.GoEnv == "" {
		return Config{}, fmt.Errorf("GO_ENV is required")
	}
	switch cfg.EventBus {
	case "memory":
	case "kafka":
		if len(cfg.KafkaBrokers) == 0 {
			return Config{}, fmt.Errorf("KAFKA_BROKERS is required when EVENT_BUS=kafka")
		}
	default:
		return Config{}, fmt.Errorf("EVENT_BUS must be memory or kafka: %q", cfg.EventBus)
	}

	return cfg, nil
}

// DSN はgorm(postgres)に渡す接続文字列
func (c Config) DSN() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.PostgresHost, c.PostgresPort, c.PostgresUser, c.PostgresPassword, c.PostgresDB, c.PostgresSSLMode,
	)
}

// 送料。閾値以上なら無料
func (c Config) ShippingFeeFor(subtotal int64) int64 {
	if c.FreeShippingThreshold > 0 && subtotal >= c.FreeShippingThreshold {
		return 0
	}
	return c.ShippingFee
}

func getenv(key string, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func atoiDefault(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be number: %w", key, err)
	}
	return i, nil
}

func atoi64Default(key string, def int64) (int64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil || i < 0 {
		return 0, fmt.Errorf("%s must be a non-negative number", key)
	}
	return i, nil
}
