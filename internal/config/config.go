package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Configはアプリ全体の設定
type Config struct {
	Port string // サーバーポート（8080）

	DatabaseURL      string // 指定があればPOSTGRES_*より優先
	PostgresUser     string // DBユーザー
	PostgresPassword string // DBパスワード
	PostgresDB       string // DB名
	PostgresHost     string // DBホスト（localhost）
	PostgresPort     int    // DBポート（5433）
	PostgresSSLMode  string // sslmode（既定disable）

	JWTSecret string // JWT署名シークレット

	GoEnv     string // dev/prod
	APIDomain string // APIドメイン（cookieやCORSなどで使う）
	FEURL     string // フロントURL（CORSなどで使う）

	// カードゲートウェイ
	CardGatewayURL    string
	CardAPIKey        string
	CardWebhookSecret string

	// モバイルマネーゲートウェイ
	MomoGatewayURL    string
	MomoAPIKey        string
	MomoWebhookSecret string

	// オンチェーン（Solana）
	SolanaRPCURL           string
	SolanaPayeeAddress     string // 入金先ウォレット
	SolanaWebhookSecret    string // indexer通知のHMAC
	SolanaMinConfirmations int    // これ未満の確定深度は成功にしない
	SolanaTreasuryKey      string // 返金送金元のbase58秘密鍵（空なら返金不可）
	SolanaMints            map[string]string

	// 返金ワーカー
	RefundWorkerIntervalSec int
}

// Loadは環境変数
func Load() (Config, error) {
	dbURL := os.Getenv("DATABASE_URL")

	// DATABASE_URLがあるならPOSTGRES_*は任意
	pgPort := 0
	if dbURL == "" {
		p, err := mustAtoi("POSTGRES_PORT")
		if err != nil {
			return Config{}, err
		}
		pgPort = p
	}

	cfg := Config{
		Port: os.Getenv("PORT"),

		DatabaseURL:      dbURL,
		PostgresUser:     os.Getenv("POSTGRES_USER"),
		PostgresPassword: os.Getenv("POSTGRES_PASSWORD"),
		PostgresDB:       os.Getenv("POSTGRES_DB"),
		PostgresHost:     os.Getenv("POSTGRES_HOST"),
		PostgresPort:     pgPort,
		PostgresSSLMode:  getenvDefault("POSTGRES_SSLMODE", "disable"),

		JWTSecret: os.Getenv("JWT_SECRET"),

		GoEnv:     os.Getenv("GO_ENV"),
		APIDomain: os.Getenv("API_DOMAIN"),
		FEURL:     os.Getenv("FE_URL"),

		CardGatewayURL:    os.Getenv("CARD_GATEWAY_URL"),
		CardAPIKey:        os.Getenv("CARD_API_KEY"),
		CardWebhookSecret: os.Getenv("CARD_WEBHOOK_SECRET"),

		MomoGatewayURL:    os.Getenv("MOMO_GATEWAY_URL"),
		MomoAPIKey:        os.Getenv("MOMO_API_KEY"),
		MomoWebhookSecret: os.Getenv("MOMO_WEBHOOK_SECRET"),

		SolanaRPCURL:        os.Getenv("SOLANA_RPC_URL"),
		SolanaPayeeAddress:  os.Getenv("SOLANA_PAYEE_ADDRESS"),
		SolanaWebhookSecret: os.Getenv("SOLANA_WEBHOOK_SECRET"),
		SolanaTreasuryKey:   os.Getenv("SOLANA_TREASURY_KEY"),
		SolanaMints:         parseMints(os.Getenv("SOLANA_MINTS")),
	}

	cfg.SolanaMinConfirmations = atoiDefault("SOLANA_MIN_CONFIRMATIONS", 32)
	cfg.RefundWorkerIntervalSec = atoiDefault("REFUND_WORKER_INTERVAL_SEC", 60)

	//必須チェック
	if cfg.Port == "" {
		return Config{}, fmt.Errorf("PORT is required")
	}
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
	if cfg.CardGatewayURL == "" {
		return Config{}, fmt.Errorf("CARD_GATEWAY_URL is required")
	}
	if cfg.CardWebhookSecret == "" {
		return Config{}, fmt.Errorf("CARD_WEBHOOK_SECRET is required")
	}
	if cfg.MomoGatewayURL == "" {
		return Config{}, fmt.Errorf("MOMO_GATEWAY_URL is required")
	}
	if cfg.MomoWebhookSecret == "" {
		return Config{}, fmt.Errorf("MOMO_WEBHOOK_SECRET is required")
	}
	if cfg.SolanaRPCURL == "" {
		return Config{}, fmt.Errorf("SOLANA_RPC_URL is required")
	}
	if cfg.SolanaPayeeAddress == "" {
		return Config{}, fmt.Errorf("SOLANA_PAYEE_ADDRESS is required")
	}
	if cfg.SolanaWebhookSecret == "" {
		return Config{}, fmt.Errorf("SOLANA_WEBHOOK_SECRET is required")
	}

	return cfg, nil
}

func mustAtoi(key string) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return 0, fmt.Errorf("%s is required", key)
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be number: %w", key, err)
	}
	return i, nil
}

func getenvDefault(key string, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func atoiDefault(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

// "USDC=Es9v...,BONK=DezX..." 形式をmapに
func parseMints(s string) map[string]string {
	mints := make(map[string]string)
	for _, pair := range strings.Split(s, ",") {
		kv := strings.SplitN(strings.TrimSpace(pair), "=", 2)
		if len(kv) != 2 || kv[0] == "" || kv[1] == "" {
			continue
		}
		mints[strings.ToUpper(kv[0])] = kv[1]
	}
	return mints
}
