package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("PORT", "8080")
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("GO_ENV", "dev")
	t.Setenv("CARD_GATEWAY_URL", "http://card")
	t.Setenv("CARD_WEBHOOK_SECRET", "whsec_card")
	t.Setenv("MOMO_GATEWAY_URL", "http://momo")
	t.Setenv("MOMO_WEBHOOK_SECRET", "whsec_momo")
	t.Setenv("SOLANA_RPC_URL", "http://rpc")
	t.Setenv("SOLANA_PAYEE_ADDRESS", "11111111111111111111111111111111")
	t.Setenv("SOLANA_WEBHOOK_SECRET", "whsec_sol")
}

// DATABASE_URLがあればPOSTGRES_*は要らない
func TestLoad_DatabaseURLMakesPostgresVarsOptional(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("DATABASE_URL", "postgres://app:secret@db:5432/shop")

	cfg, err := Load()
	assert.NoError(t, err)
	assert.Equal(t, "postgres://app:secret@db:5432/shop", cfg.DatabaseURL)
	assert.Equal(t, "disable", cfg.PostgresSSLMode)
}

func TestLoad_WithoutDatabaseURLRequiresPostgresVars(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("DATABASE_URL", "")
	t.Setenv("POSTGRES_PORT", "5433")
	t.Setenv("POSTGRES_USER", "app")
	t.Setenv("POSTGRES_PASSWORD", "secret")
	t.Setenv("POSTGRES_DB", "shop")

	_, err := Load()
	assert.ErrorContains(t, err, "POSTGRES_HOST is required")

	t.Setenv("POSTGRES_HOST", "localhost")
	cfg, err := Load()
	assert.NoError(t, err)
	assert.Equal(t, 5433, cfg.PostgresPort)
}

func TestParseMints(t *testing.T) {
	mints := parseMints("usdc=Es9v, BONK=DezX ,broken")
	assert.Equal(t, map[string]string{"USDC": "Es9v", "BONK": "DezX"}, mints)
}
