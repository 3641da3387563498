package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradeforge/execore/pkg/models"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, ""))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Empty(t, cfg.Server.JWTSecret)
	assert.Equal(t, 5, cfg.Executor.RequestsPerSecond)
	assert.Equal(t, 5, cfg.Executor.OrdersPerSecond)
	assert.Equal(t, 10, cfg.Executor.PartialFillTimeout)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.False(t, cfg.GCP.UseSecrets)
}

func TestLoadFromFile(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
server:
  port: 9000
executor:
  partial_fill_timeout: 30
exchanges:
  coinbase:
    websocket_url: wss://ws.example.com
    sandbox: true
accounts:
  - id: 1
    name: main
    credentials:
      coinbase:
        api_key: key
        api_secret: secret
    strategies:
      - id: 2
        exchange: coinbase
        market: spot
        base: BTC
        quote: USDT
        auto_start: true
        investment: 500
`))
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Executor.PartialPeriod())
	assert.True(t, cfg.Exchanges["coinbase"].Sandbox)
	assert.Equal(t, "wss://ws.example.com", cfg.Exchanges["coinbase"].WebsocketURL)

	require.Len(t, cfg.Accounts, 1)
	account := cfg.Accounts[0]
	assert.Equal(t, "key", account.Credentials["coinbase"].APIKey)
	require.Len(t, account.Strategies, 1)
	assert.True(t, account.Strategies[0].AutoStart)
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	_, err := Load(writeConfig(t, "server: [not a map"))
	assert.Error(t, err)
}

func TestJWTSecretEnvOverride(t *testing.T) {
	t.Setenv("EXECORE_JWT_SECRET", "from-env")
	cfg, err := Load(writeConfig(t, "server:\n  jwt_secret: from-file\n"))
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Server.JWTSecret)
}

func TestStrategyConversion(t *testing.T) {
	sc := StrategyConfig{
		ID:         7,
		Controller: "grid",
		Exchange:   "coinbase",
		Market:     "futures",
		Base:       "ETH",
		Quote:      "USD",
		AutoStart:  true,
		Investment: 1000,
		Leverage:   5,
	}
	strategy := sc.Strategy()

	assert.Equal(t, 7, strategy.ID)
	assert.Equal(t, models.ExchangeName("coinbase"), strategy.Exchange)
	assert.Equal(t, models.MarketTypeFutures, strategy.Market)
	assert.Equal(t, models.Symbol{Base: "ETH", Quote: "USD"}, strategy.Symbol)
	assert.True(t, strategy.AutoStart)
	assert.Equal(t, 1000.0, strategy.Params.Investment)
	assert.Equal(t, 5.0, strategy.Params.Leverage)
	assert.False(t, strategy.IsSimulated())
}
