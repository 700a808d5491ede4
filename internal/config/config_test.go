package config

import (
	"equity-cycle-bot/internal/models"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfigAppliesDefaults(t *testing.T) {
	t.Setenv(EnvTrading212APIKey, "t212-key")
	t.Setenv(EnvFinnhubAPIKey, "finnhub-key")
	path := writeConfig(t, `{"environment": "live", "minimum_buys": 5, "timing": {"buy_pacing_ms": 1}}`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "live", cfg.Environment)
	assert.Equal(t, 5, cfg.MinimumBuys)
	assert.Equal(t, 300, cfg.ShoppingTimeSec)
	assert.Equal(t, 2000.0, cfg.MinimumMarketCap)
	assert.Equal(t, models.FilterLight, cfg.FilterStrictness)
	assert.Equal(t, 0.05, cfg.SpendFraction)
	assert.Equal(t, 10, cfg.TickerTargetCount)
	assert.Equal(t, 6, cfg.SellEscalationPasses)
	assert.Equal(t, 2, cfg.OrderAttempts)
	assert.Equal(t, 1, cfg.Timing.BuyPacingMs)
	assert.Equal(t, 3600_000, cfg.Timing.MarketClosedSleepMs)
	assert.Equal(t, "t212-key", cfg.Trading212APIKey)
	assert.Equal(t, "finnhub-key", cfg.FinnhubAPIKey)
}

func TestLoadConfigRejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, `{"paper": true, "symbol": "BTCUSDT"}`)
	_, err := LoadConfig(path)
	require.Error(t, err)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
}

func TestPaperModeNeedsNoKeys(t *testing.T) {
	t.Setenv(EnvTrading212APIKey, "")
	t.Setenv(EnvFinnhubAPIKey, "")
	path := writeConfig(t, `{"paper": true, "paper_listings_file": "listings.json"}`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.True(t, cfg.Paper)
	assert.Equal(t, 10000.0, cfg.PaperCash)
}

func TestPaperModeNeedsListings(t *testing.T) {
	path := writeConfig(t, `{"paper": true}`)
	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "paper_listings_file")
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := Default()
	cfg.Environment = "staging"
	cfg.FilterStrictness = "MEDIUM"
	cfg.SpendFraction = 1.5
	cfg.Timing.CancelRetryMs = -1

	err := Validate(cfg)
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, "environment must be demo or live")
	assert.Contains(t, msg, "filter_strictness must be STRONG or LIGHT")
	assert.Contains(t, msg, "spend_fraction")
	assert.Contains(t, msg, "timing.cancel_retry_ms cannot be negative")
	assert.Contains(t, msg, EnvTrading212APIKey)
}

func TestExampleConfigIsValid(t *testing.T) {
	t.Setenv(EnvTrading212APIKey, "t212-key")
	t.Setenv(EnvFinnhubAPIKey, "finnhub-key")

	cfg, err := LoadConfig(filepath.Join("..", "..", "configs", "config.example.json"))
	require.NoError(t, err)
	assert.Equal(t, "./data/orders.sqlite", cfg.LedgerPath)
	assert.Equal(t, ":9102", cfg.MetricsAddr)
	assert.Equal(t, "both", cfg.LogConfig.Output)

	cfg.Paper = true
	assert.NoError(t, Validate(cfg))
}
