package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	os.Clearenv()
	c, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ModePaper, c.Mode)
	assert.Equal(t, "5m", c.LTF)
	assert.ElementsMatch(t, []string{"15m", "1h", "4h"}, c.HTFList)
	assert.True(t, c.SymbolsAuto)
	assert.Equal(t, "binance", c.Exchange)
}

func TestLoadRejectsMissingHTF(t *testing.T) {
	os.Clearenv()
	os.Setenv("BOT_HTF_LIST", "15m,1h")
	_, err := Load()
	require.Error(t, err)
}

func TestLoadRejectsLiveWithoutConfirm(t *testing.T) {
	os.Clearenv()
	os.Setenv("BOT_MODE", "live")
	_, err := Load()
	require.Error(t, err)
	os.Setenv("LIVE_CONFIRM", "1")
	_, err = Load()
	require.NoError(t, err)
}

func TestLoadRejectsUnsupportedExchange(t *testing.T) {
	os.Clearenv()
	os.Setenv("EXCHANGE", "bybit")
	_, err := Load()
	require.Error(t, err)
}

func TestSymbolsExplicitList(t *testing.T) {
	os.Clearenv()
	os.Setenv("BOT_SYMBOLS", "BTCUSDT, ETHUSDT")
	c, err := Load()
	require.NoError(t, err)
	assert.False(t, c.SymbolsAuto)
	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, c.Symbols)
}
