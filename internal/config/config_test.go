package config

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestMinTRXBalanceDecimalDefaultsWhenUnset(t *testing.T) {
	p := ProvisionerConfig{}
	expected, _ := decimal.NewFromString(defaultMinTRXBalance)
	require.True(t, expected.Equal(p.MinTRXBalanceDecimal()))
}

func TestMinTRXBalanceDecimalParsesConfiguredValue(t *testing.T) {
	p := ProvisionerConfig{MinTRXBalance: "123.5"}
	require.True(t, decimal.NewFromFloat(123.5).Equal(p.MinTRXBalanceDecimal()))
}

func TestMinTRXBalanceDecimalFallsBackOnGarbage(t *testing.T) {
	p := ProvisionerConfig{MinTRXBalance: "not-a-number"}
	expected, _ := decimal.NewFromString(defaultMinTRXBalance)
	require.True(t, expected.Equal(p.MinTRXBalanceDecimal()))
}
