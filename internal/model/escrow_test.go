package model

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestMultisigConfigSumWeightsDefaultsToOwnerCount(t *testing.T) {
	c := MultisigConfig{OwnerAddresses: []string{"a", "b", "c"}}
	require.Equal(t, 3, c.SumWeights())
}

func TestMultisigConfigSumWeightsUsesExplicitWeights(t *testing.T) {
	c := MultisigConfig{OwnerAddresses: []string{"a", "b", "c"}, Weights: []int{1, 1, 2}}
	require.Equal(t, 4, c.SumWeights())
}

func TestPayoutTxnMatches(t *testing.T) {
	amount := decimal.NewFromInt(100)
	p := &PayoutTxn{ToAddress: "Treceiver", Amount: amount, TokenContract: "TR7NHq"}

	require.True(t, p.Matches("Treceiver", amount, "TR7NHq"))
	require.False(t, p.Matches("Tother", amount, "TR7NHq"))
	require.False(t, p.Matches("Treceiver", decimal.NewFromInt(200), "TR7NHq"))
	require.False(t, p.Matches("Treceiver", amount, "different-contract"))
}

func TestPayoutTxnMatchesNilReceiver(t *testing.T) {
	var p *PayoutTxn
	require.False(t, p.Matches("Treceiver", decimal.Zero, ""))
}
