package payout

import (
	"testing"

	"github.com/RuSwift/garantex-sub000/internal/model"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestRecipientForReceiverStatuses(t *testing.T) {
	for _, status := range []model.DealStatus{
		model.StatusProcessing,
		model.StatusSuccess,
		model.StatusResolvingReceiver,
		model.StatusResolvedReceiver,
	} {
		deal := &model.Deal{Status: status, SenderDID: "did:sender", ReceiverDID: "did:receiver"}
		did, ok := recipientFor(deal)
		require.True(t, ok, status)
		require.Equal(t, model.DID("did:receiver"), did, status)
	}
}

func TestRecipientForSenderStatuses(t *testing.T) {
	for _, status := range []model.DealStatus{
		model.StatusResolvingSender,
		model.StatusResolvedSender,
	} {
		deal := &model.Deal{Status: status, SenderDID: "did:sender", ReceiverDID: "did:receiver"}
		did, ok := recipientFor(deal)
		require.True(t, ok, status)
		require.Equal(t, model.DID("did:sender"), did, status)
	}
}

func TestRecipientForUnsupportedStatus(t *testing.T) {
	deal := &model.Deal{Status: model.StatusWaitDeposit, SenderDID: "did:sender", ReceiverDID: "did:receiver"}
	did, ok := recipientFor(deal)
	require.False(t, ok)
	require.Empty(t, did)
}

func TestAmountAndTokenUsesDealDefaults(t *testing.T) {
	b := &Builder{defaultTokenContract: "TDefaultContract"}
	deal := &model.Deal{Amount: decimal.NewFromInt(50)}

	amount, token, ok := b.amountAndToken(deal)
	require.True(t, ok)
	require.True(t, decimal.NewFromInt(50).Equal(amount))
	require.Equal(t, "TDefaultContract", token)
}

func TestAmountAndTokenRequisitesOverrideBoth(t *testing.T) {
	b := &Builder{defaultTokenContract: "TDefaultContract"}
	deal := &model.Deal{
		Amount:     decimal.NewFromInt(50),
		Requisites: []byte(`{"amount":"75.5","token_contract":"TOverride"}`),
	}

	amount, token, ok := b.amountAndToken(deal)
	require.True(t, ok)
	require.True(t, decimal.NewFromFloat(75.5).Equal(amount))
	require.Equal(t, "TOverride", token)
}

func TestAmountAndTokenRequisitesPartialOverride(t *testing.T) {
	b := &Builder{defaultTokenContract: "TDefaultContract"}
	deal := &model.Deal{
		Amount:     decimal.NewFromInt(50),
		Requisites: []byte(`{"token_contract":"TOverride"}`),
	}

	amount, token, ok := b.amountAndToken(deal)
	require.True(t, ok)
	require.True(t, decimal.NewFromInt(50).Equal(amount))
	require.Equal(t, "TOverride", token)
}

func TestAmountAndTokenMalformedRequisitesFallsBackToDealAmount(t *testing.T) {
	b := &Builder{defaultTokenContract: "TDefaultContract"}
	deal := &model.Deal{
		Amount:     decimal.NewFromInt(50),
		Requisites: []byte(`not-json`),
	}

	amount, token, ok := b.amountAndToken(deal)
	require.True(t, ok)
	require.True(t, decimal.NewFromInt(50).Equal(amount))
	require.Equal(t, "TDefaultContract", token)
}

func TestAmountAndTokenZeroAmountIsRejected(t *testing.T) {
	b := &Builder{defaultTokenContract: "TDefaultContract"}
	deal := &model.Deal{Amount: decimal.Zero}

	_, _, ok := b.amountAndToken(deal)
	require.False(t, ok)
}
