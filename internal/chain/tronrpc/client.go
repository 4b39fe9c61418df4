// Package tronrpc is the concrete chain.Client implementation for the
// TRON full-node/solidity-node HTTP API, grounded on
// original_source/services/tron/api_client.py. It is the only package
// that imports net/http for chain access; every other component depends
// only on the chain.Client interface.
package tronrpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/RuSwift/garantex-sub000/internal/chain"
	"github.com/shopspring/decimal"
)

// defaultTimeout is the default per-call RPC timeout from spec.md §5
// ("default RPC timeout for chain calls").
const defaultTimeout = 30 * time.Second

// Client talks to a TRON full node's HTTP JSON-RPC surface.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New constructs a Client pointed at baseURL (e.g.
// https://api.trongrid.io), honoring timeout as the default per-call
// deadline when the caller's context carries none.
func New(baseURL string, timeout time.Duration) *Client {
	if timeout == 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *Client) post(ctx context.Context, endpoint string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(
		ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(payload),
	)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("tronrpc: %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("tronrpc: %s: reading body: %w", endpoint, err)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("tronrpc: %s: status %d: %s", endpoint, resp.StatusCode, raw)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("tronrpc: %s: decoding response: %w", endpoint, err)
	}
	return nil
}

type getAccountResponse struct {
	Address string `json:"address"`
	Balance int64  `json:"balance"`
	ActivePermission []struct {
		Threshold int `json:"threshold"`
		Keys      []struct {
			Address string `json:"address"`
			Weight  int    `json:"weight"`
		} `json:"keys"`
	} `json:"active_permission"`
}

// sunPerTRX is the fixed-point scale TRON uses for its native coin
// (1 TRX = 1_000_000 sun).
const sunPerTRX = 1_000_000

func (c *Client) GetAccount(ctx context.Context, address string) (*chain.Account, error) {
	var resp getAccountResponse
	err := c.post(ctx, "/wallet/getaccount", map[string]interface{}{
		"address": address,
		"visible": true,
	}, &resp)
	if err != nil {
		return nil, err
	}
	if resp.Address == "" {
		return &chain.Account{Address: address, Exists: false}, nil
	}

	acct := &chain.Account{Address: address, Exists: true}
	if len(resp.ActivePermission) > 0 {
		perm := resp.ActivePermission[0]
		keys := make([]chain.PermissionKey, 0, len(perm.Keys))
		for _, k := range perm.Keys {
			keys = append(keys, chain.PermissionKey{Address: k.Address, Weight: k.Weight})
		}
		acct.ActivePermission = &chain.Permission{
			Threshold: perm.Threshold,
			Keys:      keys,
		}
	}
	return acct, nil
}

func (c *Client) GetBalance(ctx context.Context, address string) (decimal.Decimal, error) {
	acct, err := c.GetAccount(ctx, address)
	if err != nil {
		return decimal.Zero, err
	}
	if !acct.Exists {
		return decimal.Zero, nil
	}

	var resp getAccountResponse
	if err := c.post(ctx, "/wallet/getaccount", map[string]interface{}{
		"address": address,
		"visible": true,
	}, &resp); err != nil {
		return decimal.Zero, err
	}
	return decimal.New(resp.Balance, 0).Div(decimal.New(sunPerTRX, 0)), nil
}

type createTransactionResponse struct {
	TxID    string `json:"txID"`
	RawData json.RawMessage `json:"raw_data"`
}

func (c *Client) CreateTransaction(ctx context.Context, req chain.UnsignedTxRequest) (*chain.UnsignedTx, error) {
	amountSun := req.Amount.Mul(decimal.New(sunPerTRX, 0)).IntPart()
	var resp createTransactionResponse
	err := c.post(ctx, "/wallet/createtransaction", map[string]interface{}{
		"owner_address": req.FromAddress,
		"to_address":    req.ToAddress,
		"amount":        amountSun,
		"visible":       true,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return &chain.UnsignedTx{TxID: resp.TxID, RawData: string(resp.RawData)}, nil
}

func (c *Client) UpdateAccountPermission(ctx context.Context, req chain.PermissionUpdateRequest) (*chain.UnsignedTx, error) {
	keys := make([]map[string]interface{}, 0, len(req.Keys))
	for _, k := range req.Keys {
		keys = append(keys, map[string]interface{}{"address": k.Address, "weight": k.Weight})
	}

	var resp createTransactionResponse
	err := c.post(ctx, "/wallet/accountpermissionupdate", map[string]interface{}{
		"owner_address": req.OwnerAddress,
		"visible":       true,
		"owner": map[string]interface{}{
			"threshold": req.Threshold,
			"keys":      keys,
		},
		"actives": []map[string]interface{}{{
			"type":         "Active",
			"permission_name": "multisig_2_of_3",
			"threshold":    req.Threshold,
			"operations":   "7fff1fc0033e0300000000000000000000000000000000000000000000000000",
			"keys":         keys,
		}},
	}, &resp)
	if err != nil {
		return nil, err
	}
	return &chain.UnsignedTx{TxID: resp.TxID, RawData: string(resp.RawData)}, nil
}

func (c *Client) TriggerSmartContract(ctx context.Context, req chain.UnsignedTxRequest) (*chain.UnsignedTx, error) {
	var resp struct {
		Result struct {
			Result bool `json:"result"`
		} `json:"result"`
		Transaction createTransactionResponse `json:"transaction"`
	}
	err := c.post(ctx, "/wallet/triggersmartcontract", map[string]interface{}{
		"owner_address":     req.FromAddress,
		"contract_address":  req.TokenContract,
		"function_selector": req.FunctionCall,
		"parameter":         fmt.Sprintf("%x", req.Parameters),
		"visible":           true,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return &chain.UnsignedTx{
		TxID:         resp.Transaction.TxID,
		RawData:      string(resp.Transaction.RawData),
		ContractData: req.FunctionCall,
	}, nil
}

func (c *Client) BroadcastTransaction(ctx context.Context, signedTxRaw []byte) (string, error) {
	var signed map[string]interface{}
	if err := json.Unmarshal(signedTxRaw, &signed); err != nil {
		return "", fmt.Errorf("tronrpc: broadcast: invalid payload: %w", err)
	}

	var resp struct {
		Result  bool   `json:"result"`
		TxID    string `json:"txid"`
		Message string `json:"message"`
	}
	if err := c.post(ctx, "/wallet/broadcasttransaction", signed, &resp); err != nil {
		return "", err
	}
	if !resp.Result {
		return "", fmt.Errorf("tronrpc: broadcast rejected: %s", resp.Message)
	}
	return resp.TxID, nil
}

func (c *Client) GetTransactionInfo(ctx context.Context, txID string) (*chain.TransactionInfo, error) {
	var resp struct {
		BlockNumber    int64  `json:"blockNumber"`
		Result         string `json:"result"`
		ResultMessage  string `json:"resMessage"`
		ContractResult []string `json:"contractResult"`
	}
	err := c.post(ctx, "/wallet/gettransactioninfobyid", map[string]interface{}{
		"value": txID,
	}, &resp)
	if err != nil {
		return nil, err
	}

	info := &chain.TransactionInfo{BlockNumber: resp.BlockNumber, ResultMessage: resp.ResultMessage}
	switch resp.Result {
	case "FAILED":
		info.Result = chain.ReceiptFailed
	case "":
		if resp.BlockNumber == 0 {
			info.Result = chain.ReceiptPending
		} else {
			info.Result = chain.ReceiptSuccess
		}
	default:
		info.Result = chain.ReceiptSuccess
	}
	if len(resp.ContractResult) > 0 {
		info.ContractResult = resp.ContractResult[0]
	}
	return info, nil
}

var _ chain.Client = (*Client)(nil)
