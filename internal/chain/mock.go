package chain

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
)

// MockClient is a fully in-memory Client used by the core's unit tests,
// mirroring the hand-rolled mock servers in htlcswitch/mock.go.
type MockClient struct {
	mu sync.Mutex

	Accounts     map[string]*Account
	Balances     map[string]decimal.Decimal
	Transactions map[string]*TransactionInfo

	nextTxID int

	// BroadcastErr, when set, is returned by every BroadcastTransaction
	// call.
	BroadcastErr error
}

// NewMockClient returns an empty MockClient ready for test setup.
func NewMockClient() *MockClient {
	return &MockClient{
		Accounts:     make(map[string]*Account),
		Balances:     make(map[string]decimal.Decimal),
		Transactions: make(map[string]*TransactionInfo),
	}
}

func (m *MockClient) GetAccount(_ context.Context, address string) (*Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if acct, ok := m.Accounts[address]; ok {
		return acct, nil
	}
	return &Account{Address: address, Exists: false}, nil
}

func (m *MockClient) GetBalance(_ context.Context, address string) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if bal, ok := m.Balances[address]; ok {
		return bal, nil
	}
	return decimal.Zero, nil
}

func (m *MockClient) CreateTransaction(_ context.Context, req UnsignedTxRequest) (*UnsignedTx, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextTxID++
	return &UnsignedTx{
		TxID:       fmt.Sprintf("mock-tx-%d", m.nextTxID),
		RawDataHex: fmt.Sprintf("%x", req),
	}, nil
}

func (m *MockClient) UpdateAccountPermission(_ context.Context, req PermissionUpdateRequest) (*UnsignedTx, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextTxID++
	return &UnsignedTx{
		TxID:       fmt.Sprintf("mock-permission-%d", m.nextTxID),
		RawDataHex: fmt.Sprintf("%x", req),
	}, nil
}

func (m *MockClient) TriggerSmartContract(_ context.Context, req UnsignedTxRequest) (*UnsignedTx, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextTxID++
	return &UnsignedTx{
		TxID:         fmt.Sprintf("mock-contract-%d", m.nextTxID),
		RawDataHex:   fmt.Sprintf("%x", req),
		ContractData: req.FunctionCall,
	}, nil
}

func (m *MockClient) BroadcastTransaction(_ context.Context, signedTxRaw []byte) (string, error) {
	if m.BroadcastErr != nil {
		return "", m.BroadcastErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextTxID++
	txID := fmt.Sprintf("mock-broadcast-%d", m.nextTxID)
	m.Transactions[txID] = &TransactionInfo{Result: ReceiptPending}
	return txID, nil
}

func (m *MockClient) GetTransactionInfo(_ context.Context, txID string) (*TransactionInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if info, ok := m.Transactions[txID]; ok {
		return info, nil
	}
	return &TransactionInfo{Result: ReceiptPending}, nil
}

// SetReceipt lets a test pre-seed the receipt that will be returned for
// txID.
func (m *MockClient) SetReceipt(txID string, info *TransactionInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Transactions[txID] = info
}

var _ Client = (*MockClient)(nil)
