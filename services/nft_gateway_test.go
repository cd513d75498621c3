package services

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testContractAddr = "0x3333333333333333333333333333333333333333"
	testIssuerKey    = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"
)

// fakeBackend scripts the RPC surface the gateway talks to.
type fakeBackend struct {
	receipt    *types.Receipt
	receiptErr error
	balance    *big.Int
	sent       []*types.Transaction
	sendErr    error
	callResult []byte
}

func (f *fakeBackend) PendingNonceAt(_ context.Context, _ common.Address) (uint64, error) {
	return 7, nil
}
func (f *fakeBackend) SuggestGasPrice(_ context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}
func (f *fakeBackend) SendTransaction(_ context.Context, tx *types.Transaction) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, tx)
	return nil
}
func (f *fakeBackend) TransactionReceipt(_ context.Context, _ common.Hash) (*types.Receipt, error) {
	if f.receiptErr != nil {
		return nil, f.receiptErr
	}
	return f.receipt, nil
}
func (f *fakeBackend) BalanceAt(_ context.Context, _ common.Address, _ *big.Int) (*big.Int, error) {
	return f.balance, nil
}
func (f *fakeBackend) CallContract(_ context.Context, _ ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	return f.callResult, nil
}

func newTestGateway(backend *fakeBackend) *NFTGateway {
	return &NFTGateway{
		ContractAddr:   testContractAddr,
		PrivateKeyHex:  testIssuerKey,
		ChainID:        80002,
		GasLimit:       500_000,
		SubmitTimeout:  5 * time.Second,
		ConfirmTimeout: 100 * time.Millisecond,
		backend:        backend,
	}
}

// mintReceipt builds a successful receipt with one Transfer-from-zero log per
// token id.
func mintReceipt(contract common.Address, tokenIDs ...int64) *types.Receipt {
	r := &types.Receipt{
		Status:      types.ReceiptStatusSuccessful,
		BlockNumber: big.NewInt(123),
	}
	for _, id := range tokenIDs {
		r.Logs = append(r.Logs, &types.Log{
			Address: contract,
			Topics: []common.Hash{
				transferTopic,
				common.BytesToHash(common.Address{}.Bytes()),
				common.BytesToHash(common.HexToAddress(testWallet).Bytes()),
				common.BigToHash(big.NewInt(id)),
			},
		})
	}
	return r
}

func TestInitializeValidatesConfig(t *testing.T) {
	g := newTestGateway(&fakeBackend{})
	g.ContractAddr = "not-an-address"
	assert.Error(t, g.Initialize())

	g = newTestGateway(&fakeBackend{})
	g.PrivateKeyHex = "zz"
	assert.Error(t, g.Initialize())

	g = newTestGateway(&fakeBackend{})
	require.NoError(t, g.Initialize())
	// second call is a no-op
	require.NoError(t, g.Initialize())
}

func TestOperationsRequireInitialize(t *testing.T) {
	g := newTestGateway(&fakeBackend{})

	_, err := g.Mint(context.Background(), testWallet, "")
	assert.ErrorIs(t, err, ErrGatewayNotInitialized)

	_, err = g.GetStats(context.Background())
	assert.ErrorIs(t, err, ErrGatewayNotInitialized)

	_, err = g.TransactionStatus(context.Background(), "0xabc")
	assert.ErrorIs(t, err, ErrGatewayNotInitialized)
}

func TestMintParsesTokenIDFromLogs(t *testing.T) {
	backend := &fakeBackend{}
	backend.receipt = mintReceipt(common.HexToAddress(testContractAddr), 55)
	g := newTestGateway(backend)
	require.NoError(t, g.Initialize())

	result, err := g.Mint(context.Background(), testWallet, "https://cdn.test/meta.json")
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "55", result.TokenID)
	assert.EqualValues(t, 123, result.BlockNumber)
	require.Len(t, backend.sent, 1)
}

func TestMintRejectsBadRecipient(t *testing.T) {
	g := newTestGateway(&fakeBackend{})
	require.NoError(t, g.Initialize())

	_, err := g.Mint(context.Background(), "bogus", "")
	assert.Error(t, err)
}

func TestMintRevertedTransaction(t *testing.T) {
	backend := &fakeBackend{receipt: &types.Receipt{
		Status:      types.ReceiptStatusFailed,
		BlockNumber: big.NewInt(123),
	}}
	g := newTestGateway(backend)
	require.NoError(t, g.Initialize())

	_, err := g.Mint(context.Background(), testWallet, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reverted")
}

func TestMintPendingAfterConfirmWindow(t *testing.T) {
	backend := &fakeBackend{receiptErr: ethereum.NotFound}
	g := newTestGateway(backend)
	require.NoError(t, g.Initialize())

	result, err := g.Mint(context.Background(), testWallet, "")
	require.NoError(t, err)
	assert.True(t, result.Pending)
	assert.False(t, result.Success)
	assert.NotEmpty(t, result.TxHash)
}

func TestBatchMintToEscrowChecksIssuerBalance(t *testing.T) {
	backend := &fakeBackend{balance: big.NewInt(0)}
	g := newTestGateway(backend)
	require.NoError(t, g.Initialize())

	_, err := g.BatchMintToEscrow(context.Background(), testWallet, 5, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "zero balance")
	assert.Empty(t, backend.sent)
}

func TestBatchMintToEscrowCollectsAllTokenIDs(t *testing.T) {
	backend := &fakeBackend{balance: big.NewInt(1_000_000)}
	backend.receipt = mintReceipt(common.HexToAddress(testContractAddr), 10, 11, 12)
	g := newTestGateway(backend)
	require.NoError(t, g.Initialize())

	result, err := g.BatchMintToEscrow(context.Background(), testWallet, 3, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"10", "11", "12"}, result.TokenIDs)
}

func TestTransferFromEscrowValidatesTokenID(t *testing.T) {
	g := newTestGateway(&fakeBackend{})
	require.NoError(t, g.Initialize())

	_, err := g.TransferFromEscrow(context.Background(), testWallet, testWallet, "not-a-number")
	assert.Error(t, err)
}

func TestTransactionStatus(t *testing.T) {
	backend := &fakeBackend{receiptErr: ethereum.NotFound}
	g := newTestGateway(backend)
	require.NoError(t, g.Initialize())

	// no receipt yet → still pending, not an error
	result, err := g.TransactionStatus(context.Background(), "0xdeadbeef")
	require.NoError(t, err)
	assert.True(t, result.Pending)

	backend.receiptErr = nil
	backend.receipt = mintReceipt(common.HexToAddress(testContractAddr), 99)
	result, err = g.TransactionStatus(context.Background(), "0xdeadbeef")
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "99", result.TokenID)

	backend.receipt = &types.Receipt{Status: types.ReceiptStatusFailed, BlockNumber: big.NewInt(1)}
	_, err = g.TransactionStatus(context.Background(), "0xdeadbeef")
	assert.Error(t, err)
}

func TestTokenIDsFromReceiptIgnoresForeignLogs(t *testing.T) {
	g := newTestGateway(&fakeBackend{})
	require.NoError(t, g.Initialize())

	receipt := mintReceipt(common.HexToAddress(testContractAddr), 5)
	// a Transfer from another contract and a non-mint transfer must not count
	receipt.Logs = append(receipt.Logs,
		&types.Log{
			Address: common.HexToAddress(testWallet),
			Topics: []common.Hash{
				transferTopic,
				common.BytesToHash(common.Address{}.Bytes()),
				common.BytesToHash(common.HexToAddress(testWallet).Bytes()),
				common.BigToHash(big.NewInt(6)),
			},
		},
		&types.Log{
			Address: common.HexToAddress(testContractAddr),
			Topics: []common.Hash{
				transferTopic,
				common.BytesToHash(common.HexToAddress(testWallet).Bytes()),
				common.BytesToHash(common.HexToAddress(testContractAddr).Bytes()),
				common.BigToHash(big.NewInt(7)),
			},
		},
	)

	assert.Equal(t, []string{"5"}, g.tokenIDsFromReceipt(receipt))
}
