// services/nft_gateway.go
package services

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log"
	"math/big"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// Minimal ABI of the rewards contract — mint, escrow batch mint, transfer,
// redeem, plus the read queries and the standard Transfer event.
const rewardsContractABI = `[
	{"type":"function","name":"mintTo","inputs":[{"name":"to","type":"address"},{"name":"uri","type":"string"}],"outputs":[{"name":"tokenId","type":"uint256"}]},
	{"type":"function","name":"batchMintTo","inputs":[{"name":"to","type":"address"},{"name":"quantity","type":"uint256"},{"name":"uri","type":"string"}],"outputs":[]},
	{"type":"function","name":"transferFrom","inputs":[{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"tokenId","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"redeem","inputs":[{"name":"tokenId","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"tokensOfOwner","stateMutability":"view","inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"uint256[]"}]},
	{"type":"function","name":"totalSupply","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"redeemedSupply","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"event","name":"Transfer","inputs":[{"name":"from","type":"address","indexed":true},{"name":"to","type":"address","indexed":true},{"name":"tokenId","type":"uint256","indexed":true}],"anonymous":false}
]`

var transferTopic = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))

// ErrGatewayNotInitialized is returned when a chain operation runs before
// Initialize has completed.
var ErrGatewayNotInitialized = errors.New("nft gateway not initialized")

// ethBackend is the subset of the Ethereum RPC surface the gateway uses.
// *ethclient.Client satisfies it; tests provide fakes.
type ethBackend interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// IssuanceResult is the outcome of a single chain write. Exactly one of
// Success or Pending is set on a nil-error return: Pending means the
// transaction was submitted but no receipt appeared within the confirmation
// window — the caller reconciles later instead of assuming failure.
type IssuanceResult struct {
	Success     bool     `json:"success"`
	Pending     bool     `json:"pending,omitempty"`
	TokenID     string   `json:"token_id,omitempty"`
	TokenIDs    []string `json:"token_ids,omitempty"`
	TxHash      string   `json:"transaction_hash,omitempty"`
	BlockNumber uint64   `json:"block_number,omitempty"`
}

// ChainStats holds the read-only contract counters.
type ChainStats struct {
	TotalSupply    int64 `json:"total_supply"`
	RedeemedSupply int64 `json:"redeemed_supply"`
}

// NFTGateway wraps the rewards contract on the external chain. It owns
// transaction submission, confirmation-wait and the timeout policy. Writes
// are single-shot — no internal retry; the claim pipeline decides how to
// react to a failed or pending outcome.
type NFTGateway struct {
	RPCURL         string
	ContractAddr   string
	PrivateKeyHex  string
	ChainID        int64
	GasLimit       uint64
	SubmitTimeout  time.Duration
	ConfirmTimeout time.Duration

	mu          sync.Mutex
	initialized bool
	backend     ethBackend
	contract    common.Address
	abi         abi.ABI
	key         *ecdsa.PrivateKey
	issuer      common.Address
	signer      types.Signer

	// serializes nonce fetch + submit so concurrent claims don't race on
	// the issuing account's nonce
	submitMu sync.Mutex
}

// NewNFTGatewayFromEnv builds an uninitialized gateway from environment
// configuration. Initialize must be called before use.
func NewNFTGatewayFromEnv() *NFTGateway {
	chainID, _ := strconv.ParseInt(os.Getenv("CHAIN_ID"), 10, 64)
	if chainID == 0 {
		chainID = 80002 // Polygon Amoy default
	}
	confirmTimeout := 5 * time.Minute
	if v := os.Getenv("CHAIN_CONFIRM_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			confirmTimeout = d
		}
	}
	return &NFTGateway{
		RPCURL:         os.Getenv("CHAIN_RPC_URL"),
		ContractAddr:   os.Getenv("REWARDS_CONTRACT_ADDRESS"),
		PrivateKeyHex:  os.Getenv("ISSUER_PRIVATE_KEY"),
		ChainID:        chainID,
		GasLimit:       500_000,
		SubmitTimeout:  30 * time.Second,
		ConfirmTimeout: confirmTimeout,
	}
}

// Initialize dials the RPC endpoint, parses the signing key and the contract
// ABI. Idempotent: safe to call from multiple goroutines; only the first
// call does work.
func (g *NFTGateway) Initialize() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.initialized {
		return nil
	}

	if !common.IsHexAddress(g.ContractAddr) {
		return fmt.Errorf("invalid rewards contract address %q", g.ContractAddr)
	}
	g.contract = common.HexToAddress(g.ContractAddr)

	parsed, err := abi.JSON(strings.NewReader(rewardsContractABI))
	if err != nil {
		return fmt.Errorf("failed to parse rewards contract ABI: %w", err)
	}
	g.abi = parsed

	key, err := crypto.HexToECDSA(strings.TrimPrefix(g.PrivateKeyHex, "0x"))
	if err != nil {
		return fmt.Errorf("invalid issuer private key: %w", err)
	}
	g.key = key
	g.issuer = crypto.PubkeyToAddress(key.PublicKey)
	g.signer = types.LatestSignerForChainID(big.NewInt(g.ChainID))

	if g.backend == nil {
		client, err := ethclient.Dial(g.RPCURL)
		if err != nil {
			return fmt.Errorf("failed to dial chain RPC %q: %w", g.RPCURL, err)
		}
		g.backend = client
	}

	g.initialized = true
	log.Printf("⛓️ NFT gateway initialized (issuer=%s, contract=%s, chain=%d)",
		g.issuer.Hex(), g.contract.Hex(), g.ChainID)
	return nil
}

func (g *NFTGateway) ready() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.initialized {
		return ErrGatewayNotInitialized
	}
	return nil
}

// submit packs, signs and sends one contract call, bounded by SubmitTimeout.
func (g *NFTGateway) submit(ctx context.Context, method string, args ...interface{}) (common.Hash, error) {
	data, err := g.abi.Pack(method, args...)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to encode %s call: %w", method, err)
	}

	g.submitMu.Lock()
	defer g.submitMu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, g.SubmitTimeout)
	defer cancel()

	nonce, err := g.backend.PendingNonceAt(ctx, g.issuer)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to fetch nonce: %w", err)
	}
	gasPrice, err := g.backend.SuggestGasPrice(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to fetch gas price: %w", err)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &g.contract,
		Value:    big.NewInt(0),
		Gas:      g.GasLimit,
		GasPrice: gasPrice,
		Data:     data,
	})
	signed, err := types.SignTx(tx, g.signer, g.key)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to sign %s transaction: %w", method, err)
	}

	if err := g.backend.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, fmt.Errorf("failed to submit %s transaction: %w", method, err)
	}
	return signed.Hash(), nil
}

// waitMined polls for the receipt until ConfirmTimeout. On timeout it
// re-queries once more: a receipt that shows up despite the timeout is
// treated as the real outcome rather than a false failure. If the receipt
// is still absent the result is pending=true and the caller reconciles
// later.
func (g *NFTGateway) waitMined(ctx context.Context, txHash common.Hash) (receipt *types.Receipt, pending bool, err error) {
	deadline := time.Now().Add(g.ConfirmTimeout)
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for time.Now().Before(deadline) {
		r, err := g.backend.TransactionReceipt(ctx, txHash)
		if err == nil && r != nil {
			return r, false, nil
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) {
			return nil, false, fmt.Errorf("failed to fetch receipt for %s: %w", txHash.Hex(), err)
		}
		select {
		case <-ctx.Done():
			return nil, false, ctx.Err()
		case <-ticker.C:
		}
	}

	// One last look before giving up.
	finalCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if r, err := g.backend.TransactionReceipt(finalCtx, txHash); err == nil && r != nil {
		return r, false, nil
	}

	log.Printf("⏳ Transaction %s unconfirmed after %s — marking pending for reconciliation", txHash.Hex(), g.ConfirmTimeout)
	return nil, true, nil
}

// tokenIDsFromReceipt pulls newly minted token ids out of Transfer events
// emitted by the rewards contract (from = zero address for mints).
func (g *NFTGateway) tokenIDsFromReceipt(receipt *types.Receipt) []string {
	var ids []string
	for _, l := range receipt.Logs {
		if l == nil || l.Address != g.contract {
			continue
		}
		if len(l.Topics) != 4 || l.Topics[0] != transferTopic {
			continue
		}
		from := common.BytesToAddress(l.Topics[1].Bytes())
		if from != (common.Address{}) {
			continue
		}
		ids = append(ids, l.Topics[3].Big().String())
	}
	return ids
}

func (g *NFTGateway) execute(ctx context.Context, method string, args ...interface{}) (*IssuanceResult, *types.Receipt, error) {
	if err := g.ready(); err != nil {
		return nil, nil, err
	}
	txHash, err := g.submit(ctx, method, args...)
	if err != nil {
		return nil, nil, err
	}

	receipt, pending, err := g.waitMined(ctx, txHash)
	if err != nil {
		return nil, nil, err
	}
	if pending {
		return &IssuanceResult{Pending: true, TxHash: txHash.Hex()}, nil, nil
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, nil, fmt.Errorf("transaction %s reverted on-chain", txHash.Hex())
	}

	return &IssuanceResult{
		Success:     true,
		TxHash:      txHash.Hex(),
		BlockNumber: receipt.BlockNumber.Uint64(),
	}, receipt, nil
}

// Mint mints one token straight to the recipient's wallet and returns the
// token id assigned on-chain.
func (g *NFTGateway) Mint(ctx context.Context, toAddress, metadataURI string) (*IssuanceResult, error) {
	if !common.IsHexAddress(toAddress) {
		return nil, fmt.Errorf("invalid recipient address %q", toAddress)
	}

	result, receipt, err := g.execute(ctx, "mintTo", common.HexToAddress(toAddress), metadataURI)
	if err != nil || result.Pending {
		return result, err
	}

	ids := g.tokenIDsFromReceipt(receipt)
	if len(ids) == 0 {
		return nil, fmt.Errorf("mint transaction %s emitted no Transfer event", result.TxHash)
	}
	result.TokenID = ids[0]
	return result, nil
}

// BatchMintToEscrow pre-provisions quantity tokens into an escrow wallet.
// The issuing wallet must hold gas funds — checked up front so a drained
// issuer fails fast with a clear error instead of a cryptic RPC rejection.
func (g *NFTGateway) BatchMintToEscrow(ctx context.Context, escrowAddress string, quantity int64, metadataURI string) (*IssuanceResult, error) {
	if err := g.ready(); err != nil {
		return nil, err
	}
	if !common.IsHexAddress(escrowAddress) {
		return nil, fmt.Errorf("invalid escrow address %q", escrowAddress)
	}
	if quantity <= 0 {
		return nil, fmt.Errorf("quantity must be positive, got %d", quantity)
	}

	balCtx, cancel := context.WithTimeout(ctx, g.SubmitTimeout)
	defer cancel()
	balance, err := g.backend.BalanceAt(balCtx, g.issuer, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to check issuer balance: %w", err)
	}
	if balance == nil || balance.Sign() == 0 {
		return nil, fmt.Errorf("issuer wallet %s has zero balance — fund it before batch minting", g.issuer.Hex())
	}

	result, receipt, err := g.execute(ctx, "batchMintTo",
		common.HexToAddress(escrowAddress), big.NewInt(quantity), metadataURI)
	if err != nil || result.Pending {
		return result, err
	}

	result.TokenIDs = g.tokenIDsFromReceipt(receipt)
	if int64(len(result.TokenIDs)) != quantity {
		log.Printf("⚠️ Batch mint %s emitted %d Transfer events, expected %d",
			result.TxHash, len(result.TokenIDs), quantity)
	}
	return result, nil
}

// TransferFromEscrow moves a specific pre-minted token out of escrow to the
// claimant's wallet.
func (g *NFTGateway) TransferFromEscrow(ctx context.Context, escrowAddress, toAddress, chainTokenID string) (*IssuanceResult, error) {
	if !common.IsHexAddress(escrowAddress) {
		return nil, fmt.Errorf("invalid escrow address %q", escrowAddress)
	}
	if !common.IsHexAddress(toAddress) {
		return nil, fmt.Errorf("invalid recipient address %q", toAddress)
	}
	tokenID, ok := new(big.Int).SetString(chainTokenID, 10)
	if !ok {
		return nil, fmt.Errorf("invalid token id %q", chainTokenID)
	}

	result, _, err := g.execute(ctx, "transferFrom",
		common.HexToAddress(escrowAddress), common.HexToAddress(toAddress), tokenID)
	if err != nil || result.Pending {
		return result, err
	}
	result.TokenID = chainTokenID
	return result, nil
}

// Redeem marks a token consumed on-chain.
func (g *NFTGateway) Redeem(ctx context.Context, chainTokenID string) (*IssuanceResult, error) {
	tokenID, ok := new(big.Int).SetString(chainTokenID, 10)
	if !ok {
		return nil, fmt.Errorf("invalid token id %q", chainTokenID)
	}
	result, _, err := g.execute(ctx, "redeem", tokenID)
	if err != nil || result.Pending {
		return result, err
	}
	result.TokenID = chainTokenID
	return result, nil
}

// call performs a read-only contract call.
func (g *NFTGateway) call(ctx context.Context, method string, args ...interface{}) ([]interface{}, error) {
	if err := g.ready(); err != nil {
		return nil, err
	}
	data, err := g.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s call: %w", method, err)
	}
	ctx, cancel := context.WithTimeout(ctx, g.SubmitTimeout)
	defer cancel()
	out, err := g.backend.CallContract(ctx, ethereum.CallMsg{To: &g.contract, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("%s call failed: %w", method, err)
	}
	return g.abi.Unpack(method, out)
}

// GetOwnedTokens lists the token ids currently owned by an address.
func (g *NFTGateway) GetOwnedTokens(ctx context.Context, address string) ([]string, error) {
	if !common.IsHexAddress(address) {
		return nil, fmt.Errorf("invalid address %q", address)
	}
	values, err := g.call(ctx, "tokensOfOwner", common.HexToAddress(address))
	if err != nil {
		return nil, err
	}
	raw, ok := values[0].([]*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected tokensOfOwner return type %T", values[0])
	}
	ids := make([]string, len(raw))
	for i, id := range raw {
		ids[i] = id.String()
	}
	return ids, nil
}

// GetStats reads the contract's aggregate counters.
func (g *NFTGateway) GetStats(ctx context.Context) (*ChainStats, error) {
	total, err := g.call(ctx, "totalSupply")
	if err != nil {
		return nil, err
	}
	redeemed, err := g.call(ctx, "redeemedSupply")
	if err != nil {
		return nil, err
	}
	stats := &ChainStats{}
	if v, ok := total[0].(*big.Int); ok {
		stats.TotalSupply = v.Int64()
	}
	if v, ok := redeemed[0].(*big.Int); ok {
		stats.RedeemedSupply = v.Int64()
	}
	return stats, nil
}

// TransactionStatus re-queries the receipt for a previously submitted
// transaction. Used by the reconcile worker to settle pending claims.
func (g *NFTGateway) TransactionStatus(ctx context.Context, txHash string) (*IssuanceResult, error) {
	if err := g.ready(); err != nil {
		return nil, err
	}
	hash := common.HexToHash(txHash)
	receipt, err := g.backend.TransactionReceipt(ctx, hash)
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return &IssuanceResult{Pending: true, TxHash: txHash}, nil
		}
		return nil, fmt.Errorf("failed to fetch receipt for %s: %w", txHash, err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, fmt.Errorf("transaction %s reverted on-chain", txHash)
	}
	result := &IssuanceResult{
		Success:     true,
		TxHash:      txHash,
		BlockNumber: receipt.BlockNumber.Uint64(),
	}
	if ids := g.tokenIDsFromReceipt(receipt); len(ids) > 0 {
		result.TokenID = ids[0]
		result.TokenIDs = ids
	}
	return result, nil
}
