package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
)

const (
	duelABIJSON = `[{"inputs":[{"internalType":"uint256","name":"duelId","type":"uint256"},{"internalType":"uint256","name":"endPrice","type":"uint256"}],"name":"settleDuel","outputs":[],"stateMutability":"nonpayable","type":"function"}]`

	receiptPollInterval = 2 * time.Second
)

var (
	duelABI abi.ABI

	// Selector of the contract's DuelAlreadySettled() custom error.
	alreadySettledSelector []byte
)

func init() {
	parsed, err := abi.JSON(strings.NewReader(duelABIJSON))
	if err != nil {
		panic("failed to parse duel contract ABI: " + err.Error())
	}
	duelABI = parsed
	alreadySettledSelector = crypto.Keccak256([]byte("DuelAlreadySettled()"))[:4]
}

// Oracle submits authoritative end prices to the duel contract. The
// backend holds the contract's oracle role key.
type Oracle interface {
	SettleDuel(ctx context.Context, onChainID int64, endPrice int64) (txHash string, err error)
}

// ErrAlreadySettled marks a revert meaning the duel was settled on-chain
// in an earlier attempt. Callers treat it as success.
var ErrAlreadySettled = errors.New("duel already settled on-chain")

// ErrNotReadyOnChain marks a revert meaning the contract's clock has not
// reached the duel's end yet. Retryable after a wait.
var ErrNotReadyOnChain = errors.New("duel not yet settleable on-chain")

// Options parameterise the chain client.
type Options struct {
	RPCURL          string
	ContractAddress string
	OraclePrivKey   string
	ChainID         int64
	SettleTimeout   time.Duration
}

// Client talks to the duel contract over JSON-RPC with a raw signing key.
type Client struct {
	opts      Options
	logger    zerolog.Logger
	client    *ethclient.Client
	clientMux sync.Mutex
}

// NewClient builds a chain client. The RPC connection is dialled lazily
// on first use.
func NewClient(opts Options, logger zerolog.Logger) *Client {
	return &Client{opts: opts, logger: logger.With().Str("component", "chain_oracle").Logger()}
}

// SettleDuel submits settleDuel(duelId, endPrice) and waits for the
// receipt, bounded by SettleTimeout.
func (c *Client) SettleDuel(ctx context.Context, onChainID int64, endPrice int64) (string, error) {
	if c.opts.RPCURL == "" {
		return "", errors.New("chain rpc url not configured")
	}
	if c.opts.ContractAddress == "" {
		return "", errors.New("duel contract address not configured")
	}
	if c.opts.OraclePrivKey == "" {
		return "", errors.New("oracle signing key not configured")
	}

	timeout := c.opts.SettleTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	var cancel context.CancelFunc
	ctx, cancel = context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := c.getClient(ctx)
	if err != nil {
		return "", err
	}

	key, err := crypto.HexToECDSA(strings.TrimPrefix(c.opts.OraclePrivKey, "0x"))
	if err != nil {
		return "", fmt.Errorf("parse oracle key: %w", err)
	}
	from := crypto.PubkeyToAddress(key.PublicKey)
	contract := common.HexToAddress(c.opts.ContractAddress)

	payload, err := duelABI.Pack("settleDuel", big.NewInt(onChainID), big.NewInt(endPrice))
	if err != nil {
		return "", fmt.Errorf("pack settleDuel: %w", err)
	}

	nonce, err := client.PendingNonceAt(ctx, from)
	if err != nil {
		return "", fmt.Errorf("pending nonce: %w", err)
	}

	gasPrice, err := client.SuggestGasPrice(ctx)
	if err != nil {
		return "", fmt.Errorf("suggest gas price: %w", err)
	}

	// Reverts surface here, before any gas is spent.
	gasLimit, err := client.EstimateGas(ctx, ethereum.CallMsg{From: from, To: &contract, Data: payload})
	if err != nil {
		return "", classifyRevert(err)
	}

	tx := types.NewTransaction(nonce, contract, common.Big0, gasLimit, gasPrice, payload)
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(big.NewInt(c.opts.ChainID)), key)
	if err != nil {
		return "", fmt.Errorf("sign settle tx: %w", err)
	}

	if err := client.SendTransaction(ctx, signed); err != nil {
		return "", classifyRevert(err)
	}

	hash := signed.Hash()
	c.logger.Info().Str("tx", hash.Hex()).Int64("duel_id", onChainID).Int64("end_price", endPrice).Msg("settle transaction submitted")

	receipt, err := c.waitMined(ctx, client, hash)
	if err != nil {
		return "", err
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return "", fmt.Errorf("settle transaction %s reverted on-chain", hash.Hex())
	}

	return hash.Hex(), nil
}

func (c *Client) waitMined(ctx context.Context, client *ethclient.Client, hash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(receiptPollInterval)
	defer ticker.Stop()

	for {
		receipt, err := client.TransactionReceipt(ctx, hash)
		if err == nil {
			return receipt, nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			return nil, fmt.Errorf("fetch receipt: %w", err)
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("wait for settle receipt %s: %w", hash.Hex(), ctx.Err())
		case <-ticker.C:
		}
	}
}

func (c *Client) getClient(ctx context.Context) (*ethclient.Client, error) {
	c.clientMux.Lock()
	defer c.clientMux.Unlock()

	if c.client != nil {
		return c.client, nil
	}

	client, err := ethclient.DialContext(ctx, c.opts.RPCURL)
	if err != nil {
		return nil, err
	}
	c.client = client
	return client, nil
}

var _ Oracle = (*Client)(nil)
