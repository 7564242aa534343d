package ethereum

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"BidToEarn-Agent/internal/chain"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
)

// Config describes how to construct an EVM compatible client.
type Config struct {
	Name        string
	RPCURL      string
	ChainID     int64
	Description string
}

const defaultReceiptPollInterval = 2 * time.Second

// backend mirrors the subset of ethclient methods the client relies on so
// tests can substitute a fake.
type backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg gethcore.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *coretypes.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*coretypes.Receipt, error)
	CallContract(ctx context.Context, msg gethcore.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Client implements the chain.Client interface for EVM compatible chains.
type Client struct {
	network      chain.Network
	backend      backend
	rpcClient    *gethrpc.Client
	pollInterval time.Duration
	mu           sync.Mutex
}

// NewClient dials the configured RPC endpoint and returns a ready-to-use
// client. The node's chain id is fetched once and, when the configuration
// declares an expected id, verified against it.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	rpcURL := strings.TrimSpace(cfg.RPCURL)
	if rpcURL == "" {
		return nil, errors.New("未配置以太坊 RPC 地址")
	}

	rpcClient, err := gethrpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("连接以太坊节点失败: %w", err)
	}
	eth := ethclient.NewClient(rpcClient)

	chainID, err := eth.ChainID(ctx)
	if err != nil {
		rpcClient.Close()
		return nil, fmt.Errorf("获取链 ID 失败: %w", err)
	}
	if cfg.ChainID != 0 && chainID.Int64() != cfg.ChainID {
		rpcClient.Close()
		return nil, fmt.Errorf("链 ID 不匹配: 节点返回 %s, 配置要求 %d", chainID, cfg.ChainID)
	}

	return &Client{
		network: chain.Network{
			ID:      cfg.Name,
			ChainID: chainID,
			Name:    cfg.Description,
		},
		backend:      eth,
		rpcClient:    rpcClient,
		pollInterval: defaultReceiptPollInterval,
	}, nil
}

// NewClientWithBackend wires an existing backend, used by tests.
func NewClientWithBackend(network chain.Network, b backend, pollInterval time.Duration) *Client {
	if pollInterval <= 0 {
		pollInterval = defaultReceiptPollInterval
	}
	return &Client{network: network, backend: b, pollInterval: pollInterval}
}

// Network returns the network metadata resolved at dial time.
func (c *Client) Network() chain.Network {
	return c.network
}

// ChainID returns the chain identifier.
func (c *Client) ChainID(ctx context.Context) (*big.Int, error) {
	if c.network.ChainID != nil {
		return new(big.Int).Set(c.network.ChainID), nil
	}
	return c.backend.ChainID(ctx)
}

// BlockNumber returns the latest block height.
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	return c.backend.BlockNumber(ctx)
}

// PendingNonceAt returns the next nonce for the account.
func (c *Client) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return c.backend.PendingNonceAt(ctx, account)
}

// SuggestGasPrice returns the node's gas price suggestion.
func (c *Client) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return c.backend.SuggestGasPrice(ctx)
}

// EstimateGas estimates the gas needed for the request.
func (c *Client) EstimateGas(ctx context.Context, from common.Address, tx chain.TxRequest) (uint64, error) {
	to := tx.To
	return c.backend.EstimateGas(ctx, gethcore.CallMsg{
		From:  from,
		To:    &to,
		Data:  tx.Data,
		Value: tx.Value,
	})
}

// SendRawTransaction broadcasts a signed transaction.
func (c *Client) SendRawTransaction(ctx context.Context, tx *coretypes.Transaction) error {
	if tx == nil {
		return errors.New("交易不能为空")
	}
	if err := c.backend.SendTransaction(ctx, tx); err != nil {
		return fmt.Errorf("发送交易失败: %w", err)
	}
	return nil
}

// WaitForReceipt polls for the receipt of the transaction until it is mined
// or the context is cancelled.
func (c *Client) WaitForReceipt(ctx context.Context, txHash common.Hash) (*coretypes.Receipt, error) {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		receipt, err := c.backend.TransactionReceipt(ctx, txHash)
		if err == nil {
			return receipt, nil
		}
		if !errors.Is(err, gethcore.NotFound) {
			return nil, fmt.Errorf("查询交易回执失败: %w", err)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// CallContract performs a read-only contract call against the latest block.
func (c *Client) CallContract(ctx context.Context, call chain.ReadCall) ([]byte, error) {
	to := call.To
	result, err := c.backend.CallContract(ctx, gethcore.CallMsg{To: &to, Data: call.Data}, nil)
	if err != nil {
		return nil, fmt.Errorf("合约查询失败: %w", err)
	}
	return result, nil
}

// Close releases network connections held by the client.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rpcClient != nil {
		c.rpcClient.Close()
		c.rpcClient = nil
	}
}
