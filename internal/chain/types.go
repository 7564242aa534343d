package chain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
)

// Network identifies the ledger a client is connected to.
type Network struct {
	// ID is the human readable network identifier, e.g. "base-sepolia".
	ID string
	// ChainID is the EIP-155 chain identifier.
	ChainID *big.Int
	// Name is a display name, e.g. "Base Sepolia".
	Name string
}

// TxRequest describes an outbound state-changing call.
type TxRequest struct {
	To    common.Address
	Data  []byte
	Value *big.Int
}

// ReadCall describes a read-only contract query.
type ReadCall struct {
	To   common.Address
	Data []byte
}

// Client defines the ledger access interface that any chain implementation
// must provide so higher layers can interact with different networks
// uniformly. SendRawTransaction suspends until the transaction is submitted;
// WaitForReceipt suspends until it is confirmed or failed.
type Client interface {
	Network() Network
	ChainID(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, from common.Address, tx TxRequest) (uint64, error)
	SendRawTransaction(ctx context.Context, tx *coretypes.Transaction) error
	WaitForReceipt(ctx context.Context, txHash common.Hash) (*coretypes.Receipt, error)
	CallContract(ctx context.Context, call ReadCall) ([]byte, error)
	Close()
}
