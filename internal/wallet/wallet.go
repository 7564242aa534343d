package wallet

import (
	"context"

	"BidToEarn-Agent/internal/chain"

	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
)

// Provider 定义钱包能力接口。智能体通过它签名并提交交易、执行只读合约查询，
// 以及导出可持久化的钱包数据。实现分为本地私钥（开发环境）和外部托管服务
// （生产环境）两种。
type Provider interface {
	// Address 返回钱包地址。
	Address() common.Address
	// Network 返回钱包绑定的网络。
	Network() chain.Network
	// SendTransaction 签名并提交一笔状态变更交易，返回交易哈希。
	SendTransaction(ctx context.Context, tx chain.TxRequest) (common.Hash, error)
	// WaitForReceipt 阻塞等待交易确认。
	WaitForReceipt(ctx context.Context, txHash common.Hash) (*coretypes.Receipt, error)
	// CallContract 执行只读合约调用。
	CallContract(ctx context.Context, call chain.ReadCall) ([]byte, error)
	// Export 导出钱包数据（不透明 JSON），用于在重启后恢复同一地址。
	Export(ctx context.Context) ([]byte, error)
}
