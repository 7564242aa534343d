package wallet

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"strings"

	"BidToEarn-Agent/internal/chain"
	xerrors "BidToEarn-Agent/internal/errors"

	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// localExport 是本地钱包导出数据的 JSON 结构。
type localExport struct {
	Address    string `json:"address"`
	PrivateKey string `json:"private_key"`
	NetworkID  string `json:"network_id"`
}

// LocalProvider 使用本地 secp256k1 私钥签名交易，面向开发环境。
type LocalProvider struct {
	key     *ecdsa.PrivateKey
	address common.Address
	client  chain.Client
}

// NewLocalProvider 从导出数据恢复本地钱包；data 为空时生成新私钥。
func NewLocalProvider(client chain.Client, data []byte) (*LocalProvider, error) {
	if client == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "未提供链客户端")
	}

	var key *ecdsa.PrivateKey
	if len(data) > 0 {
		var exported localExport
		if err := json.Unmarshal(data, &exported); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "解析钱包数据失败")
		}
		parsed, err := crypto.HexToECDSA(strings.TrimPrefix(exported.PrivateKey, "0x"))
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "恢复私钥失败")
		}
		key = parsed
	} else {
		generated, err := crypto.GenerateKey()
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "生成私钥失败")
		}
		key = generated
	}

	return &LocalProvider{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
		client:  client,
	}, nil
}

// Address 返回钱包地址。
func (p *LocalProvider) Address() common.Address {
	return p.address
}

// Network 返回钱包绑定的网络。
func (p *LocalProvider) Network() chain.Network {
	return p.client.Network()
}

// SendTransaction 组装、签名并广播一笔交易。
func (p *LocalProvider) SendTransaction(ctx context.Context, tx chain.TxRequest) (common.Hash, error) {
	chainID, err := p.client.ChainID(ctx)
	if err != nil {
		return common.Hash{}, xerrors.Wrap(xerrors.CodeUpstream, err, "获取链 ID 失败")
	}
	nonce, err := p.client.PendingNonceAt(ctx, p.address)
	if err != nil {
		return common.Hash{}, xerrors.Wrap(xerrors.CodeUpstream, err, "获取 nonce 失败")
	}
	gasPrice, err := p.client.SuggestGasPrice(ctx)
	if err != nil {
		return common.Hash{}, xerrors.Wrap(xerrors.CodeUpstream, err, "获取 gas 价格失败")
	}
	gasLimit, err := p.client.EstimateGas(ctx, p.address, tx)
	if err != nil {
		return common.Hash{}, xerrors.Wrap(xerrors.CodeUpstream, err, "估算 gas 失败")
	}

	unsigned := coretypes.NewTx(&coretypes.LegacyTx{
		Nonce:    nonce,
		To:       &tx.To,
		Value:    tx.Value,
		Gas:      gasLimit,
		GasPrice: gasPrice,
		Data:     tx.Data,
	})
	signed, err := coretypes.SignTx(unsigned, coretypes.LatestSignerForChainID(chainID), p.key)
	if err != nil {
		return common.Hash{}, xerrors.Wrap(xerrors.CodeUpstream, err, "签名交易失败")
	}

	if err := p.client.SendRawTransaction(ctx, signed); err != nil {
		return common.Hash{}, xerrors.Wrap(xerrors.CodeUpstream, err, "广播交易失败")
	}
	return signed.Hash(), nil
}

// WaitForReceipt 阻塞等待交易确认。
func (p *LocalProvider) WaitForReceipt(ctx context.Context, txHash common.Hash) (*coretypes.Receipt, error) {
	receipt, err := p.client.WaitForReceipt(ctx, txHash)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeUpstream, err, fmt.Sprintf("等待交易 %s 确认失败", txHash.Hex()))
	}
	return receipt, nil
}

// CallContract 执行只读合约调用。
func (p *LocalProvider) CallContract(ctx context.Context, call chain.ReadCall) ([]byte, error) {
	return p.client.CallContract(ctx, call)
}

// Export 导出钱包数据。私钥以十六进制形式写入不透明 JSON。
func (p *LocalProvider) Export(_ context.Context) ([]byte, error) {
	exported := localExport{
		Address:    p.address.Hex(),
		PrivateKey: "0x" + common.Bytes2Hex(crypto.FromECDSA(p.key)),
		NetworkID:  p.client.Network().ID,
	}
	return json.Marshal(exported)
}
