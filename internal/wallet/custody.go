package wallet

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"BidToEarn-Agent/internal/chain"
	xerrors "BidToEarn-Agent/internal/errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	coretypes "github.com/ethereum/go-ethereum/core/types"
)

// CustodyConfig 描述托管钱包服务的接入方式。
type CustodyConfig struct {
	BaseURL      string
	APIKeyName   string
	APIKeySecret string
	NetworkID    string
	// WalletData 是上次导出的钱包数据；提供后托管服务恢复同一地址而不是新建。
	WalletData []byte
	Timeout    time.Duration
}

// CustodyProvider 将签名与提交委托给外部托管服务，只读查询与回执等待走链客户端。
type CustodyProvider struct {
	baseURL    string
	apiKeyName string
	apiSecret  string
	walletID   string
	address    common.Address
	httpClient *http.Client
	client     chain.Client
}

// ConfigureCustody 向托管服务注册（或恢复）一个钱包并返回可用的 Provider。
func ConfigureCustody(ctx context.Context, client chain.Client, cfg CustodyConfig) (*CustodyProvider, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "未配置托管服务地址")
	}
	if cfg.APIKeyName == "" || cfg.APIKeySecret == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "未配置托管服务凭据")
	}
	if client == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "未提供链客户端")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	p := &CustodyProvider{
		baseURL:    baseURL,
		apiKeyName: cfg.APIKeyName,
		apiSecret:  cfg.APIKeySecret,
		httpClient: &http.Client{Timeout: timeout},
		client:     client,
	}

	payload := map[string]any{
		"api_key_name": cfg.APIKeyName,
		"network_id":   cfg.NetworkID,
	}
	if len(cfg.WalletData) > 0 {
		payload["wallet_data"] = json.RawMessage(cfg.WalletData)
	}

	var configured struct {
		WalletID string `json:"wallet_id"`
		Address  string `json:"address"`
	}
	if err := p.post(ctx, "/v1/wallets/configure", payload, &configured); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "配置托管钱包失败")
	}
	if !common.IsHexAddress(configured.Address) {
		return nil, xerrors.New(xerrors.CodeUpstream, "托管服务返回了无效地址")
	}

	p.walletID = configured.WalletID
	p.address = common.HexToAddress(configured.Address)
	return p, nil
}

// Address 返回托管钱包地址。
func (p *CustodyProvider) Address() common.Address {
	return p.address
}

// Network 返回钱包绑定的网络。
func (p *CustodyProvider) Network() chain.Network {
	return p.client.Network()
}

// SendTransaction 将交易提交给托管服务签名并广播。
func (p *CustodyProvider) SendTransaction(ctx context.Context, tx chain.TxRequest) (common.Hash, error) {
	payload := map[string]any{
		"to":   tx.To.Hex(),
		"data": hexutil.Encode(tx.Data),
	}
	if tx.Value != nil {
		payload["value"] = tx.Value.String()
	}

	var submitted struct {
		TxHash string `json:"tx_hash"`
	}
	path := fmt.Sprintf("/v1/wallets/%s/transactions", p.walletID)
	if err := p.post(ctx, path, payload, &submitted); err != nil {
		return common.Hash{}, xerrors.Wrap(xerrors.CodeUpstream, err, "托管服务提交交易失败")
	}
	if len(submitted.TxHash) != common.HashLength*2+2 {
		return common.Hash{}, xerrors.New(xerrors.CodeUpstream, "托管服务返回了无效交易哈希")
	}
	return common.HexToHash(submitted.TxHash), nil
}

// WaitForReceipt 阻塞等待交易确认。
func (p *CustodyProvider) WaitForReceipt(ctx context.Context, txHash common.Hash) (*coretypes.Receipt, error) {
	receipt, err := p.client.WaitForReceipt(ctx, txHash)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeUpstream, err, fmt.Sprintf("等待交易 %s 确认失败", txHash.Hex()))
	}
	return receipt, nil
}

// CallContract 执行只读合约调用。
func (p *CustodyProvider) CallContract(ctx context.Context, call chain.ReadCall) ([]byte, error) {
	return p.client.CallContract(ctx, call)
}

// Export 从托管服务导出钱包数据。
func (p *CustodyProvider) Export(ctx context.Context) ([]byte, error) {
	var exported struct {
		WalletData json.RawMessage `json:"wallet_data"`
	}
	path := fmt.Sprintf("/v1/wallets/%s/export", p.walletID)
	if err := p.post(ctx, path, map[string]any{}, &exported); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeUpstream, err, "导出托管钱包数据失败")
	}
	return exported.WalletData, nil
}

func (p *CustodyProvider) post(ctx context.Context, path string, payload any, out any) error {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("序列化请求失败: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("构建请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Api-Key-Name", p.apiKeyName)
	req.Header.Set("Authorization", "Bearer "+p.apiSecret)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("请求托管服务失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("托管服务返回错误状态 %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("解析托管服务响应失败: %w", err)
	}
	return nil
}
