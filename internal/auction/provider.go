package auction

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"sort"
	"strings"
	"time"

	"BidToEarn-Agent/internal/chain"
	xerrors "BidToEarn-Agent/internal/errors"
	"BidToEarn-Agent/internal/wallet"
	"BidToEarn-Agent/pkg/logger"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
)

// Provider 将 BidToEarn 合约封装为动作目录，供智能体调用。
type Provider struct {
	wallet   wallet.Provider
	contract common.Address
	log      *slog.Logger
}

// NewProvider 构造动作提供者。ABI 在此解析一次，保证后续调用不会因 ABI
// 文本问题失败。
func NewProvider(w wallet.Provider) (*Provider, error) {
	if w == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "未提供钱包")
	}
	if _, err := parsedABI(); err != nil {
		return nil, err
	}
	return &Provider{
		wallet:   w,
		contract: contractAddr(),
		log:      logger.Named("auction"),
	}, nil
}

// Name 返回提供者名称。
func (p *Provider) Name() string {
	return "bidtoearn"
}

// Actions 返回动作目录。纯函数，不产生副作用。
func (p *Provider) Actions() []Descriptor {
	return Catalog()
}

// SupportsNetwork 仅在目标网络与合约部署网络一致时返回 true。
func (p *Provider) SupportsNetwork(network chain.Network) bool {
	return network.ChainID != nil && network.ChainID.Cmp(big.NewInt(ChainID)) == 0
}

// Execute 按名称执行动作。状态变更动作同步等待确认并返回交易哈希；
// 只读动作返回 JSON 序列化的查询结果。每次成功调用最多提交一笔交易，
// 已提交未确认的交易不会被隐式重试。
func (p *Provider) Execute(ctx context.Context, action string, params map[string]any) (string, error) {
	if _, ok := actionSchemas[action]; !ok {
		return "", xerrors.New(xerrors.CodeUnknownAction, fmt.Sprintf("未知的动作: %s", action))
	}
	if err := validateParams(action, params); err != nil {
		return "", err
	}

	switch action {
	case ActionCreateAuction:
		return p.createAuction(ctx, params)
	case ActionPlaceBid:
		return p.placeBid(ctx, params)
	case ActionWithdraw:
		return p.withdraw(ctx)
	case ActionCheckWithdrawable:
		return p.checkWithdrawable(ctx)
	case ActionViewAuction:
		return p.viewAuction(ctx, params)
	case ActionViewActiveAuctions:
		return p.viewActiveAuctions(ctx)
	case ActionViewUserAuctions:
		return p.viewUserTokens(ctx, "getUserAuctions", params)
	case ActionViewUserBids:
		return p.viewUserTokens(ctx, "getUserBids", params)
	default:
		return "", xerrors.New(xerrors.CodeUnknownAction, fmt.Sprintf("未知的动作: %s", action))
	}
}

func (p *Provider) createAuction(ctx context.Context, params map[string]any) (string, error) {
	minBid, err := ParseETH(stringParam(params, "minBid"))
	if err != nil {
		return "", err
	}
	reservePrice, err := ParseETH(stringParam(params, "reservePrice"))
	if err != nil {
		return "", err
	}

	duration := intParam(params, "duration", DefaultDurationSeconds)
	extension := intParam(params, "extensionTime", DefaultExtensionSeconds)
	increment := intParam(params, "bidIncrementPercentage", DefaultBidIncrementPercent)
	royalty := intParam(params, "royaltyPercentage", DefaultRoyaltyPercent)
	if royalty > MaxRoyaltyPercent {
		return "", xerrors.New(xerrors.CodeInvalidParameters,
			fmt.Sprintf("版税不能超过 %d 基点", MaxRoyaltyPercent))
	}

	contractABI, err := parsedABI()
	if err != nil {
		return "", err
	}
	metadata := AuctionMetadata{
		Title:             stringParam(params, "title"),
		Description:       stringParam(params, "description"),
		ImageURI:          stringParam(params, "imageURI"),
		RoyaltyPercentage: big.NewInt(royalty),
		ReservePrice:      reservePrice,
		ReservePriceMet:   false,
	}
	data, err := contractABI.Pack("createAuction",
		minBid,
		big.NewInt(duration),
		uint16(extension),
		uint16(increment),
		metadata,
	)
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeUnknown, err, "编码 createAuction 调用失败")
	}

	txHash, err := p.submit(ctx, ActionCreateAuction, data, nil)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Created auction with transaction hash: %s", txHash.Hex()), nil
}

func (p *Provider) placeBid(ctx context.Context, params map[string]any) (string, error) {
	bidAmount, err := ParseETH(stringParam(params, "bidAmount"))
	if err != nil {
		return "", err
	}
	tokenID := big.NewInt(intParam(params, "tokenId", 0))

	contractABI, err := parsedABI()
	if err != nil {
		return "", err
	}
	data, err := contractABI.Pack("placeBid", tokenID)
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeUnknown, err, "编码 placeBid 调用失败")
	}

	txHash, err := p.submit(ctx, ActionPlaceBid, data, bidAmount)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Placed bid with transaction hash: %s", txHash.Hex()), nil
}

// pendingWithdrawals 查询钱包地址当前的可提现余额。
func (p *Provider) pendingWithdrawals(ctx context.Context) (*big.Int, error) {
	contractABI, err := parsedABI()
	if err != nil {
		return nil, err
	}
	data, err := contractABI.Pack("pendingWithdrawals", p.wallet.Address())
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeUnknown, err, "编码 pendingWithdrawals 调用失败")
	}
	raw, err := p.wallet.CallContract(ctx, chain.ReadCall{To: p.contract, Data: data})
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeUpstream, err, "查询可提现余额失败")
	}
	out, err := contractABI.Unpack("pendingWithdrawals", raw)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeUpstream, err, "解析可提现余额失败")
	}
	pending := *abi.ConvertType(out[0], new(*big.Int)).(**big.Int)
	if pending == nil {
		pending = big.NewInt(0)
	}
	return pending, nil
}

func (p *Provider) withdraw(ctx context.Context) (string, error) {
	// 先查询可提现余额，为零时不提交任何交易。
	pending, err := p.pendingWithdrawals(ctx)
	if err != nil {
		return "", err
	}
	if pending.Sign() == 0 {
		return "You have no withdrawable funds available.", nil
	}

	contractABI, err := parsedABI()
	if err != nil {
		return "", err
	}
	data, err := contractABI.Pack("withdraw")
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeUnknown, err, "编码 withdraw 调用失败")
	}
	txHash, err := p.submit(ctx, ActionWithdraw, data, nil)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Withdrawn %s ETH with transaction hash: %s", FormatWei(pending), txHash.Hex()), nil
}

// checkWithdrawable 只读查询可提现余额，不提交任何交易。
func (p *Provider) checkWithdrawable(ctx context.Context) (string, error) {
	pending, err := p.pendingWithdrawals(ctx)
	if err != nil {
		return "", err
	}
	if pending.Sign() == 0 {
		return "You have no funds available for withdrawal at the moment.", nil
	}
	return fmt.Sprintf("You have %s ETH available for withdrawal. "+
		"Say 'withdraw my funds' and I will process the withdrawal.", FormatWei(pending)), nil
}

// readAuction 查询单个拍卖的完整状态。
func (p *Provider) readAuction(ctx context.Context, tokenID *big.Int) (*AuctionView, error) {
	contractABI, err := parsedABI()
	if err != nil {
		return nil, err
	}
	data, err := contractABI.Pack("getAuction", tokenID)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeUnknown, err, "编码 getAuction 调用失败")
	}

	raw, err := p.wallet.CallContract(ctx, chain.ReadCall{To: p.contract, Data: data})
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeUpstream, err, "查询拍卖详情失败")
	}
	out, err := contractABI.Unpack("getAuction", raw)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeUpstream, err, "解析拍卖详情失败")
	}

	return &AuctionView{
		Details:  *abi.ConvertType(out[0], new(AuctionDetails)).(*AuctionDetails),
		Metadata: *abi.ConvertType(out[1], new(AuctionMetadata)).(*AuctionMetadata),
		Bidders:  *abi.ConvertType(out[2], new([]common.Address)).(*[]common.Address),
	}, nil
}

func (p *Provider) viewAuction(ctx context.Context, params map[string]any) (string, error) {
	view, err := p.readAuction(ctx, big.NewInt(intParam(params, "tokenId", 0)))
	if err != nil {
		return "", err
	}
	encoded, err := json.MarshalIndent(view, "", "  ")
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeUnknown, err, "序列化拍卖详情失败")
	}
	return string(encoded), nil
}

// viewActiveAuctions 列出钱包地址名下仍在进行中的拍卖。单个拍卖查询失败
// 只记日志并跳过，不影响其余结果。
func (p *Provider) viewActiveAuctions(ctx context.Context) (string, error) {
	contractABI, err := parsedABI()
	if err != nil {
		return "", err
	}
	data, err := contractABI.Pack("getUserAuctions", p.wallet.Address())
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeUnknown, err, "编码 getUserAuctions 调用失败")
	}
	raw, err := p.wallet.CallContract(ctx, chain.ReadCall{To: p.contract, Data: data})
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeUpstream, err, "查询用户拍卖列表失败")
	}
	out, err := contractABI.Unpack("getUserAuctions", raw)
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeUpstream, err, "解析用户拍卖列表失败")
	}
	tokenIDs := *abi.ConvertType(out[0], new([]*big.Int)).(*[]*big.Int)

	now := time.Now()
	var active []*AuctionView
	for _, tokenID := range tokenIDs {
		view, err := p.readAuction(ctx, tokenID)
		if err != nil {
			p.log.Warn("查询拍卖失败，跳过",
				slog.String("token_id", tokenID.String()),
				slog.String("error", err.Error()),
			)
			continue
		}
		if !view.Details.IsActive || view.Details.IsEmergency {
			continue
		}
		active = append(active, view)
	}

	if len(active) == 0 {
		return "There are currently no active auctions. You can create a new auction by " +
			"saying 'Create an auction with minimum bid X ETH'.", nil
	}

	// 最接近结束的排在最前。
	sort.Slice(active, func(i, j int) bool {
		return active[i].Details.EndTime.Cmp(active[j].Details.EndTime) < 0
	})

	var builder strings.Builder
	fmt.Fprintf(&builder, "Found %d active auction(s)\n\nActive auctions:\n", len(active))
	for _, view := range active {
		currentBid := "No bids"
		if view.Details.HighestBid != nil && view.Details.HighestBid.Sign() > 0 {
			currentBid = FormatWei(view.Details.HighestBid) + " ETH"
		}
		fmt.Fprintf(&builder, "\n#%s - %s\n- Current bid: %s\n- Minimum bid: %s ETH\n- Time remaining: %s\n",
			view.Details.TokenId.String(),
			view.Metadata.Title,
			currentBid,
			FormatWei(view.Details.MinBid),
			formatTimeLeft(view.Details.EndTime, now),
		)
	}
	return builder.String(), nil
}

// formatTimeLeft 将结束时间渲染为剩余时长文本。
func formatTimeLeft(endTime *big.Int, now time.Time) string {
	if endTime == nil {
		return "Ended"
	}
	left := endTime.Int64() - now.Unix()
	switch {
	case left <= 0:
		return "Ended"
	case left < 60:
		return fmt.Sprintf("%ds", left)
	case left < 3600:
		return fmt.Sprintf("%dm %ds", left/60, left%60)
	default:
		return fmt.Sprintf("%dh %dm", left/3600, (left%3600)/60)
	}
}

func (p *Provider) viewUserTokens(ctx context.Context, method string, params map[string]any) (string, error) {
	contractABI, err := parsedABI()
	if err != nil {
		return "", err
	}
	user := common.HexToAddress(stringParam(params, "userAddress"))
	data, err := contractABI.Pack(method, user)
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeUnknown, err, fmt.Sprintf("编码 %s 调用失败", method))
	}

	raw, err := p.wallet.CallContract(ctx, chain.ReadCall{To: p.contract, Data: data})
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeUpstream, err, fmt.Sprintf("查询 %s 失败", method))
	}
	out, err := contractABI.Unpack(method, raw)
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeUpstream, err, fmt.Sprintf("解析 %s 结果失败", method))
	}

	tokenIDs := *abi.ConvertType(out[0], new([]*big.Int)).(*[]*big.Int)
	encoded, err := json.MarshalIndent(tokenIDs, "", "  ")
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeUnknown, err, "序列化查询结果失败")
	}
	return string(encoded), nil
}

// submit 提交一笔状态变更交易并同步等待确认。确认等待期间调用方被阻塞，
// 这是整条链路的主要延迟来源。
func (p *Provider) submit(ctx context.Context, action string, data []byte, value *big.Int) (common.Hash, error) {
	tx := chain.TxRequest{To: p.contract, Data: data, Value: value}
	txHash, err := p.wallet.SendTransaction(ctx, tx)
	if err != nil {
		return common.Hash{}, err
	}

	receipt, err := p.wallet.WaitForReceipt(ctx, txHash)
	if err != nil {
		// 交易已提交但确认结果未知，向调用方如实报告，不做隐式重试。
		return common.Hash{}, xerrors.Wrap(xerrors.CodeUpstream, err,
			fmt.Sprintf("交易 %s 已提交但未能确认", txHash.Hex()))
	}
	if receipt.Status != coretypes.ReceiptStatusSuccessful {
		return common.Hash{}, xerrors.New(xerrors.CodeUpstream,
			fmt.Sprintf("交易 %s 已上链但执行回滚", txHash.Hex()))
	}

	logger.Audit().Info("合约调用已确认",
		slog.String("action", action),
		slog.String("tx_hash", txHash.Hex()),
		slog.String("contract", p.contract.Hex()),
		slog.Uint64("block", receipt.BlockNumber.Uint64()),
	)
	return txHash, nil
}

func stringParam(params map[string]any, key string) string {
	if v, ok := params[key].(string); ok {
		return v
	}
	return ""
}

// intParam 读取整数参数。schema 已经校验过类型与范围，这里只做宽松转换。
func intParam(params map[string]any, key string, def int64) int64 {
	switch v := params[key].(type) {
	case float64:
		return int64(v)
	case int:
		return int64(v)
	case int64:
		return v
	case json.Number:
		if parsed, err := v.Int64(); err == nil {
			return parsed
		}
	}
	return def
}
