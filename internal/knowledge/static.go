package knowledge

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Provider 定义知识库检索的通用接口。
type Provider interface {
	Query(input string) []Snippet
}

// Snippet 描述可供大模型引用的一段知识。
type Snippet struct {
	Title    string   `json:"title"`
	Content  string   `json:"content"`
	Keywords []string `json:"keywords"`
	Tags     []string `json:"tags"`
}

// StaticProvider 基于静态条目做关键词匹配检索。
type StaticProvider struct {
	items      []Snippet
	maxResults int
}

// NewStaticProvider 创建静态知识库实例。
func NewStaticProvider(items []Snippet, maxResults int) *StaticProvider {
	if maxResults <= 0 {
		maxResults = 3
	}
	return &StaticProvider{
		items:      items,
		maxResults: maxResults,
	}
}

// NewAuctionProvider 返回内置的拍卖业务知识库。条目覆盖竞拍、创建拍卖
// 与提现三类高频问题。
func NewAuctionProvider(maxResults int) *StaticProvider {
	return NewStaticProvider(auctionSnippets, maxResults)
}

// LoadStaticProvider 从 JSON 文件加载知识条目，用于在不改代码的情况下
// 扩充知识库。
func LoadStaticProvider(path string, maxResults int) (*StaticProvider, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("知识库文件路径不能为空")
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("解析知识库路径失败: %w", err)
	}

	file, err := os.Open(absPath)
	if err != nil {
		return nil, fmt.Errorf("读取知识库文件失败: %w", err)
	}
	defer file.Close()

	var entries []Snippet
	if err := json.NewDecoder(file).Decode(&entries); err != nil {
		return nil, fmt.Errorf("解析知识库文件失败: %w", err)
	}

	return NewStaticProvider(entries, maxResults), nil
}

// Query 根据用户输入进行简单的关键词匹配。
func (p *StaticProvider) Query(input string) []Snippet {
	if p == nil {
		return nil
	}

	input = strings.ToLower(strings.TrimSpace(input))

	results := make([]Snippet, 0, p.maxResults)
	for _, item := range p.items {
		if matches(item, input) {
			results = append(results, item)
			if len(results) >= p.maxResults {
				break
			}
		}
	}
	return results
}

func matches(snippet Snippet, input string) bool {
	if len(snippet.Keywords) == 0 {
		return true
	}
	for _, keyword := range snippet.Keywords {
		normalized := strings.ToLower(strings.TrimSpace(keyword))
		if normalized == "" {
			continue
		}
		if strings.Contains(input, normalized) {
			return true
		}
	}
	for _, tag := range snippet.Tags {
		normalized := strings.ToLower(strings.TrimSpace(tag))
		if normalized == "" {
			continue
		}
		if strings.Contains(input, normalized) {
			return true
		}
	}
	return false
}

var auctionSnippets = []Snippet{
	{
		Title:    "Placing bids",
		Content:  "A bid must exceed the current highest bid by the auction's minimum increment (default 5%). Bids placed in the final minutes extend the auction by the extension window. Outbid funds become withdrawable, they are never returned automatically.",
		Keywords: []string{"bid", "outbid", "increment", "extend"},
		Tags:     []string{"placeBid"},
	},
	{
		Title:    "Creating auctions",
		Content:  "Creating an auction mints the NFT and opens bidding. Duration defaults to 24 hours, royalties default to 2.5% and are capped at 10%. The reserve price is hidden from bidders until it is met.",
		Keywords: []string{"create", "mint", "sell", "royalt", "reserve"},
		Tags:     []string{"createAuction"},
	},
	{
		Title:    "Withdrawing funds",
		Content:  "Outbid amounts accumulate in a pending-returns ledger per address. Withdrawals always pull the full pending balance in one transaction. A withdrawal with nothing pending is a no-op and costs no gas.",
		Keywords: []string{"withdraw", "refund", "pending", "funds"},
		Tags:     []string{"withdraw"},
	},
	{
		Title:    "Network",
		Content:  "The auction contract lives on Base Sepolia (chain id 84532). Amounts are quoted in ETH and converted to wei on-chain. Testnet ETH can be obtained from the Base Sepolia faucet.",
		Keywords: []string{"network", "chain", "base", "sepolia", "gas", "faucet"},
	},
}

// Ensure StaticProvider 实现 Provider 接口。
var _ Provider = (*StaticProvider)(nil)
