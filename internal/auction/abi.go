package auction

import (
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// 合约部署在 Base Sepolia 测试网上。
const (
	// ContractAddress 是 BidToEarn 合约地址。
	ContractAddress = "0x7877Ac5C8158AB46ad608CB6990eCcB2A5265718"
	// ChainID 是 Base Sepolia 的链标识。
	ChainID = 84532
)

const metadataComponents = `[
  {"name": "title", "type": "string"},
  {"name": "description", "type": "string"},
  {"name": "imageURI", "type": "string"},
  {"name": "royaltyPercentage", "type": "uint96"},
  {"name": "reservePrice", "type": "uint96"},
  {"name": "reservePriceMet", "type": "bool"}
]`

const detailsComponents = `[
  {"name": "tokenId", "type": "uint256"},
  {"name": "seller", "type": "address"},
  {"name": "minBid", "type": "uint256"},
  {"name": "highestBid", "type": "uint256"},
  {"name": "highestBidder", "type": "address"},
  {"name": "endTime", "type": "uint256"},
  {"name": "extensionTime", "type": "uint256"},
  {"name": "minBidIncrementPercentage", "type": "uint16"},
  {"name": "isActive", "type": "bool"},
  {"name": "isEmergency", "type": "bool"}
]`

var contractABIJSON = `[
  {"type": "function", "name": "createAuction", "stateMutability": "nonpayable",
   "inputs": [
     {"name": "minBid", "type": "uint256"},
     {"name": "duration", "type": "uint256"},
     {"name": "extensionTime", "type": "uint16"},
     {"name": "bidIncrementPercentage", "type": "uint16"},
     {"name": "metadata", "type": "tuple", "components": ` + metadataComponents + `}
   ],
   "outputs": []},
  {"type": "function", "name": "placeBid", "stateMutability": "payable",
   "inputs": [{"name": "tokenId", "type": "uint256"}],
   "outputs": []},
  {"type": "function", "name": "withdraw", "stateMutability": "nonpayable",
   "inputs": [], "outputs": []},
  {"type": "function", "name": "pendingWithdrawals", "stateMutability": "view",
   "inputs": [{"name": "user", "type": "address"}],
   "outputs": [{"name": "amount", "type": "uint256"}]},
  {"type": "function", "name": "getAuction", "stateMutability": "view",
   "inputs": [{"name": "tokenId", "type": "uint256"}],
   "outputs": [
     {"name": "details", "type": "tuple", "components": ` + detailsComponents + `},
     {"name": "metadata", "type": "tuple", "components": ` + metadataComponents + `},
     {"name": "bidders", "type": "address[]"}
   ]},
  {"type": "function", "name": "getUserAuctions", "stateMutability": "view",
   "inputs": [{"name": "user", "type": "address"}],
   "outputs": [{"name": "tokenIds", "type": "uint256[]"}]},
  {"type": "function", "name": "getUserBids", "stateMutability": "view",
   "inputs": [{"name": "user", "type": "address"}],
   "outputs": [{"name": "tokenIds", "type": "uint256[]"}]}
]`

var (
	abiOnce     sync.Once
	contractABI abi.ABI
	abiErr      error
)

// parsedABI returns the parsed contract ABI, parsing it once.
func parsedABI() (abi.ABI, error) {
	abiOnce.Do(func() {
		contractABI, abiErr = abi.JSON(strings.NewReader(contractABIJSON))
	})
	if abiErr != nil {
		return abi.ABI{}, fmt.Errorf("解析合约 ABI 失败: %w", abiErr)
	}
	return contractABI, nil
}

// contractAddr 返回解析好的合约地址。
func contractAddr() common.Address {
	return common.HexToAddress(ContractAddress)
}

// AuctionMetadata 对应合约中的 NFT 元数据元组。
type AuctionMetadata struct {
	Title             string   `json:"title"`
	Description       string   `json:"description"`
	ImageURI          string   `json:"imageURI"`
	RoyaltyPercentage *big.Int `json:"royaltyPercentage"`
	ReservePrice      *big.Int `json:"reservePrice"`
	ReservePriceMet   bool     `json:"reservePriceMet"`
}

// AuctionDetails 对应合约中的拍卖状态元组。
type AuctionDetails struct {
	TokenId                   *big.Int       `json:"tokenId"`
	Seller                    common.Address `json:"seller"`
	MinBid                    *big.Int       `json:"minBid"`
	HighestBid                *big.Int       `json:"highestBid"`
	HighestBidder             common.Address `json:"highestBidder"`
	EndTime                   *big.Int       `json:"endTime"`
	ExtensionTime             *big.Int       `json:"extensionTime"`
	MinBidIncrementPercentage uint16         `json:"minBidIncrementPercentage"`
	IsActive                  bool           `json:"isActive"`
	IsEmergency               bool           `json:"isEmergency"`
}

// AuctionView 汇总 viewAuction 的查询结果。
type AuctionView struct {
	Details  AuctionDetails   `json:"details"`
	Metadata AuctionMetadata  `json:"metadata"`
	Bidders  []common.Address `json:"bidders"`
}
