package auction

import (
	"bytes"
	"context"
	"math/big"
	"strings"
	"testing"
	"time"

	"BidToEarn-Agent/internal/chain"
	xerrors "BidToEarn-Agent/internal/errors"

	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
)

type fakeWallet struct {
	addr    common.Address
	network chain.Network

	sent     []chain.TxRequest
	txHash   common.Hash
	receipt  *coretypes.Receipt
	readFn   func(chain.ReadCall) ([]byte, error)
	reads    int
	sendErr  error
	readErrs error
}

func newFakeWallet() *fakeWallet {
	return &fakeWallet{
		addr:    common.HexToAddress("0x00000000000000000000000000000000000000aa"),
		network: chain.Network{ID: "base-sepolia", ChainID: big.NewInt(ChainID), Name: "Base Sepolia"},
		txHash:  common.HexToHash("0xdeadbeef"),
		receipt: &coretypes.Receipt{
			Status:      coretypes.ReceiptStatusSuccessful,
			BlockNumber: big.NewInt(42),
		},
	}
}

func (w *fakeWallet) Address() common.Address { return w.addr }

func (w *fakeWallet) Network() chain.Network { return w.network }

func (w *fakeWallet) SendTransaction(_ context.Context, tx chain.TxRequest) (common.Hash, error) {
	if w.sendErr != nil {
		return common.Hash{}, w.sendErr
	}
	w.sent = append(w.sent, tx)
	return w.txHash, nil
}

func (w *fakeWallet) WaitForReceipt(_ context.Context, _ common.Hash) (*coretypes.Receipt, error) {
	return w.receipt, nil
}

func (w *fakeWallet) CallContract(_ context.Context, call chain.ReadCall) ([]byte, error) {
	w.reads++
	if w.readErrs != nil {
		return nil, w.readErrs
	}
	if w.readFn == nil {
		return nil, nil
	}
	return w.readFn(call)
}

func (w *fakeWallet) Export(_ context.Context) ([]byte, error) { return []byte("{}"), nil }

func mustProvider(t *testing.T, w *fakeWallet) *Provider {
	t.Helper()
	p, err := NewProvider(w)
	if err != nil {
		t.Fatalf("NewProvider: %v", err)
	}
	return p
}

func TestActionsCatalogStable(t *testing.T) {
	p := mustProvider(t, newFakeWallet())

	first := p.Actions()
	second := p.Actions()
	if len(first) != 8 {
		t.Fatalf("expected 8 actions, got %d", len(first))
	}
	for i := range first {
		if first[i].Name != second[i].Name {
			t.Fatalf("catalog order changed between calls: %s vs %s", first[i].Name, second[i].Name)
		}
	}
	for i := 1; i < len(first); i++ {
		if first[i-1].Name >= first[i].Name {
			t.Fatalf("catalog not sorted: %s before %s", first[i-1].Name, first[i].Name)
		}
	}
}

func TestSupportsNetwork(t *testing.T) {
	p := mustProvider(t, newFakeWallet())

	if !p.SupportsNetwork(chain.Network{ChainID: big.NewInt(ChainID)}) {
		t.Fatal("expected contract network to be supported")
	}
	if p.SupportsNetwork(chain.Network{ChainID: big.NewInt(1)}) {
		t.Fatal("mainnet should not be supported")
	}
	if p.SupportsNetwork(chain.Network{}) {
		t.Fatal("network without chain id should not be supported")
	}
}

func TestExecuteUnknownAction(t *testing.T) {
	p := mustProvider(t, newFakeWallet())

	_, err := p.Execute(context.Background(), "transferAuction", nil)
	if xerrors.CodeOf(err) != xerrors.CodeUnknownAction {
		t.Fatalf("expected CodeUnknownAction, got %v", err)
	}
}

func TestExecuteInvalidParamsNamesFields(t *testing.T) {
	p := mustProvider(t, newFakeWallet())

	_, err := p.Execute(context.Background(), ActionPlaceBid, map[string]any{
		"bidAmount": "0.5",
	})
	if xerrors.CodeOf(err) != xerrors.CodeInvalidParameters {
		t.Fatalf("expected CodeInvalidParameters, got %v", err)
	}
	if !strings.Contains(err.Error(), "tokenId") {
		t.Fatalf("error should name the missing field, got %q", err.Error())
	}
}

func TestPlaceBidSendsValueInWei(t *testing.T) {
	w := newFakeWallet()
	p := mustProvider(t, w)

	out, err := p.Execute(context.Background(), ActionPlaceBid, map[string]any{
		"tokenId":   float64(7),
		"bidAmount": "0.1",
	})
	if err != nil {
		t.Fatalf("placeBid: %v", err)
	}
	if len(w.sent) != 1 {
		t.Fatalf("expected exactly one transaction, got %d", len(w.sent))
	}

	wantValue, _ := new(big.Int).SetString("100000000000000000", 10)
	if w.sent[0].Value.Cmp(wantValue) != 0 {
		t.Fatalf("expected tx value %s wei, got %s", wantValue, w.sent[0].Value)
	}
	if w.sent[0].To != contractAddr() {
		t.Fatalf("transaction sent to %s, want contract", w.sent[0].To.Hex())
	}
	if !strings.Contains(out, w.txHash.Hex()) {
		t.Fatalf("response should contain the transaction hash, got %q", out)
	}
}

func TestCreateAuctionAppliesDefaults(t *testing.T) {
	w := newFakeWallet()
	p := mustProvider(t, w)

	_, err := p.Execute(context.Background(), ActionCreateAuction, map[string]any{
		"minBid":       "0.01",
		"title":        "Test piece",
		"description":  "A test auction",
		"imageURI":     "ipfs://QmTest",
		"reservePrice": "0.05",
	})
	if err != nil {
		t.Fatalf("createAuction: %v", err)
	}
	if len(w.sent) != 1 {
		t.Fatalf("expected one transaction, got %d", len(w.sent))
	}

	contractABI, err := parsedABI()
	if err != nil {
		t.Fatal(err)
	}
	method := contractABI.Methods["createAuction"]
	args, err := method.Inputs.Unpack(w.sent[0].Data[4:])
	if err != nil {
		t.Fatalf("unpack createAuction args: %v", err)
	}

	if got := args[1].(*big.Int).Int64(); got != DefaultDurationSeconds {
		t.Fatalf("default duration = %d, want %d", got, DefaultDurationSeconds)
	}
	if got := args[2].(uint16); got != DefaultExtensionSeconds {
		t.Fatalf("default extension = %d, want %d", got, DefaultExtensionSeconds)
	}
	if got := args[3].(uint16); got != DefaultBidIncrementPercent {
		t.Fatalf("default increment = %d, want %d", got, DefaultBidIncrementPercent)
	}
}

func TestCreateAuctionRejectsExcessRoyalty(t *testing.T) {
	w := newFakeWallet()
	p := mustProvider(t, w)

	_, err := p.Execute(context.Background(), ActionCreateAuction, map[string]any{
		"minBid":            "0.01",
		"title":             "Test",
		"description":       "Test",
		"imageURI":          "ipfs://QmTest",
		"reservePrice":      "0.05",
		"royaltyPercentage": float64(MaxRoyaltyPercent + 1),
	})
	if xerrors.CodeOf(err) != xerrors.CodeInvalidParameters {
		t.Fatalf("expected CodeInvalidParameters, got %v", err)
	}
	if len(w.sent) != 0 {
		t.Fatal("no transaction should be sent for invalid royalty")
	}
}

func TestWithdrawWithNothingPending(t *testing.T) {
	w := newFakeWallet()
	contractABI, err := parsedABI()
	if err != nil {
		t.Fatal(err)
	}
	w.readFn = func(_ chain.ReadCall) ([]byte, error) {
		return contractABI.Methods["pendingWithdrawals"].Outputs.Pack(big.NewInt(0))
	}
	p := mustProvider(t, w)

	out, err := p.Execute(context.Background(), ActionWithdraw, map[string]any{})
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if len(w.sent) != 0 {
		t.Fatal("zero balance must not produce a transaction")
	}
	if !strings.Contains(out, "no withdrawable funds") {
		t.Fatalf("unexpected response: %q", out)
	}
}

func TestWithdrawQueriesPendingWithdrawalsSelector(t *testing.T) {
	w := newFakeWallet()
	contractABI, err := parsedABI()
	if err != nil {
		t.Fatal(err)
	}
	var readData []byte
	w.readFn = func(call chain.ReadCall) ([]byte, error) {
		readData = call.Data
		return contractABI.Methods["pendingWithdrawals"].Outputs.Pack(big.NewInt(0))
	}
	p := mustProvider(t, w)

	if _, err := p.Execute(context.Background(), ActionWithdraw, map[string]any{}); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if len(readData) < 4 {
		t.Fatalf("withdraw must issue a balance read, got %d bytes", len(readData))
	}
	// 合约暴露的 getter 是 pendingWithdrawals(address)，选择器 0xf3f43703。
	want := common.Hex2Bytes("f3f43703")
	if !bytes.Equal(readData[:4], want) {
		t.Fatalf("balance read selector = 0x%x, want 0x%x", readData[:4], want)
	}
	if !bytes.Equal(readData[:4], contractABI.Methods["pendingWithdrawals"].ID) {
		t.Fatalf("selector does not match the ABI method id: 0x%x", readData[:4])
	}
}

func TestWithdrawSubmitsWhenFundsPending(t *testing.T) {
	w := newFakeWallet()
	contractABI, err := parsedABI()
	if err != nil {
		t.Fatal(err)
	}
	pending, _ := new(big.Int).SetString("1500000000000000000", 10)
	w.readFn = func(_ chain.ReadCall) ([]byte, error) {
		return contractABI.Methods["pendingWithdrawals"].Outputs.Pack(pending)
	}
	p := mustProvider(t, w)

	out, err := p.Execute(context.Background(), ActionWithdraw, map[string]any{})
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if len(w.sent) != 1 {
		t.Fatalf("expected one withdraw transaction, got %d", len(w.sent))
	}
	if !strings.Contains(out, "1.5 ETH") {
		t.Fatalf("response should state the withdrawn amount, got %q", out)
	}
}

func TestCheckWithdrawableAmountNeverSendsTransaction(t *testing.T) {
	w := newFakeWallet()
	contractABI, err := parsedABI()
	if err != nil {
		t.Fatal(err)
	}
	pending, _ := new(big.Int).SetString("250000000000000000", 10)
	w.readFn = func(_ chain.ReadCall) ([]byte, error) {
		return contractABI.Methods["pendingWithdrawals"].Outputs.Pack(pending)
	}
	p := mustProvider(t, w)

	out, err := p.Execute(context.Background(), ActionCheckWithdrawable, map[string]any{})
	if err != nil {
		t.Fatalf("checkWithdrawableAmount: %v", err)
	}
	if len(w.sent) != 0 {
		t.Fatal("balance check must not send a transaction")
	}
	if !strings.Contains(out, "0.25 ETH") {
		t.Fatalf("response should state the available amount, got %q", out)
	}

	// 余额为零时给出明确提示。
	w.readFn = func(_ chain.ReadCall) ([]byte, error) {
		return contractABI.Methods["pendingWithdrawals"].Outputs.Pack(big.NewInt(0))
	}
	out, err = p.Execute(context.Background(), ActionCheckWithdrawable, map[string]any{})
	if err != nil {
		t.Fatalf("checkWithdrawableAmount: %v", err)
	}
	if !strings.Contains(out, "no funds available") {
		t.Fatalf("unexpected zero-balance response: %q", out)
	}
}

func TestViewActiveAuctionsFiltersInactive(t *testing.T) {
	w := newFakeWallet()
	contractABI, err := parsedABI()
	if err != nil {
		t.Fatal(err)
	}

	endTime := big.NewInt(time.Now().Unix() + 120)
	makeAuction := func(tokenID int64, title string, active bool) []byte {
		details := AuctionDetails{
			TokenId:                   big.NewInt(tokenID),
			Seller:                    w.addr,
			MinBid:                    big.NewInt(10000000000000000),
			HighestBid:                big.NewInt(0),
			HighestBidder:             common.Address{},
			EndTime:                   endTime,
			ExtensionTime:             big.NewInt(300),
			MinBidIncrementPercentage: 500,
			IsActive:                  active,
			IsEmergency:               false,
		}
		metadata := AuctionMetadata{
			Title:             title,
			Description:       "test",
			ImageURI:          "ipfs://QmTest",
			RoyaltyPercentage: big.NewInt(250),
			ReservePrice:      big.NewInt(0),
			ReservePriceMet:   false,
		}
		packed, err := contractABI.Methods["getAuction"].Outputs.Pack(details, metadata, []common.Address{})
		if err != nil {
			t.Fatalf("pack getAuction outputs: %v", err)
		}
		return packed
	}

	w.readFn = func(call chain.ReadCall) ([]byte, error) {
		switch {
		case bytes.HasPrefix(call.Data, contractABI.Methods["getUserAuctions"].ID):
			return contractABI.Methods["getUserAuctions"].Outputs.Pack(
				[]*big.Int{big.NewInt(3), big.NewInt(7)},
			)
		case bytes.HasPrefix(call.Data, contractABI.Methods["getAuction"].ID):
			args, err := contractABI.Methods["getAuction"].Inputs.Unpack(call.Data[4:])
			if err != nil {
				return nil, err
			}
			tokenID := args[0].(*big.Int).Int64()
			if tokenID == 3 {
				return makeAuction(3, "Live piece", true), nil
			}
			return makeAuction(7, "Closed piece", false), nil
		default:
			t.Fatalf("unexpected read call: 0x%x", call.Data[:4])
			return nil, nil
		}
	}
	p := mustProvider(t, w)

	out, err := p.Execute(context.Background(), ActionViewActiveAuctions, map[string]any{})
	if err != nil {
		t.Fatalf("viewActiveAuctions: %v", err)
	}
	if len(w.sent) != 0 {
		t.Fatal("view actions must not send transactions")
	}
	if !strings.Contains(out, "Live piece") {
		t.Fatalf("active auction missing from output: %q", out)
	}
	if strings.Contains(out, "Closed piece") {
		t.Fatalf("inactive auction must be filtered out: %q", out)
	}
	if !strings.Contains(out, "Found 1 active auction(s)") {
		t.Fatalf("summary line missing: %q", out)
	}
}

func TestViewUserAuctionsRendersTokenIDs(t *testing.T) {
	w := newFakeWallet()
	contractABI, err := parsedABI()
	if err != nil {
		t.Fatal(err)
	}
	w.readFn = func(_ chain.ReadCall) ([]byte, error) {
		return contractABI.Methods["getUserAuctions"].Outputs.Pack(
			[]*big.Int{big.NewInt(3), big.NewInt(11)},
		)
	}
	p := mustProvider(t, w)

	out, err := p.Execute(context.Background(), ActionViewUserAuctions, map[string]any{
		"userAddress": "0x00000000000000000000000000000000000000bb",
	})
	if err != nil {
		t.Fatalf("viewUserAuctions: %v", err)
	}
	if !strings.Contains(out, "3") || !strings.Contains(out, "11") {
		t.Fatalf("expected token ids in output, got %q", out)
	}
	if len(w.sent) != 0 {
		t.Fatal("view actions must not send transactions")
	}
}

func TestRevertedTransactionSurfacesError(t *testing.T) {
	w := newFakeWallet()
	w.receipt = &coretypes.Receipt{Status: coretypes.ReceiptStatusFailed, BlockNumber: big.NewInt(42)}
	p := mustProvider(t, w)

	_, err := p.Execute(context.Background(), ActionPlaceBid, map[string]any{
		"tokenId":   float64(1),
		"bidAmount": "0.1",
	})
	if xerrors.CodeOf(err) != xerrors.CodeUpstream {
		t.Fatalf("expected CodeUpstream for reverted tx, got %v", err)
	}
	if !strings.Contains(err.Error(), w.txHash.Hex()) {
		t.Fatalf("error should carry the tx hash, got %q", err.Error())
	}
}
